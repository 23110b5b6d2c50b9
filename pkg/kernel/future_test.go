package kernel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nlesc/mdstudio/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_AwaitReturnsResolvedValue(t *testing.T) {
	f, complete := kernel.NewFuture[int]()
	complete(42, nil)

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFuture_AwaitRespectsContextCancellation(t *testing.T) {
	f, _ := kernel.NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFuture_ThenRunsCallbackAfterResolution(t *testing.T) {
	f, complete := kernel.NewFuture[string]()
	done := make(chan struct{})
	var got string
	var gotErr error

	f.Then(func(v string, err error) {
		got, gotErr = v, err
		close(done)
	})

	complete("ready", errors.New("boom"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Then callback never ran")
	}
	assert.Equal(t, "ready", got)
	assert.EqualError(t, gotErr, "boom")
}
