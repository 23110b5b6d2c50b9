package authsvc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nlesc/mdstudio/pkg/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBWaiter_RunsActionAfterOnlineEvent(t *testing.T) {
	transport := router.NewInProcess()
	ctx := context.Background()

	waiter, err := NewDBWaiter(ctx, transport, "mdstudio.db.endpoint.events.online", time.Second)
	require.NoError(t, err)

	ran := make(chan struct{})
	go func() {
		err := waiter.Await(ctx, func(ctx context.Context) error {
			close(ran)
			return nil
		})
		assert.NoError(t, err)
	}()

	require.NoError(t, transport.Publish(ctx, "mdstudio.db.endpoint.events.online", json.RawMessage(`{}`)))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("action was not run after db online event")
	}
}

func TestDBWaiter_TimesOutWithNoEvent(t *testing.T) {
	transport := router.NewInProcess()
	ctx := context.Background()

	waiter, err := NewDBWaiter(ctx, transport, "mdstudio.db.endpoint.events.online", 50*time.Millisecond)
	require.NoError(t, err)

	err = waiter.Await(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrDBNotReady)
}
