package router_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nlesc/mdstudio/pkg/apierr"
	"github.com/nlesc/mdstudio/pkg/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcess_CallExactMatch(t *testing.T) {
	r := router.NewInProcess()
	require.NoError(t, r.Register("mdstudio.echo", router.MatchExact, func(ctx context.Context, uri string, payload json.RawMessage) apierr.Envelope {
		return apierr.Ok(string(payload))
	}))

	env, err := r.Call(context.Background(), "mdstudio.echo", json.RawMessage(`"hi"`))
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, env.Result)
}

func TestInProcess_CallPrefixMatch(t *testing.T) {
	r := router.NewInProcess()
	require.NoError(t, r.Register("mdstudio.workflow.endpoint", router.MatchPrefix, func(ctx context.Context, uri string, payload json.RawMessage) apierr.Envelope {
		return apierr.Ok(uri)
	}))

	env, err := r.Call(context.Background(), "mdstudio.workflow.endpoint.run", nil)
	require.NoError(t, err)
	assert.Equal(t, "mdstudio.workflow.endpoint.run", env.Result)
}

func TestInProcess_CallUnregisteredReturnsError(t *testing.T) {
	r := router.NewInProcess()
	_, err := r.Call(context.Background(), "mdstudio.nope", nil)
	assert.Error(t, err)
}

func TestInProcess_PerURI_FIFO(t *testing.T) {
	r := router.NewInProcess()
	var order int32
	seen := make(chan int32, 10)

	require.NoError(t, r.Register("mdstudio.serial", router.MatchExact, func(ctx context.Context, uri string, payload json.RawMessage) apierr.Envelope {
		n := atomic.AddInt32(&order, 1)
		seen <- n
		return apierr.Ok(n)
	}))

	for i := 0; i < 5; i++ {
		_, err := r.Call(context.Background(), "mdstudio.serial", nil)
		require.NoError(t, err)
	}

	close(seen)
	var last int32
	for n := range seen {
		assert.Greater(t, n, last)
		last = n
	}
}

func TestInProcess_PublishSubscribe(t *testing.T) {
	r := router.NewInProcess()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := r.Subscribe(ctx, "mdstudio.topic")
	require.NoError(t, err)

	require.NoError(t, r.Publish(context.Background(), "mdstudio.topic", json.RawMessage(`{"a":1}`)))

	select {
	case ev := <-events:
		assert.Equal(t, "mdstudio.topic", ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}
