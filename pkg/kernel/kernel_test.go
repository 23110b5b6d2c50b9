package kernel_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nlesc/mdstudio/pkg/apierr"
	"github.com/nlesc/mdstudio/pkg/authz"
	"github.com/nlesc/mdstudio/pkg/kernel"
	"github.com/nlesc/mdstudio/pkg/router"
	"github.com/nlesc/mdstudio/pkg/schema"
	"github.com/nlesc/mdstudio/pkg/token"
	"github.com/nlesc/mdstudio/pkg/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoInputSchema = `{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`

type echoComponent struct {
	ready chan struct{}
}

func (c *echoComponent) PreInit(ctx context.Context, k *kernel.SessionKernel) error {
	return k.Register(kernel.EndpointSpec{
		URI:         "mdstudio.echo.endpoint.say",
		Match:       router.MatchExact,
		InputSchema: "endpoint://mdstudio/echo/say",
		Ring:        authz.RingRing0,
		Handler: func(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
			var in struct {
				Msg string `json:"msg"`
			}
			if err := json.Unmarshal(req, &in); err != nil {
				return nil, err
			}
			return map[string]any{"echo": in.Msg}, nil
		},
	})
}

func (c *echoComponent) OnInit(ctx context.Context, k *kernel.SessionKernel) error { return nil }
func (c *echoComponent) OnRun(ctx context.Context, k *kernel.SessionKernel) error {
	close(c.ready)
	return nil
}
func (c *echoComponent) AuthorizeRequest(ctx context.Context, uri string, claims *token.Claims) bool {
	return true
}

func TestSessionKernel_EndToEndCallPipeline(t *testing.T) {
	ctx := context.Background()
	store := schema.NewMemoryStore()
	_, err := store.Upsert(ctx, schema.Key{Vendor: "mdstudio", Component: "echo", Type: schema.TypeEndpoint, Name: "say"}, json.RawMessage(echoInputSchema), "schema")
	require.NoError(t, err)

	validator := validate.New(store)
	authorizer := authz.New(nil, nil)
	authorizer.GrantRing0("db", "mdstudio.echo.endpoint")
	tokens := token.NewService()
	transport := router.NewInProcess()

	comp := &echoComponent{ready: make(chan struct{})}
	k := kernel.New(kernel.Config{Realm: "test"}, transport, tokens, validator, authorizer, comp)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go k.Run(runCtx)

	select {
	case <-comp.ready:
	case <-time.After(time.Second):
		t.Fatal("kernel never reached OnRun")
	}
	assert.Equal(t, kernel.StateRunning, k.State())

	signed, err := tokens.Sign(map[string]any{}, "db")
	require.NoError(t, err)

	payload, err := json.Marshal(struct {
		Token string          `json:"_token"`
		Body  json.RawMessage `json:"body"`
	}{Token: signed, Body: json.RawMessage(`{"msg":"hi"}`)})
	require.NoError(t, err)

	env, err := transport.Call(ctx, "mdstudio.echo.endpoint.say", payload)
	require.NoError(t, err)
	require.Nil(t, env.Error)
	result, ok := env.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", result["echo"])
}

func TestSessionKernel_RejectsUnauthenticatedCall(t *testing.T) {
	ctx := context.Background()
	store := schema.NewMemoryStore()
	validator := validate.New(store)
	authorizer := authz.New(nil, nil)
	tokens := token.NewService()
	transport := router.NewInProcess()

	comp := &echoComponent{ready: make(chan struct{})}
	k := kernel.New(kernel.Config{Realm: "test"}, transport, tokens, validator, authorizer, comp)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go k.Run(runCtx)

	select {
	case <-comp.ready:
	case <-time.After(time.Second):
		t.Fatal("kernel never reached OnRun")
	}

	payload, err := json.Marshal(struct {
		Token string          `json:"_token"`
		Body  json.RawMessage `json:"body"`
	}{Token: "not-a-real-token", Body: json.RawMessage(`{"msg":"hi"}`)})
	require.NoError(t, err)

	env, err := transport.Call(ctx, "mdstudio.echo.endpoint.say", payload)
	require.NoError(t, err)
	require.NotNil(t, env.Error)
	assert.Equal(t, apierr.KindUnauthenticated, env.Error.Kind)
}

// rawEchoComponent registers its endpoint through RegisterRaw, the
// bypass path auth bootstrap endpoints (login, sign, verify, authorize.*)
// need since they mint/check the very token Register's pipeline would
// otherwise demand from their caller first.
type rawEchoComponent struct {
	ready chan struct{}
}

func (c *rawEchoComponent) PreInit(ctx context.Context, k *kernel.SessionKernel) error {
	return k.RegisterRaw("mdstudio.echo.endpoint.raw", router.MatchExact, func(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
		var in struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(req, &in); err != nil {
			return nil, err
		}
		return map[string]any{"echo": in.Msg, "claims_is_nil": claims == nil}, nil
	})
}

func (c *rawEchoComponent) OnInit(ctx context.Context, k *kernel.SessionKernel) error { return nil }
func (c *rawEchoComponent) OnRun(ctx context.Context, k *kernel.SessionKernel) error {
	close(c.ready)
	return nil
}
func (c *rawEchoComponent) AuthorizeRequest(ctx context.Context, uri string, claims *token.Claims) bool {
	return true
}

func TestSessionKernel_RegisterRawBypassesTokenAndAuthz(t *testing.T) {
	ctx := context.Background()
	store := schema.NewMemoryStore()
	validator := validate.New(store)
	authorizer := authz.New(nil, nil)
	tokens := token.NewService()
	transport := router.NewInProcess()

	comp := &rawEchoComponent{ready: make(chan struct{})}
	k := kernel.New(kernel.Config{Realm: "test"}, transport, tokens, validator, authorizer, comp)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go k.Run(runCtx)

	select {
	case <-comp.ready:
	case <-time.After(time.Second):
		t.Fatal("kernel never reached OnRun")
	}

	// No _token/body envelope at all: a raw endpoint is called with its
	// plain request body, the way an unauthenticated caller reaches login.
	env, err := transport.Call(ctx, "mdstudio.echo.endpoint.raw", json.RawMessage(`{"msg":"hi"}`))
	require.NoError(t, err)
	require.Nil(t, env.Error)
	result, ok := env.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", result["echo"])
	assert.Equal(t, true, result["claims_is_nil"])
}
