package workflow_test

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
	"github.com/nlesc/mdstudio/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callEndpoint(t *testing.T, transport router.Router, signed, uri string, body any) apierr.Envelope {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	payload, err := json.Marshal(struct {
		Token string          `json:"_token"`
		Body  json.RawMessage `json:"body"`
	}{Token: signed, Body: raw})
	require.NoError(t, err)

	env, err := transport.Call(context.Background(), uri, payload)
	require.NoError(t, err)
	return env
}

func TestComponent_LoadRunStatus(t *testing.T) {
	store := schema.NewMemoryStore()
	validator := validate.New(store)
	authorizer := authz.New(nil, nil)
	authorizer.GrantRing0("db", "mdstudio.workflow.endpoint")
	tokens := token.NewService()
	transport := router.NewInProcess()

	done := make(chan struct{})
	runners := workflow.RunnerFactory(func() map[string]workflow.TaskRunner {
		return map[string]workflow.TaskRunner{
			"noop": workflow.NewFuncRunner(func(ctx context.Context, n *workflow.Node, in map[string]any) (map[string]any, error) {
				return map[string]any{"ok": true}, nil
			}),
		}
	})

	comp := workflow.NewComponent(workflow.Config{URIPrefix: "mdstudio.workflow.endpoint"}, nil, runners)
	k := kernel.New(kernel.Config{Realm: "test"}, transport, tokens, validator, authorizer, comp)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = k.Run(runCtx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for k.State() != kernel.StateRunning {
		select {
		case <-deadline:
			t.Fatal("kernel never reached running")
		case <-time.After(5 * time.Millisecond):
		}
	}

	signed, err := tokens.Sign(map[string]any{}, "db")
	require.NoError(t, err)

	g := workflow.NewGraph("run-component")
	require.NoError(t, g.AddNode(&workflow.Node{NID: "A", TaskName: "A", TaskType: "noop"}))
	require.NoError(t, g.AddEdge(workflow.Edge{From: g.Root, To: "A"}))

	env := callEndpoint(t, transport, signed, "mdstudio.workflow.endpoint.load", map[string]any{"run_id": g.RunID, "graph": g})
	require.Nil(t, env.Error)

	assert.Eventually(t, func() bool {
		env := callEndpoint(t, transport, signed, "mdstudio.workflow.endpoint.status", map[string]any{"run_id": "run-component"})
		if env.Error != nil {
			return false
		}
		result, ok := env.Result.(map[string]any)
		if !ok {
			return false
		}
		running, _ := result["is_running"].(bool)
		return !running
	}, time.Second, 10*time.Millisecond)
}
