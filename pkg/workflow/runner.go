package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nlesc/mdstudio/pkg/apierr"
)

// TaskRunner executes one node's work and must be safely callable from a
// goroutine the engine's single-consumer loop spawned and does not itself
// block on. Cancel is advisory: Run's ctx is already cancelled by the time
// Cancel is invoked, and implementations that cannot interrupt in-flight
// work may treat it as a no-op.
type TaskRunner interface {
	Run(ctx context.Context, node *Node, input map[string]any) (map[string]any, error)
	Cancel(ctx context.Context, node *Node) error
}

// FuncRunner adapts a plain Go function into a TaskRunner, for task types
// implemented in-process.
type FuncRunner struct {
	fn func(ctx context.Context, node *Node, input map[string]any) (map[string]any, error)
}

// NewFuncRunner wraps fn as a TaskRunner.
func NewFuncRunner(fn func(ctx context.Context, node *Node, input map[string]any) (map[string]any, error)) *FuncRunner {
	return &FuncRunner{fn: fn}
}

func (r *FuncRunner) Run(ctx context.Context, node *Node, input map[string]any) (map[string]any, error) {
	return r.fn(ctx, node, input)
}

// Cancel is a no-op: a local callable has no transport-level handle to
// interrupt, so cancellation relies entirely on ctx being cancelled before
// Run returns.
func (r *FuncRunner) Cancel(ctx context.Context, node *Node) error { return nil }

// Caller is the subset of *kernel.SessionKernel a RemoteRPCRunner needs,
// named locally so this package does not import kernel just to describe
// the one method it calls through.
type Caller interface {
	Call(ctx context.Context, uri string, token string, body json.RawMessage) (apierr.Envelope, error)
}

// RemoteRPCRunner dispatches a task by calling another component's
// registered endpoint through the router, exercising the same call path
// external clients use.
type RemoteRPCRunner struct {
	caller    Caller
	uri       string
	signToken func() (string, error)
}

// NewRemoteRPCRunner builds a runner that calls uri via caller, signing
// each dispatch with signToken (typically token.Service.Sign bound to the
// workflow engine's own internal role).
func NewRemoteRPCRunner(caller Caller, uri string, signToken func() (string, error)) *RemoteRPCRunner {
	return &RemoteRPCRunner{caller: caller, uri: uri, signToken: signToken}
}

func (r *RemoteRPCRunner) Run(ctx context.Context, node *Node, input map[string]any) (map[string]any, error) {
	tok, err := r.signToken()
	if err != nil {
		return nil, fmt.Errorf("workflow: signing dispatch token: %w", err)
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("workflow: encoding task input: %w", err)
	}

	env, err := r.caller.Call(ctx, r.uri, tok, body)
	if err != nil {
		return nil, fmt.Errorf("workflow: calling %s: %w", r.uri, err)
	}
	if env.Error != nil {
		return nil, fmt.Errorf("workflow: %s returned %s: %s", r.uri, env.Error.Kind, env.Error.Message)
	}
	if env.Expired != "" {
		return nil, fmt.Errorf("workflow: %s: token expired: %s", r.uri, env.Expired)
	}

	out, err := toStringMap(env.Result)
	if err != nil {
		return nil, fmt.Errorf("workflow: decoding %s result: %w", r.uri, err)
	}
	return out, nil
}

// Cancel relies on the caller's ctx being cancelled before the call
// returns; the router contract has no separate cancel primitive.
func (r *RemoteRPCRunner) Cancel(ctx context.Context, node *Node) error { return nil }

func toStringMap(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}
