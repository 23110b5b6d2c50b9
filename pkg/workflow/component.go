package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nlesc/mdstudio/pkg/authz"
	"github.com/nlesc/mdstudio/pkg/kernel"
	"github.com/nlesc/mdstudio/pkg/router"
	"github.com/nlesc/mdstudio/pkg/token"
)

// Config parameterizes a Component: the URI prefix its control endpoints
// register under.
type Config struct {
	URIPrefix string // e.g. "mdstudio.workflow.endpoint"
}

// RunnerFactory builds the TaskRunner table a freshly loaded graph
// dispatches into. It is a factory, not a fixed map, so a RemoteRPCRunner
// bound to this component's own kernel (for its signToken closure) can be
// constructed fresh per graph without a circular field initialization.
type RunnerFactory func() map[string]TaskRunner

// Component exposes the workflow engine's control surface (load, status,
// step-breakpoint, cancel) as a kernel.Component, one Engine per live run.
type Component struct {
	cfg         Config
	snapshotter *CollectionSnapshotter
	runners     RunnerFactory

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewComponent constructs a workflow Component.
func NewComponent(cfg Config, snapshotter *CollectionSnapshotter, runners RunnerFactory) *Component {
	return &Component{
		cfg:         cfg,
		snapshotter: snapshotter,
		runners:     runners,
		engines:     make(map[string]*Engine),
	}
}

func (c *Component) uri(name string) string {
	return c.cfg.URIPrefix + "." + name
}

// PreInit registers the control endpoints.
func (c *Component) PreInit(ctx context.Context, k *kernel.SessionKernel) error {
	endpoints := []kernel.EndpointSpec{
		{URI: c.uri("load"), Match: router.MatchExact, Ring: authz.RingRing0, Handler: c.handleLoad},
		{URI: c.uri("status"), Match: router.MatchExact, Ring: authz.RingRing0, Handler: c.handleStatus},
		{URI: c.uri("step-breakpoint"), Match: router.MatchExact, Ring: authz.RingRing0, Handler: c.handleStepBreakpoint},
		{URI: c.uri("cancel"), Match: router.MatchExact, Ring: authz.RingRing0, Handler: c.handleCancel},
	}
	for _, ep := range endpoints {
		if err := k.Register(ep); err != nil {
			return fmt.Errorf("workflow: register %s: %w", ep.URI, err)
		}
	}
	return nil
}

// OnInit is a no-op: no cross-component dependency is required to load
// and run a graph that was handed to us directly.
func (c *Component) OnInit(ctx context.Context, k *kernel.SessionKernel) error { return nil }

// OnRun is a no-op; every control endpoint is already registered.
func (c *Component) OnRun(ctx context.Context, k *kernel.SessionKernel) error { return nil }

// AuthorizeRequest defers entirely to the shared ring0 ACL; there is no
// additional component-specific check.
func (c *Component) AuthorizeRequest(ctx context.Context, uri string, claims *token.Claims) bool {
	return true
}

// loadRequest is the body of …workflow.endpoint.load: either a brand new
// graph definition, or a run id to resume from a persisted snapshot.
type loadRequest struct {
	RunID string `json:"run_id"`
	Graph *Graph `json:"graph,omitempty"`
}

func (c *Component) handleLoad(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in loadRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed load request: %w", err)
	}

	g := in.Graph
	if g == nil {
		if c.snapshotter == nil {
			return nil, fmt.Errorf("workflow: no graph supplied and no snapshotter configured to resume %q", in.RunID)
		}
		loaded, err := c.snapshotter.Load(ctx, in.RunID)
		if err != nil {
			return nil, fmt.Errorf("workflow: resuming %q: %w", in.RunID, err)
		}
		g = loaded
	}

	engine := NewEngine(g, c.runners(), c.snapshotter)
	c.mu.Lock()
	c.engines[g.RunID] = engine
	c.mu.Unlock()

	runCtx := context.Background()
	go func() {
		_ = engine.Run(runCtx)
	}()

	return map[string]string{"run_id": g.RunID}, nil
}

type runIDRequest struct {
	RunID string `json:"run_id"`
}

func (c *Component) engineFor(runID string) (*Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.engines[runID]
	if !ok {
		return nil, fmt.Errorf("workflow: no active run %q", runID)
	}
	return e, nil
}

func (c *Component) handleStatus(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in runIDRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed status request: %w", err)
	}
	e, err := c.engineFor(in.RunID)
	if err != nil {
		return nil, err
	}
	g := e.Graph()
	return map[string]any{"run_id": g.RunID, "is_running": g.IsRunning(), "nodes": g.Nodes}, nil
}

type stepBreakpointRequest struct {
	RunID string `json:"run_id"`
	NID   string `json:"nid"`
}

func (c *Component) handleStepBreakpoint(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in stepBreakpointRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed step-breakpoint request: %w", err)
	}
	e, err := c.engineFor(in.RunID)
	if err != nil {
		return nil, err
	}
	if err := e.StepBreakpoint(ctx, in.NID); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (c *Component) handleCancel(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in runIDRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed cancel request: %w", err)
	}
	e, err := c.engineFor(in.RunID)
	if err != nil {
		return nil, err
	}
	e.Cancel(ctx)
	return "cancelled", nil
}
