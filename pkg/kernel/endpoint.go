package kernel

import (
	"context"
	"encoding/json"

	"github.com/nlesc/mdstudio/pkg/authz"
	"github.com/nlesc/mdstudio/pkg/router"
	"github.com/nlesc/mdstudio/pkg/token"
)

// HandlerFunc implements one endpoint. It may return a plain value or a
// *Future[any] (see future.go); the kernel's call pipeline awaits the
// latter before validating its output.
type HandlerFunc func(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error)

// EndpointSpec is the declarative registration record captured at
// component construction, replacing a decorator-captured-metadata style
// registry: every endpoint's schemas, scope and match policy are plain
// struct fields a test can construct directly, with nothing hidden behind
// reflection.
type EndpointSpec struct {
	URI          string
	Match        router.MatchPolicy
	InputSchema  string // endpoint:// ref
	OutputSchema string // endpoint:// ref
	ClaimSchema  string // claims:// ref, merged with the kernel's default claim schema
	Ring         authz.Ring
	Handler      HandlerFunc
}

// Component is implemented by each service (auth, schema, workflow, ...)
// embedded in a session kernel. Composition over inheritance: a component
// is whatever struct implements these four methods, not a subclass of a
// base session type.
type Component interface {
	// PreInit runs before the transport connects; typically endpoint
	// registration.
	PreInit(ctx context.Context, k *SessionKernel) error
	// OnInit runs once the session has joined, before dependencies are
	// awaited.
	OnInit(ctx context.Context, k *SessionKernel) error
	// OnRun runs once the session reaches READY.
	OnRun(ctx context.Context, k *SessionKernel) error
	// AuthorizeRequest is consulted by the call pipeline in addition to
	// the shared Authorizer, for component-specific checks (e.g. the
	// auth service's ring0 self-checks). Returning false denies the
	// call outright.
	AuthorizeRequest(ctx context.Context, uri string, claims *token.Claims) bool
}
