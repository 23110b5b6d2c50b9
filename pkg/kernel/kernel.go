package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nlesc/mdstudio/pkg/apierr"
	"github.com/nlesc/mdstudio/pkg/authz"
	"github.com/nlesc/mdstudio/pkg/kernel/retry"
	"github.com/nlesc/mdstudio/pkg/router"
	"github.com/nlesc/mdstudio/pkg/token"
	"golang.org/x/sync/errgroup"
)

// TokenVerifier is the subset of token.Service the kernel needs to
// authenticate a call.
type TokenVerifier interface {
	Verify(tokenStr string) (*token.Claims, error)
}

// CallRecorder observes endpoint traffic for a metrics backend; a nil
// Metrics in Config leaves the kernel's call pipeline unobserved.
type CallRecorder interface {
	RecordCall(ctx context.Context, uri string, ok bool, dur time.Duration)
	RecordRegistration(ctx context.Context, uri string)
}

// Config parameterizes a SessionKernel: the router endpoint to join, the
// dependency URIs that must answer before the session reaches READY, and
// the default claims schema every endpoint validates against, in addition
// to any claim schema the endpoint names itself.
type Config struct {
	Realm              string
	Credentials        map[string]string
	Deps               []string
	DefaultClaimSchema string
	Backoff            retry.BackoffPolicy
	Metrics            CallRecorder
}

// wireRequest is the envelope every call payload is decoded from: the
// caller's signed claims token alongside the endpoint-specific body.
type wireRequest struct {
	Token string          `json:"_token"`
	Body  json.RawMessage `json:"body"`
}

// SessionKernel drives one component through its connection lifecycle and
// wraps every registered endpoint with the shared authenticate / validate-
// claims / authorize / validate-input / invoke / validate-output pipeline.
type SessionKernel struct {
	mu    sync.RWMutex
	state State

	cfg        Config
	transport  router.Router
	verifier   TokenVerifier
	validator  Validator
	authorizer *authz.Authorizer
	component  Component

	endpoints map[string]*EndpointSpec
	attempt   int
}

// Validator is the subset of *validate.Validator the kernel depends on,
// named locally so this package does not import validate's jsonschema
// dependency just to describe the shape it needs.
type Validator interface {
	ValidateRef(ctx context.Context, ref string, value any) *apierr.Error
}

// New constructs a SessionKernel. transport, verifier, validator and
// authorizer are shared across every component in a process; component is
// the one this kernel instance drives.
func New(cfg Config, transport router.Router, verifier TokenVerifier, validator Validator, authorizer *authz.Authorizer, component Component) *SessionKernel {
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = retry.BackoffPolicy{PolicyID: "kernel-reconnect", BaseMs: 200, MaxMs: 30_000, MaxJitterMs: 250, MaxAttempts: 1 << 30}
	}
	return &SessionKernel{
		cfg:        cfg,
		transport:  transport,
		verifier:   verifier,
		validator:  validator,
		authorizer: authorizer,
		component:  component,
		endpoints:  make(map[string]*EndpointSpec),
		state:      StateDisconnected,
	}
}

// State returns the kernel's current lifecycle state.
func (k *SessionKernel) State() State {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

func (k *SessionKernel) setState(s State) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !canTransition(k.state, s) {
		return fmt.Errorf("kernel: illegal transition %s -> %s", k.state, s)
	}
	k.state = s
	return nil
}

// Register adds spec to this kernel's endpoint table and wires it through
// to the transport, behind the full verify-token / validate-claims /
// authorize / validate-input / invoke / validate-output pipeline. Call
// from Component.PreInit.
func (k *SessionKernel) Register(spec EndpointSpec) error {
	k.mu.Lock()
	k.endpoints[spec.URI] = &spec
	k.mu.Unlock()
	if k.cfg.Metrics != nil {
		k.cfg.Metrics.RecordRegistration(context.Background(), spec.URI)
	}
	return k.transport.Register(spec.URI, spec.Match, k.wrap(&spec))
}

// RegisterRaw registers handler directly on the transport, bypassing the
// verify-token/validate-claims/authorize pipeline entirely: for the
// handful of endpoints that ARE that pipeline's authentication and
// authorization machinery (auth's login/logout/sign/verify and
// authorize.* hooks), wrapping them would require the caller to already
// hold a token validated by the very endpoint that mints or checks it.
// handler still receives a HandlerFunc's shape for symmetry with Register,
// but is always invoked with a nil claims.
func (k *SessionKernel) RegisterRaw(uri string, match router.MatchPolicy, handler HandlerFunc) error {
	if k.cfg.Metrics != nil {
		k.cfg.Metrics.RecordRegistration(context.Background(), uri)
	}
	return k.transport.Register(uri, match, func(ctx context.Context, uri string, payload json.RawMessage) apierr.Envelope {
		start := time.Now()
		env := k.runRaw(ctx, handler, payload)
		if k.cfg.Metrics != nil {
			k.cfg.Metrics.RecordCall(ctx, uri, env.Error == nil, time.Since(start))
		}
		return env
	})
}

func (k *SessionKernel) runRaw(ctx context.Context, handler HandlerFunc, payload json.RawMessage) apierr.Envelope {
	result, err := handler(ctx, payload, nil)
	if err != nil {
		return apierr.Fail(apierr.New(apierr.KindHandlerError, "%s", err))
	}
	result, err = awaitIfNeeded(ctx, result)
	if err != nil {
		return apierr.Fail(apierr.New(apierr.KindHandlerError, "%s", err))
	}
	return apierr.Ok(result)
}

// Call is a thin passthrough to the shared transport, for components that
// need to call another component's endpoint (e.g. the workflow engine's
// RemoteRPCRunner).
func (k *SessionKernel) Call(ctx context.Context, uri string, token string, body json.RawMessage) (apierr.Envelope, error) {
	payload, err := json.Marshal(wireRequest{Token: token, Body: body})
	if err != nil {
		return apierr.Envelope{}, err
	}
	return k.transport.Call(ctx, uri, payload)
}

// Run drives the full lifecycle to READY and then blocks until ctx is
// cancelled, reconnecting with exponential backoff on transport failure.
func (k *SessionKernel) Run(ctx context.Context) error {
	for {
		err := k.runOnce(ctx)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		_ = k.setStateForce(StateDisconnected)
		delay := retry.ComputeBackoff(retry.BackoffParams{EffectID: k.cfg.Realm, AttemptIndex: k.attempt}, k.cfg.Backoff)
		k.attempt++

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (k *SessionKernel) setStateForce(s State) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = s
	return nil
}

func (k *SessionKernel) runOnce(ctx context.Context) error {
	if err := k.setStateForce(StateConnecting); err != nil {
		return err
	}

	if k.component != nil {
		if err := k.component.PreInit(ctx, k); err != nil {
			return fmt.Errorf("kernel: pre-init: %w", err)
		}
	}

	if err := k.setState(StateJoined); err != nil {
		return err
	}
	k.attempt = 0

	if k.component != nil {
		if err := k.component.OnInit(ctx, k); err != nil {
			return fmt.Errorf("kernel: on-init: %w", err)
		}
	}

	if err := k.setState(StateWaitingDeps); err != nil {
		return err
	}
	if err := k.waitDeps(ctx); err != nil {
		return fmt.Errorf("kernel: waiting for dependencies: %w", err)
	}

	if err := k.setState(StateReady); err != nil {
		return err
	}
	if k.component != nil {
		if err := k.component.OnRun(ctx, k); err != nil {
			return fmt.Errorf("kernel: on-run: %w", err)
		}
	}

	if err := k.setState(StateRunning); err != nil {
		return err
	}

	<-ctx.Done()
	_ = k.setStateForce(StateTeardown)
	return ctx.Err()
}

// waitDeps pings every configured dependency URI concurrently, cancelling
// the remaining pings on the first failure — the kernel's one genuine use
// of cancellation-on-first-error fan-out.
func (k *SessionKernel) waitDeps(ctx context.Context) error {
	if len(k.cfg.Deps) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, dep := range k.cfg.Deps {
		dep := dep
		g.Go(func() error {
			_, err := k.transport.Call(gctx, dep, nil)
			return err
		})
	}
	return g.Wait()
}

// wrap builds the router.Handler for spec: the shared seven-step pipeline
// (decode, authenticate, validate claims, authorize, validate input,
// invoke, validate output), timed and recorded through Config.Metrics when
// set.
func (k *SessionKernel) wrap(spec *EndpointSpec) router.Handler {
	inner := k.wrapInner(spec)
	return func(ctx context.Context, uri string, payload json.RawMessage) apierr.Envelope {
		start := time.Now()
		env := inner(ctx, uri, payload)
		if k.cfg.Metrics != nil {
			k.cfg.Metrics.RecordCall(ctx, uri, env.Error == nil, time.Since(start))
		}
		return env
	}
}

func (k *SessionKernel) wrapInner(spec *EndpointSpec) router.Handler {
	return func(ctx context.Context, uri string, payload json.RawMessage) apierr.Envelope {
		var req wireRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return apierr.Fail(apierr.New(apierr.KindInvalidInput, "malformed request envelope: %s", err))
		}

		claims, err := k.verifier.Verify(req.Token)
		if err != nil {
			if errors.Is(err, token.ErrExpired) {
				return apierr.ExpiredEnvelope("token expired")
			}
			return apierr.Fail(apierr.New(apierr.KindUnauthenticated, "%s", err))
		}

		var claimRefs []string
		if k.cfg.DefaultClaimSchema != "" {
			claimRefs = append(claimRefs, k.cfg.DefaultClaimSchema)
		}
		if spec.ClaimSchema != "" && spec.ClaimSchema != k.cfg.DefaultClaimSchema {
			claimRefs = append(claimRefs, spec.ClaimSchema)
		}
		if len(claimRefs) > 0 {
			claimsValue, err := toJSONValue(claims)
			if err != nil {
				return apierr.Fail(apierr.New(apierr.KindInvalidClaims, "%s", err))
			}
			for _, claimRef := range claimRefs {
				if verr := k.validator.ValidateRef(ctx, claimRef, claimsValue); verr != nil {
					if verr.Kind == apierr.KindInvalidInput {
						verr.Kind = apierr.KindInvalidClaims
					}
					return apierr.Fail(verr)
				}
			}
		}

		sess := authz.Session{AuthID: claims.Username, AuthRole: claims.Username, SessionID: claims.SessionID, Groups: claims.Groups}
		decision := k.authorize(ctx, spec, sess, uri, claims)
		if !decision.Allow {
			return apierr.Fail(apierr.New(apierr.KindUnauthorized, "not authorized for %s", uri))
		}
		if k.component != nil && !k.component.AuthorizeRequest(ctx, uri, claims) {
			return apierr.Fail(apierr.New(apierr.KindUnauthorized, "component denied %s", uri))
		}

		if spec.InputSchema != "" {
			bodyValue, err := decodeJSON(req.Body)
			if err != nil {
				return apierr.Fail(apierr.New(apierr.KindInvalidInput, "%s", err))
			}
			if verr := k.validator.ValidateRef(ctx, spec.InputSchema, bodyValue); verr != nil {
				return apierr.Fail(verr)
			}
		}

		result, err := spec.Handler(ctx, req.Body, claims)
		if err != nil {
			return apierr.Fail(apierr.New(apierr.KindHandlerError, "%s", err))
		}
		result, err = awaitIfNeeded(ctx, result)
		if err != nil {
			return apierr.Fail(apierr.New(apierr.KindHandlerError, "%s", err))
		}

		env := apierr.Ok(result)
		if spec.OutputSchema != "" {
			resultValue, verr2 := toJSONValue(result)
			if verr2 == nil {
				if verr := k.validator.ValidateRef(ctx, spec.OutputSchema, resultValue); verr != nil {
					if verr.Kind == apierr.KindInvalidInput {
						verr.Kind = apierr.KindInvalidOutput
					}
					env = env.WithWarning(verr)
				}
			}
		}
		return env
	}
}

// awaitIfNeeded resolves result through Awaitable.AwaitAny if the handler
// returned a *Future[T] instead of a plain value, otherwise returns it
// unchanged.
func awaitIfNeeded(ctx context.Context, result any) (any, error) {
	if awaitable, ok := result.(Awaitable); ok {
		return awaitable.AwaitAny(ctx)
	}
	return result, nil
}

func (k *SessionKernel) authorize(ctx context.Context, spec *EndpointSpec, sess authz.Session, uri string, claims *token.Claims) authz.Decision {
	switch spec.Ring {
	case authz.RingAdmin:
		return k.authorizer.AuthorizeAdmin(ctx, sess, uri, authz.ActionCall)
	case authz.RingRing0:
		return k.authorizer.AuthorizeRing0(ctx, sess, uri, authz.ActionCall)
	case authz.RingOAuth:
		return k.authorizer.AuthorizeOAuth(ctx, sess, uri, authz.ActionCall, claims.AccessToken)
	case authz.RingUser:
		return k.authorizer.AuthorizeUser(ctx, sess, uri, authz.ActionCall)
	default:
		return k.authorizer.AuthorizePublic(ctx, sess, uri, authz.ActionCall)
	}
}

// decodeJSON decodes raw into a generic JSON value (map/slice/json.Number),
// the shape santhosh-tekuri/jsonschema expects, preserving number formatting.
func decodeJSON(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// toJSONValue round-trips a Go struct through JSON so it can be validated
// against a jsonschema.Schema, which only understands generic JSON values.
func toJSONValue(v any) (any, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeJSON(body)
}
