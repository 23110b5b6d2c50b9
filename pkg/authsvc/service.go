package authsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nlesc/mdstudio/pkg/authz"
	"github.com/nlesc/mdstudio/pkg/dbstore"
	"github.com/nlesc/mdstudio/pkg/kernel"
	"github.com/nlesc/mdstudio/pkg/router"
	"github.com/nlesc/mdstudio/pkg/token"
	glob "github.com/ryanuber/go-glob"
	"golang.org/x/crypto/bcrypt"
)

// Config parameterizes a Service beyond its collaborators: the domain
// blacklist and an optional localhost-only restriction enforced at login.
type Config struct {
	Realm           string
	URIPrefix       string // e.g. "mdstudio.auth.endpoint"
	DomainBlacklist []string
	LocalhostOnly   bool
	DBOnlineTopic   string
	DBWaitTimeout   time.Duration
}

// Service implements the login/logout/sign/verify/authorize surface as a
// kernel.Component, composing its persistence store, the token service,
// the authorizer and the transport the way the source platform's auth
// service composed its own collaborators. Schema validation of its
// endpoints is done by the session kernel, not by the Service.
type Service struct {
	cfg       Config
	store     *Store
	tokens    *token.Service
	authz     *authz.Authorizer
	transport router.Router

	mu         sync.Mutex
	statusBits map[string]bool
	dbWaiter   *DBWaiter
}

// New constructs a Service. tokens, az and transport are shared with the
// session kernel that drives this component.
func New(cfg Config, store *Store, tokens *token.Service, az *authz.Authorizer, transport router.Router) *Service {
	if cfg.DBWaitTimeout == 0 {
		cfg.DBWaitTimeout = 5 * time.Second
	}
	return &Service{
		cfg:        cfg,
		store:      store,
		tokens:     tokens,
		authz:      az,
		transport:  transport,
		statusBits: make(map[string]bool),
	}
}

func (s *Service) uri(name string) string {
	return s.cfg.URIPrefix + "." + name
}

// PreInit registers every endpoint this component exposes.
//
// login, logout, sign, verify and the five authorize.* hooks are the
// session kernel's own authentication/authorization machinery: they mint
// or check the very token the kernel's normal call pipeline would demand
// from their caller first, so wrapping them in that pipeline would make
// them uncallable (nobody can present a token validated by an endpoint
// they cannot yet call). They are registered raw, through
// k.RegisterRaw, matching the source platform's split between a raw
// wamp.register for these and a wrapped endpoint() for everything else.
func (s *Service) PreInit(ctx context.Context, k *kernel.SessionKernel) error {
	raw := []struct {
		uri     string
		handler kernel.HandlerFunc
	}{
		{s.uri("login"), s.handleLogin},
		{s.uri("logout"), s.handleLogout},
		{s.uri("sign"), s.handleSign},
		{s.uri("verify"), s.handleVerify},
		{s.uri("authorize.admin"), s.handleAuthorizeAdmin},
		{s.uri("authorize.ring0"), s.handleAuthorizeRing0},
		{s.uri("authorize.oauth"), s.handleAuthorizeOAuth},
		{s.uri("authorize.user"), s.handleAuthorizeUser},
		{s.uri("authorize.public"), s.handleAuthorizePublic},
	}
	for _, ep := range raw {
		if err := k.RegisterRaw(ep.uri, router.MatchExact, ep.handler); err != nil {
			return fmt.Errorf("authsvc: register %s: %w", ep.uri, err)
		}
	}

	endpoints := []kernel.EndpointSpec{
		{URI: s.uri("ring0.get-status"), Match: router.MatchExact, Ring: authz.RingRing0, Handler: s.handleGetStatus},
		{URI: s.uri("ring0.set-status"), Match: router.MatchExact, Ring: authz.RingRing0, Handler: s.handleSetStatus},
		{URI: s.uri("oauth.client.create"), Match: router.MatchExact, Ring: authz.RingUser, Handler: s.handleOAuthClientCreate},
		{URI: s.uri("oauth.client.getusername"), Match: router.MatchExact, Ring: authz.RingOAuth, Handler: s.handleOAuthGetUsername},
	}
	for _, ep := range endpoints {
		if err := k.Register(ep); err != nil {
			return fmt.Errorf("authsvc: register %s: %w", ep.URI, err)
		}
	}
	return nil
}

// OnInit mints a fresh token signing key, invalidating every token issued
// before this join, then subscribes the DBWaiter to the db-online
// announcement. Run after PreInit so the transport is already connected.
func (s *Service) OnInit(ctx context.Context, k *kernel.SessionKernel) error {
	s.tokens.Rotate()
	if s.cfg.DBOnlineTopic == "" {
		return nil
	}
	waiter, err := NewDBWaiter(ctx, s.transport, s.cfg.DBOnlineTopic, s.cfg.DBWaitTimeout)
	if err != nil {
		return fmt.Errorf("authsvc: subscribing to %s: %w", s.cfg.DBOnlineTopic, err)
	}
	s.dbWaiter = waiter
	return nil
}

// OnRun is a no-op; every endpoint is already registered and ready.
func (s *Service) OnRun(ctx context.Context, k *kernel.SessionKernel) error {
	return nil
}

// AuthorizeRequest is consulted in addition to the shared Authorizer.
// The auth service's own rings already cover every endpoint above, so
// there is nothing extra to check here.
func (s *Service) AuthorizeRequest(ctx context.Context, uri string, claims *token.Claims) bool {
	return true
}

// storeUpdate runs action immediately if the db component is already
// known online, otherwise defers it through the DBWaiter. Falls back to
// running immediately when no DBWaiter was configured (in-process tests).
func (s *Service) storeUpdate(ctx context.Context, action func(ctx context.Context) error) error {
	if s.dbWaiter == nil {
		return action(ctx)
	}
	return s.dbWaiter.Await(ctx, action)
}

// --- login / logout -----------------------------------------------------

// LoginRequest is the body of …auth.endpoint.login.
type LoginRequest struct {
	Realm   string       `json:"realm"`
	AuthID  string       `json:"authid"`
	Details LoginDetails `json:"details"`
}

// LoginDetails carries the router-supplied authentication method and
// whatever credential material it requires.
type LoginDetails struct {
	AuthMethod   string `json:"authmethod"`
	Password     string `json:"password,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	SessionID    string `json:"session_id"`
}

// LoginResult is the response to a successful login.
type LoginResult struct {
	Realm  string         `json:"realm"`
	Role   string         `json:"role"`
	Extra  map[string]any `json:"extra,omitempty"`
	Secret string         `json:"secret,omitempty"`
}

func (s *Service) handleLogin(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in LoginRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed login request: %w", err)
	}

	if err := s.checkDomain(in.AuthID); err != nil {
		return nil, err
	}

	switch in.Details.AuthMethod {
	case "ticket":
		return s.loginTicket(ctx, in)
	case "wampcra":
		return s.loginWampCRA(ctx, in)
	case "":
		return s.loginOAuthClientCredentials(ctx, in)
	default:
		return nil, ErrUnsupportedAuthMethod
	}
}

func (s *Service) checkDomain(authID string) error {
	if s.cfg.LocalhostOnly && !strings.HasSuffix(authID, "@localhost") {
		return ErrDomainBlocked
	}
	at := strings.LastIndex(authID, "@")
	if at < 0 {
		return nil
	}
	domain := authID[at+1:]
	for _, pattern := range s.cfg.DomainBlacklist {
		if glob.Glob(pattern, domain) {
			return ErrDomainBlocked
		}
	}
	return nil
}

func (s *Service) loginTicket(ctx context.Context, in LoginRequest) (*LoginResult, error) {
	user, err := s.store.userByUsername(ctx, in.AuthID)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Details.Password)) != nil {
		return nil, ErrBadCredentials
	}
	if err := s.createSession(ctx, user.ID, in.Details.SessionID, ""); err != nil {
		return nil, err
	}
	return &LoginResult{Realm: in.Realm, Role: user.Role, Extra: map[string]any{"groups": user.Groups}}, nil
}

func (s *Service) loginWampCRA(ctx context.Context, in LoginRequest) (*LoginResult, error) {
	user, err := s.store.userByUsername(ctx, in.AuthID)
	if err != nil {
		return nil, err
	}
	if err := s.createSession(ctx, user.ID, in.Details.SessionID, ""); err != nil {
		return nil, err
	}
	return &LoginResult{Realm: in.Realm, Role: user.Role, Secret: user.PasswordHash}, nil
}

func (s *Service) loginOAuthClientCredentials(ctx context.Context, in LoginRequest) (*LoginResult, error) {
	client, err := s.store.oauthClients.Get(ctx, in.AuthID)
	if err != nil {
		if err == dbstore.ErrNotFound {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if client.Secret != in.Details.ClientSecret {
		return nil, ErrBadCredentials
	}

	accessToken := uuid.NewString()
	if err := s.store.oauthSessions.Put(ctx, accessToken, dbstore.OAuthSessionRecord{
		AccessToken: accessToken,
		ClientID:    client.ClientID,
		IssuedAt:    time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	if err := s.createSession(ctx, client.UserID, in.Details.SessionID, accessToken); err != nil {
		return nil, err
	}
	return &LoginResult{Realm: in.Realm, Role: "oauth", Secret: accessToken}, nil
}

func (s *Service) createSession(ctx context.Context, userID, sessionID, accessToken string) error {
	rec := SessionRecord{UserID: userID, SessionID: sessionID, AccessToken: accessToken}
	return s.storeUpdate(ctx, func(ctx context.Context) error {
		return s.store.sessions.Put(ctx, sessionKey(userID, sessionID), rec)
	})
}

// LogoutRequest is the body of …auth.endpoint.logout.
type LogoutRequest struct {
	UserID    string `json:"uid"`
	SessionID string `json:"session_id"`
}

func (s *Service) handleLogout(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in LogoutRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed logout request: %w", err)
	}
	err := s.storeUpdate(ctx, func(ctx context.Context) error {
		return s.store.sessions.Delete(ctx, sessionKey(in.UserID, in.SessionID))
	})
	if err != nil {
		return nil, err
	}
	return "logged out", nil
}

// --- sign / verify -------------------------------------------------------

// SignRequest is the body of …auth.endpoint.sign: claims to embed, plus
// the internal role vouching for the request.
type SignRequest struct {
	Claims     map[string]any `json:"claims"`
	CallerRole string         `json:"caller_role"`
}

func (s *Service) handleSign(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in SignRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed sign request: %w", err)
	}
	signed, err := s.tokens.Sign(in.Claims, in.CallerRole)
	if err != nil {
		return nil, err
	}
	return map[string]string{"token": signed}, nil
}

// VerifyRequest is the body of …auth.endpoint.verify.
type VerifyRequest struct {
	Token string `json:"token"`
}

// VerifyResult mirrors the spec's tagged {claims}|{error}|{expired} shape
// as the endpoint's *result*, not an envelope-level failure: a caller
// checking token freshness needs to distinguish "expired" from "malformed"
// without the call itself failing.
type VerifyResult struct {
	Claims  *token.Claims `json:"claims,omitempty"`
	Error   string        `json:"error,omitempty"`
	Expired string        `json:"expired,omitempty"`
}

func (s *Service) handleVerify(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in VerifyRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed verify request: %w", err)
	}
	verified, err := s.tokens.Verify(in.Token)
	switch {
	case err == nil:
		return VerifyResult{Claims: verified}, nil
	case errors.Is(err, token.ErrExpired):
		return VerifyResult{Expired: "Request token has expired"}, nil
	default:
		return VerifyResult{Error: err.Error()}, nil
	}
}

// --- authorize.* hooks ---------------------------------------------------

// AuthorizeRequestBody is the shared body of every …auth.endpoint.authorize.*
// endpoint: the caller's session identity, the URI being checked, and the
// action attempted.
type AuthorizeRequestBody struct {
	Session     authz.Session `json:"session"`
	URI         string        `json:"uri"`
	Action      authz.Action  `json:"action"`
	AccessToken string        `json:"access_token,omitempty"`
}

func (s *Service) handleAuthorizeAdmin(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in AuthorizeRequestBody
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed authorize request: %w", err)
	}
	return s.authz.AuthorizeAdmin(ctx, in.Session, in.URI, in.Action), nil
}

func (s *Service) handleAuthorizeRing0(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in AuthorizeRequestBody
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed authorize request: %w", err)
	}
	return s.authz.AuthorizeRing0(ctx, in.Session, in.URI, in.Action), nil
}

func (s *Service) handleAuthorizeOAuth(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in AuthorizeRequestBody
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed authorize request: %w", err)
	}
	return s.authz.AuthorizeOAuth(ctx, in.Session, in.URI, in.Action, in.AccessToken), nil
}

func (s *Service) handleAuthorizeUser(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in AuthorizeRequestBody
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed authorize request: %w", err)
	}
	return s.authz.AuthorizeUser(ctx, in.Session, in.URI, in.Action), nil
}

func (s *Service) handleAuthorizePublic(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in AuthorizeRequestBody
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed authorize request: %w", err)
	}
	return s.authz.AuthorizePublic(ctx, in.Session, in.URI, in.Action), nil
}

// --- ring0 status bit ----------------------------------------------------

type statusRequest struct {
	Component string `json:"component"`
	Online    bool   `json:"online,omitempty"`
}

func (s *Service) handleGetStatus(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in statusRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed status request: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]bool{"online": s.statusBits[in.Component]}, nil
}

func (s *Service) handleSetStatus(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in statusRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed status request: %w", err)
	}
	s.mu.Lock()
	s.statusBits[in.Component] = in.Online
	s.mu.Unlock()
	return "ok", nil
}

// --- oauth client management ----------------------------------------------

type oauthClientCreateRequest struct {
	Scopes []string `json:"scopes"`
}

// handleOAuthClientCreate mints a new OAuth client owned by the
// authenticated caller. The owning user comes from claims.Username, never
// from the request body: the caller picks the client's scopes, not whose
// account it is filed under.
func (s *Service) handleOAuthClientCreate(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in oauthClientCreateRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed oauth client create request: %w", err)
	}
	user, err := s.store.userByUsername(ctx, claims.Username)
	if err != nil {
		return nil, err
	}
	clientID := uuid.NewString()
	secret := uuid.NewString()
	rec := dbstore.OAuthClientRecord{ClientID: clientID, UserID: user.ID, Secret: secret, Scopes: in.Scopes}
	if err := s.store.oauthClients.Put(ctx, clientID, rec); err != nil {
		return nil, err
	}
	return map[string]string{"id": clientID, "secret": secret}, nil
}

type oauthGetUsernameRequest struct {
	ClientID string `json:"client_id"`
}

func (s *Service) handleOAuthGetUsername(ctx context.Context, req json.RawMessage, claims *token.Claims) (any, error) {
	var in oauthGetUsernameRequest
	if err := json.Unmarshal(req, &in); err != nil {
		return nil, fmt.Errorf("malformed oauth getusername request: %w", err)
	}
	client, err := s.store.oauthClients.Get(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}
	user, err := s.store.users.Get(ctx, client.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"username": user.Username}, nil
}
