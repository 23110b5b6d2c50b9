// Package authz implements the platform's five-ring authorization model:
// every call, subscription or publish is authorized by exactly one ring
// handler (admin, ring0, oauth, user, public) selected by the caller's
// connection type, never by a general-purpose policy graph.
//
// The concurrency shape — a single struct guarded by one sync.RWMutex, with
// side-effect bookkeeping that must never fail the decision it rides along
// with — is grounded on the teacher's ReBAC engine (pkg/authz/engine.go);
// the ReBAC relation-tuple model itself does not fit a five-ring ACL and is
// not reused.
package authz

import (
	"context"
	"strings"
	"sync"
)

// Ring identifies which authorization hook applies to a session.
type Ring string

const (
	RingAdmin  Ring = "admin"
	RingRing0  Ring = "ring0"
	RingOAuth  Ring = "oauth"
	RingUser   Ring = "user"
	RingPublic Ring = "public"
)

// Action is the kind of router operation being authorized.
type Action string

const (
	ActionCall      Action = "call"
	ActionRegister  Action = "register"
	ActionSubscribe Action = "subscribe"
	ActionPublish   Action = "publish"
)

// MatchKind records how a URI was matched against the ring0 ACL, for stats.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchPrefix   MatchKind = "prefix"
	MatchWildcard MatchKind = "wildcard"
)

// Session is the minimal caller identity an authorize hook needs.
type Session struct {
	AuthID    string
	AuthRole  string
	SessionID string
	Groups    []string
}

// HasGroup reports whether g is among the session's claimed groups.
func (s Session) HasGroup(g string) bool {
	for _, x := range s.Groups {
		if x == g {
			return true
		}
	}
	return false
}

// Decision is the outcome of an authorize hook.
type Decision struct {
	Allow    bool
	Disclose bool
}

var deny = Decision{Allow: false}

// OAuthLookup resolves OAuth clients and sessions for the oauth ring.
// Implementations are expected to be backed by pkg/dbstore collections.
type OAuthLookup interface {
	ClientByAuthID(ctx context.Context, authID string) (*OAuthClient, error)
	SessionByAccessToken(ctx context.Context, accessToken string) (*OAuthSession, error)
}

// OAuthClient is a registered OAuth client and the scopes it was granted.
type OAuthClient struct {
	ClientID string
	UserID   string
	Scopes   []string
}

// OAuthSession binds an access token to the client that issued it.
type OAuthSession struct {
	ClientID    string
	AccessToken string
}

// StatsRecorder persists best-effort registration/call counters. A failure
// here must never turn an otherwise-allowed decision into a denial.
type StatsRecorder interface {
	RecordRegistration(ctx context.Context, uri string, match MatchKind) error
	RecordCall(ctx context.Context, uri string, action Action) error
}

type noopStats struct{}

func (noopStats) RecordRegistration(context.Context, string, MatchKind) error { return nil }
func (noopStats) RecordCall(context.Context, string, Action) error           { return nil }

// Authorizer implements the five ring hooks. Ring0 ACL entries are static
// prefix rules configured at construction; the oauth ring and stats
// recording are pluggable so the session kernel and auth service can share
// one Authorizer across in-memory tests and a Postgres-backed deployment.
type Authorizer struct {
	mu       sync.RWMutex
	ring0ACL map[string][]string // authRole -> allowed URI prefixes

	oauth OAuthLookup
	stats StatsRecorder
}

// New constructs an Authorizer. oauth and stats may be nil; a nil oauth
// makes AuthorizeOAuth always deny, and a nil stats recorder is replaced
// with a no-op.
func New(oauth OAuthLookup, stats StatsRecorder) *Authorizer {
	if stats == nil {
		stats = noopStats{}
	}
	return &Authorizer{
		ring0ACL: make(map[string][]string),
		oauth:    oauth,
		stats:    stats,
	}
}

// GrantRing0 registers uriPrefix as callable by authRole under the ring0
// hook. Idempotent.
func (a *Authorizer) GrantRing0(authRole, uriPrefix string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, existing := range a.ring0ACL[authRole] {
		if existing == uriPrefix {
			return
		}
	}
	a.ring0ACL[authRole] = append(a.ring0ACL[authRole], uriPrefix)
}

// AuthorizeAdmin always allows; admin sessions disclose their identity on
// oauth endpoints so downstream components can attribute the call.
func (a *Authorizer) AuthorizeAdmin(ctx context.Context, sess Session, uri string, action Action) Decision {
	disclose := strings.HasPrefix(uri, "mdstudio.auth.endpoint.oauth")
	a.recordCall(ctx, uri, action)
	return Decision{Allow: true, Disclose: disclose}
}

// AuthorizeRing0 allows calls from a session claiming the "mdstudio" group
// whose URI falls under a prefix granted to its auth role.
func (a *Authorizer) AuthorizeRing0(ctx context.Context, sess Session, uri string, action Action) Decision {
	if !sess.HasGroup("mdstudio") {
		return deny
	}

	a.mu.RLock()
	prefixes := a.ring0ACL[sess.AuthRole]
	a.mu.RUnlock()

	for _, prefix := range prefixes {
		if uri == prefix {
			a.recordRegistration(ctx, uri, MatchExact)
			a.recordCall(ctx, uri, action)
			return Decision{Allow: true}
		}
		if strings.HasSuffix(prefix, "*") && strings.HasPrefix(uri, strings.TrimSuffix(prefix, "*")) {
			a.recordRegistration(ctx, uri, MatchWildcard)
			a.recordCall(ctx, uri, action)
			return Decision{Allow: true}
		}
		if strings.HasPrefix(uri, prefix+".") {
			a.recordRegistration(ctx, uri, MatchPrefix)
			a.recordCall(ctx, uri, action)
			return Decision{Allow: true}
		}
	}
	return deny
}

// AuthorizeOAuth resolves the session's access token to a client and checks
// that the client's granted scopes cover uri.
func (a *Authorizer) AuthorizeOAuth(ctx context.Context, sess Session, uri string, action Action, accessToken string) Decision {
	if a.oauth == nil {
		return deny
	}

	oauthSess, err := a.oauth.SessionByAccessToken(ctx, accessToken)
	if err != nil {
		return deny
	}
	client, err := a.oauth.ClientByAuthID(ctx, oauthSess.ClientID)
	if err != nil {
		return deny
	}

	for _, scope := range client.Scopes {
		if uri == scope || strings.HasPrefix(uri, scope+".") {
			a.recordCall(ctx, uri, action)
			return Decision{Allow: true}
		}
	}
	return deny
}

// AuthorizeUser always denies. The original platform never implemented a
// user-facing ACL; this is preserved rather than guessed at.
func (a *Authorizer) AuthorizeUser(ctx context.Context, sess Session, uri string, action Action) Decision {
	return deny
}

// AuthorizePublic always denies, for the same reason as AuthorizeUser.
func (a *Authorizer) AuthorizePublic(ctx context.Context, sess Session, uri string, action Action) Decision {
	return deny
}

func (a *Authorizer) recordRegistration(ctx context.Context, uri string, match MatchKind) {
	_ = a.stats.RecordRegistration(ctx, uri, match)
}

func (a *Authorizer) recordCall(ctx context.Context, uri string, action Action) {
	_ = a.stats.RecordCall(ctx, uri, action)
}
