package dbstore

import (
	"context"
	"time"

	"github.com/nlesc/mdstudio/pkg/authz"
)

// CallStat is one row of the registration_info collection's call counters.
type CallStat struct {
	URI   string    `json:"uri"`
	Match string    `json:"match,omitempty"`
	Count int       `json:"count"`
	Last  time.Time `json:"last"`
}

// StatsCollection persists authz registration/call stats through a
// Collection, grounded on postgres_registry.go's upsert-on-conflict style:
// each recording reads the current counter, increments it, and writes it
// back through Put's upsert.
type StatsCollection struct {
	registrations *Collection[CallStat]
	calls         *Collection[CallStat]
}

// NewStatsCollection wraps two Collections (one for registration events,
// one for call events) as an authz.StatsRecorder.
func NewStatsCollection(registrations, calls *Collection[CallStat]) *StatsCollection {
	return &StatsCollection{registrations: registrations, calls: calls}
}

func (s *StatsCollection) RecordRegistration(ctx context.Context, uri string, match authz.MatchKind) error {
	stat, err := s.registrations.Get(ctx, uri)
	if err != nil && err != ErrNotFound {
		return err
	}
	stat.URI = uri
	stat.Match = string(match)
	stat.Count++
	stat.Last = time.Now().UTC()
	return s.registrations.Put(ctx, uri, stat)
}

func (s *StatsCollection) RecordCall(ctx context.Context, uri string, action authz.Action) error {
	stat, err := s.calls.Get(ctx, uri)
	if err != nil && err != ErrNotFound {
		return err
	}
	stat.URI = uri
	stat.Count++
	stat.Last = time.Now().UTC()
	return s.calls.Put(ctx, uri, stat)
}

// OAuthClientRecord is one row of the clients collection.
type OAuthClientRecord struct {
	ClientID string   `json:"client_id"`
	UserID   string   `json:"user_id"`
	Secret   string   `json:"secret"`
	Scopes   []string `json:"scopes"`
}

// OAuthSessionRecord is one row of the oauth_sessions collection, binding an
// access token to the client that was issued it.
type OAuthSessionRecord struct {
	AccessToken string    `json:"access_token"`
	ClientID    string    `json:"client_id"`
	IssuedAt    time.Time `json:"issued_at"`
}

// OAuthStore adapts clients/sessions Collections into authz.OAuthLookup.
type OAuthStore struct {
	clients  *Collection[OAuthClientRecord]
	sessions *Collection[OAuthSessionRecord]
}

// NewOAuthStore wraps the clients and sessions Collections.
func NewOAuthStore(clients *Collection[OAuthClientRecord], sessions *Collection[OAuthSessionRecord]) *OAuthStore {
	return &OAuthStore{clients: clients, sessions: sessions}
}

func (o *OAuthStore) ClientByAuthID(ctx context.Context, authID string) (*authz.OAuthClient, error) {
	rec, err := o.clients.Get(ctx, authID)
	if err != nil {
		return nil, err
	}
	return &authz.OAuthClient{ClientID: rec.ClientID, UserID: rec.UserID, Scopes: rec.Scopes}, nil
}

func (o *OAuthStore) SessionByAccessToken(ctx context.Context, accessToken string) (*authz.OAuthSession, error) {
	rec, err := o.sessions.Get(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return &authz.OAuthSession{ClientID: rec.ClientID, AccessToken: rec.AccessToken}, nil
}
