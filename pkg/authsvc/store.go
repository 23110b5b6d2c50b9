package authsvc

import (
	"context"
	"database/sql"

	"github.com/nlesc/mdstudio/pkg/dbstore"
)

// Store persists the users, clients and sessions collections the auth
// service reads and writes, backed by the same generic dbstore.Collection
// every other document-shaped collection in this platform uses. The
// OAuth client/session collections are the same types pkg/dbstore already
// adapts into an authz.OAuthLookup, so a client minted here is resolvable
// by the authorizer without a second representation of the same record.
type Store struct {
	users         *dbstore.Collection[User]
	sessions      *dbstore.Collection[SessionRecord]
	oauthClients  *dbstore.Collection[dbstore.OAuthClientRecord]
	oauthSessions *dbstore.Collection[dbstore.OAuthSessionRecord]
}

// NewStore wraps an already-open *sql.DB into the collections the auth
// service needs.
func NewStore(db *sql.DB, driver dbstore.Driver) *Store {
	return &Store{
		users:         dbstore.NewCollection[User](db, driver, "users"),
		sessions:      dbstore.NewCollection[SessionRecord](db, driver, "sessions"),
		oauthClients:  dbstore.NewCollection[dbstore.OAuthClientRecord](db, driver, "clients"),
		oauthSessions: dbstore.NewCollection[dbstore.OAuthSessionRecord](db, driver, "oauth_sessions"),
	}
}

// EnsureSchema creates the backing tables if they do not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.users.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := s.sessions.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := s.oauthClients.EnsureSchema(ctx); err != nil {
		return err
	}
	return s.oauthSessions.EnsureSchema(ctx)
}

func (s *Store) userByUsername(ctx context.Context, username string) (User, error) {
	u, err := s.users.Get(ctx, username)
	if err == dbstore.ErrNotFound {
		return User{}, ErrUserNotFound
	}
	return u, err
}

func sessionKey(userID, sessionID string) string {
	return userID + "/" + sessionID
}
