// Package authsvc implements the platform's login/logout/sign/verify/
// authorize surface as a single kernel.Component, composing pkg/dbstore,
// pkg/token and pkg/authz the way the source platform's auth service
// composed its own store/token manager/authorizer.
package authsvc

import "errors"

// User is a platform account: created externally, mutated only by a
// password reset, identified by username or id.
type User struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	PasswordHash string   `json:"password_hash"`
	Role         string   `json:"role"`
	Email        string   `json:"email,omitempty"`
	Groups       []string `json:"groups,omitempty"`
}

// SessionRecord binds a router-assigned session id to the user that holds
// it, created at login and deleted at logout.
type SessionRecord struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	AccessToken string `json:"access_token,omitempty"`
}

var (
	// ErrUserNotFound is returned when a username has no matching User.
	ErrUserNotFound = errors.New("authsvc: user not found")
	// ErrBadCredentials is returned by login for a wrong password or an
	// unresolvable OAuth client.
	ErrBadCredentials = errors.New("authsvc: bad credentials")
	// ErrDomainBlocked is returned by login when authid's domain matches
	// the configured blacklist.
	ErrDomainBlocked = errors.New("authsvc: domain is blacklisted")
	// ErrUnsupportedAuthMethod is returned for an authmethod other than
	// ticket, wampcra, or oauth client-credentials.
	ErrUnsupportedAuthMethod = errors.New("authsvc: unsupported authmethod")
)
