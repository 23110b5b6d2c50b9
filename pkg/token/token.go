// Package token implements claims signing and verification for internal
// platform roles (db, schema, auth, logger), grounded on the teacher's
// identity.KeySet (Ed25519, kid-tagged, rotated) and identity.TokenManager
// (claims embedding jwt.RegisteredClaims).
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Lifetime is the fixed validity window for every signed token.
const Lifetime = 5 * time.Minute

// internalRoles enumerates the only callers permitted to mint claims.
// Every other role is rejected by Sign.
var internalRoles = map[string]bool{
	"db":     true,
	"schema": true,
	"auth":   true,
	"logger": true,
}

// ConnectionType mirrors the three WAMP authid shapes a session can present.
type ConnectionType string

const (
	ConnectionUser      ConnectionType = "User"
	ConnectionGroup     ConnectionType = "Group"
	ConnectionGroupRole ConnectionType = "GroupRole"
)

// Claims is the decoded, caller-facing view of a verified token.
type Claims struct {
	Username       string         `json:"username"`
	Groups         []string       `json:"groups"`
	Vendor         string         `json:"vendor,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	ConnectionType ConnectionType `json:"connection_type,omitempty"`
	AccessToken    string         `json:"access_token,omitempty"`
	ExpiresAt      time.Time      `json:"expires_at"`
	Extra          map[string]any `json:"-"`
}

// HasGroup reports whether g is among the claims' groups.
func (c *Claims) HasGroup(g string) bool {
	for _, x := range c.Groups {
		if x == g {
			return true
		}
	}
	return false
}

var (
	// ErrExpired is returned by Verify for a syntactically valid but
	// time-expired token.
	ErrExpired = errors.New("token: expired")
	// ErrInvalid is returned by Verify for anything else wrong with the
	// token (bad signature, unknown kid, malformed claims).
	ErrInvalid = errors.New("token: invalid")
	// ErrForbiddenSigner is returned by Sign when callerRole is not one
	// of the internal roles allowed to mint claims.
	ErrForbiddenSigner = errors.New("token: caller role not permitted to sign claims")
)

// keySet is an Ed25519 signing key tagged with a kid header, rotated as a
// whole (not incrementally) each time Rotate is called. Grounded on
// identity.KeySet's kid-tagged Ed25519 keys, but without the teacher's
// grace window: rotation here is a hard cut, since the auth service only
// rotates at (re)join and tokens signed just before that are expected to
// fail verification.
type keySet struct {
	mu       sync.RWMutex
	currents string
	keys     map[string]ed25519.PrivateKey
}

func newKeySet() *keySet {
	ks := &keySet{keys: make(map[string]ed25519.PrivateKey)}
	ks.rotate()
	return ks
}

func (ks *keySet) rotate() string {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(fmt.Sprintf("token: ed25519 key generation failed: %v", err))
	}
	kid := "key-" + strconv.FormatInt(time.Now().UTC().UnixNano(), 10)

	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys = map[string]ed25519.PrivateKey{kid: priv}
	ks.currents = kid
	return kid
}

func (ks *keySet) sign(claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	kid := ks.currents
	key := ks.keys[kid]
	ks.mu.RUnlock()

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = kid
	return tok.SignedString(key)
}

func (ks *keySet) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != jwt.SigningMethodEdDSA.Alg() {
		return nil, fmt.Errorf("token: unexpected signing method %q", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	pk, ok := ks.keys[kid]
	if !ok {
		return nil, fmt.Errorf("token: unknown key id %q", kid)
	}
	return pk.Public(), nil
}

// Service signs and verifies claims tokens. The auth service calls Rotate
// from its OnInit, which the kernel runs after every JOINED transition, so
// each join mints a fresh signing key and invalidates all previously
// issued tokens.
type Service struct {
	keys *keySet
}

// NewService mints a fresh Ed25519 signing key and returns a Service bound
// to it.
func NewService() *Service {
	return &Service{keys: newKeySet()}
}

// Rotate discards the current signing key and mints a new one, invalidating
// every token signed under the old key.
func (s *Service) Rotate() {
	s.keys.rotate()
}

// Sign mints a token for claims on behalf of callerRole. Only internal
// roles (db, schema, auth, logger) may sign; groups and username in the
// supplied claims are always overwritten with the fixed "mdstudio" group
// and the caller's role, and exp is always set to now+Lifetime regardless
// of what the caller passed.
func (s *Service) Sign(claims map[string]any, callerRole string) (string, error) {
	if !internalRoles[callerRole] {
		return "", ErrForbiddenSigner
	}

	now := time.Now().UTC()
	merged := make(jwt.MapClaims, len(claims)+3)
	for k, v := range claims {
		merged[k] = v
	}
	merged["groups"] = []string{"mdstudio"}
	merged["username"] = callerRole
	merged["iat"] = now.Unix()
	merged["exp"] = now.Add(Lifetime).Unix()

	return s.keys.sign(merged)
}

// Verify parses and validates tokenStr, returning ErrExpired or ErrInvalid
// (via errors.Is) for unusable tokens.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	mc := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithLeeway(0))
	_, err := parser.ParseWithClaims(tokenStr, mc, s.keys.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	claims := &Claims{Extra: make(map[string]any)}
	for k, v := range mc {
		switch k {
		case "username":
			claims.Username, _ = v.(string)
		case "groups":
			claims.Groups = toStringSlice(v)
		case "vendor":
			claims.Vendor, _ = v.(string)
		case "session_id":
			claims.SessionID, _ = v.(string)
		case "connection_type":
			if ct, ok := v.(string); ok {
				claims.ConnectionType = ConnectionType(ct)
			}
		case "access_token":
			claims.AccessToken, _ = v.(string)
		case "exp":
			if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
				claims.ExpiresAt = exp.Time
			}
		default:
			claims.Extra[k] = v
		}
	}
	return claims, nil
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
