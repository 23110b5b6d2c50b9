// Package schema implements the versioned schema/resource/claim document
// store: the platform's single source of truth for endpoint input/output
// shapes, resource descriptions, and claim requirements.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type distinguishes the three document kinds the store carries, mirroring
// the three URI schemes used to reference them (endpoint://, resource://,
// claims://).
type Type string

const (
	TypeEndpoint Type = "endpoint"
	TypeResource Type = "resource"
	TypeClaims   Type = "claims"
)

// Key identifies a family of document versions. Versions within a Key are
// monotonically increasing starting at 1.
type Key struct {
	Vendor    string
	Component string
	Type      Type
	Name      string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Vendor, k.Component, k.Type, k.Name)
}

// Document is one immutable version of a schema body.
type Document struct {
	Key        Key             `json:"key"`
	Version    int             `json:"version"`
	Body       json.RawMessage `json:"body"`
	UploadedBy string          `json:"uploaded_by"`
	UploadedAt time.Time       `json:"uploaded_at"`
}

// Ref is a parsed endpoint://, resource:// or claims:// reference, optionally
// pinned to a version (0 means "latest").
type Ref struct {
	Key     Key
	Version int
}

// ParseRef parses a reference of the form
// "<scheme>://<vendor>/<component>/<name>[/<version>]".
func ParseRef(raw string) (Ref, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return Ref{}, fmt.Errorf("schema: malformed reference %q: missing scheme", raw)
	}

	var typ Type
	switch scheme {
	case "endpoint":
		typ = TypeEndpoint
	case "resource":
		typ = TypeResource
	case "claims":
		typ = TypeClaims
	default:
		return Ref{}, fmt.Errorf("schema: unknown reference scheme %q", scheme)
	}

	parts := strings.Split(rest, "/")
	if len(parts) < 3 {
		return Ref{}, fmt.Errorf("schema: malformed reference %q: expected vendor/component/name", raw)
	}

	ref := Ref{Key: Key{Vendor: parts[0], Component: parts[1], Type: typ, Name: parts[2]}}
	if len(parts) >= 4 && parts[3] != "" {
		v, err := strconv.Atoi(parts[3])
		if err != nil {
			return Ref{}, fmt.Errorf("schema: malformed reference %q: bad version: %w", raw, err)
		}
		ref.Version = v
	}
	return ref, nil
}

// ErrNotFound is returned by FindLatest when no document exists for a key
// (at or below the requested version ceiling).
type ErrNotFound struct {
	Key Key
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("schema: no document found for %s", e.Key)
}

// Store is the schema/resource/claims persistence contract. Implementations
// must serialize Upsert calls per Key so version numbers never collide.
type Store interface {
	// Upsert stores body as a new version of key, unless it canonically
	// equals the latest existing version's body, in which case the
	// existing Document is returned unchanged (no new version minted).
	Upsert(ctx context.Context, key Key, body json.RawMessage, uploadedBy string) (*Document, error)

	// FindLatest returns the highest version of key at or below maxVersion
	// (0 means no ceiling, i.e. the true latest).
	FindLatest(ctx context.Context, key Key, maxVersion int) (*Document, error)
}

// Resolve looks up the document referenced by raw via store.
func Resolve(ctx context.Context, store Store, raw string) (*Document, error) {
	ref, err := ParseRef(raw)
	if err != nil {
		return nil, err
	}
	return store.FindLatest(ctx, ref.Key, ref.Version)
}
