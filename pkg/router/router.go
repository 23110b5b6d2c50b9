// Package router defines the transport contract every session-kernel
// component calls through: Call, Register, Subscribe, Publish. Two
// implementations are provided — an in-process function-table dispatcher
// for tests and single-binary deployments, and a NATS-backed client for
// multi-process deployments.
package router

import (
	"context"
	"encoding/json"

	"github.com/nlesc/mdstudio/pkg/apierr"
)

// MatchPolicy controls how a registered URI matches incoming calls.
type MatchPolicy string

const (
	MatchExact    MatchPolicy = "exact"
	MatchPrefix   MatchPolicy = "prefix"
	MatchWildcard MatchPolicy = "wildcard"
)

// Handler answers one Call. The envelope it returns is delivered verbatim
// to the caller; transport-level failures are reported through the error
// return of Call itself, not through the envelope.
type Handler func(ctx context.Context, uri string, payload json.RawMessage) apierr.Envelope

// Event is one message delivered to a Subscribe channel.
type Event struct {
	Topic   string
	Payload json.RawMessage
}

// Router is the transport contract. Per-URI delivery is FIFO; there is no
// ordering guarantee across different URIs.
type Router interface {
	Call(ctx context.Context, uri string, payload json.RawMessage) (apierr.Envelope, error)
	Register(uri string, match MatchPolicy, handler Handler) error
	Subscribe(ctx context.Context, topic string) (<-chan Event, error)
	Publish(ctx context.Context, topic string, payload json.RawMessage) error
}
