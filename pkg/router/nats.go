package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nlesc/mdstudio/pkg/apierr"
)

// NATS implements Router over a NATS connection, grounded on
// C360Studio-semspec's use of nats-io/nats.go as its message-router
// client — the closest pack example of this transport. Call is built on
// NATS request/reply; Register subscribes the handler to uri (or, for
// MatchPrefix/MatchWildcard, to the matching NATS subject wildcard) and
// replies on the inbox NATS itself manages.
type NATS struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATS wraps an already-connected *nats.Conn.
func NewNATS(conn *nats.Conn) *NATS {
	return &NATS{conn: conn}
}

// Dial connects to a NATS server at url.
func Dial(url string) (*NATS, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("router: nats connect: %w", err)
	}
	return NewNATS(conn), nil
}

func (r *NATS) Call(ctx context.Context, uri string, payload json.RawMessage) (apierr.Envelope, error) {
	deadline := 30 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}

	msg, err := r.conn.RequestWithContext(ctx, uri, payload)
	if err != nil {
		return apierr.Envelope{}, fmt.Errorf("router: nats request %s (timeout %s): %w", uri, deadline, err)
	}

	var env apierr.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return apierr.Envelope{}, fmt.Errorf("router: decode reply from %s: %w", uri, err)
	}
	return env, nil
}

func (r *NATS) subject(uri string, match MatchPolicy) string {
	switch match {
	case MatchPrefix:
		return uri + ".>"
	case MatchWildcard:
		return strings.TrimSuffix(uri, "*") + ">"
	default:
		return uri
	}
}

func (r *NATS) Register(uri string, match MatchPolicy, handler Handler) error {
	subject := r.subject(uri, match)
	sub, err := r.conn.Subscribe(subject, func(msg *nats.Msg) {
		env := handler(context.Background(), msg.Subject, msg.Data)
		body, err := json.Marshal(env)
		if err != nil {
			body, _ = json.Marshal(apierr.Fail(apierr.New(apierr.KindHandlerError, "encode reply: %s", err)))
		}
		if msg.Reply != "" {
			_ = r.conn.Publish(msg.Reply, body)
		}
	})
	if err != nil {
		return fmt.Errorf("router: nats subscribe %s: %w", subject, err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	return nil
}

func (r *NATS) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	ch := make(chan Event, 64)
	sub, err := r.conn.Subscribe(topic, func(msg *nats.Msg) {
		select {
		case ch <- Event{Topic: msg.Subject, Payload: msg.Data}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("router: nats subscribe %s: %w", topic, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
		close(ch)
	}()

	return ch, nil
}

func (r *NATS) Publish(ctx context.Context, topic string, payload json.RawMessage) error {
	return r.conn.Publish(topic, payload)
}

// Close drains subscriptions and closes the underlying connection.
func (r *NATS) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		_ = s.Unsubscribe()
	}
	r.conn.Close()
}
