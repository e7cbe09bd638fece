package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"sync"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/broker/window"
)

// OriginFilter decides which opener origins a popup serves.
type OriginFilter func(origin string) bool

// AllowAny accepts every opener.
func AllowAny(string) bool { return true }

// AllowOrigins accepts only the listed openers.
func AllowOrigins(origins ...string) OriginFilter {
	allowed := slices.Clone(origins)
	return func(origin string) bool {
		return slices.Contains(allowed, origin)
	}
}

// Conn is the popup side of a flow.
type Conn struct {
	win    window.Window
	filter OriginFilter

	mu         sync.Mutex
	peerOrigin string
	peerPort   window.Port
	current    *Request
	candidates chan candidate
	closed     chan struct{}
	closeOnce  sync.Once
}

type candidate struct {
	env    Envelope
	origin string
	port   window.Port
}

// Request is one request received by a popup.
type Request struct {
	Route   Route
	Origin  string
	Nonce   string
	Payload json.RawMessage

	conn      *Conn
	mu        sync.Mutex
	responded bool
}

// Establish starts listening on win for requests from openers accepted by
// filter. A nil filter accepts any origin.
func Establish(ctx context.Context, win window.Window, filter OriginFilter) *Conn {
	if filter == nil {
		filter = AllowAny
	}
	c := &Conn{
		win:        win,
		filter:     filter,
		candidates: make(chan candidate, 1),
		closed:     make(chan struct{}),
	}
	go c.listen(ctx)
	return c
}

// PeerOrigin returns the opener origin fixed by the first request.
func (c *Conn) PeerOrigin() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerOrigin
}

func (c *Conn) listen(ctx context.Context) {
	for {
		select {
		case ev := <-c.win.Events():
			c.receive(ev)
		case <-c.win.Done():
			return
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) receive(ev window.Event) {
	env, ok := decodeEnvelope(ev.Data)
	if !ok || env.Type != MessageRequest || env.Nonce == "" || ev.Source == nil {
		return
	}

	c.mu.Lock()
	if c.peerOrigin == "" {
		if !c.filter(ev.Origin) {
			c.mu.Unlock()
			return
		}
	} else if ev.Origin != c.peerOrigin {
		c.mu.Unlock()
		return
	}

	current := c.current
	if current != nil && current.Nonce == env.Nonce {
		// A resend of the request being served.
		answered := current.answered()
		port := c.peerPort
		c.mu.Unlock()
		if !answered {
			c.ack(port, env)
		}
		return
	}
	if current != nil && !current.answered() {
		c.mu.Unlock()
		return
	}

	req := &Request{Route: env.Route, Origin: ev.Origin, Nonce: env.Nonce, Payload: env.Payload, conn: c}
	c.current = req
	c.peerOrigin = ev.Origin
	c.peerPort = ev.Source
	c.mu.Unlock()

	c.ack(ev.Source, env)
	select {
	case c.candidates <- candidate{env: env, origin: ev.Origin, port: ev.Source}:
	case <-c.closed:
	}
}

func (c *Conn) ack(port window.Port, env Envelope) {
	ready, err := newEnvelope(MessageReady, env.Route, env.Nonce, nil).encode()
	if err != nil {
		return
	}
	c.mu.Lock()
	peer := c.peerOrigin
	c.mu.Unlock()
	if err := port.PostMessage(ready, peer); err != nil {
		log.Printf("broker: ack %s request: %v", env.Route, err)
	}
}

// Next waits for the next request. Requests for routes outside accepted fail
// with UnknownRoute; payloads failing the route schema fail with
// InvalidInput. An opener that goes away first yields PeerUnreachable.
func (c *Conn) Next(ctx context.Context, accepted ...Route) (*Request, error) {
	select {
	case cand := <-c.candidates:
		c.mu.Lock()
		req := c.current
		c.mu.Unlock()
		if req == nil || req.Nonce != cand.env.Nonce {
			return nil, fmt.Errorf("request %s was superseded", cand.env.Nonce)
		}
		if !slices.Contains(accepted, cand.env.Route) {
			return req, apperrors.WithMetadata(apperrors.CodeUnknownRoute, "route not accepted", map[string]string{"route": string(cand.env.Route)})
		}
		spec, err := Lookup(cand.env.Route)
		if err != nil {
			return req, err
		}
		if err := spec.Validate(cand.env.Payload); err != nil {
			return req, err
		}
		return req, nil
	case <-c.win.Done():
		return nil, apperrors.New(apperrors.CodePeerUnreachable, "opener window closed")
	case <-c.closed:
		return nil, apperrors.New(apperrors.CodePeerUnreachable, "connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close answers an unanswered request with its route default, when the route
// is known, and closes the window.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		req := c.current
		c.mu.Unlock()
		if req != nil && !req.answered() {
			if fallback, err := DefaultResult(req.Route); err == nil {
				_ = req.send(fallback)
			}
		}
		close(c.closed)
	})
	return c.win.Close()
}

func (r *Request) answered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responded
}

// Respond sends result to the opener. Only the first call is delivered.
func (r *Request) Respond(result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode %s result: %w", r.Route, err)
	}
	return r.send(raw)
}

func (r *Request) send(raw json.RawMessage) error {
	r.mu.Lock()
	if r.responded {
		r.mu.Unlock()
		return fmt.Errorf("request %s already answered", r.Nonce)
	}
	r.responded = true
	r.mu.Unlock()

	env, err := newEnvelope(MessageResult, r.Route, r.Nonce, raw).encode()
	if err != nil {
		return fmt.Errorf("encode %s result: %w", r.Route, err)
	}
	r.conn.mu.Lock()
	port, peer := r.conn.peerPort, r.conn.peerOrigin
	r.conn.mu.Unlock()
	return port.PostMessage(env, peer)
}
