package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/platform/id"
	platformotel "github.com/louisbranch/masquerade/internal/platform/otel"
	"github.com/louisbranch/masquerade/internal/services/broker/window"
	"github.com/louisbranch/masquerade/internal/services/masks/state"
)

// DefaultResendInterval is how often an unacknowledged request is re-posted.
const DefaultResendInterval = 500 * time.Millisecond

// State is the opener-side flow state.
type State int

const (
	StateIdle State = iota
	StateWindowOpened
	StateAwaitingReady
	StateReady
	StateResolved
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWindowOpened:
		return "window_opened"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateReady:
		return "ready"
	case StateResolved:
		return "resolved"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the flow has finished.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateAbandoned
}

// Result is the outcome of a flow.
type Result struct {
	Route   Route
	Payload json.RawMessage
	// Abandoned is true when Payload is the route default because the popup
	// went away, the caller cancelled or the flow was torn down.
	Abandoned bool
}

// Decode unmarshals the result payload into v.
func (r Result) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("decode %s result: %w", r.Route, err)
	}
	return nil
}

// ClientConfig tunes a client.
type ClientConfig struct {
	// ResendInterval defaults to DefaultResendInterval.
	ResendInterval time.Duration
	// Nonce defaults to id.NewID.
	Nonce id.Generator
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Client opens flows against the popup at one URL.
type Client struct {
	opener     window.Opener
	popupURL   string
	peerOrigin string
	resend     time.Duration
	nonce      id.Generator
	tracer     trace.Tracer
}

// NewClient returns a client opening popupURL through opener.
func NewClient(opener window.Opener, popupURL string, cfg ClientConfig) (*Client, error) {
	if opener == nil {
		return nil, fmt.Errorf("window opener is required")
	}
	parsed, err := url.Parse(popupURL)
	if err != nil {
		return nil, fmt.Errorf("parse popup url: %w", err)
	}
	peerOrigin, err := state.NormalizeOrigin(parsed.Scheme + "://" + parsed.Host)
	if err != nil {
		return nil, fmt.Errorf("popup url: %w", err)
	}
	resend := cfg.ResendInterval
	if resend <= 0 {
		resend = DefaultResendInterval
	}
	nonce := cfg.Nonce
	if nonce == nil {
		nonce = id.NewID
	}
	return &Client{
		opener:     opener,
		popupURL:   popupURL,
		peerOrigin: peerOrigin,
		resend:     resend,
		nonce:      nonce,
		tracer:     platformotel.Tracer(cfg.TracerProvider, "services/broker"),
	}, nil
}

// PeerOrigin returns the popup origin requests are addressed to.
func (c *Client) PeerOrigin() string {
	return c.peerOrigin
}

// Flow is one outstanding request.
type Flow struct {
	route    Route
	nonce    string
	request  []byte
	fallback json.RawMessage
	win      window.Window
	peer     string
	resend   time.Duration

	mu       sync.Mutex
	state    State
	result   Result
	done     chan struct{}
	teardown chan struct{}
	stopOnce sync.Once
	span     trace.Span
}

// Start validates payload, opens the popup and begins the handshake.
func (c *Client) Start(ctx context.Context, route Route, payload any) (*Flow, error) {
	spec, err := Lookup(route)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "encode payload", err)
	}
	if err := spec.Validate(raw); err != nil {
		return nil, err
	}
	fallback, err := json.Marshal(spec.Default())
	if err != nil {
		return nil, fmt.Errorf("encode default result: %w", err)
	}
	nonce, err := c.nonce()
	if err != nil {
		return nil, fmt.Errorf("flow nonce: %w", err)
	}
	request, err := newEnvelope(MessageRequest, route, nonce, raw).encode()
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	_, span := c.tracer.Start(ctx, "broker.flow", trace.WithAttributes(
		attribute.String("broker.route", string(route)),
		attribute.String("broker.peer", c.peerOrigin),
	))
	flow := &Flow{
		route:    route,
		nonce:    nonce,
		request:  request,
		fallback: fallback,
		peer:     c.peerOrigin,
		resend:   c.resend,
		state:    StateIdle,
		done:     make(chan struct{}),
		teardown: make(chan struct{}),
		span:     span,
	}

	win, err := c.opener.Open(ctx, c.popupURL)
	if err != nil {
		span.RecordError(err)
		span.End()
		if !apperrors.HasCode(err, apperrors.CodeWindowOpenFailed) {
			err = apperrors.Wrap(apperrors.CodeWindowOpenFailed, "open popup", err)
		}
		return nil, err
	}
	flow.win = win
	flow.setState(StateWindowOpened)
	go flow.run(ctx)
	return flow, nil
}

// OpenFlow runs a whole flow and returns its result. An abandoned flow
// returns the route default without an error.
func (c *Client) OpenFlow(ctx context.Context, route Route, payload any) (Result, error) {
	flow, err := c.Start(ctx, route, payload)
	if err != nil {
		return Result{}, err
	}
	return flow.Wait(ctx)
}

// Route returns the flow's route.
func (f *Flow) Route() Route {
	return f.route
}

// Nonce returns the flow's nonce.
func (f *Flow) Nonce() string {
	return f.nonce
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) setState(next State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.state.Terminal() {
		f.state = next
	}
}

// Done is closed once the flow is resolved or abandoned.
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the flow finishes. Cancelling ctx tears the flow down
// and returns the route default.
func (f *Flow) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		f.Teardown()
		<-f.done
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, nil
}

// Teardown stops listening and resolves an unfinished flow with the route
// default. It is safe to call at any time, any number of times.
func (f *Flow) Teardown() {
	f.stopOnce.Do(func() { close(f.teardown) })
}

func (f *Flow) run(ctx context.Context) {
	defer f.win.Close()

	// Posting may block on a popup that stops reading; the loop only signals
	// the poster so teardown stays responsive. Closing the window above
	// releases a poster stuck in PostMessage.
	posts := make(chan struct{}, 1)
	stopped := make(chan struct{})
	defer close(stopped)
	go f.poster(posts, stopped)
	resend := func() {
		select {
		case posts <- struct{}{}:
		default:
		}
	}

	resend()
	f.setState(StateAwaitingReady)
	ticker := time.NewTicker(f.resend)
	defer ticker.Stop()

	for {
		select {
		case ev := <-f.win.Events():
			if f.handle(ev) {
				return
			}
		case <-ticker.C:
			if f.State() == StateAwaitingReady {
				resend()
			}
		case <-f.win.Done():
			// The popup may answer and close in one go.
			if f.drain() {
				return
			}
			f.abandon("popup closed")
			return
		case <-ctx.Done():
			f.abandon("context cancelled")
			return
		case <-f.teardown:
			f.abandon("torn down")
			return
		}
	}
}

// drain handles events already delivered and reports whether one of them
// finished the flow.
func (f *Flow) drain() bool {
	for {
		select {
		case ev := <-f.win.Events():
			if f.handle(ev) {
				return true
			}
		default:
			return false
		}
	}
}

func (f *Flow) poster(posts <-chan struct{}, stopped <-chan struct{}) {
	for {
		select {
		case <-posts:
			// A queued resend is stale once the popup has acknowledged.
			if state := f.State(); state == StateWindowOpened || state == StateAwaitingReady {
				f.post()
			}
		case <-stopped:
			return
		}
	}
}

func (f *Flow) post() {
	if err := f.win.PostMessage(f.request, f.peer); err != nil {
		log.Printf("broker: post %s request: %v", f.route, err)
	}
}

// handle applies one event and reports whether the flow finished.
func (f *Flow) handle(ev window.Event) bool {
	if ev.Origin != f.peer || ev.Source != window.Port(f.win) {
		return false
	}
	env, ok := decodeEnvelope(ev.Data)
	if !ok || env.Nonce != f.nonce || env.Route != f.route {
		return false
	}
	switch env.Type {
	case MessageReady:
		if f.State() == StateAwaitingReady {
			f.setState(StateReady)
		}
		return false
	case MessageResult:
		// The popup only answers a request it received, so a result also
		// acknowledges it when the ready message was never seen.
		f.finish(StateResolved, Result{Route: f.route, Payload: env.Payload})
		return true
	default:
		return false
	}
}

func (f *Flow) abandon(reason string) {
	log.Printf("broker: %s flow abandoned: %s", f.route, reason)
	f.span.SetAttributes(attribute.String("broker.abandoned", reason))
	f.finish(StateAbandoned, Result{Route: f.route, Payload: f.fallback, Abandoned: true})
}

func (f *Flow) finish(final State, result Result) {
	f.mu.Lock()
	if f.state.Terminal() {
		f.mu.Unlock()
		return
	}
	f.state = final
	f.result = result
	f.mu.Unlock()
	f.span.SetAttributes(attribute.String("broker.state", final.String()))
	f.span.End()
	close(f.done)
}
