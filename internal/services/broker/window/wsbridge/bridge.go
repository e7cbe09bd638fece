// Package wsbridge exposes a popup's link to its opener over a websocket.
//
// The browser page hosting the popup relays every postMessage it receives
// from its opener as a "message" frame and forwards "post" frames back with
// opener.postMessage. The same socket carries confirmation prompts, so a
// single connection is both the popup's window and its confirmer.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/platform/id"
	"github.com/louisbranch/masquerade/internal/services/broker/window"
	"github.com/louisbranch/masquerade/internal/services/masks/state"
)

const (
	maxFramePayloadBytes   = 64 << 10
	maxDecodeErrorsPerConn = 3
	eventBufferSize        = 16
)

// Frame types.
const (
	FrameMessage       = "message"
	FramePost          = "post"
	FrameConfirm       = "confirm"
	FrameConfirmResult = "confirm_result"
	FrameError         = "error"
)

// Frame is the wire unit in both directions.
type Frame struct {
	Type         string          `json:"type"`
	Origin       string          `json:"origin,omitempty"`
	TargetOrigin string          `json:"targetOrigin,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	ID           string          `json:"id,omitempty"`
	Message      string          `json:"message,omitempty"`
	Approved     bool            `json:"approved,omitempty"`
}

// Handler serves one popup. It returns when the popup is done.
type Handler func(ctx context.Context, win window.Window)

// Config gates who may open a bridge socket.
type Config struct {
	// PageOrigin is the origin of the broker page. The websocket handshake
	// must carry it as its Origin header.
	PageOrigin string
	// Authorizer authenticates the holder's page before any socket is served.
	Authorizer Authorizer
}

// NewHandler returns routes serving handler over /ws. Sockets are accepted
// only from an authenticated holder whose handshake comes from
// cfg.PageOrigin.
func NewHandler(handler Handler, cfg Config) http.Handler {
	pageOrigin, originErr := state.NormalizeOrigin(cfg.PageOrigin)
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsServer := websocket.Server{
		Handshake: pageOriginHandshake(pageOrigin),
		Handler: func(ws *websocket.Conn) {
			serveConn(ws, handler)
		},
	}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if originErr != nil || cfg.Authorizer == nil {
			http.Error(w, "websocket auth is not configured", http.StatusServiceUnavailable)
			return
		}
		holder, err := Authenticate(r, cfg.Authorizer)
		if err != nil {
			log.Printf("bridge: websocket unauthorized for remote=%s: %v", r.RemoteAddr, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if _, err := state.NormalizeOrigin(r.URL.Query().Get("opener")); err != nil {
			http.Error(w, "opener origin is required", http.StatusBadRequest)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), holderKey{}, holder))
		wsServer.ServeHTTP(w, r)
	})
	return mux
}

// pageOriginHandshake rejects handshakes whose Origin header is not the
// broker page. A rejected handshake is answered with 403.
func pageOriginHandshake(pageOrigin string) func(*websocket.Config, *http.Request) error {
	return func(config *websocket.Config, r *http.Request) error {
		origin, err := websocket.Origin(config, r)
		if err != nil {
			return err
		}
		if origin == nil {
			return errors.New("null origin")
		}
		got, err := state.NormalizeOrigin(origin.String())
		if err != nil || got != pageOrigin {
			log.Printf("bridge: handshake from origin %q refused", origin.String())
			return fmt.Errorf("origin %q is not the broker page", origin.String())
		}
		config.Origin = origin
		return nil
	}
}

type holderKey struct{}

func serveConn(ws *websocket.Conn, handler Handler) {
	openerOrigin := ""
	holder := ""
	parent := context.Background()
	if request := ws.Request(); request != nil {
		openerOrigin, _ = state.NormalizeOrigin(request.URL.Query().Get("opener"))
		holder, _ = request.Context().Value(holderKey{}).(string)
		parent = request.Context()
	}
	conn := newConn(ws, openerOrigin)
	defer conn.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	ctx = withConn(ctx, conn)

	go conn.readLoop()
	log.Printf("bridge: popup connected for opener=%q holder=%q", openerOrigin, holder)
	handler(ctx, conn)
	log.Printf("bridge: popup finished for opener=%q", openerOrigin)
}

// Conn is one bridged popup.
type Conn struct {
	ws           *websocket.Conn
	openerOrigin string
	writeMu      sync.Mutex
	encoder      *json.Encoder
	events       chan window.Event
	done         chan struct{}
	closeOnce    sync.Once
	mu           sync.Mutex
	prompts      map[string]chan bool
	newID        id.Generator
}

func newConn(ws *websocket.Conn, openerOrigin string) *Conn {
	return &Conn{
		ws:           ws,
		openerOrigin: openerOrigin,
		encoder:      json.NewEncoder(ws),
		events:       make(chan window.Event, eventBufferSize),
		done:         make(chan struct{}),
		prompts:      map[string]chan bool{},
		newID:        id.NewID,
	}
}

func (c *Conn) writeFrame(frame Frame) error {
	select {
	case <-c.done:
		return window.ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.encoder.Encode(frame)
}

// PostMessage forwards data to the opener page.
func (c *Conn) PostMessage(data []byte, targetOrigin string) error {
	if !window.Matches(targetOrigin, c.openerOrigin) {
		return nil
	}
	if !json.Valid(data) {
		return fmt.Errorf("post message: data is not JSON")
	}
	return c.writeFrame(Frame{Type: FramePost, TargetOrigin: targetOrigin, Data: data})
}

// Origin returns the opener origin declared when the socket connected.
func (c *Conn) Origin() string {
	return c.openerOrigin
}

// Events yields messages relayed from the opener.
func (c *Conn) Events() <-chan window.Event {
	return c.events
}

// Done is closed when the socket ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close ends the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Confirm shows message in the popup and waits for the holder's answer.
func (c *Conn) Confirm(ctx context.Context, message string) (bool, error) {
	promptID, err := c.newID()
	if err != nil {
		return false, fmt.Errorf("prompt id: %w", err)
	}
	answer := make(chan bool, 1)
	c.mu.Lock()
	c.prompts[promptID] = answer
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.prompts, promptID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(Frame{Type: FrameConfirm, ID: promptID, Message: message}); err != nil {
		return false, err
	}
	select {
	case approved := <-answer:
		return approved, nil
	case <-c.done:
		return false, window.ErrClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (c *Conn) readLoop() {
	defer c.Close()
	decoder := json.NewDecoder(c.ws)
	decodeErrors := 0
	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || isClosed(c.done) {
				return
			}
			decodeErrors++
			_ = c.writeFrame(Frame{Type: FrameError, Message: "invalid frame payload"})
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		switch frame.Type {
		case FrameMessage:
			if len(frame.Data) > maxFramePayloadBytes {
				_ = c.writeFrame(Frame{Type: FrameError, Message: "payload too large"})
				continue
			}
			origin, err := state.NormalizeOrigin(frame.Origin)
			if err != nil {
				_ = c.writeFrame(Frame{Type: FrameError, Message: "message origin is invalid"})
				continue
			}
			// Only the opener fixed at connect time may talk to this popup.
			if origin != c.openerOrigin {
				_ = c.writeFrame(Frame{Type: FrameError, Message: "message origin does not match opener"})
				continue
			}
			select {
			case c.events <- window.Event{Origin: origin, Data: []byte(frame.Data), Source: c}:
			case <-c.done:
				return
			}
		case FrameConfirmResult:
			c.mu.Lock()
			answer, ok := c.prompts[frame.ID]
			c.mu.Unlock()
			if !ok {
				continue
			}
			select {
			case answer <- frame.Approved:
			default:
			}
		default:
			_ = c.writeFrame(Frame{Type: FrameError, Message: "unsupported frame type"})
		}
	}
}

func isClosed(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

type connKey struct{}

func withConn(ctx context.Context, conn *Conn) context.Context {
	return context.WithValue(ctx, connKey{}, conn)
}

// ConnFromContext returns the bridged popup serving ctx.
func ConnFromContext(ctx context.Context) (*Conn, bool) {
	conn, ok := ctx.Value(connKey{}).(*Conn)
	return conn, ok && conn != nil
}

// Confirmer routes prompts to the popup whose handler owns ctx.
type Confirmer struct{}

// Confirm implements the service confirmer.
func (Confirmer) Confirm(ctx context.Context, message string) (bool, error) {
	conn, ok := ConnFromContext(ctx)
	if !ok {
		return false, apperrors.New(apperrors.CodePeerUnreachable, "no popup attached to request")
	}
	message = strings.TrimSpace(message)
	return conn.Confirm(ctx, message)
}

var _ window.Window = (*Conn)(nil)
