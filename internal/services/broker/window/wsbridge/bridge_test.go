package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/broker/window"
)

const (
	testPageOrigin = "https://broker.example"
	testToken      = "holder-token-0123456789"
)

type testClient struct {
	conn    *websocket.Conn
	encoder *json.Encoder
	decoder *json.Decoder
}

func newTestServer(t *testing.T, handler Handler) *httptest.Server {
	t.Helper()
	auth, err := NewTokenAuthorizer(testToken)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	srv := httptest.NewServer(NewHandler(handler, Config{PageOrigin: testPageOrigin, Authorizer: auth}))
	t.Cleanup(srv.Close)
	return srv
}

func dialConfig(t *testing.T, srv *httptest.Server, opener, origin, token string) *websocket.Config {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?opener=" + opener
	config, err := websocket.NewConfig(wsURL, origin)
	if err != nil {
		t.Fatalf("websocket config: %v", err)
	}
	if token != "" {
		config.Header.Set("Authorization", "Bearer "+token)
	}
	return config
}

func dialBridge(t *testing.T, handler Handler, opener string) *testClient {
	t.Helper()
	srv := newTestServer(t, handler)
	conn, err := websocket.DialConfig(dialConfig(t, srv, opener, testPageOrigin, testToken))
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	if err := conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	return &testClient{conn: conn, encoder: json.NewEncoder(conn), decoder: json.NewDecoder(conn)}
}

func (c *testClient) send(t *testing.T, frame Frame) {
	t.Helper()
	if err := c.encoder.Encode(frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func (c *testClient) receive(t *testing.T) Frame {
	t.Helper()
	var frame Frame
	if err := c.decoder.Decode(&frame); err != nil {
		t.Fatalf("receive frame: %v", err)
	}
	return frame
}

func TestBridgeRelaysMessagesAndPrompts(t *testing.T) {
	handler := func(ctx context.Context, win window.Window) {
		if win.Origin() != "https://app.example" {
			t.Errorf("expected opener origin, got %s", win.Origin())
			return
		}
		var ev window.Event
		select {
		case ev = <-win.Events():
		case <-ctx.Done():
			return
		}
		if err := ev.Source.PostMessage(ev.Data, ev.Origin); err != nil {
			t.Errorf("echo: %v", err)
			return
		}
		approved, err := Confirmer{}.Confirm(ctx, "  Proceed?  ")
		if err != nil {
			t.Errorf("confirm: %v", err)
			return
		}
		reply, _ := json.Marshal(map[string]bool{"approved": approved})
		if err := win.PostMessage(reply, window.AnyOrigin); err != nil {
			t.Errorf("post reply: %v", err)
		}
	}
	client := dialBridge(t, handler, "https://app.example")

	client.send(t, Frame{Type: FrameMessage, Origin: "https://App.Example", Data: json.RawMessage(`{"a":1}`)})
	echo := client.receive(t)
	if echo.Type != FramePost || string(echo.Data) != `{"a":1}` || echo.TargetOrigin != "https://app.example" {
		t.Fatalf("unexpected echo %+v", echo)
	}

	prompt := client.receive(t)
	if prompt.Type != FrameConfirm || prompt.Message != "Proceed?" || prompt.ID == "" {
		t.Fatalf("unexpected prompt %+v", prompt)
	}
	client.send(t, Frame{Type: FrameConfirmResult, ID: "unknown", Approved: false})
	client.send(t, Frame{Type: FrameConfirmResult, ID: prompt.ID, Approved: true})

	reply := client.receive(t)
	if reply.Type != FramePost || string(reply.Data) != `{"approved":true}` {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestBridgeRejectsBadFrames(t *testing.T) {
	delivered := make(chan window.Event, 1)
	handler := func(ctx context.Context, win window.Window) {
		select {
		case ev := <-win.Events():
			delivered <- ev
		case <-win.Done():
		case <-ctx.Done():
		}
	}
	client := dialBridge(t, handler, "https://app.example")

	client.send(t, Frame{Type: "shout"})
	if frame := client.receive(t); frame.Type != FrameError || frame.Message != "unsupported frame type" {
		t.Fatalf("unexpected frame %+v", frame)
	}
	client.send(t, Frame{Type: FrameMessage, Origin: "not an origin", Data: json.RawMessage(`{}`)})
	if frame := client.receive(t); frame.Type != FrameError || frame.Message != "message origin is invalid" {
		t.Fatalf("unexpected frame %+v", frame)
	}
	client.send(t, Frame{Type: FrameMessage, Origin: "https://bank.example", Data: json.RawMessage(`{}`)})
	if frame := client.receive(t); frame.Type != FrameError || frame.Message != "message origin does not match opener" {
		t.Fatalf("unexpected frame %+v", frame)
	}
	select {
	case ev := <-delivered:
		t.Fatalf("expected no event from a foreign origin, got %+v", ev)
	default:
	}
}

func TestBridgeRejectsForeignHandshakeOrigin(t *testing.T) {
	served := make(chan struct{}, 1)
	srv := newTestServer(t, func(context.Context, window.Window) {
		served <- struct{}{}
	})

	for _, origin := range []string{"http://evil.example", "https://app.example"} {
		conn, err := websocket.DialConfig(dialConfig(t, srv, "https://app.example", origin, testToken))
		if err == nil {
			conn.Close()
			t.Fatalf("expected handshake from %s to be refused", origin)
		}
	}
	select {
	case <-served:
		t.Fatal("expected no popup to be served")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgeRoutes(t *testing.T) {
	srv := newTestServer(t, func(context.Context, window.Window) {})
	unconfigured := httptest.NewServer(NewHandler(func(context.Context, window.Window) {}, Config{PageOrigin: testPageOrigin}))
	defer unconfigured.Close()

	tests := []struct {
		name   string
		base   string
		method string
		path   string
		token  string
		status int
	}{
		{name: "health", base: srv.URL, method: http.MethodGet, path: "/up", status: http.StatusOK},
		{name: "wrong method", base: srv.URL, method: http.MethodPost, path: "/ws?opener=https://app.example", token: testToken, status: http.StatusMethodNotAllowed},
		{name: "missing token", base: srv.URL, method: http.MethodGet, path: "/ws?opener=https://app.example", status: http.StatusUnauthorized},
		{name: "wrong token", base: srv.URL, method: http.MethodGet, path: "/ws?opener=https://app.example", token: "another-token-0123456789", status: http.StatusUnauthorized},
		{name: "missing opener", base: srv.URL, method: http.MethodGet, path: "/ws", token: testToken, status: http.StatusBadRequest},
		{name: "auth not configured", base: unconfigured.URL, method: http.MethodGet, path: "/ws?opener=https://app.example", token: testToken, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.base+tt.path, nil)
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("do: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestTokenAuthorizer(t *testing.T) {
	if _, err := NewTokenAuthorizer("short"); err == nil {
		t.Fatal("expected short token to be rejected")
	}
	auth, err := NewTokenAuthorizer("  " + testToken + " ")
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	if _, err := auth.Authenticate(context.Background(), testToken); err != nil {
		t.Fatalf("expected token to authenticate, got %v", err)
	}
	if _, err := auth.Authenticate(context.Background(), testToken+"x"); err == nil {
		t.Fatal("expected mismatched token to fail")
	}
	if _, err := (TokenAuthorizer{}).Authenticate(context.Background(), ""); err == nil {
		t.Fatal("expected unconfigured authorizer to fail")
	}
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if got := TokenFromRequest(req); got != "" {
		t.Fatalf("expected no token, got %q", got)
	}
	req.Header.Set("Authorization", "bearer  abc ")
	if got := TokenFromRequest(req); got != "abc" {
		t.Fatalf("expected bearer token, got %q", got)
	}
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "from-cookie"})
	if got := TokenFromRequest(req); got != "from-cookie" {
		t.Fatalf("expected cookie to win, got %q", got)
	}
}

func TestRequireHolder(t *testing.T) {
	auth, err := NewTokenAuthorizer(testToken)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	handler := RequireHolder(auth, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: testToken})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestConfirmerWithoutConnection(t *testing.T) {
	_, err := Confirmer{}.Confirm(context.Background(), "Proceed?")
	if !apperrors.HasCode(err, apperrors.CodePeerUnreachable) {
		t.Fatalf("expected peer unreachable, got %v", err)
	}
}
