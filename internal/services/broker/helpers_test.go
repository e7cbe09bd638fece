package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/louisbranch/masquerade/internal/services/broker/window"
	"github.com/louisbranch/masquerade/internal/services/broker/window/memory"
)

const (
	testOpenerOrigin = "https://app.example"
	testPopupOrigin  = "https://broker.example"
	testPopupURL     = "https://broker.example/authorize"
	testWait         = 2 * time.Second
)

// pairOpener hands out a prepared window instead of booting a page.
type pairOpener struct {
	win   window.Window
	opens int
}

func (o *pairOpener) Open(context.Context, string) (window.Window, error) {
	o.opens++
	return o.win, nil
}

func newTestPair() (*memory.End, *memory.End) {
	return memory.Pair(testOpenerOrigin, testPopupOrigin)
}

func encodeEnvelope(t *testing.T, kind MessageType, route Route, nonce string, payload any) []byte {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		raw = encoded
	}
	data, err := newEnvelope(kind, route, nonce, raw).encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return data
}

func readEvent(t *testing.T, events <-chan window.Event) window.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(testWait):
		t.Fatal("timed out waiting for a message")
		return window.Event{}
	}
}

func readEnvelope(t *testing.T, events <-chan window.Event) (Envelope, window.Event) {
	t.Helper()
	ev := readEvent(t, events)
	env, ok := decodeEnvelope(ev.Data)
	if !ok {
		t.Fatalf("expected broker envelope, got %q", ev.Data)
	}
	return env, ev
}

func expectSilence(t *testing.T, events <-chan window.Event, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("expected no message, got %q", ev.Data)
	case <-time.After(wait):
	}
}

func waitState(t *testing.T, flow *Flow, want State) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for flow.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected state %s, got %s", want, flow.State())
		}
		time.Sleep(time.Millisecond)
	}
}
