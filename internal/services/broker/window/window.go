// Package window models browser windows exchanging postMessage events.
//
// A Window is one side's handle on the other window of an opener/popup pair:
// PostMessage delivers to the other window, Events yields what the other
// window (or anyone else holding a reference to this page) posted here, and
// Done is closed once the pair is broken by either side closing or
// navigating away.
package window

import (
	"context"
	"errors"
)

// ErrClosed is returned when posting to a window that is gone.
var ErrClosed = errors.New("window is closed")

// AnyOrigin as a target origin delivers regardless of the receiver's origin.
const AnyOrigin = "*"

// Event is one received message.
type Event struct {
	// Origin is the sender page's origin as reported by the runtime.
	Origin string
	Data   []byte
	// Source posts back to the sender.
	Source Port
}

// Port posts messages to a window. Delivery happens only when the receiving
// window's origin equals targetOrigin or targetOrigin is AnyOrigin;
// otherwise the message is silently dropped.
type Port interface {
	PostMessage(data []byte, targetOrigin string) error
}

// Window is a handle on the other window of a pair.
type Window interface {
	Port
	// Origin is the current origin of the other window.
	Origin() string
	Events() <-chan Event
	Done() <-chan struct{}
	Close() error
}

// Opener opens popups, like window.open.
type Opener interface {
	Open(ctx context.Context, url string) (Window, error)
}

// Matches reports whether a message addressed to targetOrigin may be
// delivered to a window at origin.
func Matches(targetOrigin, origin string) bool {
	return targetOrigin == AnyOrigin || targetOrigin == origin
}
