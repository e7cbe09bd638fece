// Package memory provides an in-process window.Opener for embedded hosts and
// tests.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/services/broker/window"
	"github.com/louisbranch/masquerade/internal/services/masks/state"
)

const inboxSize = 64

// BootFunc runs the page loaded into a popup. win is the popup's handle on
// its opener. ctx ends when the pair is broken.
type BootFunc func(ctx context.Context, win window.Window)

// Hub routes messages between pages it created.
type Hub struct {
	mu    sync.Mutex
	pages map[string]BootFunc
	wg    sync.WaitGroup
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{pages: map[string]BootFunc{}}
}

// Register serves boot for popups opened at origin.
func (h *Hub) Register(origin string, boot BootFunc) error {
	normalized, err := state.NormalizeOrigin(origin)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pages[normalized] = boot
	return nil
}

// Opener returns an opener for pages at origin.
func (h *Hub) Opener(origin string) window.Opener {
	return opener{hub: h, origin: origin}
}

// Wait blocks until every booted page has returned.
func (h *Hub) Wait() {
	h.wg.Wait()
}

type opener struct {
	hub    *Hub
	origin string
}

// Open boots the page registered for the URL's origin in a new popup.
func (o opener) Open(ctx context.Context, rawURL string) (window.Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := pageOrigin(rawURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeWindowOpenFailed, "open window", err)
	}
	o.hub.mu.Lock()
	boot, ok := o.hub.pages[target]
	o.hub.mu.Unlock()
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeWindowOpenFailed, "no page registered", map[string]string{"origin": target})
	}

	openerSide, popupSide := Pair(o.origin, target)
	bootCtx, cancel := context.WithCancel(context.Background())
	o.hub.wg.Add(1)
	go func() {
		defer o.hub.wg.Done()
		<-popupSide.Done()
		cancel()
	}()
	o.hub.wg.Add(1)
	go func() {
		defer o.hub.wg.Done()
		boot(bootCtx, popupSide)
	}()
	return openerSide, nil
}

func pageOrigin(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q has no origin", rawURL)
	}
	return state.NormalizeOrigin(parsed.Scheme + "://" + parsed.Host)
}

// pair is the shared lifetime of two connected pages.
type pair struct {
	done      chan struct{}
	closeOnce sync.Once
}

func (p *pair) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

type page struct {
	origin string
	inbox  chan window.Event
}

// End is one side's handle on the other page of a pair.
type End struct {
	pair   *pair
	local  *page
	remote *page
	peer   *End
}

// Pair connects a page at openerOrigin with a popup at popupOrigin and
// returns each side's handle on the other.
func Pair(openerOrigin, popupOrigin string) (openerSide, popupSide *End) {
	shared := &pair{done: make(chan struct{})}
	openerPage := &page{origin: openerOrigin, inbox: make(chan window.Event, inboxSize)}
	popupPage := &page{origin: popupOrigin, inbox: make(chan window.Event, inboxSize)}
	openerSide = &End{pair: shared, local: openerPage, remote: popupPage}
	popupSide = &End{pair: shared, local: popupPage, remote: openerPage}
	openerSide.peer = popupSide
	popupSide.peer = openerSide
	return openerSide, popupSide
}

// PostMessage delivers data to the other page when targetOrigin matches it.
func (e *End) PostMessage(data []byte, targetOrigin string) error {
	if !window.Matches(targetOrigin, e.remote.origin) {
		return nil
	}
	// The receiver replies through its own handle on this page.
	return e.peer.Inject(window.Event{
		Origin: e.local.origin,
		Data:   append([]byte(nil), data...),
		Source: e.peer,
	})
}

// Inject queues ev on the local page as if another window had posted it.
func (e *End) Inject(ev window.Event) error {
	select {
	case <-e.pair.done:
		return window.ErrClosed
	default:
	}
	select {
	case e.local.inbox <- ev:
		return nil
	case <-e.pair.done:
		return window.ErrClosed
	}
}

// Origin returns the other page's origin.
func (e *End) Origin() string {
	return e.remote.origin
}

// LocalOrigin returns this page's origin.
func (e *End) LocalOrigin() string {
	return e.local.origin
}

// Events yields messages posted to this page.
func (e *End) Events() <-chan window.Event {
	return e.local.inbox
}

// Done is closed when either side closes.
func (e *End) Done() <-chan struct{} {
	return e.pair.done
}

// Close breaks the pair.
func (e *End) Close() error {
	e.pair.close()
	return nil
}

var _ window.Window = (*End)(nil)
