package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/message"

	apperrors "github.com/louisbranch/masquerade/internal/platform/errors"
	"github.com/louisbranch/masquerade/internal/platform/i18n/catalog"
	platformotel "github.com/louisbranch/masquerade/internal/platform/otel"
	"github.com/louisbranch/masquerade/internal/services/masks/guard"
	"github.com/louisbranch/masquerade/internal/services/masks/identity"
	"github.com/louisbranch/masquerade/internal/services/masks/state"
	"github.com/louisbranch/masquerade/internal/services/masks/storage"
)

// DefaultSessionFreshness is how long a session may sign without a fresh
// confirmation.
const DefaultSessionFreshness = 2 * time.Hour

// MaxPseudonymLength bounds edited pseudonyms, in runes.
const MaxPseudonymLength = 64

// Config holds policy values.
type Config struct {
	// TrustedOrigin is the broker's own origin. Requests from it skip the
	// freshness prompt and are the only ones reviewed as value transfers.
	TrustedOrigin string
	// SessionFreshness defaults to DefaultSessionFreshness.
	SessionFreshness time.Duration
	// Locale selects the prompt language; empty means the catalog base.
	Locale string
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Service owns the state document.
type Service struct {
	root      *identity.Root
	store     storage.Store
	repo      state.Repository
	confirmer Confirmer
	guard     *guard.Guard
	freshness time.Duration
	trusted   string
	printer   *message.Printer
	clock     func() time.Time
	tracer    trace.Tracer
	queue     chan struct{}
}

// New builds a service over store. The guard's trusted origin must match
// cfg.TrustedOrigin.
func New(cfg Config, root *identity.Root, store storage.Store, confirmer Confirmer, g *guard.Guard) (*Service, error) {
	if root == nil {
		return nil, fmt.Errorf("root secret is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if confirmer == nil {
		return nil, fmt.Errorf("confirmer is required")
	}
	trusted, err := state.NormalizeOrigin(cfg.TrustedOrigin)
	if err != nil {
		return nil, fmt.Errorf("trusted origin: %w", err)
	}
	locale := cfg.Locale
	if locale == "" {
		locale = catalog.BaseLocale
	}
	if g == nil {
		registry, err := guard.NewRegistry()
		if err != nil {
			return nil, err
		}
		g = guard.New(registry, trusted, locale)
	}
	if g.TrustedOrigin() != trusted {
		return nil, fmt.Errorf("guard trusted origin %q does not match %q", g.TrustedOrigin(), trusted)
	}
	freshness := cfg.SessionFreshness
	if freshness <= 0 {
		freshness = DefaultSessionFreshness
	}
	return &Service{
		root:      root,
		store:     store,
		repo:      state.NewRepository(),
		confirmer: confirmer,
		guard:     g,
		freshness: freshness,
		trusted:   trusted,
		printer:   catalog.Default().Printer(locale),
		clock:     time.Now,
		tracer:    platformotel.Tracer(cfg.TracerProvider, "services/masks/service"),
		queue:     make(chan struct{}, 1),
	}, nil
}

// TrustedOrigin returns the normalised broker origin.
func (s *Service) TrustedOrigin() string {
	return s.trusted
}

// Guard returns the signing guard.
func (s *Service) Guard() *guard.Guard {
	return s.guard
}

// acquire waits for the single-writer slot.
func (s *Service) acquire(ctx context.Context) (func(), error) {
	select {
	case s.queue <- struct{}{}:
		return func() { <-s.queue }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run executes fn as one queued operation with a span around it.
func (s *Service) run(ctx context.Context, op string, origin string, fn func(context.Context) error) (err error) {
	ctx, span := s.tracer.Start(ctx, "masks."+op, trace.WithAttributes(attribute.String("masks.origin", origin)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if apperrors.CodeOf(err).Fatal() {
				log.Printf("%s aborted: %v", op, err)
			}
		}
		span.End()
	}()

	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// mutate loads the document, runs fn and saves the document when fn asks to
// commit. A result error returned alongside commit=true is reported after the
// write succeeds.
func (s *Service) mutate(ctx context.Context, fn func(doc *state.State) (commit bool, result error)) error {
	var result error
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		doc, err := s.repo.Load(tx)
		if err != nil {
			return err
		}
		commit, fnErr := fn(doc)
		if !commit {
			return fnErr
		}
		result = fnErr
		return s.repo.Save(tx, doc)
	})
	if err != nil {
		return err
	}
	return result
}

func (s *Service) read(ctx context.Context, fn func(doc *state.State) error) error {
	return s.store.View(ctx, func(tx storage.Tx) error {
		doc, err := s.repo.Load(tx)
		if err != nil {
			return err
		}
		return fn(doc)
	})
}

// newMask derives the public identity stored for (origin, index).
func (s *Service) newMask(origin string, index uint32) (state.Mask, error) {
	keys, err := s.root.DeriveIdentity(identity.NamespaceOrigin, origin, index, nil)
	if err != nil {
		return state.Mask{}, err
	}
	principal := identity.PrincipalFromPublicKey(keys.Public)
	return state.Mask{
		Index:     index,
		Pseudonym: identity.Pseudonym(principal),
		PublicID:  principal.String(),
	}, nil
}

func (s *Service) confirm(ctx context.Context, format string, args ...any) (bool, error) {
	ok, err := s.confirmer.Confirm(ctx, s.printer.Sprintf(format, args...))
	if err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	return ok, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func normalizePair(a, b string) (string, string, error) {
	first, err := state.NormalizeOrigin(a)
	if err != nil {
		return "", "", err
	}
	second, err := state.NormalizeOrigin(b)
	if err != nil {
		return "", "", err
	}
	return first, second, nil
}

func unauthorized(message, origin string) error {
	return apperrors.WithMetadata(apperrors.CodeUnauthorized, message, map[string]string{"origin": origin})
}

func unknownMask(origin string, index uint32) error {
	return apperrors.WithMetadata(apperrors.CodeUnknownMask, "unknown mask", map[string]string{
		"origin": origin,
		"index":  fmt.Sprint(index),
	})
}
