// Package masquerade parses broker command flags and composes the popup
// host, mask service and storage backend.
package masquerade

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/masquerade/internal/platform/cmd"
	"github.com/louisbranch/masquerade/internal/platform/id"
	"github.com/louisbranch/masquerade/internal/services/broker/window/wsbridge"
	server "github.com/louisbranch/masquerade/internal/services/masks/app"
	"github.com/louisbranch/masquerade/internal/services/masks/guard"
	"github.com/louisbranch/masquerade/internal/services/masks/identity"
	"github.com/louisbranch/masquerade/internal/services/masks/service"
	"github.com/louisbranch/masquerade/internal/services/masks/state"
	"github.com/louisbranch/masquerade/internal/services/masks/storage"
	boltstore "github.com/louisbranch/masquerade/internal/services/masks/storage/bbolt"
	"github.com/louisbranch/masquerade/internal/services/masks/storage/memory"
	"github.com/louisbranch/masquerade/internal/services/masks/storage/sqlite"
)

// Storage backends.
const (
	StoreSQLite = "sqlite"
	StoreBolt   = "bbolt"
	StoreMemory = "memory"
)

// Config holds masquerade command configuration.
type Config struct {
	RootSecret       string        `env:"MASQUERADE_ROOT_SECRET"`
	DevRoot          bool          `env:"MASQUERADE_DEV_ROOT"`
	HolderToken      string        `env:"MASQUERADE_HOLDER_TOKEN"`
	TrustedOrigin    string        `env:"MASQUERADE_TRUSTED_ORIGIN"    envDefault:"https://masquerade.local"`
	SessionFreshness time.Duration `env:"MASQUERADE_SESSION_FRESHNESS" envDefault:"2h"`
	AssertionTTL     time.Duration `env:"MASQUERADE_ASSERTION_TTL"     envDefault:"5m"`
	Locale           string        `env:"MASQUERADE_LOCALE"            envDefault:"en-US"`
	Assets           []string      `env:"MASQUERADE_ASSETS"            envSeparator:","`
	Openers          []string      `env:"MASQUERADE_OPENERS"           envSeparator:","`
	Store            string        `env:"MASQUERADE_STORE"             envDefault:"sqlite"`
	DBPath           string        `env:"MASQUERADE_DB_PATH"           envDefault:"data/masquerade.db"`
	HTTPAddr         string        `env:"MASQUERADE_HTTP_ADDR"         envDefault:"localhost:8090"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.BoolVar(&cfg.DevRoot, "dev-root", cfg.DevRoot, "use a throwaway random root secret")
	fs.StringVar(&cfg.TrustedOrigin, "trusted-origin", cfg.TrustedOrigin, "origin of the broker's own pages")
	fs.DurationVar(&cfg.SessionFreshness, "session-freshness", cfg.SessionFreshness, "session age after which signing asks again")
	fs.DurationVar(&cfg.AssertionTTL, "assertion-ttl", cfg.AssertionTTL, "lifetime of login assertions")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "language of confirmation prompts")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "storage backend: sqlite, bbolt or memory")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "storage file path")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	return cfg, nil
}

// Run builds the broker and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMasquerade, func(ctx context.Context) error {
		root, err := loadRoot(cfg)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("close store: %v", err)
			}
		}()

		svc, err := newService(cfg, root, store)
		if err != nil {
			return err
		}
		host, err := server.NewHost(svc, server.Config{AssertionTTL: cfg.AssertionTTL, Openers: cfg.Openers})
		if err != nil {
			return fmt.Errorf("init popup host: %w", err)
		}
		bridge, err := bridgeConfig(cfg, svc.TrustedOrigin())
		if err != nil {
			return err
		}
		srv, err := server.NewServer(host, svc, server.ServerConfig{HTTPAddr: cfg.HTTPAddr, Bridge: bridge})
		if err != nil {
			return fmt.Errorf("init server: %w", err)
		}
		if err := srv.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve masquerade: %w", err)
		}
		return nil
	})
}

func newService(cfg Config, root *identity.Root, store storage.Store) (*service.Service, error) {
	assets, err := guard.ParseAssets(cfg.Assets)
	if err != nil {
		return nil, fmt.Errorf("parse assets: %w", err)
	}
	registry, err := guard.NewRegistry(assets...)
	if err != nil {
		return nil, fmt.Errorf("build asset registry: %w", err)
	}
	trusted, err := state.NormalizeOrigin(cfg.TrustedOrigin)
	if err != nil {
		return nil, fmt.Errorf("trusted origin: %w", err)
	}
	svc, err := service.New(service.Config{
		TrustedOrigin:    trusted,
		SessionFreshness: cfg.SessionFreshness,
		Locale:           cfg.Locale,
	}, root, store, wsbridge.Confirmer{}, guard.New(registry, trusted, cfg.Locale))
	if err != nil {
		return nil, fmt.Errorf("init mask service: %w", err)
	}
	return svc, nil
}

// bridgeConfig accepts sockets and API calls only from the broker page at
// pageOrigin presenting the holder token.
func bridgeConfig(cfg Config, pageOrigin string) (wsbridge.Config, error) {
	token := strings.TrimSpace(cfg.HolderToken)
	if token == "" {
		if !cfg.DevRoot {
			return wsbridge.Config{}, errors.New("MASQUERADE_HOLDER_TOKEN is required (or pass -dev-root)")
		}
		generated, err := id.NewID()
		if err != nil {
			return wsbridge.Config{}, fmt.Errorf("generate holder token: %w", err)
		}
		token = generated
		log.Printf("using a random holder token for this run: %s", token)
	}
	auth, err := wsbridge.NewTokenAuthorizer(token)
	if err != nil {
		return wsbridge.Config{}, fmt.Errorf("holder token: %w", err)
	}
	return wsbridge.Config{PageOrigin: pageOrigin, Authorizer: auth}, nil
}

func loadRoot(cfg Config) (*identity.Root, error) {
	secret := strings.TrimSpace(cfg.RootSecret)
	switch {
	case secret != "":
		root, err := identity.ParseRoot(secret)
		if err != nil {
			return nil, fmt.Errorf("parse root secret: %w", err)
		}
		return root, nil
	case cfg.DevRoot:
		log.Printf("using a random root secret; masks will not survive a restart")
		return identity.NewRandomRoot()
	default:
		return nil, errors.New("MASQUERADE_ROOT_SECRET is required (or pass -dev-root)")
	}
}

func openStore(cfg Config) (storage.Store, error) {
	if cfg.Store == StoreSQLite || cfg.Store == StoreBolt {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
	}
	switch cfg.Store {
	case StoreSQLite:
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case StoreBolt:
		store, err := boltstore.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open bbolt store: %w", err)
		}
		return store, nil
	case StoreMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
