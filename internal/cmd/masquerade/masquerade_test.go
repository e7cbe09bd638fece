package masquerade

import (
	"context"
	"encoding/base64"
	"flag"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/masquerade/internal/services/masks/identity"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("masquerade", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "localhost:8090" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.TrustedOrigin != "https://masquerade.local" {
		t.Fatalf("expected default trusted origin, got %q", cfg.TrustedOrigin)
	}
	if cfg.SessionFreshness != 2*time.Hour || cfg.AssertionTTL != 5*time.Minute {
		t.Fatalf("unexpected durations %v %v", cfg.SessionFreshness, cfg.AssertionTTL)
	}
	if cfg.Store != StoreSQLite || cfg.DBPath != "data/masquerade.db" {
		t.Fatalf("unexpected store %q at %q", cfg.Store, cfg.DBPath)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("MASQUERADE_HTTP_ADDR", "env:1")
	t.Setenv("MASQUERADE_STORE", "memory")
	t.Setenv("MASQUERADE_SESSION_FRESHNESS", "30m")
	t.Setenv("MASQUERADE_ASSETS", "mxzaz-hqaaa-aaaar-qaada-cai:ckBTC:10, ryjl3-tyaaa-aaaaa-aaaba-cai:ICP:10000")
	t.Setenv("MASQUERADE_OPENERS", "https://a.example,https://b.example")

	fs := flag.NewFlagSet("masquerade", flag.ContinueOnError)
	args := []string{
		"-http-addr", "flag:2",
		"-store", " BBOLT ",
		"-dev-root",
		"-locale", "pt-BR",
	}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "flag:2" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.Store != StoreBolt {
		t.Fatalf("expected bbolt store, got %q", cfg.Store)
	}
	if !cfg.DevRoot {
		t.Fatal("expected dev root")
	}
	if cfg.Locale != "pt-BR" {
		t.Fatalf("expected flag locale, got %q", cfg.Locale)
	}
	if cfg.SessionFreshness != 30*time.Minute {
		t.Fatalf("expected env freshness, got %v", cfg.SessionFreshness)
	}
	if len(cfg.Assets) != 2 || len(cfg.Openers) != 2 {
		t.Fatalf("unexpected lists %q %q", cfg.Assets, cfg.Openers)
	}
}

func TestLoadRoot(t *testing.T) {
	secret := make([]byte, identity.RootSecretSize)
	for i := range secret {
		secret[i] = byte(i)
	}

	if _, err := loadRoot(Config{RootSecret: base64.StdEncoding.EncodeToString(secret)}); err != nil {
		t.Fatalf("expected configured root, got %v", err)
	}
	if _, err := loadRoot(Config{RootSecret: "c2hvcnQ="}); err == nil {
		t.Fatal("expected error for short secret")
	}
	if _, err := loadRoot(Config{DevRoot: true}); err != nil {
		t.Fatalf("expected dev root, got %v", err)
	}
	if _, err := loadRoot(Config{}); err == nil {
		t.Fatal("expected error without secret")
	}
}

func TestBridgeConfig(t *testing.T) {
	const page = "https://masquerade.local"
	bridge, err := bridgeConfig(Config{HolderToken: " holder-token-0123456789 "}, page)
	if err != nil {
		t.Fatalf("bridge config: %v", err)
	}
	if bridge.PageOrigin != page {
		t.Fatalf("expected page origin %s, got %s", page, bridge.PageOrigin)
	}
	if _, err := bridge.Authorizer.Authenticate(context.Background(), "holder-token-0123456789"); err != nil {
		t.Fatalf("expected configured token to authenticate, got %v", err)
	}

	if _, err := bridgeConfig(Config{HolderToken: "short"}, page); err == nil {
		t.Fatal("expected short token to be rejected")
	}
	if _, err := bridgeConfig(Config{}, page); err == nil {
		t.Fatal("expected missing token to be rejected")
	}
	if _, err := bridgeConfig(Config{DevRoot: true}, page); err != nil {
		t.Fatalf("expected dev root to generate a token, got %v", err)
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory", cfg: Config{Store: StoreMemory}},
		{name: "sqlite", cfg: Config{Store: StoreSQLite, DBPath: filepath.Join(dir, "sqlite", "masquerade.db")}},
		{name: "bbolt", cfg: Config{Store: StoreBolt, DBPath: filepath.Join(dir, "bolt", "masquerade.bolt")}},
		{name: "unknown", cfg: Config{Store: "postgres"}, wantErr: true},
	}
	for _, tt := range tests {
		store, err := openStore(tt.cfg)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: open store: %v", tt.name, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("%s: close store: %v", tt.name, err)
		}
	}
}

func TestNewService(t *testing.T) {
	root, err := identity.NewRandomRoot()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	store, err := openStore(Config{Store: StoreMemory})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	svc, err := newService(Config{
		TrustedOrigin: "https://masquerade.local",
		Assets:        []string{"mxzaz-hqaaa-aaaar-qaada-cai:ckBTC:10"},
	}, root, store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, ok := svc.Guard().Registry().BySymbol("ckbtc"); !ok {
		t.Fatal("expected configured asset registered")
	}

	if _, err := newService(Config{TrustedOrigin: "https://masquerade.local", Assets: []string{"bad"}}, root, store); err == nil {
		t.Fatal("expected error for malformed asset")
	}
	if _, err := newService(Config{TrustedOrigin: "not an origin"}, root, store); err == nil {
		t.Fatal("expected error for invalid trusted origin")
	}
}
