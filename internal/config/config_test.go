package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Admin.Address = "0x1111111111111111111111111111111111111111"
	cfg.Vault.Seed = "seed material"
	cfg.Vault.KeyPassword = "pw"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "replay"
	cfg.Market.PlatformFee = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"unknown mode", "admin: address", "vault: seed", "platform_fee"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidate_ArchiveRequiresBucket(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "archive"
	cfg.S3.Bucket = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "s3: bucket") {
		t.Fatalf("got %v, want bucket violation", err)
	}
}

func TestLockTTL(t *testing.T) {
	cfg := validConfig()
	cfg.Market.LockTTLSeconds = 7
	if got := cfg.LockTTL(); got != 7*time.Second {
		t.Fatalf("LockTTL = %v", got)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deedmarket.toml")
	const raw = `
mode = "serve"
log_level = "debug"

[admin]
address = "0x1111111111111111111111111111111111111111"

[vault]
seed = "file seed"
key_password = "file-pw"

[market]
platform_fee = 9

[server]
port = 9090
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DEEDMARKET_MARKET_PLATFORM_FEE", "12")
	t.Setenv("DEEDMARKET_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d, want file value 9090", cfg.Server.Port)
	}
	if cfg.Vault.Seed != "file seed" {
		t.Fatalf("seed = %q", cfg.Vault.Seed)
	}
	// Environment beats the file.
	if cfg.Market.PlatformFee != 12 {
		t.Fatalf("platform_fee = %d, want env value 12", cfg.Market.PlatformFee)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Fatalf("redis addr = %q", cfg.Redis.Addr)
	}
	// Untouched fields keep their defaults.
	if cfg.Postgres.Host != "localhost" {
		t.Fatalf("postgres host = %q", cfg.Postgres.Host)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
