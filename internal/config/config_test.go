package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neomorfeo/tenantgate/internal/config"
)

const secret = "0123456789abcdef0123"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadFrom_DefaultsWithEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TENANTGATE_AUTH__JWT_SECRET", secret)
	t.Setenv("TENANTGATE_CREDENTIALS__KEY", "a2V5")

	cfg, err := config.LoadFrom(config.Sources{})
	if err != nil {
		t.Fatalf("LoadFrom error: %v", err)
	}

	if cfg.HTTP.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.HTTP.ListenAddr, ":8080")
	}
	if cfg.Queue.MaxRetries != 3 || cfg.Queue.BatchSize != 5 || cfg.Queue.LeaseTTL != 30*time.Minute {
		t.Errorf("Queue = %+v, want defaults", cfg.Queue)
	}
	if cfg.Auth.JWTSecret != secret {
		t.Errorf("JWTSecret = %q, want %q", cfg.Auth.JWTSecret, secret)
	}
	if cfg.Entitlements.GraceDays != 7 {
		t.Errorf("GraceDays = %d, want 7", cfg.Entitlements.GraceDays)
	}
}

func TestLoadFrom_Precedence(t *testing.T) {
	yamlPath := writeFile(t, "config.yaml", `
http:
  listen_addr: "127.0.0.1:9000"
auth:
  jwt_secret: "from-yaml-secret-value"
credentials:
  key: "a2V5"
tenants:
  subdomain_suffix: ".yaml.example"
  auto_provision: false
queue:
  pass_interval: 2m
`)
	envPath := writeFile(t, ".env", "TENANTGATE_TENANTS__SUBDOMAIN_SUFFIX=.dotenv.example\n")
	t.Setenv("TENANTGATE_HTTP__LISTEN_ADDR", "127.0.0.1:9100")
	// Restored on cleanup, so the value godotenv sets does not leak.
	t.Setenv("TENANTGATE_TENANTS__SUBDOMAIN_SUFFIX", "")
	os.Unsetenv("TENANTGATE_TENANTS__SUBDOMAIN_SUFFIX")

	cfg, err := config.LoadFrom(config.Sources{EnvFile: envPath, File: yamlPath})
	if err != nil {
		t.Fatalf("LoadFrom error: %v", err)
	}

	if cfg.HTTP.ListenAddr != "127.0.0.1:9100" {
		t.Errorf("ListenAddr = %q, want env value", cfg.HTTP.ListenAddr)
	}
	if cfg.Tenants.SubdomainSuffix != ".dotenv.example" {
		t.Errorf("SubdomainSuffix = %q, want .env value", cfg.Tenants.SubdomainSuffix)
	}
	if cfg.Tenants.AutoProvision {
		t.Error("AutoProvision = true, want YAML value false")
	}
	if cfg.Queue.PassInterval != 2*time.Minute {
		t.Errorf("PassInterval = %v, want 2m", cfg.Queue.PassInterval)
	}
	if cfg.Queue.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want default 5", cfg.Queue.BatchSize)
	}
}

func TestLoadFrom_MissingExplicitFile(t *testing.T) {
	_, err := config.LoadFrom(config.Sources{File: filepath.Join(t.TempDir(), "absent.yaml")})
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TENANTGATE_AUTH__JWT_SECRET", "short")
	t.Setenv("TENANTGATE_PROVISIONER__DRIVER", "postgres")

	_, err := config.LoadFrom(config.Sources{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"Auth.JWTSecret", "Provisioner.Driver", "Credentials.Key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_RedisLimiterNeedsAddress(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.JWTSecret = secret
	cfg.Credentials.Key = "a2V5"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	cfg.Auth.Limiter = "redis"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "Auth.RedisAddr") {
		t.Errorf("Validate = %v, want RedisAddr error", err)
	}
}
