// Package config loads tenantgate configuration from an optional .env file,
// an optional YAML file and TENANTGATE_ environment variables, in that order
// of precedence (last wins).
package config

import "time"

// HTTP holds server settings.
type HTTP struct {
	ListenAddr      string        `koanf:"listen_addr" validate:"required,hostname_port"`
	AdminToken      string        `koanf:"admin_token"`
	WebhookSecret   string        `koanf:"webhook_secret"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// Database locates the service's own SQLite database.
type Database struct {
	Path string `koanf:"path" validate:"required"`
}

// Tenants holds the defaults applied to new tenants.
type Tenants struct {
	SubdomainSuffix string `koanf:"subdomain_suffix"`
	DatabasePrefix  string `koanf:"database_prefix" validate:"max=16"`
	StorageLimit    int64  `koanf:"storage_limit" validate:"gte=0"`
	UserLimit       int    `koanf:"user_limit" validate:"gte=0"`
	AutoProvision   bool   `koanf:"auto_provision"`
	DefaultPriority int    `koanf:"default_priority"`
}

// Queue bounds the provisioning queue and its scheduled pass. A zero
// interval disables the pass.
type Queue struct {
	MaxRetries   int           `koanf:"max_retries" validate:"gte=1"`
	BatchSize    int           `koanf:"batch_size" validate:"gte=1"`
	LeaseTTL     time.Duration `koanf:"lease_ttl" validate:"gt=0"`
	PassInterval time.Duration `koanf:"pass_interval" validate:"gte=0"`
	Workers      int           `koanf:"workers" validate:"gte=1"`
}

// Entitlements configures module access.
type Entitlements struct {
	GraceDays     int           `koanf:"grace_days" validate:"gte=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gte=0"`
}

// MySQL is the administrative connection of the MySQL provisioner.
type MySQL struct {
	DSN       string `koanf:"dsn"`
	MaxOpen   int    `koanf:"max_open" validate:"gte=0"`
	MaxIdle   int    `koanf:"max_idle" validate:"gte=0"`
	GrantHost string `koanf:"grant_host"`
}

// Provisioner selects where tenant databases live.
type Provisioner struct {
	Driver    string `koanf:"driver" validate:"oneof=sqlite mysql"`
	DataDir   string `koanf:"data_dir" validate:"required_if=Driver sqlite"`
	BackupDir string `koanf:"backup_dir" validate:"required"`
	MySQL     MySQL  `koanf:"mysql"`
}

// Vault addresses the KV v2 engine holding tenant credentials.
type Vault struct {
	Address string `koanf:"address"`
	Token   string `koanf:"token"`
	Mount   string `koanf:"mount"`
	Prefix  string `koanf:"prefix"`
}

// Credentials selects the tenant credential store. Key is the base64
// encoded 32-byte key of the sealed store.
type Credentials struct {
	Backend string `koanf:"backend" validate:"oneof=sealed vault"`
	Key     string `koanf:"key" validate:"required_if=Backend sealed"`
	Vault   Vault  `koanf:"vault"`
}

// Auth configures session tokens and API-key rate limiting.
type Auth struct {
	JWTSecret    string        `koanf:"jwt_secret" validate:"required,min=16"`
	SessionTTL   time.Duration `koanf:"session_ttl" validate:"gt=0"`
	KeyRateLimit int           `koanf:"key_rate_limit" validate:"gte=1"`
	RateWindow   time.Duration `koanf:"rate_window" validate:"gt=0"`
	Limiter      string        `koanf:"limiter" validate:"oneof=memory redis"`
	RedisAddr    string        `koanf:"redis_addr" validate:"required_if=Limiter redis"`
	RedisPrefix  string        `koanf:"redis_prefix"`
}

// Commerce addresses the commerce platform's REST API. An empty BaseURL
// disables order lookups.
type Commerce struct {
	BaseURL        string        `koanf:"base_url" validate:"omitempty,url"`
	ConsumerKey    string        `koanf:"consumer_key"`
	ConsumerSecret string        `koanf:"consumer_secret"`
	Timeout        time.Duration `koanf:"timeout" validate:"gt=0"`
	RetryMax       int           `koanf:"retry_max" validate:"gte=0"`
}

// Log configures the zap logger. An empty Dir logs to stderr only.
type Log struct {
	Level      string `koanf:"level" validate:"oneof=debug info warn error"`
	Dir        string `koanf:"dir"`
	Console    bool   `koanf:"console"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"gte=1"`
	MaxBackups int    `koanf:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"gte=0"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Exporter    string  `koanf:"exporter" validate:"oneof=none stdout otlp"`
	Environment string  `koanf:"environment"`
	Insecure    bool    `koanf:"insecure"`
	SampleRatio float64 `koanf:"sample_ratio" validate:"gte=0,lte=1"`
}

// Config is the full service configuration.
type Config struct {
	HTTP         HTTP         `koanf:"http"`
	Database     Database     `koanf:"database"`
	Tenants      Tenants      `koanf:"tenants"`
	Queue        Queue        `koanf:"queue"`
	Entitlements Entitlements `koanf:"entitlements"`
	Provisioner  Provisioner  `koanf:"provisioner"`
	Credentials  Credentials  `koanf:"credentials"`
	Auth         Auth         `koanf:"auth"`
	Commerce     Commerce     `koanf:"commerce"`
	Log          Log          `koanf:"log"`
	Telemetry    Telemetry    `koanf:"telemetry"`
}

// Default returns the configuration used for every key the sources leave
// unset.
func Default() Config {
	return Config{
		HTTP: HTTP{
			ListenAddr:      ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: Database{Path: "tenantgate.db"},
		Tenants: Tenants{
			SubdomainSuffix: "",
			DatabasePrefix:  "tg_",
			StorageLimit:    5 << 30,
			UserLimit:       10,
			AutoProvision:   true,
			DefaultPriority: 10,
		},
		Queue: Queue{
			MaxRetries:   3,
			BatchSize:    5,
			LeaseTTL:     30 * time.Minute,
			PassInterval: 5 * time.Minute,
			Workers:      2,
		},
		Entitlements: Entitlements{
			GraceDays:     7,
			SweepInterval: time.Hour,
		},
		Provisioner: Provisioner{
			Driver:    "sqlite",
			DataDir:   "data/tenants",
			BackupDir: "data/backups",
			MySQL: MySQL{
				MaxOpen:   4,
				MaxIdle:   2,
				GrantHost: "localhost",
			},
		},
		Credentials: Credentials{
			Backend: "sealed",
			Vault:   Vault{Mount: "secret", Prefix: "tenantgate/tenants"},
		},
		Auth: Auth{
			SessionTTL:   24 * time.Hour,
			KeyRateLimit: 1000,
			RateWindow:   time.Hour,
			Limiter:      "memory",
			RedisPrefix:  "tenantgate:ratelimit:",
		},
		Commerce: Commerce{
			Timeout:  15 * time.Second,
			RetryMax: 3,
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 7,
			MaxAgeDays: 14,
		},
		Telemetry: Telemetry{
			Exporter:    "none",
			Environment: "development",
			SampleRatio: 1,
		},
	}
}
