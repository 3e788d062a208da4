package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Admission  AdmissionConfig  `yaml:"admission"`
	Registry   RegistryConfig   `yaml:"registry"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Events     EventsConfig     `yaml:"events"`
	Log        LogConfig        `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	Timezone        string  `yaml:"timezone"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres, mysql or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// AuthConfig holds session token and sign-up settings.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTLMinutes int           `yaml:"token_ttl_minutes"`
	TokenTTL        time.Duration `yaml:"-"`
	BcryptCost      int           `yaml:"bcrypt_cost"`
	// StaffSignupCode, when non-empty, grants the staff role to sign-ups presenting it.
	StaffSignupCode string `yaml:"staff_signup_code"`
}

// Site is a physical venue that claims are geofenced against.
type Site struct {
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
}

// AdmissionConfig holds the claim admission policy.
type AdmissionConfig struct {
	RateLimitWindowMinutes int           `yaml:"rate_limit_window_minutes"`
	RateLimitWindow        time.Duration `yaml:"-"`
	MaxAttempts            int           `yaml:"max_attempts"`
	GeofenceKm             float64       `yaml:"geofence_km"`
	LocationTimeoutSeconds int           `yaml:"location_timeout_seconds"`
	LocationTimeout        time.Duration `yaml:"-"`
	DemoMode               bool          `yaml:"demo_mode"`
	Sites                  []Site        `yaml:"sites"`
}

// SeedTable describes a table created on first start when the registry is empty.
type SeedTable struct {
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
	Status   string `yaml:"status"`
}

// RegistryConfig holds the live snapshot hub configuration.
type RegistryConfig struct {
	PollIntervalSeconds  int           `yaml:"poll_interval_seconds"`
	PollInterval         time.Duration `yaml:"-"`
	SnapshotCacheMinutes int           `yaml:"snapshot_cache_minutes"`
	SnapshotCacheTTL     time.Duration `yaml:"-"`
	SeedTables           []SeedTable   `yaml:"seed_tables"`
}

// EventsConfig holds the domain event broker configuration. An empty URL disables publishing.
type EventsConfig struct {
	AMQPURL string `yaml:"amqp_url"`
	Queue   string `yaml:"queue"`
}

// LogConfig holds the logger configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration from the given path. Variables from an optional .env file and
// the process environment override secrets found in the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("could not load .env: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.DSN, "DATABASE_DSN")
	override(&cfg.Auth.JWTSecret, "JWT_SECRET")
	override(&cfg.Push.PublicKey, "VAPID_PUBLIC_KEY")
	override(&cfg.Push.PrivateKey, "VAPID_PRIVATE_KEY")
	override(&cfg.Events.AMQPURL, "AMQP_URL")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	if cfg.Server.Timezone == "" {
		cfg.Server.Timezone = "America/Chicago"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Auth.TokenTTLMinutes <= 0 {
		cfg.Auth.TokenTTLMinutes = 12 * 60
	}
	cfg.Auth.TokenTTL = time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	if cfg.Auth.BcryptCost <= 0 {
		cfg.Auth.BcryptCost = 10
	}

	if cfg.Admission.RateLimitWindowMinutes <= 0 {
		cfg.Admission.RateLimitWindowMinutes = 60
	}
	cfg.Admission.RateLimitWindow = time.Duration(cfg.Admission.RateLimitWindowMinutes) * time.Minute
	if cfg.Admission.MaxAttempts <= 0 {
		cfg.Admission.MaxAttempts = 3
	}
	if cfg.Admission.GeofenceKm <= 0 {
		cfg.Admission.GeofenceKm = 2
	}
	if cfg.Admission.LocationTimeoutSeconds <= 0 {
		cfg.Admission.LocationTimeoutSeconds = 5
	}
	cfg.Admission.LocationTimeout = time.Duration(cfg.Admission.LocationTimeoutSeconds) * time.Second
	if len(cfg.Admission.Sites) == 0 {
		cfg.Admission.Sites = []Site{{Name: "brewpub", Lat: 32.3487522, Lon: -95.3008154}}
	}

	if cfg.Registry.PollIntervalSeconds <= 0 {
		cfg.Registry.PollIntervalSeconds = 15
	}
	cfg.Registry.PollInterval = time.Duration(cfg.Registry.PollIntervalSeconds) * time.Second
	if cfg.Registry.SnapshotCacheMinutes <= 0 {
		cfg.Registry.SnapshotCacheMinutes = 60
	}
	cfg.Registry.SnapshotCacheTTL = time.Duration(cfg.Registry.SnapshotCacheMinutes) * time.Minute

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Events.Queue == "" {
		cfg.Events.Queue = "tables.events"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
