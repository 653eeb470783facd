package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App          AppConfig         `mapstructure:"app"`
	Database     DatabaseConfig    `mapstructure:"database"`
	Redis        RedisConfig       `mapstructure:"redis"`
	JWT          JWTConfig         `mapstructure:"jwt"`
	GoogleAPI    OAuthClientConfig `mapstructure:"google_api"`
	MicrosoftAPI OAuthClientConfig `mapstructure:"microsoft_api"`
	CalendlyAPI  OAuthClientConfig `mapstructure:"calendly_api"`
	Recall       RecallConfig      `mapstructure:"recall"`
	Sync         SyncConfig        `mapstructure:"sync"`
	Log          LogConfig         `mapstructure:"log"`
	Security     SecurityConfig    `mapstructure:"security"`
}

type AppConfig struct {
	Name          string `mapstructure:"name"`
	Env           string `mapstructure:"env"`
	Port          int    `mapstructure:"port"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type OAuthClientConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TenantID     string `mapstructure:"tenant_id"`
	BaseURL      string `mapstructure:"base_url"`
}

type RecallConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Region        string `mapstructure:"region"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type SyncConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"`
	RenewalCron         string        `mapstructure:"renewal_cron"`
	HealthCron          string        `mapstructure:"health_cron"`
	RenewalWindow       time.Duration `mapstructure:"renewal_window"`
	FreeMeetingLimit    int           `mapstructure:"free_meeting_limit"`
	TranscriptMinLength int           `mapstructure:"transcript_min_length"`
	SignatureTolerance  time.Duration `mapstructure:"signature_tolerance"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SecurityConfig struct {
	TokenEncryptionKey string `mapstructure:"token_encryption_key"`
}

var (
	mu  sync.RWMutex
	cfg *Config
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "calendar-sync-api")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 7070)
	v.SetDefault("app.public_base_url", "http://localhost:7070")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "calendar_sync")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "")

	for _, p := range []string{"google_api", "microsoft_api", "calendly_api"} {
		v.SetDefault(p+".client_id", "")
		v.SetDefault(p+".client_secret", "")
		v.SetDefault(p+".tenant_id", "")
		v.SetDefault(p+".base_url", "")
	}
	v.SetDefault("microsoft_api.tenant_id", "common")
	v.SetDefault("calendly_api.base_url", "https://api.calendly.com")

	v.SetDefault("recall.api_key", "")
	v.SetDefault("recall.region", "us-west-2")
	v.SetDefault("recall.webhook_secret", "")

	v.SetDefault("sync.poll_interval", 15*time.Minute)
	v.SetDefault("sync.max_backoff", 2*time.Hour)
	v.SetDefault("sync.renewal_cron", "0 2 * * *")
	v.SetDefault("sync.health_cron", "0 1 * * *")
	v.SetDefault("sync.renewal_window", 48*time.Hour)
	v.SetDefault("sync.free_meeting_limit", 5)
	v.SetDefault("sync.transcript_min_length", 100)
	v.SetDefault("sync.signature_tolerance", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("security.token_encryption_key", "")
}

// Load reads .env (if present) and the environment. Keys map to env vars by
// upper-casing and replacing dots, e.g. SYNC_POLL_INTERVAL.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	mu.Lock()
	cfg = &c
	mu.Unlock()
	return &c, nil
}

func (c *Config) Validate() error {
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync.poll_interval must be positive")
	}
	if c.Sync.MaxBackoff < c.Sync.PollInterval {
		c.Sync.MaxBackoff = c.Sync.PollInterval
	}
	if c.Sync.FreeMeetingLimit < 0 {
		return fmt.Errorf("sync.free_meeting_limit must not be negative")
	}
	c.App.PublicBaseURL = strings.TrimRight(c.App.PublicBaseURL, "/")
	return nil
}

func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if cfg == nil {
		panic("config: Get called before Load")
	}
	return cfg
}

func GetSafe() (*Config, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return cfg, cfg != nil
}
