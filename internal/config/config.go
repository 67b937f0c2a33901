package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"crm-mail-ingest-go/internal/service/mailbox"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Ingest       IngestConfig       `mapstructure:"ingest"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Tenants      []TenantConfig     `mapstructure:"tenants"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// RedisConfig enables the seen-cache and the notification queue
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"`
	SeenTTL     time.Duration `mapstructure:"seen_ttl"`
	NotifyQueue string        `mapstructure:"notify_queue"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	AutoStart       bool `mapstructure:"auto_start"`
}

// IngestConfig holds pipeline settings shared by every tenant
type IngestConfig struct {
	FormSubject         string        `mapstructure:"form_subject"`
	RecentWindowMinutes int           `mapstructure:"recent_window_minutes"`
	LiveWindow          time.Duration `mapstructure:"live_window"`
	HistoricalWindow    time.Duration `mapstructure:"historical_window"`
	SubjectFallback     bool          `mapstructure:"subject_fallback"`
	TrackingParams      []string      `mapstructure:"tracking_params"`
}

// RecentWindow returns the fallback search window
func (c IngestConfig) RecentWindow() time.Duration {
	return time.Duration(c.RecentWindowMinutes) * time.Minute
}

// NotificationConfig holds dispatcher settings
type NotificationConfig struct {
	QueueSize       int           `mapstructure:"queue_size"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// LoggingConfig holds logrus settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// TenantConfig binds a tenant to its single mailbox
type TenantConfig struct {
	ID      string         `mapstructure:"id"`
	Mailbox mailbox.Config `mapstructure:"mailbox"`
}

// LoadConfig reads config.yaml from the given paths (defaults to . and
// ./config) and applies environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if t, ok := envTenant(v); ok {
		config.Tenants = append(config.Tenants, t)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.seen_ttl", "192h")
	v.SetDefault("redis.notify_queue", "crm:notifications")

	v.SetDefault("scheduler.interval_minutes", 5)
	v.SetDefault("scheduler.auto_start", true)

	v.SetDefault("ingest.recent_window_minutes", 10)
	v.SetDefault("ingest.live_window", "10m")
	v.SetDefault("ingest.historical_window", "168h")
	v.SetDefault("ingest.subject_fallback", true)
	v.SetDefault("ingest.tracking_params", []string{
		"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "gclid", "fbclid",
	})

	v.SetDefault("notification.queue_size", 256)
	v.SetDefault("notification.send_timeout", "5s")
	v.SetDefault("notification.breaker_failures", 5)
	v.SetDefault("notification.breaker_timeout", "30s")

	v.SetDefault("logging.level", "info")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.url", "REDIS_URL")

	// Scheduler
	v.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
	v.BindEnv("scheduler.auto_start", "SCHEDULER_AUTO_START")

	// Ingest
	v.BindEnv("ingest.form_subject", "INGEST_FORM_SUBJECT")
	v.BindEnv("ingest.recent_window_minutes", "INGEST_RECENT_WINDOW_MINUTES")
	v.BindEnv("ingest.subject_fallback", "INGEST_SUBJECT_FALLBACK")

	v.BindEnv("logging.level", "LOG_LEVEL")

	// Single-tenant deployments configure the mailbox from the environment
	v.BindEnv("tenant.id", "TENANT_ID")
	v.BindEnv("tenant.mailbox.host", "IMAP_HOST")
	v.BindEnv("tenant.mailbox.port", "IMAP_PORT")
	v.BindEnv("tenant.mailbox.username", "IMAP_USER")
	v.BindEnv("tenant.mailbox.password", "IMAP_PASSWORD")
	v.BindEnv("tenant.mailbox.tls", "IMAP_TLS")
	v.BindEnv("tenant.mailbox.starttls", "IMAP_STARTTLS")
	v.BindEnv("tenant.mailbox.auth", "IMAP_AUTH")
	v.BindEnv("tenant.mailbox.oauth.provider", "IMAP_OAUTH_PROVIDER")
	v.BindEnv("tenant.mailbox.oauth.client_id", "IMAP_OAUTH_CLIENT_ID")
	v.BindEnv("tenant.mailbox.oauth.client_secret", "IMAP_OAUTH_CLIENT_SECRET")
	v.BindEnv("tenant.mailbox.oauth.refresh_token", "IMAP_OAUTH_REFRESH_TOKEN")
}

func envTenant(v *viper.Viper) (TenantConfig, bool) {
	id := v.GetString("tenant.id")
	if id == "" || v.GetString("tenant.mailbox.host") == "" {
		return TenantConfig{}, false
	}
	port := v.GetInt("tenant.mailbox.port")
	if port == 0 {
		port = 993
	}
	tls := true
	if v.IsSet("tenant.mailbox.tls") {
		tls = v.GetBool("tenant.mailbox.tls")
	}
	return TenantConfig{
		ID: id,
		Mailbox: mailbox.Config{
			Host:     v.GetString("tenant.mailbox.host"),
			Port:     port,
			Username: v.GetString("tenant.mailbox.username"),
			Password: v.GetString("tenant.mailbox.password"),
			TLS:      tls,
			StartTLS: v.GetBool("tenant.mailbox.starttls"),
			Auth:     v.GetString("tenant.mailbox.auth"),
			OAuth: mailbox.OAuthConfig{
				Provider:     v.GetString("tenant.mailbox.oauth.provider"),
				ClientID:     v.GetString("tenant.mailbox.oauth.client_id"),
				ClientSecret: v.GetString("tenant.mailbox.oauth.client_secret"),
				RefreshToken: v.GetString("tenant.mailbox.oauth.refresh_token"),
			},
		},
	}, true
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Mailboxes returns tenant id to mailbox config
func (c *Config) Mailboxes() map[string]mailbox.Config {
	out := make(map[string]mailbox.Config, len(c.Tenants))
	for _, t := range c.Tenants {
		out[t.ID] = t.Mailbox
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if strings.TrimSpace(c.Ingest.FormSubject) == "" {
		return fmt.Errorf("ingest form subject is required")
	}
	if c.Ingest.RecentWindowMinutes <= 0 {
		return fmt.Errorf("ingest recent window must be greater than 0")
	}
	if c.Ingest.LiveWindow <= 0 || c.Ingest.HistoricalWindow < c.Ingest.LiveWindow {
		return fmt.Errorf("dedup windows must be positive and historical must not be narrower than live")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis url is required when redis is enabled")
	}

	if len(c.Tenants) == 0 {
		return fmt.Errorf("at least one tenant mailbox is required")
	}
	seen := map[string]bool{}
	for _, t := range c.Tenants {
		if t.ID == "" {
			return fmt.Errorf("tenant id is required")
		}
		if seen[t.ID] {
			return fmt.Errorf("tenant %q is configured twice", t.ID)
		}
		seen[t.ID] = true
		if err := t.Mailbox.Validate(); err != nil {
			return fmt.Errorf("tenant %q: %w", t.ID, err)
		}
	}

	return nil
}
