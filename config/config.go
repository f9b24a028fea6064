package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Twilio    TwilioConfig
	SMTP      SMTPConfig
	S3        S3Config
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// TrustedProxies are CIDRs or addresses whose X-Forwarded-For is believed.
	TrustedProxies  []string
}

type DatabaseConfig struct {
	Driver string // "mysql" or "sqlite3"
	DSN    string
}

type AuthConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// RedisConfig is optional; an empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	AnalyticsTTL time.Duration
}

type RateLimitConfig struct {
	LoginPerMinute float64
	LoginBurst     int
}

type LogConfig struct {
	Level  string
	Format string // "text" or "json"
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Prefix          string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:csr.db?cache=shared&_loc=UTC")
	v.SetDefault("auth.issuer", "csr-volunteer")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.analytics_ttl", "60s")
	v.SetDefault("ratelimit.login.per_minute", 10)
	v.SetDefault("ratelimit.login.burst", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("s3.prefix", "reports/")
}

// Load reads configuration from an optional YAML file, a .env file and the
// environment. Environment variables win: database.dsn is DATABASE_DSN.
// An empty path looks for ./config.yaml and tolerates its absence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			CORSOrigins:     splitList(v.GetStringSlice("server.cors_origins")),
			TrustedProxies:  splitList(v.GetStringSlice("server.trusted_proxies")),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Auth: AuthConfig{
			Secret:   v.GetString("auth.secret"),
			Issuer:   v.GetString("auth.issuer"),
			TokenTTL: v.GetDuration("auth.token_ttl"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Cache: CacheConfig{
			AnalyticsTTL: v.GetDuration("cache.analytics_ttl"),
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute: v.GetFloat64("ratelimit.login.per_minute"),
			LoginBurst:     v.GetInt("ratelimit.login.burst"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Twilio: TwilioConfig{
			AccountSID: v.GetString("twilio.account_sid"),
			AuthToken:  v.GetString("twilio.auth_token"),
			From:       v.GetString("twilio.from"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
		},
		S3: S3Config{
			Bucket:          v.GetString("s3.bucket"),
			Region:          v.GetString("s3.region"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
			Endpoint:        v.GetString("s3.endpoint"),
			Prefix:          v.GetString("s3.prefix"),
		},
	}
	// SECRET is the variable name older deployments set.
	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = os.Getenv("SECRET")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Auth.Secret == "" {
		result = multierror.Append(result, errors.New("auth.secret (or SECRET) is not set"))
	}
	if c.Auth.TokenTTL <= 0 {
		result = multierror.Append(result, errors.New("auth.token_ttl must be positive"))
	}
	switch c.Database.Driver {
	case "mysql", "sqlite3":
	default:
		result = multierror.Append(result, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		result = multierror.Append(result, errors.New("database.dsn is empty"))
	}
	if c.RateLimit.LoginPerMinute <= 0 || c.RateLimit.LoginBurst <= 0 {
		result = multierror.Append(result, errors.New("ratelimit.login values must be positive"))
	}
	if n := countSet(c.Twilio.AccountSID, c.Twilio.AuthToken, c.Twilio.From); n != 0 && n != 3 {
		result = multierror.Append(result, errors.New("twilio needs account_sid, auth_token and from together"))
	}
	if n := countSet(c.SMTP.Host, c.SMTP.From); n == 1 {
		result = multierror.Append(result, errors.New("smtp needs host and from together"))
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		result = multierror.Append(result, errors.New("s3.region is required when s3.bucket is set"))
	}
	return result.ErrorOrNil()
}

// Enabled reports whether SMS delivery is configured.
func (t TwilioConfig) Enabled() bool { return t.AccountSID != "" }

// Enabled reports whether e-mail delivery is configured.
func (s SMTPConfig) Enabled() bool { return s.Host != "" }

// Enabled reports whether report archiving is configured.
func (s S3Config) Enabled() bool { return s.Bucket != "" }

// String returns a representation of the config with secrets masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Addr: %s, DB: %s, Redis: %q, SMS: %t, SMTP: %t, S3: %t, Auth: *** (masked) ***}",
		c.Server.Addr, c.Database.Driver, c.Redis.Addr, c.Twilio.Enabled(), c.SMTP.Enabled(), c.S3.Enabled())
}

func countSet(values ...string) int {
	n := 0
	for _, v := range values {
		if v != "" {
			n++
		}
	}
	return n
}

// splitList accepts both YAML lists and a comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
