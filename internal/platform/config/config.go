// Package config loads service configuration from defaults, an optional file and
// DOCKET_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "DOCKET"

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	MetricsToken    string // guards /metrics; empty leaves it open
}

type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// RedisConfig backs the token revocation list. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka backs the audit failure alert topic. No brokers means alerts go to the log only.
type Kafka struct {
	Brokers           []string
	ClientID          string
	AlertTopic        string
	Partitions        int32
	ReplicationFactor int16
}

type Auth struct {
	JWTSigningKey string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
}

type Workflow struct {
	CascadeAttempts int
	TxTimeout       time.Duration
	TransitionsFile string // optional override of the embedded table
}

type Audit struct {
	BufferSize         int
	RedeliveryInterval time.Duration
}

type Log struct {
	Level  string
	Format string
}

type Config struct {
	Server   Server
	Database Database
	Redis    RedisConfig
	Kafka    Kafka
	Auth     Auth
	Workflow Workflow
	Audit    Audit
	Log      Log
}

// New returns a viper instance with defaults and environment binding applied.
// Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.metrics_token", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate_on_start", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "docket")
	v.SetDefault("kafka.alert_topic", "docket.audit.alerts")
	v.SetDefault("kafka.partitions", 1)
	v.SetDefault("kafka.replication_factor", 1)

	v.SetDefault("auth.jwt_signing_key", "")
	v.SetDefault("auth.issuer", "docket")
	v.SetDefault("auth.audience", "docket-api")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("workflow.cascade_attempts", 3)
	v.SetDefault("workflow.tx_timeout", 5*time.Second)
	v.SetDefault("workflow.transitions_file", "")

	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.redelivery_interval", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	return v
}

// Load reads an optional config file and returns the validated configuration.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := Config{
		Server: Server{
			Addr:            v.GetString("server.addr"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			MetricsToken:    v.GetString("server.metrics_token"),
		},
		Database: Database{
			URL:             v.GetString("database.url"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			MigrateOnStart:  v.GetBool("database.migrate_on_start"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
		},
		Kafka: Kafka{
			Brokers:           brokers(v.GetStringSlice("kafka.brokers")),
			ClientID:          v.GetString("kafka.client_id"),
			AlertTopic:        v.GetString("kafka.alert_topic"),
			Partitions:        v.GetInt32("kafka.partitions"),
			ReplicationFactor: int16(v.GetInt("kafka.replication_factor")),
		},
		Auth: Auth{
			JWTSigningKey: v.GetString("auth.jwt_signing_key"),
			Issuer:        v.GetString("auth.issuer"),
			Audience:      v.GetString("auth.audience"),
			TokenTTL:      v.GetDuration("auth.token_ttl"),
		},
		Workflow: Workflow{
			CascadeAttempts: v.GetInt("workflow.cascade_attempts"),
			TxTimeout:       v.GetDuration("workflow.tx_timeout"),
			TransitionsFile: v.GetString("workflow.transitions_file"),
		},
		Audit: Audit{
			BufferSize:         v.GetInt("audit.buffer_size"),
			RedeliveryInterval: v.GetDuration("audit.redelivery_interval"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if c.Workflow.CascadeAttempts < 1 {
		return fmt.Errorf("workflow.cascade_attempts must be at least 1")
	}
	if c.Workflow.TxTimeout <= 0 {
		return fmt.Errorf("workflow.tx_timeout must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("audit.buffer_size must be at least 1")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

// env values arrive as one comma separated string
func brokers(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, b := range strings.Split(r, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}
