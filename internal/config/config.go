// Package config loads the relay configuration from config.yaml, the
// environment and an optional .env file.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Host        string `json:"host" yaml:"host" mapstructure:"host"`
	PprofHost   string `json:"pprof_host" yaml:"pprof_host" mapstructure:"pprof_host"`
	Secret      string `json:"secret" yaml:"secret" mapstructure:"secret"`
	AdminSecret string `json:"admin_secret" yaml:"admin_secret" mapstructure:"admin_secret"`
	// AdminSkew bounds how old a signed admin request may be.
	AdminSkew  time.Duration `json:"admin_skew" yaml:"admin_skew" mapstructure:"admin_skew"`
	StaffRoles []string      `json:"staff_roles" yaml:"staff_roles" mapstructure:"staff_roles"`

	Log     LogConfig     `json:"log" yaml:"log" mapstructure:"log"`
	Store   StoreConfig   `json:"store" yaml:"store" mapstructure:"store"`
	Redis   RedisConfig   `json:"redis" yaml:"redis" mapstructure:"redis"`
	Outbox  OutboxConfig  `json:"outbox" yaml:"outbox" mapstructure:"outbox"`
	Client  ClientConfig  `json:"client" yaml:"client" mapstructure:"client"`
	Support SupportConfig `json:"support" yaml:"support" mapstructure:"support"`
}

type LogConfig struct {
	Level       string `json:"level" yaml:"level" mapstructure:"level"`
	Development bool   `json:"development" yaml:"development" mapstructure:"development"`
}

type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`
	DSN    string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	Log    bool   `json:"log" yaml:"log" mapstructure:"log"`
}

type RedisConfig struct {
	Enable bool   `json:"enable" yaml:"enable" mapstructure:"enable"`
	Host   string `json:"host" yaml:"host" mapstructure:"host"`
	Prefix string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

type OutboxConfig struct {
	Enable   bool          `json:"enable" yaml:"enable" mapstructure:"enable"`
	Capacity int           `json:"capacity" yaml:"capacity" mapstructure:"capacity"`
	TTL      time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

type ClientConfig struct {
	ReadMessageSizeLimit int64         `json:"read_message_size_limit" yaml:"read_message_size_limit" mapstructure:"read_message_size_limit"`
	Compression          bool          `json:"compression" yaml:"compression" mapstructure:"compression"`
	CompressionLevel     int           `json:"compression_level" yaml:"compression_level" mapstructure:"compression_level"`
	ReadBufferSize       int           `json:"read_buffer_size" yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize      int           `json:"write_buffer_size" yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	SendBuffer           int           `json:"send_buffer" yaml:"send_buffer" mapstructure:"send_buffer"`
	AuthTimeout          time.Duration `json:"auth_timeout" yaml:"auth_timeout" mapstructure:"auth_timeout"`
	PongWait             time.Duration `json:"pong_wait" yaml:"pong_wait" mapstructure:"pong_wait"`
	WriteWait            time.Duration `json:"write_wait" yaml:"write_wait" mapstructure:"write_wait"`
	// RateLimit is inbound frames per second per connection; 0 disables it.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst" mapstructure:"rate_burst"`
}

// SupportConfig is how the support identity is displayed.
type SupportConfig struct {
	Name   string `json:"name" yaml:"name" mapstructure:"name"`
	Avatar string `json:"avatar" yaml:"avatar" mapstructure:"avatar"`
}

// Every key gets a default, even an empty one, so AutomaticEnv can
// override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("host", ":8080")
	v.SetDefault("pprof_host", "")
	v.SetDefault("secret", "")
	v.SetDefault("admin_secret", "")
	v.SetDefault("admin_skew", 5*time.Minute)
	v.SetDefault("staff_roles", []string{"admin", "support"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.log", false)

	v.SetDefault("redis.enable", false)
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.prefix", "relay:outbox:")

	v.SetDefault("outbox.enable", true)
	v.SetDefault("outbox.capacity", 100)
	v.SetDefault("outbox.ttl", 72*time.Hour)

	v.SetDefault("client.read_message_size_limit", 64*1024)
	v.SetDefault("client.compression", false)
	v.SetDefault("client.compression_level", 1)
	v.SetDefault("client.read_buffer_size", 1024)
	v.SetDefault("client.write_buffer_size", 1024)
	v.SetDefault("client.send_buffer", 64)
	v.SetDefault("client.auth_timeout", 10*time.Second)
	v.SetDefault("client.pong_wait", 60*time.Second)
	v.SetDefault("client.write_wait", 10*time.Second)
	v.SetDefault("client.rate_limit", 20)
	v.SetDefault("client.rate_burst", 40)

	v.SetDefault("support.name", "Support")
	v.SetDefault("support.avatar", "")
}

// Load reads path (or ./config.yaml when path is empty). A missing config
// file is not an error; defaults and environment variables still apply.
// Environment keys use "_" for nesting, e.g. STORE_DSN.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) || path != "" {
			return nil, err
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// Validate checks settings the relay cannot run without.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("config: secret is required")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn is required for postgres")
		}
	default:
		return errors.New("config: unknown store.driver " + c.Store.Driver)
	}
	if c.Redis.Enable && c.Redis.Host == "" {
		return errors.New("config: redis.host is required when redis is enabled")
	}
	return nil
}
