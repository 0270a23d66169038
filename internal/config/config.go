// Package config loads process configuration from the environment, an
// optional .env file and built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Discord    DiscordConfig    `mapstructure:"discord"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	File       FileConfig       `mapstructure:"file"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Lock       LockConfig       `mapstructure:"lock"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Codec      CodecConfig      `mapstructure:"codec"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Ops        OpsConfig        `mapstructure:"ops"`
}

type DiscordConfig struct {
	Token  string `mapstructure:"token" validate:"required"`
	Prefix string `mapstructure:"prefix" validate:"required"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=mongo file postgres memory"`
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Collection     string        `mapstructure:"collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type FileConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig holds database configuration. URL wins over the discrete
// fields when set.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

type LockConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=local redis"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

type BridgeConfig struct {
	Workers   int           `mapstructure:"workers" validate:"gt=0"`
	QueueSize int           `mapstructure:"queue_size" validate:"gt=0"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type DispatcherConfig struct {
	QueueSize int `mapstructure:"queue_size" validate:"gt=0"`
}

type CodecConfig struct {
	RequireItem          bool   `mapstructure:"require_item"`
	RequirePaymentMethod bool   `mapstructure:"require_payment_method"`
	DefaultPaymentMethod string `mapstructure:"default_payment_method"`
}

type HTTPConfig struct {
	Port string `mapstructure:"port" validate:"required"`
}

type OpsConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type binding struct {
	key string
	env string
	def any
}

var bindings = []binding{
	{"discord.token", "TOKEN", ""},
	{"discord.prefix", "DISCORD_PREFIX", "+"},

	{"storage.backend", "STORAGE_BACKEND", "mongo"},

	{"mongo.uri", "MONGO_URI", ""},
	{"mongo.database", "MONGO_DATABASE", "transaction_db"},
	{"mongo.collection", "MONGO_COLLECTION", "transactions"},
	{"mongo.connect_timeout", "MONGO_CONNECT_TIMEOUT", 10 * time.Second},

	{"file.path", "LEDGER_FILE", "ledger.json"},

	{"database.url", "DATABASE_URL", ""},
	{"database.host", "DATABASE_HOST", "localhost"},
	{"database.port", "DATABASE_PORT", "5432"},
	{"database.user", "DATABASE_USER", "postgres"},
	{"database.password", "DATABASE_PASSWORD", "password"},
	{"database.name", "DATABASE_NAME", "tallybot"},
	{"database.ssl_mode", "DATABASE_SSL_MODE", "disable"},
	{"database.max_open_conns", "DATABASE_MAX_OPEN_CONNS", 25},
	{"database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS", 5},
	{"database.conn_max_lifetime", "DATABASE_CONN_MAX_LIFETIME", 5 * time.Minute},

	{"redis.host", "REDIS_HOST", "localhost"},
	{"redis.port", "REDIS_PORT", "6379"},
	{"redis.password", "REDIS_PASSWORD", ""},
	{"redis.db", "REDIS_DB", 0},

	{"lock.backend", "LOCK_BACKEND", "local"},
	{"lock.ttl", "LOCK_TTL", 30 * time.Second},

	{"bridge.workers", "BRIDGE_WORKERS", 8},
	{"bridge.queue_size", "BRIDGE_QUEUE_SIZE", 64},
	{"bridge.timeout", "BRIDGE_TIMEOUT", 10 * time.Second},

	{"dispatcher.queue_size", "DISPATCHER_QUEUE_SIZE", 128},

	{"codec.require_item", "CODEC_REQUIRE_ITEM", false},
	{"codec.require_payment_method", "CODEC_REQUIRE_PAYMENT_METHOD", false},
	{"codec.default_payment_method", "CODEC_DEFAULT_PAYMENT_METHOD", "no payment type provided"},

	{"http.port", "PORT", "8080"},
	{"ops.jwt_secret", "OPS_JWT_SECRET", ""},
}

// Load reads configuration into v and decodes it. envFile may be empty; a
// missing file is logged and ignored. Values from the file sit between the
// defaults and the process environment.
func Load(v *viper.Viper, envFile string) (*Config, error) {
	fileValues := viper.New()
	if envFile != "" {
		fileValues.SetConfigFile(envFile)
		fileValues.SetConfigType("env")
		if err := fileValues.ReadInConfig(); err != nil {
			log.Printf("[Config] Load - config file not found, using environment and defaults: %v", err)
		}
	}

	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		if fileKey := strings.ToLower(b.env); fileValues.IsSet(fileKey) {
			v.SetDefault(b.key, fileValues.Get(fileKey))
		}
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", b.env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the settings each backend needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config %s: failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Storage.Backend {
	case "mongo":
		if c.Mongo.URI == "" {
			return errors.New("invalid config: MONGO_URI is required for the mongo backend")
		}
	case "file":
		if c.File.Path == "" {
			return errors.New("invalid config: LEDGER_FILE is required for the file backend")
		}
	}
	return nil
}
