package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Hub     HubConfig     `mapstructure:"hub"`
	Store   StoreConfig   `mapstructure:"store"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
}

type HubConfig struct {
	PingInterval   time.Duration `mapstructure:"pingInterval"`
	WriteWait      time.Duration `mapstructure:"writeWait"`
	MaxMessageSize int64         `mapstructure:"maxMessageSize"`
	SendBufferSize int           `mapstructure:"sendBufferSize"`
}

const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

type StoreConfig struct {
	Driver   string        `mapstructure:"driver"`
	DSN      string        `mapstructure:"dsn"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxConns int32         `mapstructure:"maxConns"`
}

type KafkaConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	BootstrapServers string   `mapstructure:"bootstrapServers"`
	GroupID          string   `mapstructure:"groupId"`
	Topics           []string `mapstructure:"topics"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PresenceTTL time.Duration `mapstructure:"presenceTTL"`
}

type LoggerConfig struct {
	Level  string   `mapstructure:"level"`
	Format string   `mapstructure:"format"`
	Output []string `mapstructure:"output"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

func LoadConfig(path string) (*Config, error) {
	// .env is optional; real environment variables still win.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLEETHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Hub.PingInterval <= 0 {
		return errors.New("hub.pingInterval must be positive")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", 10*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.shutdownTimeout", 30*time.Second)
	v.SetDefault("server.allowedOrigins", []string{"*"})

	v.SetDefault("hub.pingInterval", 30*time.Second)
	v.SetDefault("hub.writeWait", 10*time.Second)
	v.SetDefault("hub.maxMessageSize", 64*1024)
	v.SetDefault("hub.sendBufferSize", 256)

	v.SetDefault("store.driver", StoreDriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.timeout", 5*time.Second)
	v.SetDefault("store.maxConns", 10)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.bootstrapServers", "localhost:9092")
	v.SetDefault("kafka.groupId", "fleet-hub")
	v.SetDefault("kafka.topics", []string{"device-commands"})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.presenceTTL", 2*time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", LogFormatJSON)
	v.SetDefault("logger.output", []string{"stderr"})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "fleethub")
}
