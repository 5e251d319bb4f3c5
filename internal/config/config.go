package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Port int    `mapstructure:"port"`
}

type MongoConfig struct {
	// URI is the fallback connection string used when the secret provider
	// does not supply a tenant-specific one.
	URI            string        `mapstructure:"uri"`
	DatabasePrefix string        `mapstructure:"database_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	TopicMessageSent string   `mapstructure:"topic_message_sent"`
}

type AuthConfig struct {
	Alg            string `mapstructure:"alg"` // HS256 or RS256
	Secret         string `mapstructure:"secret"`
	PublicKeyPath  string `mapstructure:"public_key_path"`
	UserServiceURL string `mapstructure:"user_service_url"`
}

type VaultConfig struct {
	Addr      string        `mapstructure:"addr"`
	Token     string        `mapstructure:"token"`
	SecretTTL time.Duration `mapstructure:"secret_ttl"`
}

type CryptoConfig struct {
	DecryptedTTL time.Duration `mapstructure:"decrypted_ttl"`
	KeyTTL       time.Duration `mapstructure:"key_ttl"`
}

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Mongo  MongoConfig  `mapstructure:"mongodb"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Vault  VaultConfig  `mapstructure:"vault"`
	Crypto CryptoConfig `mapstructure:"crypto"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	applyDefaults(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.App.Port == 0 {
		c.App.Port = 8081
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = "mongodb://localhost:27017"
	}
	if c.Mongo.DatabasePrefix == "" {
		c.Mongo.DatabasePrefix = "tenant_"
	}
	if c.Mongo.ConnectTimeout == 0 {
		c.Mongo.ConnectTimeout = 10 * time.Second
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Kafka.TopicMessageSent == "" {
		c.Kafka.TopicMessageSent = "message.sent"
	}
	if c.Auth.Alg == "" {
		c.Auth.Alg = "HS256"
	}
	if c.Vault.SecretTTL == 0 {
		c.Vault.SecretTTL = time.Hour
	}
	if c.Crypto.DecryptedTTL == 0 {
		c.Crypto.DecryptedTTL = 15 * time.Minute
	}
	if c.Crypto.KeyTTL == 0 {
		c.Crypto.KeyTTL = 24 * time.Hour
	}
}
