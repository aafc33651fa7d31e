package config

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Auth      AuthConfig      `yaml:"auth"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Admin     AdminConfig     `yaml:"admin"`
	LogLevel  string          `yaml:"log_level"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// WalletConfig holds the starting balance credited to every new wallet.
type WalletConfig struct {
	InitialBalance string `yaml:"initial_balance"`
}

// TransferConfig tunes the conflict retry loop and how long a caller waits
// for a transfer outcome.
type TransferConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
}

type AdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// InitialBalance parses Wallet.InitialBalance, falling back to zero on garbage.
func (c *Config) InitialBalance() decimal.Decimal {
	d, err := decimal.NewFromString(c.Wallet.InitialBalance)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// placeholderSecret is the jwt_secret shipped in config.yaml.
const placeholderSecret = "change-me"

// ValidateServer checks what the API server needs before it accepts requests.
func (c *Config) ValidateServer() error {
	switch c.Auth.JWTSecret {
	case "":
		return errors.New("auth.jwt_secret is empty, set it or JWT_SECRET")
	case placeholderSecret:
		return errors.New("auth.jwt_secret is still the placeholder, set it or JWT_SECRET")
	}
	return nil
}

// Load reads an optional .env, then the yaml file, then env overrides.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if s := os.Getenv("JWT_SECRET"); s != "" {
		cfg.Auth.JWTSecret = s
	}
	if e := os.Getenv("ADMIN_EMAIL"); e != "" {
		cfg.Admin.Email = e
	}
	if p := os.Getenv("ADMIN_PASSWORD"); p != "" {
		cfg.Admin.Password = p
	}
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		cfg.LogLevel = l
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = 5 * time.Minute
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "wallet-transactions"
	}
	if cfg.Kafka.PollInterval == 0 {
		cfg.Kafka.PollInterval = time.Second
	}
	if cfg.Kafka.BatchSize == 0 {
		cfg.Kafka.BatchSize = 100
	}
	if cfg.RateLimit.RPS == 0 {
		cfg.RateLimit.RPS = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = 10
	}
	if cfg.Wallet.InitialBalance == "" {
		cfg.Wallet.InitialBalance = "50"
	}
	if cfg.Transfer.MaxRetries == 0 {
		cfg.Transfer.MaxRetries = 3
	}
	if cfg.Transfer.RetryBackoff == 0 {
		cfg.Transfer.RetryBackoff = 20 * time.Millisecond
	}
	if cfg.Transfer.WaitTimeout == 0 {
		cfg.Transfer.WaitTimeout = 10 * time.Second
	}
	if cfg.Admin.Name == "" {
		cfg.Admin.Name = "Admin"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}
