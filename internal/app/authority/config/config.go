package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"ticketgate/internal/domain/validation"
)

const (
	envPath  = ".env"
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env    string
	DB     db
	Server server
	Auth   auth
	Sync   sync
	Redis  redis
	AMQP   amqp
	Logger logger
}

type db struct {
	DatabaseURI string `env:"DATABASE_URI"`
}

type server struct {
	RunAddress      string        `env:"RUN_ADDRESS"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

type auth struct {
	Secret        string        `env:"SECRET"`
	TokenTTL      time.Duration `env:"TOKEN_TTL"`
	EnrollmentKey string        `env:"ENROLLMENT_KEY"`
}

type sync struct {
	Strategy   validation.Strategy `env:"SYNC_STRATEGY"`
	MaxBatch   int                 `env:"SYNC_MAX_BATCH"`
	MaxChanges int                 `env:"SYNC_MAX_CHANGES"`
}

type redis struct {
	URL    string        `env:"REDIS_URL"`
	Limit  int           `env:"RATE_LIMIT"`
	Window time.Duration `env:"RATE_WINDOW"`
}

type amqp struct {
	URL   string `env:"AMQP_URL"`
	Queue string `env:"AMQP_QUEUE"`
}

type logger struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", EnvLocal)
	v.SetDefault("run_address", ":8080")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("token_ttl", 72*time.Hour)
	v.SetDefault("sync_strategy", string(validation.StrategyEarliest))
	v.SetDefault("sync_max_batch", 500)
	v.SetDefault("sync_max_changes", 1000)
	v.SetDefault("rate_limit", 120)
	v.SetDefault("rate_window", time.Minute)
	v.SetDefault("amqp_queue", "ticketgate.conflicts")
	v.SetDefault("log_level", "info")
}

// Load читает конфигурацию из окружения (и .env, если он есть).
func Load() (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	return fromViper(v)
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	return cfg
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env: v.GetString("app_env"),
		DB:  db{DatabaseURI: v.GetString("database_uri")},
		Server: server{
			RunAddress:      v.GetString("run_address"),
			ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		},
		Auth: auth{
			Secret:        v.GetString("secret"),
			TokenTTL:      v.GetDuration("token_ttl"),
			EnrollmentKey: v.GetString("enrollment_key"),
		},
		Sync: sync{
			Strategy:   validation.Strategy(v.GetString("sync_strategy")),
			MaxBatch:   v.GetInt("sync_max_batch"),
			MaxChanges: v.GetInt("sync_max_changes"),
		},
		Redis: redis{
			URL:    v.GetString("redis_url"),
			Limit:  v.GetInt("rate_limit"),
			Window: v.GetDuration("rate_window"),
		},
		AMQP: amqp{
			URL:   v.GetString("amqp_url"),
			Queue: v.GetString("amqp_queue"),
		},
		Logger: logger{LogLevel: v.GetString("log_level")},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DB.DatabaseURI == "" {
		errs = append(errs, errors.New("DATABASE_URI is required"))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("SECRET is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("TOKEN_TTL must be positive, got %s", c.Auth.TokenTTL))
	}
	if !c.Sync.Strategy.Valid() {
		errs = append(errs, fmt.Errorf("unknown SYNC_STRATEGY %q", c.Sync.Strategy))
	}
	if c.Redis.URL != "" && (c.Redis.Limit <= 0 || c.Redis.Window <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT and RATE_WINDOW must be positive when REDIS_URL is set"))
	}
	return errors.Join(errs...)
}
