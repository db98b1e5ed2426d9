package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultAuthorityAddress = "localhost:8080"
	defaultLogLevel         = "info"
	defaultEnv              = "local"
	defaultConfigDir        = ".ticketgate"
	defaultListenAddress    = "127.0.0.1:8090"
	// maxBatchSize совпадает с sync_max_batch авторитета по умолчанию.
	maxBatchSize = 500
)

type Config struct {
	Env              string `mapstructure:"app_env"`
	AuthorityAddress string `mapstructure:"authority_address"`
	LogLevel         string `mapstructure:"log_level"`
	ConfigDir        string `mapstructure:"config_dir"`
	TokenPath        string `mapstructure:"token_path"`
	DataPath         string `mapstructure:"data_path"`
	EnableTLS        bool   `mapstructure:"enable_tls"`
	CACertPath       string `mapstructure:"ca_cert_path"`

	DeviceID      string `mapstructure:"device_id"`
	DeviceName    string `mapstructure:"device_name"`
	Validator     string `mapstructure:"validator"`
	ListenAddress string `mapstructure:"listen_address"`
	Timezone      string `mapstructure:"timezone"`

	SyncInterval    time.Duration `mapstructure:"sync_interval"`
	BatchWindow     time.Duration `mapstructure:"batch_window"`
	BatchSize       int           `mapstructure:"batch_size"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay   time.Duration `mapstructure:"max_retry_delay"`
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

func setDefaults(v *viper.Viper) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "gate"
	}

	v.SetDefault("app_env", defaultEnv)
	v.SetDefault("authority_address", defaultAuthorityAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("config_dir", defaultConfigDir)
	v.SetDefault("token_path", "")
	v.SetDefault("data_path", "")
	v.SetDefault("enable_tls", false)
	v.SetDefault("ca_cert_path", "")
	v.SetDefault("device_name", "")
	v.SetDefault("validator", "")
	v.SetDefault("device_id", hostname)
	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("timezone", "Local")
	v.SetDefault("sync_interval", 30*time.Second)
	v.SetDefault("batch_window", 2*time.Second)
	v.SetDefault("batch_size", 100)
	v.SetDefault("retry_delay", time.Second)
	v.SetDefault("max_retry_delay", 5*time.Minute)
	v.SetDefault("probe_interval", 15*time.Second)
	v.SetDefault("probe_timeout", 3*time.Second)
	v.SetDefault("refresh_interval", 10*time.Minute)
	v.SetDefault("request_timeout", 30*time.Second)
}

// Load собирает конфигурацию устройства: значения по умолчанию, YAML-файл (если указан),
// .env и переменные окружения. Создает каталог данных.
func Load(configFile string) (*Config, error) {
	envPath := ".env"
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Printf("Ошибка загрузки .env файла: %v\n", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.ConfigDir, 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	return cfg, nil
}

func MustLoad(configFile string) *Config {
	cfg, err := Load(configFile)
	if err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}
	return cfg
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.ConfigDir == defaultConfigDir {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		cfg.ConfigDir = filepath.Join(homeDir, defaultConfigDir)
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = filepath.Join(cfg.ConfigDir, "token")
	}
	if cfg.DataPath == "" {
		cfg.DataPath = filepath.Join(cfg.ConfigDir, "gate.db")
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = cfg.DeviceID
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.AuthorityAddress == "" {
		errs = append(errs, errors.New("authority_address must not be empty"))
	}
	if c.DeviceID == "" {
		errs = append(errs, errors.New("device_id must not be empty"))
	}
	if c.BatchSize <= 0 || c.BatchSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batch_size must be between 1 and %d, got %d", maxBatchSize, c.BatchSize))
	}
	if c.RetryDelay <= 0 || c.MaxRetryDelay < c.RetryDelay {
		errs = append(errs, errors.New("retry_delay must be positive and not above max_retry_delay"))
	}
	if c.ProbeTimeout <= 0 || c.ProbeInterval <= 0 {
		errs = append(errs, errors.New("probe_interval and probe_timeout must be positive"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location возвращает часовой пояс операционной даты.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
