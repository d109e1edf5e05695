// Package config loads the settings of the batch runner from a YAML file, a .env file and BATCH_* environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chararch/batchcore"
	"github.com/chararch/batchcore/file"
	"github.com/chararch/batchcore/internal/logs"
	"github.com/chararch/batchcore/sqlrepo"
	"github.com/chararch/batchcore/util"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Batch    BatchConfig    `yaml:"batch"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type DatabaseConfig struct {
	//Type mysql, postgres or sqlite3
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
	//Migrate install or upgrade the batch tables on startup
	Migrate bool       `yaml:"migrate"`
	Pool    PoolConfig `yaml:"pool"`
}

type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type BatchConfig struct {
	CommitInterval uint        `yaml:"commit_interval"`
	SkipLimit      int64       `yaml:"skip_limit"`
	Retry          RetryConfig `yaml:"retry"`
	//PoolSize max number of jobs running in parallel
	PoolSize int         `yaml:"pool_size"`
	Input    InputConfig `yaml:"input"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type InputConfig struct {
	//File name or {param,format} pattern of the input file
	File string `yaml:"file"`
	//Storage local or ftp
	Storage string `yaml:"storage"`
	//Checksum OK, MD5, SHA1, SHA256 or empty
	Checksum string    `yaml:"checksum"`
	FTP      FTPConfig `yaml:"ftp"`
}

type FTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	//Format console or json
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	//Addr listen address of the admin http server, disabled when empty
	Addr string `yaml:"addr"`
}

//NewConfig the default settings
func NewConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type:    sqlrepo.SQLite,
			DSN:     "batch.db",
			Migrate: true,
		},
		Batch: BatchConfig{
			CommitInterval: 100,
			Retry: RetryConfig{
				MaxAttempts:     batchcore.DefaultRetryAttempts,
				InitialInterval: batchcore.DefaultRetryInitialInterval,
				MaxInterval:     batchcore.DefaultRetryMaxInterval,
			},
			PoolSize: 10,
			Input: InputConfig{
				File:    "vgsales.csv",
				Storage: file.LocalFileStorage,
				FTP:     FTPConfig{Port: 21, Timeout: 10 * time.Second},
			},
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

//Load read the YAML file at path over the defaults, then apply environment overrides.
//Variables of envFiles (".env" by default) are loaded first without replacing the existing ones, missing files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "load env file:%v", envFile)
		}
	}
	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file:%v", path)
		}
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file:%v", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envString(key string, target *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*target = v
	}
}

func envInt64(key string, target *int64) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid %v", key)
	}
	*target = n
	return nil
}

func envInt(key string, target *int) error {
	n := int64(*target)
	if err := envInt64(key, &n); err != nil {
		return err
	}
	*target = int(n)
	return nil
}

func envDuration(key string, target *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "invalid %v", key)
	}
	*target = d
	return nil
}

func (cfg *Config) applyEnv() error {
	envString("BATCH_DATABASE_TYPE", &cfg.Database.Type)
	envString("BATCH_DATABASE_DSN", &cfg.Database.DSN)
	if v, ok := os.LookupEnv("BATCH_DATABASE_MIGRATE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, "invalid BATCH_DATABASE_MIGRATE")
		}
		cfg.Database.Migrate = b
	}
	commitInterval := int64(cfg.Batch.CommitInterval)
	errs := []error{
		envInt("BATCH_DATABASE_MAX_OPEN_CONNS", &cfg.Database.Pool.MaxOpenConns),
		envInt("BATCH_DATABASE_MAX_IDLE_CONNS", &cfg.Database.Pool.MaxIdleConns),
		envDuration("BATCH_DATABASE_CONN_MAX_LIFETIME", &cfg.Database.Pool.ConnMaxLifetime),
		envInt64("BATCH_COMMIT_INTERVAL", &commitInterval),
		envInt64("BATCH_SKIP_LIMIT", &cfg.Batch.SkipLimit),
		envInt("BATCH_RETRY_MAX_ATTEMPTS", &cfg.Batch.Retry.MaxAttempts),
		envDuration("BATCH_RETRY_INITIAL_INTERVAL", &cfg.Batch.Retry.InitialInterval),
		envDuration("BATCH_RETRY_MAX_INTERVAL", &cfg.Batch.Retry.MaxInterval),
		envInt("BATCH_POOL_SIZE", &cfg.Batch.PoolSize),
		envInt("BATCH_FTP_PORT", &cfg.Batch.Input.FTP.Port),
		envDuration("BATCH_FTP_TIMEOUT", &cfg.Batch.Input.FTP.Timeout),
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	if commitInterval < 0 {
		return errors.Errorf("invalid BATCH_COMMIT_INTERVAL: %v", commitInterval)
	}
	cfg.Batch.CommitInterval = uint(commitInterval)
	envString("BATCH_INPUT_FILE", &cfg.Batch.Input.File)
	envString("BATCH_INPUT_STORAGE", &cfg.Batch.Input.Storage)
	envString("BATCH_INPUT_CHECKSUM", &cfg.Batch.Input.Checksum)
	envString("BATCH_FTP_HOST", &cfg.Batch.Input.FTP.Host)
	envString("BATCH_FTP_USER", &cfg.Batch.Input.FTP.User)
	envString("BATCH_FTP_PASSWORD", &cfg.Batch.Input.FTP.Password)
	envString("BATCH_LOG_LEVEL", &cfg.Log.Level)
	envString("BATCH_LOG_FORMAT", &cfg.Log.Format)
	envString("BATCH_METRICS_ADDR", &cfg.Metrics.Addr)
	return nil
}

//Validate check the settings are complete and consistent
func (cfg *Config) Validate() error {
	if _, ok := sqlrepo.DriverName(cfg.Database.Type); !ok {
		return errors.Errorf("unsupported database type: %v", cfg.Database.Type)
	}
	if cfg.Database.DSN == "" {
		return errors.New("database dsn must not be empty")
	}
	if cfg.Batch.CommitInterval == 0 {
		return errors.New("commit interval must be greater than 0")
	}
	if cfg.Batch.SkipLimit < 0 {
		return errors.Errorf("skip limit must not be negative: %v", cfg.Batch.SkipLimit)
	}
	if cfg.Batch.Retry.MaxAttempts < 1 {
		return errors.Errorf("retry max attempts must be at least 1: %v", cfg.Batch.Retry.MaxAttempts)
	}
	if cfg.Batch.PoolSize < 1 {
		return errors.Errorf("pool size must be at least 1: %v", cfg.Batch.PoolSize)
	}
	input := cfg.Batch.Input
	if input.File == "" {
		return errors.New("input file must not be empty")
	}
	switch strings.ToLower(input.Storage) {
	case file.LocalFileStorage:
	case file.FTPFileStorage:
		if input.FTP.Host == "" {
			return errors.New("ftp host must not be empty for ftp storage")
		}
	default:
		return errors.Errorf("unsupported input storage: %v", input.Storage)
	}
	if !util.In(strings.ToUpper(input.Checksum), "", file.OKFlag, file.MD5, file.SHA1, file.SHA256) {
		return errors.Errorf("unsupported input checksum: %v", input.Checksum)
	}
	if _, err := logs.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	if !util.In(strings.ToLower(cfg.Log.Format), "", "console", "json") {
		return errors.Errorf("unsupported log format: %v", cfg.Log.Format)
	}
	return nil
}

//FileStorage the storage of the input file
func (cfg InputConfig) FileStorage() file.FileStorage {
	if strings.ToLower(cfg.Storage) == file.FTPFileStorage {
		return &file.FTPFileSystem{
			Host:        cfg.FTP.Host,
			Port:        cfg.FTP.Port,
			User:        cfg.FTP.User,
			Password:    cfg.FTP.Password,
			ConnTimeout: cfg.FTP.Timeout,
		}
	}
	return &file.LocalFileSystem{}
}
