// Package config loads service configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither file nor environment provides a value.
const (
	DefaultHost                = "127.0.0.1"
	DefaultStudyManagerPort    = 28080
	DefaultExecutorPort        = 28081
	DefaultRecyclePeriod       = 100 * time.Millisecond
	DefaultStudyManagerWorkers = 30
	DefaultExecutorWorkers     = 1
)

// Config holds the runtime configuration for both services.
type Config struct {
	// Host is the bind address for both HTTP servers.
	Host string `yaml:"host"`
	// StudyManagerPort is the listen port of the study manager service.
	StudyManagerPort int `yaml:"study_manager_port"`
	// ExecutorPort is the listen port of the algorithm executor service.
	ExecutorPort int `yaml:"executor_port"`

	// RecyclePeriod bounds how long a long-running operation may sit
	// without progress before the recycler force-terminates it.
	RecyclePeriod time.Duration `yaml:"recycle_period"`
	// StudyManagerWorkers bounds concurrent request handling in the study
	// manager.
	StudyManagerWorkers int `yaml:"study_manager_workers"`
	// ExecutorWorkers bounds concurrent algorithm invocations in the
	// executor.
	ExecutorWorkers int `yaml:"executor_workers"`

	// StorageDriver selects the datastore backend: memory, sqlite or
	// postgres.
	StorageDriver string `yaml:"storage_driver"`
	// SQLitePath is the sqlite database file when storage_driver=sqlite.
	SQLitePath string `yaml:"sqlite_path"`
	// PostgresDSN is the connection string when storage_driver=postgres.
	PostgresDSN string `yaml:"postgres_dsn"`

	// BlobDriver selects the artifact store backend: memory, fs or s3.
	BlobDriver string `yaml:"blob_driver"`
	// BlobFSRoot is the root directory when blob_driver=fs.
	BlobFSRoot string `yaml:"blob_fs_root"`
	// BlobS3Bucket is the bucket name when blob_driver=s3.
	BlobS3Bucket string `yaml:"blob_s3_bucket"`

	// LogLevel and LogFormat configure structured logging.
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns a Config populated with defaults only.
func Default() Config {
	return Config{
		Host:                DefaultHost,
		StudyManagerPort:    DefaultStudyManagerPort,
		ExecutorPort:        DefaultExecutorPort,
		RecyclePeriod:       DefaultRecyclePeriod,
		StudyManagerWorkers: DefaultStudyManagerWorkers,
		ExecutorWorkers:     DefaultExecutorWorkers,
		StorageDriver:       "memory",
		BlobDriver:          "memory",
		LogLevel:            "INFO",
		LogFormat:           "JSON",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// STUDYCORE_* environment overrides, in increasing precedence.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("STUDYCORE_HOST", &c.Host)
	if err := setInt("STUDYCORE_STUDY_MANAGER_PORT", &c.StudyManagerPort); err != nil {
		return err
	}
	if err := setInt("STUDYCORE_EXECUTOR_PORT", &c.ExecutorPort); err != nil {
		return err
	}
	if v := os.Getenv("STUDYCORE_RECYCLE_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STUDYCORE_RECYCLE_PERIOD: %w", err)
		}
		c.RecyclePeriod = d
	}
	if err := setInt("STUDYCORE_STUDY_MANAGER_WORKERS", &c.StudyManagerWorkers); err != nil {
		return err
	}
	if err := setInt("STUDYCORE_EXECUTOR_WORKERS", &c.ExecutorWorkers); err != nil {
		return err
	}
	setString("STUDYCORE_STORAGE_DRIVER", &c.StorageDriver)
	setString("STUDYCORE_SQLITE_PATH", &c.SQLitePath)
	setString("STUDYCORE_POSTGRES_DSN", &c.PostgresDSN)
	setString("STUDYCORE_BLOB_DRIVER", &c.BlobDriver)
	setString("STUDYCORE_BLOB_FS_ROOT", &c.BlobFSRoot)
	setString("STUDYCORE_BLOB_S3_BUCKET", &c.BlobS3Bucket)
	setString("STUDYCORE_LOG_LEVEL", &c.LogLevel)
	setString("STUDYCORE_LOG_FORMAT", &c.LogFormat)
	return nil
}

// Validate rejects configurations that cannot produce a working service.
func (c Config) Validate() error {
	if c.StudyManagerPort <= 0 || c.StudyManagerPort > 65535 {
		return fmt.Errorf("invalid study manager port %d", c.StudyManagerPort)
	}
	if c.ExecutorPort <= 0 || c.ExecutorPort > 65535 {
		return fmt.Errorf("invalid executor port %d", c.ExecutorPort)
	}
	if c.StudyManagerPort == c.ExecutorPort {
		return fmt.Errorf("study manager and executor ports must differ (both %d)", c.StudyManagerPort)
	}
	if c.RecyclePeriod <= 0 {
		return fmt.Errorf("recycle period must be positive, got %s", c.RecyclePeriod)
	}
	if c.StudyManagerWorkers <= 0 {
		return fmt.Errorf("study manager workers must be positive, got %d", c.StudyManagerWorkers)
	}
	if c.ExecutorWorkers <= 0 {
		return fmt.Errorf("executor workers must be positive, got %d", c.ExecutorWorkers)
	}
	return nil
}

// StudyManagerAddr returns host:port for the study manager service.
func (c Config) StudyManagerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.StudyManagerPort)
}

// ExecutorAddr returns host:port for the executor service.
func (c Config) ExecutorAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.ExecutorPort)
}
