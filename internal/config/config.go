package config

import (
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration shared by the test harness, repository and client peers
type Config struct {
	LogLevel   string           `yaml:"log_level" default:"info"`
	Harness    HarnessConfig    `yaml:"harness"`
	Repository RepositoryConfig `yaml:"repository"`
	Client     ClientConfig     `yaml:"client"`
	Comm       CommConfig       `yaml:"comm"`
	Transfer   TransferConfig   `yaml:"transfer"`
}

// HarnessConfig holds the test harness peer settings
type HarnessConfig struct {
	Endpoint   string `yaml:"endpoint" default:"http://localhost:8080/ICommunicator"`
	Workers    int    `yaml:"workers" default:"8"`
	StagingDir string `yaml:"staging_dir" default:"staging"`
	// SandboxCommand is split like a shell command line; empty re-executes the harness binary
	SandboxCommand string `yaml:"sandbox_command"`
}

// RepositoryConfig holds the content store peer settings
type RepositoryConfig struct {
	Endpoint      string `yaml:"endpoint" default:"http://localhost:8095/ICommunicator"`
	StreamAddress string `yaml:"stream_address" default:"http://localhost:8000/StreamService"`
	StorageDir    string `yaml:"storage_dir" default:"RepositoryStorage"`
	Catalog       string `yaml:"catalog" default:"catalog.db"`
}

// ClientConfig holds the requester peer settings
type ClientConfig struct {
	Endpoint  string `yaml:"endpoint" default:"http://localhost:8082/ICommunicator"`
	Name      string `yaml:"name" default:"Client"`
	Author    string `yaml:"author" default:"Fawcett"`
	UploadDir string `yaml:"upload_dir" default:"ToSend"`
}

// CommConfig holds the sender delivery policy
type CommConfig struct {
	MaxAttempts int           `yaml:"max_attempts" default:"10"`
	RetryDelay  time.Duration `yaml:"retry_delay" default:"100ms"`
	CallTimeout time.Duration `yaml:"call_timeout" default:"2s"`
}

// TransferConfig holds the streamed file transfer settings
type TransferConfig struct {
	BlockSize int `yaml:"block_size" default:"1024"`
}

// DefaultConfig returns a config populated only with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		// tags are static, a failure here is a programming error
		panic(err)
	}
	return cfg
}

// ParseConfig reads the yaml file at cfgPath on top of the default values
func ParseConfig(cfgPath string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config")
	}
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to parse config")
	}
	if cfg.Harness.Workers <= 0 {
		return cfg, errors.Errorf("harness.workers must be positive, got %d", cfg.Harness.Workers)
	}
	if cfg.Comm.MaxAttempts <= 0 {
		return cfg, errors.Errorf("comm.max_attempts must be positive, got %d", cfg.Comm.MaxAttempts)
	}
	if cfg.Transfer.BlockSize <= 0 {
		return cfg, errors.Errorf("transfer.block_size must be positive, got %d", cfg.Transfer.BlockSize)
	}
	return cfg, nil
}
