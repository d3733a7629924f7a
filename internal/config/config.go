// Package config loads numbfs settings: built-in defaults, then an optional
// YAML file, then NUMBFS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/AnishMulay/numbfs/internal/fs_errors"
	"github.com/AnishMulay/numbfs/internal/log_service"
	"github.com/AnishMulay/numbfs/internal/superblock"
)

const (
	EnvPrefix     = "NUMBFS"
	EnvConfigFile = EnvPrefix + "_CONFIG_FILE"
)

type Config struct {
	// Image is a local image file. Remote is the address of a block server.
	// Exactly one of them selects the device.
	Image         string        `yaml:"image"         envconfig:"IMAGE"`
	Remote        string        `yaml:"remote"        envconfig:"REMOTE"`
	RemoteTimeout time.Duration `yaml:"remoteTimeout" envconfig:"REMOTE_TIMEOUT"`
	Geometry      Geometry      `yaml:"geometry"      envconfig:"GEOMETRY"`
	CacheBlocks   int           `yaml:"cacheBlocks"   envconfig:"CACHE_BLOCKS"`
	Log           Log           `yaml:"log"           envconfig:"LOG"`
	Blockd        Blockd        `yaml:"blockd"        envconfig:"BLOCKD"`
}

// Geometry is used by mkfs only; a mounted volume reads its own from the superblock.
type Geometry struct {
	Inodes     uint32 `yaml:"inodes"     envconfig:"INODES"`
	DataBlocks uint32 `yaml:"dataBlocks" envconfig:"DATA_BLOCKS"`
}

func (g Geometry) Superblock() superblock.Geometry {
	return superblock.Geometry{Inodes: g.Inodes, DataBlocks: g.DataBlocks}
}

type Log struct {
	// Dir, when empty, sends logs to stderr.
	Dir    string `yaml:"dir"    envconfig:"DIR"`
	Level  string `yaml:"level"  envconfig:"LEVEL"`
	NodeID string `yaml:"nodeID" envconfig:"NODE_ID"`
}

type Blockd struct {
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

func Default() *Config {
	return &Config{
		Image:         "numbfs.img",
		RemoteTimeout: 5 * time.Second,
		Geometry: Geometry{
			Inodes:     1024,
			DataBlocks: 8192,
		},
		CacheBlocks: 1024,
		Log: Log{
			Level: log_service.InfoLevel,
		},
		Blockd: Blockd{
			Addr: "localhost:7070",
		},
	}
}

// Load builds a config from the defaults, the YAML file at path (skipped when
// path is empty) and the environment. The result is validated.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch {
	case c.Image == "" && c.Remote == "":
		errs = append(errs, errors.New("one of image / NUMBFS_IMAGE or remote / NUMBFS_REMOTE is required"))
	case c.Image != "" && c.Remote != "":
		errs = append(errs, errors.New("image and remote are mutually exclusive"))
	}
	if err := c.Geometry.Superblock().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("geometry: %w", err))
	}
	if c.CacheBlocks < 0 {
		errs = append(errs, fmt.Errorf("cacheBlocks %d is negative", c.CacheBlocks))
	}
	if c.RemoteTimeout < 0 {
		errs = append(errs, fmt.Errorf("remoteTimeout %s is negative", c.RemoteTimeout))
	}
	switch strings.ToUpper(c.Log.Level) {
	case log_service.DebugLevel, log_service.InfoLevel, log_service.WarnLevel, log_service.ErrorLevel:
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w: %w", fs_errors.ErrInvalidArgument, err)
	}
	return nil
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is left alone.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s: %w", path, fs_errors.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
