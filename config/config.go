// Package config loads the branchfs mount configuration.
//
// Configuration sources (in order of precedence):
//  1. Command line flags
//  2. Environment variables (BRANCHFS_*)
//  3. Configuration file (YAML)
//  4. Default values
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/absfs/branchfs"
)

// Config represents the complete branchfs configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Branches lists the branches in priority order, highest first
	Branches []BranchConfig `mapstructure:"branches" yaml:"branches" validate:"dive"`

	// Dirs is the compact branch syntax "/a=RW:/b=RO". Its branches are
	// appended to Branches during Load.
	Dirs string `mapstructure:"dirs" yaml:"dirs,omitempty"`

	// Chroot is prepended to every branch path
	Chroot string `mapstructure:"chroot" yaml:"chroot,omitempty"`

	// COW enables copy-on-write promotion and whiteouts
	COW bool `mapstructure:"cow" yaml:"cow"`

	// StatfsOmitRO leaves read-only branches out of statfs totals
	StatfsOmitRO bool `mapstructure:"statfs_omit_ro" yaml:"statfs_omit_ro"`

	// HideMetaFiles filters .fuse_hidden* entries from listings
	HideMetaFiles bool `mapstructure:"hide_meta_files" yaml:"hide_meta_files"`

	// CopyBufferSize is the buffer used when promoting files, in bytes
	CopyBufferSize int `mapstructure:"copy_buffer_size" yaml:"copy_buffer_size" validate:"gte=4096"`

	// Mount holds kernel mount settings
	Mount MountConfig `mapstructure:"mount" yaml:"mount"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR"`

	// Format specifies the log output format
	// Valid values: text, json, logfmt
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json logfmt"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`

	// QueueSize is the capacity of the asynchronous log queue. Zero logs
	// synchronously.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=0"`
}

// BranchConfig describes one branch.
type BranchConfig struct {
	// Path is the branch root on the host
	Path string `mapstructure:"path" yaml:"path" validate:"required"`

	// Writable marks the branch read-write
	Writable bool `mapstructure:"writable" yaml:"writable"`
}

// MountConfig holds kernel mount settings.
type MountConfig struct {
	// FSName is reported as the mount source
	FSName string `mapstructure:"fsname" yaml:"fsname" validate:"required"`

	// AllowOther lets other users access the mount
	AllowOther bool `mapstructure:"allow_other" yaml:"allow_other"`

	// RelaxedPermissions leaves permission checks to the branches instead of
	// the kernel
	RelaxedPermissions bool `mapstructure:"relaxed_permissions" yaml:"relaxed_permissions"`

	// MaxFiles raises the open file limit before mounting; zero keeps it
	MaxFiles uint64 `mapstructure:"max_files" yaml:"max_files"`

	// EntryTimeout is how long the kernel caches name lookups
	EntryTimeout time.Duration `mapstructure:"entry_timeout" yaml:"entry_timeout" validate:"gte=0"`

	// AttrTimeout is how long the kernel caches attributes
	AttrTimeout time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout" validate:"gte=0"`

	// Debug logs every kernel request
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the address of the /metrics endpoint
	Listen string `mapstructure:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"dirs":                "dirs",
	"chroot":              "chroot",
	"cow":                 "cow",
	"statfs-omit-ro":      "statfs_omit_ro",
	"hide-meta-files":     "hide_meta_files",
	"log-level":           "logging.level",
	"log-format":          "logging.format",
	"fsname":              "mount.fsname",
	"allow-other":         "mount.allow_other",
	"relaxed-permissions": "mount.relaxed_permissions",
	"max-files":           "mount.max_files",
	"debug":               "mount.debug",
	"metrics":             "metrics.enabled",
	"metrics-listen":      "metrics.listen",
}

// Load loads configuration from file, environment, and defaults.
//
// An empty configPath searches the default location. A missing file is not
// an error: defaults and environment variables still apply.
func Load(configPath string) (*Config, error) {
	return LoadWithFlags(configPath, nil)
}

// LoadWithFlags is Load with command line flags taking precedence. Only
// flags named in flagKeys are bound; flags left unset do not override
// other sources.
func LoadWithFlags(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Dirs != "" {
		branches, err := ParseBranches(cfg.Dirs)
		if err != nil {
			return nil, fmt.Errorf("dirs: %w", err)
		}
		cfg.Branches = append(cfg.Branches, branches...)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variables, file lookup and the
// defaults that a zero value cannot express.
func setupViper(v *viper.Viper, configPath string) {
	// Example: BRANCHFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("BRANCHFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("cow", true)
	v.SetDefault("dirs", "")
	v.SetDefault("chroot", "")
	v.SetDefault("statfs_omit_ro", false)
	v.SetDefault("hide_meta_files", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "branchfs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "branchfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// BranchSpecs returns the branches with the chroot applied.
func (c *Config) BranchSpecs() []branchfs.BranchSpec {
	specs := make([]branchfs.BranchSpec, len(c.Branches))
	for i, b := range c.Branches {
		p := b.Path
		if c.Chroot != "" {
			p = filepath.Join(c.Chroot, p)
		}
		specs[i] = branchfs.BranchSpec{Path: p, Writable: b.Writable}
	}
	return specs
}

// Options converts the configuration into engine options.
func (c *Config) Options() []branchfs.Option {
	return []branchfs.Option{
		branchfs.WithBranches(c.BranchSpecs()...),
		branchfs.WithCOW(c.COW),
		branchfs.WithStatfsOmitRO(c.StatfsOmitRO),
		branchfs.WithHideMetaFiles(c.HideMetaFiles),
		branchfs.WithCopyBufferSize(c.CopyBufferSize),
	}
}
