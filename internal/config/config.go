// Package config loads and validates the assetq configuration file.
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/assetq/internal/queue"
	"github.com/alexisbeaulieu97/assetq/internal/wait"
)

// Config is the root configuration document.
type Config struct {
	// MaxJobs of zero means one less than the number of CPUs, at least one.
	MaxJobs              int           `mapstructure:"max_jobs" yaml:"max_jobs" validate:"gte=0"`
	Platforms            []Platform    `mapstructure:"platforms" yaml:"platforms" validate:"required,min=1,unique=Name,dive"`
	ScanFolders          []ScanFolder  `mapstructure:"scan_folders" yaml:"scan_folders" validate:"required,min=1,unique=Path,dive"`
	CacheRoot            string        `mapstructure:"cache_root" yaml:"cache_root" validate:"required"`
	DatabasePath         string        `mapstructure:"database_path" yaml:"database_path" validate:"required"`
	Log                  LogConfig     `mapstructure:"log" yaml:"log"`
	Wait                 WaitConfig    `mapstructure:"wait" yaml:"wait"`
	ShutdownPollInterval time.Duration `mapstructure:"shutdown_poll_interval" yaml:"shutdown_poll_interval" validate:"gt=0"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gtefield=ShutdownPollInterval"`
	Search               SearchConfig  `mapstructure:"search" yaml:"search"`
	MetricsAddr          string        `mapstructure:"metrics_addr" yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// Platform is a build target.
type Platform struct {
	Name string `mapstructure:"name" yaml:"name" validate:"required,platform_id"`
	// Host marks the platform the tools themselves run on.
	Host bool `mapstructure:"host" yaml:"host"`
	// Intermediate marks a shared platform whose products feed other platforms.
	Intermediate bool `mapstructure:"intermediate" yaml:"intermediate"`
}

// ScanFolder is a root sources are discovered under.
type ScanFolder struct {
	Path        string `mapstructure:"path" yaml:"path" validate:"required"`
	PortableKey string `mapstructure:"portable_key" yaml:"portable_key"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level         string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	HumanReadable bool   `mapstructure:"human_readable" yaml:"human_readable"`
}

// WaitConfig bounds the per-job waits before a build starts.
type WaitConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
	LockTimeout        time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout" validate:"gtefield=PollInterval"`
	FingerprintTimeout time.Duration `mapstructure:"fingerprint_timeout" yaml:"fingerprint_timeout" validate:"gtefield=PollInterval"`
}

// LockPolicy is the wait policy for exclusive source access.
func (w WaitConfig) LockPolicy() wait.Policy {
	return wait.Policy{Interval: w.PollInterval, MaxDuration: w.LockTimeout}
}

// FingerprintPolicy is the wait policy for fingerprint stability.
func (w WaitConfig) FingerprintPolicy() wait.Policy {
	return wait.Policy{Interval: w.PollInterval, MaxDuration: w.FingerprintTimeout}
}

// SearchConfig tunes the heuristic job search tiers.
type SearchConfig struct {
	StripExtension        bool `mapstructure:"strip_extension" yaml:"strip_extension"`
	StripUnderscoreSuffix bool `mapstructure:"strip_underscore_suffix" yaml:"strip_underscore_suffix"`
	MinContainsLength     int  `mapstructure:"min_contains_length" yaml:"min_contains_length" validate:"gte=0"`
}

// Options converts the section into queue search options.
func (s SearchConfig) Options() queue.SearchOptions {
	return queue.SearchOptions{
		StripExtension:        s.StripExtension,
		StripUnderscoreSuffix: s.StripUnderscoreSuffix,
		MinContainsLength:     s.MinContainsLength,
	}
}

// EffectiveMaxJobs resolves a zero MaxJobs to the hardware default.
func (c *Config) EffectiveMaxJobs() int {
	if c.MaxJobs > 0 {
		return c.MaxJobs
	}
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// HostPlatform returns the first platform marked as host, or "".
func (c *Config) HostPlatform() string {
	for _, p := range c.Platforms {
		if p.Host {
			return p.Name
		}
	}
	return ""
}

// IntermediatePlatforms returns the names of intermediate platforms.
func (c *Config) IntermediatePlatforms() []string {
	var out []string
	for _, p := range c.Platforms {
		if p.Intermediate {
			out = append(out, p.Name)
		}
	}
	return out
}

// HasPlatform reports whether name is configured.
func (c *Config) HasPlatform(name string) bool {
	for _, p := range c.Platforms {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}
