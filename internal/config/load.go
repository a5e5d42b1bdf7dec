package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/alexisbeaulieu97/assetq/internal/queue"
	assetqerrors "github.com/alexisbeaulieu97/assetq/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. ASSETQ_MAX_JOBS or ASSETQ_LOG_LEVEL.
const EnvPrefix = "ASSETQ"

var customHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		platformHookFunc(),
	)),
}

// platformHookFunc lets a platform be written as a bare name.
func platformHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(Platform{}) {
			return data, nil
		}
		return Platform{Name: data.(string)}, nil
	}
}

func setDefaults(v *viper.Viper) {
	search := queue.DefaultSearchOptions()
	v.SetDefault("max_jobs", 0)
	v.SetDefault("cache_root", "cache")
	v.SetDefault("database_path", filepath.Join(".assetq", "assetq.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.human_readable", true)
	v.SetDefault("wait.poll_interval", 100*time.Millisecond)
	v.SetDefault("wait.lock_timeout", 30*time.Second)
	v.SetDefault("wait.fingerprint_timeout", 10*time.Second)
	v.SetDefault("shutdown_poll_interval", 50*time.Millisecond)
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("search.strip_extension", search.StripExtension)
	v.SetDefault("search.strip_underscore_suffix", search.StripUnderscoreSuffix)
	v.SetDefault("search.min_contains_length", search.MinContainsLength)
	v.SetDefault("metrics_addr", "")
}

// Load reads the configuration file at path, applies ASSETQ_* environment
// overrides and defaults, resolves relative paths against the file's
// directory and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil, assetqerrors.NewParseError(path, 0, err)
		}
		return nil, assetqerrors.NewParseError(path, extractLine(err), err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, customHooks...); err != nil {
		return nil, assetqerrors.NewParseError(path, 0, err)
	}

	cfg.resolvePaths(filepath.Dir(path))
	cfg.normalize()
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.CacheRoot = abs(c.CacheRoot)
	c.DatabasePath = abs(c.DatabasePath)
	for i := range c.ScanFolders {
		c.ScanFolders[i].Path = abs(c.ScanFolders[i].Path)
	}
}

func (c *Config) normalize() {
	for i := range c.Platforms {
		c.Platforms[i].Name = strings.ToLower(strings.TrimSpace(c.Platforms[i].Name))
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	for i := range c.ScanFolders {
		if c.ScanFolders[i].PortableKey == "" {
			c.ScanFolders[i].PortableKey = filepath.Base(c.ScanFolders[i].Path)
		}
	}
}
