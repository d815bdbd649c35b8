package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CrateList accepts either a TOML array or a comma-separated string, so the
// same key works from config files and IMPLINDEX_* environment variables.
type CrateList []string

type IndexConfig struct {
	CurrentCrate       string    `mapstructure:"current_crate"`
	IgnoreExternCrates CrateList `mapstructure:"ignore_extern_crates"`
	RootPath           string    `mapstructure:"root_path"`
	MergeMode          string    `mapstructure:"merge_mode"`
	// DocsBaseURL resolves relative links when panels leave the browser
	// (CLI, MCP). Empty keeps links relative.
	DocsBaseURL string `mapstructure:"docs_base_url"`
}

type SourceConfig struct {
	Kind          string  `mapstructure:"kind"` // dir, http or s3
	Dir           string  `mapstructure:"dir"`
	BaseURL       string  `mapstructure:"base_url"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Concurrency   int     `mapstructure:"concurrency"`
}

type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type DaemonConfig struct {
	ExpirationSeconds int `mapstructure:"expiration_seconds"`
}

type Config struct {
	Index  IndexConfig  `mapstructure:"index"`
	Source SourceConfig `mapstructure:"source"`
	S3     S3Config     `mapstructure:"s3"`
	Daemon DaemonConfig `mapstructure:"daemon"`
}

// cacheBase returns the base cache directory for implindex.
// Checks XDG_CACHE_HOME, then ~/.cache, then /tmp/implindex as fallback.
func cacheBase() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "implindex")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "implindex")
	}
	return filepath.Join(os.TempDir(), "implindex")
}

// CASDir returns the path to the content-addressed shard cache.
func CASDir() string {
	return filepath.Join(cacheBase(), "cas")
}

// LogPath returns the path to the daemon's log file.
func LogPath() string {
	return filepath.Join(cacheBase(), "daemon.log")
}

// SocketPath returns the path to the daemon's unix socket.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "implindex", "daemon.sock")
	}
	return filepath.Join(fmt.Sprintf("/run/user/%d", os.Getuid()), "implindex", "daemon.sock")
}

func InitializeViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")

	viper.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		viper.AddConfigPath(filepath.Join(xdg, "implindex"))
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "implindex"))
	}

	setDefaults(viper.GetViper())

	viper.SetEnvPrefix("IMPLINDEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("index.current_crate", "")
	v.SetDefault("index.ignore_extern_crates", []string{})
	v.SetDefault("index.root_path", "")
	v.SetDefault("index.merge_mode", "append")
	v.SetDefault("index.docs_base_url", "")
	v.SetDefault("source.kind", "dir")
	v.SetDefault("source.dir", ".")
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.rate_per_second", 10.0)
	v.SetDefault("source.concurrency", 8)
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("daemon.expiration_seconds", 600)
}

func stringToCrateListHookFunc() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(CrateList{}) || f.Kind() != reflect.String {
			return data, nil
		}
		var list CrateList
		for _, part := range strings.Split(data.(string), ",") {
			if part = strings.TrimSpace(part); part != "" {
				list = append(list, part)
			}
		}
		return list, nil
	}
}

func Load() (*Config, error) {
	if err := InitializeViper(); err != nil {
		return nil, err
	}
	return decode(viper.AllSettings())
}

func decode(settings map[string]interface{}) (*Config, error) {
	var config Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: stringToCrateListHookFunc(),
		Result:     &config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.Index.MergeMode {
	case "", "append", "replace":
	default:
		return fmt.Errorf("index.merge_mode must be append or replace, got %q", c.Index.MergeMode)
	}
	switch c.Source.Kind {
	case "", "dir", "http", "s3":
	default:
		return fmt.Errorf("source.kind must be dir, http or s3, got %q", c.Source.Kind)
	}
	if c.Source.Kind == "s3" && c.S3.Bucket == "" {
		return fmt.Errorf("source.kind is s3 but s3.bucket is empty")
	}
	if c.Source.Kind == "http" && c.Source.BaseURL == "" {
		return fmt.Errorf("source.kind is http but source.base_url is empty")
	}
	return nil
}
