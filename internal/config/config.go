package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

type Config struct {
	Port                int      `mapstructure:"port"`
	FilesDir            string   `mapstructure:"files_dir"`
	OrderByTime         bool     `mapstructure:"order_by_time"`
	AllowDeletion       bool     `mapstructure:"allow_deletion"`
	MaxFileSize         int64    `mapstructure:"max_file_size"`
	IgnoreList          []string `mapstructure:"ignore_list"`
	DebounceMs          int      `mapstructure:"debounce_ms"`
	BufferSize          int      `mapstructure:"buffer_size"`
	DBPath              string   `mapstructure:"db_path"`
	DisableInfo         bool     `mapstructure:"disable_info"`
	DisableFileDownload bool     `mapstructure:"disable_file_download"`
	RateLimit           float64  `mapstructure:"rate_limit"`
}

var Default = Config{
	Port:          8080,
	FilesDir:      "files",
	OrderByTime:   true,
	AllowDeletion: true,
	MaxFileSize:   100 * 1024 * 1024 * 1024,
	IgnoreList:    []string{".*"},
	DebounceMs:    100,
	BufferSize:    100,
	DBPath:        "filedrop.db",
	RateLimit:     10,
}

// Load reads the config file at path, or config.yaml from ~/.filedrop when
// path is empty. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home dir: %w", err)
		}

		configDir := filepath.Join(home, ".filedrop")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config dir: %w", err)
		}

		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
	}

	v.SetDefault("port", Default.Port)
	v.SetDefault("files_dir", Default.FilesDir)
	v.SetDefault("order_by_time", Default.OrderByTime)
	v.SetDefault("allow_deletion", Default.AllowDeletion)
	v.SetDefault("max_file_size", Default.MaxFileSize)
	v.SetDefault("ignore_list", Default.IgnoreList)
	v.SetDefault("debounce_ms", Default.DebounceMs)
	v.SetDefault("buffer_size", Default.BufferSize)
	v.SetDefault("db_path", Default.DBPath)
	v.SetDefault("disable_info", Default.DisableInfo)
	v.SetDefault("disable_file_download", Default.DisableFileDownload)
	v.SetDefault("rate_limit", Default.RateLimit)

	v.SetEnvPrefix("FILEDROP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, notFound := errors.AsType[viper.ConfigFileNotFoundError](err)
		if !notFound && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = Default.BufferSize
	}

	return &cfg, nil
}
