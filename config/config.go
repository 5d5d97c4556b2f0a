// Package config holds configuration for the metadump tools, layered from
// defaults, an optional yaml file, METADUMP_* environment variables and
// command line flags.
package config

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Defaults, also surfaced as flag defaults in the CLI.
var (
	DefaultDebug              = false
	DefaultTimeout            = 5 * time.Minute
	DefaultOutput             = "items.json"
	DefaultCacheDir           = path.Join(xdg.CacheHome, "metadump", "files")
	DefaultCatalogPath        = ""
	DefaultAPIBaseURL         = "https://api.example-items.com/v1"
	DefaultTokenURL           = "https://api.example-items.com/oauth/token"
	DefaultListenAddr         = "0.0.0.0:8000"
	DefaultS3Endpoint         = "localhost:9000"
	DefaultS3Bucket           = "metadump"
	DefaultMinFreeDiskPercent = 10
)

type Config struct {
	// Common settings
	Debug   bool          `mapstructure:"debug"`
	LogFile string        `mapstructure:"log_file"`
	Timeout time.Duration `mapstructure:"timeout"`

	// Vendor API settings
	API APIConfig `mapstructure:"api"`

	// Output settings
	Output OutputConfig `mapstructure:"output"`

	// S3 mirror settings
	S3 S3Config `mapstructure:"s3"`

	// Run catalog settings
	Catalog CatalogConfig `mapstructure:"catalog"`

	// Serving daemon settings
	Server ServerConfig `mapstructure:"server"`
}

type APIConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	PublisherID  string `mapstructure:"publisher_id"`
}

type OutputConfig struct {
	Path     string `mapstructure:"path"`
	Atomic   bool   `mapstructure:"atomic"`
	CacheDir string `mapstructure:"cache_dir"`
}

type S3Config struct {
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	DefaultBucket string `mapstructure:"default_bucket"`
	UseSSL        bool   `mapstructure:"use_ssl"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	ListenAddr         string `mapstructure:"listen_addr"`
	MinFreeDiskPercent int    `mapstructure:"min_free_disk_percent"`
}

func Init() (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// Config file search paths
	v.SetConfigName("metadump")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/metadump")
	v.AddConfigPath("/etc/metadump")

	// Environment variable prefix
	v.SetEnvPrefix("METADUMP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// If there's a config file but it's malformed, warn and continue with defaults
			fmt.Fprintf(os.Stderr, "Warning: error reading config file: %v (using defaults)\n", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", DefaultDebug)
	v.SetDefault("timeout", DefaultTimeout)

	v.SetDefault("api.base_url", DefaultAPIBaseURL)
	v.SetDefault("api.token_url", DefaultTokenURL)
	v.SetDefault("api.client_id", "")
	v.SetDefault("api.client_secret", "")
	v.SetDefault("api.publisher_id", "")

	v.SetDefault("output.path", DefaultOutput)
	v.SetDefault("output.atomic", false)
	v.SetDefault("output.cache_dir", DefaultCacheDir)

	v.SetDefault("s3.endpoint", DefaultS3Endpoint)
	v.SetDefault("s3.access_key", "minioadmin")
	v.SetDefault("s3.secret_key", "minioadmin")
	v.SetDefault("s3.default_bucket", DefaultS3Bucket)
	v.SetDefault("s3.use_ssl", false)

	v.SetDefault("catalog.path", DefaultCatalogPath)

	v.SetDefault("server.listen_addr", DefaultListenAddr)
	v.SetDefault("server.min_free_disk_percent", DefaultMinFreeDiskPercent)
}
