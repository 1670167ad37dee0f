package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vk/xbuildgo/internal/manifest"
	"github.com/vk/xbuildgo/internal/publish"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ManifestPath string
	Platforms    []string
	Archs        []string
	// Jobs bounds concurrent build units; zero means one per CPU.
	Jobs        int
	BuildConfig string
	DryRun      bool
	Publish     bool
	NotifyURL   string

	LogFormat string
	LogLevel  string

	S3 publish.S3Config
}

// NewConfig validates cfg and returns a normalized copy.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ManifestPath == "" {
		return nil, errors.New("a manifest path is required")
	}
	if cfg.Jobs < 0 {
		return nil, fmt.Errorf("invalid jobs %d: must not be negative", cfg.Jobs)
	}
	for _, p := range cfg.Platforms {
		if _, ok := manifest.ParsePlatform(p); !ok {
			return nil, fmt.Errorf("invalid platform %q", p)
		}
	}
	for _, a := range cfg.Archs {
		if _, ok := manifest.ParseArch(a); !ok {
			return nil, fmt.Errorf("invalid architecture %q", a)
		}
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	return &cfg, nil
}

// S3ConfigFromEnv reads the XBUILD_S3_* variables.
func S3ConfigFromEnv(getenv func(string) string) publish.S3Config {
	useSSL := true
	if v := getenv("XBUILD_S3_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			useSSL = b
		}
	}
	return publish.S3Config{
		Endpoint:  getenv("XBUILD_S3_ENDPOINT"),
		Region:    getenv("XBUILD_S3_REGION"),
		AccessKey: getenv("XBUILD_S3_ACCESS_KEY"),
		SecretKey: getenv("XBUILD_S3_SECRET_KEY"),
		Bucket:    getenv("XBUILD_S3_BUCKET"),
		UseSSL:    useSSL,
		Prefix:    getenv("XBUILD_S3_PREFIX"),
	}
}
