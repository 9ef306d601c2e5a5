// Package config holds the immutable run configuration and its layered
// loader: built-in defaults, an optional YAML file, then BILIDL_-prefixed
// environment variables. CLI flags are applied on top by the front-end.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"bilidl/internal/media"
)

// EnvPrefix scopes the environment variables read by the loader.
// BILIDL_OUTPUT_DIR maps to output_dir, and so on.
const EnvPrefix = "BILIDL_"

// DefaultConfigPaths lists where a config file is searched, first hit wins.
var DefaultConfigPaths = []string{
	"bilidl.yaml",
	"bilidl.yml",
}

// Config is the full set of recognized options. It is immutable after Load.
type Config struct {
	// URL is the target to download. Required unless Login is set.
	URL string `koanf:"url"`
	// Login triggers the interactive QR login flow.
	Login bool `koanf:"login"`
	// CookiePath points at a serialized cookie jar to log in with.
	CookiePath string `koanf:"cookie_path"`
	// SessionDir names a stored session directory to reuse.
	SessionDir string `koanf:"session_dir"`

	OutputDir string `koanf:"output_dir"`
	TmpDir    string `koanf:"tmp_dir"`

	// Quality is a symbolic name (360p .. 8k), mapped to a platform id.
	Quality string `koanf:"quality"`
	// Parts selects episodes with the range grammar "a-b,c".
	Parts string `koanf:"parts"`

	NeedVideo    bool `koanf:"need_video"`
	NeedAudio    bool `koanf:"need_audio"`
	NeedSubtitle bool `koanf:"need_subtitle"`
	NeedDanmaku  bool `koanf:"need_danmaku"`
	NeedCover    bool `koanf:"need_cover"`
	Merge        bool `koanf:"merge"`

	Concurrency int `koanf:"concurrency"`

	LogLevel string `koanf:"log_level"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		OutputDir:    ".",
		TmpDir:       "tmp",
		Quality:      "1080p",
		NeedVideo:    true,
		NeedAudio:    true,
		NeedSubtitle: true,
		NeedDanmaku:  true,
		NeedCover:    true,
		Merge:        true,
		Concurrency:  3,
		LogLevel:     "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in ascending precedence. An empty configPath falls
// back to DefaultConfigPaths; a missing default file is not an error, a
// missing explicit file is.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects option values the pipeline cannot act on.
func (c *Config) Validate() error {
	if c.Quality != "" {
		if _, err := media.QualityID(c.Quality); err != nil {
			return err
		}
	}
	if c.Parts != "" {
		if _, err := media.ParseParts(c.Parts); err != nil {
			return fmt.Errorf("invalid parts %q: %w", c.Parts, err)
		}
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}

// QualityID resolves the symbolic quality name, falling back to the default
// when unset.
func (c *Config) QualityID() int {
	if c.Quality == "" {
		return media.DefaultQualityID
	}
	id, err := media.QualityID(c.Quality)
	if err != nil {
		return media.DefaultQualityID
	}
	return id
}

// PartList parses the episode selection. Validate has already vetted the
// grammar, so errors are swallowed into an empty selection.
func (c *Config) PartList() []int {
	parts, err := media.ParseParts(c.Parts)
	if err != nil {
		return nil
	}
	return parts
}

func findConfigFile() string {
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps BILIDL_OUTPUT_DIR to output_dir.
func envTransform(key string) string {
	return strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
}
