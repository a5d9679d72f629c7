// Package config loads epubfetch settings from a TOML file, a .env file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config is the complete set of settings.
type Config struct {
	BaseURL               string            `toml:"base_url" validate:"required,url"`
	OutputDir             string            `toml:"output_dir" validate:"required"`
	Format                string            `toml:"format" validate:"oneof=html epub pdf"`
	Concurrency           int               `toml:"concurrency" validate:"min=1,max=64"`
	Strict                bool              `toml:"strict"`
	ConflictPolicy        string            `toml:"conflict_policy" validate:"oneof=last-wins first-wins strict"`
	Validate              bool              `toml:"validate"`
	MaxImageWidth         int               `toml:"max_image_width" validate:"min=0"`
	JPEGQuality           int               `toml:"jpeg_quality" validate:"min=1,max=100"`
	LegacyPNGDataURI      bool              `toml:"legacy_png_data_uri"`
	ExtraStylesheets      []string          `toml:"extra_stylesheets"`
	LedgerPath            string            `toml:"ledger_path"`
	ProxyURL              string            `toml:"proxy_url" validate:"omitempty,url"`
	RequestTimeoutSeconds int               `toml:"request_timeout_seconds" validate:"min=1"`
	RenderTimeoutSeconds  int               `toml:"render_timeout_seconds" validate:"min=1"`
	Headers               map[string]string `toml:"headers"`
	Log                   Log               `toml:"log"`
}

// Log configures the process logger.
type Log struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "epubfetch.toml"

// Default returns the configuration used when no file overrides a key.
func Default() Config {
	return Config{
		OutputDir:             "books",
		Format:                "epub",
		Concurrency:           2,
		ConflictPolicy:        "last-wins",
		Validate:              true,
		JPEGQuality:           85,
		RequestTimeoutSeconds: 60,
		RenderTimeoutSeconds:  120,
		Headers:               map[string]string{},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultConfigPath returns the per-user configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/epubfetch/config.toml")
}

// LoadEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load locates and parses a configuration file. It returns the config, the
// resolved path and whether a file was read. The result is normalized but not
// validated, so callers can apply flag overrides before calling Validate.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()
		if err := Decode(file, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("failed to parse %s: %w", resolved, err)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// Decode reads TOML into cfg, rejecting unknown keys.
func Decode(r io.Reader, cfg *Config) error {
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(cfg)
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file %s does not exist", expanded)
			}
			return "", false, fmt.Errorf("failed to stat config: %w", err)
		}
		return expanded, true, nil
	}

	candidates := []string{DefaultFileName}
	if p, err := DefaultConfigPath(); err == nil {
		candidates = append(candidates, p)
	}
	for _, c := range candidates {
		abs, err := filepath.Abs(c)
		if err != nil {
			continue
		}
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			return abs, true, nil
		}
	}
	return "", false, nil
}

// Normalize trims values, expands paths and fills derived defaults.
func (c *Config) Normalize() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	c.ConflictPolicy = strings.ToLower(strings.TrimSpace(c.ConflictPolicy))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	var err error
	if c.OutputDir, err = expandPath(c.OutputDir); err != nil {
		return fmt.Errorf("output_dir: %w", err)
	}
	if strings.TrimSpace(c.LedgerPath) == "" && c.OutputDir != "" {
		c.LedgerPath = filepath.Join(c.OutputDir, ".epubfetch.db")
	}
	if c.LedgerPath, err = expandPath(c.LedgerPath); err != nil {
		return fmt.Errorf("ledger_path: %w", err)
	}
	if c.Headers == nil {
		c.Headers = map[string]string{}
	}
	return nil
}

// RequestTimeout is the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// RenderTimeout bounds one PDF rendering.
func (c *Config) RenderTimeout() time.Duration {
	return time.Duration(c.RenderTimeoutSeconds) * time.Second
}

// Redacted returns a copy whose header values are masked.
func (c Config) Redacted() Config {
	headers := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		if v != "" {
			v = "***"
		}
		headers[k] = v
	}
	c.Headers = headers
	return c
}

// Encode writes cfg as TOML.
func Encode(w io.Writer, cfg Config) error {
	encoder := toml.NewEncoder(w)
	encoder.SetIndentTables(true)
	return encoder.Encode(cfg)
}

// HeaderNames returns the configured header names in sorted order.
func (c *Config) HeaderNames() []string {
	names := make([]string, 0, len(c.Headers))
	for k := range c.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
