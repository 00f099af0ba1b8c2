package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseURL is the public results site
	DefaultBaseURL = "https://resultados.gob.ar"

	// DefaultPresidentialIndex is the position of the presidential election in the nomenclator.
	// The catalog does not label elections by type, so this follows the upstream ordering.
	DefaultPresidentialIndex = 13

	DefaultDataDir   = "data"
	DefaultTimeout   = "30s"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	envPrefix = "RESULTADOS_"
)

// Config holds every setting of a run
type Config struct {
	BaseURL       string `yaml:"base_url"`
	DataDir       string `yaml:"data_dir"`
	ElectionIndex int    `yaml:"election_index"`
	Seed          uint64 `yaml:"seed"` // 0 picks a time-based seed
	Timeout       string `yaml:"timeout"`
	UserAgent     string `yaml:"user_agent"`
	PocketBaseDir string `yaml:"pocketbase_dir"` // empty disables the PocketBase sink
	Verbose       bool   `yaml:"verbose"`
}

// Paths is the on-disk layout under DataDir
type Paths struct {
	Catalog      string
	Results      string
	ErrorIDs     string
	ErrorRecords string
	Export       string
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       DefaultBaseURL,
		DataDir:       DefaultDataDir,
		ElectionIndex: DefaultPresidentialIndex,
		Timeout:       DefaultTimeout,
		UserAgent:     DefaultUserAgent,
	}
}

// Load reads a YAML config file over the defaults and applies environment overrides.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from .env files into the environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("error loading %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(envPrefix + "BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(envPrefix + "ELECTION_INDEX"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("invalid %sELECTION_INDEX: %w", envPrefix, err)
		}
		c.ElectionIndex = n
	}
	if v := os.Getenv(envPrefix + "SEED"); v != "" {
		n, err := cast.ToUint64E(v)
		if err != nil {
			return fmt.Errorf("invalid %sSEED: %w", envPrefix, err)
		}
		c.Seed = n
	}
	if v := os.Getenv(envPrefix + "TIMEOUT"); v != "" {
		c.Timeout = v
	}
	if v := os.Getenv(envPrefix + "USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv(envPrefix + "POCKETBASE_DIR"); v != "" {
		c.PocketBaseDir = v
	}
	if v := os.Getenv(envPrefix + "VERBOSE"); v != "" {
		b, err := cast.ToBoolE(v)
		if err != nil {
			return fmt.Errorf("invalid %sVERBOSE: %w", envPrefix, err)
		}
		c.Verbose = b
	}
	return nil
}

// Validate checks the settings before any work starts
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.ElectionIndex, validation.Min(0)),
		validation.Field(&c.Timeout, validation.Required, validation.By(isDuration)),
	)
}

func isDuration(value interface{}) error {
	s, _ := value.(string)
	d, err := time.ParseDuration(s)
	if err != nil {
		return errors.New("must be a duration such as 30s")
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

// HTTPTimeout returns the parsed request timeout
func (c *Config) HTTPTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		d, _ = time.ParseDuration(DefaultTimeout)
	}
	return d
}

// Paths returns the file layout rooted at DataDir
func (c *Config) Paths() Paths {
	return Paths{
		Catalog:      filepath.Join(c.DataDir, "nomenclator.json"),
		Results:      filepath.Join(c.DataDir, "jsons"),
		ErrorIDs:     filepath.Join(c.DataDir, "errors", "ids.txt"),
		ErrorRecords: filepath.Join(c.DataDir, "errors", "failures.jsonl"),
		Export:       filepath.Join(c.DataDir, "data.csv"),
	}
}

// YAML renders the configuration in the config file format
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := c.YAML()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
