// Package config loads the vivid CLI configuration from a YAML file and
// validates it before the server starts.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the file serve mode looks for in the working
// directory when no --config flag is given.
const ConfigFileName = "vivid.yaml"

// Config drives serve mode.
type Config struct {
	// Listen is the host:port the server binds.
	Listen string `yaml:"listen" validate:"required,hostname_port"`

	// Root is the directory of HTML pages to serve.
	Root string `yaml:"root" validate:"required,dir"`

	// BaseDir resolves include references; defaults to Root.
	BaseDir string `yaml:"base_dir,omitempty" validate:"omitempty,dir"`

	// Reload is how often page files are polled for changes, as a
	// duration string. Empty disables live reload.
	Reload string `yaml:"reload,omitempty"`

	// Minify strips insignificant whitespace from served documents.
	Minify bool `yaml:"minify,omitempty"`

	// Metrics exposes engine counters at /metrics.
	Metrics bool `yaml:"metrics"`

	reload time.Duration
}

// Default returns the configuration serve mode uses when no file exists.
func Default() *Config {
	return &Config{
		Listen:  "localhost:8090",
		Root:    ".",
		Reload:  "1s",
		Metrics: true,
		reload:  time.Second,
	}
}

// ReloadInterval returns the parsed polling interval, zero when live
// reload is disabled.
func (c *Config) ReloadInterval() time.Duration {
	return c.reload
}

var validate = validator.New()

// Load reads the configuration from path. An empty path falls back to
// ConfigFileName in the working directory, and a missing file there is
// not an error, the defaults apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = ConfigFileName
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !explicit {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = cfg.Root
	}

	cfg.reload = 0
	if cfg.Reload != "" {
		d, err := time.ParseDuration(cfg.Reload)
		if err != nil {
			return nil, fmt.Errorf("parse config: reload: %w", err)
		}
		if d < 100*time.Millisecond {
			return nil, fmt.Errorf("parse config: reload %s is below 100ms", d)
		}
		cfg.reload = d
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %s", describeValidation(err))
	}
	return cfg, nil
}

// describeValidation flattens validator errors into one readable line.
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	var msgs []string
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "dir":
			msgs = append(msgs, fmt.Sprintf("%s is not a directory", field))
		case "hostname_port":
			msgs = append(msgs, fmt.Sprintf("%s must be host:port", field))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return strings.Join(msgs, "; ")
}
