package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so runtime.yaml can spell tick periods as
// "10ms" rather than raw nanoseconds.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Runtime is the YAML-backed scan-timing and logging configuration loaded
// from runtime.yaml at startup. Fields not present in the file keep the
// defaults DefaultRuntime returns.
type Runtime struct {
	TickPeriod  Duration `yaml:"tick_period"`
	LogLevel    string   `yaml:"log_level"`
	LogFile     string   `yaml:"log_file"`
	PluginsFile string   `yaml:"plugins_file"`
}

// DefaultRuntime returns the configuration used when no runtime.yaml is
// present.
func DefaultRuntime() Runtime {
	return Runtime{
		TickPeriod: Duration(10 * time.Millisecond),
		LogLevel:   "info",
	}
}

// LoadRuntime reads and parses path, starting from DefaultRuntime and
// overlaying whatever fields the file sets. A missing file is not an
// error: the defaults apply.
func LoadRuntime(path string) (Runtime, error) {
	cfg := DefaultRuntime()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read runtime config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse runtime config %s: %w", path, err)
	}
	if cfg.TickPeriod <= 0 {
		return cfg, fmt.Errorf("runtime config %s: tick_period must be positive", path)
	}
	return cfg, nil
}
