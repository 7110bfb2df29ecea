package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed default_config.toml
var embeddedConfigData []byte

// LocalFile is the override file looked up in the working directory.
const LocalFile = "confusage.toml"

// Config holds the application configuration.
type Config struct {
	Analysis  AnalysisConfig  `toml:"analysis"`
	Component ComponentConfig `toml:"component"`
	Scene     SceneConfig     `toml:"scene"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Log       LogConfig       `toml:"log"`
}

// AnalysisConfig controls the traversal.
type AnalysisConfig struct {
	ConfClass      string   `toml:"conf_class"`
	AccessorPrefix string   `toml:"accessor_prefix"`
	DepthThreshold int      `toml:"depth_threshold"`
	FollowCHA      bool     `toml:"follow_cha"`
	KnownAccessors []string `toml:"known_accessors"`
}

// ComponentConfig names the entry point.
type ComponentConfig struct {
	Class           string `toml:"class"`
	Constructor     string `toml:"constructor"`
	AllConstructors bool   `toml:"all_constructors"`
}

// SceneConfig holds program loading options.
type SceneConfig struct {
	Exclude []string `toml:"exclude"`
}

// ScannerConfig holds source parsing options. Zero workers means one per CPU.
type ScannerConfig struct {
	Workers int `toml:"workers"`
}

// LogConfig holds logging options.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the embedded configuration.
func Default() (*Config, error) {
	var config Config
	if err := toml.Unmarshal(embeddedConfigData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse embedded config: %w", err)
	}
	return &config, nil
}

// Load returns the embedded configuration with path applied on top. When
// path is empty, LocalFile in the working directory is used if it exists.
// Keys missing from the override keep their default values.
func Load(path string) (*Config, error) {
	config, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		if _, err := os.Stat(LocalFile); err != nil {
			return config, nil
		}
		path = LocalFile
	}
	if err := config.merge(path); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) merge(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	return nil
}

// Validate checks the values a run needs.
func (c *Config) Validate() error {
	if c.Analysis.ConfClass == "" {
		return fmt.Errorf("analysis.conf_class must be set")
	}
	if c.Analysis.DepthThreshold < 1 {
		return fmt.Errorf("analysis.depth_threshold must be at least 1, got %d", c.Analysis.DepthThreshold)
	}
	if c.Component.Class == "" {
		return fmt.Errorf("component.class must be set")
	}
	if c.Component.Constructor == "" && !c.Component.AllConstructors {
		return fmt.Errorf("component.constructor must be set unless all_constructors is true")
	}
	if c.Scanner.Workers < 0 {
		return fmt.Errorf("scanner.workers must not be negative")
	}
	return nil
}
