package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models leanflow.yml.
type Config struct {
	Log struct {
		Branch string `yaml:"branch"`
		Author string `yaml:"author"`
	} `yaml:"log"`
	Workflow struct {
		StateTimeoutHours float64  `yaml:"state_timeout_hours"`
		BlockedEntryBoost float64  `yaml:"blocked_reentry_boost"`
		ComplexityTags    []string `yaml:"complexity_tags"`
	} `yaml:"workflow"`
	Scoring struct {
		Weights      map[string]float64 `yaml:"weights"`
		LearningRate float64            `yaml:"learning_rate"`
		MinWeight    float64            `yaml:"min_weight"`
		MaxWeight    float64            `yaml:"max_weight"`
		AdaptAfter   int                `yaml:"adapt_after"`
		MinSamples   int                `yaml:"min_samples"`
	} `yaml:"scoring"`
	Metrics struct {
		TrendWindow    int `yaml:"trend_window"`
		ThroughputDays int `yaml:"throughput_days"`
	} `yaml:"metrics"`
}

// Factor names accepted in scoring.weights.
var knownFactors = map[string]bool{
	"age":        true,
	"blockers":   true,
	"complexity": true,
	"deadline":   true,
	"expertise":  true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with lf config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Log.Branch == "" {
		return fmt.Errorf("config.log.branch is required")
	}
	if c.Workflow.StateTimeoutHours <= 0 {
		return fmt.Errorf("config.workflow.state_timeout_hours must be positive")
	}
	if c.Workflow.BlockedEntryBoost < 0 {
		return fmt.Errorf("config.workflow.blocked_reentry_boost must not be negative")
	}
	for name, w := range c.Scoring.Weights {
		if !knownFactors[name] {
			return fmt.Errorf("config.scoring.weights has unknown factor %s", name)
		}
		if w < 0 {
			return fmt.Errorf("config.scoring.weights.%s must not be negative", name)
		}
	}
	if c.Scoring.LearningRate <= 0 || c.Scoring.LearningRate > 1 {
		return fmt.Errorf("config.scoring.learning_rate must be in (0,1]")
	}
	if c.Scoring.MinWeight <= 0 {
		return fmt.Errorf("config.scoring.min_weight must be positive")
	}
	if c.Scoring.MaxWeight < c.Scoring.MinWeight {
		return fmt.Errorf("config.scoring.max_weight must be >= min_weight")
	}
	if c.Scoring.AdaptAfter <= 0 {
		return fmt.Errorf("config.scoring.adapt_after must be positive")
	}
	if c.Scoring.MinSamples <= 0 {
		return fmt.Errorf("config.scoring.min_samples must be positive")
	}
	if c.Metrics.TrendWindow <= 0 {
		return fmt.Errorf("config.metrics.trend_window must be positive")
	}
	if c.Metrics.ThroughputDays <= 0 {
		return fmt.Errorf("config.metrics.throughput_days must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "leanflow.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// sections fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `log:
  branch: main
  author: leanflow

workflow:
  state_timeout_hours: 24
  blocked_reentry_boost: 0.2
  complexity_tags: [complex, architecture, migration, security, integration]

scoring:
  weights:
    age: 0.20
    blockers: 0.25
    complexity: 0.15
    deadline: 0.30
    expertise: 0.10
  learning_rate: 0.1
  min_weight: 0.1
  max_weight: 1.0
  adapt_after: 10
  min_samples: 5

metrics:
  trend_window: 50
  throughput_days: 7
`
