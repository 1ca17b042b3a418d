// Package config provides YAML-based configuration loading for Zapdesk.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Zapdesk configuration, loaded from config.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	DB         DBConfig         `yaml:"db"`
	Redis      RedisConfig      `yaml:"redis"`
	AMQP       AMQPConfig       `yaml:"amqp"`
	Slack      SlackConfig      `yaml:"slack"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Teams      []TeamConfig     `yaml:"teams"`
}

// ServerConfig holds settings for the webhook HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DBConfig holds connection settings for the MySQL server.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RedisConfig holds connection settings for the presence store. An empty
// Addr disables Redis presence.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AMQPConfig holds settings for the routing-event exchange. An empty URL
// disables event publishing.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// SlackConfig holds settings for operational alerts. An empty token
// disables alerting.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// ClassifierConfig tunes the keyword classifier. FallbackCategory is the
// category reported (at confidence 0) when no keyword matches at all — an
// explicit policy knob rather than a hard-coded bias toward sales.
type ClassifierConfig struct {
	MinConfidence    int    `yaml:"min_confidence"`
	FallbackCategory string `yaml:"fallback_category"`
}

// DedupConfig tunes the deduplication guard.
type DedupConfig struct {
	LookupTimeoutMS int `yaml:"lookup_timeout_ms"`
	RecordTTLHours  int `yaml:"record_ttl_hours"`
}

// TeamConfig defines one routing team (macrosetor) with its keyword table
// and funnel stages.
type TeamConfig struct {
	Category    string        `yaml:"category"`
	Name        string        `yaml:"name"`
	Color       string        `yaml:"color"`
	MaxPerAgent int           `yaml:"max_per_agent"`
	Priority    int           `yaml:"priority"`
	AutoAssign  *bool         `yaml:"auto_assign"`
	Keywords    []string      `yaml:"keywords"`
	Stages      []StageConfig `yaml:"stages"`
}

// StageConfig defines one funnel stage. Stages are ordered as declared; the
// first stage is the only valid creation stage for new deals.
type StageConfig struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// UnmarshalYAML lets stages be declared either as plain strings or as
// {name, color} maps.
func (s *StageConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Name = value.Value
		return nil
	}
	type raw StageConfig
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*s = StageConfig(r)
	return nil
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.DB.Database == "" {
		c.DB.Database = "zapdesk"
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "zapdesk.routing"
	}
	if c.Classifier.MinConfidence == 0 {
		c.Classifier.MinConfidence = 30
	}
	if c.Classifier.FallbackCategory == "" {
		c.Classifier.FallbackCategory = "comercial"
	}
	if c.Dedup.LookupTimeoutMS == 0 {
		c.Dedup.LookupTimeoutMS = 2000
	}
	if c.Dedup.RecordTTLHours == 0 {
		c.Dedup.RecordTTLHours = 24 * 30
	}
	for i := range c.Teams {
		if c.Teams[i].MaxPerAgent == 0 {
			c.Teams[i].MaxPerAgent = 5
		}
		if c.Teams[i].Priority == 0 {
			c.Teams[i].Priority = i + 1
		}
		if c.Teams[i].AutoAssign == nil {
			t := true
			c.Teams[i].AutoAssign = &t
		}
	}
}

// validate checks that all required fields are present and consistent.
// Duplicate category keys and teams without funnel stages are fatal at
// load: two teams sharing a category key would also share a funnel.
func (c *Config) validate() error {
	var errs []string
	if len(c.Teams) == 0 {
		errs = append(errs, "at least one team is required")
	}
	seen := make(map[string]int, len(c.Teams))
	for i, t := range c.Teams {
		if t.Category == "" {
			errs = append(errs, fmt.Sprintf("teams[%d].category is required", i))
			continue
		}
		if prev, dup := seen[t.Category]; dup {
			errs = append(errs, fmt.Sprintf("teams[%d].category %q duplicates teams[%d]", i, t.Category, prev))
		} else {
			seen[t.Category] = i
		}
		if t.Name == "" {
			errs = append(errs, fmt.Sprintf("teams[%d].name is required", i))
		}
		if len(t.Stages) == 0 {
			errs = append(errs, fmt.Sprintf("teams[%d] (%s): at least one funnel stage is required", i, t.Category))
		}
		if t.MaxPerAgent < 0 {
			errs = append(errs, fmt.Sprintf("teams[%d].max_per_agent must not be negative", i))
		}
	}
	if len(c.Teams) > 0 && c.Classifier.FallbackCategory != "" {
		if _, ok := seen[c.Classifier.FallbackCategory]; !ok {
			errs = append(errs, fmt.Sprintf("classifier.fallback_category %q does not match any team", c.Classifier.FallbackCategory))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Team returns the TeamConfig for a category key, or nil if unknown.
func (c *Config) Team(category string) *TeamConfig {
	for i := range c.Teams {
		if c.Teams[i].Category == category {
			return &c.Teams[i]
		}
	}
	return nil
}
