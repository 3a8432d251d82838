package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/cardgrid/cardgrid/core/metrics"
	"github.com/cardgrid/cardgrid/infra/source"
)

type Config struct {
	Dashboard     string               `json:"dashboard"`
	ActiveReport  string               `json:"activeReport"`
	ViewportWidth int                  `json:"viewportWidth"`
	Theme         string               `json:"theme"`
	Animations    *bool                `json:"animations"`
	Metrics       metrics.Config       `json:"metrics"`
	Streams       source.StreamsConfig `json:"streams"`
}

func (c *Config) SetDefaults() {
	if c.ViewportWidth == 0 {
		c.ViewportWidth = 1280
	}
	c.Metrics.SetDefaults()
	c.Streams.MQTT.SetDefaults()
}

func (c *Config) Validate() error {
	if c.Dashboard == "" {
		return fmt.Errorf("dashboard spec path is required")
	}
	if c.ViewportWidth < 0 {
		return fmt.Errorf("viewportWidth must be positive")
	}
	// Broker settings are checked lazily when an mqtt card opens its stream;
	// a dashboard without mqtt cards needs none.
	return nil
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("CG_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "cg_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
