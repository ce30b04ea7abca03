package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// tierFile is the YAML layout of TIERS_FILE. Every section is optional.
//
//	models:
//	  priority: [gemini-3-flash-preview, gemini-2.0-flash]
//	  fallback: gemini-2.0-flash
//	progressive: {fast: summary, deep: full}
//	pulse_tier: pulse
//	tiers:
//	  - {name: summary, detail: summary, ttl: 1h}
//	  - {name: full, detail: full, ttl: 24h, stream: true, timeout: 3m}
type tierFile struct {
	Models        *ModelsConfig `yaml:"models"`
	ElectionDate  string        `yaml:"election_date"`
	PulseKeywords []string      `yaml:"pulse_keywords"`
	Progressive   *struct {
		Fast string `yaml:"fast"`
		Deep string `yaml:"deep"`
	} `yaml:"progressive"`
	PulseTier *string    `yaml:"pulse_tier"`
	Tiers     []TierSpec `yaml:"tiers"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tiers file: %w", err)
	}
	return c.applyYAML(data)
}

func (c *Config) applyYAML(data []byte) error {
	var f tierFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse tiers file: %w", err)
	}

	if f.Models != nil {
		if len(f.Models.Priority) > 0 {
			c.Models.Priority = f.Models.Priority
		}
		if f.Models.Fallback != "" {
			c.Models.Fallback = f.Models.Fallback
		}
	}
	if f.ElectionDate != "" {
		c.ElectionDate = f.ElectionDate
	}
	if len(f.PulseKeywords) > 0 {
		c.PulseKeywords = f.PulseKeywords
	}
	if f.Progressive != nil {
		if f.Progressive.Fast != "" {
			c.Freshness.FastTier = f.Progressive.Fast
		}
		if f.Progressive.Deep != "" {
			c.Freshness.DeepTier = f.Progressive.Deep
		}
	}
	if f.PulseTier != nil {
		c.Freshness.PulseTier = *f.PulseTier
	}
	if len(f.Tiers) > 0 {
		c.Tiers = f.Tiers
	}
	return nil
}
