// Package config provides configuration for the guide monitor.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the application configuration.
type Config struct {
	// Required
	PlaylistSource string

	// Guide
	GuideURL     string
	GuideEnabled bool

	// Behaviour
	RefreshInterval time.Duration
	ReportChannels  int
	LogLevel        string
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GuideEnabled:    true,
		RefreshInterval: 5 * time.Minute,
		ReportChannels:  10,
		LogLevel:        "info",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.PlaylistSource == "" {
		return errors.New("--playlist is required")
	}

	if c.GuideURL != "" {
		if _, err := url.Parse(c.GuideURL); err != nil {
			return fmt.Errorf("invalid guide URL: %w", err)
		}
	}

	if c.RefreshInterval < time.Minute {
		return fmt.Errorf("refresh interval must be at least 1m, got %s", c.RefreshInterval)
	}

	if c.ReportChannels < 1 {
		return errors.New("report channel count must be at least 1")
	}

	return nil
}
