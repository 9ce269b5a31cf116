// Package config provides configuration management for the worklog companion.
// It handles loading and parsing the YAML configuration file and provides
// structured access to application settings including the YouTrack base URL,
// OAuth client identity, environment host patterns, and duration units.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// BaseURL is the YouTrack instance used for manual token and OAuth logins.
	BaseURL string `yaml:"base-url" json:"base-url"`

	// ClientID is the OAuth2 client identifier registered with the YouTrack hub.
	ClientID string `yaml:"client-id" json:"client-id"`

	// SettingsFile is the path of the JSON file backing the settings store.
	// Defaults to <home>/.ytworklog/settings.json.
	SettingsFile string `yaml:"settings-file" json:"settings-file"`

	// DevToolsURL is the Chrome DevTools endpoint used for token detection.
	DevToolsURL string `yaml:"devtools-url" json:"devtools-url"`

	// CallbackPort is the local port used to capture the OAuth redirect.
	CallbackPort int `yaml:"callback-port" json:"callback-port"`

	// LoggingToFile redirects logs into a rotating file under LogsDir.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsDir is the directory for rotated log files when LoggingToFile is set.
	LogsDir string `yaml:"logs-dir" json:"logs-dir"`

	// WorkdayHours is the number of working hours represented by a "1d" duration.
	WorkdayHours int `yaml:"workday-hours" json:"workday-hours"`

	// WorkweekDays is the number of working days represented by a "1w" duration.
	WorkweekDays int `yaml:"workweek-days" json:"workweek-days"`

	// Environments maps an environment name to the host patterns that identify
	// its browser tabs during token detection.
	Environments map[string]Environment `yaml:"environments" json:"environments"`
}

// Environment describes how to recognize one YouTrack deployment by hostname.
type Environment struct {
	// HostContains is the substring a tab URL must contain to belong to this environment.
	HostContains string `yaml:"host-contains" json:"host-contains"`

	// HostExcludes lists substrings that disqualify a tab URL even when
	// HostContains matches (e.g. production excludes the staging prefix).
	HostExcludes []string `yaml:"host-excludes,omitempty" json:"host-excludes,omitempty"`
}

// Matches reports whether the given tab URL belongs to this environment.
// It is a pure string predicate; no network calls are made.
func (e Environment) Matches(tabURL string) bool {
	if e.HostContains == "" || !strings.Contains(tabURL, e.HostContains) {
		return false
	}
	for _, excl := range e.HostExcludes {
		if excl != "" && strings.Contains(tabURL, excl) {
			return false
		}
	}
	return true
}

const (
	defaultDevToolsURL  = "http://127.0.0.1:9222"
	defaultCallbackPort = 8085
)

// DefaultEnvironments returns the built-in production and staging host patterns.
func DefaultEnvironments() map[string]Environment {
	return map[string]Environment{
		"production": {
			HostContains: "youtrack.internetbrands.com",
			HostExcludes: []string{"stg-youtrack"},
		},
		"staging": {
			HostContains: "stg-youtrack.internetbrands.com",
		},
	}
}

// LoadConfig reads the YAML configuration file at configFile and applies defaults.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional behaves like LoadConfig but tolerates a missing file when
// optional is true, returning a default configuration instead.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && os.IsNotExist(err) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s failed: %w", configFile, err)
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s failed: %w", configFile, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills in zero-valued fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.SettingsFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.SettingsFile = filepath.Join(home, ".ytworklog", "settings.json")
	}
	if c.DevToolsURL == "" {
		c.DevToolsURL = defaultDevToolsURL
	}
	if c.CallbackPort <= 0 {
		c.CallbackPort = defaultCallbackPort
	}
	if c.LogsDir == "" {
		c.LogsDir = "logs"
	}
	if c.WorkdayHours <= 0 {
		c.WorkdayHours = 8
	}
	if c.WorkweekDays <= 0 {
		c.WorkweekDays = 5
	}
	if len(c.Environments) == 0 {
		c.Environments = DefaultEnvironments()
	}
}

// EnvironmentFor returns the named environment, falling back to the built-in
// patterns when the configuration does not define it.
func (c *Config) EnvironmentFor(name string) (Environment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "production"
	}
	if env, ok := c.Environments[name]; ok {
		return env, nil
	}
	if env, ok := DefaultEnvironments()[name]; ok {
		return env, nil
	}
	return Environment{}, fmt.Errorf("config: unknown environment %q", name)
}
