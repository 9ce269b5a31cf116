package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvironmentMatches(t *testing.T) {
	t.Parallel()

	production := DefaultEnvironments()["production"]
	staging := DefaultEnvironments()["staging"]

	cases := []struct {
		name string
		env  Environment
		url  string
		want bool
	}{
		{"production matches", production, "https://youtrack.internetbrands.com/issues", true},
		{"production excludes staging", production, "https://stg-youtrack.internetbrands.com/issues", false},
		{"staging matches", staging, "https://stg-youtrack.internetbrands.com/agiles", true},
		{"staging rejects production", staging, "https://youtrack.internetbrands.com/", false},
		{"unrelated host", production, "https://example.com/", false},
		{"empty pattern never matches", Environment{}, "https://youtrack.internetbrands.com/", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.env.Matches(tc.url); got != tc.want {
				t.Fatalf("Matches(%q) = %v, want %v", tc.url, got, tc.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
base-url: "https://youtrack.example.com"
client-id: "my-client"
callback-port: 9090
workday-hours: 6
environments:
  production:
    host-contains: "yt.example.com"
    host-excludes:
      - "stg-yt"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BaseURL != "https://youtrack.example.com" {
		t.Fatalf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.CallbackPort != 9090 {
		t.Fatalf("CallbackPort = %d", cfg.CallbackPort)
	}
	if cfg.WorkdayHours != 6 {
		t.Fatalf("WorkdayHours = %d", cfg.WorkdayHours)
	}
	// Unset fields still get defaults.
	if cfg.WorkweekDays != 5 {
		t.Fatalf("WorkweekDays = %d, want default 5", cfg.WorkweekDays)
	}
	if cfg.DevToolsURL == "" {
		t.Fatal("DevToolsURL default missing")
	}

	env, err := cfg.EnvironmentFor("production")
	if err != nil {
		t.Fatalf("EnvironmentFor: %v", err)
	}
	if !env.Matches("https://yt.example.com/") || env.Matches("https://stg-yt.example.com/") {
		t.Fatal("configured environment patterns not applied")
	}
}

func TestLoadConfigOptionalMissing(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "absent.yaml"), true)
	if err != nil {
		t.Fatalf("LoadConfigOptional: %v", err)
	}
	if cfg.CallbackPort != 8085 {
		t.Fatalf("CallbackPort default = %d, want 8085", cfg.CallbackPort)
	}
	if len(cfg.Environments) == 0 {
		t.Fatal("default environments missing")
	}
}

func TestEnvironmentForUnknown(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.ApplyDefaults()
	if _, err := cfg.EnvironmentFor("qa"); err == nil {
		t.Fatal("expected error for unknown environment")
	}
	// Empty name falls back to production.
	env, err := cfg.EnvironmentFor("")
	if err != nil {
		t.Fatalf("EnvironmentFor(\"\"): %v", err)
	}
	if env.HostContains == "" {
		t.Fatal("fallback environment is empty")
	}
}
