package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultClientConfig verifies default client configuration values.
func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()

	if cfg.ServerURL != DefaultServerURL {
		t.Errorf("ServerURL = %v, want %v", cfg.ServerURL, DefaultServerURL)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, DefaultTimeout)
	}
	if cfg.OutputFormat != DefaultOutputFormat {
		t.Errorf("OutputFormat = %v, want %v", cfg.OutputFormat, DefaultOutputFormat)
	}
	if cfg.Debug {
		t.Error("Debug should be false by default")
	}
}

// TestOutputFormat_IsValid verifies output format validation.
func TestOutputFormat_IsValid(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{OutputFormatText, true},
		{OutputFormatJSON, true},
		{OutputFormatYAML, true},
		{"invalid", false},
		{"", false},
		{"JSON", false}, // Case sensitive
	}

	for _, tc := range tests {
		if got := tc.format.IsValid(); got != tc.valid {
			t.Errorf("OutputFormat(%q).IsValid() = %v, want %v", tc.format, got, tc.valid)
		}
	}
}

func TestConfigDir(t *testing.T) {
	custom := t.TempDir()
	t.Setenv("MEETWISE_CONFIG_DIR", custom)

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() error = %v", err)
	}
	if dir != custom {
		t.Errorf("ConfigDir() = %q, want %q", dir, custom)
	}

	path, err := ClientConfigPath()
	if err != nil {
		t.Fatalf("ClientConfigPath() error = %v", err)
	}
	if path != filepath.Join(custom, DefaultClientFile) {
		t.Errorf("ClientConfigPath() = %q", path)
	}
}

func TestLoadClientConfig_Defaults(t *testing.T) {
	t.Setenv("MEETWISE_CONFIG_DIR", t.TempDir())

	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if cfg.ServerURL != DefaultServerURL {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
}

func TestLoadClientConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MEETWISE_CONFIG_DIR", dir)

	content := "server_url: https://meetwise.internal\ntimeout: 30s\noutput_format: yaml\n"
	if err := os.WriteFile(filepath.Join(dir, DefaultClientFile), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if cfg.ServerURL != "https://meetwise.internal" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if cfg.OutputFormat != OutputFormatYAML {
		t.Errorf("OutputFormat = %v", cfg.OutputFormat)
	}

	t.Setenv("MEETWISE_SERVER_URL", "http://override:8080")
	t.Setenv("MEETWISE_OUTPUT_FORMAT", "json")
	t.Setenv("MEETWISE_TIMEOUT", "not-a-duration")

	cfg, err = LoadClientConfig()
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if cfg.ServerURL != "http://override:8080" {
		t.Errorf("ServerURL = %q, want env override", cfg.ServerURL)
	}
	if cfg.OutputFormat != OutputFormatJSON {
		t.Errorf("OutputFormat = %v, want json", cfg.OutputFormat)
	}
	// Invalid env durations are ignored.
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want file value", cfg.Timeout)
	}
}

func TestLoadClientConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MEETWISE_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, DefaultClientFile), []byte("output_format: xml\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadClientConfig(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSaveClientConfig_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	t.Setenv("MEETWISE_CONFIG_DIR", dir)

	want := &ClientConfig{
		ServerURL:    "https://meetwise.example.com",
		Timeout:      90 * time.Second,
		OutputFormat: OutputFormatJSON,
	}
	if err := SaveClientConfig(want); err != nil {
		t.Fatalf("SaveClientConfig() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, DefaultClientFile))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	got, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("LoadClientConfig() error = %v", err)
	}
	if *got != *want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}
