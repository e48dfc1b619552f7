package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/otherjamesbrown/meetwise/config"
	"github.com/otherjamesbrown/meetwise/pkg/buildinfo"
)

func TestVersionCommand(t *testing.T) {
	if versionCmd == nil {
		t.Fatal("versionCmd is nil")
	}
	if versionCmd.Use != "version" {
		t.Errorf("Unexpected Use: %s", versionCmd.Use)
	}
	if versionCmd.Short != "Print version information" {
		t.Errorf("Unexpected Short: %s", versionCmd.Short)
	}
}

func TestVersionFlags(t *testing.T) {
	if versionCmd.Flags().Lookup("remote") == nil {
		t.Error("--remote flag not found on version command")
	}
	if versionCmd.Flags().Lookup("output-json") == nil {
		t.Error("--output-json flag not found on version command")
	}
}

func TestVersionLocal(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(buf.String(), "meetwise version "+buildinfo.Version) {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestVersionRemoteJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/version" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(buildinfo.Info{ServiceName: "meetwise", Version: "v1.2.3", Commit: "abc1234"})
	}))
	defer srv.Close()

	t.Setenv("MEETWISE_CONFIG_DIR", t.TempDir())
	serverURL = srv.URL
	versionRemote, versionOutputJSON = true, true
	defer func() {
		serverURL = ""
		versionRemote, versionOutputJSON = false, false
	}()

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("version --remote failed: %v", err)
	}

	var infos []buildinfo.Info
	if err := json.Unmarshal(buf.Bytes(), &infos); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(infos) != 2 {
		t.Fatalf("expected CLI and server entries, got %d", len(infos))
	}
	if infos[1].Version != "v1.2.3" {
		t.Errorf("server version = %q, want v1.2.3", infos[1].Version)
	}
}

func TestRootCommandTree(t *testing.T) {
	want := []string{"serve", "migrate", "meeting", "ask", "auth", "config", "version"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("root command missing %q", name)
		}
	}
}

func TestLoadClientConfigOverrides(t *testing.T) {
	t.Setenv("MEETWISE_CONFIG_DIR", t.TempDir())
	serverURL = "https://meetwise.example.com"
	outputFormat = "json"
	defer func() {
		serverURL, outputFormat = "", ""
	}()

	cfg, err := loadClientConfig()
	if err != nil {
		t.Fatalf("loadClientConfig() error = %v", err)
	}
	if cfg.ServerURL != "https://meetwise.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.OutputFormat != config.OutputFormatJSON {
		t.Errorf("OutputFormat = %q", cfg.OutputFormat)
	}
}

func TestLoadClientConfigRejectsBadOutput(t *testing.T) {
	t.Setenv("MEETWISE_CONFIG_DIR", t.TempDir())
	outputFormat = "xml"
	defer func() { outputFormat = "" }()

	if _, err := loadClientConfig(); err == nil {
		t.Error("expected an error for an invalid output format")
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MEETWISE_CONFIG_DIR", dir)

	var buf bytes.Buffer
	configInitCmd.SetOut(&buf)
	defer configInitCmd.SetOut(nil)

	if err := configInitCmd.RunE(configInitCmd, nil); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, config.DefaultClientFile)); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	buf.Reset()
	if err := configInitCmd.RunE(configInitCmd, nil); err != nil {
		t.Fatalf("second config init failed: %v", err)
	}
	if !strings.Contains(buf.String(), "already exists") {
		t.Errorf("expected already exists message, got: %s", buf.String())
	}
}

func TestConfigValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meetwise.yaml")
	content := `
server:
  addr: ":9090"
  webhook_secret: super-secret
llm:
  api_key: sk-live-value
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	configValidateCmd.SetOut(&buf)
	defer configValidateCmd.SetOut(nil)
	if err := configValidateCmd.Flags().Set("config", path); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = configValidateCmd.Flags().Set("config", "") }()

	if err := configValidateCmd.RunE(configValidateCmd, nil); err != nil {
		t.Fatalf("config validate failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, ":9090") {
		t.Errorf("expected effective addr in output: %s", out)
	}
	if strings.Contains(out, "super-secret") || strings.Contains(out, "sk-live-value") {
		t.Errorf("secrets must be redacted: %s", out)
	}
}
