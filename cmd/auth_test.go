package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetwise/credentials"
)

// testEncryptionKey is a valid 32-byte (64 hex chars) encryption key for testing.
const testEncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

const testToken = "mw_test-operator-token-0123456789"

// setupAuthTest isolates the credential store and resets command flags.
func setupAuthTest(t *testing.T) {
	t.Helper()
	t.Setenv("MEETWISE_CONFIG_DIR", t.TempDir())
	t.Setenv(credentials.EnvEncryptionKey, testEncryptionKey)
	t.Setenv(credentials.EnvToken, "")

	authToken, authServer = "", ""
	authNonInteractive, authGenerate = false, false
	t.Cleanup(func() {
		authToken, authServer = "", ""
		authNonInteractive, authGenerate = false, false
	})
}

func runAuthCommand(t *testing.T, c *cobra.Command, stdin string, fn func(*cobra.Command, []string) error) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetIn(strings.NewReader(stdin))
	err := fn(c, nil)
	return out.String(), err
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr string
	}{
		{name: "valid", token: testToken},
		{name: "empty", token: "", wantErr: "token is empty"},
		{name: "short", token: "mw_short", wantErr: "token is too short"},
		{name: "whitespace", token: "mw_abcdefgh ijklmnop", wantErr: "token contains whitespace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateToken(tt.token)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validateToken() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validateToken() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoginWithFlag(t *testing.T) {
	setupAuthTest(t)
	authToken = testToken
	authServer = "https://meetwise.example.com"

	out, err := runAuthCommand(t, loginCmd, "", runLogin)
	if err != nil {
		t.Fatalf("runLogin() error = %v", err)
	}
	if !strings.Contains(out, "Login successful!") {
		t.Errorf("output missing success message: %s", out)
	}
	if strings.Contains(out, testToken) {
		t.Error("output should not contain the raw token")
	}

	store, err := credentials.NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	creds, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if creds.Token != testToken {
		t.Errorf("stored token = %q, want %q", creds.Token, testToken)
	}
	if creds.ServerURL != "https://meetwise.example.com" {
		t.Errorf("stored server = %q", creds.ServerURL)
	}
}

func TestLoginFromEnv(t *testing.T) {
	setupAuthTest(t)
	t.Setenv(credentials.EnvToken, testToken)

	out, err := runAuthCommand(t, loginCmd, "", runLogin)
	if err != nil {
		t.Fatalf("runLogin() error = %v", err)
	}
	if !strings.Contains(out, "Using token from MEETWISE_TOKEN") {
		t.Errorf("output should mention the env var: %s", out)
	}
}

func TestLoginFromStdin(t *testing.T) {
	setupAuthTest(t)

	_, err := runAuthCommand(t, loginCmd, testToken+"\n", runLogin)
	if err != nil {
		t.Fatalf("runLogin() error = %v", err)
	}

	store, _ := credentials.NewStore()
	token, err := store.ActiveToken()
	if err != nil {
		t.Fatalf("ActiveToken() error = %v", err)
	}
	if token != testToken {
		t.Errorf("ActiveToken() = %q, want %q", token, testToken)
	}
}

func TestLoginNonInteractiveWithoutToken(t *testing.T) {
	setupAuthTest(t)
	authNonInteractive = true

	_, err := runAuthCommand(t, loginCmd, "", runLogin)
	if err == nil || !strings.Contains(err.Error(), "--non-interactive") {
		t.Errorf("runLogin() error = %v, want non-interactive error", err)
	}
}

func TestLoginRejectsInvalidToken(t *testing.T) {
	setupAuthTest(t)
	authToken = "short"

	_, err := runAuthCommand(t, loginCmd, "", runLogin)
	if err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Errorf("runLogin() error = %v, want invalid token", err)
	}
}

func TestLogout(t *testing.T) {
	setupAuthTest(t)

	out, err := runAuthCommand(t, logoutCmd, "", runLogout)
	if err != nil {
		t.Fatalf("runLogout() error = %v", err)
	}
	if !strings.Contains(out, "No stored credentials found.") {
		t.Errorf("unexpected output: %s", out)
	}

	authToken = testToken
	if _, err := runAuthCommand(t, loginCmd, "", runLogin); err != nil {
		t.Fatalf("runLogin() error = %v", err)
	}

	out, err = runAuthCommand(t, logoutCmd, "", runLogout)
	if err != nil {
		t.Fatalf("runLogout() error = %v", err)
	}
	if !strings.Contains(out, "Logged out successfully.") {
		t.Errorf("unexpected output: %s", out)
	}

	store, _ := credentials.NewStore()
	if store.Exists() {
		t.Error("credentials should be removed after logout")
	}
}

func TestStatus(t *testing.T) {
	setupAuthTest(t)

	out, err := runAuthCommand(t, statusCmd, "", runStatus)
	if err != nil {
		t.Fatalf("runStatus() error = %v", err)
	}
	if !strings.Contains(out, "Not authenticated") {
		t.Errorf("expected not authenticated, got: %s", out)
	}

	authToken = testToken
	authServer = "https://meetwise.example.com"
	if _, err := runAuthCommand(t, loginCmd, "", runLogin); err != nil {
		t.Fatalf("runLogin() error = %v", err)
	}

	out, err = runAuthCommand(t, statusCmd, "", runStatus)
	if err != nil {
		t.Fatalf("runStatus() error = %v", err)
	}
	if !strings.Contains(out, credentials.MaskToken(testToken)) {
		t.Errorf("status should show masked token: %s", out)
	}
	if !strings.Contains(out, "https://meetwise.example.com") {
		t.Errorf("status should show server: %s", out)
	}
}

func TestHashTokenFromFlag(t *testing.T) {
	setupAuthTest(t)
	authToken = testToken

	out, err := runAuthCommand(t, hashTokenCmd, "", runHashToken)
	if err != nil {
		t.Fatalf("runHashToken() error = %v", err)
	}

	hash := strings.TrimSpace(out)
	ok, err := credentials.VerifyToken(testToken, hash)
	if err != nil {
		t.Fatalf("VerifyToken() error = %v", err)
	}
	if !ok {
		t.Error("printed hash should verify against the token")
	}
}

func TestHashTokenGenerate(t *testing.T) {
	setupAuthTest(t)
	authGenerate = true

	out, err := runAuthCommand(t, hashTokenCmd, "", runHashToken)
	if err != nil {
		t.Fatalf("runHashToken() error = %v", err)
	}

	var token, hash string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "Token: "):
			token = strings.TrimPrefix(line, "Token: ")
		case strings.HasPrefix(line, "Hash:  "):
			hash = strings.TrimPrefix(line, "Hash:  ")
		}
	}
	if !strings.HasPrefix(token, "mw_") {
		t.Fatalf("generated token = %q", token)
	}
	if ok, _ := credentials.VerifyToken(token, hash); !ok {
		t.Error("generated hash should verify against the generated token")
	}
}

func TestHashTokenFromStdin(t *testing.T) {
	setupAuthTest(t)
	authNonInteractive = true

	out, err := runAuthCommand(t, hashTokenCmd, testToken, runHashToken)
	if err != nil {
		t.Fatalf("runHashToken() error = %v", err)
	}
	if ok, _ := credentials.VerifyToken(testToken, strings.TrimSpace(out)); !ok {
		t.Error("hash of stdin token should verify")
	}
}
