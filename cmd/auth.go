// Package cmd provides CLI commands for the meetwise tool.
package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/meetwise/credentials"
)

// minTokenLength rejects obviously truncated pastes.
const minTokenLength = 16

// Auth command flags.
var (
	authToken          string
	authServer         string
	authNonInteractive bool
	authGenerate       bool
)

// AuthCmd represents the auth command group.
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage operator authentication",
	Long: `Manage the operator token used to call the meetwise operator API.

Credentials are stored in ~/.meetwise/credentials.yaml, encrypted with a key
held in the system keyring (or MEETWISE_ENCRYPTION_KEY on headless hosts).

The MEETWISE_TOKEN environment variable takes precedence over stored credentials.`,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an operator token",
	Long: `Store an operator token for use by meetwise commands.

Examples:
  # Interactive login (prompts for the token)
  meetwise auth login

  # Login with a token flag
  meetwise auth login --token mw_abc123...

  # Login with the token from the environment
  MEETWISE_TOKEN=mw_abc123... meetwise auth login --server https://meetwise.internal`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	Long: `Remove the stored operator token.

MEETWISE_TOKEN is not affected.

Examples:
  meetwise auth logout`,
	RunE: runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current authentication status",
	RunE:  runStatus,
}

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token",
	Short: "Hash an operator token for the server configuration",
	Long: `Produce the argon2id hash the server checks operator tokens against.

Put the printed hash in server.operator_token_hash (or
MEETWISE_OPERATOR_TOKEN_HASH) and hand the token to operators.

Examples:
  # Generate a new random token and its hash
  meetwise auth hash-token --generate

  # Hash an existing token read from stdin
  echo -n "$TOKEN" | meetwise auth hash-token --non-interactive`,
	RunE: runHashToken,
}

func init() {
	loginCmd.Flags().StringVar(&authToken, "token", "", "Operator token")
	loginCmd.Flags().StringVar(&authServer, "server", "", "Server URL to associate with the token")
	loginCmd.Flags().BoolVar(&authNonInteractive, "non-interactive", false, "Fail instead of prompting for input")

	hashTokenCmd.Flags().StringVar(&authToken, "token", "", "Token to hash")
	hashTokenCmd.Flags().BoolVar(&authGenerate, "generate", false, "Generate a new random token")
	hashTokenCmd.Flags().BoolVar(&authNonInteractive, "non-interactive", false, "Read the token from stdin without prompting")

	AuthCmd.AddCommand(loginCmd)
	AuthCmd.AddCommand(logoutCmd)
	AuthCmd.AddCommand(statusCmd)
	AuthCmd.AddCommand(hashTokenCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	token := authToken
	if token == "" {
		if token = os.Getenv(credentials.EnvToken); token != "" {
			fmt.Fprintf(out, "Using token from %s environment variable\n", credentials.EnvToken)
		}
	}
	if token == "" {
		if authNonInteractive {
			return fmt.Errorf("no token provided and --non-interactive flag set")
		}
		if token, err = promptForToken(cmd, "Operator token: "); err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
	}

	if err := validateToken(token); err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	creds := &credentials.Credentials{Token: token, ServerURL: authServer}
	if err := store.Save(creds); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	fmt.Fprintln(out, "Login successful!")
	fmt.Fprintf(out, "  Token: %s\n", credentials.MaskToken(token))
	if authServer != "" {
		fmt.Fprintf(out, "  Server: %s\n", authServer)
	}
	credPath, _ := credentials.CredentialsPath()
	fmt.Fprintf(out, "\nCredentials stored in: %s\n", credPath)
	return nil
}

// promptForToken reads a token with echo disabled, falling back to a plain
// line read when stdin is not a terminal.
func promptForToken(cmd *cobra.Command, prompt string) (string, error) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, prompt)

	if f, ok := cmd.InOrStdin().(*os.File); ok && f == os.Stdin && term.IsTerminal(int(syscall.Stdin)) {
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	return readLine(cmd.InOrStdin())
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func validateToken(token string) error {
	if token == "" {
		return fmt.Errorf("token is empty")
	}
	if len(token) < minTokenLength {
		return fmt.Errorf("token is too short")
	}
	if strings.ContainsAny(token, " \t\r\n") {
		return fmt.Errorf("token contains whitespace")
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	if !store.Exists() {
		fmt.Fprintln(out, "No stored credentials found.")
		return nil
	}
	if err := store.Delete(); err != nil {
		return fmt.Errorf("removing credentials: %w", err)
	}

	fmt.Fprintln(out, "Logged out successfully.")
	if os.Getenv(credentials.EnvToken) != "" {
		fmt.Fprintf(out, "\nNote: %s environment variable is still set.\n", credentials.EnvToken)
		fmt.Fprintf(out, "Unset it with: unset %s\n", credentials.EnvToken)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	fmt.Fprintln(out, "Authentication Status")
	fmt.Fprintln(out, "=====================")
	fmt.Fprintln(out)

	envToken := os.Getenv(credentials.EnvToken)
	if envToken != "" {
		fmt.Fprintf(out, "%s: %s (active)\n\n", credentials.EnvToken, credentials.MaskToken(envToken))
	}

	creds, err := store.Load()
	if err != nil {
		if errors.Is(err, credentials.ErrNoCredentials) {
			fmt.Fprintln(out, "Stored Credentials: None")
			if envToken == "" {
				fmt.Fprintln(out, "\nNot authenticated. Run 'meetwise auth login' to authenticate.")
			}
			return nil
		}
		return fmt.Errorf("loading credentials: %w", err)
	}

	fmt.Fprintln(out, "Stored Credentials:")
	fmt.Fprintf(out, "  Token: %s\n", credentials.MaskToken(creds.Token))
	if creds.ServerURL != "" {
		fmt.Fprintf(out, "  Server: %s\n", creds.ServerURL)
	}
	if !creds.LastUpdated.IsZero() {
		fmt.Fprintf(out, "  Updated: %s\n", creds.LastUpdated.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "  Encryption: %s\n", store.KeyDescription())
	if envToken != "" {
		fmt.Fprintf(out, "\nNote: %s overrides the stored token.\n", credentials.EnvToken)
	}
	return nil
}

func runHashToken(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	token := authToken
	var err error
	switch {
	case authGenerate:
		if token, err = credentials.GenerateToken(); err != nil {
			return err
		}
	case token != "":
	case authNonInteractive:
		if token, err = readLine(cmd.InOrStdin()); err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
	default:
		if token, err = promptForToken(cmd, "Token to hash: "); err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
	}

	if err := validateToken(token); err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	hash, err := credentials.HashToken(token)
	if err != nil {
		return err
	}

	if authGenerate {
		fmt.Fprintf(out, "Token: %s\n", token)
		fmt.Fprintf(out, "Hash:  %s\n", hash)
		fmt.Fprintln(out, "\nStore the token now; it cannot be recovered from the hash.")
		return nil
	}
	fmt.Fprintln(out, hash)
	return nil
}
