package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/otherjamesbrown/meetwise/client"
	"github.com/otherjamesbrown/meetwise/config"
	"github.com/otherjamesbrown/meetwise/credentials"
	"github.com/otherjamesbrown/meetwise/pkg/api"
	"github.com/otherjamesbrown/meetwise/pkg/assistant"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline"
)

// OperatorClient is the subset of the operator API used by CLI commands.
type OperatorClient interface {
	GetMeeting(ctx context.Context, meetingID string, withTranscript bool) (*api.MeetingView, error)
	CancelMeeting(ctx context.Context, meetingID string) (*api.MeetingView, error)
	GetJob(ctx context.Context, meetingID string) (*pipeline.Job, error)
	Redrive(ctx context.Context, meetingID string) (*pipeline.Job, error)
	Ask(ctx context.Context, meetingID, question string, history []assistant.Turn) (*assistant.Answer, error)
}

// OperatorCommandDeps holds dependencies for commands that call the operator API.
type OperatorCommandDeps struct {
	LoadConfig func() (*config.ClientConfig, error)
	NewClient  func(cfg *config.ClientConfig) (OperatorClient, error)
}

// DefaultOperatorDeps returns default dependencies for production use.
func DefaultOperatorDeps() *OperatorCommandDeps {
	return &OperatorCommandDeps{
		LoadConfig: config.LoadClientConfig,
		NewClient:  newOperatorClient,
	}
}

// newOperatorClient builds an HTTP client authenticated with the active token.
func newOperatorClient(cfg *config.ClientConfig) (OperatorClient, error) {
	opts := client.DefaultOptions()
	opts.Timeout = cfg.Timeout

	store, err := credentials.NewStore()
	if err != nil {
		return nil, fmt.Errorf("initializing credential store: %w", err)
	}
	token, err := store.ActiveToken()
	switch {
	case errors.Is(err, credentials.ErrNoCredentials):
		return nil, fmt.Errorf("not authenticated: run 'meetwise auth login' or set %s", credentials.EnvToken)
	case err != nil:
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	opts.Token = token

	return client.New(cfg.ServerURL, opts)
}

// operatorSetup loads config, resolves the output format and builds a client.
func operatorSetup(deps *OperatorCommandDeps, outputFlag string) (OperatorClient, config.OutputFormat, error) {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return nil, "", fmt.Errorf("loading configuration: %w", err)
	}
	format, err := resolveFormat(outputFlag, cfg)
	if err != nil {
		return nil, "", err
	}
	c, err := deps.NewClient(cfg)
	if err != nil {
		return nil, "", err
	}
	return c, format, nil
}

// explainError adds a hint for authentication failures.
func explainError(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Unauthorized() {
		return fmt.Errorf("%w (check 'meetwise auth status')", err)
	}
	return err
}
