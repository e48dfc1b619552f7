package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/meetwise/pkg/assistant"
)

// NewAskCommand creates the 'ask' command.
func NewAskCommand(deps *OperatorCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultOperatorDeps()
	}

	var (
		output      string
		historyFile string
	)

	cmd := &cobra.Command{
		Use:   "ask <meeting-id> <question...>",
		Short: "Ask a question about a meeting transcript",
		Long: `Ask the transcript assistant a question about a completed meeting.

The meeting must have a transcript. Earlier turns of the conversation can be
supplied as a YAML or JSON list of {role, content} objects with --history-file.

Examples:
  meetwise ask 8a4c... "What did we decide about the launch date?"

  # Continue a conversation
  meetwise ask 8a4c... "Who owns that?" --history-file turns.yaml`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args[1:], " "))

			var history []assistant.Turn
			if historyFile != "" {
				var err error
				if history, err = readHistory(historyFile); err != nil {
					return err
				}
			}

			c, format, err := operatorSetup(deps, output)
			if err != nil {
				return err
			}
			ans, err := c.Ask(cmd.Context(), args[0], question, history)
			if err != nil {
				return explainError(err)
			}
			return writeOutput(cmd.OutOrStdout(), format, ans, func(w io.Writer) error {
				fmt.Fprintln(w, ans.Answer)
				if ans.TranscriptTruncated {
					fmt.Fprintln(w, "\n(answered from the end of a long transcript)")
				}
				return nil
			})
		},
	}

	addOutputFlag(cmd, &output)
	cmd.Flags().StringVar(&historyFile, "history-file", "", "YAML or JSON file with earlier conversation turns")
	return cmd
}

// readHistory loads conversation turns. YAML is a superset of JSON so one decoder serves both.
func readHistory(path string) ([]assistant.Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading history file: %w", err)
	}
	var turns []assistant.Turn
	if err := yaml.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parsing history file: %w", err)
	}
	return turns, nil
}
