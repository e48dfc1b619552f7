package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetwise/pkg/api"
	"github.com/otherjamesbrown/meetwise/pkg/pipeline"
)

// NewMeetingCommand creates the meeting command group.
func NewMeetingCommand(deps *OperatorCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultOperatorDeps()
	}

	cmd := &cobra.Command{
		Use:   "meeting",
		Short: "Inspect and manage meetings",
		Long: `Inspect and manage meetings through the operator API.

Examples:
  # Show a meeting
  meetwise meeting get 8a4c...

  # Include the transcript
  meetwise meeting get 8a4c... --transcript

  # Cancel a meeting that has not started
  meetwise meeting cancel 8a4c...

  # Show the processing job and re-run a failed one
  meetwise meeting job 8a4c...
  meetwise meeting redrive 8a4c...`,
		Aliases: []string{"meetings"},
	}

	cmd.AddCommand(newMeetingGetCommand(deps))
	cmd.AddCommand(newMeetingCancelCommand(deps))
	cmd.AddCommand(newMeetingJobCommand(deps))
	cmd.AddCommand(newMeetingRedriveCommand(deps))
	return cmd
}

func newMeetingGetCommand(deps *OperatorCommandDeps) *cobra.Command {
	var (
		output     string
		transcript bool
	)
	cmd := &cobra.Command{
		Use:   "get <meeting-id>",
		Short: "Show a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, format, err := operatorSetup(deps, output)
			if err != nil {
				return err
			}
			m, err := c.GetMeeting(cmd.Context(), args[0], transcript)
			if err != nil {
				return explainError(err)
			}
			return writeOutput(cmd.OutOrStdout(), format, m, func(w io.Writer) error {
				writeMeetingText(w, m)
				return nil
			})
		},
	}
	addOutputFlag(cmd, &output)
	cmd.Flags().BoolVar(&transcript, "transcript", false, "Include the full transcript")
	return cmd
}

func newMeetingCancelCommand(deps *OperatorCommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "cancel <meeting-id>",
		Short: "Cancel an upcoming meeting",
		Long: `Cancel a meeting. Only upcoming meetings can be cancelled; a meeting
that has already started is rejected with invalid_transition.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, format, err := operatorSetup(deps, output)
			if err != nil {
				return err
			}
			m, err := c.CancelMeeting(cmd.Context(), args[0])
			if err != nil {
				return explainError(err)
			}
			return writeOutput(cmd.OutOrStdout(), format, m, func(w io.Writer) error {
				fmt.Fprintf(w, "Meeting %s cancelled.\n", m.ID)
				return nil
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func newMeetingJobCommand(deps *OperatorCommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "job <meeting-id>",
		Short: "Show the processing job for a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, format, err := operatorSetup(deps, output)
			if err != nil {
				return err
			}
			job, err := c.GetJob(cmd.Context(), args[0])
			if err != nil {
				return explainError(err)
			}
			return writeOutput(cmd.OutOrStdout(), format, job, func(w io.Writer) error {
				writeJobText(w, job)
				return nil
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func newMeetingRedriveCommand(deps *OperatorCommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "redrive <meeting-id>",
		Short: "Start a new processing job for a stuck meeting",
		Long: `Start a new processing job for a meeting that is still processing but
whose last job failed. The new job resumes from the first missing artifact;
artifacts already written are kept. The error flag is cleared.

A meeting with a live job is rejected with already_exists.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, format, err := operatorSetup(deps, output)
			if err != nil {
				return err
			}
			job, err := c.Redrive(cmd.Context(), args[0])
			if err != nil {
				return explainError(err)
			}
			return writeOutput(cmd.OutOrStdout(), format, job, func(w io.Writer) error {
				fmt.Fprintf(w, "Job %s requeued at stage %s.\n", job.ID, job.Stage)
				return nil
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func writeMeetingText(w io.Writer, m *api.MeetingView) {
	fmt.Fprintf(w, "Meeting:    %s\n", m.ID)
	fmt.Fprintf(w, "Name:       %s\n", valueOrDefault(m.Name, "-"))
	fmt.Fprintf(w, "Agent:      %s\n", valueOrDefault(m.AgentID, "-"))
	fmt.Fprintf(w, "Status:     %s\n", m.Status)
	fmt.Fprintf(w, "Started:    %s\n", formatTime(m.StartedAt))
	fmt.Fprintf(w, "Ended:      %s\n", formatTime(m.EndedAt))
	fmt.Fprintf(w, "Duration:   %s\n", formatSeconds(m.DurationSeconds))
	fmt.Fprintf(w, "Artifacts:  recording=%s transcript=%s summary=%s\n",
		check(m.HasRecording), check(m.HasTranscript), check(m.HasSummary))
	if m.ProcessingError != "" {
		fmt.Fprintf(w, "Error:      %s\n", m.ProcessingError)
	}
	fmt.Fprintf(w, "Version:    %d\n", m.Version)

	if m.Summary != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Summary:")
		fmt.Fprintln(w, m.Summary)
	}
	if m.Transcript != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Transcript:")
		fmt.Fprintln(w, m.Transcript)
	}
}

func writeJobText(w io.Writer, job *pipeline.Job) {
	fmt.Fprintf(w, "Job:      %s\n", job.ID)
	fmt.Fprintf(w, "Meeting:  %s\n", job.MeetingID)
	fmt.Fprintf(w, "Stage:    %s\n", job.Stage)
	fmt.Fprintf(w, "Attempt:  %d\n", job.Attempt)
	if job.LastError != "" {
		fmt.Fprintf(w, "Error:    %s\n", job.LastError)
	}
	fmt.Fprintf(w, "Updated:  %s\n", formatTime(&job.UpdatedAt))
}

func check(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
