package main

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mpataki/nourishbot/internal/orchestrator"
	"github.com/mpataki/nourishbot/internal/storage"
	"github.com/mpataki/nourishbot/internal/tui"
)

// withHistory opens the history database regardless of --history and hands
// an orchestrator over it to fn.
func withHistory(cmd *cobra.Command, f *flags, fn func(orch *orchestrator.Orchestrator) error) error {
	cfg, logger, err := load(cmd, f)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(orchestrator.New(cfg, orchestrator.WithStore(store), orchestrator.WithLogger(logger)))
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid run ID: %w", err)
	}
	return id, nil
}

func newHistoryCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Browse recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, f, func(orch *orchestrator.Orchestrator) error {
				p := tea.NewProgram(tui.NewApp(orch), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
				_, err := p.Run()
				return err
			})
		},
	}
}

func newRunsCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withHistory(cmd, f, func(orch *orchestrator.Orchestrator) error {
				runs, err := orch.ListRuns(limit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs found.")
					return nil
				}

				for _, run := range runs {
					restrictions := "-"
					if run.DietaryRestrictions != nil {
						restrictions = *run.DietaryRestrictions
					}
					fmt.Fprintf(out, "#%d %s [%s] %s %s (%s)\n",
						run.ID, run.Workflow, run.Status, truncate(run.ImagePath, 40),
						truncate(restrictions, 30), storage.FormatTimeAgo(run.CreatedAt))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of runs to list")
	return cmd
}

func newShowCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			return withHistory(cmd, f, func(orch *orchestrator.Orchestrator) error {
				run, err := orch.GetRun(runID)
				if err != nil {
					return fmt.Errorf("failed to get run: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run #%d: %s\n", run.ID, run.Workflow)
				fmt.Fprintf(out, "ID: %s\n", run.UUID)
				fmt.Fprintf(out, "Status: %s\n", run.Status)
				fmt.Fprintf(out, "Image: %s\n", run.ImagePath)
				if run.DietaryRestrictions != nil {
					fmt.Fprintf(out, "Dietary restrictions: %s\n", *run.DietaryRestrictions)
				}
				fmt.Fprintf(out, "Tokens: %d (prompt %d, completion %d)\n", run.TotalTokens(), run.PromptTokens, run.CompletionTokens)
				if run.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", run.Error)
				}

				execs, err := orch.GetExecutionsForRun(runID)
				if err != nil {
					return err
				}
				if len(execs) > 0 {
					fmt.Fprintln(out, "\nTasks:")
					for _, exec := range execs {
						fmt.Fprintf(out, "  %d. %s (%s) [%s]\n", exec.SequenceNum, exec.TaskName, exec.AgentName, exec.Status)
					}
				}

				if run.RawOutput != "" {
					fmt.Fprintf(out, "\nResult:\n%s\n", run.RawOutput)
				}
				return nil
			})
		},
	}
}

func newDeleteCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			return withHistory(cmd, f, func(orch *orchestrator.Orchestrator) error {
				if err := orch.DeleteRun(runID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted run #%d\n", runID)
				return nil
			})
		},
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
