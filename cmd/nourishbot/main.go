package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mpataki/nourishbot/internal/cli"
	"github.com/mpataki/nourishbot/internal/config"
	"github.com/mpataki/nourishbot/internal/logging"
	"github.com/mpataki/nourishbot/internal/metrics"
	"github.com/mpataki/nourishbot/internal/orchestrator"
	"github.com/mpataki/nourishbot/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type flags struct {
	configDir   string
	envFile     string
	history     bool
	metricsFile string
	markdown    bool
	verbose     bool
	logLevel    string
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:   "nourishbot <image_path> [dietary_restrictions] <workflow_type>",
		Short: "Food image analysis and recipe suggestions",
		Long: "NourishBot runs a crew of LLM agents over a food image. The analysis workflow\n" +
			"estimates nutrients; the recipe workflow suggests recipes that respect the\n" +
			"given dietary restrictions.\n\n" + cli.Usage,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, f, args)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.configDir, "config-dir", "", "Directory with agents.yaml and tasks.yaml overrides")
	pf.StringVar(&f.envFile, "env-file", ".env", "Environment file loaded before the process environment")
	pf.BoolVar(&f.history, "history", false, "Record the run in the history database")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "Write prometheus textfile metrics to this path")
	pf.BoolVar(&f.markdown, "markdown", false, "Render the raw output as markdown")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "Log every agent step")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newConfigCommand(f))
	rootCmd.AddCommand(newHistoryCommand(f))
	rootCmd.AddCommand(newRunsCommand(f))
	rootCmd.AddCommand(newShowCommand(f))
	rootCmd.AddCommand(newDeleteCommand(f))

	return rootCmd
}

// load builds the configuration and applies flags the user set explicitly.
func load(cmd *cobra.Command, f *flags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	pf := cmd.Flags()
	if pf.Changed("config-dir") {
		cfg.ConfigDir = f.configDir
	}
	if pf.Changed("history") {
		cfg.History = f.history
	}
	if pf.Changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if f.logLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(f.logLevel)); err != nil {
			return nil, nil, fmt.Errorf("invalid --log-level %q: %w", f.logLevel, err)
		}
	}
	if f.verbose {
		cfg.LogLevel = slog.LevelDebug
	}

	return cfg, logging.New(cfg.LogLevel, cmd.ErrOrStderr()), nil
}

func openStore(cfg *config.Config) (*storage.Storage, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func runPipeline(cmd *cobra.Command, f *flags, args []string) error {
	inv, err := cli.Parse(args)
	if errors.Is(err, cli.ErrUsage) {
		fmt.Fprintln(cmd.OutOrStdout(), cli.Usage)
		return nil
	}
	if err != nil {
		return err
	}

	cfg, logger, err := load(cmd, f)
	if err != nil {
		return err
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithOutput(cmd.OutOrStdout()),
		orchestrator.WithMarkdown(f.markdown),
	}
	if cfg.History {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, orchestrator.WithStore(store))
	}
	if cfg.MetricsFile != "" {
		opts = append(opts, orchestrator.WithMetrics(metrics.New()))
	}

	orch := orchestrator.New(cfg, opts...)
	_, err = orch.Run(cmd.Context(), inv)
	return err
}

func newConfigCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Check the agent and task definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd, f)
			if err != nil {
				return err
			}

			catalog, err := orchestrator.New(cfg, orchestrator.WithLogger(logger)).Catalog()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Definitions: %s\n\n", catalog.Source)
			fmt.Fprintln(out, "Agents:")
			for _, a := range catalog.Agents {
				fmt.Fprintf(out, "  %-26s %s\n", a.Name, a.Role)
				if len(a.Tools) > 0 {
					fmt.Fprintf(out, "  %-26s tools: %v\n", "", a.Tools)
				}
				if a.AllowDelegation {
					fmt.Fprintf(out, "  %-26s delegation allowed, max %d steps\n", "", a.MaxIter)
				}
			}
			fmt.Fprintln(out, "\nTasks:")
			for _, t := range catalog.Tasks {
				line := fmt.Sprintf("  %-26s -> %s", t.Name, t.Agent)
				if t.Schema {
					line += " (structured)"
				}
				fmt.Fprintln(out, line)
			}
			if len(catalog.Unused) > 0 {
				fmt.Fprintf(out, "\nDeclared but unused: %v\n", catalog.Unused)
			}
			return nil
		},
	}
}
