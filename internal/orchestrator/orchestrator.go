package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mpataki/nourishbot/internal/agentloop"
	"github.com/mpataki/nourishbot/internal/cli"
	"github.com/mpataki/nourishbot/internal/config"
	"github.com/mpataki/nourishbot/internal/crew"
	"github.com/mpataki/nourishbot/internal/definitions"
	"github.com/mpataki/nourishbot/internal/llm"
	"github.com/mpataki/nourishbot/internal/lua"
	"github.com/mpataki/nourishbot/internal/metrics"
	"github.com/mpataki/nourishbot/internal/models"
	"github.com/mpataki/nourishbot/internal/pipeline"
	"github.com/mpataki/nourishbot/internal/report"
	"github.com/mpataki/nourishbot/internal/storage"
	"github.com/mpataki/nourishbot/internal/tools"
)

var (
	// ErrTrainNotImplemented is returned by the train invocation.
	ErrTrainNotImplemented = errors.New("train is not implemented")
	// ErrNoHistory is returned by history reads when no store is configured.
	ErrNoHistory = errors.New("run history is not enabled")
)

type Orchestrator struct {
	cfg      *config.Config
	client   llm.Client
	storage  *storage.Storage
	metrics  *metrics.Recorder
	logger   *slog.Logger
	out      io.Writer
	markdown bool
}

type Option func(*Orchestrator)

// WithClient replaces the LLM client built from the configuration.
func WithClient(c llm.Client) Option {
	return func(o *Orchestrator) { o.client = c }
}

// WithStore records runs and executions in s.
func WithStore(s *storage.Storage) Option {
	return func(o *Orchestrator) { o.storage = s }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithOutput sets where results are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.out = w }
}

func WithMarkdown(enabled bool) Option {
	return func(o *Orchestrator) { o.markdown = enabled }
}

func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		logger: slog.New(slog.DiscardHandler),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) llmClient() (llm.Client, error) {
	if o.client != nil {
		return o.client, nil
	}
	c, err := llm.New(o.cfg.LLM, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	o.client = c
	return c, nil
}

// assemble loads definitions and rules and returns a Base ready for
// pipeline construction. The returned rules must be closed.
func (o *Orchestrator) assemble(client llm.Client, image string, restrictions *string) (*pipeline.Base, *lua.Rules, error) {
	defs, err := definitions.Load(o.cfg.ConfigDir)
	if err != nil {
		return nil, nil, err
	}

	rules, err := lua.Load(o.cfg.DietaryRules, o.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load dietary rules: %w", err)
	}

	registry, err := tools.NewDefaultRegistry(client, rules, o.logger, tools.WithVisionModel(o.cfg.LLM.VisionModel))
	if err != nil {
		rules.Close()
		return nil, nil, fmt.Errorf("failed to build tool registry: %w", err)
	}

	return pipeline.NewBase(o.cfg, defs, registry, image, restrictions), rules, nil
}

// Run executes one invocation and prints its result. The workflow type is
// checked before anything is built.
func (o *Orchestrator) Run(ctx context.Context, inv *cli.Invocation) (*crew.CrewOutput, error) {
	if inv.Train {
		return nil, o.Train(ctx, inv)
	}

	printer := report.New(o.out, report.WithMarkdown(o.markdown))
	printer.Welcome()

	workflow, err := pipeline.ParseWorkflowType(inv.Workflow)
	if err != nil {
		return nil, err
	}

	client, err := o.llmClient()
	if err != nil {
		return nil, err
	}

	base, rules, err := o.assemble(client, inv.ImagePath, inv.Restrictions)
	if err != nil {
		return nil, err
	}
	defer rules.Close()

	runID := uuid.NewString()
	logger := o.logger.With("run", runID, "workflow", string(workflow))

	p, err := pipeline.New(workflow, base)
	if err != nil {
		return nil, err
	}
	c, err := p.Crew(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble %s crew: %w", workflow, err)
	}

	run := &models.Run{
		UUID:                runID,
		Workflow:            string(workflow),
		ImagePath:           inv.ImagePath,
		DietaryRestrictions: inv.Restrictions,
		Status:              models.RunStatusRunning,
	}
	if o.storage != nil {
		id, err := o.storage.CreateRun(run)
		if err != nil {
			return nil, fmt.Errorf("failed to create run: %w", err)
		}
		run.ID = id
	}

	c.Hooks = o.hooks(run, logger)

	exec := agentloop.New(client, logger,
		agentloop.WithMaxTokens(o.cfg.LLM.MaxTokens),
		agentloop.WithTemperature(o.cfg.LLM.Temperature),
	)

	logger.Info("run started", "image", inv.ImagePath, "tasks", len(c.Tasks))
	out, kickErr := c.Kickoff(ctx, exec, base.Inputs(workflow))

	o.finishRun(run, out, kickErr, logger)

	if kickErr != nil {
		return nil, kickErr
	}

	if err := printer.Result(out); err != nil {
		return out, err
	}
	return out, nil
}

// hooks keep the run record and metrics in step with task progress.
func (o *Orchestrator) hooks(run *models.Run, logger *slog.Logger) crew.Hooks {
	execs := make(map[int]*models.Execution)
	started := make(map[int]time.Time)

	return crew.Hooks{
		OnTaskStart: func(i int, task *crew.Task) {
			started[i] = time.Now()
			run.CurrentTask = task.Name
			if o.storage == nil {
				return
			}
			now := time.Now()
			exec := &models.Execution{
				RunID:       run.ID,
				TaskName:    task.Name,
				AgentName:   task.Agent.Name,
				Status:      models.ExecStatusRunning,
				StartedAt:   &now,
				SequenceNum: i + 1,
			}
			id, err := o.storage.CreateExecution(exec)
			if err != nil {
				logger.Warn("failed to record execution", "task", task.Name, "error", err)
				return
			}
			exec.ID = id
			execs[i] = exec
			if err := o.storage.UpdateRun(run); err != nil {
				logger.Warn("failed to update run", "error", err)
			}
		},
		OnTaskEnd: func(i int, task *crew.Task, out *crew.TaskOutput, err error) {
			if out != nil {
				o.metrics.ObserveTask(run.Workflow, task.Name, out.Duration(), out.Usage.PromptTokens, out.Usage.CompletionTokens)
			} else {
				o.metrics.ObserveTask(run.Workflow, task.Name, time.Since(started[i]), 0, 0)
			}

			exec, ok := execs[i]
			if !ok {
				return
			}
			now := time.Now()
			exec.CompletedAt = &now
			if err != nil {
				exec.Status = models.ExecStatusFailed
				exec.Error = err.Error()
			} else {
				exec.Status = models.ExecStatusComplete
				exec.RawOutput = out.Raw
				exec.JSONOutput = out.JSON
				exec.PromptTokens = out.Usage.PromptTokens
				exec.CompletionTokens = out.Usage.CompletionTokens
			}
			if err := o.storage.UpdateExecution(exec); err != nil {
				logger.Warn("failed to update execution", "task", task.Name, "error", err)
			}
		},
	}
}

func (o *Orchestrator) finishRun(run *models.Run, out *crew.CrewOutput, runErr error, logger *slog.Logger) {
	now := time.Now()
	run.CompletedAt = &now
	if out != nil {
		run.RawOutput = out.Raw
		run.PromptTokens = out.TokenUsage.PromptTokens
		run.CompletionTokens = out.TokenUsage.CompletionTokens
	}
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = runErr.Error()
		logger.Error("run failed", "error", runErr)
	} else {
		run.Status = models.RunStatusComplete
		logger.Info("run complete", "tokens", run.TotalTokens())
	}

	if o.storage != nil {
		if err := o.storage.UpdateRun(run); err != nil {
			logger.Warn("failed to update run", "error", err)
		}
	}

	o.metrics.ObserveRun(run.Workflow, string(run.Status))
	if err := o.metrics.WriteTextfile(o.cfg.MetricsFile); err != nil {
		logger.Warn("failed to write metrics", "error", err)
	}
}

// Train is accepted on the command line but has no implementation.
func (o *Orchestrator) Train(ctx context.Context, inv *cli.Invocation) error {
	o.logger.Debug("train requested", "iterations", inv.Iterations, "output", inv.OutputFile, "workflow", inv.Workflow)
	return ErrTrainNotImplemented
}

// Catalog builds every declared agent and task without calling the LLM.
func (o *Orchestrator) Catalog() (*pipeline.Catalog, error) {
	base, rules, err := o.assemble(o.client, "", nil)
	if err != nil {
		return nil, err
	}
	defer rules.Close()

	return base.Catalog()
}

// Read methods for the history commands and TUI

func (o *Orchestrator) ListRuns(limit int) ([]*models.Run, error) {
	if o.storage == nil {
		return nil, ErrNoHistory
	}
	return o.storage.ListRuns(limit)
}

func (o *Orchestrator) GetRun(id int64) (*models.Run, error) {
	if o.storage == nil {
		return nil, ErrNoHistory
	}
	return o.storage.GetRun(id)
}

func (o *Orchestrator) GetExecutionsForRun(runID int64) ([]*models.Execution, error) {
	if o.storage == nil {
		return nil, ErrNoHistory
	}
	return o.storage.GetExecutionsForRun(runID)
}

func (o *Orchestrator) DeleteRun(runID int64) error {
	if o.storage == nil {
		return ErrNoHistory
	}
	if err := o.storage.DeleteRun(runID); err != nil {
		return fmt.Errorf("failed to delete run %d: %w", runID, err)
	}
	return nil
}
