package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/internal/config"
	"github.com/haasonsaas/agentrun/internal/observability"
	"github.com/haasonsaas/agentrun/internal/providers"
	"github.com/haasonsaas/agentrun/internal/providers/tape"
	"github.com/haasonsaas/agentrun/internal/storage"
	"github.com/haasonsaas/agentrun/internal/tools/memorysearch"
	"github.com/haasonsaas/agentrun/internal/tools/preferences"
)

// runOptions holds the flags shared by run and runs resume.
type runOptions struct {
	configPath     string
	conversationID string
	userID         string
	prompt         string
	autoApprove    bool
	recordPath     string
	replayPath     string
}

// host owns everything a command needs to drive runs.
type host struct {
	cfg      *config.Config
	logger   *slog.Logger
	stores   storage.StoreSet
	orch     *agent.Orchestrator
	recorder *tape.Recorder
	record   string
	shutdown []func(context.Context) error
}

// loadConfig reads path. A missing default config file yields defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func newHost(ctx context.Context, opts runOptions, out io.Writer) (*host, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.replayPath != "" {
		cfg.LLM.Provider = "tape"
		cfg.LLM.TapePath = opts.replayPath
	}

	h := &host{cfg: cfg, logger: observability.NewLogger(cfg.LogConfig()), record: opts.recordPath}
	ok := false
	defer func() {
		if !ok {
			h.Close(context.Background())
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	if cfg.Observability.Metrics.Enabled {
		stop, err := startMetricsServer(cfg.Observability.Metrics.Address, reg, h.logger)
		if err != nil {
			return nil, err
		}
		h.shutdown = append(h.shutdown, stop)
	}

	tracer, stopTracer := observability.NewTracer(cfg.Observability.Tracing)
	h.shutdown = append(h.shutdown, stopTracer)

	h.stores, err = storage.Open(ctx, storage.Config{
		Driver: cfg.Storage.Driver,
		SQLite: storage.SQLiteConfig{
			Path:            cfg.Storage.Path,
			MaxOpenConns:    cfg.Storage.MaxConnections,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	provider, err := h.buildProvider()
	if err != nil {
		return nil, err
	}

	tools := enabledTools(cfg.Tools.Disabled,
		append(preferences.Tools(preferences.NewMemoryStore()), memorysearch.NewSearchTool(h.stores.Turns, nil))...)
	if h.recorder != nil {
		tools = h.recorder.WrapTools(tools)
	}
	registry, err := agent.NewToolRegistry(tools...)
	if err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	orchOpts := []agent.Option{
		agent.WithOptions(agent.Options{
			Model:        cfg.LLM.Model,
			Instructions: cfg.Orchestrator.Instructions,
			ToolTimeouts: cfg.Tools.Timeouts,
		}),
		agent.WithLogger(h.logger),
		agent.WithMetrics(metrics),
		agent.WithTracer(tracer),
		agent.WithRunStore(h.stores.Runs),
		agent.WithApprovalPolicy(cfg.Tools.Approval),
		agent.WithConflictPolicy(agent.ConflictPolicy(cfg.Orchestrator.ConflictPolicy)),
		agent.WithMaxIterations(cfg.Orchestrator.MaxIterations),
		agent.WithToolTimeout(cfg.Tools.Timeout),
		agent.WithObserver(newConsoleObserver(out)),
	}
	if cfg.Orchestrator.AutoApprove || opts.autoApprove {
		orchOpts = append(orchOpts, agent.WithAutoApprove(cfg.Orchestrator.MaxAutoApproveCycles))
	}
	h.orch, err = agent.NewOrchestrator(provider, registry, orchOpts...)
	if err != nil {
		return nil, err
	}

	ok = true
	return h, nil
}

func (h *host) buildProvider() (agent.ModelProvider, error) {
	llm := h.cfg.LLM
	var provider agent.ModelProvider
	switch llm.Provider {
	case "tape":
		recorded, err := tape.LoadFile(llm.TapePath)
		if err != nil {
			return nil, err
		}
		h.logger.Info("replaying tape", "path", llm.TapePath, "turns", recorded.TotalTurns())
		provider = tape.NewReplayer(recorded)
	default:
		provider = providers.NewOpenAIProviderWithConfig(providers.OpenAIConfig{
			APIKey:       llm.APIKey,
			BaseURL:      llm.BaseURL,
			DefaultModel: llm.Model,
			MaxTokens:    llm.MaxTokens,
			MaxRetries:   llm.MaxRetries,
			RetryDelay:   llm.RetryDelay,
		})
	}
	if h.record != "" {
		h.recorder = tape.NewRecorder(provider).
			WithModel(llm.Model).
			WithInstructions(h.cfg.Orchestrator.Instructions)
		return h.recorder, nil
	}
	return provider, nil
}

func enabledTools(disabled []string, tools ...agent.Tool) []agent.Tool {
	if len(disabled) == 0 {
		return tools
	}
	skip := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		skip[name] = true
	}
	out := tools[:0]
	for _, tool := range tools {
		if !skip[tool.Name()] {
			out = append(out, tool)
		}
	}
	return out
}

// Close saves any recorded tape and releases storage, metrics and tracing.
func (h *host) Close(ctx context.Context) error {
	var errs []error
	if h.recorder != nil {
		h.recorder.Wait()
		if err := h.recorder.Tape().SaveFile(h.record); err != nil {
			errs = append(errs, err)
		} else {
			h.logger.Info("tape saved", "path", h.record, "turns", h.recorder.Tape().TotalTurns())
		}
	}
	if err := h.stores.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, stop := range h.shutdown {
		if err := stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
