// Package strategos is the public entry point: it assembles the data
// source, evaluator, store, and population manager from a configuration and
// drives whole runs.
package strategos

import (
	"context"
	"fmt"
	"log/slog"

	"strategos/internal/backtest"
	"strategos/internal/config"
	"strategos/internal/dataset"
	"strategos/internal/evo"
	"strategos/internal/llm"
	"strategos/internal/model"
	"strategos/internal/sandbox"
	"strategos/internal/server"
	"strategos/internal/storage"
)

// Client owns the wired components for one configuration.
type Client struct {
	cfg    config.Config
	store  storage.Store
	data   *dataset.Dataset
	logger *slog.Logger
}

// RunSummary condenses a finished run for CLI display.
type RunSummary struct {
	RunID       string
	Generations int
	BestSharpe  float64
	FrontSize   int
	Diversity   float64
	ChampionID  string
	Champion    *model.Champion
}

// NewClient validates the configuration, opens the store, and loads the
// dataset. Close releases the store.
func NewClient(cfg config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger()

	store, err := storage.NewStore(cfg.Storage.Backend, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	data, err := loadDataset(cfg.Data)
	if err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}

	return &Client{cfg: cfg, store: store, data: data, logger: logger}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Logger exposes the configured logger for callers that log around runs.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Run evolves from the baseline seeds (or the given ones) and persists the
// final champion, lineage, diagnostics, and mutation log.
func (c *Client) Run(ctx context.Context, seeds []model.StrategyGraph) (*RunSummary, error) {
	if len(seeds) == 0 {
		var err error
		seeds, err = BaselineSeeds()
		if err != nil {
			return nil, err
		}
	}
	manager, err := c.manager()
	if err != nil {
		return nil, err
	}
	result, err := manager.Run(ctx, seeds)
	if result != nil {
		if persistErr := c.persist(ctx, result); persistErr != nil && err == nil {
			err = persistErr
		}
	}
	if err != nil {
		return summarize(result), err
	}
	return summarize(result), nil
}

// Resume continues a checkpointed run.
func (c *Client) Resume(ctx context.Context, runID string) (*RunSummary, error) {
	cp, ok, err := c.store.GetCheckpoint(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}
	if !ok {
		return nil, fmt.Errorf("no checkpoint for run %s", runID)
	}
	manager, err := c.manager()
	if err != nil {
		return nil, err
	}
	result, err := manager.Resume(ctx, cp)
	if result != nil {
		if persistErr := c.persist(ctx, result); persistErr != nil && err == nil {
			err = persistErr
		}
	}
	return summarize(result), err
}

// Champion fetches the persisted champion of a run.
func (c *Client) Champion(ctx context.Context, runID string) (model.Champion, bool, error) {
	return c.store.GetChampion(ctx, runID)
}

// RunAndServe runs the evolution with the dashboard attached, streaming
// each generation to websocket clients as it completes. The run finishing
// shuts the dashboard down.
func (c *Client) RunAndServe(ctx context.Context, seeds []model.StrategyGraph) (*RunSummary, error) {
	if len(seeds) == 0 {
		var err error
		seeds, err = BaselineSeeds()
		if err != nil {
			return nil, err
		}
	}
	manager, err := c.manager()
	if err != nil {
		return nil, err
	}

	exec := sandbox.NewLocalExecutor(c.cfg.Sandbox)
	srv := server.New(c.store, manager.RunID(), exec, c.data, c.logger)
	manager.AddListener(srv.Broadcast)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := srv.Run(runCtx, c.cfg.Server.Addr); err != nil && runCtx.Err() == nil {
			c.logger.Error("dashboard failed", "error", err)
		}
	}()

	result, err := manager.Run(runCtx, seeds)
	if result != nil {
		if persistErr := c.persist(ctx, result); persistErr != nil && err == nil {
			err = persistErr
		}
	}
	return summarize(result), err
}

// Serve runs the dashboard until the context is cancelled.
func (c *Client) Serve(ctx context.Context, runID string) error {
	exec := sandbox.NewLocalExecutor(c.cfg.Sandbox)
	srv := server.New(c.store, runID, exec, c.data, c.logger)
	return srv.Run(ctx, c.cfg.Server.Addr)
}

func (c *Client) manager() (*evo.Manager, error) {
	evaluator, err := backtest.NewSimEvaluator(c.cfg.Backtest, c.data, c.logger)
	if err != nil {
		return nil, err
	}
	manager, err := evo.NewManager(c.cfg.Run, evaluator, c.logger)
	if err != nil {
		return nil, err
	}
	manager.SetCheckpointSink(c.store)
	if c.cfg.LLM != nil {
		proposer, err := llm.New(*c.cfg.LLM, c.logger)
		if err != nil {
			return nil, err
		}
		manager.SetProposer(proposer)
	}
	return manager, nil
}

func (c *Client) persist(ctx context.Context, result *evo.RunResult) error {
	if result.Champion != nil {
		if err := c.store.SaveChampion(ctx, result.RunID, *result.Champion); err != nil {
			return fmt.Errorf("save champion: %w", err)
		}
		if err := c.store.SaveStrategy(ctx, result.Champion.Strategy); err != nil {
			return fmt.Errorf("save champion strategy: %w", err)
		}
	}
	for _, member := range result.Population.Members {
		if err := c.store.SaveStrategy(ctx, member); err != nil {
			return fmt.Errorf("save strategy %s: %w", member.ID, err)
		}
	}
	if err := c.store.SaveLineage(ctx, result.RunID, result.Lineage); err != nil {
		return fmt.Errorf("save lineage: %w", err)
	}
	if err := c.store.SaveGenerationDiagnostics(ctx, result.RunID, result.Diagnostics); err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	if err := c.store.SaveMutationLog(ctx, result.RunID, result.Mutations); err != nil {
		return fmt.Errorf("save mutation log: %w", err)
	}
	return nil
}

func loadDataset(cfg config.DataConfig) (*dataset.Dataset, error) {
	switch cfg.Source {
	case "csv":
		return dataset.FromCSV(cfg.Path)
	default:
		return dataset.Synthetic(cfg.Rows, cfg.Seed), nil
	}
}

func summarize(result *evo.RunResult) *RunSummary {
	if result == nil {
		return nil
	}
	summary := &RunSummary{
		RunID:       result.RunID,
		Generations: len(result.Diagnostics),
		FrontSize:   len(result.Population.ParetoFront),
		Diversity:   result.Population.DiversityScore,
		Champion:    result.Champion,
	}
	if len(result.Diagnostics) > 0 {
		summary.BestSharpe = result.Diagnostics[len(result.Diagnostics)-1].BestSharpe
	}
	if result.Champion != nil {
		summary.ChampionID = result.Champion.Strategy.ID
	}
	return summary
}
