package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/monikatyab/anaya-m2m/config"
	"github.com/monikatyab/anaya-m2m/dialogue"
	"github.com/monikatyab/anaya-m2m/engine"
	"github.com/monikatyab/anaya-m2m/llm"
	"github.com/monikatyab/anaya-m2m/memory"
	"github.com/monikatyab/anaya-m2m/memory/store/inmem"
	"github.com/monikatyab/anaya-m2m/memory/store/sqlite"
	"github.com/monikatyab/anaya-m2m/planner"
	"github.com/monikatyab/anaya-m2m/retrieval/index/chromem"
	"github.com/monikatyab/anaya-m2m/synthesis"
)

// closeTimeout bounds teardown: draining profile handoffs and closing
// the store.
const closeTimeout = 10 * time.Second

// app is the assembled system behind every subcommand: one engine, the
// two memory tiers with their lifecycle manager, and the knowledge
// index.
type app struct {
	cfg     *config.Config
	engine  *engine.Engine
	stm     memory.ShortTerm
	manager *memory.Manager
	index   *chromem.Index

	closers []func() error
}

// buildApp loads config and wires the full pipeline. Components come up
// in dependency order: stores, cache, manager, index, generator,
// engine.
func buildApp(logger *zap.Logger) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	var ltm memory.LongTerm
	switch cfg.Memory.Backend {
	case "memory":
		st := inmem.New()
		a.stm, ltm = st, st
	default:
		st, err := sqlite.New(cfg.Memory.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.stm, ltm = st, st
		a.closers = append(a.closers, st.Close)
	}

	cached, err := memory.NewCachedLongTerm(ltm, cfg.GetProfileCacheTTL())
	if err != nil {
		return nil, fmt.Errorf("profile cache: %w", err)
	}
	a.closers = append(a.closers, func() error { cached.Close(); return nil })

	a.manager = memory.NewManager(a.stm, cached, memory.ManagerConfig{
		InactivityGap: cfg.GetInactivityGap(),
		SweepInterval: cfg.GetSweepInterval(),
	}, logger.Named("memory"))
	a.manager.Start()

	embedder, err := newEmbedder()
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	a.index, err = chromem.New(chromem.Config{
		PersistDir:   cfg.Retrieval.PersistDir,
		Collection:   cfg.Retrieval.Collection,
		ChunkSize:    cfg.Retrieval.ChunkSize,
		ChunkOverlap: cfg.Retrieval.ChunkOverlap,
		Embedder:     embedder,
		Logger:       logger.Named("retrieval"),
	})
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	var gen llm.Generator
	if cfg.LLM.APIKey != "" {
		anth, err := llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		gen = anth
	} else {
		logger.Warn("no ANTHROPIC_API_KEY; specialists answer from retrieval and templates only")
	}

	a.engine = engine.New(a.stm, cached,
		engine.WithLogger(logger.Named("engine")),
		engine.WithConfig(engine.Config{
			RecentWindow:    cfg.Engine.RecentWindow,
			ExecutorTimeout: cfg.GetExecutorTimeout(),
			TopK:            cfg.Retrieval.TopK,
		}),
		engine.WithPlanner(planner.New(planner.Config{
			ReflectionCooldown: cfg.Engine.ReflectionCooldown,
		})),
		engine.WithSynthesizer(synthesis.New(cfg.Engine.OverlapThreshold)),
		engine.WithDialogue(dialogue.NewManager(dialogue.Config{
			UnderstandingTurns: cfg.Engine.UnderstandingTurns,
			HoldTurns:          cfg.Engine.HoldTurns,
			TopicShiftBelow:    cfg.Engine.TopicShiftBelow,
			ResetOnCrisis:      cfg.Engine.ResetOnCrisis,
		})),
		engine.WithSearcher(a.index),
		engine.WithGenerator(gen),
	)

	return a, nil
}

// Close drains in-flight profile handoffs, then releases resources in
// reverse construction order.
func (a *app) Close(ctx context.Context) error {
	var firstErr error
	if a.manager != nil {
		if err := a.manager.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
