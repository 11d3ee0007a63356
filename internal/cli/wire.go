package cli

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/carmmmm/RadiologyTrustLayer/internal/audit"
	"github.com/carmmmm/RadiologyTrustLayer/internal/infer"
	"github.com/carmmmm/RadiologyTrustLayer/internal/model"
	"github.com/carmmmm/RadiologyTrustLayer/internal/pipeline"
	"github.com/carmmmm/RadiologyTrustLayer/internal/prompt"
	"github.com/carmmmm/RadiologyTrustLayer/internal/score"
	"github.com/carmmmm/RadiologyTrustLayer/internal/store"
)

// runtime bundles the collaborators every command needs.
type runtime struct {
	cfg      *model.Config
	logger   *zap.Logger
	store    store.Store
	recorder *audit.Recorder
	pipeline *pipeline.Pipeline
}

// newRuntime builds the full object graph from an explicit config. API keys
// are resolved from the environment here, never inside core logic.
func newRuntime(cfg *model.Config) (*runtime, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if cfg.Inference.Provider == "openai" && cfg.Inference.APIKey == "" {
		cfg.Inference.APIKey = os.Getenv("OPENAI_API_KEY")
		if cfg.Inference.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	provider, err := infer.NewProvider(cfg.Inference)
	if err != nil {
		return nil, err
	}
	provider = infer.NewThrottled(provider, cfg.RateLimit)

	var st store.Store
	if cfg.Storage.Path != "" {
		st, err = store.NewSQLiteStore(cfg.Storage.Path, logger)
		if err != nil {
			return nil, err
		}
	} else {
		st = store.NewMemoryStore()
	}

	recorder := audit.NewRecorder(st, logger)
	steps := pipeline.NewStepExecutor(provider, prompt.NewRegistry(), cfg.Prompts.Version, cfg.Inference.MaxTokens, logger)
	scorer := score.NewScorer(cfg.Scoring)

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		recorder: recorder,
		pipeline: pipeline.New(steps, scorer, recorder, st, cfg, logger),
	}, nil
}

func (r *runtime) close() {
	_ = r.logger.Sync()
	if err := r.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing store: %v\n", err)
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}
