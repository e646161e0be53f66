package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nvandessel/charcoal/internal/atproto"
	"github.com/nvandessel/charcoal/internal/backup"
	"github.com/nvandessel/charcoal/internal/behavior"
	"github.com/nvandessel/charcoal/internal/config"
	"github.com/nvandessel/charcoal/internal/embedding"
	"github.com/nvandessel/charcoal/internal/logging"
	"github.com/nvandessel/charcoal/internal/pathutil"
	"github.com/nvandessel/charcoal/internal/profile"
	"github.com/nvandessel/charcoal/internal/scoring"
	"github.com/nvandessel/charcoal/internal/setup"
	"github.com/nvandessel/charcoal/internal/store"
	"github.com/nvandessel/charcoal/internal/toxicity"
)

// openStore opens the storage backend cfg.Database selects: the networked
// backend when Database.URL has a postgres scheme, the embedded backend
// otherwise.
func openStore(ctx context.Context, cfg *config.CharcoalConfig) (store.Store, error) {
	if url := cfg.Database.URL; url != "" {
		switch {
		case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
			return store.NewPostgresStore(ctx, url)
		case strings.HasPrefix(url, "sqlite://"):
			return store.NewSQLiteStore(strings.TrimPrefix(url, "sqlite://"))
		default:
			return nil, fmt.Errorf("unrecognized database url scheme: %s", url)
		}
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

// openStoreForURL opens a store for an explicit database URL (or bare
// sqlite path), used by the migrate command's destination backend.
func openStoreForURL(ctx context.Context, url string) (store.Store, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return store.NewPostgresStore(ctx, url)
	case strings.HasPrefix(url, "sqlite://"):
		return store.NewSQLiteStore(strings.TrimPrefix(url, "sqlite://"))
	default:
		return store.NewSQLiteStore(url)
	}
}

// newClient builds the AT Protocol client from cfg.
func newClient(cfg *config.CharcoalConfig) *atproto.Client {
	return atproto.NewClient(atproto.Config{
		PublicAPIURL:     cfg.Bluesky.PublicAPIURL,
		ConstellationURL: cfg.Bluesky.ConstellationURL,
	})
}

// newEmbeddingEngine builds the local embedding engine from cfg. The engine
// is always constructed; Available() reports whether the model is actually
// usable, letting callers decide to fall back.
func newEmbeddingEngine(cfg *config.CharcoalConfig) *embedding.Engine {
	return embedding.New(embedding.Config{
		LibPath:     cfg.Model.LibPath,
		ModelPath:   setupModelPath(cfg),
		GPULayers:   int(cfg.Model.GPULayers),
		Concurrency: cfg.Concurrency.Inference,
	})
}

// setupModelPath resolves the GGUF model file path from the configured
// model directory, or empty if none is installed.
func setupModelPath(cfg *config.CharcoalConfig) string {
	detected := setup.DetectInstalled(cfg.Model.Dir)
	return detected.ModelPath
}

// newToxicityScorer builds the configured toxicity backend. For the local
// scorer, engine must already be wired to a loaded embedding model.
func newToxicityScorer(cfg *config.CharcoalConfig, engine *embedding.Engine) (toxicity.Scorer, error) {
	switch cfg.Model.Scorer {
	case "perspective":
		return toxicity.NewPerspectiveScorer(cfg.Model.PerspectiveAPIKey, ""), nil
	default:
		probe, err := toxicity.LoadLinearProbe(engine, cfg.Model.Dir)
		if err != nil {
			return nil, fmt.Errorf("loading local toxicity probe: %w", err)
		}
		return probe, nil
	}
}

// newLogger builds the operational slog.Logger, plus the JSONL decision
// logger (nil unless logging.level is debug/trace), from cfg.
func newLogger(cfg *config.CharcoalConfig) (*slog.Logger, *logging.DecisionLogger) {
	level := cfg.Logging.Level
	slogger := logging.NewLogger(level, os.Stderr)
	decision := logging.NewDecisionLogger(decisionLogDir(), level)
	return slogger, decision
}

func decisionLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".charcoal"
	}
	return home + "/.charcoal"
}

// resolveProtectedDID resolves cfg.Bluesky.Handle to its DID, the identifier
// every stored record is keyed by.
func resolveProtectedDID(ctx context.Context, client *atproto.Client, cfg *config.CharcoalConfig) (string, error) {
	if cfg.Bluesky.Handle == "" {
		return "", fmt.Errorf("bluesky.handle is not configured")
	}
	return client.ResolveHandle(ctx, cfg.Bluesky.Handle)
}

// loadAndValidate loads configuration and validates it, wrapping the error
// with command context.
func loadAndValidate() (*config.CharcoalConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newProfileBuilder wires the profile.Builder every per-account scoring path
// shares: the client as PostFetcher, the embedding engine as Embedder (only
// when a model is actually installed, so the builder falls back to
// weighted-Jaccard overlap otherwise), the configured toxicity backend, and
// cfg's scoring/behavioral thresholds.
func newProfileBuilder(cfg *config.CharcoalConfig, client *atproto.Client, engine *embedding.Engine, scorer toxicity.Scorer) *profile.Builder {
	b := &profile.Builder{
		Posts:     client,
		Scorer:    scorer,
		PostCount: 0,
		Thresholds: scoring.Thresholds{
			OverlapFloor:    cfg.Scoring.OverlapFloor,
			OverlapFloorCap: cfg.Scoring.OverlapFloorCap,
		},
		Behavioral: behavior.Thresholds{
			BenignQuoteMax: cfg.Scoring.BenignQuoteMax,
			BenignReplyMax: cfg.Scoring.BenignReplyMax,
		},
	}
	if engine.Available() {
		b.Embedder = engine
	}
	return b
}

// runAutoBackup snapshots the embedded database if cfg.Backup.AutoBackup is
// set and the configured backend is a local file (auto-backup has no
// meaning for the networked backend), then applies the configured retention
// policy. Failures are returned for the caller to log, not to fail the scan.
func runAutoBackup(cfg *config.CharcoalConfig) error {
	if !cfg.Backup.AutoBackup || cfg.Database.URL != "" {
		return nil
	}

	dir, err := backup.DefaultBackupDir()
	if err != nil {
		return fmt.Errorf("resolving backup directory: %w", err)
	}
	allowedDirs, err := pathutil.DefaultAllowedBackupDirs()
	if err != nil {
		return fmt.Errorf("resolving allowed backup directories: %w", err)
	}

	outputPath := backup.GenerateBackupPath(dir)
	if _, err := backup.Snapshot(cfg.Database.Path, outputPath, allowedDirs...); err != nil {
		return fmt.Errorf("snapshotting database: %w", err)
	}

	if policy := retentionPolicy(cfg); policy != nil {
		if _, err := backup.ApplyRetention(dir, policy); err != nil {
			return fmt.Errorf("applying backup retention: %w", err)
		}
	}
	return nil
}

// retentionPolicy builds the composite retention policy from cfg.Backup.
// Returns nil if no retention bounds are configured (keep everything).
func retentionPolicy(cfg *config.CharcoalConfig) backup.RetentionPolicy {
	var policies []backup.RetentionPolicy
	if cfg.Backup.Retention.MaxCount > 0 {
		policies = append(policies, &backup.CountPolicy{MaxCount: cfg.Backup.Retention.MaxCount})
	}
	if cfg.Backup.Retention.MaxAge != "" {
		if d, err := backup.ParseDuration(cfg.Backup.Retention.MaxAge); err == nil {
			policies = append(policies, &backup.AgePolicy{MaxAge: d})
		}
	}
	if cfg.Backup.Retention.MaxTotalSize != "" {
		if n, err := backup.ParseSize(cfg.Backup.Retention.MaxTotalSize); err == nil {
			policies = append(policies, &backup.SizePolicy{MaxTotalBytes: n})
		}
	}
	if len(policies) == 0 {
		return nil
	}
	if len(policies) == 1 {
		return policies[0]
	}
	return &backup.CompositePolicy{Policies: policies}
}
