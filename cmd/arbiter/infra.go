package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/arbiter/internal/config"
	"github.com/yairfalse/arbiter/internal/emitter"
	"github.com/yairfalse/arbiter/internal/publish"
	"github.com/yairfalse/arbiter/policy"
	"github.com/yairfalse/arbiter/reconciler"
	"github.com/yairfalse/arbiter/storage"
	"github.com/yairfalse/arbiter/telemetry"
	"github.com/yairfalse/arbiter/wal"
)

// runInfra holds the optional components an analysis run is wired to
type runInfra struct {
	cfg       *config.Config
	history   *storage.History
	journal   *wal.WAL
	reviewer  *policy.Reviewer
	emitter   *emitter.MultiEmitter
	publisher *publish.S3Publisher
	shutdown  func(context.Context) error
}

// openInfra builds whatever the config enables. Close must be called even on error.
func openInfra(ctx context.Context, cfg *config.Config) (*runInfra, error) {
	infra := &runInfra{cfg: cfg}

	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: version,
		OTELEndpoint:   cfg.OTEL.Endpoint,
		Insecure:       cfg.OTEL.Insecure,
	})
	if err != nil {
		return infra, fmt.Errorf("init telemetry: %w", err)
	}
	infra.shutdown = shutdown

	if cfg.Storage.Path != "" {
		infra.history, err = storage.NewHistory(cfg.Storage.Path)
		if err != nil {
			return infra, fmt.Errorf("failed to open history: %w", err)
		}
	}

	if cfg.Journal.Dir != "" {
		infra.journal, err = wal.OpenWithConfig(cfg.Journal.Dir, journalConfig(cfg))
		if err != nil {
			return infra, fmt.Errorf("failed to open journal: %w", err)
		}
	}

	if cfg.Policy.Defaults || cfg.Policy.Dir != "" {
		infra.reviewer = policy.NewReviewer()
		if cfg.Policy.Defaults {
			if err := infra.reviewer.LoadDefaultPolicies(ctx); err != nil {
				return infra, err
			}
		}
		if cfg.Policy.Dir != "" {
			if err := infra.reviewer.LoadDir(ctx, cfg.Policy.Dir); err != nil {
				return infra, err
			}
		}
	}

	metrics, err := emitter.NewMetricsEmitter(nil)
	if err != nil {
		return infra, err
	}
	infra.emitter = emitter.NewMultiEmitter(emitter.NewLogEmitter(nil), metrics)

	if cfg.Publish.Bucket != "" {
		infra.publisher, err = publish.NewFromDefaultConfig(ctx, cfg.Publish.Bucket, cfg.Publish.Prefix, cfg.Publish.Region)
		if err != nil {
			return infra, fmt.Errorf("failed to create publisher: %w", err)
		}
	}

	return infra, nil
}

func journalConfig(cfg *config.Config) wal.Config {
	jc := wal.DefaultConfig()
	if cfg.Journal.MaxFileSize > 0 {
		jc.MaxFileSize = cfg.Journal.MaxFileSize
	}
	if cfg.Journal.RetentionDays > 0 {
		jc.RetentionDays = cfg.Journal.RetentionDays
	}
	return jc
}

// engine wires the enabled components into a run engine. Disabled
// components stay untyped nil so the engine sees them as absent.
func (i *runInfra) engine() (*reconciler.Engine, error) {
	var (
		reviewer reconciler.Reviewer
		history  reconciler.History
		journal  reconciler.Journal
		emit     reconciler.Emitter
	)
	if i.reviewer != nil {
		reviewer = i.reviewer
	}
	if i.history != nil {
		history = i.history
	}
	if i.journal != nil {
		journal = i.journal
	}
	if i.emitter != nil {
		emit = i.emitter
	}

	return reconciler.NewEngine(nil, nil, reviewer, history, journal, emit, reconciler.EngineOptions{
		Analyzer: i.cfg.AnalyzerConfig(),
		KeepRuns: i.cfg.Storage.KeepRuns,
	})
}

// Close releases everything in reverse order of opening
func (i *runInfra) Close(ctx context.Context) error {
	var errs []error

	if i.emitter != nil {
		errs = append(errs, i.emitter.Close())
	}
	if i.journal != nil {
		if health := i.journal.GetHealth(); !health.Healthy {
			log.Warn().Strs("issues", health.Issues).Msg("journal needs attention")
		}
		errs = append(errs, i.journal.Close())
		if stats, err := wal.Cleanup(i.journal.Dir(), journalConfig(i.cfg)); err != nil {
			log.Warn().Err(err).Msg("journal cleanup failed")
		} else if stats.FilesRemoved > 0 {
			log.Info().
				Int("files_removed", stats.FilesRemoved).
				Int64("bytes_freed", stats.BytesFreed).
				Msg("old journal files removed")
		}
	}
	if i.history != nil {
		errs = append(errs, i.history.Close())
	}
	if i.shutdown != nil {
		errs = append(errs, i.shutdown(ctx))
	}

	return errors.Join(errs...)
}
