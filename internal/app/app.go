// Package app wires configuration into a running ledger: store, changelog,
// snapshots, manifest, recovery and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"foodledger/internal/changelog"
	"foodledger/internal/clock"
	"foodledger/internal/config"
	"foodledger/internal/ledger"
	"foodledger/internal/manifest"
	"foodledger/internal/metrics"
	"foodledger/internal/model"
	"foodledger/internal/restore"
	"foodledger/internal/snapshot"
	"foodledger/internal/state"
)

const replayIdle = 5 * time.Second

// App owns the long-lived resources behind one ledger.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Registry
	Clock     clock.Clock
	Store     state.Store
	Ledger    *ledger.Ledger
	Snapshots *snapshot.FilesystemSnapshotter
	Manifest  manifest.Publisher
	Recovery  restore.RestoreResult

	closers []func() error
}

// Options overrides collaborators for tests.
type Options struct {
	Clock   clock.Clock
	Metrics *metrics.Registry
}

// New opens the store, recovers it from the latest snapshot and changelog, and opens the ledger.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   opts.Metrics,
		Clock:     opts.Clock,
		Snapshots: snapshot.NewFilesystemSnapshotter(cfg.Snapshot.Dir),
		Manifest:  ManifestPublisher(cfg),
	}
	if a.Metrics == nil {
		a.Metrics = metrics.NewRegistry()
	}
	if a.Clock == nil {
		a.Clock = clock.NewSystem()
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	st, closeStore, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, closeStore)

	a.Recovery, err = Recover(ctx, cfg, st, a.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}

	journal, closeJournal, err := OpenJournal(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeJournal)

	var deployer model.Identity
	if cfg.Deployer != "" {
		if deployer, err = model.ParseIdentity(cfg.Deployer); err != nil {
			return nil, fmt.Errorf("deployer: %w", err)
		}
	}
	a.Ledger, err = ledger.Open(ctx, st, deployer, ledger.Options{
		Clock:   a.Clock,
		Journal: journal,
		Metrics: a.Metrics,
		Logger:  logger.Named("ledger"),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the configured state backend.
func OpenStore(cfg config.StoreConfig) (state.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case config.BackendMemory:
		return state.NewInMemoryStore(), noop, nil
	case config.BackendPebble:
		ps, err := state.NewPebbleStore(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("init pebble: %w", err)
		}
		return ps, ps.Close, nil
	case config.BackendBadger:
		bs, err := state.NewBadgerStore(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("init badger: %w", err)
		}
		return bs, bs.Close, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("mkdir: %w", err)
		}
		ss, err := state.NewSQLiteStore(filepath.Join(cfg.Dir, "foodledger.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("init sqlite: %w", err)
		}
		return ss, ss.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// ChangelogPath is where the file changelog lives.
func ChangelogPath(cfg config.Config) string {
	return filepath.Join(cfg.Changelog.Dir, cfg.Changelog.File)
}

// OpenJournal builds the changelog writer for the configured sink. The writer is nil for "none".
func OpenJournal(cfg config.Config) (changelog.Writer, func() error, error) {
	closer := func() error { return nil }
	sink := cfg.Changelog.Sink
	var ws []changelog.Writer
	if sink == config.TargetFile || sink == config.TargetBoth {
		fw, err := changelog.NewFileWriter(cfg.Changelog.Dir, cfg.Changelog.File)
		if err != nil {
			return nil, nil, fmt.Errorf("init changelog file: %w", err)
		}
		ws = append(ws, fw)
	}
	if sink == config.TargetKafka || sink == config.TargetBoth {
		kw := changelog.NewKafkaWriter(cfg.Kafka.Bootstrap, cfg.Changelog.Topic)
		ws = append(ws, kw)
		closer = kw.Close
	}
	switch len(ws) {
	case 0:
		return nil, closer, nil
	case 1:
		return ws[0], closer, nil
	default:
		return changelog.NewMultiWriter(ws...), closer, nil
	}
}

// ManifestPublisher builds the publisher for the configured sink.
func ManifestPublisher(cfg config.Config) manifest.Publisher {
	fs := manifest.NewFilesystemManifest(cfg.Snapshot.Dir)
	switch cfg.Manifest.Sink {
	case config.TargetKafka:
		return manifest.NewKafkaManifest(cfg.Kafka.Bootstrap, cfg.Manifest.Topic, cfg.Manifest.Key)
	case config.TargetBoth:
		return manifest.MultiPublisher(fs, manifest.NewKafkaManifest(cfg.Kafka.Bootstrap, cfg.Manifest.Topic, cfg.Manifest.Key))
	default:
		return fs
	}
}

// ManifestReader builds the reader for the configured source.
func ManifestReader(cfg config.Config) manifest.Reader {
	if cfg.Manifest.Source == config.TargetKafka {
		return manifest.NewKafkaReader(changelog.SplitBrokers(cfg.Kafka.Bootstrap), cfg.Manifest.Topic, cfg.Manifest.Key)
	}
	return manifest.NewFilesystemManifest(cfg.Snapshot.Dir)
}

// Recover restores st from the latest snapshot and replays the configured changelog source on top.
func Recover(ctx context.Context, cfg config.Config, st state.Store, reg *metrics.Registry, logger *zap.Logger) (restore.RestoreResult, error) {
	start := time.Now()
	r := restore.NewRestorer(st, ManifestReader(cfg), cfg.Snapshot.Dir, ChangelogPath(cfg), logger.Named("restore"))

	var (
		res restore.RestoreResult
		err error
	)
	if cfg.Changelog.Source == config.TargetKafka {
		rd := restore.NewKafkaChangelogReader(changelog.SplitBrokers(cfg.Kafka.Bootstrap), cfg.Changelog.Topic)
		res, err = r.RestoreAndReplayKafka(ctx, rd, replayIdle)
	} else {
		res, err = r.RestoreAndReplay(ctx)
	}
	if err != nil {
		return res, err
	}
	if reg != nil {
		reg.Applied.Add(float64(res.Applied))
		reg.Skipped.Add(float64(res.Skipped))
		reg.TTRSec.Set(time.Since(start).Seconds())
	}
	return res, nil
}
