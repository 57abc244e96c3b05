package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"foodledger/internal/manifest"
	"foodledger/internal/state"
)

// SnapshotIDLayout names snapshot directories by their UTC creation time.
const SnapshotIDLayout = "20060102T150405.000000000Z"

// Snapshot writes the current state and publishes it as the latest manifest.
// No operation can commit while the state is being dumped.
func (a *App) Snapshot(ctx context.Context) (manifest.Manifest, error) {
	id := a.Clock.Now().UTC().Format(SnapshotIDLayout)
	var dump state.Dump
	err := a.Ledger.WithLock(func() error {
		var err error
		dump, err = a.Snapshots.WriteSnapshot(id, a.Store)
		return err
	})
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("write snapshot: %w", err)
	}
	if err := a.Manifest.PublishLatest(ctx, id, dump.Meta.LastSeq); err != nil {
		return manifest.Manifest{}, fmt.Errorf("publish manifest: %w", err)
	}
	a.Metrics.SnapshotsWritten.Inc()
	a.Metrics.LastManifestAgeSec.Set(0)
	a.Logger.Info("snapshot and manifest published",
		zap.String("snapshot_id", id),
		zap.Int64("last_seq", dump.Meta.LastSeq),
		zap.Int("foods", len(dump.Foods)))
	return manifest.Manifest{SnapshotID: id, LastSeq: dump.Meta.LastSeq, CreatedAtEpochSecond: manifest.NowUnix()}, nil
}

// RunSnapshots snapshots every interval until ctx is done. Failures are logged and retried on the next tick.
func (a *App) RunSnapshots(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Snapshot(ctx); err != nil {
				a.Logger.Error("snapshot failed", zap.Error(err))
				a.Metrics.LastManifestAgeSec.Set(time.Since(last).Seconds())
				continue
			}
			last = time.Now()
		}
	}
}
