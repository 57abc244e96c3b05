package restore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"foodledger/internal/changelog"
	"foodledger/internal/manifest"
	"foodledger/internal/snapshot"
	"foodledger/internal/state"
)

type Restorer struct {
	stateStore      state.Store
	manifestReader  manifest.Reader
	snapshotBaseDir string
	changelogPath   string
	logger          *zap.Logger
}

func NewRestorer(st state.Store, mr manifest.Reader, snapshotBaseDir, changelogPath string, logger *zap.Logger) *Restorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Restorer{
		stateStore:      st,
		manifestReader:  mr,
		snapshotBaseDir: snapshotBaseDir,
		changelogPath:   changelogPath,
		logger:          logger,
	}
}

type RestoreResult struct {
	SnapshotID string
	Applied    int
	Skipped    int
	LastSeq    int64
	Error      error
}

func (r *Restorer) RestoreFromSnapshot(snapshotID string) error {
	if snapshotID == "" {
		return nil
	}
	dump, err := snapshot.Read(r.snapshotBaseDir, snapshotID)
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("snapshot not found, skipping", zap.String("snapshot_id", snapshotID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if err := r.stateStore.LoadAll(dump); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	r.logger.Info("loaded snapshot",
		zap.String("snapshot_id", snapshotID),
		zap.Int("foods", len(dump.Foods)),
		zap.Int64("last_seq", dump.Meta.LastSeq))
	return nil
}

// replayer applies entries newer than fromSeq; older ones are already in the snapshot.
type replayer struct {
	store   state.Store
	fromSeq int64
	res     RestoreResult
}

func (p *replayer) apply(raw []byte) error {
	var e changelog.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return fmt.Errorf("unmarshal entry: %w", err)
	}
	if e.Seq <= p.fromSeq {
		return nil
	}
	ok, err := p.store.Apply(e.Commit())
	if err != nil {
		return fmt.Errorf("apply seq %d: %w", e.Seq, err)
	}
	if ok {
		p.res.Applied++
		p.res.LastSeq = e.Seq
	} else {
		p.res.Skipped++
	}
	return nil
}

func (r *Restorer) ReplayChangelog(changelogPath string, fromSeq int64) RestoreResult {
	file, err := os.Open(changelogPath)
	if errors.Is(err, os.ErrNotExist) {
		return RestoreResult{}
	}
	if err != nil {
		return RestoreResult{Error: fmt.Errorf("open changelog: %w", err)}
	}
	defer file.Close()

	p := &replayer{store: r.stateStore, fromSeq: fromSeq}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := p.apply(scanner.Bytes()); err != nil {
			p.res.Error = fmt.Errorf("line %d: %w", lineNum, err)
			return p.res
		}
	}
	if err := scanner.Err(); err != nil {
		p.res.Error = fmt.Errorf("scan changelog: %w", err)
	}
	return p.res
}

// kafkaMessageReader abstracts kafka.Reader for testability.
type kafkaMessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewKafkaChangelogReader opens partition 0 of the changelog topic from the beginning.
func NewKafkaChangelogReader(brokers []string, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
}

// ReplayChangelogKafka consumes entries until no message arrives within idle.
func (r *Restorer) ReplayChangelogKafka(ctx context.Context, rd kafkaMessageReader, fromSeq int64, idle time.Duration) RestoreResult {
	defer rd.Close()
	p := &replayer{store: r.stateStore, fromSeq: fromSeq}
	for {
		readCtx, cancel := context.WithTimeout(ctx, idle)
		m, err := rd.ReadMessage(readCtx)
		timedOut := readCtx.Err() != nil
		cancel()
		if err != nil {
			if timedOut || ctx.Err() != nil {
				return p.res
			}
			p.res.Error = fmt.Errorf("read kafka: %w", err)
			return p.res
		}
		if err := p.apply(m.Value); err != nil {
			p.res.Error = err
			return p.res
		}
	}
}

// prepare reads the manifest and loads its snapshot unless the store already holds
// that state. It returns the seq replay must start after.
func (r *Restorer) prepare(ctx context.Context) (manifest.Manifest, int64, error) {
	m, err := r.manifestReader.ReadLatest(ctx)
	switch {
	case errors.Is(err, manifest.ErrNoManifest):
		r.logger.Info("no manifest, replaying full changelog")
	case err != nil:
		return manifest.Manifest{}, 0, fmt.Errorf("read manifest: %w", err)
	}

	meta, err := r.stateStore.Meta()
	if err != nil {
		return m, 0, fmt.Errorf("read meta: %w", err)
	}
	if meta.LastSeq >= m.LastSeq && m.SnapshotID != "" {
		r.logger.Info("store is at or past the snapshot, not loading it",
			zap.String("snapshot_id", m.SnapshotID),
			zap.Int64("store_seq", meta.LastSeq),
			zap.Int64("snapshot_seq", m.LastSeq))
		return m, meta.LastSeq, nil
	}
	if err := r.RestoreFromSnapshot(m.SnapshotID); err != nil {
		return m, 0, fmt.Errorf("restore snapshot: %w", err)
	}

	// A missing snapshot leaves the store behind the manifest; replay from what it holds.
	meta, err = r.stateStore.Meta()
	if err != nil {
		return m, 0, fmt.Errorf("read meta: %w", err)
	}
	return m, meta.LastSeq, nil
}

// RestoreAndReplay loads the latest snapshot and replays the file changelog on top.
// Without a manifest the whole changelog is replayed onto the current store.
func (r *Restorer) RestoreAndReplay(ctx context.Context) (RestoreResult, error) {
	m, fromSeq, err := r.prepare(ctx)
	if err != nil {
		return RestoreResult{}, err
	}
	result := r.ReplayChangelog(r.changelogPath, fromSeq)
	return r.finish(m, result)
}

// RestoreAndReplayKafka is RestoreAndReplay with the changelog read from Kafka.
func (r *Restorer) RestoreAndReplayKafka(ctx context.Context, rd kafkaMessageReader, idle time.Duration) (RestoreResult, error) {
	m, fromSeq, err := r.prepare(ctx)
	if err != nil {
		_ = rd.Close()
		return RestoreResult{}, err
	}
	result := r.ReplayChangelogKafka(ctx, rd, fromSeq, idle)
	return r.finish(m, result)
}

func (r *Restorer) finish(m manifest.Manifest, result RestoreResult) (RestoreResult, error) {
	result.SnapshotID = m.SnapshotID
	if result.Error == nil {
		r.logger.Info("replay completed",
			zap.String("snapshot_id", m.SnapshotID),
			zap.Int("applied", result.Applied),
			zap.Int("skipped", result.Skipped))
	}
	return result, result.Error
}
