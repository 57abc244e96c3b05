package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodledger/internal/clock"
	"foodledger/internal/config"
	"foodledger/internal/ledger"
	"foodledger/internal/manifest"
	"foodledger/internal/model"
	"foodledger/internal/snapshot"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Deployer = "0xadmin"
	cfg.Store = config.StoreConfig{Backend: backend, Dir: filepath.Join(dir, "state")}
	cfg.Changelog.Dir = filepath.Join(dir, "changelog")
	cfg.Snapshot.Dir = filepath.Join(dir, "snapshots")
	require.NoError(t, cfg.Validate())
	return cfg
}

func open(t *testing.T, cfg config.Config, clk clock.Clock) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil, Options{Clock: clk})
	require.NoError(t, err)
	return a
}

func seed(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	ctx := context.Background()
	_, err := l.AddFood(ctx, "0xadmin", ledger.AddFoodInput{
		ID: 1, Name: "biryani", Quantity: 10, Price: model.MustParseAmount("0.1"), ExpiresAt: t0.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = l.BuyFood(ctx, "0xcustomer", 1, 2, model.MustParseAmount("0.2"))
	require.NoError(t, err)
}

func TestNew_MemoryStoreRecoversFromSnapshotAndChangelog(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	clk := clock.NewManual(t0)

	a := open(t, cfg, clk)
	seed(t, a.Ledger)
	m, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.LastSeq)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Metrics.SnapshotsWritten))

	// committed after the snapshot, only in the changelog
	_, err = a.Ledger.RestockFood(context.Background(), "0xadmin", 1, 5)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b := open(t, cfg, clk)
	defer b.Close()
	assert.Equal(t, m.SnapshotID, b.Recovery.SnapshotID)
	assert.Equal(t, 1, b.Recovery.Applied)

	f, err := b.Ledger.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(13), f.Quantity)
	assert.Equal(t, model.MustParseAmount("0.2"), b.Ledger.Balance())
	assert.Equal(t, model.Identity("0xadmin"), b.Ledger.Owner())
	assert.Equal(t, int64(4), b.Ledger.LastSeq())
}

func TestNew_DurableBackendsReopen(t *testing.T) {
	for _, backend := range []string{config.BackendPebble, config.BackendBadger, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)
			cfg.Changelog.Sink = config.TargetNone
			clk := clock.NewManual(t0)

			a := open(t, cfg, clk)
			seed(t, a.Ledger)
			require.NoError(t, a.Close())

			b := open(t, cfg, clk)
			defer b.Close()
			f, err := b.Ledger.GetFood(1)
			require.NoError(t, err)
			assert.Equal(t, uint64(8), f.Quantity)
			assert.Equal(t, int64(3), b.Ledger.LastSeq())
		})
	}
}

func TestSnapshot_WritesFileAndManifest(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	a := open(t, cfg, clock.NewManual(t0))
	defer a.Close()
	seed(t, a.Ledger)

	m, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "20260301T120000.000000000Z", m.SnapshotID)

	_, err = os.Stat(filepath.Join(cfg.Snapshot.Dir, m.SnapshotID, snapshot.FileName))
	require.NoError(t, err)
	latest, err := manifest.NewFilesystemManifest(cfg.Snapshot.Dir).ReadLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, m.SnapshotID, latest.SnapshotID)
	assert.Equal(t, int64(3), latest.LastSeq)

	dump, err := snapshot.Read(cfg.Snapshot.Dir, m.SnapshotID)
	require.NoError(t, err)
	require.Len(t, dump.Foods, 1)
	assert.Equal(t, uint64(8), dump.Foods[0].Quantity)
}

func TestNew_RequiresDeployerForEmptyStore(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.Deployer = ""
	_, err := New(context.Background(), cfg, nil, Options{})
	require.ErrorIs(t, err, model.ErrInvalidArgument)
}
