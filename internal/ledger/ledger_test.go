package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodledger/internal/changelog"
	"foodledger/internal/clock"
	"foodledger/internal/metrics"
	"foodledger/internal/model"
	"foodledger/internal/state"
)

const (
	admin    model.Identity = "0xadmin"
	customer model.Identity = "0xcustomer"
	heir     model.Identity = "0xheir"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingJournal struct {
	mu      sync.Mutex
	entries []changelog.Entry
	fail    error
}

func (r *recordingJournal) Append(_ context.Context, e changelog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.entries = append(r.entries, e)
	return nil
}

type fixture struct {
	l       *Ledger
	st      *state.InMemoryStore
	clk     *clock.Manual
	journal *recordingJournal
	reg     *metrics.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:      state.NewInMemoryStore(),
		clk:     clock.NewManual(t0),
		journal: &recordingJournal{},
		reg:     metrics.NewRegistry(),
	}
	l, err := Open(context.Background(), f.st, admin, Options{
		Clock:   f.clk,
		Journal: f.journal,
		Metrics: f.reg,
	})
	require.NoError(t, err)
	f.l = l
	return f
}

func biryani() AddFoodInput {
	return AddFoodInput{
		ID:        1,
		Name:      "biryani",
		Quantity:  10,
		Price:     model.MustParseAmount("1.0"),
		ExpiresAt: t0.Add(48 * time.Hour),
	}
}

func (f *fixture) add(t *testing.T, in AddFoodInput) model.Food {
	t.Helper()
	food, err := f.l.AddFood(context.Background(), admin, in)
	require.NoError(t, err)
	return food
}

func TestOpen_InitializesOwner(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, admin, f.l.Owner())
	assert.Equal(t, int64(1), f.l.LastSeq())
	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, changelog.OpInitialize, f.journal.entries[0].Op)

	meta, err := f.st.Meta()
	require.NoError(t, err)
	assert.Equal(t, admin, meta.Owner)
}

func TestOpen_RejectsNullDeployer(t *testing.T) {
	for _, d := range []model.Identity{"", model.ZeroAddress} {
		_, err := Open(context.Background(), state.NewInMemoryStore(), d, Options{})
		require.ErrorIs(t, err, model.ErrInvalidArgument, "deployer %q", d)
	}
}

func TestOpen_ReloadsExistingLedger(t *testing.T) {
	f := newFixture(t)
	f.add(t, biryani())
	require.NoError(t, f.l.TransferOwnership(context.Background(), admin, heir))

	// deployer is ignored once the store has an owner
	reopened, err := Open(context.Background(), f.st, customer, Options{Clock: f.clk})
	require.NoError(t, err)
	assert.Equal(t, heir, reopened.Owner())
	assert.Equal(t, f.l.LastSeq(), reopened.LastSeq())

	got, err := reopened.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Quantity)

	_, err = reopened.RestockFood(context.Background(), admin, 1, 1)
	require.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestBiryaniScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.add(t, biryani())
	got, err := f.l.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Quantity)
	assert.Equal(t, model.MustParseAmount("1"), got.Price)
	assert.True(t, got.IsAdded)

	_, err = f.l.UpdatePrice(ctx, admin, 1, model.MustParseAmount("0.1"))
	require.NoError(t, err)
	got, err = f.l.BuyFood(ctx, customer, 1, 1, model.MustParseAmount("0.1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.Quantity)

	_, err = f.l.UpdatePrice(ctx, admin, 1, model.MustParseAmount("0.2"))
	require.NoError(t, err)
	got, err = f.l.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, "0.2", got.Price.String())

	got, err = f.l.RestockFood(ctx, admin, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), got.Quantity)

	require.NoError(t, f.l.TransferOwnership(ctx, admin, heir))
	assert.Equal(t, heir, f.l.Owner())

	_, err = f.l.RestockFood(ctx, admin, 1, 5)
	require.ErrorIs(t, err, model.ErrUnauthorized)
	got, err = f.l.RestockFood(ctx, heir, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), got.Quantity)

	assert.Equal(t, model.MustParseAmount("0.1"), f.l.Balance())
}

func TestAddFood_RecordsExactFields(t *testing.T) {
	f := newFixture(t)
	in := AddFoodInput{ID: 42, Name: "dal", Quantity: 0, Price: 0, ExpiresAt: t0.Add(time.Second)}
	f.add(t, in)

	got, err := f.l.GetFood(42)
	require.NoError(t, err)
	assert.Equal(t, model.Food{ID: 42, Name: "dal", ExpiresAt: in.ExpiresAt, IsAdded: true}, got)
}

func TestAddFood_FarFutureExpiry(t *testing.T) {
	f := newFixture(t)
	in := biryani()
	in.ExpiresAt = time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC)
	f.add(t, in)

	got, err := f.l.GetFood(1)
	require.NoError(t, err)
	assert.True(t, in.ExpiresAt.Equal(got.ExpiresAt))
	_, err = f.l.BuyFood(context.Background(), customer, 1, 1, model.MustParseAmount("1"))
	require.NoError(t, err)

	in.ID = 2
	in.ExpiresAt = model.MaxExpiresAt
	f.add(t, in)
}

func TestAddFood_Rejections(t *testing.T) {
	f := newFixture(t)
	f.add(t, biryani())

	cases := []struct {
		name   string
		caller model.Identity
		in     func(AddFoodInput) AddFoodInput
		want   error
	}{
		{"non-admin", customer, func(in AddFoodInput) AddFoodInput { in.ID = 2; return in }, model.ErrUnauthorized},
		{"duplicate", admin, func(in AddFoodInput) AddFoodInput { in.Name = "other"; return in }, model.ErrItemAlreadyExists},
		{"zero id", admin, func(in AddFoodInput) AddFoodInput { in.ID = 0; return in }, model.ErrInvalidArgument},
		{"empty name", admin, func(in AddFoodInput) AddFoodInput { in.ID = 2; in.Name = " "; return in }, model.ErrInvalidArgument},
		{"expires now", admin, func(in AddFoodInput) AddFoodInput { in.ID = 2; in.ExpiresAt = t0; return in }, model.ErrInvalidArgument},
		{"expired", admin, func(in AddFoodInput) AddFoodInput { in.ID = 2; in.ExpiresAt = t0.Add(-time.Hour); return in }, model.ErrInvalidArgument},
		{"beyond year 9999", admin, func(in AddFoodInput) AddFoodInput {
			in.ID = 2
			in.ExpiresAt = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)
			return in
		}, model.ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := f.l.LastSeq()
			_, err := f.l.AddFood(context.Background(), tc.caller, tc.in(biryani()))
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, before, f.l.LastSeq())
		})
	}

	got, err := f.l.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, "biryani", got.Name)
	_, err = f.l.GetFood(2)
	require.ErrorIs(t, err, model.ErrItemNotFound)
}

func TestBuyFood_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, biryani())
	one := model.MustParseAmount("1")

	cases := []struct {
		name    string
		id      uint64
		units   uint64
		payment model.Amount
		want    error
	}{
		{"unknown id", 7, 1, one, model.ErrItemNotFound},
		{"zero units", 1, 0, 0, model.ErrInvalidArgument},
		{"too many", 1, 11, model.MustParseAmount("11"), model.ErrInsufficientStock},
		{"underpay", 1, 2, model.MustParseAmount("1.999999999"), model.ErrIncorrectPayment},
		{"overpay", 1, 2, model.MustParseAmount("2.000000001"), model.ErrIncorrectPayment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.l.BuyFood(ctx, customer, tc.id, tc.units, tc.payment)
			require.ErrorIs(t, err, tc.want)
		})
	}

	got, err := f.l.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Quantity)
	assert.Equal(t, model.Amount(0), f.l.Balance())
	assert.Equal(t, 5.0, testutil.ToFloat64(f.reg.Ops.WithLabelValues("buyFood", "ok"))+
		testutil.ToFloat64(f.reg.Ops.WithLabelValues("buyFood", "item_not_found"))+
		testutil.ToFloat64(f.reg.Ops.WithLabelValues("buyFood", "invalid_argument"))+
		testutil.ToFloat64(f.reg.Ops.WithLabelValues("buyFood", "insufficient_stock"))+
		testutil.ToFloat64(f.reg.Ops.WithLabelValues("buyFood", "incorrect_payment")))
}

func TestBuyFood_Expiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, biryani())

	f.clk.Advance(48*time.Hour - time.Nanosecond)
	_, err := f.l.BuyFood(ctx, customer, 1, 1, model.MustParseAmount("1"))
	require.NoError(t, err)

	f.clk.Advance(time.Nanosecond)
	_, err = f.l.BuyFood(ctx, customer, 1, 1, model.MustParseAmount("1"))
	require.ErrorIs(t, err, model.ErrItemExpired)

	// expired stock can still be read
	got, err := f.l.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.Quantity)
}

func TestBuyFood_ExpiryCheckedBeforeStock(t *testing.T) {
	f := newFixture(t)
	f.add(t, biryani())
	f.clk.Advance(72 * time.Hour)

	_, err := f.l.BuyFood(context.Background(), customer, 1, 100, 0)
	require.ErrorIs(t, err, model.ErrItemExpired)
}

func TestBuyFood_OverflowingTotalIsIncorrectPayment(t *testing.T) {
	f := newFixture(t)
	in := biryani()
	in.Quantity = math.MaxUint64
	in.Price = model.Amount(math.MaxUint64)
	f.add(t, in)

	_, err := f.l.BuyFood(context.Background(), customer, 1, 2, model.Amount(math.MaxUint64))
	require.ErrorIs(t, err, model.ErrIncorrectPayment)
}

func TestBuyFood_BalanceOverflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := biryani()
	in.Price = model.Amount(math.MaxUint64)
	f.add(t, in)

	_, err := f.l.BuyFood(ctx, customer, 1, 1, model.Amount(math.MaxUint64))
	require.NoError(t, err)
	_, err = f.l.BuyFood(ctx, customer, 1, 1, model.Amount(math.MaxUint64))
	require.ErrorIs(t, err, model.ErrOverflow)

	got, err := f.l.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.Quantity)
}

func TestBuyFood_RepeatedPurchasesSubtract(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, biryani())

	want := uint64(10)
	for _, units := range []uint64{1, 3, 2, 4} {
		payment, ok := model.Total(model.MustParseAmount("1"), units)
		require.True(t, ok)
		got, err := f.l.BuyFood(ctx, customer, 1, units, payment)
		require.NoError(t, err)
		want -= units
		assert.Equal(t, want, got.Quantity)
	}
	_, err := f.l.BuyFood(ctx, customer, 1, 1, model.MustParseAmount("1"))
	require.ErrorIs(t, err, model.ErrInsufficientStock)

	assert.Equal(t, model.MustParseAmount("10"), f.l.Balance())
	assert.Equal(t, 10.0, testutil.ToFloat64(f.reg.UnitsSold))
}

func TestUpdatePrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, biryani())

	_, err := f.l.UpdatePrice(ctx, customer, 1, 0)
	require.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = f.l.UpdatePrice(ctx, admin, 9, 0)
	require.ErrorIs(t, err, model.ErrItemNotFound)

	_, err = f.l.BuyFood(ctx, customer, 1, 1, model.MustParseAmount("1"))
	require.NoError(t, err)
	_, err = f.l.UpdatePrice(ctx, admin, 1, model.MustParseAmount("2.5"))
	require.NoError(t, err)

	got, err := f.l.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, model.MustParseAmount("2.5"), got.Price)

	// old price no longer accepted, prior payment untouched
	_, err = f.l.BuyFood(ctx, customer, 1, 1, model.MustParseAmount("1"))
	require.ErrorIs(t, err, model.ErrIncorrectPayment)
	assert.Equal(t, model.MustParseAmount("1"), f.l.Balance())
}

func TestRestockFood(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, biryani())

	_, err := f.l.RestockFood(ctx, customer, 1, 1)
	require.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = f.l.RestockFood(ctx, admin, 2, 1)
	require.ErrorIs(t, err, model.ErrItemNotFound)
	_, err = f.l.RestockFood(ctx, admin, 1, 0)
	require.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = f.l.RestockFood(ctx, admin, 1, 3)
	require.NoError(t, err)
	got, err := f.l.RestockFood(ctx, admin, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), got.Quantity)

	_, err = f.l.RestockFood(ctx, admin, 1, math.MaxUint64-16)
	require.ErrorIs(t, err, model.ErrOverflow)
	got, err = f.l.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(17), got.Quantity)
}

func TestTransferOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.ErrorIs(t, f.l.TransferOwnership(ctx, customer, customer), model.ErrUnauthorized)
	require.ErrorIs(t, f.l.TransferOwnership(ctx, admin, ""), model.ErrInvalidArgument)
	require.ErrorIs(t, f.l.TransferOwnership(ctx, admin, model.ZeroAddress), model.ErrInvalidArgument)
	assert.Equal(t, admin, f.l.Owner())

	require.NoError(t, f.l.TransferOwnership(ctx, admin, heir))
	assert.Equal(t, heir, f.l.Owner())

	_, err := f.l.AddFood(ctx, admin, biryani())
	require.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = f.l.AddFood(ctx, heir, biryani())
	require.NoError(t, err)
	require.ErrorIs(t, f.l.TransferOwnership(ctx, admin, admin), model.ErrUnauthorized)
}

func TestTransferOwnership_RejectsIdentityNoCallerCanPresent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	before := len(f.journal.entries)

	for _, next := range []model.Identity{"bob smith", " 0xheir", "0xheir\t"} {
		require.ErrorIs(t, f.l.TransferOwnership(ctx, admin, next), model.ErrInvalidArgument, "next=%q", next)
	}
	assert.Equal(t, admin, f.l.Owner())
	assert.Len(t, f.journal.entries, before)

	// the administrator keeps working
	f.add(t, biryani())
}

func TestJournalFailureRejectsOperation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, biryani())
	before := f.l.LastSeq()

	f.journal.fail = errors.New("broker down")
	_, err := f.l.RestockFood(ctx, admin, 1, 5)
	require.Error(t, err)
	assert.Equal(t, "internal", model.ErrorCode(err))

	got, err := f.l.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Quantity)
	assert.Equal(t, before, f.l.LastSeq())

	f.journal.fail = nil
	_, err = f.l.RestockFood(ctx, admin, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, before+1, f.l.LastSeq())
}

// flakyStore fails the next Apply once.
type flakyStore struct {
	*state.InMemoryStore
	failNext error
}

func (s *flakyStore) Apply(c state.Commit) (bool, error) {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return false, err
	}
	return s.InMemoryStore.Apply(c)
}

func TestStoreFailureAfterJournalHaltsLedger(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{InMemoryStore: state.NewInMemoryStore()}
	journal := &recordingJournal{}
	clk := clock.NewManual(t0)
	l, err := Open(ctx, st, admin, Options{Clock: clk, Journal: journal})
	require.NoError(t, err)

	samosa := biryani()
	samosa.ID, samosa.Name = 2, "samosa"
	_, err = l.AddFood(ctx, admin, biryani())
	require.NoError(t, err)
	_, err = l.AddFood(ctx, admin, samosa)
	require.NoError(t, err)

	st.failNext = errors.New("disk io")
	_, err = l.BuyFood(ctx, customer, 1, 1, model.MustParseAmount("1"))
	require.ErrorIs(t, err, ErrHalted)
	assert.Equal(t, "internal", model.ErrorCode(err))
	journaled := len(journal.entries)

	_, err = l.BuyFood(ctx, customer, 2, 1, model.MustParseAmount("1"))
	require.ErrorIs(t, err, ErrHalted)
	require.ErrorIs(t, l.TransferOwnership(ctx, admin, heir), ErrHalted)
	assert.Len(t, journal.entries, journaled, "a halted ledger journals nothing")

	// reopening over the replayed journal yields a consistent ledger
	replica := state.NewInMemoryStore()
	for _, e := range journal.entries {
		_, err := replica.Apply(e.Commit())
		require.NoError(t, err)
	}
	reopened, err := Open(ctx, replica, admin, Options{Clock: clk})
	require.NoError(t, err)

	first, err := reopened.GetFood(1)
	require.NoError(t, err)
	second, err := reopened.GetFood(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), first.Quantity)
	assert.Equal(t, uint64(10), second.Quantity)
	assert.Equal(t, model.MustParseAmount("1"), reopened.Balance())

	_, err = reopened.BuyFood(ctx, customer, 2, 1, model.MustParseAmount("1"))
	require.NoError(t, err)
	assert.Equal(t, model.MustParseAmount("2"), reopened.Balance())
}

func TestJournalEntriesMatchStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, biryani())
	_, err := f.l.BuyFood(ctx, customer, 1, 2, model.MustParseAmount("2"))
	require.NoError(t, err)

	require.Len(t, f.journal.entries, 3)
	buy := f.journal.entries[2]
	assert.Equal(t, changelog.OpBuyFood, buy.Op)
	assert.Equal(t, customer, buy.Caller)
	assert.Equal(t, int64(3), buy.Seq)
	assert.Equal(t, uint64(2), buy.Units)
	assert.Equal(t, model.MustParseAmount("2"), buy.Payment)
	assert.Equal(t, t0, buy.At)
	assert.NotEmpty(t, buy.TxID)

	// replaying the journal into a fresh store reproduces the live state
	replica := state.NewInMemoryStore()
	for _, e := range f.journal.entries {
		applied, err := replica.Apply(e.Commit())
		require.NoError(t, err)
		require.True(t, applied)
	}
	want, err := state.Snapshot(f.st)
	require.NoError(t, err)
	got, err := state.Snapshot(replica)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConcurrentBuysNeverOversell(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, biryani())

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.l.BuyFood(ctx, customer, 1, 1, model.MustParseAmount("1")); err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, model.ErrInsufficientStock)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, sold)
	got, err := f.l.GetFood(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.Quantity)
	assert.Equal(t, model.MustParseAmount("10"), f.l.Balance())
}

func TestListFoods_OrderedByID(t *testing.T) {
	f := newFixture(t)
	for _, id := range []uint64{3, 1, 2} {
		in := biryani()
		in.ID = id
		f.add(t, in)
	}
	foods, err := f.l.ListFoods()
	require.NoError(t, err)
	require.Len(t, foods, 3)
	for i, food := range foods {
		assert.Equal(t, uint64(i+1), food.ID)
	}
}
