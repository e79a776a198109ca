// internal/positions/monitor_test.go
package positions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-sentinel/internal/storage"
	"github.com/rovshanmuradov/solana-sentinel/internal/storage/models"
	"github.com/rovshanmuradov/solana-sentinel/internal/wallet"
)

// stubFeed serves a configurable price or error per token mint.
type stubFeed struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
}

func (f *stubFeed) set(price decimal.Decimal, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
	f.err = err
}

func (f *stubFeed) Price(_ context.Context, _ string) (PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return PriceQuote{}, f.err
	}
	return PriceQuote{Price: f.price, ObservedAt: time.Now()}, nil
}

// memStore is an in-memory Storage for tests.
type memStore struct {
	mu       sync.Mutex
	monitors map[string]*models.MonitorState
	trades   []*models.Trade
}

func newMemStore() *memStore {
	return &memStore{monitors: make(map[string]*models.MonitorState)}
}

func (s *memStore) LoadMonitor(_ context.Context, positionID string) (*models.MonitorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[positionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) UpsertMonitor(_ context.Context, state *models.MonitorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.monitors[state.PositionID] = &cp
	return nil
}

func (s *memStore) UpdateStatus(_ context.Context, positionID string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.monitors[positionID]
	if !ok {
		return storage.ErrNotFound
	}
	m.Status = status
	return nil
}

func (s *memStore) SaveTrade(_ context.Context, trade *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}

func (s *memStore) ListTrades(_ context.Context, _ string, _, _ int) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Trade(nil), s.trades...), nil
}

func (s *memStore) RunMigrations() error { return nil }
func (s *memStore) Close() error         { return nil }

func (s *memStore) status(positionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.monitors[positionID]; ok {
		return m.Status
	}
	return ""
}

// stubExecutor records exit calls and returns a canned result.
type stubExecutor struct {
	mu     sync.Mutex
	calls  []*ExitParams
	result *ExitResult
	err    error
}

func (e *stubExecutor) ExecuteExit(_ context.Context, params *ExitParams) (*ExitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, params)
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func (e *stubExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func testKeys(t *testing.T, userIDs ...string) KeypairProvider {
	t.Helper()
	wallets := make(map[string]*wallet.Wallet, len(userIDs))
	for _, id := range userIDs {
		pk, err := solana.NewRandomPrivateKey()
		require.NoError(t, err)
		w, err := wallet.NewWallet(pk.String())
		require.NoError(t, err)
		wallets[id] = w
	}
	return wallet.NewProvider(wallets)
}

type monitorFixture struct {
	monitor *Monitor
	feed    *stubFeed
	store   *memStore
	exec    *stubExecutor
}

func newFixture(t *testing.T, cfg Config) *monitorFixture {
	t.Helper()
	feed := &stubFeed{price: decimal.NewFromFloat(1.0)}
	store := newMemStore()
	exec := &stubExecutor{result: &ExitResult{
		Signature:  "sig",
		PnLPercent: decimal.NewFromInt(50),
		Method:     "relay",
	}}
	m := NewMonitor(cfg, feed, store, exec, testKeys(t, "user-1"), zaptest.NewLogger(t))
	return &monitorFixture{monitor: m, feed: feed, store: store, exec: exec}
}

func TestStartMonitoringTwiceFails(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, fx.monitor.StartMonitoring(ctx, "pos-1", baseOptions()))
	assert.ErrorIs(t, fx.monitor.StartMonitoring(ctx, "pos-1", baseOptions()), ErrAlreadyMonitoring)
}

func TestStopMonitoringUnknownPosition(t *testing.T) {
	fx := newFixture(t, Config{})
	assert.ErrorIs(t, fx.monitor.StopMonitoring(context.Background(), "missing"), ErrPositionNotFound)
}

func TestStopMonitoringPersistsPaused(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, fx.monitor.StartMonitoring(ctx, "pos-1", baseOptions()))
	require.NoError(t, fx.monitor.StopMonitoring(ctx, "pos-1"))

	_, tracked := fx.monitor.GetMonitorState("pos-1")
	assert.False(t, tracked)
	assert.Equal(t, string(StatusPaused), fx.store.status("pos-1"))
}

func TestCheckNowExecutesExitOnTakeProfit(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.feed.set(decimal.NewFromFloat(2.0), nil)

	opts := baseOptions()
	opts.CheckNow = true
	require.NoError(t, fx.monitor.StartMonitoring(context.Background(), "pos-1", opts))

	require.Equal(t, 1, fx.exec.callCount())
	params := fx.exec.calls[0]
	assert.Equal(t, TriggerTakeProfit, params.Trigger.Type)
	assert.Equal(t, StatusExiting, params.State.Status)
	assert.Equal(t, 1, params.State.ExitAttempts)
	require.NotNil(t, params.Wallet)

	// The position leaves the active set once the executor returns.
	_, tracked := fx.monitor.GetMonitorState("pos-1")
	assert.False(t, tracked)
}

func TestNoExitWithoutTrigger(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.feed.set(decimal.NewFromFloat(1.2), nil)

	opts := baseOptions()
	opts.CheckNow = true
	require.NoError(t, fx.monitor.StartMonitoring(context.Background(), "pos-1", opts))

	assert.Equal(t, 0, fx.exec.callCount())
	st, tracked := fx.monitor.GetMonitorState("pos-1")
	require.True(t, tracked)
	assert.Equal(t, StatusActive, st.Status)
	assert.True(t, st.CurrentPrice.Equal(decimal.NewFromFloat(1.2)))
}

func TestStalePriceWithinCeilingKeepsPositionActive(t *testing.T) {
	fx := newFixture(t, Config{StalenessCeiling: time.Minute})
	ctx := context.Background()

	opts := baseOptions()
	opts.CheckNow = true
	require.NoError(t, fx.monitor.StartMonitoring(ctx, "pos-1", opts))

	fx.feed.set(decimal.Zero, errors.New("rpc unavailable"))
	st, _ := fx.monitor.GetMonitorState("pos-1")
	checks := st.PriceChecks

	fx.monitor.mu.RLock()
	tracked := fx.monitor.active["pos-1"]
	fx.monitor.mu.RUnlock()
	fx.monitor.checkPosition(ctx, tracked)

	st, ok := fx.monitor.GetMonitorState("pos-1")
	require.True(t, ok)
	assert.Equal(t, StatusActive, st.Status)
	// Failed fetch never counts as a price observation.
	assert.Equal(t, checks, st.PriceChecks)
}

func TestStalePriceBeyondCeilingPausesPosition(t *testing.T) {
	fx := newFixture(t, Config{StalenessCeiling: 10 * time.Millisecond})
	ctx := context.Background()

	opts := baseOptions()
	opts.CheckNow = true
	require.NoError(t, fx.monitor.StartMonitoring(ctx, "pos-1", opts))

	time.Sleep(20 * time.Millisecond)
	fx.feed.set(decimal.Zero, errors.New("rpc unavailable"))

	fx.monitor.mu.RLock()
	tracked := fx.monitor.active["pos-1"]
	fx.monitor.mu.RUnlock()
	fx.monitor.checkPosition(ctx, tracked)

	_, ok := fx.monitor.GetMonitorState("pos-1")
	assert.False(t, ok)
	assert.Equal(t, string(StatusPaused), fx.store.status("pos-1"))
	assert.Equal(t, 0, fx.exec.callCount())
}

func TestExitWithoutSigningKeyFailsPosition(t *testing.T) {
	feed := &stubFeed{price: decimal.NewFromFloat(2.0)}
	store := newMemStore()
	exec := &stubExecutor{}
	m := NewMonitor(Config{}, feed, store, exec, wallet.NewProvider(nil), zaptest.NewLogger(t))

	opts := baseOptions()
	opts.CheckNow = true
	require.NoError(t, m.StartMonitoring(context.Background(), "pos-1", opts))

	assert.Equal(t, 0, exec.callCount())
	_, ok := m.GetMonitorState("pos-1")
	assert.False(t, ok)
	assert.Equal(t, string(StatusFailed), store.status("pos-1"))
}

func TestStartMonitoringResumesPausedPosition(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, fx.monitor.StartMonitoring(ctx, "pos-1", baseOptions()))
	require.NoError(t, fx.monitor.StopMonitoring(ctx, "pos-1"))

	require.NoError(t, fx.monitor.StartMonitoring(ctx, "pos-1", baseOptions()))
	st, ok := fx.monitor.GetMonitorState("pos-1")
	require.True(t, ok)
	assert.Equal(t, StatusActive, st.Status)
}

func TestStartMonitoringRejectsTerminalPosition(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := context.Background()

	st, err := newState("pos-1", baseOptions())
	require.NoError(t, err)
	st.Status = StatusCompleted
	require.NoError(t, fx.store.UpsertMonitor(ctx, st.toModel()))

	err = fx.monitor.StartMonitoring(ctx, "pos-1", baseOptions())
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestSweepChecksAllActivePositions(t *testing.T) {
	fx := newFixture(t, Config{MaxConcurrentChecks: 2})
	ctx := context.Background()
	fx.feed.set(decimal.NewFromFloat(1.2), nil)

	for _, id := range []string{"pos-1", "pos-2", "pos-3", "pos-4", "pos-5"} {
		require.NoError(t, fx.monitor.StartMonitoring(ctx, id, baseOptions()))
	}

	fx.monitor.sweep(ctx)

	for _, st := range fx.monitor.ActiveMonitors() {
		assert.Equal(t, int64(1), st.PriceChecks, "position %s not checked", st.PositionID)
	}
}

func TestSnapshotReadersDuringChecks(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := context.Background()
	fx.feed.set(decimal.NewFromFloat(1.2), nil)

	require.NoError(t, fx.monitor.StartMonitoring(ctx, "pos-1", baseOptions()))

	fx.monitor.mu.RLock()
	tracked := fx.monitor.active["pos-1"]
	fx.monitor.mu.RUnlock()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if st, ok := fx.monitor.GetMonitorState("pos-1"); ok {
					_ = st.CurrentPrice.String()
				}
				for _, st := range fx.monitor.ActiveMonitors() {
					_ = st.PriceChecks
				}
			}
		}
	}()

	for i := 0; i < 50; i++ {
		fx.monitor.checkPosition(ctx, tracked)
	}
	close(stop)
	wg.Wait()

	st, ok := fx.monitor.GetMonitorState("pos-1")
	require.True(t, ok)
	assert.Equal(t, int64(50), st.PriceChecks)
}

func TestOverlappingChecksSubmitExitOnce(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := context.Background()
	fx.feed.set(decimal.NewFromFloat(2.0), nil)

	require.NoError(t, fx.monitor.StartMonitoring(ctx, "pos-1", baseOptions()))

	fx.monitor.mu.RLock()
	tracked := fx.monitor.active["pos-1"]
	fx.monitor.mu.RUnlock()

	// A registration-time check and a sweep tick can both hold the same
	// position; only one may claim the EXITING transition.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fx.monitor.checkPosition(ctx, tracked)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fx.exec.callCount())
	assert.Equal(t, 1, fx.exec.calls[0].State.ExitAttempts)
	_, ok := fx.monitor.GetMonitorState("pos-1")
	assert.False(t, ok)
}

func TestGlobalMonitoringLifecycle(t *testing.T) {
	fx := newFixture(t, Config{Interval: 10 * time.Millisecond})
	fx.feed.set(decimal.NewFromFloat(1.2), nil)

	require.NoError(t, fx.monitor.StartMonitoring(context.Background(), "pos-1", baseOptions()))

	fx.monitor.StartGlobalMonitoring()
	assert.True(t, fx.monitor.IsMonitoring())

	assert.Eventually(t, func() bool {
		st, ok := fx.monitor.GetMonitorState("pos-1")
		return ok && st.PriceChecks > 0
	}, time.Second, 5*time.Millisecond)

	fx.monitor.StopGlobalMonitoring()
	assert.False(t, fx.monitor.IsMonitoring())
}
