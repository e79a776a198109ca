// internal/positions/monitor.go
package positions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-sentinel/internal/events"
	"github.com/rovshanmuradov/solana-sentinel/internal/logger"
	"github.com/rovshanmuradov/solana-sentinel/internal/storage"
	"github.com/rovshanmuradov/solana-sentinel/internal/storage/models"
	"github.com/rovshanmuradov/solana-sentinel/internal/wallet"
)

// PriceQuote is one observation from a price feed.
type PriceQuote struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

// PriceFeed supplies the current price for a token. It may fail or return
// stale data; the monitor decides what is still usable.
type PriceFeed interface {
	Price(ctx context.Context, tokenMint string) (PriceQuote, error)
}

// KeypairProvider resolves the signing key for a user. A nil wallet means the
// user cannot sign, which is fatal for the exit attempt.
type KeypairProvider interface {
	Keypair(userID string) *wallet.Wallet
}

// ExitParams carries everything the executor needs to close a position.
type ExitParams struct {
	State   *State
	Trigger Trigger
	Wallet  *wallet.Wallet
}

// ExitResult is the signed outcome of a completed exit.
type ExitResult struct {
	Signature  string
	PnLPercent decimal.Decimal
	Method     string
}

// ExitExecutor builds, signs and submits the closing trade. It owns the
// terminal durable status (COMPLETED or FAILED) of the position.
type ExitExecutor interface {
	ExecuteExit(ctx context.Context, params *ExitParams) (*ExitResult, error)
}

// Config tunes the monitor's sweep loop.
type Config struct {
	Interval            time.Duration // sweep period, default 5s
	MaxConcurrentChecks int           // batch size, default 10
	StalenessCeiling    time.Duration // max usable price age, default 30s
	PriceTimeout        time.Duration // per-fetch timeout, default 10s
	PersistTimeout      time.Duration // per-write timeout, default 5s
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.MaxConcurrentChecks <= 0 {
		c.MaxConcurrentChecks = 10
	}
	if c.StalenessCeiling <= 0 {
		c.StalenessCeiling = 30 * time.Second
	}
	if c.PriceTimeout <= 0 {
		c.PriceTimeout = 10 * time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
}

// position pairs one State with the lock guarding its mutable fields. The
// registry lock on Monitor protects map membership only; every read or write
// of price fields, counters and status goes through this lock, so a sweep
// check, a registration-time check and a snapshot reader can overlap on the
// same position safely. Identity fields (PositionID, TokenMint, UserID,
// EntryPrice, thresholds) are written once before the position is shared and
// are read without it.
type position struct {
	mu sync.RWMutex
	st *State
}

func (p *position) snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.st.snapshot()
}

// Monitor owns the authoritative in-memory set of watched positions and
// drives each through price evaluation to exit. All collaborators come in
// through the constructor; there is no ambient global instance.
type Monitor struct {
	cfg    Config
	feed   PriceFeed
	store  storage.Storage
	exec   ExitExecutor
	keys   KeypairProvider
	logger *zap.Logger
	bus    *events.Bus

	mu     sync.RWMutex
	active map[string]*position

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMonitor(cfg Config, feed PriceFeed, store storage.Storage, exec ExitExecutor, keys KeypairProvider, logger *zap.Logger) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		cfg:    cfg,
		feed:   feed,
		store:  store,
		exec:   exec,
		keys:   keys,
		logger: logger.Named("monitor"),
		active: make(map[string]*position),
	}
}

// SetEventBus enables lifecycle event publication. Optional; a nil bus means
// no events are emitted.
func (m *Monitor) SetEventBus(bus *events.Bus) {
	m.bus = bus
}

func (m *Monitor) publish(event events.Event) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(event)
}

// StartGlobalMonitoring launches the recurring sweep loop. Calling it while
// already running is a no-op with a warning.
func (m *Monitor) StartGlobalMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.logger.Warn("Global monitoring already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.runLoop(ctx)

	m.logger.Info("Global monitoring started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Int("max_concurrent_checks", m.cfg.MaxConcurrentChecks))
}

// StopGlobalMonitoring stops the sweep loop. No new sweep starts afterwards;
// a sweep already underway is allowed to finish. Calling it while stopped is
// a no-op with a warning.
func (m *Monitor) StopGlobalMonitoring() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.logger.Warn("Global monitoring is not running")
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("Global monitoring stopped")
}

// IsMonitoring reports whether the global loop is running.
func (m *Monitor) IsMonitoring() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// runLoop fires a sweep every interval. The timer is rearmed only after the
// sweep finishes, so ticks never overlap even when a batch is slow.
func (m *Monitor) runLoop(ctx context.Context) {
	defer close(m.done)

	timer := time.NewTimer(m.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.sweep(ctx)
			timer.Reset(m.cfg.Interval)
		}
	}
}

// sweep snapshots the active set and checks it in batches of at most
// MaxConcurrentChecks, waiting for each batch before starting the next. This
// caps outstanding price-feed calls and, transitively, exit attempts.
func (m *Monitor) sweep(ctx context.Context) {
	m.mu.RLock()
	batch := make([]*position, 0, len(m.active))
	for _, p := range m.active {
		batch = append(batch, p)
	}
	m.mu.RUnlock()

	if len(batch) == 0 {
		return
	}

	m.logger.Debug("Sweep started", zap.Int("positions", len(batch)))

	size := m.cfg.MaxConcurrentChecks
	for start := 0; start < len(batch); start += size {
		end := start + size
		if end > len(batch) {
			end = len(batch)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, p := range batch[start:end] {
			p := p
			g.Go(func() error {
				// Per-position failures are logged inside the check and never
				// abort the rest of the sweep.
				m.checkPosition(gctx, p)
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			return
		}
	}
}

// StartMonitoring begins watching a position, loading persisted state when it
// exists or constructing fresh state from the options.
func (m *Monitor) StartMonitoring(ctx context.Context, positionID string, opts StartOptions) error {
	m.mu.Lock()
	if _, exists := m.active[positionID]; exists {
		m.mu.Unlock()
		return ErrAlreadyMonitoring
	}
	m.mu.Unlock()

	st, err := m.loadOrCreateState(ctx, positionID, opts)
	if err != nil {
		return err
	}

	// The record is built before the state is shared with the sweep loop.
	rec := st.toModel()
	p := &position{st: st}

	m.mu.Lock()
	if _, exists := m.active[positionID]; exists {
		m.mu.Unlock()
		return ErrAlreadyMonitoring
	}
	m.active[positionID] = p
	m.mu.Unlock()

	m.persist(ctx, rec)

	m.logger.Info("📊 Monitoring started",
		zap.String("position_id", positionID),
		zap.String("token", st.TokenMint),
		zap.String("entry_price", st.EntryPrice.String()),
		zap.Bool("trailing_stop", st.TrailingStop))

	m.publish(events.PositionRegisteredEvent{
		BaseEvent:    events.At(events.PositionRegistered),
		PositionID:   positionID,
		TokenMint:    st.TokenMint,
		EntryPrice:   st.EntryPrice.String(),
		TrailingStop: st.TrailingStop,
	})

	if opts.CheckNow {
		m.checkPosition(ctx, p)
	}
	return nil
}

func (m *Monitor) loadOrCreateState(ctx context.Context, positionID string, opts StartOptions) (*State, error) {
	record, err := m.store.LoadMonitor(ctx, positionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return newState(positionID, opts)
	case err != nil:
		return nil, err
	}

	st, err := stateFromModel(record)
	if err != nil {
		return nil, err
	}
	if st.Status == StatusCompleted || st.Status == StatusFailed {
		return nil, fmt.Errorf("%w: position %s already terminal (%s)",
			ErrInvalidConfiguration, positionID, st.Status)
	}

	st.Status = StatusActive
	if opts.TokenBalance > 0 {
		st.TokenBalance = opts.TokenBalance
	}
	return st, nil
}

// StopMonitoring removes the position from the active set and persists it as
// PAUSED, from which monitoring can be restarted later.
func (m *Monitor) StopMonitoring(ctx context.Context, positionID string) error {
	m.mu.Lock()
	p, exists := m.active[positionID]
	if !exists {
		m.mu.Unlock()
		return ErrPositionNotFound
	}
	delete(m.active, positionID)
	m.mu.Unlock()

	// A sweep check holding this position from its batch snapshot re-reads
	// the status under the same lock and backs off.
	p.mu.Lock()
	p.st.Status = StatusPaused
	p.mu.Unlock()

	if err := m.store.UpdateStatus(ctx, positionID, string(StatusPaused)); err != nil {
		m.logger.Error("Failed to persist paused status",
			zap.String("position_id", positionID),
			zap.Error(err))
	}

	m.logger.Info("🛑 Monitoring stopped", zap.String("position_id", positionID))
	m.publish(events.PositionPausedEvent{
		BaseEvent:  events.At(events.PositionPaused),
		PositionID: positionID,
		Reason:     "operator",
	})
	return nil
}

// GetMonitorState returns a snapshot of one tracked position.
func (m *Monitor) GetMonitorState(positionID string) (State, bool) {
	m.mu.RLock()
	p, exists := m.active[positionID]
	m.mu.RUnlock()

	if !exists {
		return State{}, false
	}
	return p.snapshot(), true
}

// ActiveMonitors returns snapshots of every tracked position.
func (m *Monitor) ActiveMonitors() []State {
	m.mu.RLock()
	tracked := make([]*position, 0, len(m.active))
	for _, p := range m.active {
		tracked = append(tracked, p)
	}
	m.mu.RUnlock()

	out := make([]State, 0, len(tracked))
	for _, p := range tracked {
		out = append(out, p.snapshot())
	}
	return out
}

// checkPosition runs one full evaluation cycle for a position: fetch price,
// fold it into state, persist, evaluate triggers and hand off to the executor
// when one fires. Trigger evaluation and the ACTIVE to EXITING transition
// happen under the position lock, so two overlapping checks on the same
// position can never both claim the exit.
func (m *Monitor) checkPosition(ctx context.Context, p *position) {
	p.mu.RLock()
	active := p.st.Status == StatusActive
	p.mu.RUnlock()
	if !active {
		return
	}

	log := logger.WithPosition(m.logger, p.st.PositionID, p.st.TokenMint)

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.PriceTimeout)
	quote, err := m.feed.Price(fetchCtx, p.st.TokenMint)
	cancel()

	if err != nil {
		m.handlePriceFailure(ctx, p, err, log)
		return
	}

	p.mu.Lock()
	if p.st.Status != StatusActive {
		p.mu.Unlock()
		return
	}
	p.st.observePrice(quote.Price, quote.ObservedAt)
	observed := p.st.toModel()

	trigger := evaluateTriggers(p.st)
	var claimed *models.MonitorState
	if trigger != nil {
		p.st.Status = StatusExiting
		p.st.LastTrigger = trigger.Type
		claimed = p.st.toModel()
	}
	p.mu.Unlock()

	m.persist(ctx, observed)

	if trigger == nil {
		return
	}

	log.Info("🎯 Exit trigger fired",
		zap.String("type", string(trigger.Type)),
		zap.String("trigger_price", trigger.TriggerPrice.String()),
		zap.String("current_price", trigger.CurrentPrice.String()))

	m.publish(events.ExitTriggeredEvent{
		BaseEvent:    events.At(events.ExitTriggered),
		PositionID:   p.st.PositionID,
		TokenMint:    p.st.TokenMint,
		Trigger:      string(trigger.Type),
		TriggerPrice: trigger.TriggerPrice.String(),
		CurrentPrice: trigger.CurrentPrice.String(),
	})

	m.persist(ctx, claimed)
	m.executeExit(ctx, p, trigger, log)
}

// handlePriceFailure applies the staleness policy: a previous price within
// the ceiling is still usable (degraded); beyond the ceiling the position is
// paused and no triggers are evaluated this tick.
func (m *Monitor) handlePriceFailure(ctx context.Context, p *position, fetchErr error, log *zap.Logger) {
	p.mu.Lock()
	if p.st.Status != StatusActive {
		p.mu.Unlock()
		return
	}
	if p.st.LastPriceUpdate == nil {
		p.mu.Unlock()
		log.Error("Price fetch failed with no prior observation", zap.Error(fetchErr))
		return
	}

	age := time.Since(*p.st.LastPriceUpdate)
	if age <= m.cfg.StalenessCeiling {
		now := time.Now().UTC()
		p.st.LastCheckAt = &now
		p.st.UpdatedAt = now

		trigger := evaluateTriggers(p.st)
		if trigger != nil {
			p.st.Status = StatusExiting
			p.st.LastTrigger = trigger.Type
		}
		rec := p.st.toModel()
		p.mu.Unlock()

		log.Warn("⚠️ Price fetch failed, evaluating with stale price",
			zap.Duration("age", age),
			zap.Error(fetchErr))
		m.persist(ctx, rec)

		if trigger != nil {
			m.executeExit(ctx, p, trigger, log)
		}
		return
	}

	p.st.Status = StatusPaused
	rec := p.st.toModel()
	p.mu.Unlock()

	log.Warn("Price data beyond staleness ceiling, pausing position",
		zap.Duration("age", age),
		zap.Duration("ceiling", m.cfg.StalenessCeiling))

	m.persist(ctx, rec)
	m.remove(p.st.PositionID)
	m.publish(events.PositionPausedEvent{
		BaseEvent:  events.At(events.PositionPaused),
		PositionID: p.st.PositionID,
		Reason:     "stale_price",
	})
}

// executeExit resolves the signing key and hands off to the executor. The
// position leaves the active set whatever the result; the executor records
// the terminal durable status.
func (m *Monitor) executeExit(ctx context.Context, p *position, trigger *Trigger, log *zap.Logger) {
	w := m.keys.Keypair(p.st.UserID)
	if w == nil {
		log.Error("Cannot exit position", zap.Error(ErrSigningUnavailable))
		p.mu.Lock()
		p.st.Status = StatusFailed
		p.st.LastError = ErrSigningUnavailable.Error()
		attempts := p.st.ExitAttempts
		rec := p.st.toModel()
		p.mu.Unlock()

		m.persist(ctx, rec)
		m.remove(p.st.PositionID)
		m.publish(events.ExitFailedEvent{
			BaseEvent:  events.At(events.ExitFailed),
			PositionID: p.st.PositionID,
			Attempts:   attempts,
			Error:      ErrSigningUnavailable.Error(),
		})
		return
	}

	p.mu.Lock()
	p.st.ExitAttempts++
	attempts := p.st.ExitAttempts
	p.mu.Unlock()

	// From here the state is EXITING and no sweep mutates it; the executor
	// reads it from its own goroutine only.
	result, err := m.exec.ExecuteExit(ctx, &ExitParams{
		State:   p.st,
		Trigger: *trigger,
		Wallet:  w,
	})
	m.remove(p.st.PositionID)

	if err != nil {
		log.Error("Exit execution failed",
			zap.Int("attempts", attempts),
			zap.Error(err))
		m.publish(events.ExitFailedEvent{
			BaseEvent:  events.At(events.ExitFailed),
			PositionID: p.st.PositionID,
			Attempts:   attempts,
			Error:      err.Error(),
		})
		return
	}

	log.Info("✅ Position exited",
		zap.String("signature", result.Signature),
		zap.String("pnl_percent", result.PnLPercent.StringFixed(2)),
		zap.String("method", result.Method))
	m.publish(events.ExitCompletedEvent{
		BaseEvent:  events.At(events.ExitCompleted),
		PositionID: p.st.PositionID,
		Signature:  result.Signature,
		Method:     result.Method,
		PnLPercent: result.PnLPercent.StringFixed(2),
	})
}

func (m *Monitor) remove(positionID string) {
	m.mu.Lock()
	delete(m.active, positionID)
	m.mu.Unlock()
}

// persist mirrors a state record to storage. Failures are logged only: the
// in-memory state stays the source of truth between ticks and the next tick
// re-persists.
func (m *Monitor) persist(ctx context.Context, rec *models.MonitorState) {
	writeCtx, cancel := context.WithTimeout(ctx, m.cfg.PersistTimeout)
	defer cancel()

	if err := m.store.UpsertMonitor(writeCtx, rec); err != nil {
		m.logger.Error("Failed to persist monitor state",
			zap.String("position_id", rec.PositionID),
			zap.Error(err))
	}
}
