// internal/positions/state.go
package positions

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-sentinel/internal/storage/models"
	"github.com/rovshanmuradov/solana-sentinel/internal/types"
)

// Status is the lifecycle phase of a watched position.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPaused    Status = "PAUSED"
	StatusExiting   Status = "EXITING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// State is the in-memory monitor record for one open position. The monitor
// owns it while the position is in the active set; persistence mirrors it
// best-effort after every check.
type State struct {
	PositionID string
	TokenMint  string
	UserID     string

	EntryPrice      decimal.Decimal
	CurrentPrice    decimal.Decimal
	LastPriceUpdate *time.Time

	TakeProfitPrice *decimal.Decimal // nil = take-profit disabled
	StopLossPrice   *decimal.Decimal // nil = stop-loss disabled
	TrailingStop    bool
	HighestPrice    *decimal.Decimal // non-decreasing while ACTIVE

	PriceChecks  int64
	ExitAttempts int
	LastCheckAt  *time.Time

	Status Status

	TokenBalance uint64
	Slippage     types.SlippageConfig
	Priority     types.PriorityLevel
	UseRelay     bool

	LastTrigger TriggerType
	LastError   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StartOptions configures monitoring for one position. Percentages of zero
// disable the corresponding threshold.
type StartOptions struct {
	TokenMint     string
	UserID        string
	EntryPrice    decimal.Decimal
	TakeProfitPct float64
	StopLossPct   float64
	TrailingStop  bool
	TokenBalance  uint64
	Slippage      types.SlippageConfig
	Priority      types.PriorityLevel
	UseRelay      bool
	CheckNow      bool
}

var oneHundred = decimal.NewFromInt(100)

// newState builds a fresh monitor state, deriving the trigger prices from the
// percentage configuration:
//
//	takeProfit = entry * (1 + tp%/100)
//	stopLoss   = entry * (1 - sl%/100)
func newState(positionID string, opts StartOptions) (*State, error) {
	if opts.TokenMint == "" {
		return nil, fmt.Errorf("%w: token mint is empty", ErrInvalidConfiguration)
	}
	if opts.UserID == "" {
		return nil, fmt.Errorf("%w: user id is empty", ErrInvalidConfiguration)
	}
	if !opts.EntryPrice.IsPositive() {
		return nil, fmt.Errorf("%w: entry price must be positive", ErrInvalidConfiguration)
	}
	if opts.TakeProfitPct < 0 || opts.StopLossPct < 0 || opts.StopLossPct >= 100 {
		return nil, fmt.Errorf("%w: percentage thresholds out of range", ErrInvalidConfiguration)
	}
	if opts.TrailingStop && opts.StopLossPct == 0 {
		return nil, fmt.Errorf("%w: trailing stop requires a stop-loss distance", ErrInvalidConfiguration)
	}

	now := time.Now().UTC()
	st := &State{
		PositionID:   positionID,
		TokenMint:    opts.TokenMint,
		UserID:       opts.UserID,
		EntryPrice:   opts.EntryPrice,
		TrailingStop: opts.TrailingStop,
		Status:       StatusActive,
		TokenBalance: opts.TokenBalance,
		Slippage:     opts.Slippage,
		Priority:     opts.Priority,
		UseRelay:     opts.UseRelay,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if opts.TakeProfitPct > 0 {
		tp := opts.EntryPrice.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(opts.TakeProfitPct).Div(oneHundred)))
		st.TakeProfitPrice = &tp
	}
	if opts.StopLossPct > 0 {
		sl := opts.EntryPrice.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(opts.StopLossPct).Div(oneHundred)))
		st.StopLossPrice = &sl
	}

	return st, nil
}

// snapshot returns a copy safe to hand to callers.
func (s *State) snapshot() State {
	cp := *s
	if s.TakeProfitPrice != nil {
		v := *s.TakeProfitPrice
		cp.TakeProfitPrice = &v
	}
	if s.StopLossPrice != nil {
		v := *s.StopLossPrice
		cp.StopLossPrice = &v
	}
	if s.HighestPrice != nil {
		v := *s.HighestPrice
		cp.HighestPrice = &v
	}
	if s.LastPriceUpdate != nil {
		v := *s.LastPriceUpdate
		cp.LastPriceUpdate = &v
	}
	if s.LastCheckAt != nil {
		v := *s.LastCheckAt
		cp.LastCheckAt = &v
	}
	return cp
}

// observePrice folds a fresh price observation into the state, seeding or
// raising the trailing high-water mark.
func (s *State) observePrice(price decimal.Decimal, observedAt time.Time) {
	s.CurrentPrice = price
	s.LastPriceUpdate = &observedAt
	s.PriceChecks++
	now := time.Now().UTC()
	s.LastCheckAt = &now
	s.UpdatedAt = now

	if s.TrailingStop && (s.HighestPrice == nil || price.GreaterThan(*s.HighestPrice)) {
		high := price
		s.HighestPrice = &high
	}
}

// toModel converts to the persistence record, rendering prices as exact
// decimal strings.
func (s *State) toModel() *models.MonitorState {
	m := &models.MonitorState{
		PositionID:      s.PositionID,
		TokenMint:       s.TokenMint,
		UserID:          s.UserID,
		EntryPrice:      s.EntryPrice.String(),
		CurrentPrice:    s.CurrentPrice.String(),
		LastPriceUpdate: s.LastPriceUpdate,
		TrailingStop:    s.TrailingStop,
		PriceChecks:     s.PriceChecks,
		ExitAttempts:    s.ExitAttempts,
		LastCheckAt:     s.LastCheckAt,
		Status:          string(s.Status),
		TokenBalance:    s.TokenBalance,
		SlippageType:    string(s.Slippage.Type),
		SlippageValue:   s.Slippage.Value,
		PriorityLevel:   string(s.Priority),
		UseRelay:        s.UseRelay,
		LastTrigger:     string(s.LastTrigger),
		LastError:       s.LastError,
	}
	m.CreatedAt = s.CreatedAt
	m.UpdatedAt = s.UpdatedAt

	if s.TakeProfitPrice != nil {
		v := s.TakeProfitPrice.String()
		m.TakeProfitPrice = &v
	}
	if s.StopLossPrice != nil {
		v := s.StopLossPrice.String()
		m.StopLossPrice = &v
	}
	if s.HighestPrice != nil {
		v := s.HighestPrice.String()
		m.HighestPrice = &v
	}
	return m
}

// stateFromModel rebuilds in-memory state from a persisted record.
func stateFromModel(m *models.MonitorState) (*State, error) {
	entry, err := decimal.NewFromString(m.EntryPrice)
	if err != nil {
		return nil, fmt.Errorf("corrupt entry price %q: %w", m.EntryPrice, err)
	}

	st := &State{
		PositionID:      m.PositionID,
		TokenMint:       m.TokenMint,
		UserID:          m.UserID,
		EntryPrice:      entry,
		LastPriceUpdate: m.LastPriceUpdate,
		TrailingStop:    m.TrailingStop,
		PriceChecks:     m.PriceChecks,
		ExitAttempts:    m.ExitAttempts,
		LastCheckAt:     m.LastCheckAt,
		Status:          Status(m.Status),
		TokenBalance:    m.TokenBalance,
		Slippage: types.SlippageConfig{
			Type:  types.SlippageType(m.SlippageType),
			Value: m.SlippageValue,
		},
		Priority:    types.PriorityLevel(m.PriorityLevel),
		UseRelay:    m.UseRelay,
		LastTrigger: TriggerType(m.LastTrigger),
		LastError:   m.LastError,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}

	if m.CurrentPrice != "" {
		current, err := decimal.NewFromString(m.CurrentPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt current price %q: %w", m.CurrentPrice, err)
		}
		st.CurrentPrice = current
	}

	if m.TakeProfitPrice != nil {
		tp, err := decimal.NewFromString(*m.TakeProfitPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt take-profit price %q: %w", *m.TakeProfitPrice, err)
		}
		st.TakeProfitPrice = &tp
	}
	if m.StopLossPrice != nil {
		sl, err := decimal.NewFromString(*m.StopLossPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt stop-loss price %q: %w", *m.StopLossPrice, err)
		}
		st.StopLossPrice = &sl
	}
	if m.HighestPrice != nil {
		high, err := decimal.NewFromString(*m.HighestPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt highest price %q: %w", *m.HighestPrice, err)
		}
		st.HighestPrice = &high
	}

	return st, nil
}
