// internal/positions/triggers.go
package positions

import "github.com/shopspring/decimal"

// TriggerType identifies which exit condition fired.
type TriggerType string

const (
	TriggerTakeProfit   TriggerType = "TAKE_PROFIT"
	TriggerStopLoss     TriggerType = "STOP_LOSS"
	TriggerTrailingStop TriggerType = "TRAILING_STOP"
)

// Trigger is the transient result of evaluating a position against the
// current price. It is handed to the exit executor and never persisted on
// its own.
type Trigger struct {
	Type         TriggerType
	TriggerPrice decimal.Decimal
	CurrentPrice decimal.Decimal
	HighestPrice *decimal.Decimal // trailing stop only
}

// evaluateTriggers checks exit conditions in fixed priority order and returns
// the first match, or nil. The thresholds cannot overlap under the state
// invariants, but the order stays fixed for determinism:
//
//  1. take-profit:   current >= takeProfitPrice
//  2. trailing stop: current <= highest * (stopLoss / entry)
//  3. stop-loss:     current <= stopLossPrice
func evaluateTriggers(s *State) *Trigger {
	price := s.CurrentPrice

	if s.TakeProfitPrice != nil && price.GreaterThanOrEqual(*s.TakeProfitPrice) {
		return &Trigger{
			Type:         TriggerTakeProfit,
			TriggerPrice: *s.TakeProfitPrice,
			CurrentPrice: price,
		}
	}

	if s.TrailingStop && s.HighestPrice != nil && s.StopLossPrice != nil {
		floor := trailingFloor(*s.HighestPrice, *s.StopLossPrice, s.EntryPrice)
		if price.LessThanOrEqual(floor) {
			high := *s.HighestPrice
			return &Trigger{
				Type:         TriggerTrailingStop,
				TriggerPrice: floor,
				CurrentPrice: price,
				HighestPrice: &high,
			}
		}
	}

	if s.StopLossPrice != nil && price.LessThanOrEqual(*s.StopLossPrice) {
		return &Trigger{
			Type:         TriggerStopLoss,
			TriggerPrice: *s.StopLossPrice,
			CurrentPrice: price,
		}
	}

	return nil
}

// trailingFloor preserves the original stop distance, scaled from the running
// high instead of the entry price: highest * (stopLoss / entry).
func trailingFloor(highest, stopLoss, entry decimal.Decimal) decimal.Decimal {
	return highest.Mul(stopLoss.Div(entry))
}
