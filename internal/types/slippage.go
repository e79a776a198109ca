// internal/types/slippage.go
package types

import "math"

// SlippageType selects the min-amount-out policy applied to an exit swap.
type SlippageType string

const (
	// SlippageFixed uses a fixed minAmountOut value.
	SlippageFixed SlippageType = "fixed"
	// SlippagePercent derives minAmountOut as a percentage of the expected output.
	SlippagePercent SlippageType = "percent"
	// SlippageNone disables the minAmountOut constraint.
	SlippageNone SlippageType = "none"
)

// SlippageConfig configures the slippage policy.
type SlippageConfig struct {
	Type SlippageType `json:"type"`
	// Value meaning depends on Type:
	// - SlippageFixed: the exact minAmountOut
	// - SlippagePercent: tolerated slippage percent (1.0 = 1%)
	// - SlippageNone: ignored
	Value float64 `json:"value"`
}

// CalculateMinAmountOut computes minAmountOut under the configured policy.
func CalculateMinAmountOut(expectedAmount float64, config SlippageConfig) uint64 {
	switch config.Type {
	case SlippageFixed:
		return uint64(config.Value)
	case SlippagePercent:
		multiplier := 1.0 - (config.Value / 100.0)
		return uint64(math.Floor(expectedAmount * multiplier))
	case SlippageNone:
		// 1 keeps downstream validation happy without constraining the swap.
		return 1
	default:
		return 1
	}
}
