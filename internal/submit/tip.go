// internal/submit/tip.go
package submit

// Tip tiers in lamports, keyed to trade size. The relay only prioritizes
// bundles whose tip is worth the auction, so small trades pay the floor and
// large trades pay up for inclusion.
const (
	tipTierMinimum uint64 = 10_000
	tipTierLow     uint64 = 100_000
	tipTierMedium  uint64 = 1_000_000
	tipTierHigh    uint64 = 5_000_000
)

// Trade-size boundaries in SOL.
const (
	tipSizeLow    = 0.1
	tipSizeMedium = 1.0
	tipSizeHigh   = 5.0
)

// TipConfig bounds the computed tip regardless of tier.
type TipConfig struct {
	MinTip uint64
	MaxTip uint64
}

// TipForTradeSize returns the lamport tip for a trade of the given SOL size,
// clamped to the configured [MinTip, MaxTip] range.
func (tc TipConfig) TipForTradeSize(tradeSizeSOL float64) uint64 {
	var tip uint64
	switch {
	case tradeSizeSOL < tipSizeLow:
		tip = tipTierMinimum
	case tradeSizeSOL <= tipSizeMedium:
		tip = tipTierLow
	case tradeSizeSOL <= tipSizeHigh:
		tip = tipTierMedium
	default:
		tip = tipTierHigh
	}

	if tc.MinTip > 0 && tip < tc.MinTip {
		tip = tc.MinTip
	}
	if tc.MaxTip > 0 && tip > tc.MaxTip {
		tip = tc.MaxTip
	}
	return tip
}
