// internal/sentinel/positions_file.go
package sentinel

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/solana-sentinel/internal/positions"
	"github.com/rovshanmuradov/solana-sentinel/internal/types"
)

// positionsFile is the on-disk structure of the positions YAML file.
type positionsFile struct {
	Positions []struct {
		PositionID          string  `yaml:"position_id"`
		TokenMint           string  `yaml:"token_mint"`
		UserID              string  `yaml:"user_id"`
		EntryPrice          string  `yaml:"entry_price"`
		TokenBalance        uint64  `yaml:"token_balance"`
		TakeProfitPercent   float64 `yaml:"take_profit_percent"`
		StopLossPercent     float64 `yaml:"stop_loss_percent"`
		TrailingStop        bool    `yaml:"trailing_stop"`
		SlippageType        string  `yaml:"slippage_type"`
		SlippageValue       float64 `yaml:"slippage_value"`
		Priority            string  `yaml:"priority"`
		UseRelay            bool    `yaml:"use_relay"`
		CheckOnRegistration bool    `yaml:"check_on_registration"`
	} `yaml:"positions"`
}

// PositionEntry pairs a position id with the options used to register it.
type PositionEntry struct {
	PositionID string
	Options    positions.StartOptions
}

func parseSlippageType(s string) (types.SlippageType, error) {
	switch t := types.SlippageType(s); t {
	case types.SlippageFixed, types.SlippagePercent, types.SlippageNone:
		return t, nil
	case "":
		return types.SlippagePercent, nil
	default:
		return "", fmt.Errorf("unsupported slippage type: %q", s)
	}
}

func parsePriority(s string) (types.PriorityLevel, error) {
	switch p := types.PriorityLevel(s); p {
	case types.PriorityLow, types.PriorityMedium, types.PriorityHigh, types.PriorityExtreme:
		return p, nil
	case "":
		return types.PriorityMedium, nil
	default:
		return "", fmt.Errorf("unsupported priority level: %q", s)
	}
}

// loadPositions reads position definitions from a YAML file.
func loadPositions(path string) ([]PositionEntry, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file positionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(file.Positions) == 0 {
		return nil, fmt.Errorf("no positions found in %s", path)
	}

	entries := make([]PositionEntry, 0, len(file.Positions))
	for i, p := range file.Positions {
		if p.PositionID == "" {
			return nil, fmt.Errorf("position %d: position_id is required", i+1)
		}

		entryPrice, err := decimal.NewFromString(p.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("position %q: invalid entry_price: %w", p.PositionID, err)
		}

		slippageType, err := parseSlippageType(p.SlippageType)
		if err != nil {
			return nil, fmt.Errorf("position %q: %w", p.PositionID, err)
		}
		priority, err := parsePriority(p.Priority)
		if err != nil {
			return nil, fmt.Errorf("position %q: %w", p.PositionID, err)
		}

		entries = append(entries, PositionEntry{
			PositionID: p.PositionID,
			Options: positions.StartOptions{
				TokenMint:     p.TokenMint,
				UserID:        p.UserID,
				EntryPrice:    entryPrice,
				TakeProfitPct: p.TakeProfitPercent,
				StopLossPct:   p.StopLossPercent,
				TrailingStop:  p.TrailingStop,
				TokenBalance:  p.TokenBalance,
				Slippage: types.SlippageConfig{
					Type:  slippageType,
					Value: p.SlippageValue,
				},
				Priority: priority,
				UseRelay: p.UseRelay,
				CheckNow: p.CheckOnRegistration,
			},
		})
	}
	return entries, nil
}
