package types

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"go.uber.org/zap"
)

type PriorityLevel string

const (
	PriorityLow     PriorityLevel = "low"
	PriorityMedium  PriorityLevel = "medium"
	PriorityHigh    PriorityLevel = "high"
	PriorityExtreme PriorityLevel = "extreme"
)

// PriorityConfig describes the compute budget attached to a transaction.
type PriorityConfig struct {
	ComputeUnits uint32 // compute unit limit
	PriorityFee  uint64 // price per compute unit, micro-lamports
	HeapSize     uint32 // additional heap, optional
}

// PriorityManager maps fee tiers to compute-budget instructions.
type PriorityManager struct {
	profiles map[PriorityLevel]*PriorityConfig
	logger   *zap.Logger
}

func NewPriorityManager(logger *zap.Logger) *PriorityManager {
	return &PriorityManager{
		profiles: map[PriorityLevel]*PriorityConfig{
			PriorityLow: {
				ComputeUnits: 200_000,
				PriorityFee:  1_000,
			},
			PriorityMedium: {
				ComputeUnits: 400_000,
				PriorityFee:  5_000,
			},
			PriorityHigh: {
				ComputeUnits: 800_000,
				PriorityFee:  10_000,
			},
			PriorityExtreme: {
				ComputeUnits: 1_000_000,
				PriorityFee:  50_000,
				HeapSize:     32 * 1024,
			},
		},
		logger: logger,
	}
}

func (pm *PriorityManager) CreatePriorityInstructions(level PriorityLevel) ([]solana.Instruction, error) {
	config, ok := pm.profiles[level]
	if !ok {
		return nil, fmt.Errorf("unknown priority level: %s", level)
	}
	return pm.createInstructions(config)
}

func (pm *PriorityManager) CreateCustomPriorityInstructions(priorityFee uint64, units uint32) ([]solana.Instruction, error) {
	return pm.createInstructions(&PriorityConfig{
		ComputeUnits: units,
		PriorityFee:  priorityFee,
	})
}

func (pm *PriorityManager) createInstructions(config *PriorityConfig) ([]solana.Instruction, error) {
	var instructions []solana.Instruction

	if config.ComputeUnits > 0 {
		inst := computebudget.NewSetComputeUnitLimitInstruction(config.ComputeUnits).Build()
		instructions = append(instructions, inst)
	}
	if config.PriorityFee > 0 {
		inst := computebudget.NewSetComputeUnitPriceInstruction(config.PriorityFee).Build()
		instructions = append(instructions, inst)
	}
	if config.HeapSize > 0 {
		inst := computebudget.NewRequestHeapFrameInstruction(config.HeapSize).Build()
		instructions = append(instructions, inst)
	}

	return instructions, nil
}
