// internal/executor/executor.go
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sentinel/internal/logger"
	"github.com/rovshanmuradov/solana-sentinel/internal/positions"
	"github.com/rovshanmuradov/solana-sentinel/internal/storage"
	"github.com/rovshanmuradov/solana-sentinel/internal/storage/models"
	"github.com/rovshanmuradov/solana-sentinel/internal/submit"
	"github.com/rovshanmuradov/solana-sentinel/internal/types"
)

// DefaultTokenDecimals is assumed when token metadata is unavailable.
const DefaultTokenDecimals = 6

const lamportsPerSOL = 1_000_000_000

// CloseRequest asks the quote provider for an unsigned transaction that
// closes the position back into SOL.
type CloseRequest struct {
	TokenMint            string
	TokenBalance         uint64
	MinAmountOut         uint64
	Payer                solana.PublicKey
	PriorityInstructions []solana.Instruction
}

// QuoteProvider is the external pricing/route collaborator that builds the
// underlying swap transaction. Its internals are not this package's concern.
type QuoteProvider interface {
	BuildCloseTransaction(ctx context.Context, req *CloseRequest) (*solana.Transaction, error)
}

// Submitter lands a signed transaction on-chain.
type Submitter interface {
	Submit(ctx context.Context, req *submit.Request, mode submit.Mode) (*submit.Outcome, error)
}

// Executor turns an exit trigger into a confirmed closing trade and records
// the terminal durable status of the position.
type Executor struct {
	quotes    QuoteProvider
	submitter Submitter
	store     storage.Storage
	priority  *types.PriorityManager
	logger    *zap.Logger
}

func New(quotes QuoteProvider, submitter Submitter, store storage.Storage, logger *zap.Logger) *Executor {
	return &Executor{
		quotes:    quotes,
		submitter: submitter,
		store:     store,
		priority:  types.NewPriorityManager(logger),
		logger:    logger.Named("executor"),
	}
}

// ExecuteExit builds the closing swap, signs it and submits it. On success
// the position is persisted COMPLETED with its realized PnL; on failure it is
// persisted FAILED with the trigger and error retained for diagnosis.
func (e *Executor) ExecuteExit(ctx context.Context, params *positions.ExitParams) (*positions.ExitResult, error) {
	st := params.State
	log := logger.WithPosition(logger.WithOperation(e.logger, "position_exit"), st.PositionID, st.TokenMint).
		With(zap.String("trigger", string(params.Trigger.Type)))

	expectedSOL := expectedProceeds(st.CurrentPrice, st.TokenBalance)
	expectedLamports, _ := expectedSOL.Mul(decimal.NewFromInt(lamportsPerSOL)).Float64()
	minAmountOut := types.CalculateMinAmountOut(expectedLamports, st.Slippage)

	level := st.Priority
	if level == "" {
		level = types.PriorityMedium
	}
	priorityIxs, err := e.priority.CreatePriorityInstructions(level)
	if err != nil {
		return nil, e.fail(ctx, params, fmt.Errorf("failed to build priority instructions: %w", err))
	}

	tx, err := e.quotes.BuildCloseTransaction(ctx, &CloseRequest{
		TokenMint:            st.TokenMint,
		TokenBalance:         st.TokenBalance,
		MinAmountOut:         minAmountOut,
		Payer:                params.Wallet.PublicKey,
		PriorityInstructions: priorityIxs,
	})
	if err != nil {
		return nil, e.fail(ctx, params, fmt.Errorf("failed to build close transaction: %w", err))
	}

	if err := params.Wallet.SignTransaction(tx); err != nil {
		return nil, e.fail(ctx, params, fmt.Errorf("failed to sign close transaction: %w", err))
	}

	mode := submit.ModeDirectOnly
	if st.UseRelay {
		mode = submit.ModeRace
	}

	tradeSize, _ := expectedSOL.Float64()
	outcome, err := e.submitter.Submit(ctx, &submit.Request{
		Tx:           tx,
		Payer:        params.Wallet,
		TradeSizeSOL: tradeSize,
	}, mode)
	if err != nil {
		return nil, e.fail(ctx, params, err)
	}

	pnl := pnlPercent(st.EntryPrice, st.CurrentPrice)

	if err := e.store.UpdateStatus(ctx, st.PositionID, string(positions.StatusCompleted)); err != nil {
		log.Error("Failed to persist completed status", zap.Error(err))
	}
	e.saveTrade(ctx, params, outcome, pnl, nil)

	logger.WithSubmission(log, outcome.Signature.String()).Info("Exit trade confirmed",
		zap.String("method", string(outcome.Method)),
		zap.String("pnl_percent", pnl.StringFixed(2)),
		zap.Duration("confirmation_time", outcome.ConfirmationTime))

	return &positions.ExitResult{
		Signature:  outcome.Signature.String(),
		PnLPercent: pnl,
		Method:     string(outcome.Method),
	}, nil
}

// fail records the failed attempt durably and returns the original error.
// The in-memory state is not touched here; the monitor may be snapshotting
// it concurrently, and the cause is retained in the trade record.
func (e *Executor) fail(ctx context.Context, params *positions.ExitParams, cause error) error {
	st := params.State

	if err := e.store.UpdateStatus(ctx, st.PositionID, string(positions.StatusFailed)); err != nil {
		e.logger.Error("Failed to persist failed status",
			zap.String("position_id", st.PositionID),
			zap.Error(err))
	}
	e.saveTrade(ctx, params, nil, decimal.Zero, cause)
	return cause
}

func (e *Executor) saveTrade(ctx context.Context, params *positions.ExitParams, outcome *submit.Outcome, pnl decimal.Decimal, cause error) {
	st := params.State
	trade := &models.Trade{
		PositionID:       st.PositionID,
		TokenMint:        st.TokenMint,
		UserID:           st.UserID,
		Trigger:          string(params.Trigger.Type),
		EntryPrice:       st.EntryPrice.String(),
		ExitPrice:        st.CurrentPrice.String(),
		Success:          cause == nil,
		SubmittedAt:      time.Now().UTC(),
		TokenBalanceUsed: st.TokenBalance,
	}

	if outcome != nil {
		trade.Signature = outcome.Signature.String()
		trade.Method = string(outcome.Method)
		trade.ConfirmationMs = outcome.ConfirmationTime.Milliseconds()
		trade.Slot = outcome.Slot
		trade.PnLPercent = pnl.String()
		confirmedAt := time.Now().UTC()
		trade.ConfirmedAt = &confirmedAt
	}
	if cause != nil {
		trade.ErrorMessage = cause.Error()
	}

	if err := e.store.SaveTrade(ctx, trade); err != nil {
		e.logger.Error("Failed to save trade record",
			zap.String("position_id", st.PositionID),
			zap.Error(err))
	}
}

// expectedProceeds estimates the SOL received for selling the whole balance
// at the current price, assuming default token decimals.
func expectedProceeds(price decimal.Decimal, rawBalance uint64) decimal.Decimal {
	tokens := decimal.New(int64(rawBalance), -DefaultTokenDecimals)
	return price.Mul(tokens)
}

func pnlPercent(entry, exit decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	return exit.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100))
}
