// internal/submit/direct.go
package submit

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// DirectSender submits transactions over the public network path and polls
// signature statuses until confirmation.
type DirectSender struct {
	client       *rpc.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewDirectSender(client *rpc.Client, logger *zap.Logger) *DirectSender {
	return &DirectSender{
		client:       client,
		pollInterval: 500 * time.Millisecond,
		logger:       logger.Named("direct"),
	}
}

// Send broadcasts the signed transaction, retrying transient failures with
// exponential backoff bounded by ctx.
func (d *DirectSender) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var signature solana.Signature
	operation := func() error {
		var err error
		signature, err = d.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			d.logger.Warn("Retrying transaction send", zap.Error(err))
			return err
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signature, nil
}

// AwaitConfirmation polls the signature status until the transaction confirms
// or fails, bounded by ctx. Returns the slot the transaction landed in.
func (d *DirectSender) AwaitConfirmation(ctx context.Context, signature solana.Signature) (uint64, error) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: signature %s", ErrSubmissionTimeout, signature)
		case <-ticker.C:
			response, err := d.client.GetSignatureStatuses(ctx, false, signature)
			if err != nil {
				d.logger.Warn("Confirmation check failed", zap.Error(err))
				continue
			}
			if len(response.Value) == 0 || response.Value[0] == nil {
				continue
			}

			status := response.Value[0]
			if status.Err != nil {
				return 0, fmt.Errorf("%w: %v", ErrConfirmationFailed, status.Err)
			}

			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return status.Slot, nil
			}
		}
	}
}
