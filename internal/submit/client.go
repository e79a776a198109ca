// internal/submit/client.go
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sentinel/internal/wallet"
)

// RelayPath is the private relay leg of a submission.
type RelayPath interface {
	SubmitBundle(ctx context.Context, txs []*solana.Transaction) (string, error)
	AwaitBundle(ctx context.Context, bundleID string) (BundleStatus, uint64, error)
	BundleStatus(ctx context.Context, bundleID string) (BundleStatus, uint64, error)
	TipAccount() solana.PublicKey
}

// DirectPath is the public network leg of a submission.
type DirectPath interface {
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	AwaitConfirmation(ctx context.Context, signature solana.Signature) (uint64, error)
}

// Config tunes the submission client.
type Config struct {
	Mode         Mode
	Deadline     time.Duration // authoritative upper bound on submission latency
	Tips         TipConfig
	AntiFrontrun bool
}

// Request carries one signed transaction through submission. Payer signs the
// relay tip transaction; it is unused on the direct path.
type Request struct {
	Tx           *solana.Transaction
	Payer        *wallet.Wallet
	TradeSizeSOL float64
}

// Client lands signed transactions on-chain with minimum latency, racing the
// relay and direct paths or using one exclusively per mode.
type Client struct {
	cfg    Config
	relay  RelayPath
	direct DirectPath
	logger *zap.Logger

	recentBlockhash func(ctx context.Context) (solana.Hash, error)
}

func NewClient(cfg Config, chain *rpc.Client, relay *RelayClient, logger *zap.Logger) *Client {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 15 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		direct: NewDirectSender(chain, logger),
		logger: logger.Named("submit"),
	}
	if relay != nil {
		c.relay = relay
	}
	c.recentBlockhash = func(ctx context.Context) (solana.Hash, error) {
		out, err := chain.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return solana.Hash{}, err
		}
		return out.Value.Blockhash, nil
	}
	return c
}

// Submit lands the request's transaction using the given mode ("" falls back
// to the configured default). The client's deadline bounds total latency in
// every mode.
func (c *Client) Submit(ctx context.Context, req *Request, mode Mode) (*Outcome, error) {
	if req.Tx == nil || len(req.Tx.Signatures) == 0 {
		return nil, errors.New("transaction must be signed before submission")
	}
	if mode == "" {
		mode = c.cfg.Mode
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	switch mode {
	case ModeDirectOnly:
		return c.submitDirect(ctx, req)
	case ModeRelayOnly:
		return c.submitRelay(ctx, req)
	case ModeRace:
		return c.race(ctx, req)
	default:
		return nil, fmt.Errorf("unknown submission mode: %s", mode)
	}
}

type legResult struct {
	method  Method
	outcome *Outcome
	err     error
}

// race runs both legs concurrently under a shared deadline. The first leg to
// report a terminal success wins; a relay winner that turns out invalid falls
// back to the direct leg as long as the deadline has not elapsed. When both
// legs fail (or the deadline fires first) the error lists both legs' fates.
func (c *Client) race(ctx context.Context, req *Request) (*Outcome, error) {
	if c.relay == nil {
		c.logger.Warn("Race mode without relay, falling back to direct path")
		return c.submitDirect(ctx, req)
	}

	results := make(chan legResult, 2)
	go func() {
		outcome, err := c.submitRelay(ctx, req)
		results <- legResult{method: MethodRelay, outcome: outcome, err: err}
	}()
	go func() {
		outcome, err := c.submitDirect(ctx, req)
		results <- legResult{method: MethodDirect, outcome: outcome, err: err}
	}()

	var relayErr, directErr error

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			if res.err != nil {
				c.logger.Warn("Submission leg failed",
					zap.String("method", string(res.method)),
					zap.Error(res.err))
				if res.method == MethodRelay {
					relayErr = res.err
				} else {
					directErr = res.err
				}
				continue
			}

			if res.method == MethodRelay {
				// A bundle can be reported landed and still turn invalid when
				// the relay finishes simulating it. Re-check before accepting,
				// and only fall back while the shared deadline still holds.
				status, _, err := c.relay.BundleStatus(ctx, res.outcome.BundleID)
				if err == nil && (status == BundleInvalid || status == BundleFailed) {
					relayErr = fmt.Errorf("%w: bundle %s reported %s after acceptance",
						ErrRelayRejected, res.outcome.BundleID, status)
					c.logger.Warn("Relay winner proved invalid, awaiting direct fallback",
						zap.String("bundle_id", res.outcome.BundleID))
					continue
				}
			}

			c.logger.Info("Submission confirmed",
				zap.String("method", string(res.method)),
				zap.String("signature", res.outcome.Signature.String()),
				zap.Duration("confirmation_time", res.outcome.ConfirmationTime))
			return res.outcome, nil

		case <-ctx.Done():
			return nil, &BothPathsFailedError{
				RelayErr:  orTimeout(relayErr),
				DirectErr: orTimeout(directErr),
			}
		}
	}

	return nil, &BothPathsFailedError{
		RelayErr:  orTimeout(relayErr),
		DirectErr: orTimeout(directErr),
	}
}

func (c *Client) submitRelay(ctx context.Context, req *Request) (*Outcome, error) {
	if c.relay == nil {
		return nil, ErrRelayUnavailable
	}
	if req.Payer == nil {
		return nil, errors.New("relay path requires a payer for the tip transaction")
	}

	start := time.Now()
	tip := c.cfg.Tips.TipForTradeSize(req.TradeSizeSOL)

	tipTx, err := c.buildTipTransaction(ctx, req.Payer, tip)
	if err != nil {
		return nil, fmt.Errorf("failed to build tip transaction: %w", err)
	}

	bundleID, err := c.relay.SubmitBundle(ctx, []*solana.Transaction{req.Tx, tipTx})
	if err != nil {
		return nil, err
	}

	status, slot, err := c.relay.AwaitBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	switch status {
	case BundleLanded:
		return &Outcome{
			Method:           MethodRelay,
			Signature:        req.Tx.Signatures[0],
			Slot:             &slot,
			BundleID:         bundleID,
			ConfirmationTime: time.Since(start),
		}, nil
	case BundleTimeout:
		return nil, fmt.Errorf("%w: bundle %s", ErrSubmissionTimeout, bundleID)
	default:
		return nil, fmt.Errorf("%w: bundle %s status %s", ErrRelayRejected, bundleID, status)
	}
}

func (c *Client) submitDirect(ctx context.Context, req *Request) (*Outcome, error) {
	start := time.Now()

	signature, err := c.direct.Send(ctx, req.Tx)
	if err != nil {
		return nil, err
	}

	slot, err := c.direct.AwaitConfirmation(ctx, signature)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Method:           MethodDirect,
		Signature:        signature,
		Slot:             &slot,
		ConfirmationTime: time.Since(start),
	}, nil
}

// buildTipTransaction pays the relay's tip account from the payer wallet. The
// anti-front-run marker rides only on this relay-leg transaction.
func (c *Client) buildTipTransaction(ctx context.Context, payer *wallet.Wallet, tip uint64) (*solana.Transaction, error) {
	blockhash, err := c.recentBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	instructions := []solana.Instruction{
		system.NewTransferInstruction(tip, payer.PublicKey, c.relay.TipAccount()).Build(),
	}
	if c.cfg.AntiFrontrun {
		instructions = append(instructions, antiFrontrunMarker(payer.PublicKey))
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("failed to build tip transaction: %w", err)
	}
	if err := payer.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to sign tip transaction: %w", err)
	}
	return tx, nil
}

var memoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

// antiFrontrunMarker tags the bundle so the relay treats it as
// non-front-runnable. It has no effect on the direct path.
func antiFrontrunMarker(signer solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		memoProgramID,
		[]*solana.AccountMeta{
			{PublicKey: signer, IsWritable: false, IsSigner: true},
		},
		[]byte("sentinel:protected"),
	)
}

func orTimeout(err error) error {
	if err == nil {
		return ErrSubmissionTimeout
	}
	return err
}
