// internal/submit/relay.go
package submit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// RelayClient talks to a private MEV-protected relay over JSON-RPC. Bundle
// submission is asynchronous: sendBundle returns an id and the bundle's fate
// is learned by polling getBundleStatuses.
type RelayClient struct {
	rpc          jsonrpc.RPCClient
	tipAccounts  []solana.PublicKey
	pollInterval time.Duration
	logger       *zap.Logger
}

// Polls a bundle may stay unknown to the relay before it is declared invalid.
// Fresh bundles take a moment to propagate into the status index.
const bundleUnknownGrace = 4

func NewRelayClient(endpoint string, tipAccounts []string, logger *zap.Logger) (*RelayClient, error) {
	if endpoint == "" {
		return nil, errors.New("relay endpoint is empty")
	}
	if len(tipAccounts) == 0 {
		return nil, errors.New("at least one relay tip account is required")
	}

	accounts := make([]solana.PublicKey, 0, len(tipAccounts))
	for _, raw := range tipAccounts {
		pk, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid tip account %q: %w", raw, err)
		}
		accounts = append(accounts, pk)
	}

	return &RelayClient{
		rpc:          jsonrpc.NewClient(endpoint),
		tipAccounts:  accounts,
		pollInterval: 500 * time.Millisecond,
		logger:       logger.Named("relay"),
	}, nil
}

// TipAccount picks one of the relay's tip accounts at random, spreading tip
// traffic the way the relay operators recommend.
func (rc *RelayClient) TipAccount() solana.PublicKey {
	return rc.tipAccounts[rand.Intn(len(rc.tipAccounts))]
}

// SubmitBundle sends the signed transactions as one atomic bundle and returns
// the relay's bundle id.
func (rc *RelayClient) SubmitBundle(ctx context.Context, txs []*solana.Transaction) (string, error) {
	encoded := make([]string, 0, len(txs))
	for _, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("failed to serialize transaction: %w", err)
		}
		encoded = append(encoded, base58.Encode(raw))
	}

	var bundleID string
	err := rc.rpc.CallForInto(ctx, &bundleID, "sendBundle", []interface{}{encoded})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("%w: %s (code %d)", ErrRelayRejected, rpcErr.Message, rpcErr.Code)
		}
		return "", fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}

	rc.logger.Debug("Bundle submitted",
		zap.String("bundle_id", bundleID),
		zap.Int("transactions", len(txs)))
	return bundleID, nil
}

type bundleStatusValue struct {
	BundleID           string      `json:"bundle_id"`
	Transactions       []string    `json:"transactions"`
	Slot               uint64      `json:"slot"`
	ConfirmationStatus string      `json:"confirmation_status"`
	Err                interface{} `json:"err"`
}

type bundleStatusResult struct {
	Value []*bundleStatusValue `json:"value"`
}

// BundleStatus returns the relay's current view of the bundle. An unknown
// bundle id maps to invalid; callers decide how much propagation grace to
// allow before trusting that verdict.
func (rc *RelayClient) BundleStatus(ctx context.Context, bundleID string) (BundleStatus, uint64, error) {
	var result bundleStatusResult
	err := rc.rpc.CallForInto(ctx, &result, "getBundleStatuses", []interface{}{[]string{bundleID}})
	if err != nil {
		return BundlePending, 0, fmt.Errorf("failed to get bundle status: %w", err)
	}

	if len(result.Value) == 0 || result.Value[0] == nil {
		return BundleInvalid, 0, nil
	}

	status := result.Value[0]
	if isBundleErr(status.Err) {
		return BundleFailed, status.Slot, nil
	}

	switch status.ConfirmationStatus {
	case "confirmed", "finalized":
		return BundleLanded, status.Slot, nil
	default:
		return BundlePending, status.Slot, nil
	}
}

// AwaitBundle polls until the bundle reaches a terminal status or the context
// deadline fires, which maps to BundleTimeout.
func (rc *RelayClient) AwaitBundle(ctx context.Context, bundleID string) (BundleStatus, uint64, error) {
	ticker := time.NewTicker(rc.pollInterval)
	defer ticker.Stop()

	unknownPolls := 0
	for {
		select {
		case <-ctx.Done():
			return BundleTimeout, 0, fmt.Errorf("%w: bundle %s", ErrSubmissionTimeout, bundleID)
		case <-ticker.C:
			status, slot, err := rc.BundleStatus(ctx, bundleID)
			if err != nil {
				rc.logger.Warn("Bundle status check failed", zap.Error(err))
				continue
			}

			if status == BundleInvalid {
				unknownPolls++
				if unknownPolls < bundleUnknownGrace {
					continue
				}
				return BundleInvalid, 0, nil
			}
			unknownPolls = 0

			if status.Terminal() {
				return status, slot, nil
			}
		}
	}
}

func isBundleErr(raw interface{}) bool {
	if raw == nil {
		return false
	}
	// The relay reports "Ok" as {"Ok": null}; anything else is a failure.
	if m, ok := raw.(map[string]interface{}); ok {
		if _, isOk := m["Ok"]; isOk {
			return false
		}
	}
	return true
}
