// internal/submit/types.go
package submit

import (
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Mode selects which transport paths a submission may use.
type Mode string

const (
	// ModeDirectOnly sends only via the public network path.
	ModeDirectOnly Mode = "direct_only"
	// ModeRelayOnly sends only via the private relay path.
	ModeRelayOnly Mode = "relay_only"
	// ModeRace submits via both paths and accepts the first success.
	ModeRace Mode = "race"
)

// Method identifies which path produced an outcome.
type Method string

const (
	MethodRelay  Method = "relay"
	MethodDirect Method = "direct"
)

// BundleStatus is the relay's view of a submitted bundle.
type BundleStatus string

const (
	BundlePending BundleStatus = "pending"
	BundleLanded  BundleStatus = "landed"
	BundleFailed  BundleStatus = "failed"
	BundleInvalid BundleStatus = "invalid"
	BundleTimeout BundleStatus = "timeout"
)

// Terminal reports whether the status ends the relay leg.
func (s BundleStatus) Terminal() bool {
	switch s {
	case BundleLanded, BundleFailed, BundleInvalid, BundleTimeout:
		return true
	}
	return false
}

// Outcome describes a confirmed submission.
type Outcome struct {
	Method           Method
	Signature        solana.Signature
	Slot             *uint64 // nil until confirmed
	BundleID         string  // relay path only
	ConfirmationTime time.Duration
}

var (
	ErrSubmissionTimeout  = errors.New("submission deadline exceeded")
	ErrRelayRejected      = errors.New("relay rejected bundle")
	ErrRelayUnavailable   = errors.New("relay path unavailable")
	ErrConfirmationFailed = errors.New("transaction failed on-chain")
)

// BothPathsFailedError aggregates the last known failure of each leg.
type BothPathsFailedError struct {
	RelayErr  error
	DirectErr error
}

func (e *BothPathsFailedError) Error() string {
	return fmt.Sprintf("both submission paths failed: relay: %v; direct: %v", e.RelayErr, e.DirectErr)
}

func (e *BothPathsFailedError) Unwrap() []error {
	return []error{e.RelayErr, e.DirectErr}
}
