// internal/submit/client_test.go
package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-sentinel/internal/wallet"
)

type fakeRelay struct {
	submitErr   error
	awaitStatus BundleStatus
	awaitErr    error
	awaitDelay  time.Duration
	recheck     BundleStatus
	tipAccount  solana.PublicKey
}

func (f *fakeRelay) SubmitBundle(_ context.Context, _ []*solana.Transaction) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "bundle-1", nil
}

func (f *fakeRelay) AwaitBundle(_ context.Context, _ string) (BundleStatus, uint64, error) {
	time.Sleep(f.awaitDelay)
	if f.awaitErr != nil {
		return "", 0, f.awaitErr
	}
	return f.awaitStatus, 42, nil
}

func (f *fakeRelay) BundleStatus(_ context.Context, _ string) (BundleStatus, uint64, error) {
	if f.recheck == "" {
		return f.awaitStatus, 42, nil
	}
	return f.recheck, 0, nil
}

func (f *fakeRelay) TipAccount() solana.PublicKey { return f.tipAccount }

type fakeDirect struct {
	sendErr    error
	confirmErr error
	delay      time.Duration
	signature  solana.Signature
}

func (f *fakeDirect) Send(_ context.Context, _ *solana.Transaction) (solana.Signature, error) {
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return f.signature, nil
}

func (f *fakeDirect) AwaitConfirmation(_ context.Context, _ solana.Signature) (uint64, error) {
	time.Sleep(f.delay)
	if f.confirmErr != nil {
		return 0, f.confirmErr
	}
	return 7, nil
}

func testWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	w, err := wallet.NewWallet(pk.String())
	require.NoError(t, err)
	return w
}

func signedTransfer(t *testing.T, w *wallet.Wallet) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(1, w.PublicKey, w.PublicKey).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(w.PublicKey),
	)
	require.NoError(t, err)
	require.NoError(t, w.SignTransaction(tx))
	return tx
}

func testClient(t *testing.T, cfg Config, relay RelayPath, direct DirectPath) *Client {
	t.Helper()
	if cfg.Deadline <= 0 {
		cfg.Deadline = 2 * time.Second
	}
	return &Client{
		cfg:    cfg,
		relay:  relay,
		direct: direct,
		logger: zaptest.NewLogger(t),
		recentBlockhash: func(context.Context) (solana.Hash, error) {
			return solana.Hash{}, nil
		},
	}
}

func testRequest(t *testing.T) *Request {
	w := testWallet(t)
	return &Request{
		Tx:           signedTransfer(t, w),
		Payer:        w,
		TradeSizeSOL: 0.5,
	}
}

func TestRaceRelayWins(t *testing.T) {
	relay := &fakeRelay{awaitStatus: BundleLanded}
	direct := &fakeDirect{delay: 500 * time.Millisecond}
	client := testClient(t, Config{Mode: ModeRace}, relay, direct)

	outcome, err := client.Submit(context.Background(), testRequest(t), ModeRace)
	require.NoError(t, err)
	assert.Equal(t, MethodRelay, outcome.Method)
	assert.Equal(t, "bundle-1", outcome.BundleID)
	require.NotNil(t, outcome.Slot)
	assert.Equal(t, uint64(42), *outcome.Slot)
}

func TestRaceFallsBackToDirect(t *testing.T) {
	relay := &fakeRelay{submitErr: ErrRelayUnavailable}
	direct := &fakeDirect{signature: solana.Signature{1}}
	client := testClient(t, Config{Mode: ModeRace}, relay, direct)

	outcome, err := client.Submit(context.Background(), testRequest(t), ModeRace)
	require.NoError(t, err)
	assert.Equal(t, MethodDirect, outcome.Method)
	assert.Equal(t, solana.Signature{1}, outcome.Signature)
}

func TestRaceRelayWinnerProvesInvalid(t *testing.T) {
	// The relay reports landed first, then the status re-check exposes the
	// bundle as invalid. The slower direct leg must still win.
	relay := &fakeRelay{awaitStatus: BundleLanded, recheck: BundleInvalid}
	direct := &fakeDirect{delay: 100 * time.Millisecond, signature: solana.Signature{2}}
	client := testClient(t, Config{Mode: ModeRace}, relay, direct)

	outcome, err := client.Submit(context.Background(), testRequest(t), ModeRace)
	require.NoError(t, err)
	assert.Equal(t, MethodDirect, outcome.Method)
}

func TestRaceBothPathsFail(t *testing.T) {
	relay := &fakeRelay{awaitStatus: BundleFailed}
	direct := &fakeDirect{sendErr: errors.New("blockhash not found")}
	client := testClient(t, Config{Mode: ModeRace}, relay, direct)

	_, err := client.Submit(context.Background(), testRequest(t), ModeRace)
	require.Error(t, err)

	var both *BothPathsFailedError
	require.ErrorAs(t, err, &both)
	assert.ErrorIs(t, both.RelayErr, ErrRelayRejected)
	assert.ErrorContains(t, both.DirectErr, "blockhash not found")
}

func TestRaceDeadlineProducesTimeout(t *testing.T) {
	relay := &fakeRelay{awaitStatus: BundleLanded, awaitDelay: time.Second}
	direct := &fakeDirect{delay: time.Second}
	client := testClient(t, Config{Mode: ModeRace, Deadline: 50 * time.Millisecond}, relay, direct)

	_, err := client.Submit(context.Background(), testRequest(t), ModeRace)
	require.Error(t, err)

	var both *BothPathsFailedError
	require.ErrorAs(t, err, &both)
	assert.ErrorIs(t, both.RelayErr, ErrSubmissionTimeout)
	assert.ErrorIs(t, both.DirectErr, ErrSubmissionTimeout)
}

func TestRaceWithoutRelayFallsBackToDirect(t *testing.T) {
	direct := &fakeDirect{signature: solana.Signature{3}}
	client := testClient(t, Config{Mode: ModeRace}, nil, direct)

	outcome, err := client.Submit(context.Background(), testRequest(t), ModeRace)
	require.NoError(t, err)
	assert.Equal(t, MethodDirect, outcome.Method)
}

func TestRelayOnlyWithoutRelayFails(t *testing.T) {
	client := testClient(t, Config{}, nil, &fakeDirect{})

	_, err := client.Submit(context.Background(), testRequest(t), ModeRelayOnly)
	assert.ErrorIs(t, err, ErrRelayUnavailable)
}

func TestDirectOnlyIgnoresRelay(t *testing.T) {
	relay := &fakeRelay{submitErr: errors.New("must not be called")}
	direct := &fakeDirect{signature: solana.Signature{4}}
	client := testClient(t, Config{}, relay, direct)

	outcome, err := client.Submit(context.Background(), testRequest(t), ModeDirectOnly)
	require.NoError(t, err)
	assert.Equal(t, MethodDirect, outcome.Method)
}

func TestDefaultModeFromConfig(t *testing.T) {
	direct := &fakeDirect{signature: solana.Signature{5}}
	client := testClient(t, Config{Mode: ModeDirectOnly}, &fakeRelay{}, direct)

	outcome, err := client.Submit(context.Background(), testRequest(t), "")
	require.NoError(t, err)
	assert.Equal(t, MethodDirect, outcome.Method)
}

func TestSubmitRejectsUnsignedTransaction(t *testing.T) {
	w := testWallet(t)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(1, w.PublicKey, w.PublicKey).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(w.PublicKey),
	)
	require.NoError(t, err)

	client := testClient(t, Config{}, &fakeRelay{awaitStatus: BundleLanded}, &fakeDirect{})
	for _, mode := range []Mode{ModeDirectOnly, ModeRelayOnly, ModeRace} {
		_, err := client.Submit(context.Background(), &Request{Tx: tx, Payer: w}, mode)
		assert.Error(t, err, "mode %s", mode)
	}

	_, err = client.Submit(context.Background(), &Request{Payer: w}, ModeDirectOnly)
	assert.Error(t, err)
}

func TestTipTransactionCarriesAntiFrontrunMarker(t *testing.T) {
	w := testWallet(t)

	client := testClient(t, Config{AntiFrontrun: true}, &fakeRelay{}, &fakeDirect{})
	tx, err := client.buildTipTransaction(context.Background(), w, 10_000)
	require.NoError(t, err)
	assert.Len(t, tx.Message.Instructions, 2, "transfer plus marker")

	client = testClient(t, Config{AntiFrontrun: false}, &fakeRelay{}, &fakeDirect{})
	tx, err = client.buildTipTransaction(context.Background(), w, 10_000)
	require.NoError(t, err)
	assert.Len(t, tx.Message.Instructions, 1, "transfer only")
}
