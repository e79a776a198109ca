// internal/pricefeed/pricefeed_test.go
package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	tokenMint  = "TokenMint111111111111111111111111111111111"
	baseVault  = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	quoteVault = "BPFLoaderUpgradeab1e11111111111111111111111"
)

// balanceStub answers getTokenAccountBalance with a fixed amount per vault.
func balanceStub(t *testing.T, calls *atomic.Int64, amounts map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req struct {
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var account string
		require.NoError(t, json.Unmarshal(req.Params[0], &account))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": 1},
				"value": map[string]interface{}{
					"amount":         amounts[account],
					"decimals":       6,
					"uiAmountString": "0",
				},
			},
		})
	}))
}

func TestPriceFromPoolReserves(t *testing.T) {
	var calls atomic.Int64
	server := balanceStub(t, &calls, map[string]string{
		baseVault:  "2000000000", // 2000 tokens at 6 decimals
		quoteVault: "1000000000", // 1 SOL at 9 decimals
	})
	defer server.Close()

	feed := New(rpc.New(server.URL), zaptest.NewLogger(t))
	feed.RegisterPool(tokenMint, Pool{
		BaseVault:    solana.MustPublicKeyFromBase58(baseVault),
		QuoteVault:   solana.MustPublicKeyFromBase58(quoteVault),
		BaseDecimals: 6,
	})

	quote, err := feed.Price(context.Background(), tokenMint)
	require.NoError(t, err)

	// price = (1e9 / 2e9) * 10^(6-9) = 0.0005 SOL per token
	assert.True(t, quote.Price.Equal(decimal.RequireFromString("0.0005")),
		"got %s", quote.Price)
	assert.False(t, quote.ObservedAt.IsZero())
}

func TestPriceIsCachedBriefly(t *testing.T) {
	var calls atomic.Int64
	server := balanceStub(t, &calls, map[string]string{
		baseVault:  "1000000",
		quoteVault: "1000000",
	})
	defer server.Close()

	feed := New(rpc.New(server.URL), zaptest.NewLogger(t))
	feed.RegisterPool(tokenMint, Pool{
		BaseVault:    solana.MustPublicKeyFromBase58(baseVault),
		QuoteVault:   solana.MustPublicKeyFromBase58(quoteVault),
		BaseDecimals: 6,
	})

	_, err := feed.Price(context.Background(), tokenMint)
	require.NoError(t, err)
	first := calls.Load()

	_, err = feed.Price(context.Background(), tokenMint)
	require.NoError(t, err)
	assert.Equal(t, first, calls.Load(), "second read within the window hits the cache")
}

func TestPriceUnregisteredMint(t *testing.T) {
	feed := New(rpc.New("http://localhost:0"), zaptest.NewLogger(t))
	_, err := feed.Price(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrPoolNotRegistered)
}

func TestLoadPools(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.csv")
	body := tokenMint + "," + baseVault + "," + quoteVault + ",6\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	feed := New(rpc.New("http://localhost:0"), zaptest.NewLogger(t))
	loaded, err := feed.LoadPools(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
}

func TestLoadPoolsRejectsBadRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.csv")
	require.NoError(t, os.WriteFile(path, []byte("only,three,fields\n"), 0o600))

	feed := New(rpc.New("http://localhost:0"), zaptest.NewLogger(t))
	_, err := feed.LoadPools(path)
	assert.Error(t, err)
}
