// internal/pricefeed/pricefeed.go
package pricefeed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sentinel/internal/positions"
)

const (
	// WSOL vault side of every registered pool.
	wsolDecimals = 9

	// Reserve reads within this window reuse the previous quote.
	cacheValidPeriod = 1 * time.Second
)

// ErrPoolNotRegistered is returned when no pool is known for a token mint.
var ErrPoolNotRegistered = errors.New("no pool registered for token mint")

// Pool identifies the AMM vault accounts used to derive a spot price.
type Pool struct {
	BaseVault    solana.PublicKey
	QuoteVault   solana.PublicKey
	BaseDecimals int
}

type cachedQuote struct {
	quote positions.PriceQuote
	at    time.Time
}

// Feed derives token prices in SOL from AMM pool reserves over RPC.
// Pools are registered up front; lookups for unregistered mints fail fast.
type Feed struct {
	client *rpc.Client
	logger *zap.Logger

	mu    sync.RWMutex
	pools map[string]Pool
	cache map[string]cachedQuote
}

func New(client *rpc.Client, logger *zap.Logger) *Feed {
	return &Feed{
		client: client,
		logger: logger.Named("pricefeed"),
		pools:  make(map[string]Pool),
		cache:  make(map[string]cachedQuote),
	}
}

// RegisterPool makes tokenMint priceable through the given vault pair.
func (f *Feed) RegisterPool(tokenMint string, pool Pool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[tokenMint] = pool
	f.logger.Debug("Registered pool",
		zap.String("token", tokenMint),
		zap.String("base_vault", pool.BaseVault.String()),
		zap.String("quote_vault", pool.QuoteVault.String()))
}

// Price returns the current token price in SOL, computed as the ratio of the
// pool's WSOL reserves to token reserves adjusted for decimals. Results are
// cached briefly so a sweep over many positions on the same token does not
// hammer the RPC node.
func (f *Feed) Price(ctx context.Context, tokenMint string) (positions.PriceQuote, error) {
	f.mu.RLock()
	pool, ok := f.pools[tokenMint]
	cached, hasCached := f.cache[tokenMint]
	f.mu.RUnlock()

	if !ok {
		return positions.PriceQuote{}, fmt.Errorf("%w: %s", ErrPoolNotRegistered, tokenMint)
	}
	if hasCached && time.Since(cached.at) < cacheValidPeriod {
		return cached.quote, nil
	}

	baseReserves, err := f.vaultBalance(ctx, pool.BaseVault)
	if err != nil {
		return positions.PriceQuote{}, fmt.Errorf("failed to read base vault: %w", err)
	}
	if baseReserves == 0 {
		return positions.PriceQuote{}, errors.New("base reserves are zero, cannot calculate price")
	}
	quoteReserves, err := f.vaultBalance(ctx, pool.QuoteVault)
	if err != nil {
		return positions.PriceQuote{}, fmt.Errorf("failed to read quote vault: %w", err)
	}

	// price = (quoteReserves/baseReserves) * 10^(baseDecimals - quoteDecimals)
	price := decimal.NewFromUint64(quoteReserves).
		Div(decimal.NewFromUint64(baseReserves)).
		Mul(decimal.New(1, int32(pool.BaseDecimals-wsolDecimals)))

	quote := positions.PriceQuote{Price: price, ObservedAt: time.Now()}

	f.mu.Lock()
	f.cache[tokenMint] = cachedQuote{quote: quote, at: time.Now()}
	f.mu.Unlock()

	return quote, nil
}

func (f *Feed) vaultBalance(ctx context.Context, vault solana.PublicKey) (uint64, error) {
	result, err := f.client.GetTokenAccountBalance(ctx, vault, rpc.CommitmentProcessed)
	if err != nil {
		result, err = f.client.GetTokenAccountBalance(ctx, vault, rpc.CommitmentConfirmed)
	}
	if err != nil {
		return 0, err
	}
	if result == nil || result.Value == nil || result.Value.Amount == "" {
		return 0, errors.New("no token balance found")
	}
	return strconv.ParseUint(result.Value.Amount, 10, 64)
}

// LoadPools registers pools from a CSV file with rows of
// [tokenMint, baseVault, quoteVault, baseDecimals].
func (f *Feed) LoadPools(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open pools file: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to parse pools file: %w", err)
	}

	loaded := 0
	for i, record := range records {
		if len(record) != 4 {
			return loaded, fmt.Errorf("pools file row %d: expected 4 fields, got %d", i+1, len(record))
		}
		baseVault, err := solana.PublicKeyFromBase58(record[1])
		if err != nil {
			return loaded, fmt.Errorf("pools file row %d: invalid base vault: %w", i+1, err)
		}
		quoteVault, err := solana.PublicKeyFromBase58(record[2])
		if err != nil {
			return loaded, fmt.Errorf("pools file row %d: invalid quote vault: %w", i+1, err)
		}
		decimals, err := strconv.Atoi(record[3])
		if err != nil || decimals < 0 || decimals > 18 {
			return loaded, fmt.Errorf("pools file row %d: invalid decimals %q", i+1, record[3])
		}
		f.RegisterPool(record[0], Pool{
			BaseVault:    baseVault,
			QuoteVault:   quoteVault,
			BaseDecimals: decimals,
		})
		loaded++
	}
	return loaded, nil
}
