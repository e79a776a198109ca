// internal/quote/jupiter.go
package quote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sentinel/internal/executor"
)

const (
	wrappedSOLMint = "So11111111111111111111111111111111111111112"

	// Slippage sent to the aggregator; the real floor is enforced locally
	// against the returned outAmount.
	defaultSlippageBps = 100

	requestTimeout = 10 * time.Second
)

// ErrQuoteBelowMinimum is returned when the aggregator's quoted output is
// worse than the locally computed minimum acceptable amount.
var ErrQuoteBelowMinimum = fmt.Errorf("quoted output below minimum acceptable amount")

// Client builds closing swap transactions through a Jupiter-compatible
// aggregator API: one call for the route quote, one for the instruction set.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	rpcClient  *rpc.Client
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey string, rpcClient *rpc.Client, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		rpcClient:  rpcClient,
		logger:     logger.Named("quote"),
	}
}

type quoteResponse struct {
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
}

type apiAccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type apiInstruction struct {
	ProgramID string           `json:"programId"`
	Accounts  []apiAccountMeta `json:"accounts"`
	Data      string           `json:"data"`
}

type swapInstructionsResponse struct {
	SetupInstructions  []apiInstruction `json:"setupInstructions"`
	SwapInstruction    apiInstruction   `json:"swapInstruction"`
	CleanupInstruction *apiInstruction  `json:"cleanupInstruction"`
}

// BuildCloseTransaction quotes the full token balance into SOL and assembles
// an unsigned legacy transaction with the caller's priority instructions
// prepended in place of the aggregator's compute budget ones.
func (c *Client) BuildCloseTransaction(ctx context.Context, req *executor.CloseRequest) (*solana.Transaction, error) {
	rawQuote, quote, err := c.fetchQuote(ctx, req.TokenMint, req.TokenBalance)
	if err != nil {
		return nil, err
	}

	outAmount, err := strconv.ParseUint(quote.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoted outAmount %q: %w", quote.OutAmount, err)
	}
	if outAmount < req.MinAmountOut {
		c.logger.Warn("Quote rejected below minimum",
			zap.String("token", req.TokenMint),
			zap.Uint64("quoted_out", outAmount),
			zap.Uint64("min_out", req.MinAmountOut))
		return nil, fmt.Errorf("%w: quoted %d, need %d", ErrQuoteBelowMinimum, outAmount, req.MinAmountOut)
	}

	swapIxs, err := c.fetchSwapInstructions(ctx, rawQuote, req.Payer)
	if err != nil {
		return nil, err
	}

	instructions := make([]solana.Instruction, 0, len(req.PriorityInstructions)+len(swapIxs.SetupInstructions)+2)
	instructions = append(instructions, req.PriorityInstructions...)
	for _, ix := range swapIxs.SetupInstructions {
		decoded, err := decodeInstruction(ix)
		if err != nil {
			return nil, fmt.Errorf("failed to decode setup instruction: %w", err)
		}
		instructions = append(instructions, decoded)
	}
	swapIx, err := decodeInstruction(swapIxs.SwapInstruction)
	if err != nil {
		return nil, fmt.Errorf("failed to decode swap instruction: %w", err)
	}
	instructions = append(instructions, swapIx)
	if swapIxs.CleanupInstruction != nil {
		cleanupIx, err := decodeInstruction(*swapIxs.CleanupInstruction)
		if err != nil {
			return nil, fmt.Errorf("failed to decode cleanup instruction: %w", err)
		}
		instructions = append(instructions, cleanupIx)
	}

	blockhash, err := c.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		blockhash.Value.Blockhash,
		solana.TransactionPayer(req.Payer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build close transaction: %w", err)
	}
	return tx, nil
}

func (c *Client) fetchQuote(ctx context.Context, tokenMint string, amount uint64) (json.RawMessage, *quoteResponse, error) {
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		c.baseURL, tokenMint, wrappedSOLMint, amount, defaultSlippageBps)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("quote request failed: %w", err)
	}

	var quote quoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, nil, fmt.Errorf("failed to decode quote response: %w", err)
	}
	return body, &quote, nil
}

func (c *Client) fetchSwapInstructions(ctx context.Context, rawQuote json.RawMessage, payer solana.PublicKey) (*swapInstructionsResponse, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"quoteResponse":    rawQuote,
		"userPublicKey":    payer.String(),
		"wrapAndUnwrapSol": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap-instructions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("swap instructions request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("swap instructions status %d: %s", resp.StatusCode, string(body))
	}

	var swapIxs swapInstructionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&swapIxs); err != nil {
		return nil, fmt.Errorf("failed to decode swap instructions: %w", err)
	}
	return &swapIxs, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

func decodeInstruction(ix apiInstruction) (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(ix.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id %q: %w", ix.ProgramID, err)
	}

	accounts := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, acc := range ix.Accounts {
		pubkey, err := solana.PublicKeyFromBase58(acc.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("invalid account %q: %w", acc.Pubkey, err)
		}
		accounts = append(accounts, &solana.AccountMeta{
			PublicKey:  pubkey,
			IsSigner:   acc.IsSigner,
			IsWritable: acc.IsWritable,
		})
	}

	data, err := base64.StdEncoding.DecodeString(ix.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid instruction data: %w", err)
	}

	return solana.NewInstruction(programID, accounts, data), nil
}
