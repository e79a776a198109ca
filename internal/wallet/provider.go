// internal/wallet/provider.go
package wallet

import "sync"

// Provider resolves signing keys by user id. A nil result means the user
// cannot sign, which callers treat as fatal for the attempt in question.
type Provider struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
}

func NewProvider(wallets map[string]*Wallet) *Provider {
	if wallets == nil {
		wallets = make(map[string]*Wallet)
	}
	return &Provider{wallets: wallets}
}

// Keypair returns the wallet for userID, or nil when none is registered.
func (p *Provider) Keypair(userID string) *Wallet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.wallets[userID]
}

// Register adds or replaces the wallet for userID.
func (p *Provider) Register(userID string, w *Wallet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wallets[userID] = w
}
