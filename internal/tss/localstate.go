package tss

import (
	"mpc_session/internal/model"
	"sync"
)

// VaultStateAccessor serves key shares out of a vault record. Shares are only ever
// appended; the latest share for a public key wins.
type VaultStateAccessor struct {
	mu    sync.Mutex
	vault *model.Vault
}

var _ LocalStateAccessor = (*VaultStateAccessor)(nil)

func NewVaultStateAccessor(vault *model.Vault) *VaultStateAccessor {
	if vault == nil {
		vault = &model.Vault{}
	}
	return &VaultStateAccessor{vault: vault}
}

// GetLocalState returns "" when no share exists for pubKey.
func (a *VaultStateAccessor) GetLocalState(pubKey string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := len(a.vault.KeyShares) - 1; i >= 0; i-- {
		if a.vault.KeyShares[i].PubKey == pubKey {
			return a.vault.KeyShares[i].KeyShare, nil
		}
	}
	return "", nil
}

func (a *VaultStateAccessor) SaveLocalState(pubKey, localState string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.vault.KeyShares = append(a.vault.KeyShares, model.KeyShare{
		PubKey:   pubKey,
		KeyShare: localState,
	})
	return nil
}

// Vault returns a copy of the wrapped vault, safe to persist while the engine keeps
// running.
func (a *VaultStateAccessor) Vault() model.Vault {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := *a.vault
	v.KeyShares = append([]model.KeyShare(nil), a.vault.KeyShares...)
	v.Signers = append([]string(nil), a.vault.Signers...)
	return v
}
