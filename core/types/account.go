package types

import "math/big"

// Account holds the settlement-asset balance for a participant or module
// vault. Balances are denominated in the smallest unit of the reference asset
// and expressed as big integers so accounting stays exact.
type Account struct {
	Nonce         uint64   `json:"nonce"`
	BalanceStable *big.Int `json:"balanceStable"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce, BalanceStable: big.NewInt(0)}
	if a.BalanceStable != nil {
		clone.BalanceStable = new(big.Int).Set(a.BalanceStable)
	}
	return clone
}
