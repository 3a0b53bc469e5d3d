package pool

import (
	"math/big"

	"valchi/crypto"
)

// Position tracks one investor's stake in the senior liquidity pool. Shares
// are par with the settlement asset: they grow by the deposited amount and
// shrink by exactly the withdrawn amount.
type Position struct {
	Investor  crypto.Address `json:"investor"`
	Shares    *big.Int       `json:"shares"`
	Deposited *big.Int       `json:"deposited"`
	// PendingRedemption queues shares for settlement at the next conversion
	// cycle; it can never exceed Shares.
	PendingRedemption *big.Int `json:"pendingRedemption"`
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Shares = cloneBigInt(p.Shares)
	clone.Deposited = cloneBigInt(p.Deposited)
	clone.PendingRedemption = cloneBigInt(p.PendingRedemption)
	return &clone
}

// Pool aggregates the senior facility's accounting state.
type Pool struct {
	// TotalDeposits is the pool's net asset value: deposits plus realized
	// returns minus withdrawals.
	TotalDeposits *big.Int `json:"totalDeposits"`
	// TotalAllocated is the senior capital currently deployed into deals.
	TotalAllocated *big.Int `json:"totalAllocated"`
}

// Clone returns a deep copy of the pool state.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalDeposits = cloneBigInt(p.TotalDeposits)
	clone.TotalAllocated = cloneBigInt(p.TotalAllocated)
	return &clone
}

// FeeAccrual captures the in-flight underwriter and performance fee totals
// retained by the protocol before returns are credited to positions.
type FeeAccrual struct {
	UnderwriterFees *big.Int `json:"underwriterFees"`
	PerformanceFees *big.Int `json:"performanceFees"`
}

// Clone returns a deep copy of the fee accrual.
func (f *FeeAccrual) Clone() *FeeAccrual {
	if f == nil {
		return nil
	}
	clone := *f
	clone.UnderwriterFees = cloneBigInt(f.UnderwriterFees)
	clone.PerformanceFees = cloneBigInt(f.PerformanceFees)
	return &clone
}

// FeeKind selects which accrued fee bucket a withdrawal draws from.
type FeeKind uint8

const (
	FeeUnderwriter FeeKind = 1
	FeePerformance FeeKind = 2
)

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
