package pool

import (
	"math/big"

	"valchi/core/types"
	"valchi/crypto"
	"valchi/native/deal"
)

const (
	TypePoolDeposited      = "pool.deposited"
	TypePoolWithdrawn      = "pool.withdrawn"
	TypePoolAllocated      = "pool.allocated"
	TypePoolReturnRealized = "pool.return.realized"
)

func newDepositedEvent(investor crypto.Address, amount *big.Int, p *Pool) *types.Event {
	return &types.Event{
		Type: TypePoolDeposited,
		Attributes: map[string]string{
			"investor":      investor.String(),
			"amount":        amount.String(),
			"totalDeposits": p.TotalDeposits.String(),
		},
	}
}

func newWithdrawnEvent(investor crypto.Address, amount *big.Int, p *Pool) *types.Event {
	return &types.Event{
		Type: TypePoolWithdrawn,
		Attributes: map[string]string{
			"investor":      investor.String(),
			"amount":        amount.String(),
			"totalDeposits": p.TotalDeposits.String(),
		},
	}
}

func newAllocatedEvent(id deal.DealID, amount *big.Int, p *Pool) *types.Event {
	return &types.Event{
		Type: TypePoolAllocated,
		Attributes: map[string]string{
			"deal":           id.Hex(),
			"amount":         amount.String(),
			"totalAllocated": p.TotalAllocated.String(),
		},
	}
}

func newReturnRealizedEvent(id deal.DealID, net, underwriterFee, performanceFee *big.Int) *types.Event {
	return &types.Event{
		Type: TypePoolReturnRealized,
		Attributes: map[string]string{
			"deal":           id.Hex(),
			"net":            net.String(),
			"underwriterFee": underwriterFee.String(),
			"performanceFee": performanceFee.String(),
		},
	}
}
