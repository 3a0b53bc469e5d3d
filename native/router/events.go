package router

import (
	"math/big"
	"strconv"

	"valchi/core/types"
	"valchi/crypto"
	"valchi/native/deal"
)

const (
	TypeRouterInvested     = "router.invested"
	TypeRouterPoolInvested = "router.pool.invested"
)

func newInvestedEvent(investor crypto.Address, ids []deal.DealID, total *big.Int) *types.Event {
	return &types.Event{
		Type: TypeRouterInvested,
		Attributes: map[string]string{
			"investor": investor.String(),
			"deals":    strconv.Itoa(len(ids)),
			"total":    total.String(),
		},
	}
}

func newPoolInvestedEvent(investor crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: TypeRouterPoolInvested,
		Attributes: map[string]string{
			"investor": investor.String(),
			"amount":   amount.String(),
		},
	}
}
