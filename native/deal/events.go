package deal

import (
	"math/big"
	"strconv"

	"valchi/core/types"
	"valchi/crypto"
)

const (
	TypeDealCreated        = "deal.created"
	TypeDealFundingOpened  = "deal.funding.opened"
	TypeDealActivated      = "deal.activated"
	TypeDealRepaying       = "deal.repaying"
	TypeDealDistributed    = "deal.distributed"
	TypeDealClosed         = "deal.closed"
	TypeDealDefaulted      = "deal.defaulted"
	TypeDealTrancheMinted  = "deal.tranche.minted"
	TypeDealTrancheBurned  = "deal.tranche.burned"
	TypeDealClaimRedeemed  = "deal.claim.redeemed"
)

func newCreatedEvent(d *Deal) *types.Event {
	if d == nil {
		return nil
	}
	return &types.Event{
		Type: TypeDealCreated,
		Attributes: map[string]string{
			"deal":      d.ID.Hex(),
			"borrower":  d.Borrower.String(),
			"principal": d.Principal.String(),
			"rateBps":   strconv.FormatUint(d.InterestRateBps, 10),
			"termDays":  strconv.FormatUint(d.TermDays, 10),
		},
	}
}

func newFundingOpenedEvent(d *Deal) *types.Event {
	if d == nil {
		return nil
	}
	return &types.Event{
		Type: TypeDealFundingOpened,
		Attributes: map[string]string{
			"deal":     d.ID.Hex(),
			"deadline": strconv.FormatInt(d.FundingDeadline, 10),
		},
	}
}

func newActivatedEvent(d *Deal) *types.Event {
	if d == nil {
		return nil
	}
	return &types.Event{
		Type: TypeDealActivated,
		Attributes: map[string]string{
			"deal":      d.ID.Hex(),
			"totalOwed": d.TotalOwed.String(),
		},
	}
}

func newRepayingEvent(d *Deal) *types.Event {
	if d == nil {
		return nil
	}
	return &types.Event{
		Type:       TypeDealRepaying,
		Attributes: map[string]string{"deal": d.ID.Hex()},
	}
}

func newDistributedEvent(d *Deal, seniorPay, juniorPay *big.Int) *types.Event {
	if d == nil {
		return nil
	}
	return &types.Event{
		Type: TypeDealDistributed,
		Attributes: map[string]string{
			"deal":   d.ID.Hex(),
			"senior": seniorPay.String(),
			"junior": juniorPay.String(),
		},
	}
}

func newClosedEvent(d *Deal) *types.Event {
	if d == nil {
		return nil
	}
	return &types.Event{
		Type:       TypeDealClosed,
		Attributes: map[string]string{"deal": d.ID.Hex()},
	}
}

func newDefaultedEvent(d *Deal) *types.Event {
	if d == nil {
		return nil
	}
	return &types.Event{
		Type: TypeDealDefaulted,
		Attributes: map[string]string{
			"deal":       d.ID.Hex(),
			"juniorLoss": d.JuniorLoss.String(),
			"seniorLoss": d.SeniorLoss.String(),
		},
	}
}

func newMintedEvent(d *Deal, investor crypto.Address, tranche Tranche, amount *big.Int) *types.Event {
	if d == nil {
		return nil
	}
	return &types.Event{
		Type: TypeDealTrancheMinted,
		Attributes: map[string]string{
			"deal":     d.ID.Hex(),
			"investor": investor.String(),
			"tranche":  tranche.String(),
			"amount":   amount.String(),
		},
	}
}

func newBurnedEvent(d *Deal, investor crypto.Address, tranche Tranche, amount *big.Int) *types.Event {
	if d == nil {
		return nil
	}
	return &types.Event{
		Type: TypeDealTrancheBurned,
		Attributes: map[string]string{
			"deal":     d.ID.Hex(),
			"investor": investor.String(),
			"tranche":  tranche.String(),
			"amount":   amount.String(),
		},
	}
}

func newRedeemedEvent(d *Deal, investor crypto.Address, tranche Tranche, payout *big.Int) *types.Event {
	if d == nil {
		return nil
	}
	return &types.Event{
		Type: TypeDealClaimRedeemed,
		Attributes: map[string]string{
			"deal":     d.ID.Hex(),
			"investor": investor.String(),
			"tranche":  tranche.String(),
			"payout":   payout.String(),
		},
	}
}
