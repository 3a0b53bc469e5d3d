package deal

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"valchi/crypto"
	"valchi/native/registry"
)

// DealID uniquely identifies a deal. IDs are keccak256 digests derived from
// the borrower, reference asset and creation sequence, so they are
// deterministic without a global counter in the hot path.
type DealID [32]byte

// Hex returns the lowercase hex encoding of the identifier.
func (id DealID) Hex() string { return hex.EncodeToString(id[:]) }

// MarshalText renders the identifier as hex so JSON records stay readable.
func (id DealID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText parses a hex-encoded identifier.
func (id *DealID) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(decoded) != len(id) {
		return fmt.Errorf("deal: invalid identifier length %d", len(decoded))
	}
	copy(id[:], decoded)
	return nil
}

// ParseDealID decodes a hex-encoded deal identifier.
func ParseDealID(encoded string) (DealID, error) {
	var id DealID
	if err := id.UnmarshalText([]byte(encoded)); err != nil {
		return DealID{}, err
	}
	return id, nil
}

// DealStatus enumerates the lifecycle states of a deal. Transitions only ever
// move forward; Closed and Defaulted are terminal.
type DealStatus uint8

const (
	DealCreated DealStatus = iota
	DealFunding
	DealActive
	DealRepaying
	DealClosed
	DealDefaulted
)

// Valid reports whether the status value is within the supported range.
func (s DealStatus) Valid() bool {
	switch s {
	case DealCreated, DealFunding, DealActive, DealRepaying, DealClosed, DealDefaulted:
		return true
	default:
		return false
	}
}

func (s DealStatus) String() string {
	switch s {
	case DealCreated:
		return "created"
	case DealFunding:
		return "funding"
	case DealActive:
		return "active"
	case DealRepaying:
		return "repaying"
	case DealClosed:
		return "closed"
	case DealDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s DealStatus) Terminal() bool {
	return s == DealClosed || s == DealDefaulted
}

// canAdvanceTo encodes the forward-only transition table.
func (s DealStatus) canAdvanceTo(next DealStatus) bool {
	switch s {
	case DealCreated:
		return next == DealFunding
	case DealFunding:
		return next == DealActive
	case DealActive:
		return next == DealRepaying || next == DealDefaulted
	case DealRepaying:
		return next == DealClosed || next == DealDefaulted
	default:
		return false
	}
}

// Tranche identifies a risk slice of the capital structure. Senior is paid
// first on distributions and absorbs losses last; junior is first-loss.
type Tranche uint8

const (
	TrancheSenior Tranche = 1
	TrancheJunior Tranche = 2
)

// Valid reports whether the tranche value is supported.
func (t Tranche) Valid() bool {
	return t == TrancheSenior || t == TrancheJunior
}

func (t Tranche) String() string {
	switch t {
	case TrancheSenior:
		return "senior"
	case TrancheJunior:
		return "junior"
	default:
		return "unknown"
	}
}

// Deal captures a single borrower-facing loan together with the registry
// snapshot taken at creation. Amounts are denominated in the smallest unit of
// the reference asset.
type Deal struct {
	ID              DealID          `json:"id"`
	Borrower        crypto.Address  `json:"borrower"`
	Principal       *big.Int        `json:"principal"`
	InterestRateBps uint64          `json:"interestRateBps"`
	TermDays        uint64          `json:"termDays"`
	Status          DealStatus      `json:"status"`
	ReferenceAsset  crypto.Address  `json:"referenceAsset"`
	Params          registry.Params `json:"params"`

	CreatedAt       int64 `json:"createdAt"`
	FundingDeadline int64 `json:"fundingDeadline"`
	ActivatedAt     int64 `json:"activatedAt"`

	// JuniorTarget is the first-loss capital the deal must raise before it
	// activates; it equals the loan principal.
	JuniorTarget *big.Int `json:"juniorTarget"`

	// Repayment accounting, fixed at activation.
	TotalOwed         *big.Int `json:"totalOwed"`
	SeniorEntitlement *big.Int `json:"seniorEntitlement"`
	DistributedSenior *big.Int `json:"distributedSenior"`
	DistributedJunior *big.Int `json:"distributedJunior"`
	// Residual accumulates division remainders and overpayments that are
	// deliberately retained instead of distributed.
	Residual *big.Int `json:"residual"`

	// Loss allocation recorded when the deal defaults.
	JuniorLoss *big.Int `json:"juniorLoss"`
	SeniorLoss *big.Int `json:"seniorLoss"`

	// Per-tranche allocation of the most recent repayment event, the basis
	// for pro-rata payout views.
	LastSeniorPayout *big.Int `json:"lastSeniorPayout"`
	LastJuniorPayout *big.Int `json:"lastJuniorPayout"`
}

// Clone returns a deep copy of the deal.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Principal = cloneBigInt(d.Principal)
	clone.JuniorTarget = cloneBigInt(d.JuniorTarget)
	clone.TotalOwed = cloneBigInt(d.TotalOwed)
	clone.SeniorEntitlement = cloneBigInt(d.SeniorEntitlement)
	clone.DistributedSenior = cloneBigInt(d.DistributedSenior)
	clone.DistributedJunior = cloneBigInt(d.DistributedJunior)
	clone.Residual = cloneBigInt(d.Residual)
	clone.JuniorLoss = cloneBigInt(d.JuniorLoss)
	clone.SeniorLoss = cloneBigInt(d.SeniorLoss)
	clone.LastSeniorPayout = cloneBigInt(d.LastSeniorPayout)
	clone.LastJuniorPayout = cloneBigInt(d.LastJuniorPayout)
	return &clone
}

// TrancheBalance records one investor's claim in one tranche of a deal.
type TrancheBalance struct {
	DealID   DealID         `json:"dealId"`
	Investor crypto.Address `json:"investor"`
	Tranche  Tranche        `json:"tranche"`
	Shares   *big.Int       `json:"shares"`
	// CostBasis is the cumulative amount the investor funded into the
	// tranche; it never decreases on burns.
	CostBasis *big.Int `json:"costBasis"`
	// Redeemed flags a claim whose payout has been collected.
	Redeemed bool `json:"redeemed"`
}

// Clone returns a deep copy of the balance record.
func (b *TrancheBalance) Clone() *TrancheBalance {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Shares = cloneBigInt(b.Shares)
	clone.CostBasis = cloneBigInt(b.CostBasis)
	return &clone
}

// TrancheTotals aggregates a tranche's share supply and cumulative funding.
// Funded only ever grows; Shares shrink as claims are burned on redemption.
type TrancheTotals struct {
	DealID  DealID   `json:"dealId"`
	Tranche Tranche  `json:"tranche"`
	Shares  *big.Int `json:"shares"`
	Funded  *big.Int `json:"funded"`
}

// Clone returns a deep copy of the totals record.
func (t *TrancheTotals) Clone() *TrancheTotals {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Shares = cloneBigInt(t.Shares)
	clone.Funded = cloneBigInt(t.Funded)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
