package deal

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"valchi/core/events"
	"valchi/core/types"
	"valchi/crypto"
	nativecommon "valchi/native/common"
)

var (
	errNilState            = errors.New("deal engine: state not configured")
	errInvalidAmount       = errors.New("deal engine: amount must be positive")
	errInvalidTranche      = errors.New("deal engine: unknown tranche")
	errInsufficientBalance = errors.New("deal engine: insufficient balance")
	errTermActive          = errors.New("deal engine: repayment term still running")

	// ErrDealNotFound is returned when the identifier resolves to no deal.
	ErrDealNotFound = errors.New("deal engine: deal not found")
	// ErrInvalidTransition is returned for any attempted backward or skip
	// transition, including operations against terminal deals.
	ErrInvalidTransition = errors.New("deal engine: invalid status transition")
	// ErrDealNotFunding is returned when a tranche contribution targets a
	// deal outside the Funding window.
	ErrDealNotFunding = errors.New("deal engine: deal is not accepting funding")
	// ErrFundingClosed is returned for contributions after the funding
	// deadline has elapsed.
	ErrFundingClosed = errors.New("deal engine: funding deadline elapsed")
	// ErrFundingTarget is returned when a contribution would push a tranche
	// past its funding cap.
	ErrFundingTarget = errors.New("deal engine: contribution exceeds tranche target")
	// ErrInsufficientShares is returned when a burn or redemption exceeds
	// the investor's tranche balance.
	ErrInsufficientShares = errors.New("deal engine: insufficient tranche shares")
	// ErrAlreadyRedeemed is returned when a claim's payout was collected.
	ErrAlreadyRedeemed = errors.New("deal engine: tranche claim already redeemed")
)

var basisPoints = big.NewInt(10_000)

const (
	moduleName    = "deal"
	secondsPerDay = 86_400
)

type engineState interface {
	DealGet(id DealID) (*Deal, bool, error)
	DealPut(*Deal) error
	TrancheBalanceGet(id DealID, tranche Tranche, investor crypto.Address) (*TrancheBalance, error)
	TrancheBalancePut(*TrancheBalance) error
	TrancheTotalsGet(id DealID, tranche Tranche) (*TrancheTotals, error)
	TrancheTotalsPut(*TrancheTotals) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Engine runs the tranche accounting and lifecycle transitions for deals: it
// mints and burns investor claims while a deal raises capital, drives the
// forward-only status machine, and applies the repayment waterfall. All
// state-changing methods are serialized through an internal lock so tranche
// totals never see torn updates.
type Engine struct {
	mu        sync.Mutex
	state     engineState
	vault     crypto.Address
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	graceDays uint64
	nowFn     func() int64
}

// NewEngine constructs a deal engine custodying funds in the given vault
// address.
func NewEngine(vault crypto.Address) *Engine {
	return &Engine{
		vault:   vault,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the engine to the operator pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetGracePeriod configures the days past term before a deal may be marked
// defaulted.
func (e *Engine) SetGracePeriod(days uint64) {
	if e == nil {
		return
	}
	e.graceDays = days
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// OpenFunding arms a created deal for tranche contributions until the given
// deadline.
func (e *Engine) OpenFunding(id DealID, deadline int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	if !d.Status.canAdvanceTo(DealFunding) {
		return ErrInvalidTransition
	}
	if deadline <= e.nowFn() {
		return ErrInvalidTerms
	}
	d.Status = DealFunding
	d.FundingDeadline = deadline
	if err := e.state.DealPut(d); err != nil {
		return err
	}
	e.emit(newFundingOpenedEvent(d))
	return nil
}

// Mint accepts a tranche contribution while the deal is funding. The investor
// pays the full amount or the call fails with no residual effect. Junior
// contributions are capped at the junior target; senior contributions are
// capped at leverage times the junior capital already committed. When the
// junior target is reached the deal activates and the borrower draws the
// principal.
func (e *Engine) Mint(investor crypto.Address, id DealID, tranche Tranche, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !tranche.Valid() {
		return errInvalidTranche
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	juniorTotals, seniorTotals, err := e.contributionCheck(d, tranche, amount)
	if err != nil {
		return err
	}

	investorAcc, err := e.loadAccount(investor)
	if err != nil {
		return err
	}
	if investorAcc.BalanceStable.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return err
	}
	// If this contribution completes the junior target the deal activates and
	// the borrower draws the principal in the same call; verify the vault can
	// cover that draw before any account is touched.
	if tranche == TrancheJunior {
		projected := new(big.Int).Add(juniorTotals.Funded, amount)
		if projected.Cmp(d.JuniorTarget) >= 0 {
			covered := new(big.Int).Add(vaultAcc.BalanceStable, amount)
			if covered.Cmp(d.Principal) < 0 {
				return errInsufficientBalance
			}
		}
	}

	balance, err := e.loadBalance(id, tranche, investor)
	if err != nil {
		return err
	}

	investorAcc.BalanceStable = new(big.Int).Sub(investorAcc.BalanceStable, amount)
	vaultAcc.BalanceStable = new(big.Int).Add(vaultAcc.BalanceStable, amount)
	if err := e.state.PutAccount(investor, investorAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.vault, vaultAcc); err != nil {
		return err
	}

	balance.Shares = new(big.Int).Add(balance.Shares, amount)
	balance.CostBasis = new(big.Int).Add(balance.CostBasis, amount)
	totals := juniorTotals
	if tranche == TrancheSenior {
		totals = seniorTotals
	}
	totals.Shares = new(big.Int).Add(totals.Shares, amount)
	totals.Funded = new(big.Int).Add(totals.Funded, amount)

	if err := e.state.TrancheBalancePut(balance); err != nil {
		return err
	}
	if err := e.state.TrancheTotalsPut(totals); err != nil {
		return err
	}
	e.emit(newMintedEvent(d, investor, tranche, amount))

	if tranche == TrancheJunior && totals.Funded.Cmp(d.JuniorTarget) >= 0 {
		if err := e.activate(d, totals.Funded, seniorTotals.Funded); err != nil {
			return err
		}
		return nil
	}
	return e.state.DealPut(d)
}

// CheckContribution reports whether a tranche contribution of amount would be
// accepted right now, without applying anything. Callers routing several
// contributions in one batch validate every leg through this before the first
// mint so a rejected leg leaves no residue.
func (e *Engine) CheckContribution(id DealID, tranche Tranche, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !tranche.Valid() {
		return errInvalidTranche
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	_, _, err = e.contributionCheck(d, tranche, amount)
	return err
}

// contributionCheck validates the funding window and tranche caps for a
// contribution and returns the current tranche totals. Caller holds the engine
// lock.
func (e *Engine) contributionCheck(d *Deal, tranche Tranche, amount *big.Int) (*TrancheTotals, *TrancheTotals, error) {
	if d.Status != DealFunding {
		return nil, nil, ErrDealNotFunding
	}
	if d.FundingDeadline > 0 && e.nowFn() > d.FundingDeadline {
		return nil, nil, ErrFundingClosed
	}
	juniorTotals, err := e.loadTotals(d.ID, TrancheJunior)
	if err != nil {
		return nil, nil, err
	}
	seniorTotals, err := e.loadTotals(d.ID, TrancheSenior)
	if err != nil {
		return nil, nil, err
	}
	switch tranche {
	case TrancheJunior:
		projected := new(big.Int).Add(juniorTotals.Funded, amount)
		if projected.Cmp(d.JuniorTarget) > 0 {
			return nil, nil, ErrFundingTarget
		}
	case TrancheSenior:
		cap := new(big.Int).Mul(juniorTotals.Funded, new(big.Int).SetUint64(d.Params.Leverage))
		projected := new(big.Int).Add(seniorTotals.Funded, amount)
		if projected.Cmp(cap) > 0 {
			return nil, nil, ErrFundingTarget
		}
	}
	return juniorTotals, seniorTotals, nil
}

// activate moves a fully funded deal into Active, fixes the repayment
// entitlements, and pays the drawn principal out to the borrower. Caller holds
// the engine lock.
func (e *Engine) activate(d *Deal, juniorFunded, seniorFunded *big.Int) error {
	if !d.Status.canAdvanceTo(DealActive) {
		return ErrInvalidTransition
	}
	totalFunded := new(big.Int).Add(juniorFunded, seniorFunded)
	d.TotalOwed = applyRate(totalFunded, d.InterestRateBps)
	d.SeniorEntitlement = applyRate(seniorFunded, d.InterestRateBps)
	d.Status = DealActive
	d.ActivatedAt = e.nowFn()

	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return err
	}
	if vaultAcc.BalanceStable.Cmp(d.Principal) < 0 {
		return errInsufficientBalance
	}
	borrowerAcc, err := e.loadAccount(d.Borrower)
	if err != nil {
		return err
	}
	vaultAcc.BalanceStable = new(big.Int).Sub(vaultAcc.BalanceStable, d.Principal)
	borrowerAcc.BalanceStable = new(big.Int).Add(borrowerAcc.BalanceStable, d.Principal)
	if err := e.state.PutAccount(e.vault, vaultAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(d.Borrower, borrowerAcc); err != nil {
		return err
	}
	if err := e.state.DealPut(d); err != nil {
		return err
	}
	e.emit(newActivatedEvent(d))
	return nil
}

// BeginRepayment moves an active deal into the repayment phase.
func (e *Engine) BeginRepayment(id DealID) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	if !d.Status.canAdvanceTo(DealRepaying) || d.Status != DealActive {
		return ErrInvalidTransition
	}
	d.Status = DealRepaying
	if err := e.state.DealPut(d); err != nil {
		return err
	}
	e.emit(newRepayingEvent(d))
	return nil
}

// Distribute applies one borrower payment through the waterfall: the senior
// tranche is paid first up to its contractual entitlement, the remainder flows
// to junior, and anything beyond the total owed is retained as residual. The
// deal closes once the total owed has been distributed.
func (e *Engine) Distribute(id DealID, amount *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, errInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return nil, nil, err
	}
	if d.Status != DealRepaying {
		return nil, nil, ErrInvalidTransition
	}

	borrowerAcc, err := e.loadAccount(d.Borrower)
	if err != nil {
		return nil, nil, err
	}
	if borrowerAcc.BalanceStable.Cmp(amount) < 0 {
		return nil, nil, errInsufficientBalance
	}
	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return nil, nil, err
	}
	borrowerAcc.BalanceStable = new(big.Int).Sub(borrowerAcc.BalanceStable, amount)
	vaultAcc.BalanceStable = new(big.Int).Add(vaultAcc.BalanceStable, amount)
	if err := e.state.PutAccount(d.Borrower, borrowerAcc); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutAccount(e.vault, vaultAcc); err != nil {
		return nil, nil, err
	}

	seniorPay, juniorPay := waterfall(d, amount)
	d.DistributedSenior = new(big.Int).Add(d.DistributedSenior, seniorPay)
	d.DistributedJunior = new(big.Int).Add(d.DistributedJunior, juniorPay)
	leftover := new(big.Int).Sub(amount, seniorPay)
	leftover.Sub(leftover, juniorPay)
	if leftover.Sign() > 0 {
		d.Residual = new(big.Int).Add(d.Residual, leftover)
	}
	d.LastSeniorPayout = new(big.Int).Set(seniorPay)
	d.LastJuniorPayout = new(big.Int).Set(juniorPay)

	distributed := new(big.Int).Add(d.DistributedSenior, d.DistributedJunior)
	closed := distributed.Cmp(d.TotalOwed) >= 0
	if closed {
		d.Status = DealClosed
	}
	if err := e.state.DealPut(d); err != nil {
		return nil, nil, err
	}
	e.emit(newDistributedEvent(d, seniorPay, juniorPay))
	if closed {
		e.emit(newClosedEvent(d))
	}
	return seniorPay, juniorPay, nil
}

// MarkDefaulted records a borrower failure after term plus grace. Remaining
// undrawn deal funds are applied through the waterfall one last time, then
// losses are allocated junior-first.
func (e *Engine) MarkDefaulted(id DealID, now int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	if !d.Status.canAdvanceTo(DealDefaulted) {
		return ErrInvalidTransition
	}
	deadline := d.ActivatedAt + int64(d.TermDays+e.graceDays)*secondsPerDay
	if now < deadline {
		return errTermActive
	}

	juniorTotals, err := e.loadTotals(id, TrancheJunior)
	if err != nil {
		return err
	}
	seniorTotals, err := e.loadTotals(id, TrancheSenior)
	if err != nil {
		return err
	}

	// Senior capital beyond the drawn principal never left the vault; apply
	// it as a final recovery distribution before booking losses.
	totalFunded := new(big.Int).Add(juniorTotals.Funded, seniorTotals.Funded)
	undrawn := new(big.Int).Sub(totalFunded, d.Principal)
	if undrawn.Sign() > 0 {
		seniorPay, juniorPay := waterfall(d, undrawn)
		d.DistributedSenior = new(big.Int).Add(d.DistributedSenior, seniorPay)
		d.DistributedJunior = new(big.Int).Add(d.DistributedJunior, juniorPay)
		d.LastSeniorPayout = new(big.Int).Set(seniorPay)
		d.LastJuniorPayout = new(big.Int).Set(juniorPay)
	}

	juniorClaim := new(big.Int).Sub(d.TotalOwed, d.SeniorEntitlement)
	d.JuniorLoss = new(big.Int).Sub(juniorClaim, d.DistributedJunior)
	if d.JuniorLoss.Sign() < 0 {
		d.JuniorLoss = big.NewInt(0)
	}
	d.SeniorLoss = new(big.Int).Sub(d.SeniorEntitlement, d.DistributedSenior)
	if d.SeniorLoss.Sign() < 0 {
		d.SeniorLoss = big.NewInt(0)
	}
	d.Status = DealDefaulted
	if err := e.state.DealPut(d); err != nil {
		return err
	}
	e.emit(newDefaultedEvent(d))
	return nil
}

// Burn reduces an investor's tranche claim. Burning is only meaningful once
// repayment has started; during funding it would break the funded-total
// invariant.
func (e *Engine) Burn(investor crypto.Address, id DealID, tranche Tranche, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !tranche.Valid() {
		return errInvalidTranche
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return err
	}
	if d.Status == DealCreated || d.Status == DealFunding || d.Status == DealActive {
		return ErrInvalidTransition
	}
	balance, err := e.loadBalance(id, tranche, investor)
	if err != nil {
		return err
	}
	if balance.Shares.Cmp(amount) < 0 {
		return ErrInsufficientShares
	}
	totals, err := e.loadTotals(id, tranche)
	if err != nil {
		return err
	}
	balance.Shares = new(big.Int).Sub(balance.Shares, amount)
	totals.Shares = new(big.Int).Sub(totals.Shares, amount)
	if err := e.state.TrancheBalancePut(balance); err != nil {
		return err
	}
	if err := e.state.TrancheTotalsPut(totals); err != nil {
		return err
	}
	e.emit(newBurnedEvent(d, investor, tranche, amount))
	return nil
}

// Redeem burns an investor's entire claim in a terminal deal and pays out
// their pro-rata share of the tranche's cumulative distributions. Division
// remainders stay in the vault.
func (e *Engine) Redeem(investor crypto.Address, id DealID, tranche Tranche) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !tranche.Valid() {
		return nil, errInvalidTranche
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	if !d.Status.Terminal() {
		return nil, ErrInvalidTransition
	}
	balance, err := e.loadBalance(id, tranche, investor)
	if err != nil {
		return nil, err
	}
	if balance.Redeemed {
		return nil, ErrAlreadyRedeemed
	}
	if balance.Shares.Sign() == 0 {
		return nil, ErrInsufficientShares
	}
	totals, err := e.loadTotals(id, tranche)
	if err != nil {
		return nil, err
	}
	if totals.Funded.Sign() == 0 {
		return nil, ErrInsufficientShares
	}

	distributed := d.DistributedJunior
	if tranche == TrancheSenior {
		distributed = d.DistributedSenior
	}
	payout := new(big.Int).Mul(balance.Shares, distributed)
	payout.Quo(payout, totals.Funded)

	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return nil, err
	}
	if vaultAcc.BalanceStable.Cmp(payout) < 0 {
		return nil, errInsufficientBalance
	}
	investorAcc, err := e.loadAccount(investor)
	if err != nil {
		return nil, err
	}

	shares := new(big.Int).Set(balance.Shares)
	vaultAcc.BalanceStable = new(big.Int).Sub(vaultAcc.BalanceStable, payout)
	investorAcc.BalanceStable = new(big.Int).Add(investorAcc.BalanceStable, payout)
	if err := e.state.PutAccount(e.vault, vaultAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(investor, investorAcc); err != nil {
		return nil, err
	}

	balance.Shares = big.NewInt(0)
	balance.Redeemed = true
	totals.Shares = new(big.Int).Sub(totals.Shares, shares)
	if err := e.state.TrancheBalancePut(balance); err != nil {
		return nil, err
	}
	if err := e.state.TrancheTotalsPut(totals); err != nil {
		return nil, err
	}
	e.emit(newRedeemedEvent(d, investor, tranche, payout))
	return payout, nil
}

// PayoutShare returns the investor's pro-rata slice of the tranche's
// allocation in the most recent repayment event. Pure read.
func (e *Engine) PayoutShare(id DealID, investor crypto.Address, tranche Tranche) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !tranche.Valid() {
		return nil, errInvalidTranche
	}
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	balance, err := e.loadBalance(id, tranche, investor)
	if err != nil {
		return nil, err
	}
	totals, err := e.loadTotals(id, tranche)
	if err != nil {
		return nil, err
	}
	if totals.Shares.Sign() == 0 || balance.Shares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	last := d.LastJuniorPayout
	if tranche == TrancheSenior {
		last = d.LastSeniorPayout
	}
	share := new(big.Int).Mul(balance.Shares, last)
	share.Quo(share, totals.Shares)
	return share, nil
}

// Deal returns a copy of the stored deal.
func (e *Engine) Deal(id DealID) (*Deal, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	d, err := e.loadDeal(id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// Status returns the deal's current lifecycle status.
func (e *Engine) Status(id DealID) (DealStatus, error) {
	d, err := e.Deal(id)
	if err != nil {
		return 0, err
	}
	return d.Status, nil
}

// JuniorAtRisk returns the first-loss capital committed to the deal, the base
// of the leverage bound on senior exposure.
func (e *Engine) JuniorAtRisk(id DealID) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadDeal(id); err != nil {
		return nil, err
	}
	totals, err := e.loadTotals(id, TrancheJunior)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(totals.Funded), nil
}

// SeniorAllocated returns the senior capital committed to the deal.
func (e *Engine) SeniorAllocated(id DealID) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadDeal(id); err != nil {
		return nil, err
	}
	totals, err := e.loadTotals(id, TrancheSenior)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(totals.Funded), nil
}

// TrancheBalance returns a copy of the investor's claim in a tranche, or nil
// when none exists.
func (e *Engine) TrancheBalance(id DealID, tranche Tranche, investor crypto.Address) (*TrancheBalance, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	balance, err := e.state.TrancheBalanceGet(id, tranche, investor)
	if err != nil {
		return nil, err
	}
	return balance.Clone(), nil
}

// waterfall splits an available amount between the tranches: senior first up
// to its remaining entitlement, junior next up to its remaining claim.
func waterfall(d *Deal, available *big.Int) (seniorPay, juniorPay *big.Int) {
	seniorOut := new(big.Int).Sub(d.SeniorEntitlement, d.DistributedSenior)
	if seniorOut.Sign() < 0 {
		seniorOut = big.NewInt(0)
	}
	seniorPay = new(big.Int).Set(available)
	if seniorPay.Cmp(seniorOut) > 0 {
		seniorPay = seniorOut
	}
	remainder := new(big.Int).Sub(available, seniorPay)

	juniorClaim := new(big.Int).Sub(d.TotalOwed, d.SeniorEntitlement)
	juniorOut := new(big.Int).Sub(juniorClaim, d.DistributedJunior)
	if juniorOut.Sign() < 0 {
		juniorOut = big.NewInt(0)
	}
	juniorPay = remainder
	if juniorPay.Cmp(juniorOut) > 0 {
		juniorPay = juniorOut
	}
	return new(big.Int).Set(seniorPay), new(big.Int).Set(juniorPay)
}

// applyRate returns amount scaled by (1 + rateBps/10000), truncating the
// division remainder.
func applyRate(amount *big.Int, rateBps uint64) *big.Int {
	scaled := new(big.Int).Mul(amount, new(big.Int).SetUint64(10_000+rateBps))
	return scaled.Quo(scaled, basisPoints)
}

func (e *Engine) loadDeal(id DealID) (*Deal, error) {
	d, ok, err := e.state.DealGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || d == nil {
		return nil, ErrDealNotFound
	}
	return d, nil
}

func (e *Engine) loadBalance(id DealID, tranche Tranche, investor crypto.Address) (*TrancheBalance, error) {
	balance, err := e.state.TrancheBalanceGet(id, tranche, investor)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = &TrancheBalance{
			DealID:    id,
			Investor:  investor,
			Tranche:   tranche,
			Shares:    big.NewInt(0),
			CostBasis: big.NewInt(0),
		}
	}
	if balance.Shares == nil {
		balance.Shares = big.NewInt(0)
	}
	if balance.CostBasis == nil {
		balance.CostBasis = big.NewInt(0)
	}
	return balance, nil
}

func (e *Engine) loadTotals(id DealID, tranche Tranche) (*TrancheTotals, error) {
	totals, err := e.state.TrancheTotalsGet(id, tranche)
	if err != nil {
		return nil, err
	}
	if totals == nil {
		totals = &TrancheTotals{
			DealID:  id,
			Tranche: tranche,
			Shares:  big.NewInt(0),
			Funded:  big.NewInt(0),
		}
	}
	if totals.Shares == nil {
		totals.Shares = big.NewInt(0)
	}
	if totals.Funded == nil {
		totals.Funded = big.NewInt(0)
	}
	return totals, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{BalanceStable: big.NewInt(0)}
	}
	if acc.BalanceStable == nil {
		acc.BalanceStable = big.NewInt(0)
	}
	return acc, nil
}

type dealEvent struct {
	evt *types.Event
}

func (e dealEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e dealEvent) Event() *types.Event { return e.evt }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(dealEvent{evt: event})
}
