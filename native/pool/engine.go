package pool

import (
	"errors"
	"math/big"
	"sync"

	"valchi/core/events"
	"valchi/core/types"
	"valchi/crypto"
	nativecommon "valchi/native/common"
	"valchi/native/deal"
	"valchi/native/registry"
)

var (
	errNilState              = errors.New("liquidity pool: state not configured")
	errNilDealView           = errors.New("liquidity pool: deal view not configured")
	errNilMinter             = errors.New("liquidity pool: senior minter not configured")
	errInvalidAmount         = errors.New("liquidity pool: amount must be positive")
	errInsufficientLiquidity = errors.New("liquidity pool: insufficient vault liquidity")
	errUnknownFeeKind        = errors.New("liquidity pool: unknown fee kind")

	// ErrInsufficientBalance is returned when a withdrawal or redemption
	// request exceeds the holder's shares.
	ErrInsufficientBalance = errors.New("liquidity pool: insufficient shares")
	// ErrReserveRatioBreach is returned when an operation would push
	// available liquidity below the configured reserve floor.
	ErrReserveRatioBreach = errors.New("liquidity pool: reserve ratio breached")
	// ErrLeverageExceeded is returned when a senior allocation would exceed
	// the leverage multiple of the deal's junior first-loss capital.
	ErrLeverageExceeded = errors.New("liquidity pool: leverage cap exceeded")
	// ErrUnauthorized is returned when a caller other than the fee authority
	// withdraws accrued fees.
	ErrUnauthorized = errors.New("liquidity pool: caller lacks fee authority")
)

const moduleName = "liquidityPool"

var basisPoints = big.NewInt(10_000)

type engineState interface {
	PoolGet() (*Pool, error)
	PoolPut(*Pool) error
	PositionGet(investor crypto.Address) (*Position, error)
	PositionPut(*Position) error
	AllocationGet(id deal.DealID) (*big.Int, error)
	AllocationPut(id deal.DealID, amount *big.Int) error
	PoolFeesGet() (*FeeAccrual, error)
	PoolFeesPut(*FeeAccrual) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// DealView exposes the read side of the deal engine the pool needs for its
// leverage bound.
type DealView interface {
	JuniorAtRisk(id deal.DealID) (*big.Int, error)
}

// SeniorMinter mints senior tranche claims when pooled capital backs a deal.
// The deal engine satisfies this interface.
type SeniorMinter interface {
	Mint(investor crypto.Address, id deal.DealID, tranche deal.Tranche, amount *big.Int) error
}

// FlowGuard lets the conversion pool freeze deposits and withdrawals while a
// cycle is settling.
type FlowGuard interface {
	Guard() error
}

// Engine runs the senior liquidity facility: pooled deposits, the reserve
// floor, leverage-bounded allocations into deals, and the fee split on
// realized returns. The engine captures its economic parameters from a
// registry snapshot at construction and never re-resolves them.
type Engine struct {
	mu        sync.Mutex
	state     engineState
	vault     crypto.Address
	params    registry.Params
	authority crypto.Address
	deals     DealView
	minter    SeniorMinter
	guard     FlowGuard
	emitter   events.Emitter
	pauses    nativecommon.PauseView
}

// NewEngine constructs a pool engine custodying funds in the given vault,
// configured with the snapshotted protocol parameters.
func NewEngine(vault crypto.Address, params registry.Params) *Engine {
	return &Engine{
		vault:   vault,
		params:  params,
		emitter: events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetDealView wires the read side of the deal engine.
func (e *Engine) SetDealView(view DealView) { e.deals = view }

// SetSeniorMinter wires the tranche minter used by allocations.
func (e *Engine) SetSeniorMinter(minter SeniorMinter) { e.minter = minter }

// SetFlowGuard wires the conversion-cycle freeze check. Passing nil disables
// the guard.
func (e *Engine) SetFlowGuard(guard FlowGuard) { e.guard = guard }

// SetFeeAuthority sets the address allowed to withdraw accrued fees. While
// unset, fee withdrawals are refused.
func (e *Engine) SetFeeAuthority(authority crypto.Address) { e.authority = authority }

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

func (e *Engine) flowGuard() error {
	if e.guard == nil {
		return nil
	}
	return e.guard.Guard()
}

// Deposit credits pooled senior capital for the investor. The credit is
// rejected when it would leave available liquidity under the reserve floor of
// the grown pool.
func (e *Engine) Deposit(investor crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := e.flowGuard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.loadPool()
	if err != nil {
		return err
	}
	grownDeposits := new(big.Int).Add(p.TotalDeposits, amount)
	available := new(big.Int).Sub(grownDeposits, p.TotalAllocated)
	if available.Cmp(reserveFloor(grownDeposits, e.params.DefaultReserveRatioBps)) < 0 {
		return ErrReserveRatioBreach
	}

	investorAcc, err := e.loadAccount(investor)
	if err != nil {
		return err
	}
	if investorAcc.BalanceStable.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return err
	}
	position, err := e.loadPosition(investor)
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

	position.Shares = new(big.Int).Add(position.Shares, amount)
	position.Deposited = new(big.Int).Add(position.Deposited, amount)
	p.TotalDeposits = grownDeposits
	if err := e.state.PositionPut(position); err != nil {
		return err
	}
	if err := e.state.PoolPut(p); err != nil {
		return err
	}
	e.emit(newDepositedEvent(investor, amount, p))
	return nil
}

// Withdraw releases pooled capital back to the investor. The withdrawal fails
// when the resulting available liquidity would drop under the reserve floor
// of the pool's current deposits, or when the amount exceeds the holder's
// unencumbered shares.
func (e *Engine) Withdraw(investor crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := e.flowGuard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.loadPool()
	if err != nil {
		return err
	}
	position, err := e.loadPosition(investor)
	if err != nil {
		return err
	}
	if position.Shares.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	// The floor is evaluated against the pool as it stands before the
	// withdrawal: pulling the amount out must leave at least
	// reserveRatio × totalDeposits available.
	remaining := new(big.Int).Sub(p.TotalDeposits, p.TotalAllocated)
	remaining.Sub(remaining, amount)
	if remaining.Sign() < 0 || remaining.Cmp(reserveFloor(p.TotalDeposits, e.params.DefaultReserveRatioBps)) < 0 {
		return ErrReserveRatioBreach
	}

	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return err
	}
	if vaultAcc.BalanceStable.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}
	investorAcc, err := e.loadAccount(investor)
	if err != nil {
		return err
	}

	vaultAcc.BalanceStable = new(big.Int).Sub(vaultAcc.BalanceStable, amount)
	investorAcc.BalanceStable = new(big.Int).Add(investorAcc.BalanceStable, amount)
	if err := e.state.PutAccount(e.vault, vaultAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(investor, investorAcc); err != nil {
		return err
	}

	position.Shares = new(big.Int).Sub(position.Shares, amount)
	position.Deposited = new(big.Int).Sub(position.Deposited, amount)
	if position.Deposited.Sign() < 0 {
		position.Deposited = big.NewInt(0)
	}
	if position.PendingRedemption.Cmp(position.Shares) > 0 {
		position.PendingRedemption = new(big.Int).Set(position.Shares)
	}
	p.TotalDeposits = new(big.Int).Sub(p.TotalDeposits, amount)
	if err := e.state.PositionPut(position); err != nil {
		return err
	}
	if err := e.state.PoolPut(p); err != nil {
		return err
	}
	e.emit(newWithdrawnEvent(investor, amount, p))
	return nil
}

// RequestRedemption queues shares for settlement at the next conversion
// cycle. The queued amount can never exceed the holder's shares.
func (e *Engine) RequestRedemption(investor crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	position, err := e.loadPosition(investor)
	if err != nil {
		return err
	}
	queued := new(big.Int).Add(position.PendingRedemption, amount)
	if queued.Cmp(position.Shares) > 0 {
		return ErrInsufficientBalance
	}
	position.PendingRedemption = queued
	return e.state.PositionPut(position)
}

// AllocateToDeal deploys pooled senior capital behind a specific deal. The
// allocation is bounded by leverage × junior capital at risk for that deal
// and by the pool's reserve floor. Lock discipline: the pool lock is taken
// first, then the deal engine is entered; the deal engine never calls back
// into the pool.
func (e *Engine) AllocateToDeal(id deal.DealID, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if e.deals == nil {
		return errNilDealView
	}
	if e.minter == nil {
		return errNilMinter
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.loadPool()
	if err != nil {
		return err
	}
	allocated, err := e.loadAllocation(id)
	if err != nil {
		return err
	}
	juniorAtRisk, err := e.deals.JuniorAtRisk(id)
	if err != nil {
		return err
	}

	cap := new(big.Int).Mul(juniorAtRisk, new(big.Int).SetUint64(e.params.Leverage))
	projected := new(big.Int).Add(allocated, amount)
	if projected.Cmp(cap) > 0 {
		return ErrLeverageExceeded
	}

	available := new(big.Int).Sub(p.TotalDeposits, p.TotalAllocated)
	available.Sub(available, amount)
	if available.Sign() < 0 || available.Cmp(reserveFloor(p.TotalDeposits, e.params.DefaultReserveRatioBps)) < 0 {
		return ErrReserveRatioBreach
	}

	if err := e.minter.Mint(e.vault, id, deal.TrancheSenior, amount); err != nil {
		return err
	}

	p.TotalAllocated = new(big.Int).Add(p.TotalAllocated, amount)
	if err := e.state.AllocationPut(id, projected); err != nil {
		return err
	}
	if err := e.state.PoolPut(p); err != nil {
		return err
	}
	e.emit(newAllocatedEvent(id, amount, p))
	return nil
}

// RealizeReturn books the economics of a repayment event: the underwriter fee
// is taken from gross interest and the performance fee from the realized
// gain, both in basis points with truncated division, and the net return is
// credited to the pool's deposits. Principal returned unwinds the deal's
// allocation. Custody of the underlying funds moves separately through the
// deal's redemption flow.
func (e *Engine) RealizeReturn(id deal.DealID, principalReturned, grossInterest, realizedGain *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}

	gross := cloneOrZero(grossInterest)
	gain := cloneOrZero(realizedGain)
	principal := cloneOrZero(principalReturned)

	underwriterFee := bpsShare(gross, e.params.UnderwriterFeeBps)
	performanceFee := bpsShare(gain, e.params.PerformanceFeeBps)

	net := new(big.Int).Add(gross, gain)
	net.Sub(net, underwriterFee)
	net.Sub(net, performanceFee)

	fees.UnderwriterFees = new(big.Int).Add(fees.UnderwriterFees, underwriterFee)
	fees.PerformanceFees = new(big.Int).Add(fees.PerformanceFees, performanceFee)

	if principal.Sign() > 0 {
		allocated, err := e.loadAllocation(id)
		if err != nil {
			return nil, err
		}
		allocated = new(big.Int).Sub(allocated, principal)
		if allocated.Sign() < 0 {
			allocated = big.NewInt(0)
		}
		p.TotalAllocated = new(big.Int).Sub(p.TotalAllocated, principal)
		if p.TotalAllocated.Sign() < 0 {
			p.TotalAllocated = big.NewInt(0)
		}
		if err := e.state.AllocationPut(id, allocated); err != nil {
			return nil, err
		}
	}
	p.TotalDeposits = new(big.Int).Add(p.TotalDeposits, net)

	if err := e.state.PoolFeesPut(fees); err != nil {
		return nil, err
	}
	if err := e.state.PoolPut(p); err != nil {
		return nil, err
	}
	e.emit(newReturnRealizedEvent(id, net, underwriterFee, performanceFee))
	return net, nil
}

// WithdrawFees transfers accrued protocol fees to the recipient. Only the
// configured fee authority may withdraw.
func (e *Engine) WithdrawFees(caller, recipient crypto.Address, amount *big.Int, kind FeeKind) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.authority.IsZero() || !caller.Equal(e.authority) {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	fees, err := e.loadFees()
	if err != nil {
		return err
	}
	var bucket *big.Int
	switch kind {
	case FeeUnderwriter:
		bucket = fees.UnderwriterFees
	case FeePerformance:
		bucket = fees.PerformanceFees
	default:
		return errUnknownFeeKind
	}
	if bucket.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}

	vaultAcc, err := e.loadAccount(e.vault)
	if err != nil {
		return err
	}
	if vaultAcc.BalanceStable.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}
	recipientAcc, err := e.loadAccount(recipient)
	if err != nil {
		return err
	}

	vaultAcc.BalanceStable = new(big.Int).Sub(vaultAcc.BalanceStable, amount)
	recipientAcc.BalanceStable = new(big.Int).Add(recipientAcc.BalanceStable, amount)
	if err := e.state.PutAccount(e.vault, vaultAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(recipient, recipientAcc); err != nil {
		return err
	}

	switch kind {
	case FeeUnderwriter:
		fees.UnderwriterFees = new(big.Int).Sub(fees.UnderwriterFees, amount)
	case FeePerformance:
		fees.PerformanceFees = new(big.Int).Sub(fees.PerformanceFees, amount)
	}
	return e.state.PoolFeesPut(fees)
}

// Pool returns a copy of the aggregate pool state.
func (e *Engine) Pool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Position returns a copy of the investor's pool position.
func (e *Engine) Position(investor crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.loadPosition(investor)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// Allocation returns the senior capital deployed behind one deal.
func (e *Engine) Allocation(id deal.DealID) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadAllocation(id)
}

// Fees returns a copy of the accrued fee totals.
func (e *Engine) Fees() (*FeeAccrual, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	fees, err := e.loadFees()
	if err != nil {
		return nil, err
	}
	return fees.Clone(), nil
}

// NAV returns the pool's current net asset value.
func (e *Engine) NAV() (*big.Int, error) {
	p, err := e.Pool()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(p.TotalDeposits), nil
}

func reserveFloor(totalDeposits *big.Int, reserveRatioBps uint64) *big.Int {
	floor := new(big.Int).Mul(totalDeposits, new(big.Int).SetUint64(reserveRatioBps))
	return floor.Quo(floor, basisPoints)
}

func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadPool() (*Pool, error) {
	p, err := e.state.PoolGet()
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &Pool{}
	}
	if p.TotalDeposits == nil {
		p.TotalDeposits = big.NewInt(0)
	}
	if p.TotalAllocated == nil {
		p.TotalAllocated = big.NewInt(0)
	}
	return p, nil
}

func (e *Engine) loadPosition(investor crypto.Address) (*Position, error) {
	position, err := e.state.PositionGet(investor)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Investor: investor}
	}
	if position.Shares == nil {
		position.Shares = big.NewInt(0)
	}
	if position.Deposited == nil {
		position.Deposited = big.NewInt(0)
	}
	if position.PendingRedemption == nil {
		position.PendingRedemption = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) loadAllocation(id deal.DealID) (*big.Int, error) {
	allocated, err := e.state.AllocationGet(id)
	if err != nil {
		return nil, err
	}
	if allocated == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(allocated), nil
}

func (e *Engine) loadFees() (*FeeAccrual, error) {
	fees, err := e.state.PoolFeesGet()
	if err != nil {
		return nil, err
	}
	if fees == nil {
		fees = &FeeAccrual{}
	}
	if fees.UnderwriterFees == nil {
		fees.UnderwriterFees = big.NewInt(0)
	}
	if fees.PerformanceFees == nil {
		fees.PerformanceFees = big.NewInt(0)
	}
	return fees, nil
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

type poolEvent struct {
	evt *types.Event
}

func (e poolEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e poolEvent) Event() *types.Event { return e.evt }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(poolEvent{evt: event})
}
