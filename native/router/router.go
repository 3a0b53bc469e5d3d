package router

import (
	"errors"
	"math/big"
	"sync"

	"valchi/core/events"
	"valchi/core/types"
	"valchi/crypto"
	nativecommon "valchi/native/common"
	"valchi/native/deal"
)

var (
	errNilState      = errors.New("investors router: state not configured")
	errNilIdentity   = errors.New("investors router: identity registry not configured")
	errNilDealEngine = errors.New("investors router: deal engine not configured")
	errNilPool       = errors.New("investors router: liquidity pool not bound")
	errInvalidAmount = errors.New("investors router: amount must be positive")
	errBatchMismatch = errors.New("investors router: deal and amount counts differ")

	// ErrIdentityNotApproved is returned when the caller holds no approved
	// identity record.
	ErrIdentityNotApproved = errors.New("investors router: identity not approved")
	// ErrTransferFailed is returned when the investor's allowance or balance
	// cannot cover the requested contribution.
	ErrTransferFailed = errors.New("investors router: funds transfer failed")
	// ErrAlreadyBound is returned when the liquidity pool binding is set a
	// second time.
	ErrAlreadyBound = errors.New("investors router: liquidity pool already bound")
)

const moduleName = "investorsRouter"

type routerState interface {
	AllowanceGet(owner crypto.Address) (*big.Int, error)
	AllowancePut(owner crypto.Address, amount *big.Int) error
	GetAccount(addr crypto.Address) (*types.Account, error)
}

// IdentityView answers whether an address holds an approved identity.
// The identity registry satisfies this interface.
type IdentityView interface {
	IsApproved(addr crypto.Address) (bool, error)
}

// TrancheMinter mints junior claims for routed investments. CheckContribution
// validates a contribution against the deal's funding window and caps without
// applying it, so a batch can be vetted in full before the first mint. The
// deal engine satisfies this interface.
type TrancheMinter interface {
	CheckContribution(id deal.DealID, tranche deal.Tranche, amount *big.Int) error
	Mint(investor crypto.Address, id deal.DealID, tranche deal.Tranche, amount *big.Int) error
}

// PoolDepositor accepts routed senior deposits. The liquidity pool engine
// satisfies this interface.
type PoolDepositor interface {
	Deposit(investor crypto.Address, amount *big.Int) error
}

// Router is the single investor-facing entry point. Every investment passes
// the identity gate before any funds move, and contributions spend an
// allowance the investor granted ahead of time.
type Router struct {
	mu       sync.Mutex
	state    routerState
	identity IdentityView
	deals    TrancheMinter
	pool     PoolDepositor
	emitter  events.Emitter
	pauses   nativecommon.PauseView
}

// NewRouter constructs a router gated by the identity registry.
func NewRouter(identity IdentityView) *Router {
	return &Router{
		identity: identity,
		emitter:  events.NoopEmitter{},
	}
}

// SetState wires the router to the external persistence layer.
func (r *Router) SetState(state routerState) { r.state = state }

// SetDealEngine wires the junior tranche minter.
func (r *Router) SetDealEngine(deals TrancheMinter) { r.deals = deals }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (r *Router) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetPauses wires the router to the operator pause switches.
func (r *Router) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// SetLiquidityPool binds the liquidity pool the router deposits into. The
// binding is write-once.
func (r *Router) SetLiquidityPool(pool PoolDepositor) error {
	if r == nil {
		return errNilState
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		return ErrAlreadyBound
	}
	if pool == nil {
		return errNilPool
	}
	r.pool = pool
	return nil
}

// Approve grants the router an allowance to route the owner's funds. The new
// amount replaces any previous allowance.
func (r *Router) Approve(owner crypto.Address, amount *big.Int) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.AllowancePut(owner, new(big.Int).Set(amount))
}

// Allowance returns the router's remaining spend allowance for the owner.
func (r *Router) Allowance(owner crypto.Address) (*big.Int, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	return r.loadAllowance(owner)
}

// InvestInDeals routes junior capital into one or more funding deals in a
// single call. The whole batch is validated before any funds move: if any
// deal would reject its contribution (not funding, deadline elapsed, tranche
// target exceeded), or the combined amount exceeds the investor's allowance or
// balance, nothing is spent.
func (r *Router) InvestInDeals(investor crypto.Address, ids []deal.DealID, amounts []*big.Int) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if r.identity == nil {
		return errNilIdentity
	}
	if r.deals == nil {
		return errNilDealEngine
	}
	if len(ids) == 0 || len(ids) != len(amounts) {
		return errBatchMismatch
	}
	approved, err := r.identity.IsApproved(investor)
	if err != nil {
		return err
	}
	if !approved {
		return ErrIdentityNotApproved
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	total := big.NewInt(0)
	perDeal := make(map[deal.DealID]*big.Int, len(ids))
	order := make([]deal.DealID, 0, len(ids))
	for i, amount := range amounts {
		if amount == nil || amount.Sign() <= 0 {
			return errInvalidAmount
		}
		total.Add(total, amount)
		combined, seen := perDeal[ids[i]]
		if !seen {
			combined = big.NewInt(0)
			perDeal[ids[i]] = combined
			order = append(order, ids[i])
		}
		combined.Add(combined, amount)
	}
	// Legs targeting the same deal are vetted with their combined amount so
	// the batch never fails a tranche cap only after earlier legs applied.
	for _, id := range order {
		if err := r.deals.CheckContribution(id, deal.TrancheJunior, perDeal[id]); err != nil {
			return err
		}
	}

	allowance, err := r.loadAllowance(investor)
	if err != nil {
		return err
	}
	if allowance.Cmp(total) < 0 {
		return ErrTransferFailed
	}
	account, err := r.state.GetAccount(investor)
	if err != nil {
		return err
	}
	if account == nil || account.BalanceStable == nil || account.BalanceStable.Cmp(total) < 0 {
		return ErrTransferFailed
	}

	for i, id := range ids {
		if err := r.deals.Mint(investor, id, deal.TrancheJunior, amounts[i]); err != nil {
			return err
		}
	}
	if err := r.state.AllowancePut(investor, new(big.Int).Sub(allowance, total)); err != nil {
		return err
	}
	r.emit(newInvestedEvent(investor, ids, total))
	return nil
}

// InvestInLiquidityPool routes senior capital into the bound liquidity pool.
func (r *Router) InvestInLiquidityPool(investor crypto.Address, amount *big.Int) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	if r.identity == nil {
		return errNilIdentity
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	approved, err := r.identity.IsApproved(investor)
	if err != nil {
		return err
	}
	if !approved {
		return ErrIdentityNotApproved
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool == nil {
		return errNilPool
	}

	allowance, err := r.loadAllowance(investor)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrTransferFailed
	}
	account, err := r.state.GetAccount(investor)
	if err != nil {
		return err
	}
	if account == nil || account.BalanceStable == nil || account.BalanceStable.Cmp(amount) < 0 {
		return ErrTransferFailed
	}

	if err := r.pool.Deposit(investor, amount); err != nil {
		return err
	}
	if err := r.state.AllowancePut(investor, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	r.emit(newPoolInvestedEvent(investor, amount))
	return nil
}

func (r *Router) loadAllowance(owner crypto.Address) (*big.Int, error) {
	allowance, err := r.state.AllowanceGet(owner)
	if err != nil {
		return nil, err
	}
	if allowance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(allowance), nil
}

type routerEvent struct {
	evt *types.Event
}

func (e routerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e routerEvent) Event() *types.Event { return e.evt }

func (r *Router) emit(event *types.Event) {
	if r == nil || r.emitter == nil || event == nil {
		return
	}
	r.emitter.Emit(routerEvent{evt: event})
}
