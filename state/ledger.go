package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"valchi/core/types"
	"valchi/crypto"
	"valchi/native/conversion"
	"valchi/native/deal"
	"valchi/native/identity"
	"valchi/native/pool"
	"valchi/storage"
)

// Key prefixes. Every record is JSON under a typed prefix so a raw dump of
// the database stays readable.
const (
	prefixAccount       = "account/"
	prefixIdentity      = "identity/"
	prefixDeal          = "deal/"
	keyDealIndex        = "deal-index"
	prefixTranche       = "tranche/"
	prefixTrancheTotals = "tranche-totals/"
	keyPool             = "pool/aggregate"
	prefixPoolPosition  = "pool/position/"
	prefixPoolAlloc     = "pool/allocation/"
	keyPoolFees         = "pool/fees"
	prefixAllowance     = "allowance/"
	keyCycleCurrent     = "cycle/current"
	keyCycleHistory     = "cycle/history"
)

// Ledger persists every engine's records over a single key-value database.
// It satisfies the state interfaces of the identity registry, the deal
// factory and engine, the liquidity pool, the investors router, and the
// conversion pool. All access is serialized; engines layer their own
// transition locks above this.
type Ledger struct {
	mu sync.Mutex
	db storage.Database
}

// NewLedger wraps the database in a ledger.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) getJSON(key string, out interface{}) (bool, error) {
	raw, err := l.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (l *Ledger) putJSON(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return l.db.Put([]byte(key), raw)
}

func addressKey(prefix string, addr crypto.Address) string {
	return prefix + hex.EncodeToString(addr.Bytes())
}

// GetAccount returns the stored account, or a zero-balance account when the
// address has never been written.
func (l *Ledger) GetAccount(addr crypto.Address) (*types.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	account := new(types.Account)
	ok, err := l.getJSON(addressKey(prefixAccount, addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{BalanceStable: big.NewInt(0)}, nil
	}
	if account.BalanceStable == nil {
		account.BalanceStable = big.NewInt(0)
	}
	return account, nil
}

// PutAccount stores the account record.
func (l *Ledger) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(addressKey(prefixAccount, addr), account)
}

// IdentityGet returns the identity record, or nil when none exists.
func (l *Ledger) IdentityGet(addr crypto.Address) (*identity.Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record := new(identity.Identity)
	ok, err := l.getJSON(addressKey(prefixIdentity, addr), record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return record, nil
}

// IdentityPut stores the identity record.
func (l *Ledger) IdentityPut(record *identity.Identity) error {
	if record == nil {
		return errors.New("state: nil identity record")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(addressKey(prefixIdentity, record.Address), record)
}

// DealGet returns the deal and whether it exists.
func (l *Ledger) DealGet(id deal.DealID) (*deal.Deal, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := new(deal.Deal)
	ok, err := l.getJSON(prefixDeal+id.Hex(), d)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return d, true, nil
}

// DealPut stores the deal record.
func (l *Ledger) DealPut(d *deal.Deal) error {
	if d == nil {
		return errors.New("state: nil deal")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(prefixDeal+d.ID.Hex(), d)
}

// DealIndexAppend appends the identifier to the creation-ordered index.
func (l *Ledger) DealIndexAppend(id deal.DealID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var index []deal.DealID
	if _, err := l.getJSON(keyDealIndex, &index); err != nil {
		return err
	}
	index = append(index, id)
	return l.putJSON(keyDealIndex, index)
}

// DealIndex returns the deal identifiers in creation order.
func (l *Ledger) DealIndex() ([]deal.DealID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var index []deal.DealID
	if _, err := l.getJSON(keyDealIndex, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func trancheKey(id deal.DealID, tranche deal.Tranche, investor crypto.Address) string {
	return fmt.Sprintf("%s%s/%d/%s", prefixTranche, id.Hex(), tranche, hex.EncodeToString(investor.Bytes()))
}

func trancheTotalsKey(id deal.DealID, tranche deal.Tranche) string {
	return fmt.Sprintf("%s%s/%d", prefixTrancheTotals, id.Hex(), tranche)
}

// TrancheBalanceGet returns the investor's tranche claim, or nil when none
// exists.
func (l *Ledger) TrancheBalanceGet(id deal.DealID, tranche deal.Tranche, investor crypto.Address) (*deal.TrancheBalance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := new(deal.TrancheBalance)
	ok, err := l.getJSON(trancheKey(id, tranche, investor), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return balance, nil
}

// TrancheBalancePut stores the tranche claim.
func (l *Ledger) TrancheBalancePut(balance *deal.TrancheBalance) error {
	if balance == nil {
		return errors.New("state: nil tranche balance")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(trancheKey(balance.DealID, balance.Tranche, balance.Investor), balance)
}

// TrancheTotalsGet returns the per-tranche aggregates, or nil when none
// exist.
func (l *Ledger) TrancheTotalsGet(id deal.DealID, tranche deal.Tranche) (*deal.TrancheTotals, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	totals := new(deal.TrancheTotals)
	ok, err := l.getJSON(trancheTotalsKey(id, tranche), totals)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return totals, nil
}

// TrancheTotalsPut stores the per-tranche aggregates.
func (l *Ledger) TrancheTotalsPut(totals *deal.TrancheTotals) error {
	if totals == nil {
		return errors.New("state: nil tranche totals")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(trancheTotalsKey(totals.DealID, totals.Tranche), totals)
}

// PoolGet returns the aggregate pool record, or nil before the first write.
func (l *Ledger) PoolGet() (*pool.Pool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := new(pool.Pool)
	ok, err := l.getJSON(keyPool, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return p, nil
}

// PoolPut stores the aggregate pool record.
func (l *Ledger) PoolPut(p *pool.Pool) error {
	if p == nil {
		return errors.New("state: nil pool")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(keyPool, p)
}

// PositionGet returns the investor's pool position, or nil when none exists.
func (l *Ledger) PositionGet(investor crypto.Address) (*pool.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	position := new(pool.Position)
	ok, err := l.getJSON(addressKey(prefixPoolPosition, investor), position)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return position, nil
}

// PositionPut stores the pool position.
func (l *Ledger) PositionPut(position *pool.Position) error {
	if position == nil {
		return errors.New("state: nil pool position")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(addressKey(prefixPoolPosition, position.Investor), position)
}

// AllocationGet returns the senior capital deployed behind the deal, or nil
// when none has been allocated.
func (l *Ledger) AllocationGet(id deal.DealID) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var amount string
	ok, err := l.getJSON(prefixPoolAlloc+id.Hex(), &amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	value, valid := new(big.Int).SetString(amount, 10)
	if !valid {
		return nil, fmt.Errorf("state: corrupt allocation for %s", id.Hex())
	}
	return value, nil
}

// AllocationPut stores the senior allocation for the deal.
func (l *Ledger) AllocationPut(id deal.DealID, amount *big.Int) error {
	if amount == nil {
		return errors.New("state: nil allocation")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(prefixPoolAlloc+id.Hex(), amount.String())
}

// PoolFeesGet returns the accrued fee record, or nil before the first write.
func (l *Ledger) PoolFeesGet() (*pool.FeeAccrual, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fees := new(pool.FeeAccrual)
	ok, err := l.getJSON(keyPoolFees, fees)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return fees, nil
}

// PoolFeesPut stores the accrued fee record.
func (l *Ledger) PoolFeesPut(fees *pool.FeeAccrual) error {
	if fees == nil {
		return errors.New("state: nil fee accrual")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(keyPoolFees, fees)
}

// AllowanceGet returns the router allowance for the owner, or nil when none
// has been granted.
func (l *Ledger) AllowanceGet(owner crypto.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var amount string
	ok, err := l.getJSON(addressKey(prefixAllowance, owner), &amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	value, valid := new(big.Int).SetString(amount, 10)
	if !valid {
		return nil, fmt.Errorf("state: corrupt allowance for %s", owner.String())
	}
	return value, nil
}

// AllowancePut stores the router allowance for the owner.
func (l *Ledger) AllowancePut(owner crypto.Address, amount *big.Int) error {
	if amount == nil {
		return errors.New("state: nil allowance")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(addressKey(prefixAllowance, owner), amount.String())
}

// CycleGet returns the active conversion cycle, or nil before the schedule
// starts.
func (l *Ledger) CycleGet() (*conversion.Cycle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cycle := new(conversion.Cycle)
	ok, err := l.getJSON(keyCycleCurrent, cycle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return cycle, nil
}

// CyclePut stores the active conversion cycle.
func (l *Ledger) CyclePut(cycle *conversion.Cycle) error {
	if cycle == nil {
		return errors.New("state: nil cycle")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.putJSON(keyCycleCurrent, cycle)
}

// CycleHistoryAppend appends a settled cycle to the history.
func (l *Ledger) CycleHistoryAppend(cycle *conversion.Cycle) error {
	if cycle == nil {
		return errors.New("state: nil cycle")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var history []*conversion.Cycle
	if _, err := l.getJSON(keyCycleHistory, &history); err != nil {
		return err
	}
	history = append(history, cycle)
	return l.putJSON(keyCycleHistory, history)
}

// CycleHistory returns the settled cycles in order.
func (l *Ledger) CycleHistory() ([]*conversion.Cycle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var history []*conversion.Cycle
	if _, err := l.getJSON(keyCycleHistory, &history); err != nil {
		return nil, err
	}
	return history, nil
}
