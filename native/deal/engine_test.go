package deal

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"valchi/core/types"
	"valchi/crypto"
	nativecommon "valchi/native/common"
	"valchi/native/registry"
)

type mockState struct {
	deals    map[DealID]*Deal
	index    []DealID
	balances map[string]*TrancheBalance
	totals   map[string]*TrancheTotals
	accounts map[string]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		deals:    make(map[DealID]*Deal),
		balances: make(map[string]*TrancheBalance),
		totals:   make(map[string]*TrancheTotals),
		accounts: make(map[string]*types.Account),
	}
}

func balanceKey(id DealID, tranche Tranche, investor crypto.Address) string {
	return fmt.Sprintf("%s/%d/%x", id.Hex(), tranche, investor.Bytes())
}

func totalsKey(id DealID, tranche Tranche) string {
	return fmt.Sprintf("%s/%d", id.Hex(), tranche)
}

func (m *mockState) DealGet(id DealID) (*Deal, bool, error) {
	d, ok := m.deals[id]
	if !ok {
		return nil, false, nil
	}
	return d.Clone(), true, nil
}

func (m *mockState) DealPut(d *Deal) error {
	m.deals[d.ID] = d.Clone()
	return nil
}

func (m *mockState) DealIndexAppend(id DealID) error {
	m.index = append(m.index, id)
	return nil
}

func (m *mockState) DealIndex() ([]DealID, error) {
	out := make([]DealID, len(m.index))
	copy(out, m.index)
	return out, nil
}

func (m *mockState) TrancheBalanceGet(id DealID, tranche Tranche, investor crypto.Address) (*TrancheBalance, error) {
	return m.balances[balanceKey(id, tranche, investor)].Clone(), nil
}

func (m *mockState) TrancheBalancePut(b *TrancheBalance) error {
	m.balances[balanceKey(b.DealID, b.Tranche, b.Investor)] = b.Clone()
	return nil
}

func (m *mockState) TrancheTotalsGet(id DealID, tranche Tranche) (*TrancheTotals, error) {
	return m.totals[totalsKey(id, tranche)].Clone(), nil
}

func (m *mockState) TrancheTotalsPut(t *TrancheTotals) error {
	m.totals[totalsKey(t.DealID, t.Tranche)] = t.Clone()
	return nil
}

func (m *mockState) GetAccount(addr crypto.Address) (*types.Account, error) {
	acc, ok := m.accounts[addr.String()]
	if !ok {
		return &types.Account{BalanceStable: big.NewInt(0)}, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.accounts[addr.String()] = account.Clone()
	return nil
}

func (m *mockState) fund(addr crypto.Address, amount int64) {
	m.accounts[addr.String()] = &types.Account{BalanceStable: big.NewInt(amount)}
}

func (m *mockState) balanceOf(addr crypto.Address) *big.Int {
	acc, ok := m.accounts[addr.String()]
	if !ok {
		return big.NewInt(0)
	}
	return acc.BalanceStable
}

func testAddr(b byte) crypto.Address {
	return crypto.MustNewAddress(crypto.ValchiPrefix, bytes.Repeat([]byte{b}, 20))
}

func testVault(b byte) crypto.Address {
	return crypto.MustNewAddress(crypto.VaultPrefix, bytes.Repeat([]byte{b}, 20))
}

type testEnv struct {
	state    *mockState
	engine   *Engine
	vault    crypto.Address
	borrower crypto.Address
	now      int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:    newMockState(),
		vault:    testVault(0xaa),
		borrower: testAddr(0x01),
		now:      1_000_000,
	}
	env.engine = NewEngine(env.vault)
	env.engine.SetState(env.state)
	env.engine.SetNowFunc(func() int64 { return env.now })
	return env
}

func (env *testEnv) createDeal(t *testing.T, principal int64, rateBps, termDays uint64) DealID {
	t.Helper()
	manager, err := registry.NewManager(testAddr(0xad), registry.Params{
		Leverage:               1,
		UnderwriterFeeBps:      7000,
		PerformanceFeeBps:      1000,
		DefaultReserveRatioBps: 1000,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	factory := NewFactory(manager)
	factory.SetState(env.state)
	factory.SetNowFunc(func() int64 { return env.now })
	id, err := factory.CreateDeal(env.borrower, big.NewInt(principal), rateBps, termDays, testAddr(0x02))
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return id
}

func (env *testEnv) openFunding(t *testing.T, id DealID) {
	t.Helper()
	if err := env.engine.OpenFunding(id, env.now+3600); err != nil {
		t.Fatalf("open funding: %v", err)
	}
}

func TestMintActivatesAtJuniorTarget(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	investor := testAddr(0x10)
	env.state.fund(investor, 1_000)

	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	d, err := env.engine.Deal(id)
	if err != nil {
		t.Fatalf("deal: %v", err)
	}
	if d.Status != DealActive {
		t.Fatalf("status = %s, want active", d.Status)
	}
	if d.TotalOwed.Cmp(big.NewInt(104)) != 0 {
		t.Fatalf("total owed = %s, want 104", d.TotalOwed)
	}
	if d.SeniorEntitlement.Sign() != 0 {
		t.Fatalf("senior entitlement = %s, want 0", d.SeniorEntitlement)
	}
	if got := env.state.balanceOf(env.borrower); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("borrower balance = %s, want 100", got)
	}
	if got := env.state.balanceOf(investor); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("investor balance = %s, want 900", got)
	}
	if got := env.state.balanceOf(env.vault); got.Sign() != 0 {
		t.Fatalf("vault balance = %s, want 0", got)
	}
}

func TestMintAfterActivationRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	investor := testAddr(0x10)
	env.state.fund(investor, 1_000)
	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(1)); !errors.Is(err, ErrDealNotFunding) {
		t.Fatalf("mint after activation = %v, want ErrDealNotFunding", err)
	}
}

func TestMintJuniorOverTarget(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	investor := testAddr(0x10)
	env.state.fund(investor, 1_000)
	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(101)); !errors.Is(err, ErrFundingTarget) {
		t.Fatalf("over-target mint = %v, want ErrFundingTarget", err)
	}
}

func TestMintSeniorLeverageCap(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	junior := testAddr(0x10)
	senior := testAddr(0x11)
	env.state.fund(junior, 1_000)
	env.state.fund(senior, 1_000)

	if err := env.engine.Mint(junior, id, TrancheJunior, big.NewInt(60)); err != nil {
		t.Fatalf("junior mint: %v", err)
	}
	// Leverage 1: senior exposure is bounded by the junior capital committed.
	if err := env.engine.Mint(senior, id, TrancheSenior, big.NewInt(61)); !errors.Is(err, ErrFundingTarget) {
		t.Fatalf("over-leverage mint = %v, want ErrFundingTarget", err)
	}
	if err := env.engine.Mint(senior, id, TrancheSenior, big.NewInt(60)); err != nil {
		t.Fatalf("senior mint at cap: %v", err)
	}
}

func TestMintAfterDeadlineRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	investor := testAddr(0x10)
	env.state.fund(investor, 1_000)
	env.now += 7_200
	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(10)); !errors.Is(err, ErrFundingClosed) {
		t.Fatalf("late mint = %v, want ErrFundingClosed", err)
	}
}

func TestMintInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	investor := testAddr(0x10)
	env.state.fund(investor, 5)
	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(10)); !errors.Is(err, errInsufficientBalance) {
		t.Fatalf("underfunded mint = %v, want insufficient balance", err)
	}
	if got := env.state.balanceOf(investor); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("investor balance = %s, want untouched 5", got)
	}
}

// The final junior contribution triggers the principal draw; if the vault
// cannot cover it the mint must fail before any balance moves, leaving the
// deal fundable rather than stranded mid-activation.
func TestMintActivationVaultShortfall(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	investor := testAddr(0x10)
	env.state.fund(investor, 1_000)
	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(90)); err != nil {
		t.Fatalf("partial mint: %v", err)
	}
	// Drain the shared vault as if another deal's payout consumed it.
	env.state.fund(env.vault, 0)

	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(10)); !errors.Is(err, errInsufficientBalance) {
		t.Fatalf("mint against drained vault = %v, want insufficient balance", err)
	}
	if got := env.state.balanceOf(investor); got.Cmp(big.NewInt(910)) != 0 {
		t.Fatalf("investor balance = %s, want untouched 910", got)
	}
	status, err := env.engine.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != DealFunding {
		t.Fatalf("status = %v, want still funding", status)
	}
	totals, err := env.state.TrancheTotalsGet(id, TrancheJunior)
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.Funded.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("junior funded = %s, want 90", totals.Funded)
	}
}

func TestPausedEngineRejectsWrites(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.engine.SetPauses(nativecommon.NewPauseSet([]string{"deal"}))

	if err := env.engine.OpenFunding(id, env.now+3600); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("open funding while paused = %v, want ErrModulePaused", err)
	}
	if err := env.engine.Mint(testAddr(0x10), id, TrancheJunior, big.NewInt(10)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("mint while paused = %v, want ErrModulePaused", err)
	}
}

func TestCheckContribution(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)

	if err := env.engine.CheckContribution(id, TrancheJunior, big.NewInt(10)); !errors.Is(err, ErrDealNotFunding) {
		t.Fatalf("check before funding = %v, want ErrDealNotFunding", err)
	}
	env.openFunding(t, id)
	if err := env.engine.CheckContribution(id, TrancheJunior, big.NewInt(100)); err != nil {
		t.Fatalf("check at target: %v", err)
	}
	if err := env.engine.CheckContribution(id, TrancheJunior, big.NewInt(101)); !errors.Is(err, ErrFundingTarget) {
		t.Fatalf("check over target = %v, want ErrFundingTarget", err)
	}
	env.now += 7_200
	if err := env.engine.CheckContribution(id, TrancheJunior, big.NewInt(10)); !errors.Is(err, ErrFundingClosed) {
		t.Fatalf("check after deadline = %v, want ErrFundingClosed", err)
	}
}

func TestOpenFundingInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	investor := testAddr(0x10)
	env.state.fund(investor, 1_000)
	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.engine.OpenFunding(id, env.now+3600); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reopen funding = %v, want ErrInvalidTransition", err)
	}
}

func TestWaterfallSeniorFirst(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	junior := testAddr(0x10)
	senior := testAddr(0x11)
	env.state.fund(junior, 1_000)
	env.state.fund(senior, 1_000)

	if err := env.engine.Mint(junior, id, TrancheJunior, big.NewInt(50)); err != nil {
		t.Fatalf("junior mint: %v", err)
	}
	if err := env.engine.Mint(senior, id, TrancheSenior, big.NewInt(50)); err != nil {
		t.Fatalf("senior mint: %v", err)
	}
	if err := env.engine.Mint(junior, id, TrancheJunior, big.NewInt(50)); err != nil {
		t.Fatalf("junior completion mint: %v", err)
	}

	d, err := env.engine.Deal(id)
	if err != nil {
		t.Fatalf("deal: %v", err)
	}
	// 150 funded at 4%: total owed 156, senior entitlement 52.
	if d.TotalOwed.Cmp(big.NewInt(156)) != 0 {
		t.Fatalf("total owed = %s, want 156", d.TotalOwed)
	}
	if d.SeniorEntitlement.Cmp(big.NewInt(52)) != 0 {
		t.Fatalf("senior entitlement = %s, want 52", d.SeniorEntitlement)
	}

	if err := env.engine.BeginRepayment(id); err != nil {
		t.Fatalf("begin repayment: %v", err)
	}

	seniorPay, juniorPay, err := env.engine.Distribute(id, big.NewInt(60))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if seniorPay.Cmp(big.NewInt(52)) != 0 || juniorPay.Cmp(big.NewInt(8)) != 0 {
		t.Fatalf("first distribution = (%s, %s), want (52, 8)", seniorPay, juniorPay)
	}

	seniorPay, juniorPay, err = env.engine.Distribute(id, big.NewInt(96))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}
	if seniorPay.Sign() != 0 || juniorPay.Cmp(big.NewInt(96)) != 0 {
		t.Fatalf("second distribution = (%s, %s), want (0, 96)", seniorPay, juniorPay)
	}

	status, err := env.engine.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != DealClosed {
		t.Fatalf("status = %s, want closed", status)
	}

	payout, err := env.engine.Redeem(senior, id, TrancheSenior)
	if err != nil {
		t.Fatalf("senior redeem: %v", err)
	}
	if payout.Cmp(big.NewInt(52)) != 0 {
		t.Fatalf("senior payout = %s, want 52", payout)
	}
	payout, err = env.engine.Redeem(junior, id, TrancheJunior)
	if err != nil {
		t.Fatalf("junior redeem: %v", err)
	}
	if payout.Cmp(big.NewInt(104)) != 0 {
		t.Fatalf("junior payout = %s, want 104", payout)
	}
	if _, err := env.engine.Redeem(senior, id, TrancheSenior); !errors.Is(err, ErrAlreadyRedeemed) {
		t.Fatalf("double redeem = %v, want ErrAlreadyRedeemed", err)
	}
}

func TestResidualRetained(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	investor := testAddr(0x10)
	env.state.fund(investor, 1_000)
	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.engine.BeginRepayment(id); err != nil {
		t.Fatalf("begin repayment: %v", err)
	}
	// Borrower overpays: 110 against 104 owed. The extra 6 stays as residual.
	if _, _, err := env.engine.Distribute(id, big.NewInt(110)); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	d, err := env.engine.Deal(id)
	if err != nil {
		t.Fatalf("deal: %v", err)
	}
	if d.Residual.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("residual = %s, want 6", d.Residual)
	}
	if d.Status != DealClosed {
		t.Fatalf("status = %s, want closed", d.Status)
	}
}

func TestMarkDefaultedLossesJuniorFirst(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetGracePeriod(7)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	junior := testAddr(0x10)
	senior := testAddr(0x11)
	env.state.fund(junior, 1_000)
	env.state.fund(senior, 1_000)

	if err := env.engine.Mint(junior, id, TrancheJunior, big.NewInt(99)); err != nil {
		t.Fatalf("junior mint: %v", err)
	}
	if err := env.engine.Mint(senior, id, TrancheSenior, big.NewInt(99)); err != nil {
		t.Fatalf("senior mint: %v", err)
	}
	if err := env.engine.Mint(junior, id, TrancheJunior, big.NewInt(1)); err != nil {
		t.Fatalf("junior completion mint: %v", err)
	}
	// Funded 199 at 4%: total owed 206, senior entitlement 102 (99*1.04
	// truncated).

	activated := env.now
	if err := env.engine.MarkDefaulted(id, activated+36*secondsPerDay); !errors.Is(err, errTermActive) {
		t.Fatalf("early default = %v, want term active", err)
	}

	deadline := activated + 37*secondsPerDay
	if err := env.engine.MarkDefaulted(id, deadline); err != nil {
		t.Fatalf("mark defaulted: %v", err)
	}

	d, err := env.engine.Deal(id)
	if err != nil {
		t.Fatalf("deal: %v", err)
	}
	if d.Status != DealDefaulted {
		t.Fatalf("status = %s, want defaulted", d.Status)
	}
	// 99 of the funded 199 never left the vault; it is recovered senior-first.
	if d.DistributedSenior.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("distributed senior = %s, want 99", d.DistributedSenior)
	}
	if d.DistributedJunior.Sign() != 0 {
		t.Fatalf("distributed junior = %s, want 0", d.DistributedJunior)
	}
	if d.JuniorLoss.Cmp(big.NewInt(104)) != 0 {
		t.Fatalf("junior loss = %s, want 104", d.JuniorLoss)
	}
	if d.SeniorLoss.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("senior loss = %s, want 3", d.SeniorLoss)
	}
}

func TestBurnDuringFundingRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	investor := testAddr(0x10)
	env.state.fund(investor, 1_000)
	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.engine.Burn(investor, id, TrancheJunior, big.NewInt(10)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("burn during funding = %v, want ErrInvalidTransition", err)
	}
}

func TestRedeemBeforeTerminalRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.createDeal(t, 100, 400, 30)
	env.openFunding(t, id)

	investor := testAddr(0x10)
	env.state.fund(investor, 1_000)
	if err := env.engine.Mint(investor, id, TrancheJunior, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := env.engine.Redeem(investor, id, TrancheJunior); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("redeem on active deal = %v, want ErrInvalidTransition", err)
	}
}

func TestDealNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.Deal(DealID{0x01}); !errors.Is(err, ErrDealNotFound) {
		t.Fatalf("unknown deal = %v, want ErrDealNotFound", err)
	}
}
