package state

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"valchi/crypto"
	"valchi/native/conversion"
	"valchi/native/deal"
	"valchi/native/identity"
	"valchi/native/pool"
	"valchi/storage"
)

func testAddr(b byte) crypto.Address {
	return crypto.MustNewAddress(crypto.ValchiPrefix, bytes.Repeat([]byte{b}, 20))
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(storage.NewMemDB())
}

func TestAccountDefaultsToZeroBalance(t *testing.T) {
	ledger := newTestLedger(t)
	addr := testAddr(0x01)

	account, err := ledger.GetAccount(addr)
	require.NoError(t, err)
	require.NotNil(t, account)
	require.Zero(t, account.BalanceStable.Sign())

	account.BalanceStable = big.NewInt(250)
	account.Nonce = 3
	require.NoError(t, ledger.PutAccount(addr, account))

	loaded, err := ledger.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(3), loaded.Nonce)
	require.Zero(t, loaded.BalanceStable.Cmp(big.NewInt(250)))
}

func TestIdentityRoundTrip(t *testing.T) {
	ledger := newTestLedger(t)
	addr := testAddr(0x02)

	record, err := ledger.IdentityGet(addr)
	require.NoError(t, err)
	require.Nil(t, record)

	require.NoError(t, ledger.IdentityPut(&identity.Identity{
		Address:  addr,
		Label:    "ValchiWhitelisted",
		Issuer:   testAddr(0x03),
		IssuedAt: 1_000_000,
		Approved: true,
	}))

	loaded, err := ledger.IdentityGet(addr)
	require.NoError(t, err)
	require.True(t, loaded.Approved)
	require.Equal(t, "ValchiWhitelisted", loaded.Label)
	require.True(t, loaded.Address.Equal(addr))
}

func TestDealAndIndexRoundTrip(t *testing.T) {
	ledger := newTestLedger(t)
	var id deal.DealID
	id[0] = 0x07

	_, ok, err := ledger.DealGet(id)
	require.NoError(t, err)
	require.False(t, ok)

	d := &deal.Deal{
		ID:                id,
		Borrower:          testAddr(0x01),
		Principal:         big.NewInt(100),
		InterestRateBps:   400,
		TermDays:          30,
		Status:            deal.DealFunding,
		ReferenceAsset:    testAddr(0x02),
		JuniorTarget:      big.NewInt(100),
		TotalOwed:         big.NewInt(0),
		SeniorEntitlement: big.NewInt(0),
		DistributedSenior: big.NewInt(0),
		DistributedJunior: big.NewInt(0),
		Residual:          big.NewInt(0),
		JuniorLoss:        big.NewInt(0),
		SeniorLoss:        big.NewInt(0),
		LastSeniorPayout:  big.NewInt(0),
		LastJuniorPayout:  big.NewInt(0),
	}
	require.NoError(t, ledger.DealPut(d))
	require.NoError(t, ledger.DealIndexAppend(id))

	loaded, ok, err := ledger.DealGet(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, deal.DealFunding, loaded.Status)
	require.Zero(t, loaded.Principal.Cmp(big.NewInt(100)))
	require.True(t, loaded.Borrower.Equal(d.Borrower))

	index, err := ledger.DealIndex()
	require.NoError(t, err)
	require.Len(t, index, 1)
	require.Equal(t, id, index[0])
}

func TestTrancheRecordsRoundTrip(t *testing.T) {
	ledger := newTestLedger(t)
	var id deal.DealID
	id[0] = 0x08
	investor := testAddr(0x04)

	balance, err := ledger.TrancheBalanceGet(id, deal.TrancheJunior, investor)
	require.NoError(t, err)
	require.Nil(t, balance)

	require.NoError(t, ledger.TrancheBalancePut(&deal.TrancheBalance{
		DealID:    id,
		Investor:  investor,
		Tranche:   deal.TrancheJunior,
		Shares:    big.NewInt(60),
		CostBasis: big.NewInt(60),
	}))
	require.NoError(t, ledger.TrancheTotalsPut(&deal.TrancheTotals{
		DealID:  id,
		Tranche: deal.TrancheJunior,
		Shares:  big.NewInt(60),
		Funded:  big.NewInt(60),
	}))

	balance, err = ledger.TrancheBalanceGet(id, deal.TrancheJunior, investor)
	require.NoError(t, err)
	require.Zero(t, balance.Shares.Cmp(big.NewInt(60)))

	// The senior bucket is independent of the junior one.
	senior, err := ledger.TrancheTotalsGet(id, deal.TrancheSenior)
	require.NoError(t, err)
	require.Nil(t, senior)

	totals, err := ledger.TrancheTotalsGet(id, deal.TrancheJunior)
	require.NoError(t, err)
	require.Zero(t, totals.Funded.Cmp(big.NewInt(60)))
}

func TestPoolRecordsRoundTrip(t *testing.T) {
	ledger := newTestLedger(t)
	investor := testAddr(0x05)
	var id deal.DealID
	id[0] = 0x09

	p, err := ledger.PoolGet()
	require.NoError(t, err)
	require.Nil(t, p)

	require.NoError(t, ledger.PoolPut(&pool.Pool{
		TotalDeposits:  big.NewInt(50_000),
		TotalAllocated: big.NewInt(4_000),
	}))
	require.NoError(t, ledger.PositionPut(&pool.Position{
		Investor:          investor,
		Shares:            big.NewInt(50_000),
		Deposited:         big.NewInt(50_000),
		PendingRedemption: big.NewInt(0),
	}))
	require.NoError(t, ledger.AllocationPut(id, big.NewInt(4_000)))
	require.NoError(t, ledger.PoolFeesPut(&pool.FeeAccrual{
		UnderwriterFees: big.NewInt(70),
		PerformanceFees: big.NewInt(5),
	}))

	p, err = ledger.PoolGet()
	require.NoError(t, err)
	require.Zero(t, p.TotalDeposits.Cmp(big.NewInt(50_000)))

	position, err := ledger.PositionGet(investor)
	require.NoError(t, err)
	require.Zero(t, position.Shares.Cmp(big.NewInt(50_000)))

	allocated, err := ledger.AllocationGet(id)
	require.NoError(t, err)
	require.Zero(t, allocated.Cmp(big.NewInt(4_000)))

	fees, err := ledger.PoolFeesGet()
	require.NoError(t, err)
	require.Zero(t, fees.UnderwriterFees.Cmp(big.NewInt(70)))
}

func TestAllowanceRoundTrip(t *testing.T) {
	ledger := newTestLedger(t)
	owner := testAddr(0x06)

	allowance, err := ledger.AllowanceGet(owner)
	require.NoError(t, err)
	require.Nil(t, allowance)

	require.NoError(t, ledger.AllowancePut(owner, big.NewInt(500)))
	allowance, err = ledger.AllowanceGet(owner)
	require.NoError(t, err)
	require.Zero(t, allowance.Cmp(big.NewInt(500)))
}

func TestCycleRoundTrip(t *testing.T) {
	ledger := newTestLedger(t)

	current, err := ledger.CycleGet()
	require.NoError(t, err)
	require.Nil(t, current)

	cycle := &conversion.Cycle{
		Index:     0,
		StartTime: 1_000_000,
		EndTime:   1_086_400,
		NavBefore: big.NewInt(1_000),
		NavAfter:  big.NewInt(1_030),
		NetFlow:   big.NewInt(30),
		Status:    conversion.CycleClosed,
	}
	require.NoError(t, ledger.CyclePut(cycle))
	require.NoError(t, ledger.CycleHistoryAppend(cycle))

	current, err = ledger.CycleGet()
	require.NoError(t, err)
	require.Equal(t, conversion.CycleClosed, current.Status)
	require.Zero(t, current.NavAfter.Cmp(big.NewInt(1_030)))

	history, err := ledger.CycleHistory()
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, uint64(0), history[0].Index)
}
