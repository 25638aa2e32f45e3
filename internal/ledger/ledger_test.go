package ledger

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
	"github.com/eden-finance/nigerian-money-market/internal/store/memory"
)

var (
	investor = common.HexToAddress("0x1000000000000000000000000000000000000001")
	stranger = common.HexToAddress("0x1000000000000000000000000000000000000002")
	riskOp   = common.HexToAddress("0x1000000000000000000000000000000000000003")
	admin    = common.HexToAddress("0x1000000000000000000000000000000000000004")
)

type ledgerFixture struct {
	ledger    *Ledger
	positions *memory.PositionStore
	market    *memory.MarketStore
	tokens    *memory.TokenRegistry
	bank      *memory.Bank
	caps      *memory.CapabilityGateway
	clock     time.Time
}

func newFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	f := &ledgerFixture{
		positions: memory.NewPositionStore(),
		market:    memory.NewMarketStore(),
		tokens:    memory.NewTokenRegistry(),
		bank:      memory.NewBank(),
		caps:      memory.NewCapabilityGateway(),
		clock:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, f.market.Save(context.Background(), domain.MarketConfig{
		LockDuration:      30 * 24 * time.Hour,
		ExpectedRateBps:   1200,
		MinInvestment:     big.NewInt(1000),
		MaxInvestment:     big.NewInt(1_000_000),
		AcceptingDeposits: true,
	}))
	require.NoError(t, f.caps.Grant(context.Background(), riskOp, domain.CapabilityRiskOperator))
	require.NoError(t, f.caps.Grant(context.Background(), admin, domain.CapabilityAdmin))

	f.ledger = New(f.positions, f.market, f.tokens, f.bank, f.caps, memory.NewAuditStore(), nil, slog.Default())
	f.ledger.now = func() time.Time { return f.clock }
	return f
}

func (f *ledgerFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func TestExpectedReturn(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		name    string
		amount  int64
		rateBps int64
		lock    time.Duration
		want    int64
	}{
		{"thirty day lock", 2000, 1200, 30 * day, 19},
		{"full year", 10_000, 1200, 365 * day, 1200},
		{"zero rate", 2000, 0, 30 * day, 0},
		{"rounds down", 100, 1200, 30 * day, 0},
		{"half year", 50_000, 800, 182 * day, 1994},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpectedReturn(big.NewInt(tt.amount), tt.rateBps, tt.lock)
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestCreateStampsPositionFromMarketConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bank.Credit(investor, big.NewInt(5000))

	pos, err := f.ledger.Create(ctx, investor, big.NewInt(2000))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), pos.ID)
	assert.Equal(t, investor, pos.Investor)
	assert.Equal(t, f.clock, pos.DepositTime)
	assert.Equal(t, f.clock.Add(30*24*time.Hour), pos.MaturityTime)
	assert.Equal(t, int64(19), pos.ExpectedReturn.Int64())
	assert.False(t, pos.IsMatured)
	assert.False(t, pos.IsWithdrawn)
	assert.False(t, pos.FundsCollected)

	// Funds moved from the investor into the pool.
	assert.Equal(t, int64(3000), f.bank.BalanceOf(investor).Int64())
	pool, err := f.bank.PoolBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), pool.Int64())

	// Ownership token minted to the investor.
	owner, err := f.tokens.OwnerOf(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, investor, owner)

	cfg, err := f.market.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), cfg.TotalDeposited.Int64())
}

func TestCreateLaterConfigChangeDoesNotTouchOpenPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bank.Credit(investor, big.NewInt(5000))

	pos, err := f.ledger.Create(ctx, investor, big.NewInt(2000))
	require.NoError(t, err)

	cfg, err := f.market.Get(ctx)
	require.NoError(t, err)
	cfg.LockDuration = 90 * 24 * time.Hour
	cfg.ExpectedRateBps = 500
	_, err = f.ledger.UpdateMarketConfig(ctx, admin, cfg)
	require.NoError(t, err)

	reread, err := f.ledger.Position(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.MaturityTime, reread.MaturityTime)
	assert.Equal(t, pos.ExpectedReturn, reread.ExpectedReturn)
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		closed  bool
		wantErr error
	}{
		{"below minimum", 999, false, domain.ErrInvalidAmount},
		{"above maximum", 1_000_001, false, domain.ErrInvalidAmount},
		{"market closed", 2000, true, domain.ErrDepositsNotAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.bank.Credit(investor, big.NewInt(2_000_000))

			if tt.closed {
				cfg, err := f.market.Get(ctx)
				require.NoError(t, err)
				cfg.AcceptingDeposits = false
				require.NoError(t, f.market.Save(ctx, cfg))
			}

			_, err := f.ledger.Create(ctx, investor, big.NewInt(tt.amount))
			assert.ErrorIs(t, err, tt.wantErr)

			// Nothing moved.
			pool, perr := f.bank.PoolBalance(ctx)
			require.NoError(t, perr)
			assert.Zero(t, pool.Int64())
		})
	}
}

func TestCreateFailsWhenDepositPullFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Investor has no balance: the pull fails and no position is recorded.
	_, err := f.ledger.Create(ctx, investor, big.NewInt(2000))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = f.ledger.Position(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithdrawBeforeMaturityFailsAndChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bank.Credit(investor, big.NewInt(5000))

	pos, err := f.ledger.Create(ctx, investor, big.NewInt(2000))
	require.NoError(t, err)

	f.advance(29 * 24 * time.Hour)
	_, err = f.ledger.Withdraw(ctx, pos.ID, investor)
	assert.ErrorIs(t, err, domain.ErrNotMatured)

	reread, err := f.ledger.Position(ctx, pos.ID)
	require.NoError(t, err)
	assert.False(t, reread.IsWithdrawn)
	pool, _ := f.bank.PoolBalance(ctx)
	assert.Equal(t, int64(2000), pool.Int64())
}

func TestWithdrawPaysExpectedReturnWhenNotMatured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bank.Credit(investor, big.NewInt(2000))

	pos, err := f.ledger.Create(ctx, investor, big.NewInt(2000))
	require.NoError(t, err)

	// Pool needs to cover the 19 units of return on top of principal.
	f.bank.Credit(stranger, big.NewInt(100))
	require.NoError(t, f.bank.Pull(ctx, stranger, big.NewInt(100)))

	f.advance(30 * 24 * time.Hour)
	payout, err := f.ledger.Withdraw(ctx, pos.ID, investor)
	require.NoError(t, err)
	assert.Equal(t, int64(2019), payout.Int64())

	reread, err := f.ledger.Position(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, reread.IsWithdrawn)
	require.NotNil(t, reread.WithdrawnAt)

	// Token burned with the position record kept as history.
	_, err = f.tokens.OwnerOf(ctx, pos.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cfg, err := f.market.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2019), cfg.TotalWithdrawn.Int64())
}

func TestWithdrawPaysActualReturnOnceMatured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bank.Credit(investor, big.NewInt(2000))
	f.bank.Credit(stranger, big.NewInt(500))
	require.NoError(t, f.bank.Pull(ctx, stranger, big.NewInt(500)))

	pos, err := f.ledger.Create(ctx, investor, big.NewInt(2000))
	require.NoError(t, err)

	f.advance(30 * 24 * time.Hour)
	matured, err := f.ledger.MarkMatured(ctx, riskOp, []MaturationEntry{
		{PositionID: pos.ID, ActualReturn: big.NewInt(45)},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{pos.ID}, matured)

	payout, err := f.ledger.Withdraw(ctx, pos.ID, investor)
	require.NoError(t, err)
	assert.Equal(t, int64(2045), payout.Int64())
}

func TestWithdrawGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bank.Credit(investor, big.NewInt(2000))
	f.bank.Credit(stranger, big.NewInt(100))
	require.NoError(t, f.bank.Pull(ctx, stranger, big.NewInt(100)))

	pos, err := f.ledger.Create(ctx, investor, big.NewInt(2000))
	require.NoError(t, err)
	f.advance(31 * 24 * time.Hour)

	_, err = f.ledger.Withdraw(ctx, pos.ID, stranger)
	assert.ErrorIs(t, err, domain.ErrNotTokenOwner)

	_, err = f.ledger.Withdraw(ctx, pos.ID, investor)
	require.NoError(t, err)

	_, err = f.ledger.Withdraw(ctx, pos.ID, investor)
	assert.ErrorIs(t, err, domain.ErrAlreadyWithdrawn)
}

func TestWithdrawFailsWhenPoolDrainedByCustody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bank.Credit(investor, big.NewInt(2000))

	pos, err := f.ledger.Create(ctx, investor, big.NewInt(2000))
	require.NoError(t, err)

	// Simulate funds collected to an external venue and not yet returned.
	require.NoError(t, f.bank.Push(ctx, stranger, big.NewInt(2000)))

	f.advance(30 * 24 * time.Hour)
	_, err = f.ledger.Withdraw(ctx, pos.ID, investor)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Withdrawal did not commit: the position can still be paid out once a
	// RETURN replenishes the pool.
	reread, err := f.ledger.Position(ctx, pos.ID)
	require.NoError(t, err)
	assert.False(t, reread.IsWithdrawn)
}

func TestMarkMaturedSkipsNotYetMaturedAndAlreadyMatured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bank.Credit(investor, big.NewInt(10_000))

	early, err := f.ledger.Create(ctx, investor, big.NewInt(2000))
	require.NoError(t, err)

	f.advance(15 * 24 * time.Hour)
	late, err := f.ledger.Create(ctx, investor, big.NewInt(2000))
	require.NoError(t, err)

	f.advance(16 * 24 * time.Hour) // early is past maturity, late is not

	matured, err := f.ledger.MarkMatured(ctx, riskOp, []MaturationEntry{
		{PositionID: early.ID, ActualReturn: big.NewInt(25)},
		{PositionID: late.ID, ActualReturn: big.NewInt(25)},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{early.ID}, matured)

	// Re-running does not overwrite the fixed return.
	matured, err = f.ledger.MarkMatured(ctx, riskOp, []MaturationEntry{
		{PositionID: early.ID, ActualReturn: big.NewInt(99)},
	})
	require.NoError(t, err)
	assert.Empty(t, matured)

	reread, err := f.ledger.Position(ctx, early.ID)
	require.NoError(t, err)
	assert.True(t, reread.IsMatured)
	assert.Equal(t, int64(25), reread.ActualReturn.Int64())
}

func TestMarkMaturedRequiresCapability(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.MarkMatured(context.Background(), stranger, []MaturationEntry{
		{PositionID: 1, ActualReturn: big.NewInt(1)},
	})
	assert.ErrorIs(t, err, domain.ErrMissingCapability)
}

func TestUpdateMarketConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	valid := domain.MarketConfig{
		LockDuration:      60 * 24 * time.Hour,
		ExpectedRateBps:   900,
		MinInvestment:     big.NewInt(500),
		MaxInvestment:     big.NewInt(2_000_000),
		AcceptingDeposits: false,
	}

	_, err := f.ledger.UpdateMarketConfig(ctx, stranger, valid)
	assert.ErrorIs(t, err, domain.ErrMissingCapability)

	bad := valid
	bad.ExpectedRateBps = 20_000
	_, err = f.ledger.UpdateMarketConfig(ctx, admin, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketConfig)

	bad = valid
	bad.MinInvestment = big.NewInt(3_000_000)
	_, err = f.ledger.UpdateMarketConfig(ctx, admin, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidMarketConfig)

	got, err := f.ledger.UpdateMarketConfig(ctx, admin, valid)
	require.NoError(t, err)
	assert.False(t, got.AcceptingDeposits)
	assert.Equal(t, int64(0), got.TotalDeposited.Int64()) // totals preserved

	f.bank.Credit(investor, big.NewInt(1000))
	_, err = f.ledger.Create(ctx, investor, big.NewInt(1000))
	assert.ErrorIs(t, err, domain.ErrDepositsNotAccepted)
}
