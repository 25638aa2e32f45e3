package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a single time-locked deposit. One non-transferable ownership
// token exists per position; the record itself is never deleted and remains
// as history after withdrawal.
type Position struct {
	ID             uint64
	Investor       common.Address
	Amount         *big.Int
	DepositTime    time.Time
	LockDuration   time.Duration
	MaturityTime   time.Time
	ExpectedReturn *big.Int
	ActualReturn   *big.Int
	IsMatured      bool
	IsWithdrawn    bool
	WithdrawnAt    *time.Time
	FundsCollected bool
	CollectedBy    *common.Address
	CollectedAt    *time.Time
}

// Payout returns the amount owed to the investor on withdrawal. Once a
// position has matured, the recorded actual return permanently overrides the
// expected return.
func (p Position) Payout() *big.Int {
	ret := p.ExpectedReturn
	if p.IsMatured {
		ret = p.ActualReturn
	}
	return new(big.Int).Add(p.Amount, ret)
}

// MarketConfig is the singleton market-wide configuration. Lock duration and
// rate are stamped onto each position at creation time; later changes do not
// retroactively affect open positions.
type MarketConfig struct {
	LockDuration      time.Duration
	ExpectedRateBps   int64
	MinInvestment     *big.Int
	MaxInvestment     *big.Int
	AcceptingDeposits bool
	TotalDeposited    *big.Int
	TotalWithdrawn    *big.Int
	UpdatedAt         time.Time
}

// Validate checks the market parameters that admin updates must satisfy.
func (c MarketConfig) Validate() error {
	if c.LockDuration <= 0 {
		return ErrInvalidMarketConfig
	}
	if c.ExpectedRateBps < 0 || c.ExpectedRateBps > 10_000 {
		return ErrInvalidMarketConfig
	}
	if c.MinInvestment == nil || c.MaxInvestment == nil {
		return ErrInvalidMarketConfig
	}
	if c.MinInvestment.Sign() <= 0 || c.MinInvestment.Cmp(c.MaxInvestment) > 0 {
		return ErrInvalidMarketConfig
	}
	return nil
}
