package ledger

import (
	"math/big"
	"time"
)

// bps denominator times seconds per (non-leap) year.
var returnDivisor = big.NewInt(10_000 * 365 * 24 * 3600)

// ExpectedReturn computes the simple-interest return for a deposit:
//
//	amount * rateBps * lockSeconds / (10_000 * 365*24*3600)
//
// Integer division, computed once at position creation; the result is
// stamped onto the position and never recomputed.
func ExpectedReturn(amount *big.Int, rateBps int64, lock time.Duration) *big.Int {
	r := new(big.Int).Mul(amount, big.NewInt(rateBps))
	r.Mul(r, big.NewInt(int64(lock/time.Second)))
	return r.Div(r, returnDivisor)
}
