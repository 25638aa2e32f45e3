package postgres

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// parseNumeric converts a NUMERIC column selected as text into a big.Int.
func parseNumeric(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return n, nil
}

// parseAddr converts a nullable address column into *common.Address.
func parseAddr(s *string) *common.Address {
	if s == nil {
		return nil
	}
	a := common.HexToAddress(*s)
	return &a
}

// addrString converts *common.Address into a nullable column value.
func addrString(a *common.Address) *string {
	if a == nil {
		return nil
	}
	s := a.Hex()
	return &s
}
