package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Signer-set size and threshold bounds enforced on every rotation.
const (
	MinSigners   = 2
	MaxSigners   = 10
	MinThreshold = 2
)

// MultisigConfig is the singleton signer set. The nonce increments on every
// rotation and feeds the custody transaction identifier derivation, so a
// rotation implicitly orphans proposals that were derived under the old
// nonce: new proposals for the same position and type hash differently.
type MultisigConfig struct {
	Signers   []common.Address
	Threshold int
	Nonce     uint64
	UpdatedAt time.Time
}

// HasSigner reports whether addr is in the current signer set.
func (c MultisigConfig) HasSigner(addr common.Address) bool {
	for _, s := range c.Signers {
		if s == addr {
			return true
		}
	}
	return false
}

// Validate checks the signer-set bounds: 2–10 distinct non-zero signers and
// a threshold in [2, len(signers)].
func (c MultisigConfig) Validate() error {
	if len(c.Signers) < MinSigners || len(c.Signers) > MaxSigners {
		return ErrInvalidMultisigConfig
	}
	if c.Threshold < MinThreshold || c.Threshold > len(c.Signers) {
		return ErrInvalidMultisigConfig
	}
	seen := make(map[common.Address]bool, len(c.Signers))
	for _, s := range c.Signers {
		if s == (common.Address{}) || seen[s] {
			return ErrInvalidMultisigConfig
		}
		seen[s] = true
	}
	return nil
}
