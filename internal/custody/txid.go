package custody

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/eden-finance/nigerian-money-market/internal/domain"
)

// --------------------------------------------------------------------------
// Type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,string instance)
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,string instance)"),
	)

	// CustodyTx(uint256 positionId,string txType,uint256 nonce)
	custodyTxTypeHash = ethcrypto.Keccak256(
		[]byte("CustodyTx(uint256 positionId,string txType,uint256 nonce)"),
	)
)

// DomainSeparator derives the per-deployment separator that binds custody
// transaction identifiers to one instance. Two deployments with different
// chain IDs or instance IDs can never produce colliding identifiers, so an
// approval recorded on one instance cannot be replayed against another.
func DomainSeparator(chainID int64, instanceID string) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			domainTypeHash,
			ethcrypto.Keccak256([]byte("EdenMoneyMarket")),
			ethcrypto.Keccak256([]byte("1")),
			bigIntTo32Bytes(big.NewInt(chainID)),
			ethcrypto.Keccak256([]byte(instanceID)),
		),
	))
}

// DeriveTxID computes the deterministic identifier for a custody transaction:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
//
// where the struct hash covers the position, transaction type, and the
// multisig rotation nonce. Proposing the same (position, type) pair twice
// under an unchanged nonce therefore lands on the same identifier, and a
// signer rotation orphans every identifier derived under the old nonce.
func DeriveTxID(positionID uint64, txType domain.TransactionType, nonce uint64, domainSep common.Hash) common.Hash {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			custodyTxTypeHash,
			bigIntTo32Bytes(new(big.Int).SetUint64(positionID)),
			ethcrypto.Keccak256([]byte(txType)),
			bigIntTo32Bytes(new(big.Int).SetUint64(nonce)),
		),
	)

	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep.Bytes(),
			structHash,
		),
	))
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
