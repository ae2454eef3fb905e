package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	// PermitTypeHash is keccak256 of the Permit struct type.
	PermitTypeHash = crypto.Keccak256Hash([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
	versionHash    = crypto.Keccak256Hash([]byte("1"))
)

func domainSeparator(name string, chainID uint64, verifyingContract common.Address) common.Hash {
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(name)),
		versionHash.Bytes(),
		math.U256Bytes(new(big.Int).SetUint64(chainID)),
		common.LeftPadBytes(verifyingContract.Bytes(), 32),
	)
}

// PermitDigest returns the EIP-712 digest an owner signs to approve spender.
func (l *Ledger) PermitDigest(owner, spender common.Address, value *uint256.Int, nonce uint64, deadline uint64) common.Hash {
	valueWord := value.Bytes32()
	structHash := crypto.Keccak256Hash(
		PermitTypeHash.Bytes(),
		common.LeftPadBytes(owner.Bytes(), 32),
		common.LeftPadBytes(spender.Bytes(), 32),
		valueWord[:],
		math.U256Bytes(new(big.Int).SetUint64(nonce)),
		math.U256Bytes(new(big.Int).SetUint64(deadline)),
	)
	return crypto.Keccak256Hash([]byte("\x19\x01"), l.domainSeparator.Bytes(), structHash.Bytes())
}

// Permit approves spender for value on behalf of owner using a 65-byte
// [R || S || V] secp256k1 signature over PermitDigest with owner's current
// nonce. The nonce is consumed on success.
func (l *Ledger) Permit(owner, spender common.Address, value *uint256.Int, deadline uint64, sig []byte) error {
	if value == nil {
		return ErrNilAmount
	}
	if deadline < l.env.BlockTimestamp() {
		return ErrPermitExpired
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("signature length %d: %w", len(sig), ErrInvalidSignature)
	}

	nonce := l.Nonce(owner)
	digest := l.PermitDigest(owner, spender, value, nonce, deadline)

	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return fmt.Errorf("recover signer: %w", ErrInvalidSignature)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if recovered == (common.Address{}) || recovered != owner {
		return ErrInvalidSignature
	}

	l.setNonce(owner, nonce+1)
	l.setAllowance(owner, spender, value.Clone())
	return l.emit("Approval", owner, spender, value)
}
