package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed EIP-712 type hashes for the two supported authorization
// layouts. The strings must match the token contracts byte for byte.
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	transferWithAuthorizationTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
	permitTypeHash = crypto.Keccak256Hash([]byte(
		"Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
)

// DomainSeparator computes the EIP-712 domain separator binding a
// signature to a token contract, chain and contract version.
func DomainSeparator(name, version string, chainID *big.Int, verifyingContract common.Address) common.Hash {
	buf := make([]byte, 0, 5*32)
	buf = append(buf, eip712DomainTypeHash.Bytes()...)
	buf = append(buf, crypto.Keccak256([]byte(name))...)
	buf = append(buf, crypto.Keccak256([]byte(version))...)
	buf = append(buf, common.LeftPadBytes(chainID.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(verifyingContract.Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// HashTransferWithAuthorization computes the EIP-3009 struct hash: the
// type hash followed by the six fields ABI-encoded in declared order.
func HashTransferWithAuthorization(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) common.Hash {
	buf := make([]byte, 0, 7*32)
	buf = append(buf, transferWithAuthorizationTypeHash.Bytes()...)
	buf = append(buf, common.LeftPadBytes(from.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(to.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(value.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(validAfter.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(validBefore.Bytes(), 32)...)
	buf = append(buf, nonce[:]...)
	return crypto.Keccak256Hash(buf)
}

// HashPermit computes the EIP-2612 struct hash.
func HashPermit(owner, spender common.Address, value, nonce, deadline *big.Int) common.Hash {
	buf := make([]byte, 0, 6*32)
	buf = append(buf, permitTypeHash.Bytes()...)
	buf = append(buf, common.LeftPadBytes(owner.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(spender.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(value.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(nonce.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(deadline.Bytes(), 32)...)
	return crypto.Keccak256Hash(buf)
}

// Digest produces the final EIP-712 signing hash:
// keccak256(0x19 || 0x01 || domainSeparator || structHash).
func Digest(domainSeparator, structHash common.Hash) common.Hash {
	buf := make([]byte, 0, 2+2*32)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, domainSeparator.Bytes()...)
	buf = append(buf, structHash.Bytes()...)
	return crypto.Keccak256Hash(buf)
}
