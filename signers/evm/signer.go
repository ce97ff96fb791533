// Package evm provides signing identities and the authorization signer
// for EVM payment schemes.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SigningIdentity is a capability that can sign 32-byte digests for one
// address. Implementations range from an in-process private key to an
// external wallet service that returns signatures without ever exposing
// key material. Identities are passed by reference per call; nothing in
// this package holds an ambient "current wallet".
type SigningIdentity interface {
	// Address returns the checksummed address controlled by this identity.
	Address() string

	// SignDigest signs a 32-byte hash and returns a 65-byte r||s||v
	// signature with v in the 27/28 convention.
	SignDigest(ctx context.Context, digest common.Hash) ([]byte, error)
}

// LocalSigner implements SigningIdentity with an in-process ECDSA key.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewLocalSigner creates a signing identity from a hex-encoded private
// key, with or without a "0x" prefix.
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the Ethereum address of the signer.
func (s *LocalSigner) Address() string {
	return s.address.Hex()
}

// SignDigest signs the digest with the local key.
func (s *LocalSigner) SignDigest(_ context.Context, digest common.Hash) ([]byte, error) {
	signature, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 -> 27/28)
	signature[64] += 27
	return signature, nil
}
