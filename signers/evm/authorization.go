package evm

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/defirelay/agentpay"
	evmhash "github.com/defirelay/agentpay/evm"
)

// DefaultValidityPeriod bounds how long a signed authorization stays
// redeemable when the requirements do not specify a timeout.
const DefaultValidityPeriod = 3600 * time.Second

// clockSkewBuffer backdates validAfter so an authorization is usable
// immediately even when the verifier's clock runs slightly behind.
const clockSkewBuffer = 5 * time.Second

// PermitNonceFunc returns the token contract's current permit nonce for
// an owner. EIP-2612 nonces are sequential on-chain counters, so they
// must come from chain state; a nil func defaults the nonce to zero,
// which is only correct for an owner that has never signed a permit.
type PermitNonceFunc func(ctx context.Context, token, owner common.Address) (*big.Int, error)

// AuthorizationSigner builds, hashes and signs payment authorizations.
// The zero value is not usable; construct with NewAuthorizationSigner.
type AuthorizationSigner struct {
	maxAmount   *big.Int // safety ceiling in smallest units, nil = unlimited
	validity    time.Duration
	permitNonce PermitNonceFunc
	now         func() time.Time
}

// SignerOption configures an AuthorizationSigner.
type SignerOption func(*AuthorizationSigner)

// WithMaxAmount sets a safety ceiling in smallest token units. Signing
// requirements demanding more than the ceiling fails before any key
// material is touched; service-side amounts are untrusted.
func WithMaxAmount(max *big.Int) SignerOption {
	return func(s *AuthorizationSigner) {
		s.maxAmount = max
	}
}

// WithValidityPeriod overrides the default authorization lifetime used
// when requirements carry no MaxTimeoutSeconds.
func WithValidityPeriod(d time.Duration) SignerOption {
	return func(s *AuthorizationSigner) {
		s.validity = d
	}
}

// WithPermitNonceFunc supplies the chain lookup for EIP-2612 nonces.
func WithPermitNonceFunc(fn PermitNonceFunc) SignerOption {
	return func(s *AuthorizationSigner) {
		s.permitNonce = fn
	}
}

// WithSignerClock overrides the time source, for tests.
func WithSignerClock(now func() time.Time) SignerOption {
	return func(s *AuthorizationSigner) {
		s.now = now
	}
}

// NewAuthorizationSigner creates an authorization signer.
func NewAuthorizationSigner(opts ...SignerOption) *AuthorizationSigner {
	s := &AuthorizationSigner{
		validity: DefaultValidityPeriod,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign builds the authorization variant selected by requirements.Scheme,
// computes its EIP-712 digest, signs it with the identity and serializes
// the result into a transport-ready payment payload.
func (s *AuthorizationSigner) Sign(
	ctx context.Context,
	req agentpay.PaymentRequirements,
	identity SigningIdentity,
) (agentpay.PaymentPayload, error) {
	if identity == nil {
		return agentpay.PaymentPayload{}, fmt.Errorf("no signing identity available")
	}
	if err := agentpay.ValidatePaymentRequirements(req); err != nil {
		return agentpay.PaymentPayload{}, fmt.Errorf("invalid payment requirements: %w", err)
	}

	meta := agentpay.ResolveTokenMetadata(req)
	amount, err := agentpay.ParseTokenAmount(req.MaxAmountRequired, meta.Decimals)
	if err != nil {
		return agentpay.PaymentPayload{}, fmt.Errorf("invalid required amount: %w", err)
	}

	// The ceiling check must happen before signing, never after.
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return agentpay.PaymentPayload{}, agentpay.NewPaymentError(
			agentpay.ErrCodeCeilingExceeded,
			fmt.Sprintf("requested amount %s exceeds safety ceiling %s", amount, s.maxAmount),
			map[string]interface{}{"amount": amount.String(), "ceiling": s.maxAmount.String()},
		)
	}

	chainID, err := agentpay.ChainID(req.Network)
	if err != nil {
		return agentpay.PaymentPayload{}, err
	}
	if !common.IsHexAddress(meta.Address) {
		return agentpay.PaymentPayload{}, fmt.Errorf("invalid asset address: %q", meta.Address)
	}
	if !common.IsHexAddress(req.PayTo) {
		return agentpay.PaymentPayload{}, fmt.Errorf("invalid payee address: %q", req.PayTo)
	}

	domainSep := evmhash.DomainSeparator(meta.Name, meta.Version, chainID, common.HexToAddress(meta.Address))

	switch req.Scheme {
	case agentpay.SchemeExact:
		return s.signTransfer(ctx, req, meta, domainSep, amount, identity)
	case agentpay.SchemePermit:
		return s.signPermit(ctx, req, meta, domainSep, amount, identity)
	default:
		return agentpay.PaymentPayload{}, fmt.Errorf("unsupported scheme: %q", req.Scheme)
	}
}

// signTransfer produces an EIP-3009 TransferWithAuthorization payload.
func (s *AuthorizationSigner) signTransfer(
	ctx context.Context,
	req agentpay.PaymentRequirements,
	meta agentpay.TokenMetadata,
	domainSep common.Hash,
	amount *big.Int,
	identity SigningIdentity,
) (agentpay.PaymentPayload, error) {
	from := common.HexToAddress(identity.Address())
	to := common.HexToAddress(req.PayTo)

	now := s.now()
	validAfter := big.NewInt(now.Add(-clockSkewBuffer).Unix())
	validBefore := big.NewInt(now.Add(s.validityFor(req)).Unix())

	nonce, err := randomNonce()
	if err != nil {
		return agentpay.PaymentPayload{}, err
	}

	structHash := evmhash.HashTransferWithAuthorization(from, to, amount, validAfter, validBefore, nonce)
	digest := evmhash.Digest(domainSep, structHash)

	signature, err := identity.SignDigest(ctx, digest)
	if err != nil {
		return agentpay.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	auth := agentpay.TransferWithAuthorization{
		From:        from.Hex(),
		To:          to.Hex(),
		Value:       amount.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       hexutil.Encode(nonce[:]),
	}
	return agentpay.NewExactPayload(req.Network, hexutil.Encode(signature), auth)
}

// signPermit produces an EIP-2612 Permit payload. The spender is the
// facilitator signer from requirements.Extra when present, otherwise the
// payee itself.
func (s *AuthorizationSigner) signPermit(
	ctx context.Context,
	req agentpay.PaymentRequirements,
	meta agentpay.TokenMetadata,
	domainSep common.Hash,
	amount *big.Int,
	identity SigningIdentity,
) (agentpay.PaymentPayload, error) {
	owner := common.HexToAddress(identity.Address())

	spenderHex := req.PayTo
	if req.Extra != nil && req.Extra.FacilitatorSigner != "" {
		spenderHex = req.Extra.FacilitatorSigner
	}
	if !common.IsHexAddress(spenderHex) {
		return agentpay.PaymentPayload{}, fmt.Errorf("invalid spender address: %q", spenderHex)
	}
	spender := common.HexToAddress(spenderHex)

	nonce := big.NewInt(0)
	if s.permitNonce != nil {
		n, err := s.permitNonce(ctx, common.HexToAddress(meta.Address), owner)
		if err != nil {
			return agentpay.PaymentPayload{}, fmt.Errorf("failed to fetch permit nonce: %w", err)
		}
		nonce = n
	}

	deadline := big.NewInt(s.now().Add(s.validityFor(req)).Unix())

	structHash := evmhash.HashPermit(owner, spender, amount, nonce, deadline)
	digest := evmhash.Digest(domainSep, structHash)

	signature, err := identity.SignDigest(ctx, digest)
	if err != nil {
		return agentpay.PaymentPayload{}, fmt.Errorf("failed to sign permit: %w", err)
	}

	auth := agentpay.PermitAuthorization{
		Owner:    owner.Hex(),
		Spender:  spender.Hex(),
		Value:    amount.String(),
		Nonce:    nonce.String(),
		Deadline: deadline.String(),
	}
	return agentpay.NewPermitPayload(req.Network, hexutil.Encode(signature), auth)
}

// validityFor returns the authorization lifetime: the service's timeout
// when it names one, the signer's default otherwise.
func (s *AuthorizationSigner) validityFor(req agentpay.PaymentRequirements) time.Duration {
	if req.MaxTimeoutSeconds > 0 {
		return time.Duration(req.MaxTimeoutSeconds) * time.Second
	}
	return s.validity
}

// randomNonce produces an unpredictable 32-byte nonce by keccak-hashing
// 32 bytes of platform entropy.
func randomNonce() ([32]byte, error) {
	var out [32]byte
	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		return out, fmt.Errorf("failed to generate nonce: %w", err)
	}
	copy(out[:], crypto.Keccak256(entropy))
	return out, nil
}
