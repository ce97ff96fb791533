package evm

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defirelay/agentpay"
)

// Verifier checks x402 payment headers against payment requirements.
// It is the signer's exact inverse: it rebuilds the same EIP-712 digest,
// recovers the signer address and applies policy. It holds no mutable
// state unless a NonceStore is configured, and it never panics on
// attacker-controlled input.
type Verifier struct {
	nonces NonceStore
	now    func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithNonceStore enables local replay rejection. Without it the verifier
// reports an identical payload as valid every time; see NonceStore.
func WithNonceStore(store NonceStore) VerifierOption {
	return func(v *Verifier) {
		v.nonces = store
	}
}

// WithClock overrides the time source, for tests exercising expiry
// boundaries.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a payment verifier.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify decodes an X-PAYMENT header and checks it against the given
// requirements. Malformed input and policy violations both produce a
// Valid:false result naming the failed check; no error path exists for
// counterparty-controlled data.
func (v *Verifier) Verify(rawHeader string, req agentpay.PaymentRequirements) agentpay.VerificationResult {
	payload, err := agentpay.DecodePaymentHeader(rawHeader)
	if err != nil {
		return agentpay.Invalid("failed to decode payment header: %v", err)
	}
	if err := agentpay.ValidatePaymentPayload(payload); err != nil {
		return agentpay.Invalid("invalid payment payload: %v", err)
	}

	scheme, network := payload.SchemeNetwork()
	if req.Scheme != "" && scheme != req.Scheme {
		return agentpay.Invalid("scheme mismatch: payload has %q, requirements demand %q", scheme, req.Scheme)
	}
	if req.Network != "" && network != req.Network {
		return agentpay.Invalid("network mismatch: payload has %q, requirements demand %q", network, req.Network)
	}

	chainID, err := agentpay.ChainID(network)
	if err != nil {
		return agentpay.Invalid("%v", err)
	}

	meta := agentpay.ResolveTokenMetadata(req)
	if meta.Address == "" || !common.IsHexAddress(meta.Address) {
		return agentpay.Invalid("invalid asset address: %q", meta.Address)
	}
	domainSep := DomainSeparator(meta.Name, meta.Version, chainID, common.HexToAddress(meta.Address))

	requiredAmount, err := agentpay.ParseTokenAmount(req.MaxAmountRequired, meta.Decimals)
	if err != nil {
		return agentpay.Invalid("invalid required amount: %v", err)
	}

	switch scheme {
	case agentpay.SchemeExact:
		return v.verifyTransfer(payload, req, meta, domainSep, requiredAmount)
	case agentpay.SchemePermit:
		return v.verifyPermit(payload, req, meta, domainSep, requiredAmount)
	default:
		return agentpay.Invalid("unsupported scheme: %q", scheme)
	}
}

// verifyTransfer checks an EIP-3009 TransferWithAuthorization payload.
func (v *Verifier) verifyTransfer(
	payload agentpay.PaymentPayload,
	req agentpay.PaymentRequirements,
	meta agentpay.TokenMetadata,
	domainSep common.Hash,
	requiredAmount *big.Int,
) agentpay.VerificationResult {
	auth, err := payload.TransferAuthorization()
	if err != nil {
		return agentpay.Invalid("%v", err)
	}

	if !common.IsHexAddress(auth.From) {
		return agentpay.Invalid("invalid from address: %q", auth.From)
	}
	if !common.IsHexAddress(auth.To) {
		return agentpay.Invalid("invalid to address: %q", auth.To)
	}
	from := common.HexToAddress(auth.From)
	to := common.HexToAddress(auth.To)

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return agentpay.Invalid("invalid authorization value: %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return agentpay.Invalid("invalid validAfter: %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return agentpay.Invalid("invalid validBefore: %q", auth.ValidBefore)
	}
	// Timestamps are uint64 on-chain; anything wider is malformed and
	// would truncate the recorded expiry.
	if !validAfter.IsUint64() || !validBefore.IsUint64() {
		return agentpay.Invalid("authorization validity window out of range")
	}

	now := big.NewInt(v.now().Unix())
	if validBefore.Cmp(now) <= 0 {
		return agentpay.Invalid("authorization expired at %s", validBefore)
	}
	if validAfter.Cmp(now) > 0 {
		return agentpay.Invalid("authorization not yet valid until %s", validAfter)
	}

	if !common.IsHexAddress(req.PayTo) || to != common.HexToAddress(req.PayTo) {
		return agentpay.Invalid("payee mismatch: authorization pays %s, requirements demand %s", auth.To, req.PayTo)
	}

	if value.Cmp(requiredAmount) < 0 {
		return agentpay.Invalid("insufficient amount: authorized %s, required %s", value, requiredAmount)
	}

	nonce, err := ParseNonce(auth.Nonce)
	if err != nil {
		return agentpay.Invalid("invalid nonce: %v", err)
	}

	sig, err := ParseSignature(payload.Payload.Signature)
	if err != nil {
		return agentpay.Invalid("invalid signature: %v", err)
	}

	structHash := HashTransferWithAuthorization(from, to, value, validAfter, validBefore, nonce)
	digest := Digest(domainSep, structHash)

	recovered, err := RecoverSigner(digest, sig)
	if err != nil {
		return agentpay.Invalid("signature recovery failed: %v", err)
	}
	if recovered != from {
		return agentpay.Invalid("signer mismatch: recovered %s, authorization claims %s", recovered.Hex(), from.Hex())
	}

	expiry := validBefore.Uint64()
	if v.nonces != nil && !v.nonces.CheckAndMark(auth.Nonce, time.Unix(int64(expiry), 0)) {
		return agentpay.Invalid("authorization nonce already used")
	}

	return agentpay.VerificationResult{
		Valid:    true,
		Payer:    recovered.Hex(),
		Amount:   value.String(),
		Currency: meta.Address,
		Scheme:   agentpay.SchemeExact,
		Nonce:    auth.Nonce,
		Expiry:   expiry,
	}
}

// verifyPermit checks an EIP-2612 Permit payload. Same shape as the
// transfer path with owner/spender/deadline in place of the
// transfer-specific fields; the permit nonce is the token contract's
// sequential counter and is not replay-checked locally.
func (v *Verifier) verifyPermit(
	payload agentpay.PaymentPayload,
	req agentpay.PaymentRequirements,
	meta agentpay.TokenMetadata,
	domainSep common.Hash,
	requiredAmount *big.Int,
) agentpay.VerificationResult {
	auth, err := payload.PermitAuthorization()
	if err != nil {
		return agentpay.Invalid("%v", err)
	}

	if !common.IsHexAddress(auth.Owner) {
		return agentpay.Invalid("invalid owner address: %q", auth.Owner)
	}
	if !common.IsHexAddress(auth.Spender) {
		return agentpay.Invalid("invalid spender address: %q", auth.Spender)
	}
	owner := common.HexToAddress(auth.Owner)
	spender := common.HexToAddress(auth.Spender)

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return agentpay.Invalid("invalid permit value: %q", auth.Value)
	}
	nonce, ok := new(big.Int).SetString(auth.Nonce, 10)
	if !ok {
		return agentpay.Invalid("invalid permit nonce: %q", auth.Nonce)
	}
	deadline, ok := new(big.Int).SetString(auth.Deadline, 10)
	if !ok {
		return agentpay.Invalid("invalid deadline: %q", auth.Deadline)
	}
	if !deadline.IsUint64() {
		return agentpay.Invalid("permit deadline out of range: %s", deadline)
	}

	now := big.NewInt(v.now().Unix())
	if deadline.Cmp(now) <= 0 {
		return agentpay.Invalid("permit expired at %s", deadline)
	}

	// The expected spender mirrors what a signer derives from the same
	// requirements: the facilitator signer when one is named, the payee
	// otherwise.
	expectedSpender := req.PayTo
	if req.Extra != nil && req.Extra.FacilitatorSigner != "" {
		expectedSpender = req.Extra.FacilitatorSigner
	}
	if !common.IsHexAddress(expectedSpender) || spender != common.HexToAddress(expectedSpender) {
		return agentpay.Invalid("payee mismatch: permit approves %s, requirements demand %s", auth.Spender, expectedSpender)
	}

	if value.Cmp(requiredAmount) < 0 {
		return agentpay.Invalid("insufficient amount: permitted %s, required %s", value, requiredAmount)
	}

	sig, err := ParseSignature(payload.Payload.Signature)
	if err != nil {
		return agentpay.Invalid("invalid signature: %v", err)
	}

	structHash := HashPermit(owner, spender, value, nonce, deadline)
	digest := Digest(domainSep, structHash)

	recovered, err := RecoverSigner(digest, sig)
	if err != nil {
		return agentpay.Invalid("signature recovery failed: %v", err)
	}
	if recovered != owner {
		return agentpay.Invalid("signer mismatch: recovered %s, permit claims %s", recovered.Hex(), owner.Hex())
	}

	return agentpay.VerificationResult{
		Valid:    true,
		Payer:    recovered.Hex(),
		Amount:   value.String(),
		Currency: meta.Address,
		Scheme:   agentpay.SchemePermit,
		Nonce:    auth.Nonce,
		Expiry:   deadline.Uint64(),
	}
}
