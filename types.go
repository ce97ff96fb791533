package agentpay

import (
	"encoding/json"
	"fmt"
)

// Supported payment schemes. The scheme is the discriminant of the
// authorization union: it selects which struct-hash layout and which
// time-window check applies.
const (
	SchemeExact  = "exact"  // EIP-3009 TransferWithAuthorization
	SchemePermit = "permit" // EIP-2612 Permit
)

// X402Version is the protocol version this module speaks.
const X402Version = 1

// PaymentRequirements describes what a service will accept as payment.
// Servers construct it from configuration; clients parse it out of a 402
// challenge body. It is never mutated after construction.
type PaymentRequirements struct {
	Scheme            string        `json:"scheme"`
	Network           string        `json:"network"`
	MaxAmountRequired string        `json:"maxAmountRequired"`
	Asset             string        `json:"asset"`
	PayTo             string        `json:"payTo"`
	MaxTimeoutSeconds int           `json:"maxTimeoutSeconds,omitempty"`
	Resource          string        `json:"resource,omitempty"`
	Description       string        `json:"description,omitempty"`
	MimeType          string        `json:"mimeType,omitempty"`
	Extra             *PaymentExtra `json:"extra,omitempty"`
}

// PaymentExtra carries optional token metadata alongside requirements.
// Services paying with assets other than the default stablecoin must
// populate it; otherwise verification falls back to TokenMetadata defaults.
type PaymentExtra struct {
	Token             string `json:"token,omitempty"`
	Address           string `json:"address,omitempty"`
	Decimals          *int   `json:"decimals,omitempty"`
	Name              string `json:"name,omitempty"`
	Version           string `json:"version,omitempty"`
	FacilitatorSigner string `json:"facilitatorSigner,omitempty"`
}

// Default token metadata, matching the dominant 6-decimal stablecoin
// deployments. Callers with other assets must supply Extra.
const (
	DefaultTokenName    = "USD Coin"
	DefaultTokenVersion = "2"
	DefaultDecimals     = 6
)

// TokenMetadata is the resolved EIP-712 domain material for an asset.
type TokenMetadata struct {
	Name     string
	Version  string
	Decimals int
	Address  string
}

// ResolveTokenMetadata merges requirements.Extra over the defaults.
// The contract address comes from Extra when present, otherwise from
// requirements.Asset.
func ResolveTokenMetadata(req PaymentRequirements) TokenMetadata {
	meta := TokenMetadata{
		Name:     DefaultTokenName,
		Version:  DefaultTokenVersion,
		Decimals: DefaultDecimals,
		Address:  req.Asset,
	}
	if req.Extra == nil {
		return meta
	}
	if req.Extra.Name != "" {
		meta.Name = req.Extra.Name
	}
	if req.Extra.Version != "" {
		meta.Version = req.Extra.Version
	}
	if req.Extra.Decimals != nil {
		meta.Decimals = *req.Extra.Decimals
	}
	if req.Extra.Address != "" {
		meta.Address = req.Extra.Address
	} else if req.Extra.Token != "" {
		meta.Address = req.Extra.Token
	}
	return meta
}

// PaymentRequiredResponse is the 402 challenge body.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
}

// TransferWithAuthorization is the EIP-3009 authorization variant.
// Value, ValidAfter and ValidBefore are uint256 decimal strings; Nonce is
// a 0x-prefixed 32-byte hex value chosen unpredictably by the signer.
type TransferWithAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PermitAuthorization is the EIP-2612 authorization variant. Nonce here is
// the token contract's sequential per-owner counter, not a random value.
type PermitAuthorization struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Nonce    string `json:"nonce"`
	Deadline string `json:"deadline"`
}

// SignedAuthorization pairs a 65-byte hex signature with one authorization
// variant. The variant is kept raw and decoded by matching on the payload
// scheme first, so a payload mixing fields from both variants is never
// silently accepted.
type SignedAuthorization struct {
	Signature     string          `json:"signature"`
	Authorization json.RawMessage `json:"authorization"`
}

// AcceptedInfo is the nested scheme/network block older payload shapes
// carry instead of top-level fields.
type AcceptedInfo struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// PaymentPayload is the wire object carried in the X-PAYMENT header.
// It is signed data: any field change invalidates the signature by
// construction, so it is never mutated after creation.
type PaymentPayload struct {
	X402Version int                 `json:"x402Version"`
	Scheme      string              `json:"scheme,omitempty"`
	Network     string              `json:"network,omitempty"`
	Accepted    *AcceptedInfo       `json:"accepted,omitempty"`
	Payload     SignedAuthorization `json:"payload"`
}

// SchemeNetwork returns the payload's scheme and network, preferring the
// top-level fields and falling back to the nested accepted block.
func (p PaymentPayload) SchemeNetwork() (string, string) {
	scheme, network := p.Scheme, p.Network
	if scheme == "" && p.Accepted != nil {
		scheme = p.Accepted.Scheme
	}
	if network == "" && p.Accepted != nil {
		network = p.Accepted.Network
	}
	return scheme, network
}

// TransferAuthorization decodes the EIP-3009 variant. It fails if the
// payload's scheme selects a different variant.
func (p PaymentPayload) TransferAuthorization() (TransferWithAuthorization, error) {
	scheme, _ := p.SchemeNetwork()
	if scheme != SchemeExact {
		return TransferWithAuthorization{}, fmt.Errorf("scheme %q does not carry a transfer authorization", scheme)
	}
	var auth TransferWithAuthorization
	if err := json.Unmarshal(p.Payload.Authorization, &auth); err != nil {
		return TransferWithAuthorization{}, fmt.Errorf("failed to decode transfer authorization: %w", err)
	}
	return auth, nil
}

// PermitAuthorization decodes the EIP-2612 variant. It fails if the
// payload's scheme selects a different variant.
func (p PaymentPayload) PermitAuthorization() (PermitAuthorization, error) {
	scheme, _ := p.SchemeNetwork()
	if scheme != SchemePermit {
		return PermitAuthorization{}, fmt.Errorf("scheme %q does not carry a permit authorization", scheme)
	}
	var auth PermitAuthorization
	if err := json.Unmarshal(p.Payload.Authorization, &auth); err != nil {
		return PermitAuthorization{}, fmt.Errorf("failed to decode permit authorization: %w", err)
	}
	return auth, nil
}

// NewExactPayload builds a PaymentPayload carrying an EIP-3009 authorization.
func NewExactPayload(network, signature string, auth TransferWithAuthorization) (PaymentPayload, error) {
	raw, err := json.Marshal(auth)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to encode authorization: %w", err)
	}
	return PaymentPayload{
		X402Version: X402Version,
		Scheme:      SchemeExact,
		Network:     network,
		Payload:     SignedAuthorization{Signature: signature, Authorization: raw},
	}, nil
}

// NewPermitPayload builds a PaymentPayload carrying an EIP-2612 authorization.
func NewPermitPayload(network, signature string, auth PermitAuthorization) (PaymentPayload, error) {
	raw, err := json.Marshal(auth)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("failed to encode authorization: %w", err)
	}
	return PaymentPayload{
		X402Version: X402Version,
		Scheme:      SchemePermit,
		Network:     network,
		Payload:     SignedAuthorization{Signature: signature, Authorization: raw},
	}, nil
}

// VerificationResult is the sole return type of payment verification.
// Business-rule failures are Valid:false with an explanatory Error, never
// a Go error; malformed counterparty input is also Valid:false with a
// specific message, never a panic.
type VerificationResult struct {
	Valid    bool   `json:"valid"`
	Payer    string `json:"payer,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
	Scheme   string `json:"scheme,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	Expiry   uint64 `json:"expiry,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Invalid builds a failed VerificationResult with a formatted reason.
func Invalid(format string, args ...interface{}) VerificationResult {
	return VerificationResult{Valid: false, Error: fmt.Sprintf(format, args...)}
}

// SettledPayment summarizes a payment the challenge client made, for
// caller bookkeeping and telemetry.
type SettledPayment struct {
	Amount          string `json:"amount"`
	FormattedAmount string `json:"formattedAmount"`
	Asset           string `json:"asset"`
	PayTo           string `json:"payTo"`
	Network         string `json:"network"`
	TxHash          string `json:"txHash,omitempty"`
}
