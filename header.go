package agentpay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// HTTP header names used by the x402 protocol.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// EncodePaymentHeader serializes a payment payload for the X-PAYMENT
// header: base64 of the UTF-8 JSON encoding.
func EncodePaymentHeader(payload PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentHeader parses an X-PAYMENT header value. Base64-wrapped
// JSON is tried first; a header that is not valid base64 (or whose decoded
// bytes are not JSON) is retried as raw JSON, since both forms occur in
// the wild.
func DecodePaymentHeader(header string) (PaymentPayload, error) {
	if header == "" {
		return PaymentPayload{}, fmt.Errorf("empty payment header")
	}

	var payload PaymentPayload
	if decoded, err := base64.StdEncoding.DecodeString(header); err == nil {
		if err := json.Unmarshal(decoded, &payload); err == nil {
			return payload, nil
		}
	}
	if err := json.Unmarshal([]byte(header), &payload); err != nil {
		return PaymentPayload{}, fmt.Errorf("payment header is neither base64-encoded JSON nor raw JSON: %w", err)
	}
	return payload, nil
}

// ValidatePaymentPayload performs structural validation on a decoded
// payment payload before any cryptographic work.
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version != X402Version {
		return fmt.Errorf("unsupported x402 version: %d", p.X402Version)
	}
	scheme, network := p.SchemeNetwork()
	if scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if network == "" {
		return fmt.Errorf("payment network is required")
	}
	if p.Payload.Signature == "" {
		return fmt.Errorf("payment signature is required")
	}
	if len(p.Payload.Authorization) == 0 {
		return fmt.Errorf("payment authorization is required")
	}
	return nil
}

// ValidatePaymentRequirements performs basic validation on payment requirements
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if r.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("payment asset is required")
	}
	if r.PayTo == "" {
		return fmt.Errorf("payment recipient is required")
	}
	if r.MaxAmountRequired == "" {
		return fmt.Errorf("payment amount is required")
	}
	return nil
}
