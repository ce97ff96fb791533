package agentpay

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func samplePayload(t *testing.T) PaymentPayload {
	t.Helper()
	payload, err := NewExactPayload("base", "0xab", TransferWithAuthorization{
		From:        "0x1234567890123456789012345678901234567890",
		To:          "0x9876543210987654321098765432109876543210",
		Value:       "10000",
		ValidAfter:  "0",
		ValidBefore: "9999999999",
		Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
	})
	if err != nil {
		t.Fatalf("failed to build payload: %v", err)
	}
	return payload
}

func TestPaymentHeaderRoundTrip(t *testing.T) {
	payload := samplePayload(t)

	header, err := EncodePaymentHeader(payload)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := DecodePaymentHeader(header)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	scheme, network := decoded.SchemeNetwork()
	if scheme != SchemeExact || network != "base" {
		t.Errorf("got scheme=%q network=%q", scheme, network)
	}
	auth, err := decoded.TransferAuthorization()
	if err != nil {
		t.Fatalf("authorization decode failed: %v", err)
	}
	if auth.Value != "10000" {
		t.Errorf("value = %q, want 10000", auth.Value)
	}
}

func TestDecodePaymentHeaderRawJSON(t *testing.T) {
	payload := samplePayload(t)
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	decoded, err := DecodePaymentHeader(string(raw))
	if err != nil {
		t.Fatalf("raw JSON decode failed: %v", err)
	}
	if decoded.X402Version != X402Version {
		t.Errorf("version = %d", decoded.X402Version)
	}
}

func TestDecodePaymentHeaderRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "not base64 or json", base64.StdEncoding.EncodeToString([]byte("still not json"))} {
		if _, err := DecodePaymentHeader(bad); err == nil {
			t.Errorf("DecodePaymentHeader(%q) should fail", bad)
		}
	}
}

func TestSchemeNetworkFallsBackToAccepted(t *testing.T) {
	payload := samplePayload(t)
	payload.Scheme = ""
	payload.Network = ""
	payload.Accepted = &AcceptedInfo{Scheme: SchemePermit, Network: "base-sepolia"}

	scheme, network := payload.SchemeNetwork()
	if scheme != SchemePermit || network != "base-sepolia" {
		t.Errorf("got scheme=%q network=%q", scheme, network)
	}
}

func TestAuthorizationUnionIsTagged(t *testing.T) {
	payload := samplePayload(t)

	// The payload carries a transfer authorization; asking for the permit
	// variant must fail rather than parse overlapping fields.
	if _, err := payload.PermitAuthorization(); err == nil {
		t.Error("permit decode of an exact payload should fail")
	}

	payload.Scheme = SchemePermit
	if _, err := payload.TransferAuthorization(); err == nil {
		t.Error("transfer decode of a permit payload should fail")
	}
}

func TestValidatePaymentPayload(t *testing.T) {
	payload := samplePayload(t)
	if err := ValidatePaymentPayload(payload); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	broken := payload
	broken.X402Version = 99
	if err := ValidatePaymentPayload(broken); err == nil {
		t.Error("wrong version should be rejected")
	}

	broken = payload
	broken.Payload.Signature = ""
	if err := ValidatePaymentPayload(broken); err == nil {
		t.Error("missing signature should be rejected")
	}
}

func TestResolveTokenMetadata(t *testing.T) {
	req := PaymentRequirements{Asset: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}
	meta := ResolveTokenMetadata(req)
	if meta.Name != DefaultTokenName || meta.Version != DefaultTokenVersion || meta.Decimals != DefaultDecimals {
		t.Errorf("defaults not applied: %+v", meta)
	}
	if meta.Address != req.Asset {
		t.Errorf("address = %q", meta.Address)
	}

	decimals := 18
	req.Extra = &PaymentExtra{Name: "Dai", Version: "1", Decimals: &decimals, Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F"}
	meta = ResolveTokenMetadata(req)
	if meta.Name != "Dai" || meta.Decimals != 18 || meta.Address != req.Extra.Address {
		t.Errorf("extra not applied: %+v", meta)
	}
}
