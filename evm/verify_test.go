package evm_test

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defirelay/agentpay"
	"github.com/defirelay/agentpay/evm"
	signers "github.com/defirelay/agentpay/signers/evm"
)

// Well-known development key, never used on a live network.
const (
	devKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	payeeAddr  = "0x9876543210987654321098765432109876543210"
)

func requirements() agentpay.PaymentRequirements {
	return agentpay.PaymentRequirements{
		Scheme:            agentpay.SchemeExact,
		Network:           "base",
		MaxAmountRequired: "0.01",
		Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		PayTo:             payeeAddr,
		MaxTimeoutSeconds: 300,
	}
}

func signedHeader(t *testing.T, req agentpay.PaymentRequirements) string {
	t.Helper()
	identity, err := signers.NewLocalSigner(devKey)
	require.NoError(t, err)

	signer := signers.NewAuthorizationSigner()
	payload, err := signer.Sign(context.Background(), req, identity)
	require.NoError(t, err)

	header, err := agentpay.EncodePaymentHeader(payload)
	require.NoError(t, err)
	return header
}

func TestVerifyRoundTrip(t *testing.T) {
	req := requirements()
	header := signedHeader(t, req)

	result := evm.NewVerifier().Verify(header, req)
	require.True(t, result.Valid, "round trip should verify: %s", result.Error)
	assert.Equal(t, devAddress, result.Payer)
	assert.Equal(t, "10000", result.Amount)
	assert.Equal(t, agentpay.SchemeExact, result.Scheme)
	assert.NotEmpty(t, result.Nonce)
	assert.Greater(t, result.Expiry, uint64(time.Now().Unix()))
}

func TestVerifyPermitRoundTrip(t *testing.T) {
	req := requirements()
	req.Scheme = agentpay.SchemePermit
	header := signedHeader(t, req)

	result := evm.NewVerifier().Verify(header, req)
	require.True(t, result.Valid, "permit round trip should verify: %s", result.Error)
	assert.Equal(t, devAddress, result.Payer)
	assert.Equal(t, agentpay.SchemePermit, result.Scheme)
	assert.Equal(t, "0", result.Nonce)
}

func TestVerifyTamperSensitivity(t *testing.T) {
	req := requirements()

	tamper := func(t *testing.T, mutate func(*agentpay.PaymentPayload, *agentpay.TransferWithAuthorization)) agentpay.VerificationResult {
		t.Helper()
		header := signedHeader(t, req)
		payload, err := agentpay.DecodePaymentHeader(header)
		require.NoError(t, err)
		auth, err := payload.TransferAuthorization()
		require.NoError(t, err)

		mutate(&payload, &auth)

		tampered, err := agentpay.NewExactPayload(payload.Network, payload.Payload.Signature, auth)
		require.NoError(t, err)
		reencoded, err := agentpay.EncodePaymentHeader(tampered)
		require.NoError(t, err)
		return evm.NewVerifier().Verify(reencoded, req)
	}

	t.Run("value", func(t *testing.T) {
		result := tamper(t, func(_ *agentpay.PaymentPayload, auth *agentpay.TransferWithAuthorization) {
			auth.Value = "10001"
		})
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error, "signer mismatch")
	})

	t.Run("recipient", func(t *testing.T) {
		result := tamper(t, func(_ *agentpay.PaymentPayload, auth *agentpay.TransferWithAuthorization) {
			// Redirect to a different payee; the requirements check no
			// longer matches.
			auth.To = "0x1111111111111111111111111111111111111111"
		})
		assert.False(t, result.Valid)
	})

	t.Run("nonce", func(t *testing.T) {
		result := tamper(t, func(_ *agentpay.PaymentPayload, auth *agentpay.TransferWithAuthorization) {
			flipped := []byte(auth.Nonce)
			if flipped[len(flipped)-1] == 'a' {
				flipped[len(flipped)-1] = 'b'
			} else {
				flipped[len(flipped)-1] = 'a'
			}
			auth.Nonce = string(flipped)
		})
		assert.False(t, result.Valid)
	})

	t.Run("validBefore", func(t *testing.T) {
		result := tamper(t, func(_ *agentpay.PaymentPayload, auth *agentpay.TransferWithAuthorization) {
			auth.ValidBefore = "9999999999"
		})
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error, "signer mismatch")
	})

	t.Run("signature", func(t *testing.T) {
		result := tamper(t, func(p *agentpay.PaymentPayload, _ *agentpay.TransferWithAuthorization) {
			sig := []byte(p.Payload.Signature)
			if sig[10] == '0' {
				sig[10] = '1'
			} else {
				sig[10] = '0'
			}
			p.Payload.Signature = string(sig)
		})
		assert.False(t, result.Valid)
	})
}

func TestVerifyExpiryBoundary(t *testing.T) {
	req := requirements()
	header := signedHeader(t, req)

	payload, err := agentpay.DecodePaymentHeader(header)
	require.NoError(t, err)
	auth, err := payload.TransferAuthorization()
	require.NoError(t, err)

	expiry := mustParseUnix(t, auth.ValidBefore)

	t.Run("validBefore equal to now is expired", func(t *testing.T) {
		v := evm.NewVerifier(evm.WithClock(func() time.Time { return expiry }))
		result := v.Verify(header, req)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error, "expired")
	})

	t.Run("one second before expiry is valid", func(t *testing.T) {
		v := evm.NewVerifier(evm.WithClock(func() time.Time { return expiry.Add(-time.Second) }))
		result := v.Verify(header, req)
		assert.True(t, result.Valid, result.Error)
	})

	t.Run("not yet valid", func(t *testing.T) {
		notYet := mustParseUnix(t, auth.ValidAfter).Add(-time.Minute)
		v := evm.NewVerifier(evm.WithClock(func() time.Time { return notYet }))
		result := v.Verify(header, req)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error, "not yet valid")
	})
}

func TestVerifyAmountBoundary(t *testing.T) {
	req := requirements()
	header := signedHeader(t, req) // authorizes exactly 10000

	t.Run("exact amount passes", func(t *testing.T) {
		result := evm.NewVerifier().Verify(header, req)
		assert.True(t, result.Valid, result.Error)
	})

	t.Run("one unit short fails", func(t *testing.T) {
		demanding := req
		demanding.MaxAmountRequired = "10001"
		result := evm.NewVerifier().Verify(header, demanding)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error, "insufficient amount")
	})
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	req := requirements()

	t.Run("undecodable header", func(t *testing.T) {
		result := evm.NewVerifier().Verify("!!!not a payment!!!", req)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error, "decode")
	})

	t.Run("short signature", func(t *testing.T) {
		header := signedHeader(t, req)
		payload, err := agentpay.DecodePaymentHeader(header)
		require.NoError(t, err)
		auth, err := payload.TransferAuthorization()
		require.NoError(t, err)

		truncated, err := agentpay.NewExactPayload("base", payload.Payload.Signature[:80], auth)
		require.NoError(t, err)
		reencoded, err := agentpay.EncodePaymentHeader(truncated)
		require.NoError(t, err)

		result := evm.NewVerifier().Verify(reencoded, req)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error, "signature")
	})

	t.Run("unknown network", func(t *testing.T) {
		other := req
		other.Network = "hyperspace"
		header := signedHeader(t, req)
		result := evm.NewVerifier().Verify(header, other)
		assert.False(t, result.Valid)
	})

	t.Run("scheme mismatch", func(t *testing.T) {
		header := signedHeader(t, req)
		other := req
		other.Scheme = agentpay.SchemePermit
		result := evm.NewVerifier().Verify(header, other)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error, "scheme mismatch")
	})
}

// TestVerifyReplayBehavior documents the replay limitation: without a
// nonce store the identical payload verifies twice, because verification
// proves possession and intent rather than exclusivity of use.
func TestVerifyReplayBehavior(t *testing.T) {
	req := requirements()
	header := signedHeader(t, req)

	t.Run("without nonce store a replay is still valid", func(t *testing.T) {
		v := evm.NewVerifier()
		first := v.Verify(header, req)
		require.True(t, first.Valid, first.Error)

		replay := v.Verify(header, req)
		assert.True(t, replay.Valid, "stateless verification accepts replays")
		assert.Equal(t, first.Payer, replay.Payer)
	})

	t.Run("with nonce store a replay is rejected", func(t *testing.T) {
		v := evm.NewVerifier(evm.WithNonceStore(evm.NewInMemoryNonceStore()))
		first := v.Verify(header, req)
		require.True(t, first.Valid, first.Error)

		replay := v.Verify(header, req)
		assert.False(t, replay.Valid)
		assert.Contains(t, replay.Error, "nonce already used")
	})
}

// TestVerifyRejectsOversizedTimestamps covers timestamps at 2^64: they
// pass a big.Int expiry comparison but would truncate to zero in the
// result, making the nonce store record the nonce as already expired and
// accept every replay.
func TestVerifyRejectsOversizedTimestamps(t *testing.T) {
	req := requirements()
	identity, err := signers.NewLocalSigner(devKey)
	require.NoError(t, err)

	chainID, err := agentpay.ChainID(req.Network)
	require.NoError(t, err)
	domainSep := evm.DomainSeparator(
		agentpay.DefaultTokenName, agentpay.DefaultTokenVersion, chainID, common.HexToAddress(req.Asset))

	from := common.HexToAddress(devAddress)
	to := common.HexToAddress(payeeAddr)
	value := big.NewInt(10000)
	oversized := new(big.Int).Lsh(big.NewInt(1), 64) // 2^64

	t.Run("transfer validBefore at 2^64", func(t *testing.T) {
		nonceHex := "0x" + strings.Repeat("11", 32)
		nonce, err := evm.ParseNonce(nonceHex)
		require.NoError(t, err)

		structHash := evm.HashTransferWithAuthorization(from, to, value, big.NewInt(0), oversized, nonce)
		sig, err := identity.SignDigest(context.Background(), evm.Digest(domainSep, structHash))
		require.NoError(t, err)

		payload, err := agentpay.NewExactPayload(req.Network, hexutil.Encode(sig), agentpay.TransferWithAuthorization{
			From:        from.Hex(),
			To:          to.Hex(),
			Value:       value.String(),
			ValidAfter:  "0",
			ValidBefore: oversized.String(),
			Nonce:       nonceHex,
		})
		require.NoError(t, err)
		header, err := agentpay.EncodePaymentHeader(payload)
		require.NoError(t, err)

		v := evm.NewVerifier(evm.WithNonceStore(evm.NewInMemoryNonceStore()))
		result := v.Verify(header, req)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error, "out of range")

		replay := v.Verify(header, req)
		assert.False(t, replay.Valid)
	})

	t.Run("permit deadline at 2^64", func(t *testing.T) {
		permitReq := req
		permitReq.Scheme = agentpay.SchemePermit

		structHash := evm.HashPermit(from, to, value, big.NewInt(0), oversized)
		sig, err := identity.SignDigest(context.Background(), evm.Digest(domainSep, structHash))
		require.NoError(t, err)

		payload, err := agentpay.NewPermitPayload(req.Network, hexutil.Encode(sig), agentpay.PermitAuthorization{
			Owner:    from.Hex(),
			Spender:  to.Hex(),
			Value:    value.String(),
			Nonce:    "0",
			Deadline: oversized.String(),
		})
		require.NoError(t, err)
		header, err := agentpay.EncodePaymentHeader(payload)
		require.NoError(t, err)

		result := evm.NewVerifier().Verify(header, permitReq)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Error, "out of range")
	})
}

func mustParseUnix(t *testing.T, s string) time.Time {
	t.Helper()
	s = strings.TrimSpace(s)
	var secs int64
	for _, r := range s {
		require.True(t, r >= '0' && r <= '9', "not a unix timestamp: %q", s)
		secs = secs*10 + int64(r-'0')
	}
	return time.Unix(secs, 0)
}
