package httpclient

import (
	"math/big"
	"strings"

	"github.com/defirelay/agentpay"
)

// PaymentLimit caps how much may be paid in one asset.
type PaymentLimit struct {
	MaxAmount   *big.Int // smallest units
	Decimals    int
	DisplayName string
	Address     string // token contract address
}

// PaymentLimits is a per-asset limit table keyed by symbol. Assets are
// matched by symbol first, then by scanning contract addresses, since a
// 402 challenge identifies its asset by address rather than symbol.
type PaymentLimits map[string]PaymentLimit

// Find resolves a limit for a token contract address.
func (l PaymentLimits) Find(asset string) (PaymentLimit, bool) {
	if limit, ok := l[asset]; ok {
		return limit, true
	}
	for _, limit := range l {
		if strings.EqualFold(limit.Address, asset) {
			return limit, true
		}
	}
	return PaymentLimit{}, false
}

// Check validates requirements against the table. Requirements demanding
// an unknown asset or an amount above its limit are rejected before any
// signature is produced; the error names the violated limit.
func (l PaymentLimits) Check(req agentpay.PaymentRequirements) error {
	if len(l) == 0 {
		return nil
	}

	meta := agentpay.ResolveTokenMetadata(req)
	limit, ok := l.Find(meta.Address)
	if !ok {
		return agentpay.NewPaymentError(
			agentpay.ErrCodeLimitExceeded,
			"no payment limit configured for asset "+meta.Address,
			map[string]interface{}{"asset": meta.Address},
		)
	}

	amount, err := agentpay.ParseTokenAmount(req.MaxAmountRequired, limit.Decimals)
	if err != nil {
		return agentpay.NewPaymentError(
			agentpay.ErrCodeInvalidPayment,
			"unparseable required amount "+req.MaxAmountRequired,
			map[string]interface{}{"amount": req.MaxAmountRequired},
		)
	}
	if limit.MaxAmount != nil && amount.Cmp(limit.MaxAmount) > 0 {
		return agentpay.NewPaymentError(
			agentpay.ErrCodeLimitExceeded,
			"requested "+agentpay.FormatTokenAmount(amount, limit.Decimals)+" "+limit.DisplayName+
				" exceeds limit "+agentpay.FormatTokenAmount(limit.MaxAmount, limit.Decimals),
			map[string]interface{}{
				"amount": amount.String(),
				"limit":  limit.MaxAmount.String(),
				"asset":  meta.Address,
			},
		)
	}
	return nil
}
