package agentpay

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseTokenAmount converts an amount string into smallest-unit token
// units. A string without a decimal point is treated as an already-scaled
// raw integer and passed through unchanged; a string with a decimal point
// is scaled by the token's decimals, truncating fractional digits beyond
// that precision.
//
// Examples with 6 decimals: "0.01" -> 10000, "1.0" -> 1000000,
// "0.000001" -> 1, "10000" -> 10000.
func ParseTokenAmount(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if decimals < 0 {
		return nil, fmt.Errorf("negative decimals: %d", decimals)
	}
	// Checked on the string: big.Int parsing would lose the sign of "-0"
	// and let "-0.5" through as a positive amount.
	if strings.HasPrefix(amount, "-") {
		return nil, fmt.Errorf("negative amount: %s", amount)
	}

	if !strings.Contains(amount, ".") {
		raw, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount: %s", amount)
		}
		return raw, nil
	}

	parts := strings.SplitN(amount, ".", 2)
	wholePart, fracPart := parts[0], parts[1]
	if wholePart == "" {
		wholePart = "0"
	}

	whole, ok := new(big.Int).SetString(wholePart, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}

	// Pad or truncate the fractional part to exactly `decimals` digits.
	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	} else {
		fracPart += strings.Repeat("0", decimals-len(fracPart))
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	result := new(big.Int).Mul(whole, scale)

	if fracPart != "" {
		frac, ok := new(big.Int).SetString(fracPart, 10)
		if !ok {
			return nil, fmt.Errorf("invalid fractional amount: %s", amount)
		}
		result.Add(result, frac)
	}
	return result, nil
}

// FormatTokenAmount renders a smallest-unit value as a human decimal
// string, trimming trailing zeros from the fractional part.
func FormatTokenAmount(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	if decimals <= 0 {
		return raw.String()
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(raw, scale, new(big.Int))

	fracStr := frac.String()
	if len(fracStr) < decimals {
		fracStr = strings.Repeat("0", decimals-len(fracStr)) + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")
	if fracStr == "" {
		return whole.String()
	}
	return whole.String() + "." + fracStr
}
