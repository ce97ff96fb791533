// Package echo provides the x402 payment middleware for echo services,
// mirroring the gin variant.
package echo

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/defirelay/agentpay"
	"github.com/defirelay/agentpay/evm"
)

// ContextKeyPayment is the echo context key under which the middleware
// stores the VerificationResult.
const ContextKeyPayment = "x402Payment"

// Config configures the payment middleware.
type Config struct {
	Amount            string
	PayTo             string
	Network           string
	Scheme            string
	Description       string
	Resource          string
	MimeType          string
	MaxTimeoutSeconds int
	Extra             *agentpay.PaymentExtra
	Verifier          *evm.Verifier
}

// PaymentMiddleware guards routes behind an x402 payment. The asset
// defaults to the network's USDC deployment unless Config.Extra
// overrides it.
func PaymentMiddleware(cfg Config) (echo.MiddlewareFunc, error) {
	if cfg.Scheme == "" {
		cfg.Scheme = agentpay.SchemeExact
	}
	if cfg.MaxTimeoutSeconds == 0 {
		cfg.MaxTimeoutSeconds = 300
	}

	network, ok := agentpay.Networks[cfg.Network]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", cfg.Network)
	}

	requirements := agentpay.PaymentRequirements{
		Scheme:            cfg.Scheme,
		Network:           cfg.Network,
		MaxAmountRequired: cfg.Amount,
		Asset:             network.USDCAddress,
		PayTo:             cfg.PayTo,
		MaxTimeoutSeconds: cfg.MaxTimeoutSeconds,
		Resource:          cfg.Resource,
		Description:       cfg.Description,
		MimeType:          cfg.MimeType,
		Extra:             cfg.Extra,
	}
	if cfg.Extra != nil && cfg.Extra.Address != "" {
		requirements.Asset = cfg.Extra.Address
	}
	if err := agentpay.ValidatePaymentRequirements(requirements); err != nil {
		return nil, fmt.Errorf("invalid payment configuration: %w", err)
	}

	verifier := cfg.Verifier
	if verifier == nil {
		verifier = evm.NewVerifier()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(agentpay.HeaderPayment)
			if header == "" {
				return c.JSON(http.StatusPaymentRequired, challenge(requirements, "payment required"))
			}

			result := verifier.Verify(header, requirements)
			if !result.Valid {
				return c.JSON(http.StatusPaymentRequired, challenge(requirements, result.Error))
			}

			c.Set(ContextKeyPayment, result)
			return next(c)
		}
	}, nil
}

func challenge(req agentpay.PaymentRequirements, errMsg string) agentpay.PaymentRequiredResponse {
	return agentpay.PaymentRequiredResponse{
		X402Version: agentpay.X402Version,
		Accepts:     []agentpay.PaymentRequirements{req},
		Error:       errMsg,
	}
}
