// Package gin provides an x402 payment middleware for gin services:
// requests without a valid X-PAYMENT header are answered with a 402
// challenge describing the accepted payment.
package gin

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/defirelay/agentpay"
	"github.com/defirelay/agentpay/evm"
)

// ContextKeyPayment is the gin context key under which the middleware
// stores the VerificationResult for downstream handlers.
const ContextKeyPayment = "x402Payment"

// MiddlewareOptions is the options for the PaymentMiddleware.
type MiddlewareOptions struct {
	Description       string
	Resource          string
	MimeType          string
	MaxTimeoutSeconds int
	Scheme            string
	Extra             *agentpay.PaymentExtra
	Verifier          *evm.Verifier
}

// Option is the type for the options for the PaymentMiddleware.
type Option func(*MiddlewareOptions)

// WithDescription sets the human-readable description in the challenge.
func WithDescription(description string) Option {
	return func(o *MiddlewareOptions) {
		o.Description = description
	}
}

// WithResource sets the resource URL advertised in the challenge.
func WithResource(resource string) Option {
	return func(o *MiddlewareOptions) {
		o.Resource = resource
	}
}

// WithMimeType sets the response mime type advertised in the challenge.
func WithMimeType(mimeType string) Option {
	return func(o *MiddlewareOptions) {
		o.MimeType = mimeType
	}
}

// WithMaxTimeoutSeconds bounds the authorization validity window a
// client may use.
func WithMaxTimeoutSeconds(seconds int) Option {
	return func(o *MiddlewareOptions) {
		o.MaxTimeoutSeconds = seconds
	}
}

// WithScheme selects the payment scheme; the default is exact.
func WithScheme(scheme string) Option {
	return func(o *MiddlewareOptions) {
		o.Scheme = scheme
	}
}

// WithExtra attaches token metadata for assets other than the network's
// default stablecoin.
func WithExtra(extra *agentpay.PaymentExtra) Option {
	return func(o *MiddlewareOptions) {
		o.Extra = extra
	}
}

// WithVerifier installs a custom verifier, e.g. one with a nonce store.
func WithVerifier(v *evm.Verifier) Option {
	return func(o *MiddlewareOptions) {
		o.Verifier = v
	}
}

// PaymentMiddleware guards routes behind an x402 payment. The amount is
// a human-decimal or raw smallest-unit string, payTo the receiving
// address, network one of the configured network identifiers. The asset
// defaults to the network's USDC deployment unless Extra overrides it.
func PaymentMiddleware(amount, payTo, network string, opts ...Option) (gin.HandlerFunc, error) {
	options := &MiddlewareOptions{
		Scheme:            agentpay.SchemeExact,
		MaxTimeoutSeconds: 300,
	}
	for _, opt := range opts {
		opt(options)
	}

	cfg, ok := agentpay.Networks[network]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}

	requirements := agentpay.PaymentRequirements{
		Scheme:            options.Scheme,
		Network:           network,
		MaxAmountRequired: amount,
		Asset:             cfg.USDCAddress,
		PayTo:             payTo,
		MaxTimeoutSeconds: options.MaxTimeoutSeconds,
		Resource:          options.Resource,
		Description:       options.Description,
		MimeType:          options.MimeType,
		Extra:             options.Extra,
	}
	if options.Extra != nil && options.Extra.Address != "" {
		requirements.Asset = options.Extra.Address
	}
	if err := agentpay.ValidatePaymentRequirements(requirements); err != nil {
		return nil, fmt.Errorf("invalid payment configuration: %w", err)
	}

	verifier := options.Verifier
	if verifier == nil {
		verifier = evm.NewVerifier()
	}

	return func(c *gin.Context) {
		header := c.GetHeader(agentpay.HeaderPayment)
		if header == "" {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, challenge(requirements, "payment required"))
			return
		}

		result := verifier.Verify(header, requirements)
		if !result.Valid {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, challenge(requirements, result.Error))
			return
		}

		c.Set(ContextKeyPayment, result)
		c.Next()
	}, nil
}

// challenge builds the 402 response body.
func challenge(req agentpay.PaymentRequirements, errMsg string) agentpay.PaymentRequiredResponse {
	return agentpay.PaymentRequiredResponse{
		X402Version: agentpay.X402Version,
		Accepts:     []agentpay.PaymentRequirements{req},
		Error:       errMsg,
	}
}
