// Package httpclient implements the x402 challenge-retry protocol: issue
// a request, and when the service answers 402, sign a payment
// authorization matching its requirements and retry once with the
// X-PAYMENT header attached.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/defirelay/agentpay"
	signers "github.com/defirelay/agentpay/signers/evm"
)

// txHashHeaders are the response headers services use to report the
// settlement transaction hash, in lookup order.
var txHashHeaders = []string{"X-Payment-Tx-Hash", "X-Transaction-Hash", "X-Tx-Hash"}

// RequestSpec describes one HTTP request. The body is held as bytes so
// the request can be replayed with a payment header attached.
type RequestSpec struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Client drives the 402 challenge-retry flow. Construct it explicitly
// and pass it by reference; it holds no ambient global state beyond the
// optional session cache, which is itself lock-guarded.
type Client struct {
	httpClient *http.Client
	signer     *signers.AuthorizationSigner
	limits     PaymentLimits
	session    *Session
	log        *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithPaymentLimits installs a per-asset limit table consulted before
// signing; service-side amounts are untrusted.
func WithPaymentLimits(limits PaymentLimits) ClientOption {
	return func(cl *Client) {
		cl.limits = limits
	}
}

// WithSession layers session-token authentication under the payment
// flow: requests carry a bearer token, and a 401 triggers one
// re-authentication followed by one retry.
func WithSession(session *Session) ClientOption {
	return func(cl *Client) {
		cl.session = session
	}
}

// WithClientLogger sets the structured logger.
func WithClientLogger(log *slog.Logger) ClientOption {
	return func(cl *Client) {
		cl.log = log
	}
}

// NewClient creates a challenge client around an authorization signer.
func NewClient(signer *signers.AuthorizationSigner, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		signer:     signer,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetWithPayment issues a GET through the payment flow.
func (c *Client) GetWithPayment(ctx context.Context, url string, identity signers.SigningIdentity, networkHint string) (*http.Response, *agentpay.SettledPayment, error) {
	return c.DoWithPayment(ctx, RequestSpec{Method: http.MethodGet, URL: url}, identity, networkHint)
}

// PostWithPayment issues a JSON POST through the payment flow.
func (c *Client) PostWithPayment(ctx context.Context, url string, body []byte, identity signers.SigningIdentity, networkHint string) (*http.Response, *agentpay.SettledPayment, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	spec := RequestSpec{Method: http.MethodPost, URL: url, Header: header, Body: body}
	return c.DoWithPayment(ctx, spec, identity, networkHint)
}

// DoWithPayment issues the request and handles at most one payment
// challenge. The returned SettledPayment is non-nil whenever a payment
// was signed and sent, regardless of whether the retried call succeeded;
// the caller decides whether a still-failing retry is a hard error.
func (c *Client) DoWithPayment(ctx context.Context, spec RequestSpec, identity signers.SigningIdentity, networkHint string) (*http.Response, *agentpay.SettledPayment, error) {
	resp, err := c.do(ctx, spec, "")
	if err != nil {
		return nil, nil, err
	}

	// One re-authentication, then one retry. The retry may itself hit a
	// 402 and continue into the paid flow below.
	if resp.StatusCode == http.StatusUnauthorized && c.session != nil {
		drain(resp)
		if _, err := c.session.Refresh(ctx); err != nil {
			return nil, nil, err
		}
		c.log.Debug("re-authenticated after 401", "url", spec.URL)
		resp, err = c.do(ctx, spec, "")
		if err != nil {
			return nil, nil, err
		}
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}

	requirements, err := c.selectRequirements(body, networkHint)
	if err != nil {
		return nil, nil, err
	}

	// Limits apply before any signature is produced.
	if err := c.limits.Check(requirements); err != nil {
		return nil, nil, err
	}

	payload, err := c.signer.Sign(ctx, requirements, identity)
	if err != nil {
		return nil, nil, err
	}
	header, err := agentpay.EncodePaymentHeader(payload)
	if err != nil {
		return nil, nil, err
	}

	c.log.Info("retrying with payment",
		"url", spec.URL,
		"network", requirements.Network,
		"amount", requirements.MaxAmountRequired,
		"payTo", requirements.PayTo)

	retried, err := c.do(ctx, spec, header)
	if err != nil {
		return nil, nil, err
	}

	settled := c.settledPayment(requirements, retried)
	return retried, settled, nil
}

// do builds and sends one request, attaching the session token and the
// payment header when present.
func (c *Client) do(ctx context.Context, spec RequestSpec, paymentHeader string) (*http.Response, error) {
	var body io.Reader
	if len(spec.Body) > 0 {
		body = bytes.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, values := range spec.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if c.session != nil {
		token, err := c.session.Token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if paymentHeader != "" {
		req.Header.Set(agentpay.HeaderPayment, paymentHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// selectRequirements validates the challenge body and picks the accepted
// entry matching the network hint, falling back to the first entry.
func (c *Client) selectRequirements(body []byte, networkHint string) (agentpay.PaymentRequirements, error) {
	if err := validateChallengeBody(body); err != nil {
		return agentpay.PaymentRequirements{}, err
	}

	var challenge agentpay.PaymentRequiredResponse
	if err := json.Unmarshal(body, &challenge); err != nil {
		return agentpay.PaymentRequirements{}, fmt.Errorf("failed to parse 402 challenge: %w", err)
	}
	if len(challenge.Accepts) == 0 {
		return agentpay.PaymentRequirements{}, fmt.Errorf("402 challenge accepts no payment methods")
	}

	for _, req := range challenge.Accepts {
		if networkHint != "" && req.Network == networkHint {
			return req, nil
		}
	}
	return challenge.Accepts[0], nil
}

// settledPayment builds the bookkeeping summary for a sent payment.
func (c *Client) settledPayment(req agentpay.PaymentRequirements, resp *http.Response) *agentpay.SettledPayment {
	meta := agentpay.ResolveTokenMetadata(req)
	settled := &agentpay.SettledPayment{
		Amount:  req.MaxAmountRequired,
		Asset:   meta.Address,
		PayTo:   req.PayTo,
		Network: req.Network,
	}
	if amount, err := agentpay.ParseTokenAmount(req.MaxAmountRequired, meta.Decimals); err == nil {
		settled.FormattedAmount = agentpay.FormatTokenAmount(amount, meta.Decimals)
	}
	for _, name := range txHashHeaders {
		if hash := resp.Header.Get(name); hash != "" {
			settled.TxHash = hash
			break
		}
	}
	return settled
}

// drain discards and closes a response body so the connection can be
// reused.
func drain(resp *http.Response) {
	if resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
