// Package issuer talks to a remote iden3 issuer node over its REST API.
package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"zkpauth/pkg/platform/circuit"
)

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks

// DefaultTimeout bounds every issuer call independently.
const DefaultTimeout = 15 * time.Second

const maxResponseBytes = 4 << 20

// Gateway is the issuer node API. Every method returns the decoded response or an
// *Error carrying the upstream status and message.
type Gateway interface {
	Status(ctx context.Context) (json.RawMessage, error)
	CreateIdentity(ctx context.Context, meta DIDMetadata) (IdentityResponse, error)
	CreateClaim(ctx context.Context, did string, req ClaimRequest) (ClaimResponse, error)
	VerifyProof(ctx context.Context, req VerifyRequest) (json.RawMessage, error)
	PublishState(ctx context.Context, did string) (json.RawMessage, error)
	GetClaimQR(ctx context.Context, did, claimID string) (json.RawMessage, error)
	GetCredential(ctx context.Context, id string) (json.RawMessage, error)
	GetClaims(ctx context.Context, did string) (json.RawMessage, error)
	IssuerIdentities(ctx context.Context) (json.RawMessage, error)
	CreateConnection(ctx context.Context, did string) (json.RawMessage, error)
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
	timeout  time.Duration
	breaker  *circuit.Breaker
	metrics  *Metrics
	logger   *slog.Logger
}

type Option func(*Client)

func WithBasicAuth(user, password string) Option {
	return func(c *Client) {
		c.user = user
		c.password = password
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreaker fails calls fast while b is open.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, "status", http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *Client) CreateIdentity(ctx context.Context, meta DIDMetadata) (IdentityResponse, error) {
	var out IdentityResponse
	err := c.do(ctx, "create_identity", http.MethodPost, "/v1/identities", createIdentityRequest{DIDMetadata: meta}, &out)
	if err == nil && out.Identifier == "" {
		err = &Error{Op: "create_identity", StatusCode: http.StatusOK, Message: "response has no identifier"}
	}
	return out, err
}

func (c *Client) CreateClaim(ctx context.Context, did string, req ClaimRequest) (ClaimResponse, error) {
	var out ClaimResponse
	err := c.do(ctx, "create_claim", http.MethodPost, "/v1/"+url.PathEscape(did)+"/claims", req.WithDefaults(), &out)
	if err == nil && out.ID == "" {
		err = &Error{Op: "create_claim", StatusCode: http.StatusOK, Message: "response has no claim id"}
	}
	return out, err
}

func (c *Client) VerifyProof(ctx context.Context, req VerifyRequest) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, "verify_proof", http.MethodPost, "/v1/verification", req, &out)
	return out, err
}

func (c *Client) PublishState(ctx context.Context, did string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, "publish_state", http.MethodPost, "/v1/"+url.PathEscape(did)+"/state/publish", nil, &out)
	return out, err
}

func (c *Client) GetClaimQR(ctx context.Context, did, claimID string) (json.RawMessage, error) {
	var out json.RawMessage
	path := "/v1/" + url.PathEscape(did) + "/claims/" + url.PathEscape(claimID) + "/qrcode"
	err := c.do(ctx, "get_claim_qr", http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetCredential(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, "get_credential", http.MethodGet, "/v1/credentials/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) GetClaims(ctx context.Context, did string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, "get_claims", http.MethodGet, "/v1/"+url.PathEscape(did)+"/claims", nil, &out)
	return out, err
}

func (c *Client) IssuerIdentities(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, "issuer_identities", http.MethodGet, "/v1/identities", nil, &out)
	return out, err
}

func (c *Client) CreateConnection(ctx context.Context, did string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, "create_connection", http.MethodPost, "/v1/"+url.PathEscape(did)+"/connections", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()
	if c.breaker != nil && !c.breaker.Allow() {
		c.metrics.ObserveRequest(op, "circuit_open", time.Since(start))
		return &Error{Op: op, Message: "issuer temporarily unavailable", Err: ErrCircuitOpen}
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" || c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if callerErr := parent.Err(); callerErr != nil {
			return c.abandoned(op, start, 0, callerErr)
		}
		c.recordOutcome(ctx, op, "unavailable", start, false)
		return &Error{Op: op, Message: transportMessage(err), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if callerErr := parent.Err(); callerErr != nil {
			return c.abandoned(op, start, resp.StatusCode, callerErr)
		}
		c.recordOutcome(ctx, op, "unavailable", start, false)
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		ie := &Error{Op: op, StatusCode: resp.StatusCode, Message: upstreamMessage(resp.StatusCode, payload)}
		if ie.Unavailable() {
			c.recordOutcome(ctx, op, "unavailable", start, false)
		} else {
			// a rejection still proves the issuer is up
			c.recordOutcome(ctx, op, "rejected", start, true)
		}
		return ie
	}

	c.recordOutcome(ctx, op, "ok", start, true)
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// abandoned reports a call the caller gave up on. It says nothing about the issuer's
// health, so the breaker is left alone.
func (c *Client) abandoned(op string, start time.Time, status int, callerErr error) error {
	c.metrics.ObserveRequest(op, "cancelled", time.Since(start))
	return &Error{Op: op, StatusCode: status, Message: transportMessage(callerErr), Err: callerErr, Cancelled: true}
}

func (c *Client) recordOutcome(ctx context.Context, op, outcome string, start time.Time, healthy bool) {
	c.metrics.ObserveRequest(op, outcome, time.Since(start))
	if outcome == "unavailable" {
		c.logger.WarnContext(ctx, "issuer call failed", "operation", op)
	}
	if c.breaker == nil {
		return
	}
	if healthy {
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.metrics.SetCircuitOpen(false)
			c.logger.InfoContext(ctx, "issuer circuit closed")
		}
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.metrics.SetCircuitOpen(true)
		c.logger.WarnContext(ctx, "issuer circuit opened")
	}
}

// upstreamMessage prefers the issuer's JSON "message" field over the raw body.
func upstreamMessage(status int, payload []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(payload, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if text := strings.TrimSpace(string(payload)); text != "" && len(text) <= 512 {
		return text
	}
	return http.StatusText(status)
}

func transportMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return fmt.Sprintf("request failed: %v", err)
	}
}
