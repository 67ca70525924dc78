// ABOUTME: HTTP client for the srpgate API
// ABOUTME: Runs the two-step SRP login, verifies the server proof, and calls authenticated endpoints

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/2389/srpgate/internal/auth"
	"github.com/2389/srpgate/internal/handshake"
	"github.com/2389/srpgate/internal/srp"
	"github.com/2389/srpgate/internal/store"
)

// ErrNoToken is returned when step 2 succeeds without an Authorization header.
var ErrNoToken = errors.New("server returned no bearer token")

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status    int
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gateway returned status %d", e.Status)
}

// Client talks to the gateway's HTTP API.
type Client struct {
	baseURL    string
	http       *http.Client
	group      *srp.Group
	kdf        srp.KDF
	maxBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithGroup sets the SRP group. It must match the server's.
func WithGroup(g *srp.Group) Option {
	return func(cl *Client) { cl.group = g }
}

// WithKDF sets the password KDF. It must match the one used at enrollment.
func WithKDF(k srp.KDF) Option {
	return func(cl *Client) { cl.kdf = k }
}

// WithRetryWindow bounds how long rate-limited requests are retried. Zero
// disables retries.
func WithRetryWindow(d time.Duration) Option {
	return func(cl *Client) { cl.maxBackoff = d }
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	group, err := srp.LookupGroup(srp.DefaultGroup)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		group:      group,
		kdf:        srp.DefaultArgon2id(),
		maxBackoff: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login runs both handshake steps, checks M2, and returns the bearer token.
func (c *Client) Login(ctx context.Context, identity, password string) (string, error) {
	// M1 hashes the identity, so it must match what the server derives.
	identity = store.NormalizeIdentity(identity)
	session, err := srp.NewClient(c.group, c.kdf, identity, password)
	if err != nil {
		return "", fmt.Errorf("starting handshake: %w", err)
	}

	var challenge handshake.Step1Response
	if _, err := c.postJSON(ctx, "/srp/1", handshake.Step1Request{
		Identity: identity,
		PublicA:  session.PublicA().String(),
	}, &challenge); err != nil {
		return "", fmt.Errorf("step 1: %w", err)
	}

	salt, err := handshake.ParseDecimal("salt", challenge.Salt)
	if err != nil {
		return "", fmt.Errorf("step 1: %w", err)
	}
	B, err := handshake.ParseDecimal("publicB", challenge.PublicB)
	if err != nil {
		return "", fmt.Errorf("step 1: %w", err)
	}
	m1, err := session.ProcessChallenge(salt, B)
	if err != nil {
		return "", fmt.Errorf("processing challenge: %w", err)
	}

	var proof handshake.Step2Response
	header, err := c.postJSON(ctx, "/srp/2", handshake.Step2Request{
		Identity: identity,
		M1:       m1.String(),
	}, &proof)
	if err != nil {
		return "", fmt.Errorf("step 2: %w", err)
	}

	m2, ok := new(big.Int).SetString(proof.M2, 10)
	if !ok {
		return "", fmt.Errorf("step 2: malformed m2")
	}
	if err := session.VerifyServer(m2); err != nil {
		return "", err
	}

	token := bearerToken(header.Get("Authorization"))
	if token == "" {
		token = proof.Token
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Me returns the principal the token authenticates as.
func (c *Client) Me(ctx context.Context, token string) (*auth.Principal, error) {
	var p auth.Principal
	if err := c.getJSON(ctx, "/api/me", token, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Echo calls the authenticated echo endpoint and returns the decoded body.
func (c *Client) Echo(ctx context.Context, token, message string) (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON(ctx, "/api/echo/"+message, token, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// postJSON posts body and decodes the 200 response into out. 429 responses
// are retried with exponential backoff inside the retry window.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) (http.Header, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

func (c *Client) getJSON(ctx context.Context, path, token string, out any) error {
	_, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "bearer "+token)
		return req, nil
	}, out)
	return err
}

func (c *Client) do(ctx context.Context, newReq func() (*http.Request, error), out any) (http.Header, error) {
	op := func() (http.Header, error) {
		req, err := newReq()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("sending request: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			apiErr := handleErrorResponse(resp)
			if resp.StatusCode == http.StatusTooManyRequests && c.maxBackoff > 0 {
				if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
					return nil, backoff.RetryAfter(secs)
				}
				return nil, apiErr
			}
			return nil, backoff.Permanent(apiErr)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, backoff.Permanent(fmt.Errorf("decoding response: %w", err))
			}
		}
		return resp.Header, nil
	}

	if c.maxBackoff <= 0 {
		return backoff.Retry(ctx, op, backoff.WithMaxTries(1))
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(c.maxBackoff),
	)
}

// handleErrorResponse extracts the gateway's {message, errorCode} body.
func handleErrorResponse(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
