// Package poe is a Go client for the PoE-Chain REST API. Mutating calls are
// signed with the caller's secp256k1 key; reads are unauthenticated.
package poe

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	jsoniter "github.com/json-iterator/go"

	"PoE-Chain/internal/auth"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Claim is a proof together with its current owner.
type Claim struct {
	Proof        string `json:"proof"`
	Owner        string `json:"owner"`
	RegisteredAt uint64 `json:"registered_at"`
	Event        *Event `json:"event,omitempty"`
}

// Event is a ledger event as reported by the server.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Who        string    `json:"who"`
	Proof      string    `json:"proof"`
	Height     uint64    `json:"height"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ClaimList is a page of claims.
type ClaimList struct {
	Claims []Claim `json:"claims"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// ListOptions filters ListClaims.
type ListOptions struct {
	Owner  string
	Limit  int
	Offset int
}

// Stats summarizes the ledger.
type Stats struct {
	Claims struct {
		Total        int    `json:"total"`
		Owners       int    `json:"owners"`
		LatestHeight uint64 `json:"latest_height"`
	} `json:"claims"`
}

// Transaction is an asynchronously applied ledger call.
type Transaction struct {
	ID         string `json:"id"`
	Call       string `json:"call"`
	Caller     string `json:"caller"`
	Proof      string `json:"proof"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	MaxRetries int    `json:"max_retries"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
	Height     uint64 `json:"height,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// Final reports whether the transaction reached a terminal status.
func (t Transaction) Final() bool {
	return t.Status == "applied" || t.Status == "rejected" || t.Status == "failed"
}

// Submission describes a transaction to queue.
type Submission struct {
	ID    string `json:"id,omitempty"`
	Call  string `json:"call"`
	Proof string `json:"proof"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("poe api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("poe api error (%d): %s", e.StatusCode, e.Message)
}

// Option configures a Client.
type Option func(*Client)

// WithKey signs mutating requests with key.
func WithKey(key *ecdsa.PrivateKey) Option {
	return func(c *Client) { c.key = key }
}

// WithIdentity sends a plain identity header, for servers running in header mode.
func WithIdentity(identity string) Option {
	return func(c *Client) { c.identity = identity }
}

// Client wraps the HTTP interactions with the PoE-Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	key        *ecdsa.PrivateKey
	identity   string

	mu        sync.Mutex
	lastNonce int64
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	c := &Client{baseURL: parsed, httpClient: httpClient}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Address returns the checksummed address of the signing key, or the header
// identity when no key is configured.
func (c *Client) Address() string {
	if c.key != nil {
		return crypto.PubkeyToAddress(c.key.PublicKey).Hex()
	}
	return c.identity
}

// CreateClaim registers proof for the caller.
func (c *Client) CreateClaim(ctx context.Context, proof []byte) (Claim, error) {
	var claim Claim
	err := c.send(ctx, http.MethodPost, "/api/v1/claims", nil, map[string]string{"proof": hexutil.Encode(proof)}, &claim, true)
	return claim, err
}

// RevokeClaim removes the caller's claim on proof.
func (c *Client) RevokeClaim(ctx context.Context, proof []byte) (Claim, error) {
	var claim Claim
	err := c.send(ctx, http.MethodDelete, "/api/v1/claims/"+hexutil.Encode(proof), nil, nil, &claim, true)
	return claim, err
}

// TransferClaim moves the claim on proof to the caller.
func (c *Client) TransferClaim(ctx context.Context, proof []byte) (Claim, error) {
	var claim Claim
	err := c.send(ctx, http.MethodPost, "/api/v1/claims/"+hexutil.Encode(proof)+"/transfer", nil, nil, &claim, true)
	return claim, err
}

// GetClaim fetches the claim on proof.
func (c *Client) GetClaim(ctx context.Context, proof []byte) (Claim, error) {
	var claim Claim
	err := c.send(ctx, http.MethodGet, "/api/v1/claims/"+hexutil.Encode(proof), nil, nil, &claim, false)
	return claim, err
}

// ListClaims returns a page of claims, newest first.
func (c *Client) ListClaims(ctx context.Context, opts ListOptions) (ClaimList, error) {
	query := url.Values{}
	if opts.Owner != "" {
		query.Set("owner", opts.Owner)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	var list ClaimList
	err := c.send(ctx, http.MethodGet, "/api/v1/claims", query, nil, &list, false)
	return list, err
}

// Stats returns ledger totals.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.send(ctx, http.MethodGet, "/api/v1/stats", nil, nil, &stats, false)
	return stats, err
}

// SubmitTransaction queues a ledger call.
func (c *Client) SubmitTransaction(ctx context.Context, submission Submission) (Transaction, error) {
	var tx Transaction
	err := c.send(ctx, http.MethodPost, "/api/v1/transactions", nil, submission, &tx, true)
	return tx, err
}

// GetTransaction fetches a transaction receipt.
func (c *Client) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	var tx Transaction
	err := c.send(ctx, http.MethodGet, "/api/v1/transactions/"+url.PathEscape(id), nil, nil, &tx, false)
	return tx, err
}

// WaitTransaction polls until the transaction is final or ctx ends.
func (c *Client) WaitTransaction(ctx context.Context, id string, interval time.Duration) (Transaction, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		tx, err := c.GetTransaction(ctx, id)
		if err != nil {
			return Transaction{}, err
		}
		if tx.Final() {
			return tx, nil
		}
		select {
		case <-ctx.Done():
			return tx, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload any, out any, signed bool) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = encoded
	}

	u := c.baseURL.ResolveReference(&url.URL{Path: path.Join(c.baseURL.Path, endpoint)})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if err := c.authorize(req, body); err != nil {
			return err
		}
	}
	return c.do(req, out)
}

func (c *Client) authorize(req *http.Request, body []byte) error {
	if c.key == nil {
		if c.identity == "" {
			return fmt.Errorf("poe: no signing key or identity configured")
		}
		req.Header.Set(auth.HeaderIdentity, c.identity)
		return nil
	}
	nonce := strconv.FormatInt(c.nextNonce(), 10)
	signature, err := auth.Sign(c.key, auth.CanonicalPayload(req.Method, req.URL.RequestURI(), nonce, body))
	if err != nil {
		return err
	}
	req.Header.Set(auth.HeaderAddress, c.Address())
	req.Header.Set(auth.HeaderNonce, nonce)
	req.Header.Set(auth.HeaderSignature, signature)
	return nil
}

// nextNonce 返回毫秒时间戳，同一毫秒内的连续调用依次加一。
func (c *Client) nextNonce() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= c.lastNonce {
		now = c.lastNonce + 1
	}
	c.lastNonce = now
	return now
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
