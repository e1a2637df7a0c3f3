// Package client provides the WipeLedger Go SDK for submitting erasure
// certificates and querying the certificate chain.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is matched by errors returned for 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrConflict is matched by errors returned for 409 responses.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized is matched by errors returned for 401 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Is lets callers match an APIError against ErrNotFound, ErrConflict and
// ErrUnauthorized.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// Submission is a certificate produced by a wiping tool.
type Submission struct {
	CertificateID   string          `json:"certificate_id"`
	DeviceInfo      json.RawMessage `json:"device_info"`
	WipeMethod      string          `json:"wipe_method"`
	Timestamp       string          `json:"timestamp"`
	CertificateHash string          `json:"certificate_hash"`
	Signature       string          `json:"signature,omitempty"`
	WiperVersion    string          `json:"wiper_version,omitempty"`
}

// UploadResult acknowledges an uploaded certificate.
type UploadResult struct {
	CertificateID        string `json:"certificate_id"`
	ChainIndex           int64  `json:"chain_index"`
	BlockchainHash       string `json:"blockchain_hash"`
	WeakVerificationCode bool   `json:"weak_verification_code"`
}

// SyncItem is the outcome of one certificate in a sync request.
type SyncItem struct {
	CertificateID string        `json:"certificate_id"`
	Uploaded      bool          `json:"uploaded"`
	Receipt       *UploadResult `json:"receipt,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// SyncResult summarises a sync request.
type SyncResult struct {
	Uploaded int        `json:"uploaded"`
	Failed   int        `json:"failed"`
	Total    int        `json:"total"`
	Results  []SyncItem `json:"results"`
}

// RecentCertificate is a line of the desktop status summary.
type RecentCertificate struct {
	CertificateID string    `json:"certificate_id"`
	CreatedAt     time.Time `json:"created_at"`
	WipeMethod    string    `json:"wipe_method"`
	DeviceModel   string    `json:"device_model"`
}

// Status is returned by GET /api/v1/desktop/status.
type Status struct {
	Status             string              `json:"status"`
	TotalCertificates  int                 `json:"total_certificates"`
	ChainRoot          string              `json:"chain_root,omitempty"`
	RecentCertificates []RecentCertificate `json:"recent_certificates"`
}

// Certificate is the public view of a ledger record.
type Certificate struct {
	CertificateID   string          `json:"certificate_id"`
	Origin          string          `json:"origin"`
	DeviceInfo      json.RawMessage `json:"device_info"`
	WipeMethod      string          `json:"wipe_method"`
	Timestamp       string          `json:"timestamp"`
	WiperVersion    string          `json:"wiper_version,omitempty"`
	CertificateHash string          `json:"certificate_hash"`
	ContentHash     string          `json:"content_hash"`
	ContentCID      string          `json:"content_cid,omitempty"`
	ChainIndex      int64           `json:"chain_index"`
	PreviousHash    *string         `json:"previous_hash"`
	ChainLink       string          `json:"chain_link"`
	CreatedAt       time.Time       `json:"created_at"`
	IsVerified      bool            `json:"is_verified"`
	VerifiedAt      *time.Time      `json:"verified_at,omitempty"`
}

// ChainEntry is one row of the chain listing.
type ChainEntry struct {
	CertificateID   string    `json:"certificate_id"`
	ChainIndex      int64     `json:"chain_index"`
	CertificateHash string    `json:"certificate_hash"`
	ContentHash     string    `json:"content_hash"`
	PreviousHash    *string   `json:"previous_hash"`
	ChainLink       string    `json:"chain_link"`
	CreatedAt       time.Time `json:"created_at"`
	IsVerified      bool      `json:"is_verified"`
}

// Chain is returned by GET /api/v1/chain.
type Chain struct {
	Blockchain        []ChainEntry `json:"blockchain"`
	TotalCertificates int          `json:"total_certificates"`
	ChainValid        bool         `json:"chain_valid"`
	Breaks            []int64      `json:"breaks"`
}

// Break is a position that failed verification.
type Break struct {
	Position      int64    `json:"position"`
	CertificateID string   `json:"certificate_id"`
	Reasons       []string `json:"reasons"`
}

// ChainReport is the full verification report.
type ChainReport struct {
	Valid  bool    `json:"valid"`
	Length int     `json:"length"`
	Root   string  `json:"root,omitempty"`
	Breaks []Break `json:"breaks"`
}

// LinkCheck is the one-hop check of a single certificate.
type LinkCheck struct {
	CertificateID   string  `json:"certificate_id"`
	ChainIndex      int64   `json:"chain_index"`
	ChainValid      bool    `json:"chain_valid"`
	PreviousHash    *string `json:"previous_hash"`
	CertificateHash string  `json:"certificate_hash"`
	ContentHash     string  `json:"content_hash"`
}

// Root is the chain length and tail link.
type Root struct {
	Length int    `json:"length"`
	Root   string `json:"root"`
}

// Issued is a first-party certificate and its one-time verification code.
type Issued struct {
	Certificate      Certificate `json:"certificate"`
	VerificationCode string      `json:"verification_code"`
}

// Client is the WipeLedger SDK entry point.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("nil http.Client")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an ingest token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = strings.TrimSpace(token)
		return nil
	}
}

// New creates a Client for the ledger service at base, e.g.
// "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", base)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Upload posts a single certificate to /api/v1/certificates/upload.
// A duplicate certificate_id yields an error matching ErrConflict.
func (c *Client) Upload(ctx context.Context, sub Submission) (*UploadResult, error) {
	var out UploadResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/certificates/upload", sub, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sync posts a batch to /api/v1/certificates/sync. Per-item failures are
// reported in the result, not as an error.
func (c *Client) Sync(ctx context.Context, subs []Submission) (*SyncResult, error) {
	if subs == nil {
		subs = []Submission{}
	}
	var out SyncResult
	body := map[string]any{"certificates": subs}
	if err := c.call(ctx, http.MethodPost, "/api/v1/certificates/sync", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the desktop status summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.call(ctx, http.MethodGet, "/api/v1/desktop/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Issue asks the ledger to issue a first-party certificate. The returned
// verification code is not recoverable later.
func (c *Client) Issue(ctx context.Context, deviceInfo json.RawMessage, wipeMethod string) (*Issued, error) {
	var out Issued
	body := map[string]any{"device_info": deviceInfo, "wipe_method": wipeMethod}
	if err := c.call(ctx, http.MethodPost, "/api/v1/certificates/issue", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chain lists the chain. limit 0 returns every record from offset.
func (c *Client) Chain(ctx context.Context, offset, limit int) (*Chain, error) {
	q := url.Values{}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/chain"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out Chain
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyChain runs a full verification walk on the server.
func (c *Client) VerifyChain(ctx context.Context) (*ChainReport, error) {
	var out ChainReport
	if err := c.call(ctx, http.MethodGet, "/api/v1/chain/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Root fetches the chain length and tail link.
func (c *Client) Root(ctx context.Context) (*Root, error) {
	var out Root
	if err := c.call(ctx, http.MethodGet, "/api/v1/chain/root", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Certificate fetches a single certificate by id.
func (c *Client) Certificate(ctx context.Context, id string) (*Certificate, error) {
	var out Certificate
	if err := c.call(ctx, http.MethodGet, "/api/v1/chain/certificates/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyLink runs the one-hop check for a single certificate.
func (c *Client) VerifyLink(ctx context.Context, id string) (*LinkCheck, error) {
	var out LinkCheck
	if err := c.call(ctx, http.MethodGet, "/api/v1/chain/certificates/"+url.PathEscape(id)+"/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyCode presents a verification code. An unknown code returns
// (nil, false, nil); a match marks the certificate verified on the server.
func (c *Client) VerifyCode(ctx context.Context, code string) (*Certificate, bool, error) {
	var out struct {
		Verified    bool         `json:"verified"`
		Certificate *Certificate `json:"certificate"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/verify", map[string]string{"verification_code": code}, &out)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out.Certificate, out.Verified, nil
}

func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if respBody == nil {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts {"error": ...} or {"message": ...} from body.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return strings.TrimSpace(string(body))
}
