package appstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/blacktop/reviewsync/internal/model"
)

const (
	// DefaultBaseURL is the App Store Connect API root.
	DefaultBaseURL = "https://api.appstoreconnect.apple.com/v1"
	// DefaultReportDelay is the pause between two daily sales report requests.
	DefaultReportDelay = 300 * time.Millisecond

	pageLimit = 200
)

type Errors struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Source any    `json:"source"`
}

type ErrorResponse struct {
	Errors []Errors `json:"errors"`
}

type Links struct {
	Self    string `json:"self"`
	Related string `json:"related,omitempty"`
}

type PagedDocumentLinks struct {
	First string `json:"first"`
	Next  string `json:"next"`
	Self  string `json:"self"`
}

type Meta struct {
	Paging struct {
		Total int `json:"total"` // The total number of resources matching your request.
		Limit int `json:"limit"` // The maximum number of resources to return per page, from 0 to 200.
	} `json:"paging"`
}

// ResourceIdentifier is a JSON:API {type,id} linkage.
type ResourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Errors     []Errors
}

// Message is the detail of the first error, or its title if absent.
func (e *APIError) Message() string {
	for _, er := range e.Errors {
		if er.Detail != "" {
			return er.Detail
		}
		if er.Title != "" {
			return er.Title
		}
	}
	return ""
}

func (e *APIError) Error() string {
	if msg := e.Message(); msg != "" {
		return msg
	}
	return fmt.Sprintf("HTTP status %d", e.StatusCode)
}

// Kind maps the HTTP status onto the error taxonomy.
func (e *APIError) Kind() model.Kind {
	switch {
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return model.AuthFailure
	case e.StatusCode == http.StatusNotFound:
		return model.NotFound
	case e.StatusCode == http.StatusConflict:
		return model.Conflict
	case e.StatusCode >= 500:
		return model.RemoteUnavailable
	case e.StatusCode >= 400:
		return model.InvalidInput
	default:
		return model.Unknown
	}
}

// Is lets errors.Is match an APIError against the model sentinels.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*model.Error)
	if !ok || t.Op != "" {
		return false
	}
	return t.Kind == e.Kind()
}

// IsClientError reports whether err is a 4xx APIError.
func IsClientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
	}
	return false
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root (tests, mirrors).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithProxy sets a proxy URL and whether to skip TLS verification.
func WithProxy(proxy string, insecure bool) Option {
	return func(c *Client) {
		c.http = &http.Client{
			Transport: &http.Transport{
				Proxy:           GetProxy(proxy),
				TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
			},
		}
	}
}

// WithSigner overrides the token signer.
func WithSigner(s Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithReportDelay sets the pause between daily sales report requests.
func WithReportDelay(d time.Duration) Option {
	return func(c *Client) { c.reportDelay = d }
}

// WithClock sets the time source used for tokens and report dates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client is an App Store Connect API client. It is safe for concurrent use.
type Client struct {
	mu     sync.RWMutex
	signer Signer

	baseURL     string
	http        *http.Client
	reportDelay time.Duration
	now         func() time.Time
}

// NewClient creates a client for the given credentials. Incomplete
// credentials leave the client unconfigured until Configure is called.
func NewClient(creds model.Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		http:        &http.Client{Transport: &http.Transport{Proxy: GetProxy("")}},
		reportDelay: DefaultReportDelay,
		now:         time.Now,
	}
	if creds.Complete() {
		c.signer = NewKeySigner(creds)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configure swaps the credentials used for subsequent requests.
func (c *Client) Configure(creds model.Credentials) error {
	if !creds.Complete() {
		return model.NewError(model.InvalidInput, "configure", "issuer ID, key ID and private key are required", nil)
	}
	// fail early on a key that can never sign
	if _, err := parsePrivateKey(creds.PrivateKey); err != nil {
		return err
	}
	c.mu.Lock()
	c.signer = NewKeySigner(creds)
	c.mu.Unlock()
	return nil
}

// Reset drops the credentials.
func (c *Client) Reset() {
	c.mu.Lock()
	c.signer = nil
	c.mu.Unlock()
}

// Configured reports whether the client has credentials.
func (c *Client) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signer != nil
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + path
}

// do sends a request with a freshly signed token. Statuses >= 400 are
// returned as *APIError with the body consumed.
func (c *Client) do(ctx context.Context, method, path string, payload any, accept string) (*http.Response, error) {
	c.mu.RLock()
	signer := c.signer
	c.mu.RUnlock()
	if signer == nil {
		return nil, model.NewError(model.AuthFailure, method+" "+path, "API credentials not configured", nil)
	}

	token, err := signer.Token(c.now())
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to JSON encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, model.NewError(model.InvalidInput, method, "failed to create http request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	log.WithFields(log.Fields{"method": method, "url": req.URL.Path}).Debug("App Store Connect request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, model.NewError(model.RemoteUnavailable, method+" "+req.URL.Path, "failed to send http request", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eresp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&eresp); err == nil {
			apiErr.Errors = eresp.Errors
		}
		return nil, apiErr
	}

	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to JSON decode http response: %w", err)
	}
	return nil
}

// send issues a request whose response body is not needed.
func (c *Client) send(ctx context.Context, method, path string, payload any) error {
	resp, err := c.do(ctx, method, path, payload, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
