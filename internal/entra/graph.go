package entra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const (
	defaultTimeout        = 90 * time.Second
	maxRetriesOn429       = 5
	maxErrorBodySize      = 1 << 20 // 1 MiB
	defaultGraphBase      = "https://graph.microsoft.com/v1.0"
	defaultGraphBetaBase  = "https://graph.microsoft.com/beta"
	defaultAuthority      = "https://login.microsoftonline.com"
	defaultTokenScope     = "https://graph.microsoft.com/.default"
	tokenExpiryLeeway     = 30 * time.Second
	userAgent             = "geoalert"
	contentTypeJSON       = "application/json"
	contentTypeFormEncode = "application/x-www-form-urlencoded"
)

// ErrAuthentication wraps every failure of the client-credentials exchange.
var ErrAuthentication = errors.New("entra authentication failed")

type Options struct {
	HTTPClient       *http.Client
	GraphBaseURL     string
	GraphBetaBaseURL string
	AuthorityBaseURL string
}

type Client struct {
	tenantID     string
	clientID     string
	clientSecret string

	http             *http.Client
	graphBaseURL     string
	graphBetaBaseURL string
	authorityBase    string

	mu                sync.Mutex
	cachedToken       string
	cachedTokenExpiry time.Time
}

func NewWithOptions(tenantID, clientID, clientSecret string, opts Options) (*Client, error) {
	tenantID = normalizeGUID(tenantID)
	clientID = normalizeGUID(clientID)
	clientSecret = strings.TrimSpace(clientSecret)

	if tenantID == "" {
		return nil, errors.New("entra tenant id is required")
	}
	if clientID == "" {
		return nil, errors.New("entra client id is required")
	}
	if clientSecret == "" {
		return nil, errors.New("entra client secret is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		tenantID:         tenantID,
		clientID:         clientID,
		clientSecret:     clientSecret,
		http:             httpClient,
		graphBaseURL:     baseOrDefault(opts.GraphBaseURL, defaultGraphBase),
		graphBetaBaseURL: baseOrDefault(opts.GraphBetaBaseURL, defaultGraphBetaBase),
		authorityBase:    baseOrDefault(opts.AuthorityBaseURL, defaultAuthority),
	}, nil
}

func baseOrDefault(raw, def string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		return def
	}
	return base
}

// Token returns a bearer token for Microsoft Graph, reusing the cached one
// until shortly before it expires.
func (c *Client) Token(ctx context.Context) (string, error) {
	now := time.Now()

	c.mu.Lock()
	cached, expiry := c.cachedToken, c.cachedTokenExpiry
	c.mu.Unlock()
	if cached != "" && expiry.After(now.Add(tokenExpiryLeeway)) {
		return cached, nil
	}

	tok, err := c.fetchToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	c.mu.Lock()
	c.cachedToken = tok.AccessToken
	c.cachedTokenExpiry = now.Add(tok.lifetime())
	c.mu.Unlock()
	return tok.AccessToken, nil
}

type page struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// listPagedRaw follows @odata.nextLink until the collection is exhausted.
func (c *Client) listPagedRaw(ctx context.Context, endpoint string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for endpoint != "" {
		body, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		var p page
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode page %s: %w", safeURL(endpoint), err)
		}
		out = append(out, p.Value...)
		endpoint = strings.TrimSpace(p.NextLink)
	}
	return out, nil
}

func (c *Client) graphURL(path string, query url.Values) (string, error) {
	return buildURL(c.graphBaseURL, path, query)
}

func (c *Client) graphBetaURL(path string) (string, error) {
	return buildURL(c.graphBetaBaseURL, path, nil)
}

func buildURL(base, path string, query url.Values) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", errors.New("entra graph base url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = ""
	if query != nil {
		u.RawQuery = query.Encode()
	}
	u.Fragment = ""
	return u.String(), nil
}

// do performs an authenticated Graph request. Throttled and unavailable
// responses are retried, honoring Retry-After. A non-nil payload is sent as JSON.
func (c *Client) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody []byte
	if payload != nil {
		if reqBody, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		req, err := c.newGraphRequest(ctx, method, endpoint, token, reqBody)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return drain(resp, -1)
		}

		body, err := drain(resp, maxErrorBodySize)
		if err != nil {
			return nil, err
		}
		if !retryableStatus(resp.StatusCode) {
			return nil, formatGraphAPIError("graph api failed", endpoint, resp, body)
		}
		if attempt >= maxRetriesOn429 {
			return nil, formatGraphAPIError("graph api throttled", endpoint, resp, body)
		}
		wait, ok := retryAfterDuration(resp.Header.Get("Retry-After"))
		if !ok {
			wait = retryBackoff(attempt)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *Client) newGraphRequest(ctx context.Context, method, endpoint, token string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	return req, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// drain reads and closes the response body. A negative limit reads it all.
func drain(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	var r io.Reader = resp.Body
	if limit >= 0 {
		r = io.LimitReader(resp.Body, limit)
	}
	return io.ReadAll(r)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   any    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// lifetime falls back to one hour when expires_in is absent or malformed.
func (t tokenResponse) lifetime() time.Duration {
	switch v := t.ExpiresIn.(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Hour
}

func (c *Client) tokenURL() (string, error) {
	authority := strings.TrimRight(strings.TrimSpace(c.authorityBase), "/")
	if authority == "" {
		return "", errors.New("entra authority base url is required")
	}
	u, err := url.Parse(authority)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + url.PathEscape(c.tenantID) + "/oauth2/v2.0/token"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// fetchToken runs the client-credentials grant. Failures are not retried.
func (c *Client) fetchToken(ctx context.Context) (tokenResponse, error) {
	endpoint, err := c.tokenURL()
	if err != nil {
		return tokenResponse{}, err
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {defaultTokenScope},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", contentTypeFormEncode)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	body, err := drain(resp, maxErrorBodySize)
	if err != nil {
		return tokenResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenResponse{}, formatGraphAPIError("entra token request failed", endpoint, resp, body)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	tok.AccessToken = strings.TrimSpace(tok.AccessToken)
	if tok.AccessToken == "" {
		return tokenResponse{}, errors.New("entra token response missing access_token")
	}
	return tok, nil
}

func retryAfterDuration(header string) (time.Duration, bool) {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// retryBackoff doubles from one second and caps at thirty.
func retryBackoff(attempt int) time.Duration {
	const ceiling = 30 * time.Second
	if attempt <= 0 {
		return time.Second
	}
	if attempt >= 5 {
		return ceiling
	}
	return min(time.Second<<attempt, ceiling)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func normalizeGUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	return strings.TrimSpace(s)
}
