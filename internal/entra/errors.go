package entra

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

const maxErrorMessageLen = 300

// APIError is a non-2xx response from Graph or the token endpoint.
type APIError struct {
	StatusCode int
	message    string
}

func (e *APIError) Error() string {
	return e.message
}

// IsNotFound reports whether err carries a 404 from Graph.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// formatGraphAPIError renders a failed response as
// "prefix: status: message (details)", omitting empty parts.
func formatGraphAPIError(prefix, reqURL string, resp *http.Response, body []byte) error {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(": ")
	b.WriteString(resp.Status)
	if msg := describeErrorBody(body); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if details := responseDetails(reqURL, resp.Header); details != "" {
		fmt.Fprintf(&b, " (%s)", details)
	}
	return &APIError{StatusCode: resp.StatusCode, message: b.String()}
}

// describeErrorBody understands Graph error objects and the flat OAuth error
// form returned by the token endpoint. Anything else is echoed, truncated.
func describeErrorBody(body []byte) string {
	var envelope struct {
		Error       json.RawMessage `json:"error"`
		Description string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var graphErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(envelope.Error, &graphErr); err == nil {
			if msg := joinNonEmpty(": ", graphErr.Code, graphErr.Message); msg != "" {
				return msg
			}
		}
		var oauthCode string
		if err := json.Unmarshal(envelope.Error, &oauthCode); err == nil && strings.TrimSpace(oauthCode) != "" {
			return joinNonEmpty(": ", oauthCode, collapseSpace(envelope.Description))
		}
	}

	msg := collapseSpace(string(body))
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen] + "…"
	}
	return msg
}

func responseDetails(reqURL string, header http.Header) string {
	var parts []string
	if v := safeURL(reqURL); v != "" {
		parts = append(parts, "url="+v)
	}
	for _, h := range []struct{ header, key string }{
		{"request-id", "request_id"},
		{"client-request-id", "client_request_id"},
		{"Retry-After", "retry_after"},
	} {
		if v := strings.TrimSpace(header.Get(h.header)); v != "" {
			parts = append(parts, h.key+"="+v)
		}
	}
	return strings.Join(parts, ", ")
}

// safeURL drops userinfo and fragments before a URL lands in an error.
func safeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	u.Fragment = ""
	return u.String()
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
