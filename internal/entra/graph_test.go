package entra

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/open-sspm/geoalert/internal/alerting"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewWithOptions("tenant", "client", "secret", Options{
		AuthorityBaseURL: srv.URL,
		GraphBaseURL:     srv.URL + "/graph/v1.0",
		GraphBetaBaseURL: srv.URL + "/graph/beta",
	})
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}
	return c
}

func writeToken(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"access_token":"tkn","expires_in":3600,"token_type":"Bearer"}`))
}

func TestResolvePrincipalsPagingAndFallback(t *testing.T) {
	t.Parallel()

	var tokenRequests int
	var memberRequests int
	var userRequests int

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token"):
			tokenRequests++
			writeToken(w)
		case strings.HasPrefix(r.URL.Path, "/graph/v1.0/groups/g-1/members"):
			memberRequests++
			if got := r.Header.Get("Authorization"); got != "Bearer tkn" {
				t.Errorf("Authorization = %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			if r.URL.Query().Get("page") == "2" {
				_, _ = w.Write([]byte(`{"value":[{"id":"u3"},{"id":"u4"},{"id":"u5","userPrincipalName":"ALICE@x.com"},` +
					`{"@odata.type":"#microsoft.graph.group","id":"grp-nested","displayName":"Nested"},` +
					`{"@odata.type":"#microsoft.graph.user","id":"u6"}]}`))
				return
			}
			next := srv.URL + "/graph/v1.0/groups/g-1/members?page=2"
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "u1", "userPrincipalName": "alice@x.com"},
					{"id": "u2", "userPrincipalName": "bob@x.com"},
				},
				"@odata.nextLink": next,
			})
		case r.URL.Path == "/graph/v1.0/users/u3":
			userRequests++
			_, _ = w.Write([]byte(`{"id":"u3","userPrincipalName":"carol@x.com"}`))
		case r.URL.Path == "/graph/v1.0/users/u4":
			userRequests++
			_, _ = w.Write([]byte(`{"id":"u4"}`))
		case r.URL.Path == "/graph/v1.0/users/u6":
			userRequests++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"Request_ResourceNotFound","message":"Resource 'u6' does not exist."}}`))
		case strings.HasPrefix(r.URL.Path, "/graph/v1.0/users/"):
			t.Errorf("unexpected user lookup %s", r.URL.Path)
			http.NotFound(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := NewDirectory(newTestClient(t, srv), nil)
	got, err := dir.ResolvePrincipals(context.Background(), "g-1")
	if err != nil {
		t.Fatalf("ResolvePrincipals: %v", err)
	}
	want := []string{"alice@x.com", "bob@x.com", "carol@x.com"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("principals = %v want %v", got, want)
	}
	if tokenRequests != 1 {
		t.Fatalf("tokenRequests=%d want 1", tokenRequests)
	}
	if memberRequests != 2 {
		t.Fatalf("memberRequests=%d want 2", memberRequests)
	}
	if userRequests != 3 {
		t.Fatalf("userRequests=%d want 3", userRequests)
	}
}

func TestFetchSignIns(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token"):
			writeToken(w)
		case r.URL.Path == "/graph/beta/security/runHuntingQuery":
			if r.Method != http.MethodPost {
				t.Errorf("method = %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var body struct {
				Query string `json:"Query"`
			}
			raw, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			gotQuery = body.Query
			_, _ = w.Write([]byte(`{"schema":[{"Name":"Timestamp","Type":"DateTime"}],"results":[
				{"Timestamp":"2024-01-01T12:00:00.1234567Z","AccountUpn":"alice@x.com","IPAddress":"203.0.113.7","Country":"FR","City":"Paris","State":null}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewSignInSource(newTestClient(t, srv))
	records, err := src.FetchSignIns(context.Background(), alerting.Query{
		Since:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Principals:     []string{"alice@x.com"},
		AllowedCountry: "US",
	})
	if err != nil {
		t.Fatalf("FetchSignIns: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records)=%d want 1", len(records))
	}
	rec := records[0]
	if rec.Principal != "alice@x.com" || rec.Country != "FR" || rec.City != "Paris" || rec.Region != "" {
		t.Fatalf("record = %+v", rec)
	}
	for _, fragment := range []string{
		`let monitoredUsers = dynamic(["alice@x.com"]);`,
		"| where Timestamp > datetime(2024-01-01T00:00:00Z)",
		`| where Country != "US"`,
		"| where ConditionalAccessStatus == 2",
		"| where AccountUpn in (monitoredUsers)",
	} {
		if !strings.Contains(gotQuery, fragment) {
			t.Fatalf("query missing %q:\n%s", fragment, gotQuery)
		}
	}
}

func TestTokenFailureIsAuthenticationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"AADSTS7000215: Invalid client secret provided."}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Token(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if !strings.Contains(err.Error(), "invalid_client: AADSTS7000215") {
		t.Fatalf("err = %v, want OAuth error detail", err)
	}
}

func TestGraphRetriesThrottledRequests(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token") {
			writeToken(w)
			return
		}
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","userPrincipalName":"alice@x.com"}`))
	}))
	defer srv.Close()

	u, err := newTestClient(t, srv).GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.UserPrincipalName != "alice@x.com" || calls != 2 {
		t.Fatalf("user = %+v calls = %d", u, calls)
	}
}

func TestGraphErrorIncludesMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token") {
			writeToken(w)
			return
		}
		w.Header().Set("request-id", "req-1")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied","message":"Insufficient privileges"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).ListGroupMembers(context.Background(), "g-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Authorization_RequestDenied: Insufficient privileges") || !strings.Contains(err.Error(), "request_id=req-1") {
		t.Fatalf("err = %v", err)
	}
	if errors.Is(err, ErrAuthentication) {
		t.Fatal("graph failures after a successful token exchange are not authentication errors")
	}
}

func TestResolvePrincipalsAbortsOnServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token"):
			writeToken(w)
		case strings.HasPrefix(r.URL.Path, "/graph/v1.0/groups/g-1/members"):
			_, _ = w.Write([]byte(`{"value":[{"id":"u1"}]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	_, err := NewDirectory(newTestClient(t, srv), nil).ResolvePrincipals(context.Background(), "g-1")
	if err == nil {
		t.Fatal("expected error for a failed user lookup")
	}
	if IsNotFound(err) {
		t.Fatalf("err = %v, want a non-404 failure", err)
	}
}

func TestNormalizeGUID(t *testing.T) {
	t.Parallel()

	if got := normalizeGUID("{ABC}"); got != "abc" {
		t.Fatalf("normalizeGUID = %q want %q", got, "abc")
	}
	if got := normalizeGUID("  "); got != "" {
		t.Fatalf("normalizeGUID = %q want empty", got)
	}
}

func TestRetryBackoffCaps(t *testing.T) {
	t.Parallel()

	if got := retryBackoff(0); got != time.Second {
		t.Fatalf("retryBackoff(0) = %s", got)
	}
	if got := retryBackoff(10); got != 30*time.Second {
		t.Fatalf("retryBackoff(10) = %s", got)
	}
}

func TestDescribeErrorBody(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"graph", `{"error":{"code":"Request_ResourceNotFound","message":"Resource does not exist."}}`, "Request_ResourceNotFound: Resource does not exist."},
		{"oauth", `{"error":"invalid_scope","error_description":"  bad\n scope "}`, "invalid_scope: bad scope"},
		{"plain", "upstream\n\n  down", "upstream down"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := describeErrorBody([]byte(tc.body)); got != tc.want {
				t.Fatalf("describeErrorBody = %q want %q", got, tc.want)
			}
		})
	}
}

func TestTokenLifetimeFallsBackToOneHour(t *testing.T) {
	t.Parallel()

	if got := (tokenResponse{ExpiresIn: float64(120)}).lifetime(); got != 2*time.Minute {
		t.Fatalf("lifetime = %s", got)
	}
	if got := (tokenResponse{ExpiresIn: "600"}).lifetime(); got != 10*time.Minute {
		t.Fatalf("lifetime = %s", got)
	}
	if got := (tokenResponse{ExpiresIn: "soon"}).lifetime(); got != time.Hour {
		t.Fatalf("lifetime = %s", got)
	}
}
