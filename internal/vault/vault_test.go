package vault

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func kvServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/secret/data/geoalert/graph" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("X-Vault-Token"); got != "s.token" {
			t.Errorf("X-Vault-Token = %q", got)
		}
		writeJSON(t, w, map[string]any{
			"data": map[string]any{
				"data": map[string]any{"client_secret": "graph-secret"},
				"metadata": map[string]any{
					"created_time": "2024-01-01T00:00:00Z",
				},
			},
		})
	}))
}

func TestReadSecret(t *testing.T) {
	t.Parallel()

	server := kvServer(t)
	defer server.Close()

	client, err := New(context.Background(), Options{Address: server.URL, Token: "s.token"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := client.ReadSecret(context.Background(), "secret", "/geoalert/graph/", "client_secret")
	if err != nil {
		t.Fatalf("ReadSecret() error = %v", err)
	}
	if got != "graph-secret" {
		t.Fatalf("ReadSecret() = %q", got)
	}
}

func TestReadSecretMissingKey(t *testing.T) {
	t.Parallel()

	server := kvServer(t)
	defer server.Close()

	client, err := New(context.Background(), Options{Address: server.URL, Token: "s.token"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = client.ReadSecret(context.Background(), "secret", "geoalert/graph", "other")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("ReadSecret() error = %v, want ErrSecretNotFound", err)
	}
}

func TestReadSecretMissingPath(t *testing.T) {
	t.Parallel()

	server := kvServer(t)
	defer server.Close()

	client, err := New(context.Background(), Options{Address: server.URL, Token: "s.token"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = client.ReadSecret(context.Background(), "secret", "geoalert/missing", "client_secret")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("ReadSecret() error = %v, want ErrSecretNotFound", err)
	}
}

func TestNewAppRoleLogin(t *testing.T) {
	t.Parallel()

	var loginCalled bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/platform-approle/login" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		defer r.Body.Close()
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode login body: %v", err)
		}
		if body["role_id"] != "role-id" || body["secret_id"] != "secret-id" {
			t.Errorf("unexpected login body: %v", body)
		}
		loginCalled = true
		writeJSON(t, w, map[string]any{"auth": map[string]any{"client_token": "token-from-approle"}})
	}))
	defer server.Close()

	_, err := New(context.Background(), Options{
		Address:          server.URL,
		AuthType:         authTypeAppRole,
		AppRoleMountPath: "platform-approle",
		AppRoleRoleID:    "role-id",
		AppRoleSecretID:  "secret-id",
	})
	if err != nil {
		t.Fatalf("New(approle) error = %v", err)
	}
	if !loginCalled {
		t.Fatalf("expected approle login endpoint to be called")
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		opts Options
		want string
	}{
		{name: "address", opts: Options{Token: "x"}, want: "address"},
		{name: "token", opts: Options{Address: "http://127.0.0.1:8200"}, want: "token"},
		{name: "auth type", opts: Options{Address: "http://127.0.0.1:8200", AuthType: "ldap"}, want: "auth type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(context.Background(), tc.opts)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("New() error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, payload map[string]any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Errorf("encode response: %v", err)
	}
}
