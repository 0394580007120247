// Package vault reads the Graph client secret from a HashiCorp Vault KV v2
// mount so it does not have to live in the environment.
package vault

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
)

const (
	authTypeToken   = "token"
	authTypeAppRole = "approle"

	defaultTimeout = 30 * time.Second
)

// ErrSecretNotFound is returned when the path or key holds no value.
var ErrSecretNotFound = errors.New("vault secret not found")

type Options struct {
	Address          string
	Namespace        string
	AuthType         string
	Token            string
	AppRoleMountPath string
	AppRoleRoleID    string
	AppRoleSecretID  string
	Timeout          time.Duration
}

type Client struct {
	client      *vaultapi.Client
	namespace   string
	addressHost string
}

// New builds a client and authenticates it. AppRole logins happen here so a
// bad role surfaces before the run touches Graph.
func New(ctx context.Context, opts Options) (*Client, error) {
	address := strings.TrimSpace(opts.Address)
	if address == "" {
		return nil, errors.New("vault address is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cfg := vaultapi.DefaultConfig()
	cfg.Address = address
	cfg.HttpClient = &http.Client{Timeout: timeout, Transport: buildHTTPTransport()}
	api, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client setup: %w", err)
	}

	c := &Client{client: api, namespace: strings.TrimSpace(opts.Namespace)}
	if parsed, err := neturl.Parse(address); err == nil {
		c.addressHost = strings.ToLower(parsed.Hostname())
	}
	if c.namespace != "" {
		api.SetNamespace(c.namespace)
	}

	token, err := c.login(ctx, opts)
	if err != nil {
		return nil, err
	}
	api.SetToken(token)
	return c, nil
}

func (c *Client) login(ctx context.Context, opts Options) (string, error) {
	switch authType := strings.ToLower(strings.TrimSpace(opts.AuthType)); authType {
	case "", authTypeToken:
		token := strings.TrimSpace(opts.Token)
		if token == "" {
			return "", errors.New("vault token is required")
		}
		return token, nil
	case authTypeAppRole:
		return c.loginAppRole(ctx, opts)
	default:
		return "", fmt.Errorf("vault auth type %q is invalid", authType)
	}
}

func (c *Client) loginAppRole(ctx context.Context, opts Options) (string, error) {
	roleID := strings.TrimSpace(opts.AppRoleRoleID)
	secretID := strings.TrimSpace(opts.AppRoleSecretID)
	if roleID == "" {
		return "", errors.New("vault AppRole role ID is required")
	}
	if secretID == "" {
		return "", errors.New("vault AppRole secret ID is required")
	}
	mountPath := normalizeMountPath(opts.AppRoleMountPath)
	if mountPath == "" {
		mountPath = authTypeAppRole
	}

	loginPath := "auth/" + mountPath + "/login"
	secret, err := c.client.Logical().WriteWithContext(ctx, loginPath, map[string]any{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return "", fmt.Errorf("vault approle login at %s: %w", loginPath, c.withNamespaceHint(err))
	}
	if secret == nil || secret.Auth == nil || strings.TrimSpace(secret.Auth.ClientToken) == "" {
		return "", errors.New("vault approle login succeeded without client token")
	}
	return secret.Auth.ClientToken, nil
}

// ReadSecret returns one string field of the latest version of a KV v2
// secret.
func (c *Client) ReadSecret(ctx context.Context, mount, path, key string) (string, error) {
	mount = normalizeMountPath(mount)
	path = normalizeMountPath(path)
	key = strings.TrimSpace(key)
	if mount == "" || path == "" || key == "" {
		return "", errors.New("vault secret mount, path and key are required")
	}

	secret, err := c.client.KVv2(mount).Get(ctx, path)
	if err != nil {
		if errors.Is(err, vaultapi.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: %s/%s", ErrSecretNotFound, mount, path)
		}
		return "", fmt.Errorf("vault read %s/%s: %w", mount, path, c.withNamespaceHint(err))
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: %s/%s", ErrSecretNotFound, mount, path)
	}
	value, _ := secret.Data[key].(string)
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: key %q at %s/%s", ErrSecretNotFound, key, mount, path)
	}
	return value, nil
}

func normalizeMountPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

func (c *Client) withNamespaceHint(err error) error {
	if err == nil {
		return nil
	}
	if strings.TrimSpace(c.namespace) != "" {
		return err
	}
	if !strings.HasSuffix(c.addressHost, ".hashicorp.cloud") {
		return err
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "permission denied") && !strings.Contains(msg, "403") {
		return err
	}
	return fmt.Errorf("%w (tip: set VAULT_NAMESPACE to \"admin\" for HCP Vault Dedicated)", err)
}

func buildHTTPTransport() http.RoundTripper {
	base, _ := http.DefaultTransport.(*http.Transport)
	if base == nil {
		return http.DefaultTransport
	}
	transport := base.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	} else {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
	}
	transport.TLSClientConfig.MinVersion = tls.VersionTLS12
	return transport
}
