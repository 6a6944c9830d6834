package azidentity

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

const (
	defaultAuthorityHost = "https://login.microsoftonline.com"

	envAuthorityHost = "AZURE_AUTHORITY_HOST"

	// a cached token is reused until this close to expiry
	tokenRefreshWindow = 5 * time.Minute
)

// CredentialUnavailableError means a credential could not attempt
// authentication at all, e.g. required configuration is missing. Chained
// credentials treat it as "try the next source".
type CredentialUnavailableError struct {
	credentialType string
	message        string
	err            error
}

func newCredentialUnavailableError(credentialType, message string, err error) *CredentialUnavailableError {
	return &CredentialUnavailableError{credentialType: credentialType, message: message, err: err}
}

func (e *CredentialUnavailableError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.credentialType, e.message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.credentialType, e.message)
}

func (e *CredentialUnavailableError) Unwrap() error {
	return e.err
}

func credentialUnavailable(err error) bool {
	var cue *CredentialUnavailableError
	return errors.As(err, &cue)
}

// authorityHost resolves the AAD endpoint: explicit option, then
// AZURE_AUTHORITY_HOST, then the public cloud.
func authorityHost(override string) string {
	if override != "" {
		return strings.TrimSuffix(override, "/")
	}
	if env := os.Getenv(envAuthorityHost); env != "" {
		return strings.TrimSuffix(env, "/")
	}
	return defaultAuthorityHost
}

func tokenEndpoint(authority, tenantID string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", authority, tenantID)
}

var tenantIDPattern = regexp.MustCompile(`^[0-9a-zA-Z-.]+$`)

func validTenantID(tenantID string) error {
	if tenantID == "" || !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("invalid tenant ID %q: expected a GUID or domain name", tenantID)
	}
	return nil
}

// scopeToResource converts an OAuth2 scope to the resource form legacy
// endpoints such as IMDS expect, by trimming a trailing /.default.
func scopeToResource(scopes []string) (string, error) {
	if len(scopes) != 1 {
		return "", fmt.Errorf("expected exactly one scope, got %d", len(scopes))
	}
	return strings.TrimSuffix(scopes[0], "/.default"), nil
}

// tokenCache holds tokens per scope set, refreshing inside the expiry
// window. Credentials that talk to their own token sources share it so
// repeated GetToken calls stay cheap.
type tokenCache struct {
	mu     sync.Mutex
	tokens map[string]azcore.AccessToken
}

func cacheKey(opts azcore.TokenRequestOptions) string {
	return strings.Join(opts.Scopes, " ") + "|" + opts.TenantID
}

func (c *tokenCache) get(opts azcore.TokenRequestOptions) (azcore.AccessToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tk, ok := c.tokens[cacheKey(opts)]
	if !ok || time.Until(tk.ExpiresOn) < tokenRefreshWindow {
		return azcore.AccessToken{}, false
	}
	return tk, true
}

func (c *tokenCache) put(opts azcore.TokenRequestOptions, tk azcore.AccessToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens == nil {
		c.tokens = map[string]azcore.AccessToken{}
	}
	c.tokens[cacheKey(opts)] = tk
}
