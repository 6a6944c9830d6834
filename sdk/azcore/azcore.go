package azcore

import (
	"context"
	"time"
)

// AccessToken is a bearer token plus its expiry.
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
}

// TokenRequestOptions carries the parameters for a token request.
type TokenRequestOptions struct {
	// Scopes the token should be valid for, e.g. "https://vault.azure.net/.default".
	Scopes []string

	// TenantID overrides the credential's configured tenant for this request.
	TenantID string
}

// TokenCredential is implemented by anything that can produce an OAuth2
// access token for a set of scopes. All azidentity credential types satisfy
// it, as do test stubs.
type TokenCredential interface {
	GetToken(ctx context.Context, opts TokenRequestOptions) (AccessToken, error)
}

// KeyCredential holds a shared secret, such as the Secret portion of an App
// Configuration connection string.
type KeyCredential struct {
	key string
}

func NewKeyCredential(key string) *KeyCredential {
	return &KeyCredential{key: key}
}

// Key returns the raw secret.
func (k *KeyCredential) Key() string {
	return k.key
}

// ClientOptions are the options common to every service client. The zero
// value is usable; unset fields take defaults.
type ClientOptions struct {
	// APIVersion overrides the service client's default api-version parameter.
	APIVersion string

	// Transport performs the HTTP exchange. Defaults to a shared tuned
	// http.Client.
	Transport Transporter

	Logging   LogOptions
	Retry     RetryOptions
	Redirect  RedirectOptions
	Telemetry TelemetryOptions
	Tracing   TracingOptions
	Metrics   MetricsOptions

	// PerCallPolicies run once per API call, before the retry policy.
	PerCallPolicies []Policy

	// PerRetryPolicies run once per attempt, after the retry policy.
	PerRetryPolicies []Policy
}

// PipelineOptions are set by client constructors, not callers.
type PipelineOptions struct {
	PerCall  []Policy
	PerRetry []Policy

	// AllowedHeaders and AllowedQueryParams extend the logging allow lists
	// with service-specific entries.
	AllowedHeaders     []string
	AllowedQueryParams []string
}
