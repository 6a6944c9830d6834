package azidentity

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

const (
	imdsEndpoint   = "http://169.254.169.254/metadata/identity/oauth2/token"
	imdsAPIVersion = "2018-02-01"

	appServiceAPIVersion = "2019-08-01"
	cloudShellAPIVersion = "2017-09-01"

	envIdentityEndpoint = "IDENTITY_ENDPOINT"
	envIdentityHeader   = "IDENTITY_HEADER"
	envMSIEndpoint      = "MSI_ENDPOINT"
	envMSISecret        = "MSI_SECRET"
	envIMDSEndpoint     = "IMDS_ENDPOINT"
)

type managedIdentityKind int

const (
	msiKindIMDS managedIdentityKind = iota
	msiKindAppService
	msiKindCloudShell
)

func (k managedIdentityKind) String() string {
	switch k {
	case msiKindAppService:
		return "app service"
	case msiKindCloudShell:
		return "cloud shell"
	default:
		return "IMDS"
	}
}

// ManagedIdentityCredentialOptions configures ManagedIdentityCredential.
type ManagedIdentityCredentialOptions struct {
	// ClientID selects a user-assigned identity. Leave empty for the
	// system-assigned identity.
	ClientID string
}

// ManagedIdentityCredential authenticates with the identity assigned to
// the hosting Azure resource. The token source is detected from the
// environment: App Service and Container Apps publish IDENTITY_ENDPOINT,
// Cloud Shell publishes MSI_ENDPOINT, and virtual machines fall back to
// the IMDS endpoint.
type ManagedIdentityCredential struct {
	kind     managedIdentityKind
	endpoint string
	header   string
	clientID string
	client   *resty.Client
	cache    tokenCache
}

// NewManagedIdentityCredential creates a ManagedIdentityCredential.
// Construction always succeeds; endpoint availability is only known once
// GetToken is called.
func NewManagedIdentityCredential(options *ManagedIdentityCredentialOptions) (*ManagedIdentityCredential, error) {
	if options == nil {
		options = &ManagedIdentityCredentialOptions{}
	}
	c := &ManagedIdentityCredential{clientID: options.ClientID}
	switch {
	case os.Getenv(envIdentityEndpoint) != "" && os.Getenv(envIdentityHeader) != "":
		c.kind = msiKindAppService
		c.endpoint = os.Getenv(envIdentityEndpoint)
		c.header = os.Getenv(envIdentityHeader)
	case os.Getenv(envMSIEndpoint) != "":
		c.kind = msiKindCloudShell
		c.endpoint = os.Getenv(envMSIEndpoint)
		c.header = os.Getenv(envMSISecret)
	default:
		c.kind = msiKindIMDS
		c.endpoint = imdsEndpoint
		if env := os.Getenv(envIMDSEndpoint); env != "" {
			c.endpoint = env
		}
	}
	c.client = resty.New()
	c.client.SetTimeout(10 * time.Second)
	c.client.SetHeader("User-Agent", fmt.Sprintf("azsdk-go-%s/%s", moduleName, moduleVersion))
	logrus.WithFields(logrus.Fields{
		"credential": "ManagedIdentityCredential",
		"source":     c.kind.String(),
	}).Debug("configured managed identity token source")
	return c, nil
}

type managedIdentityTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresOn   string `json:"expires_on"`
	ExpiresIn   string `json:"expires_in"`
}

// GetToken requests a token from the detected endpoint. Endpoint
// unreachability and unassigned identities surface as
// CredentialUnavailableError so chains can continue.
func (c *ManagedIdentityCredential) GetToken(ctx context.Context, opts azcore.TokenRequestOptions) (azcore.AccessToken, error) {
	if tk, ok := c.cache.get(opts); ok {
		return tk, nil
	}
	resource, err := scopeToResource(opts.Scopes)
	if err != nil {
		return azcore.AccessToken{}, err
	}

	req := c.client.R().SetContext(ctx)
	var tokenResp managedIdentityTokenResponse
	req.SetResult(&tokenResp)
	switch c.kind {
	case msiKindAppService:
		req.SetHeader("X-IDENTITY-HEADER", c.header)
		req.SetQueryParam("api-version", appServiceAPIVersion)
		req.SetQueryParam("resource", resource)
	case msiKindCloudShell:
		req.SetHeader("secret", c.header)
		req.SetQueryParam("api-version", cloudShellAPIVersion)
		req.SetQueryParam("resource", resource)
	default:
		req.SetHeader("Metadata", "true")
		req.SetQueryParam("api-version", imdsAPIVersion)
		req.SetQueryParam("resource", resource)
	}
	if c.clientID != "" {
		req.SetQueryParam("client_id", c.clientID)
	}

	resp, err := req.Get(c.endpoint)
	if err != nil {
		return azcore.AccessToken{}, newCredentialUnavailableError("ManagedIdentityCredential",
			fmt.Sprintf("%s endpoint is unreachable", c.kind), err)
	}
	if resp.StatusCode() == http.StatusBadRequest {
		// IMDS answers 400 when no identity is assigned to the host
		return azcore.AccessToken{}, newCredentialUnavailableError("ManagedIdentityCredential",
			"no managed identity is assigned to this resource", nil)
	}
	if resp.StatusCode() != http.StatusOK {
		return azcore.AccessToken{}, fmt.Errorf("managed identity request failed: %s: %s", resp.Status(), resp.Body())
	}
	if tokenResp.AccessToken == "" {
		return azcore.AccessToken{}, fmt.Errorf("managed identity response contained no token")
	}

	expires, err := parseExpiresOn(tokenResp.ExpiresOn, tokenResp.ExpiresIn)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	tk := azcore.AccessToken{Token: tokenResp.AccessToken, ExpiresOn: expires}
	c.cache.put(opts, tk)
	logrus.WithFields(logrus.Fields{
		"credential": "ManagedIdentityCredential",
		"scopes":     opts.Scopes,
	}).Debug("acquired access token")
	return tk, nil
}

// parseExpiresOn handles the three formats managed identity endpoints
// use: Unix epoch seconds, RFC 3339, and the App Service 2017 locale
// timestamp. expiresIn seconds is the fallback when expires_on is absent.
func parseExpiresOn(expiresOn, expiresIn string) (time.Time, error) {
	if expiresOn != "" {
		if epoch, err := strconv.ParseInt(expiresOn, 10, 64); err == nil {
			return time.Unix(epoch, 0), nil
		}
		if t, err := time.Parse(time.RFC3339, expiresOn); err == nil {
			return t, nil
		}
		if t, err := time.Parse("1/2/2006 3:04:05 PM -07:00", expiresOn); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("unexpected token expiry format %q", expiresOn)
	}
	if expiresIn != "" {
		secs, err := strconv.ParseInt(expiresIn, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("unexpected token expiry format %q", expiresIn)
		}
		return time.Now().Add(time.Duration(secs) * time.Second), nil
	}
	return time.Time{}, fmt.Errorf("managed identity response contained no expiry")
}
