package azidentity

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

// ClientSecretCredentialOptions configures ClientSecretCredential.
type ClientSecretCredentialOptions struct {
	// AuthorityHost overrides the default AAD endpoint, e.g. for
	// sovereign clouds.
	AuthorityHost string
}

// ClientSecretCredential authenticates a service principal with a client
// secret using the OAuth2 client credentials flow.
type ClientSecretCredential struct {
	tenantID string
	clientID string
	secret   string
	host     string
	cache    tokenCache
}

// NewClientSecretCredential creates a ClientSecretCredential. All of
// tenantID, clientID and clientSecret are required.
func NewClientSecretCredential(tenantID, clientID, clientSecret string, options *ClientSecretCredentialOptions) (*ClientSecretCredential, error) {
	if err := validTenantID(tenantID); err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if clientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if options == nil {
		options = &ClientSecretCredentialOptions{}
	}
	return &ClientSecretCredential{
		tenantID: tenantID,
		clientID: clientID,
		secret:   clientSecret,
		host:     authorityHost(options.AuthorityHost),
	}, nil
}

// GetToken requests a token from AAD, reusing a cached token when one is
// still comfortably valid.
func (c *ClientSecretCredential) GetToken(ctx context.Context, opts azcore.TokenRequestOptions) (azcore.AccessToken, error) {
	if tk, ok := c.cache.get(opts); ok {
		return tk, nil
	}
	tenant := c.tenantID
	if opts.TenantID != "" {
		tenant = opts.TenantID
	}
	conf := clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.secret,
		TokenURL:     tokenEndpoint(c.host, tenant),
		Scopes:       opts.Scopes,
		// AAD expects the client secret in the form body, not basic auth.
		AuthStyle: oauth2.AuthStyleInParams,
	}
	tok, err := conf.Token(ctx)
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("ClientSecretCredential authentication failed: %w", err)
	}
	tk := azcore.AccessToken{Token: tok.AccessToken, ExpiresOn: tok.Expiry}
	c.cache.put(opts, tk)
	logrus.WithFields(logrus.Fields{
		"credential": "ClientSecretCredential",
		"scopes":     opts.Scopes,
	}).Debug("acquired access token")
	return tk, nil
}
