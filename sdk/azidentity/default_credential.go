package azidentity

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

// DefaultAzureCredentialOptions configures DefaultAzureCredential.
type DefaultAzureCredentialOptions struct {
	AuthorityHost string

	// TenantID overrides the tenant for sources that accept one, such
	// as the Azure CLI.
	TenantID string
}

// DefaultAzureCredential covers the common development-to-production
// path with one constructor. It chains, in order:
//
//  1. EnvironmentCredential, for service principals configured via
//     AZURE_* variables
//  2. ManagedIdentityCredential, for code running on Azure
//  3. AzureCLICredential, for local development
//
// Sources whose configuration is absent are skipped at construction or
// during the first GetToken.
type DefaultAzureCredential struct {
	chain *ChainedTokenCredential
}

// NewDefaultAzureCredential creates a DefaultAzureCredential.
func NewDefaultAzureCredential(options *DefaultAzureCredentialOptions) (*DefaultAzureCredential, error) {
	if options == nil {
		options = &DefaultAzureCredentialOptions{}
	}

	var sources []azcore.TokenCredential

	if env, err := NewEnvironmentCredential(&EnvironmentCredentialOptions{AuthorityHost: options.AuthorityHost}); err == nil {
		sources = append(sources, env)
	} else if !credentialUnavailable(err) {
		return nil, err
	} else {
		logrus.WithError(err).Debug("environment credential excluded from default chain")
	}

	msi, err := NewManagedIdentityCredential(nil)
	if err != nil {
		return nil, err
	}
	sources = append(sources, msi)

	cli, err := NewAzureCLICredential(&AzureCLICredentialOptions{TenantID: options.TenantID})
	if err != nil {
		return nil, err
	}
	sources = append(sources, cli)

	chain, err := NewChainedTokenCredential(sources, nil)
	if err != nil {
		return nil, err
	}
	return &DefaultAzureCredential{chain: chain}, nil
}

// GetToken delegates to the underlying chain.
func (c *DefaultAzureCredential) GetToken(ctx context.Context, opts azcore.TokenRequestOptions) (azcore.AccessToken, error) {
	return c.chain.GetToken(ctx, opts)
}
