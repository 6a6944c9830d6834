package azidentity

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

// EnvironmentCredentialOptions configures EnvironmentCredential.
type EnvironmentCredentialOptions struct {
	AuthorityHost string
}

// EnvironmentCredential authenticates with a service principal configured
// entirely through AZURE_* environment variables:
//
//	AZURE_TENANT_ID                  tenant to authenticate in (required)
//	AZURE_CLIENT_ID                  application ID (required)
//	AZURE_CLIENT_SECRET              secret for ClientSecretCredential
//	AZURE_CLIENT_CERTIFICATE_PATH    certificate file for ClientCertificateCredential
//	AZURE_CLIENT_CERTIFICATE_PASSWORD optional certificate password
//
// A secret takes precedence over a certificate when both are set.
type EnvironmentCredential struct {
	cred azcore.TokenCredential
}

// NewEnvironmentCredential reads the environment and builds the matching
// credential. It returns a CredentialUnavailableError when the required
// variables are not set, so chains can fall through to another source.
func NewEnvironmentCredential(options *EnvironmentCredentialOptions) (*EnvironmentCredential, error) {
	if options == nil {
		options = &EnvironmentCredentialOptions{}
	}

	v := viper.New()
	v.SetEnvPrefix("AZURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	tenantID := v.GetString("tenant_id")
	if tenantID == "" {
		return nil, newCredentialUnavailableError("EnvironmentCredential", "AZURE_TENANT_ID is not set", nil)
	}
	clientID := v.GetString("client_id")
	if clientID == "" {
		return nil, newCredentialUnavailableError("EnvironmentCredential", "AZURE_CLIENT_ID is not set", nil)
	}

	if secret := v.GetString("client_secret"); secret != "" {
		cred, err := NewClientSecretCredential(tenantID, clientID, secret, &ClientSecretCredentialOptions{
			AuthorityHost: options.AuthorityHost,
		})
		if err != nil {
			return nil, err
		}
		logrus.WithField("credential", "EnvironmentCredential").Debug("configured client secret authentication")
		return &EnvironmentCredential{cred: cred}, nil
	}

	if certPath := v.GetString("client_certificate_path"); certPath != "" {
		certData, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate %s: %w", certPath, err)
		}
		cred, err := NewClientCertificateCredential(tenantID, clientID, certData, v.GetString("client_certificate_password"), &ClientCertificateCredentialOptions{
			AuthorityHost: options.AuthorityHost,
		})
		if err != nil {
			return nil, err
		}
		logrus.WithField("credential", "EnvironmentCredential").Debug("configured client certificate authentication")
		return &EnvironmentCredential{cred: cred}, nil
	}

	return nil, newCredentialUnavailableError("EnvironmentCredential",
		"set AZURE_CLIENT_SECRET or AZURE_CLIENT_CERTIFICATE_PATH to complete the configuration", nil)
}

// GetToken delegates to the credential selected from the environment.
func (c *EnvironmentCredential) GetToken(ctx context.Context, opts azcore.TokenRequestOptions) (azcore.AccessToken, error) {
	return c.cred.GetToken(ctx, opts)
}
