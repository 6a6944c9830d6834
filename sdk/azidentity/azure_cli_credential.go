package azidentity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

const cliTimeout = 10 * time.Second

// AzureCLICredentialOptions configures AzureCLICredential.
type AzureCLICredentialOptions struct {
	// TenantID requests tokens for a tenant other than the CLI's default.
	TenantID string

	// run overrides command execution in tests
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// AzureCLICredential authenticates as the identity logged in to the Azure
// CLI, by shelling out to "az account get-access-token". Intended for
// local development rather than production workloads.
type AzureCLICredential struct {
	tenantID string
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewAzureCLICredential creates an AzureCLICredential.
func NewAzureCLICredential(options *AzureCLICredentialOptions) (*AzureCLICredential, error) {
	if options == nil {
		options = &AzureCLICredentialOptions{}
	}
	c := &AzureCLICredential{tenantID: options.TenantID, run: options.run}
	if c.run == nil {
		c.run = runCommand
	}
	return c, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, stderr.String())
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

type cliTokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresOn   string `json:"expiresOn"`
	Expires     int64  `json:"expires_on"`
}

// GetToken invokes the Azure CLI. A missing CLI or an expired login
// surfaces as CredentialUnavailableError so chains can continue.
func (c *AzureCLICredential) GetToken(ctx context.Context, opts azcore.TokenRequestOptions) (azcore.AccessToken, error) {
	resource, err := scopeToResource(opts.Scopes)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	args := []string{"account", "get-access-token", "--output", "json", "--resource", resource}
	tenant := c.tenantID
	if opts.TenantID != "" {
		tenant = opts.TenantID
	}
	if tenant != "" {
		args = append(args, "--tenant", tenant)
	}

	ctx, cancel := context.WithTimeout(ctx, cliTimeout)
	defer cancel()
	output, err := c.run(ctx, "az", args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return azcore.AccessToken{}, newCredentialUnavailableError("AzureCLICredential",
				"the Azure CLI is not on the PATH", err)
		}
		msg := err.Error()
		if strings.Contains(msg, "az login") || strings.Contains(msg, "az account set") {
			return azcore.AccessToken{}, newCredentialUnavailableError("AzureCLICredential",
				"no account is logged in, run az login", err)
		}
		return azcore.AccessToken{}, fmt.Errorf("AzureCLICredential authentication failed: %w", err)
	}

	var tokenResp cliTokenResponse
	if err := json.Unmarshal(output, &tokenResp); err != nil {
		return azcore.AccessToken{}, fmt.Errorf("failed to parse az output: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return azcore.AccessToken{}, fmt.Errorf("az returned no token")
	}
	expires, err := parseCLIExpiresOn(tokenResp)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	logrus.WithFields(logrus.Fields{
		"credential": "AzureCLICredential",
		"scopes":     opts.Scopes,
	}).Debug("acquired access token")
	return azcore.AccessToken{Token: tokenResp.AccessToken, ExpiresOn: expires}, nil
}

// parseCLIExpiresOn prefers the epoch expires_on field newer CLI versions
// emit. Older versions only emit expiresOn as a local timestamp.
func parseCLIExpiresOn(resp cliTokenResponse) (time.Time, error) {
	if resp.Expires > 0 {
		return time.Unix(resp.Expires, 0), nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05.999999", resp.ExpiresOn, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("unexpected token expiry format %q", resp.ExpiresOn)
	}
	return t, nil
}
