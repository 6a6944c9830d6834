package azidentity

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

func stubCLI(t *testing.T, output string, err error) (*AzureCLICredential, *[][]string) {
	t.Helper()
	var calls [][]string
	cred, cerr := NewAzureCLICredential(&AzureCLICredentialOptions{
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			assert.Equal(t, "az", name)
			calls = append(calls, args)
			if err != nil {
				return nil, err
			}
			return []byte(output), nil
		},
	})
	require.NoError(t, cerr)
	return cred, &calls
}

func TestAzureCLICredential(t *testing.T) {
	expires := time.Now().Add(45 * time.Minute).Unix()
	cred, calls := stubCLI(t, fmt.Sprintf(`{
		"accessToken": "cli-token",
		"expiresOn": "2030-01-01 12:00:00.000000",
		"expires_on": %d,
		"tokenType": "Bearer"
	}`, expires), nil)

	tk, err := cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"https://management.azure.com/.default"}})
	require.NoError(t, err)
	assert.Equal(t, "cli-token", tk.Token)
	assert.Equal(t, time.Unix(expires, 0), tk.ExpiresOn, "the epoch field should win over the locale timestamp")

	require.Len(t, *calls, 1)
	assert.Equal(t, []string{"account", "get-access-token", "--output", "json", "--resource", "https://management.azure.com"}, (*calls)[0])
}

func TestAzureCLICredentialLegacyExpiry(t *testing.T) {
	expiresOn := time.Now().Add(30 * time.Minute)
	cred, _ := stubCLI(t, fmt.Sprintf(`{"accessToken":"cli-token","expiresOn":"%s"}`,
		expiresOn.Format("2006-01-02 15:04:05.000000")), nil)

	tk, err := cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"scope"}})
	require.NoError(t, err)
	assert.WithinDuration(t, expiresOn, tk.ExpiresOn, time.Second)
}

func TestAzureCLICredentialTenant(t *testing.T) {
	output := `{"accessToken":"cli-token","expires_on":4102444800}`

	t.Run("from options", func(t *testing.T) {
		cred, calls := stubCLI(t, output, nil)
		cred.tenantID = "configured-tenant"
		_, err := cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"scope"}})
		require.NoError(t, err)
		assert.Contains(t, (*calls)[0], "--tenant")
		assert.Contains(t, (*calls)[0], "configured-tenant")
	})

	t.Run("per request override", func(t *testing.T) {
		cred, calls := stubCLI(t, output, nil)
		cred.tenantID = "configured-tenant"
		_, err := cred.GetToken(context.Background(), azcore.TokenRequestOptions{
			Scopes:   []string{"scope"},
			TenantID: "request-tenant",
		})
		require.NoError(t, err)
		assert.Contains(t, (*calls)[0], "request-tenant")
		assert.NotContains(t, (*calls)[0], "configured-tenant")
	})
}

func TestAzureCLICredentialUnavailable(t *testing.T) {
	t.Run("az not installed", func(t *testing.T) {
		cred, _ := stubCLI(t, "", fmt.Errorf("exec: %q: %w", "az", exec.ErrNotFound))
		_, err := cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"scope"}})
		require.Error(t, err)
		assert.True(t, credentialUnavailable(err))
	})

	t.Run("not logged in", func(t *testing.T) {
		cred, _ := stubCLI(t, "", fmt.Errorf("exit status 1: ERROR: Please run 'az login' to setup account"))
		_, err := cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"scope"}})
		require.Error(t, err)
		assert.True(t, credentialUnavailable(err))
	})

	t.Run("other failures are hard errors", func(t *testing.T) {
		cred, _ := stubCLI(t, "", fmt.Errorf("exit status 1: ERROR: unrecognized arguments"))
		_, err := cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"scope"}})
		require.Error(t, err)
		assert.False(t, credentialUnavailable(err))
	})

	t.Run("malformed output", func(t *testing.T) {
		cred, _ := stubCLI(t, "WARNING: something{", nil)
		_, err := cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"scope"}})
		require.Error(t, err)
	})
}
