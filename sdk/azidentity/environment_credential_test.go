package azidentity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

func clearAzureEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"AZURE_TENANT_ID", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET",
		"AZURE_CLIENT_CERTIFICATE_PATH", "AZURE_CLIENT_CERTIFICATE_PASSWORD",
		envAuthorityHost,
	} {
		t.Setenv(k, "")
	}
}

func TestEnvironmentCredentialUnavailable(t *testing.T) {
	t.Run("nothing set", func(t *testing.T) {
		clearAzureEnv(t)
		_, err := NewEnvironmentCredential(nil)
		require.Error(t, err)
		assert.True(t, credentialUnavailable(err))
		assert.Contains(t, err.Error(), "AZURE_TENANT_ID")
	})

	t.Run("no client id", func(t *testing.T) {
		clearAzureEnv(t)
		t.Setenv("AZURE_TENANT_ID", "fake-tenant")
		_, err := NewEnvironmentCredential(nil)
		require.Error(t, err)
		assert.True(t, credentialUnavailable(err))
		assert.Contains(t, err.Error(), "AZURE_CLIENT_ID")
	})

	t.Run("no secret or certificate", func(t *testing.T) {
		clearAzureEnv(t)
		t.Setenv("AZURE_TENANT_ID", "fake-tenant")
		t.Setenv("AZURE_CLIENT_ID", "fake-client")
		_, err := NewEnvironmentCredential(nil)
		require.Error(t, err)
		assert.True(t, credentialUnavailable(err))
	})
}

func TestEnvironmentCredentialWithSecret(t *testing.T) {
	clearAzureEnv(t)
	srv, requests := fakeTokenEndpoint(t, "fake-tenant")
	t.Setenv("AZURE_TENANT_ID", "fake-tenant")
	t.Setenv("AZURE_CLIENT_ID", "fake-client")
	t.Setenv("AZURE_CLIENT_SECRET", "fake-secret")
	t.Setenv(envAuthorityHost, srv.URL)

	cred, err := NewEnvironmentCredential(nil)
	require.NoError(t, err)

	tk, err := cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"scope"}})
	require.NoError(t, err)
	assert.Equal(t, "fake-token", tk.Token)
	require.Len(t, *requests, 1)
	assert.Equal(t, "fake-secret", (*requests)[0]["client_secret"])
}

func TestEnvironmentCredentialWithCertificate(t *testing.T) {
	clearAzureEnv(t)
	pemData, _, _, _ := testCertificate(t)
	certPath := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, os.WriteFile(certPath, pemData, 0o600))

	srv, requests := fakeTokenEndpoint(t, "fake-tenant")
	t.Setenv("AZURE_TENANT_ID", "fake-tenant")
	t.Setenv("AZURE_CLIENT_ID", "fake-client")
	t.Setenv("AZURE_CLIENT_CERTIFICATE_PATH", certPath)
	t.Setenv(envAuthorityHost, srv.URL)

	cred, err := NewEnvironmentCredential(nil)
	require.NoError(t, err)

	tk, err := cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"scope"}})
	require.NoError(t, err)
	assert.Equal(t, "fake-token", tk.Token)
	require.Len(t, *requests, 1)
	assert.NotEmpty(t, (*requests)[0]["client_assertion"], "certificate auth should send an assertion")
}

func TestEnvironmentCredentialSecretWinsOverCertificate(t *testing.T) {
	clearAzureEnv(t)
	srv, requests := fakeTokenEndpoint(t, "fake-tenant")
	t.Setenv("AZURE_TENANT_ID", "fake-tenant")
	t.Setenv("AZURE_CLIENT_ID", "fake-client")
	t.Setenv("AZURE_CLIENT_SECRET", "fake-secret")
	t.Setenv("AZURE_CLIENT_CERTIFICATE_PATH", filepath.Join(t.TempDir(), "missing.pem"))
	t.Setenv(envAuthorityHost, srv.URL)

	cred, err := NewEnvironmentCredential(nil)
	require.NoError(t, err, "the certificate path should not be touched when a secret is set")

	_, err = cred.GetToken(context.Background(), azcore.TokenRequestOptions{Scopes: []string{"scope"}})
	require.NoError(t, err)
	require.Len(t, *requests, 1)
	assert.Equal(t, "fake-secret", (*requests)[0]["client_secret"])
}

func TestEnvironmentCredentialBadCertificatePath(t *testing.T) {
	clearAzureEnv(t)
	t.Setenv("AZURE_TENANT_ID", "fake-tenant")
	t.Setenv("AZURE_CLIENT_ID", "fake-client")
	t.Setenv("AZURE_CLIENT_CERTIFICATE_PATH", filepath.Join(t.TempDir(), "missing.pem"))

	_, err := NewEnvironmentCredential(nil)
	require.Error(t, err)
	assert.False(t, credentialUnavailable(err), "a set but unreadable path is a configuration error")
}
