package azsecrets

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fakesecrets "github.com/thand-io/azure-sdk/internal/fake/secrets"
	"github.com/thand-io/azure-sdk/sdk/azcore"
)

type countingCredential struct {
	mu     sync.Mutex
	calls  int
	scopes []string
	tenant string
}

func (c *countingCredential) GetToken(ctx context.Context, opts azcore.TokenRequestOptions) (azcore.AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.scopes = opts.Scopes
	c.tenant = opts.TenantID
	return azcore.AccessToken{Token: "vault-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func newTestVault(t *testing.T) (*Client, *fakesecrets.Server, *countingCredential) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fake := fakesecrets.NewServer()
	fake.ExpectedToken = "vault-token"
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	cred := &countingCredential{}
	client, err := NewClient(srv.URL, cred, &ClientOptions{DisableChallengeResourceVerification: true})
	require.NoError(t, err)
	return client, fake, cred
}

func TestSetAndGetSecret(t *testing.T) {
	client, _, cred := newTestVault(t)
	ctx := context.Background()

	contentType := "text/plain"
	set, err := client.SetSecret(ctx, "db-password", "hunter2", &SetSecretOptions{
		ContentType: &contentType,
		Tags:        map[string]string{"team": "storage"},
	})
	require.NoError(t, err)
	assert.Equal(t, "db-password", set.ID.Name())
	assert.NotEmpty(t, set.ID.Version())
	require.NotNil(t, set.Value)
	assert.Equal(t, "hunter2", *set.Value)
	require.NotNil(t, set.Attributes)
	require.NotNil(t, set.Attributes.Created)

	got, err := client.GetSecret(ctx, "db-password", nil)
	require.NoError(t, err)
	assert.Equal(t, set.ID, got.ID)
	assert.Equal(t, "hunter2", *got.Value)
	assert.Equal(t, "storage", got.Tags["team"])

	versioned, err := client.GetSecret(ctx, "db-password", &GetSecretOptions{Version: set.ID.Version()})
	require.NoError(t, err)
	assert.Equal(t, set.ID, versioned.ID)

	// the challenge negotiates scope and tenant once, then the token is cached
	assert.Equal(t, []string{"https://vault.azure.net/.default"}, cred.scopes)
	assert.Equal(t, "fake-tenant", cred.tenant)
	assert.Equal(t, 1, cred.calls)
}

func TestSetSecretNewVersions(t *testing.T) {
	client, _, _ := newTestVault(t)
	ctx := context.Background()

	first, err := client.SetSecret(ctx, "rotating", "v1", nil)
	require.NoError(t, err)
	second, err := client.SetSecret(ctx, "rotating", "v2", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID.Version(), second.ID.Version())

	got, err := client.GetSecret(ctx, "rotating", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", *got.Value)

	old, err := client.GetSecret(ctx, "rotating", &GetSecretOptions{Version: first.ID.Version()})
	require.NoError(t, err)
	assert.Equal(t, "v1", *old.Value)
}

func TestGetSecretNotFound(t *testing.T) {
	client, _, _ := newTestVault(t)

	_, err := client.GetSecret(context.Background(), "absent", nil)
	assert.ErrorIs(t, err, azcore.ErrResourceNotFound)
	var respErr *azcore.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "SecretNotFound", respErr.ErrorCode)
}

func TestDeleteSecretImmediatelyVisible(t *testing.T) {
	client, fake, _ := newTestVault(t)
	fake.SetPropagationPolls(0)
	ctx := context.Background()

	_, err := client.SetSecret(ctx, "doomed", "x", nil)
	require.NoError(t, err)

	poller, err := client.BeginDeleteSecret(ctx, "doomed", nil)
	require.NoError(t, err)
	deleted, err := poller.PollUntilDone(ctx, &azcore.PollUntilDoneOptions{Frequency: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "doomed", deleted.ID.Name())
	assert.NotEmpty(t, deleted.RecoveryID)
	require.NotNil(t, deleted.DeletedOn)
	require.NotNil(t, deleted.ScheduledPurgeDate)

	_, err = client.GetSecret(ctx, "doomed", nil)
	assert.ErrorIs(t, err, azcore.ErrResourceNotFound)
}

func TestDeleteSecretWaitsForPropagation(t *testing.T) {
	client, fake, _ := newTestVault(t)
	fake.SetPropagationPolls(2)
	ctx := context.Background()

	_, err := client.SetSecret(ctx, "slow", "x", nil)
	require.NoError(t, err)

	poller, err := client.BeginDeleteSecret(ctx, "slow", nil)
	require.NoError(t, err)
	assert.False(t, poller.Done())

	polls := 0
	for !poller.Done() {
		_, err := poller.Poll(ctx)
		require.NoError(t, err)
		polls++
		require.Less(t, polls, 10)
	}
	assert.Equal(t, 3, polls)

	deleted, err := poller.Result(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, deleted.RecoveryID)

	visible, err := client.GetDeletedSecret(ctx, "slow", nil)
	require.NoError(t, err)
	assert.Equal(t, "slow", visible.ID.Name())
}

func TestRecoverDeletedSecret(t *testing.T) {
	client, fake, _ := newTestVault(t)
	fake.SetPropagationPolls(0)
	ctx := context.Background()

	_, err := client.SetSecret(ctx, "phoenix", "v1", nil)
	require.NoError(t, err)

	delPoller, err := client.BeginDeleteSecret(ctx, "phoenix", nil)
	require.NoError(t, err)
	_, err = delPoller.PollUntilDone(ctx, &azcore.PollUntilDoneOptions{Frequency: time.Second})
	require.NoError(t, err)

	recPoller, err := client.BeginRecoverDeletedSecret(ctx, "phoenix", nil)
	require.NoError(t, err)
	recovered, err := recPoller.PollUntilDone(ctx, &azcore.PollUntilDoneOptions{Frequency: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "phoenix", recovered.ID.Name())

	got, err := client.GetSecret(ctx, "phoenix", nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", *got.Value)
}

func TestPurgeDeletedSecret(t *testing.T) {
	client, fake, _ := newTestVault(t)
	fake.SetPropagationPolls(0)
	ctx := context.Background()

	_, err := client.SetSecret(ctx, "ephemeral", "x", nil)
	require.NoError(t, err)
	poller, err := client.BeginDeleteSecret(ctx, "ephemeral", nil)
	require.NoError(t, err)
	_, err = poller.PollUntilDone(ctx, &azcore.PollUntilDoneOptions{Frequency: time.Second})
	require.NoError(t, err)

	require.NoError(t, client.PurgeDeletedSecret(ctx, "ephemeral", nil))

	_, err = client.GetDeletedSecret(ctx, "ephemeral", nil)
	assert.ErrorIs(t, err, azcore.ErrResourceNotFound)

	// the name is free again
	_, err = client.SetSecret(ctx, "ephemeral", "reborn", nil)
	assert.NoError(t, err)
}

func TestSetSecretConflictsWhileDeleted(t *testing.T) {
	client, fake, _ := newTestVault(t)
	fake.SetPropagationPolls(0)
	ctx := context.Background()

	_, err := client.SetSecret(ctx, "held", "x", nil)
	require.NoError(t, err)
	poller, err := client.BeginDeleteSecret(ctx, "held", nil)
	require.NoError(t, err)
	_, err = poller.PollUntilDone(ctx, &azcore.PollUntilDoneOptions{Frequency: time.Second})
	require.NoError(t, err)

	_, err = client.SetSecret(ctx, "held", "again", nil)
	assert.ErrorIs(t, err, azcore.ErrResourceExists)
}

func TestListSecretsPaging(t *testing.T) {
	client, _, _ := newTestVault(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := client.SetSecret(ctx, fmt.Sprintf("secret-%d", i), "x", nil)
		require.NoError(t, err)
	}

	maxResults := int32(2)
	pager := client.NewListSecretsPager(&ListSecretsOptions{MaxResults: &maxResults})
	pages := 0
	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		require.NoError(t, err)
		pages++
		for _, s := range page.Secrets {
			names = append(names, s.ID.Name())
			assert.Empty(t, s.ID.Version(), "list items are unversioned")
		}
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"secret-0", "secret-1", "secret-2", "secret-3", "secret-4"}, names)
}

func TestListSecretVersions(t *testing.T) {
	client, _, _ := newTestVault(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.SetSecret(ctx, "rotating", "x", nil)
		require.NoError(t, err)
	}

	pager := client.NewListSecretVersionsPager("rotating", nil)
	page, err := pager.NextPage(ctx)
	require.NoError(t, err)
	require.Len(t, page.Secrets, 3)

	versions := map[string]bool{}
	for _, s := range page.Secrets {
		assert.Equal(t, "rotating", s.ID.Name())
		require.NotEmpty(t, s.ID.Version())
		versions[s.ID.Version()] = true
	}
	assert.Len(t, versions, 3)
}

func TestListDeletedSecrets(t *testing.T) {
	client, fake, _ := newTestVault(t)
	fake.SetPropagationPolls(0)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "keep"} {
		_, err := client.SetSecret(ctx, name, "x", nil)
		require.NoError(t, err)
	}
	for _, name := range []string{"a", "b"} {
		poller, err := client.BeginDeleteSecret(ctx, name, nil)
		require.NoError(t, err)
		_, err = poller.PollUntilDone(ctx, &azcore.PollUntilDoneOptions{Frequency: time.Second})
		require.NoError(t, err)
	}

	pager := client.NewListDeletedSecretsPager(nil)
	page, err := pager.NextPage(ctx)
	require.NoError(t, err)
	require.Len(t, page.DeletedSecrets, 2)
	for _, d := range page.DeletedSecrets {
		assert.NotEmpty(t, d.RecoveryID)
	}
}

func TestChallengeResourceVerificationRejectsForeignDomain(t *testing.T) {
	gin.SetMode(gin.TestMode)
	fake := fakesecrets.NewServer()
	srv := httptest.NewServer(fake.Handler())
	defer srv.Close()

	// default options keep verification on; the fake's vault.azure.net
	// resource cannot match a loopback host
	client, err := NewClient(srv.URL, &countingCredential{}, nil)
	require.NoError(t, err)

	_, err = client.GetSecret(context.Background(), "any", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "challenge resource")
}

func TestSecretIDParsing(t *testing.T) {
	id := SecretID("https://myvault.vault.azure.net/secrets/db-password/abc123")
	assert.Equal(t, "db-password", id.Name())
	assert.Equal(t, "abc123", id.Version())

	unversioned := SecretID("https://myvault.vault.azure.net/secrets/db-password")
	assert.Equal(t, "db-password", unversioned.Name())
	assert.Empty(t, unversioned.Version())

	deleted := SecretID("https://myvault.vault.azure.net/deletedsecrets/db-password")
	assert.Equal(t, "db-password", deleted.Name())

	assert.Empty(t, SecretID("").Name())
	assert.Empty(t, SecretID("https://vault.azure.net/").Name())
}
