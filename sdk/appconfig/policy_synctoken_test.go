package appconfig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

func TestParseSyncToken(t *testing.T) {
	tk, ok := parseSyncToken("jtqGc1I4=MDoyOA==;sn=28")
	require.True(t, ok)
	assert.Equal(t, "jtqGc1I4", tk.id)
	assert.Equal(t, "MDoyOA==", tk.value)
	assert.Equal(t, int64(28), tk.sequence)
}

func TestParseSyncTokenWithoutSequence(t *testing.T) {
	tk, ok := parseSyncToken("abc=def")
	require.True(t, ok)
	assert.Equal(t, "abc", tk.id)
	assert.Equal(t, int64(-1), tk.sequence)
}

func TestParseSyncTokenRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "justtext", "=value;sn=1", "id=;sn=1", "id=v;sn=x"} {
		_, ok := parseSyncToken(raw)
		assert.False(t, ok, "parseSyncToken(%q)", raw)
	}
}

func TestSyncTokenPolicyKeepsHighestSequence(t *testing.T) {
	p := newSyncTokenPolicy()
	p.addToken("a=1;sn=5")
	p.addToken("a=2;sn=3")
	assert.Equal(t, "a=1", p.headerValue())

	p.addToken("a=3;sn=9")
	assert.Equal(t, "a=3", p.headerValue())
}

func TestSyncTokenPolicyJoinsSorted(t *testing.T) {
	p := newSyncTokenPolicy()
	p.addToken("zeta=2;sn=1,alpha=1;sn=1")
	assert.Equal(t, "alpha=1,zeta=2", p.headerValue())
}

func TestSyncTokenPolicyRoundTrip(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Sync-Token"))
		w.Header().Add("Sync-Token", "zero=ab;sn=1")
		w.Header().Add("Sync-Token", "one=cd;sn=2")
	}))
	defer srv.Close()

	pl := azcore.NewPipelineFromPolicies(nil, newSyncTokenPolicy())
	for i := 0; i < 2; i++ {
		req, err := azcore.NewRequest(context.Background(), http.MethodGet, srv.URL)
		require.NoError(t, err)
		resp, err := pl.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Len(t, got, 2)
	assert.Empty(t, got[0])
	assert.Equal(t, "one=cd,zero=ab", got[1])
}
