package appconfig

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

// syncTokenPolicy implements read-your-writes consistency across service
// replicas: it collects Sync-Token values from responses, keeps the
// highest sequence number per token id, and replays the cached tokens on
// every request.
type syncTokenPolicy struct {
	mu     sync.Mutex
	tokens map[string]syncToken
}

type syncToken struct {
	id       string
	value    string
	sequence int64
}

func newSyncTokenPolicy() *syncTokenPolicy {
	return &syncTokenPolicy{tokens: map[string]syncToken{}}
}

func (p *syncTokenPolicy) Do(req *azcore.Request) (*http.Response, error) {
	if header := p.headerValue(); header != "" {
		req.Raw().Header.Set("Sync-Token", header)
	}
	resp, err := req.Next()
	if resp != nil {
		for _, value := range resp.Header.Values("Sync-Token") {
			p.addToken(value)
		}
	}
	return resp, err
}

// headerValue renders the cached tokens as "id=value,id=value", sorted
// for stable output.
func (p *syncTokenPolicy) headerValue() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokens) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p.tokens))
	for _, tk := range p.tokens {
		parts = append(parts, tk.id+"="+tk.value)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// addToken parses one header value, which may carry several
// comma-separated tokens of the form "<id>=<value>;sn=<sequence>".
func (p *syncTokenPolicy) addToken(header string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, raw := range strings.Split(header, ",") {
		tk, ok := parseSyncToken(raw)
		if !ok {
			continue
		}
		if existing, found := p.tokens[tk.id]; found && existing.sequence >= tk.sequence {
			continue
		}
		p.tokens[tk.id] = tk
	}
}

func parseSyncToken(raw string) (syncToken, bool) {
	var tk syncToken
	tk.sequence = -1
	for i, segment := range strings.Split(strings.TrimSpace(raw), ";") {
		name, value, found := strings.Cut(segment, "=")
		if !found {
			return syncToken{}, false
		}
		if i == 0 {
			tk.id = name
			tk.value = value
			continue
		}
		if name == "sn" {
			seq, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return syncToken{}, false
			}
			tk.sequence = seq
		}
	}
	if tk.id == "" || tk.value == "" {
		return syncToken{}, false
	}
	return tk, true
}
