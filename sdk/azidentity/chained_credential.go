package azidentity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

// ChainedTokenCredentialOptions configures ChainedTokenCredential.
type ChainedTokenCredentialOptions struct {
	// RetrySources re-evaluates every source on each GetToken call
	// instead of remembering the first one that succeeded.
	RetrySources bool
}

// ChainedTokenCredential tries a sequence of credentials in order,
// returning the first token acquired. Sources reporting
// CredentialUnavailableError are skipped; any other failure stops the
// chain, since it means a configured credential is broken rather than
// absent.
type ChainedTokenCredential struct {
	sources      []azcore.TokenCredential
	retrySources bool

	mu     sync.Mutex
	winner azcore.TokenCredential
}

// NewChainedTokenCredential creates a ChainedTokenCredential from one or
// more sources.
func NewChainedTokenCredential(sources []azcore.TokenCredential, options *ChainedTokenCredentialOptions) (*ChainedTokenCredential, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one credential source is required")
	}
	for _, s := range sources {
		if s == nil {
			return nil, errors.New("credential sources must not be nil")
		}
	}
	if options == nil {
		options = &ChainedTokenCredentialOptions{}
	}
	cp := make([]azcore.TokenCredential, len(sources))
	copy(cp, sources)
	return &ChainedTokenCredential{sources: cp, retrySources: options.RetrySources}, nil
}

// GetToken walks the chain. Once a source succeeds it handles all
// subsequent calls, unless RetrySources is set.
func (c *ChainedTokenCredential) GetToken(ctx context.Context, opts azcore.TokenRequestOptions) (azcore.AccessToken, error) {
	c.mu.Lock()
	winner := c.winner
	c.mu.Unlock()
	if winner != nil && !c.retrySources {
		return winner.GetToken(ctx, opts)
	}

	var unavailable []string
	for _, source := range c.sources {
		tk, err := source.GetToken(ctx, opts)
		if err == nil {
			c.mu.Lock()
			c.winner = source
			c.mu.Unlock()
			return tk, nil
		}
		if credentialUnavailable(err) {
			logrus.WithError(err).Debug("credential unavailable, trying next source")
			unavailable = append(unavailable, err.Error())
			continue
		}
		return azcore.AccessToken{}, fmt.Errorf("%w: %w", azcore.ErrAuthenticationFailed, err)
	}
	return azcore.AccessToken{}, newCredentialUnavailableError("ChainedTokenCredential",
		"no credential in the chain could authenticate: "+strings.Join(unavailable, "; "), nil)
}
