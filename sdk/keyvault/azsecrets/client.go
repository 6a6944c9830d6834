package azsecrets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

const defaultAPIVersion = "7.4"

// ClientOptions configures Client.
type ClientOptions struct {
	azcore.ClientOptions

	// DisableChallengeResourceVerification accepts challenges whose
	// resource does not match the vault domain. Required when testing
	// against non-Azure endpoints.
	DisableChallengeResourceVerification bool
}

// Client reads and writes secrets in one Key Vault.
type Client struct {
	vaultURL   string
	apiVersion string
	pl         azcore.Pipeline
}

// NewClient creates a client for the vault at vaultURL.
func NewClient(vaultURL string, credential azcore.TokenCredential, options *ClientOptions) (*Client, error) {
	if credential == nil {
		return nil, fmt.Errorf("credential is required")
	}
	if options == nil {
		options = &ClientOptions{}
	}
	apiVersion := defaultAPIVersion
	if options.APIVersion != "" {
		apiVersion = options.APIVersion
	}
	auth := newChallengePolicy(credential, !options.DisableChallengeResourceVerification)
	pl := azcore.NewPipeline(moduleName, moduleVersion, azcore.PipelineOptions{
		PerRetry:           []azcore.Policy{auth},
		AllowedQueryParams: []string{"maxresults", "$skiptoken"},
	}, &options.ClientOptions)
	return &Client{
		vaultURL:   strings.TrimSuffix(vaultURL, "/"),
		apiVersion: apiVersion,
		pl:         pl,
	}, nil
}

func (c *Client) url(segments ...string) string {
	u := c.vaultURL
	for _, s := range segments {
		u += "/" + url.PathEscape(s)
	}
	return u + "?api-version=" + url.QueryEscape(c.apiVersion)
}

// roundTrip performs one exchange expecting a secret bundle back.
func (c *Client) roundTrip(ctx context.Context, method, u string, body any) (secretBundleJSON, error) {
	req, err := azcore.NewRequest(ctx, method, u)
	if err != nil {
		return secretBundleJSON{}, err
	}
	if body != nil {
		if err := req.MarshalAsJSON(body); err != nil {
			return secretBundleJSON{}, err
		}
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return secretBundleJSON{}, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return secretBundleJSON{}, azcore.NewResponseError(resp)
	}
	var wire secretBundleJSON
	if err := azcore.UnmarshalAsJSON(resp, &wire); err != nil {
		return secretBundleJSON{}, err
	}
	return wire, nil
}

// SetSecretOptions configures SetSecret.
type SetSecretOptions struct {
	ContentType *string
	Tags        map[string]string
	Enabled     *bool
	Expires     *time.Time
	NotBefore   *time.Time
}

// SetSecret stores a new version of the named secret, creating the secret
// when it does not exist.
func (c *Client) SetSecret(ctx context.Context, name, value string, options *SetSecretOptions) (Secret, error) {
	if options == nil {
		options = &SetSecretOptions{}
	}
	body := setSecretRequest{
		Value:       value,
		ContentType: options.ContentType,
		Tags:        options.Tags,
	}
	if options.Enabled != nil || options.Expires != nil || options.NotBefore != nil {
		body.Attributes = &secretAttributesJSON{
			Enabled:   options.Enabled,
			Expires:   timeToEpoch(options.Expires),
			NotBefore: timeToEpoch(options.NotBefore),
		}
	}
	wire, err := c.roundTrip(ctx, http.MethodPut, c.url("secrets", name), body)
	if err != nil {
		return Secret{}, err
	}
	return wire.toSecret(), nil
}

// GetSecretOptions configures GetSecret.
type GetSecretOptions struct {
	// Version selects a specific version; empty reads the latest.
	Version string
}

// GetSecret retrieves a secret's value and metadata. A missing secret
// yields azcore.ErrResourceNotFound.
func (c *Client) GetSecret(ctx context.Context, name string, options *GetSecretOptions) (Secret, error) {
	segments := []string{"secrets", name}
	if options != nil && options.Version != "" {
		segments = append(segments, options.Version)
	}
	wire, err := c.roundTrip(ctx, http.MethodGet, c.url(segments...), nil)
	if err != nil {
		return Secret{}, err
	}
	return wire.toSecret(), nil
}

// GetDeletedSecretOptions configures GetDeletedSecret.
type GetDeletedSecretOptions struct {
	// placeholder for future options
}

// GetDeletedSecret retrieves a soft-deleted secret. Until the deletion
// has propagated, the service answers 404.
func (c *Client) GetDeletedSecret(ctx context.Context, name string, options *GetDeletedSecretOptions) (DeletedSecret, error) {
	wire, err := c.roundTrip(ctx, http.MethodGet, c.url("deletedsecrets", name), nil)
	if err != nil {
		return DeletedSecret{}, err
	}
	return wire.toDeletedSecret(), nil
}

// PurgeDeletedSecretOptions configures PurgeDeletedSecret.
type PurgeDeletedSecretOptions struct {
	// placeholder for future options
}

// PurgeDeletedSecret permanently destroys a soft-deleted secret ahead of
// its scheduled purge date. The vault must permit purging.
func (c *Client) PurgeDeletedSecret(ctx context.Context, name string, options *PurgeDeletedSecretOptions) error {
	req, err := azcore.NewRequest(ctx, http.MethodDelete, c.url("deletedsecrets", name))
	if err != nil {
		return err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return err
	}
	if !azcore.HasStatusCode(resp, http.StatusNoContent) {
		return azcore.NewResponseError(resp)
	}
	azcore.Drain(resp)
	return nil
}

// BeginDeleteSecretOptions configures BeginDeleteSecret.
type BeginDeleteSecretOptions struct {
	// placeholder for future options
}

// BeginDeleteSecret starts soft-deleting a secret. The returned poller
// completes once the deleted secret is visible at its recovery endpoint;
// the service answers 404 there while the deletion propagates.
func (c *Client) BeginDeleteSecret(ctx context.Context, name string, options *BeginDeleteSecretOptions) (*azcore.Poller[DeletedSecret], error) {
	req, err := azcore.NewRequest(ctx, http.MethodDelete, c.url("secrets", name))
	if err != nil {
		return nil, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return nil, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return nil, azcore.NewResponseError(resp)
	}
	var wire secretBundleJSON
	if err := azcore.UnmarshalAsJSON(resp, &wire); err != nil {
		return nil, err
	}
	handler := &propagationPollHandler[DeletedSecret]{
		pl:      c.pl,
		pollURL: c.url("deletedsecrets", name),
		result:  wire.toDeletedSecret(),
	}
	return azcore.NewPoller(resp, c.pl, &azcore.NewPollerOptions[DeletedSecret]{Handler: handler})
}

// BeginRecoverDeletedSecretOptions configures BeginRecoverDeletedSecret.
type BeginRecoverDeletedSecretOptions struct {
	// placeholder for future options
}

// BeginRecoverDeletedSecret starts restoring a soft-deleted secret. The
// returned poller completes once the secret is readable again.
func (c *Client) BeginRecoverDeletedSecret(ctx context.Context, name string, options *BeginRecoverDeletedSecretOptions) (*azcore.Poller[Secret], error) {
	req, err := azcore.NewRequest(ctx, http.MethodPost, c.url("deletedsecrets", name, "recover"))
	if err != nil {
		return nil, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return nil, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return nil, azcore.NewResponseError(resp)
	}
	var wire secretBundleJSON
	if err := azcore.UnmarshalAsJSON(resp, &wire); err != nil {
		return nil, err
	}
	handler := &propagationPollHandler[Secret]{
		pl:      c.pl,
		pollURL: c.url("secrets", name),
		result:  wire.toSecret(),
	}
	return azcore.NewPoller(resp, c.pl, &azcore.NewPollerOptions[Secret]{Handler: handler})
}

// propagationPollHandler polls a URL until it answers 200, treating 404
// as in-progress. Key Vault's soft-delete transitions propagate this
// way; the operation's outcome is already known from the initial
// response.
type propagationPollHandler[T any] struct {
	pl      azcore.Pipeline
	pollURL string
	result  T
	done    bool
}

func (h *propagationPollHandler[T]) Done() bool {
	return h.done
}

func (h *propagationPollHandler[T]) Poll(ctx context.Context) (*http.Response, error) {
	req, err := azcore.NewRequest(ctx, http.MethodGet, h.pollURL)
	if err != nil {
		return nil, err
	}
	resp, err := h.pl.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case azcore.HasStatusCode(resp, http.StatusOK):
		h.done = true
	case azcore.HasStatusCode(resp, http.StatusNotFound):
		// still propagating
	default:
		return nil, azcore.NewResponseError(resp)
	}
	azcore.Drain(resp)
	return resp, nil
}

func (h *propagationPollHandler[T]) Result(ctx context.Context, out *T) error {
	*out = h.result
	return nil
}

// ListSecretsOptions configures the list pagers.
type ListSecretsOptions struct {
	// MaxResults caps the page size; the service default is 25.
	MaxResults *int32
}

// ListSecretsPageResponse is one page of secret properties.
type ListSecretsPageResponse struct {
	Secrets []SecretProperties

	nextLink string
}

// ListDeletedSecretsPageResponse is one page of deleted secrets.
type ListDeletedSecretsPageResponse struct {
	DeletedSecrets []DeletedSecret

	nextLink string
}

func (c *Client) listURL(options *ListSecretsOptions, segments ...string) string {
	u := c.url(segments...)
	if options != nil && options.MaxResults != nil {
		u += "&maxresults=" + strconv.Itoa(int(*options.MaxResults))
	}
	return u
}

func (c *Client) fetchListPage(ctx context.Context, pageURL string) (listPageJSON, error) {
	req, err := azcore.NewRequest(ctx, http.MethodGet, pageURL)
	if err != nil {
		return listPageJSON{}, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return listPageJSON{}, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return listPageJSON{}, azcore.NewResponseError(resp)
	}
	var wire listPageJSON
	if err := azcore.UnmarshalAsJSON(resp, &wire); err != nil {
		return listPageJSON{}, err
	}
	return wire, nil
}

// NewListSecretsPager pages over the vault's secrets. Items carry
// properties only; fetch values with GetSecret.
func (c *Client) NewListSecretsPager(options *ListSecretsOptions) *azcore.Pager[ListSecretsPageResponse] {
	return c.newPropertiesPager(c.listURL(options, "secrets"))
}

// NewListSecretVersionsPager pages over every version of one secret,
// oldest first.
func (c *Client) NewListSecretVersionsPager(name string, options *ListSecretsOptions) *azcore.Pager[ListSecretsPageResponse] {
	return c.newPropertiesPager(c.listURL(options, "secrets", name, "versions"))
}

func (c *Client) newPropertiesPager(firstURL string) *azcore.Pager[ListSecretsPageResponse] {
	return azcore.NewPager(azcore.PagingHandler[ListSecretsPageResponse]{
		More: func(page ListSecretsPageResponse) bool {
			return page.nextLink != ""
		},
		Fetcher: func(ctx context.Context, current *ListSecretsPageResponse) (ListSecretsPageResponse, error) {
			pageURL := firstURL
			if current != nil {
				pageURL = current.nextLink
			}
			wire, err := c.fetchListPage(ctx, pageURL)
			if err != nil {
				return ListSecretsPageResponse{}, err
			}
			page := ListSecretsPageResponse{
				Secrets:  make([]SecretProperties, len(wire.Value)),
				nextLink: wire.NextLink,
			}
			for i, item := range wire.Value {
				page.Secrets[i] = item.toProperties()
			}
			return page, nil
		},
	})
}

// NewListDeletedSecretsPager pages over the vault's soft-deleted
// secrets.
func (c *Client) NewListDeletedSecretsPager(options *ListSecretsOptions) *azcore.Pager[ListDeletedSecretsPageResponse] {
	firstURL := c.listURL(options, "deletedsecrets")
	return azcore.NewPager(azcore.PagingHandler[ListDeletedSecretsPageResponse]{
		More: func(page ListDeletedSecretsPageResponse) bool {
			return page.nextLink != ""
		},
		Fetcher: func(ctx context.Context, current *ListDeletedSecretsPageResponse) (ListDeletedSecretsPageResponse, error) {
			pageURL := firstURL
			if current != nil {
				pageURL = current.nextLink
			}
			wire, err := c.fetchListPage(ctx, pageURL)
			if err != nil {
				return ListDeletedSecretsPageResponse{}, err
			}
			page := ListDeletedSecretsPageResponse{
				DeletedSecrets: make([]DeletedSecret, len(wire.Value)),
				nextLink:       wire.NextLink,
			}
			for i, item := range wire.Value {
				page.DeletedSecrets[i] = item.toDeletedSecret()
			}
			return page, nil
		},
	})
}
