package appconfig

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

const defaultAPIVersion = "2023-10-01"

// ClientOptions configures Client.
type ClientOptions struct {
	azcore.ClientOptions
}

// Client talks to an App Configuration store.
type Client struct {
	endpoint   string
	apiVersion string
	pl         azcore.Pipeline
	syncTokens *syncTokenPolicy
}

func newClient(endpoint string, authPolicy azcore.Policy, options *ClientOptions) *Client {
	if options == nil {
		options = &ClientOptions{}
	}
	apiVersion := defaultAPIVersion
	if options.APIVersion != "" {
		apiVersion = options.APIVersion
	}
	syncTokens := newSyncTokenPolicy()
	pl := azcore.NewPipeline(moduleName, moduleVersion, azcore.PipelineOptions{
		PerCall:            []azcore.Policy{syncTokens},
		PerRetry:           []azcore.Policy{authPolicy},
		AllowedHeaders:     []string{"Sync-Token", "x-ms-content-sha256", "Accept-Datetime"},
		AllowedQueryParams: []string{"key", "label", "after", "$select"},
	}, &options.ClientOptions)
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiVersion: apiVersion,
		pl:         pl,
		syncTokens: syncTokens,
	}
}

// NewClient creates a Client authenticating with a Microsoft Entra ID
// credential.
func NewClient(endpoint string, credential azcore.TokenCredential, options *ClientOptions) (*Client, error) {
	if credential == nil {
		return nil, fmt.Errorf("credential is required")
	}
	scope := strings.TrimSuffix(endpoint, "/") + "/.default"
	auth := azcore.NewBearerTokenPolicy(credential, []string{scope}, nil)
	return newClient(endpoint, auth, options), nil
}

// NewClientFromConnectionString creates a Client from an
// "Endpoint=…;Id=…;Secret=…" connection string, authenticating with
// HMAC-SHA256 request signing.
func NewClientFromConnectionString(connectionString string, options *ClientOptions) (*Client, error) {
	endpoint, credential, secret, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	auth, err := newHMACAuthPolicy(credential, secret)
	if err != nil {
		return nil, err
	}
	return newClient(endpoint, auth, options), nil
}

// UpdateSyncToken seeds the client's consistency state with a token
// obtained elsewhere, such as an Event Grid notification.
func (c *Client) UpdateSyncToken(token string) {
	c.syncTokens.addToken(token)
}

func (c *Client) settingURL(path, key string, label *string) string {
	u := c.endpoint + path + "/" + url.PathEscape(key) + "?api-version=" + url.QueryEscape(c.apiVersion)
	if label != nil {
		u += "&label=" + url.QueryEscape(*label)
	}
	return u
}

func (c *Client) settingResponse(resp *http.Response) (Setting, error) {
	var wire settingJSON
	if err := azcore.UnmarshalAsJSON(resp, &wire); err != nil {
		return Setting{}, err
	}
	return wire.toSetting(), nil
}

// AddSettingOptions configures AddSetting.
type AddSettingOptions struct {
	Label       *string
	ContentType *string
	Tags        map[string]string
}

// AddSetting creates a setting that must not already exist. A setting
// with the same key and label yields azcore.ErrResourceExists.
func (c *Client) AddSetting(ctx context.Context, key string, value *string, options *AddSettingOptions) (Setting, error) {
	if options == nil {
		options = &AddSettingOptions{}
	}
	req, err := azcore.NewRequest(ctx, http.MethodPut, c.settingURL("/kv", key, options.Label))
	if err != nil {
		return Setting{}, err
	}
	req.Raw().Header.Set("If-None-Match", "*")
	body := settingJSON{Value: value, ContentType: options.ContentType, Tags: options.Tags}
	if err := req.MarshalAsJSON(body); err != nil {
		return Setting{}, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return Setting{}, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return Setting{}, azcore.NewResponseErrorWithMap(resp, map[int]error{
			http.StatusPreconditionFailed: azcore.ErrResourceExists,
		})
	}
	return c.settingResponse(resp)
}

// GetSettingOptions configures GetSetting.
type GetSettingOptions struct {
	Label *string

	// AcceptDatetime requests the setting as it was at a point in time.
	AcceptDatetime *time.Time

	// OnlyIfChanged makes the call conditional: when the stored revision
	// still matches, the service answers 304 and GetSetting returns
	// azcore.ErrResourceNotModified.
	OnlyIfChanged *azcore.ETag
}

// GetSetting retrieves a setting. A missing key yields
// azcore.ErrResourceNotFound.
func (c *Client) GetSetting(ctx context.Context, key string, options *GetSettingOptions) (Setting, error) {
	if options == nil {
		options = &GetSettingOptions{}
	}
	req, err := azcore.NewRequest(ctx, http.MethodGet, c.settingURL("/kv", key, options.Label))
	if err != nil {
		return Setting{}, err
	}
	if options.AcceptDatetime != nil {
		req.Raw().Header.Set("Accept-Datetime", options.AcceptDatetime.UTC().Format(http.TimeFormat))
	}
	if options.OnlyIfChanged != nil {
		req.Raw().Header.Set("If-None-Match", quoteETag(*options.OnlyIfChanged))
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return Setting{}, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return Setting{}, azcore.NewResponseError(resp)
	}
	return c.settingResponse(resp)
}

// SetSettingOptions configures SetSetting.
type SetSettingOptions struct {
	Label       *string
	ContentType *string
	Tags        map[string]string

	// OnlyIfUnchanged guards the write: a different stored revision
	// yields azcore.ErrResourceModified.
	OnlyIfUnchanged *azcore.ETag
}

// SetSetting creates or overwrites a setting. Writing a read-only
// setting yields azcore.ErrResourceReadOnly.
func (c *Client) SetSetting(ctx context.Context, key string, value *string, options *SetSettingOptions) (Setting, error) {
	if options == nil {
		options = &SetSettingOptions{}
	}
	req, err := azcore.NewRequest(ctx, http.MethodPut, c.settingURL("/kv", key, options.Label))
	if err != nil {
		return Setting{}, err
	}
	if options.OnlyIfUnchanged != nil {
		req.Raw().Header.Set("If-Match", quoteETag(*options.OnlyIfUnchanged))
	}
	body := settingJSON{Value: value, ContentType: options.ContentType, Tags: options.Tags}
	if err := req.MarshalAsJSON(body); err != nil {
		return Setting{}, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return Setting{}, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return Setting{}, azcore.NewResponseErrorWithMap(resp, map[int]error{
			http.StatusConflict:           azcore.ErrResourceReadOnly,
			http.StatusPreconditionFailed: azcore.ErrResourceModified,
		})
	}
	return c.settingResponse(resp)
}

// DeleteSettingOptions configures DeleteSetting.
type DeleteSettingOptions struct {
	Label *string

	// OnlyIfUnchanged guards the delete the same way it guards
	// SetSetting.
	OnlyIfUnchanged *azcore.ETag
}

// DeleteSetting removes a setting, returning its final state. Deleting a
// key that does not exist is a no-op returning a zero Setting.
func (c *Client) DeleteSetting(ctx context.Context, key string, options *DeleteSettingOptions) (Setting, error) {
	if options == nil {
		options = &DeleteSettingOptions{}
	}
	req, err := azcore.NewRequest(ctx, http.MethodDelete, c.settingURL("/kv", key, options.Label))
	if err != nil {
		return Setting{}, err
	}
	if options.OnlyIfUnchanged != nil {
		req.Raw().Header.Set("If-Match", quoteETag(*options.OnlyIfUnchanged))
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return Setting{}, err
	}
	switch {
	case azcore.HasStatusCode(resp, http.StatusOK):
		return c.settingResponse(resp)
	case azcore.HasStatusCode(resp, http.StatusNoContent):
		return Setting{}, nil
	default:
		return Setting{}, azcore.NewResponseErrorWithMap(resp, map[int]error{
			http.StatusConflict:           azcore.ErrResourceReadOnly,
			http.StatusPreconditionFailed: azcore.ErrResourceModified,
		})
	}
}

// SetReadOnlyOptions configures SetReadOnly.
type SetReadOnlyOptions struct {
	Label *string

	OnlyIfUnchanged *azcore.ETag
}

// SetReadOnly locks or unlocks a setting. Locked settings reject writes
// and deletes with azcore.ErrResourceReadOnly until unlocked.
func (c *Client) SetReadOnly(ctx context.Context, key string, readOnly bool, options *SetReadOnlyOptions) (Setting, error) {
	if options == nil {
		options = &SetReadOnlyOptions{}
	}
	method := http.MethodPut
	if !readOnly {
		method = http.MethodDelete
	}
	req, err := azcore.NewRequest(ctx, method, c.settingURL("/locks", key, options.Label))
	if err != nil {
		return Setting{}, err
	}
	if options.OnlyIfUnchanged != nil {
		req.Raw().Header.Set("If-Match", quoteETag(*options.OnlyIfUnchanged))
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return Setting{}, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return Setting{}, azcore.NewResponseErrorWithMap(resp, map[int]error{
			http.StatusPreconditionFailed: azcore.ErrResourceModified,
		})
	}
	return c.settingResponse(resp)
}

// ListSettingsOptions configures NewListSettingsPager and
// NewListRevisionsPager.
type ListSettingsOptions struct {
	// KeyFilter and LabelFilter narrow the listing. "*" is a wildcard,
	// a trailing "*" matches a prefix, and commas separate alternatives.
	KeyFilter   *string
	LabelFilter *string

	// AcceptDatetime lists settings as they were at a point in time.
	AcceptDatetime *time.Time

	// Fields limits which setting fields the service returns.
	Fields []SettingFields
}

// NewListSettingsPager pages over the settings matching the filters.
func (c *Client) NewListSettingsPager(options *ListSettingsOptions) *azcore.Pager[ListSettingsPageResponse] {
	return c.newSettingsPager("/kv", options)
}

// NewListRevisionsPager pages over revision history, newest first.
func (c *Client) NewListRevisionsPager(options *ListSettingsOptions) *azcore.Pager[ListSettingsPageResponse] {
	return c.newSettingsPager("/revisions", options)
}

func (c *Client) newSettingsPager(path string, options *ListSettingsOptions) *azcore.Pager[ListSettingsPageResponse] {
	if options == nil {
		options = &ListSettingsOptions{}
	}
	firstURL := c.endpoint + path + "?api-version=" + url.QueryEscape(c.apiVersion)
	if options.KeyFilter != nil {
		firstURL += "&key=" + url.QueryEscape(*options.KeyFilter)
	}
	if options.LabelFilter != nil {
		firstURL += "&label=" + url.QueryEscape(*options.LabelFilter)
	}
	if len(options.Fields) > 0 {
		fields := make([]string, len(options.Fields))
		for i, f := range options.Fields {
			fields[i] = string(f)
		}
		firstURL += "&$select=" + url.QueryEscape(strings.Join(fields, ","))
	}

	return azcore.NewPager(azcore.PagingHandler[ListSettingsPageResponse]{
		More: func(page ListSettingsPageResponse) bool {
			return page.nextLink != ""
		},
		Fetcher: func(ctx context.Context, current *ListSettingsPageResponse) (ListSettingsPageResponse, error) {
			pageURL := firstURL
			if current != nil {
				pageURL = c.resolveLink(current.nextLink)
			}
			req, err := azcore.NewRequest(ctx, http.MethodGet, pageURL)
			if err != nil {
				return ListSettingsPageResponse{}, err
			}
			if options.AcceptDatetime != nil {
				req.Raw().Header.Set("Accept-Datetime", options.AcceptDatetime.UTC().Format(http.TimeFormat))
			}
			resp, err := c.pl.Do(req)
			if err != nil {
				return ListSettingsPageResponse{}, err
			}
			if !azcore.HasStatusCode(resp, http.StatusOK) {
				return ListSettingsPageResponse{}, azcore.NewResponseError(resp)
			}
			var wire settingPage
			if err := azcore.UnmarshalAsJSON(resp, &wire); err != nil {
				return ListSettingsPageResponse{}, err
			}
			page := ListSettingsPageResponse{
				Settings:  make([]Setting, len(wire.Items)),
				SyncToken: resp.Header.Get("Sync-Token"),
			}
			for i, item := range wire.Items {
				page.Settings[i] = item.toSetting()
			}
			if wire.NextLink != nil {
				page.nextLink = *wire.NextLink
			}
			return page, nil
		},
	})
}

// resolveLink turns a server-relative continuation link into an absolute
// URL against the client endpoint.
func (c *Client) resolveLink(link string) string {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return c.endpoint + link
}

func quoteETag(etag azcore.ETag) string {
	s := string(etag)
	if s == string(azcore.ETagAny) || strings.HasPrefix(s, `"`) || strings.HasPrefix(s, `W/"`) {
		return s
	}
	return `"` + s + `"`
}
