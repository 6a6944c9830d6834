package armresources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

const (
	defaultEndpoint   = "https://management.azure.com"
	defaultAPIVersion = "2021-04-01"
	tokenScope        = "https://management.azure.com/.default"
)

// ClientOptions configures ResourceGroupsClient.
type ClientOptions struct {
	azcore.ClientOptions

	// Endpoint overrides the public Azure Resource Manager endpoint.
	Endpoint string
}

// ResourceGroupsClient manages the resource groups of one subscription.
type ResourceGroupsClient struct {
	subscriptionID string
	endpoint       string
	apiVersion     string
	pl             azcore.Pipeline
}

// NewResourceGroupsClient creates a ResourceGroupsClient authenticating
// with a Microsoft Entra ID credential.
func NewResourceGroupsClient(subscriptionID string, credential azcore.TokenCredential, options *ClientOptions) (*ResourceGroupsClient, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscriptionID is required")
	}
	if credential == nil {
		return nil, fmt.Errorf("credential is required")
	}
	if options == nil {
		options = &ClientOptions{}
	}
	endpoint := defaultEndpoint
	if options.Endpoint != "" {
		endpoint = strings.TrimSuffix(options.Endpoint, "/")
	}
	apiVersion := defaultAPIVersion
	if options.APIVersion != "" {
		apiVersion = options.APIVersion
	}
	auth := azcore.NewBearerTokenPolicy(credential, []string{tokenScope}, nil)
	pl := azcore.NewPipeline(moduleName, moduleVersion, azcore.PipelineOptions{
		PerRetry:           []azcore.Policy{auth},
		AllowedQueryParams: []string{"$filter", "$top", "$skipToken"},
	}, &options.ClientOptions)
	return &ResourceGroupsClient{
		subscriptionID: subscriptionID,
		endpoint:       endpoint,
		apiVersion:     apiVersion,
		pl:             pl,
	}, nil
}

func (c *ResourceGroupsClient) groupURL(name, suffix string) string {
	return fmt.Sprintf("%s/subscriptions/%s/resourcegroups/%s%s?api-version=%s",
		c.endpoint, url.PathEscape(c.subscriptionID), url.PathEscape(name), suffix, url.QueryEscape(c.apiVersion))
}

// CreateOrUpdateOptions configures CreateOrUpdate.
type CreateOrUpdateOptions struct{}

// CreateOrUpdate creates a resource group, or replaces the tags and
// managed-by binding of an existing one. Resource group creation
// completes synchronously.
func (c *ResourceGroupsClient) CreateOrUpdate(ctx context.Context, name string, parameters ResourceGroup, options *CreateOrUpdateOptions) (ResourceGroup, error) {
	req, err := azcore.NewRequest(ctx, http.MethodPut, c.groupURL(name, ""))
	if err != nil {
		return ResourceGroup{}, err
	}
	if err := req.MarshalAsJSON(parameters); err != nil {
		return ResourceGroup{}, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return ResourceGroup{}, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK, http.StatusCreated) {
		return ResourceGroup{}, azcore.NewResponseError(resp)
	}
	var rg ResourceGroup
	if err := azcore.UnmarshalAsJSON(resp, &rg); err != nil {
		return ResourceGroup{}, err
	}
	return rg, nil
}

// GetOptions configures Get.
type GetOptions struct{}

// Get retrieves a resource group. A missing group yields
// azcore.ErrResourceNotFound.
func (c *ResourceGroupsClient) Get(ctx context.Context, name string, options *GetOptions) (ResourceGroup, error) {
	req, err := azcore.NewRequest(ctx, http.MethodGet, c.groupURL(name, ""))
	if err != nil {
		return ResourceGroup{}, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return ResourceGroup{}, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return ResourceGroup{}, azcore.NewResponseError(resp)
	}
	var rg ResourceGroup
	if err := azcore.UnmarshalAsJSON(resp, &rg); err != nil {
		return ResourceGroup{}, err
	}
	return rg, nil
}

// CheckExistenceOptions configures CheckExistence.
type CheckExistenceOptions struct{}

// CheckExistence reports whether the resource group exists. A missing
// group is a false result, not an error.
func (c *ResourceGroupsClient) CheckExistence(ctx context.Context, name string, options *CheckExistenceOptions) (bool, error) {
	req, err := azcore.NewRequest(ctx, http.MethodHead, c.groupURL(name, ""))
	if err != nil {
		return false, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return false, err
	}
	defer azcore.Drain(resp)
	switch {
	case azcore.HasStatusCode(resp, http.StatusOK, http.StatusNoContent):
		return true, nil
	case azcore.HasStatusCode(resp, http.StatusNotFound):
		return false, nil
	default:
		return false, azcore.NewResponseError(resp)
	}
}

// BeginDeleteOptions configures BeginDelete.
type BeginDeleteOptions struct {
	// ResumeToken continues polling an operation started elsewhere
	// instead of issuing a new delete.
	ResumeToken string
}

// BeginDelete starts deleting a resource group and everything in it.
// The returned poller tracks the operation to completion.
func (c *ResourceGroupsClient) BeginDelete(ctx context.Context, name string, options *BeginDeleteOptions) (*azcore.Poller[DeleteResponse], error) {
	if options != nil && options.ResumeToken != "" {
		return azcore.NewPollerFromResumeToken[DeleteResponse](options.ResumeToken, c.pl)
	}
	req, err := azcore.NewRequest(ctx, http.MethodDelete, c.groupURL(name, ""))
	if err != nil {
		return nil, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return nil, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK, http.StatusAccepted, http.StatusNoContent) {
		return nil, azcore.NewResponseError(resp)
	}
	return azcore.NewPoller[DeleteResponse](resp, c.pl, nil)
}

// BeginExportTemplateOptions configures BeginExportTemplate.
type BeginExportTemplateOptions struct {
	// ResumeToken continues polling an operation started elsewhere
	// instead of issuing a new export.
	ResumeToken string
}

// BeginExportTemplate starts generating a deployment template capturing
// the requested resources of the group.
func (c *ResourceGroupsClient) BeginExportTemplate(ctx context.Context, name string, parameters ExportTemplateRequest, options *BeginExportTemplateOptions) (*azcore.Poller[ExportTemplateResult], error) {
	if options != nil && options.ResumeToken != "" {
		return azcore.NewPollerFromResumeToken[ExportTemplateResult](options.ResumeToken, c.pl)
	}
	req, err := azcore.NewRequest(ctx, http.MethodPost, c.groupURL(name, "/exportTemplate"))
	if err != nil {
		return nil, err
	}
	if err := req.MarshalAsJSON(parameters); err != nil {
		return nil, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return nil, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK, http.StatusAccepted) {
		return nil, azcore.NewResponseError(resp)
	}
	return azcore.NewPoller[ExportTemplateResult](resp, c.pl, nil)
}

// ListOptions configures NewListPager.
type ListOptions struct {
	// Filter narrows the listing by tag, e.g.
	// "tagName eq 'env' and tagValue eq 'prod'".
	Filter *string

	// Top caps how many groups each page carries.
	Top *int32
}

// NewListPager pages over the subscription's resource groups.
func (c *ResourceGroupsClient) NewListPager(options *ListOptions) *azcore.Pager[ListPageResponse] {
	if options == nil {
		options = &ListOptions{}
	}
	firstURL := fmt.Sprintf("%s/subscriptions/%s/resourcegroups?api-version=%s",
		c.endpoint, url.PathEscape(c.subscriptionID), url.QueryEscape(c.apiVersion))
	if options.Filter != nil {
		firstURL += "&$filter=" + url.QueryEscape(*options.Filter)
	}
	if options.Top != nil {
		firstURL += "&$top=" + strconv.FormatInt(int64(*options.Top), 10)
	}

	return azcore.NewPager(azcore.PagingHandler[ListPageResponse]{
		More: func(page ListPageResponse) bool {
			return page.nextLink != ""
		},
		Fetcher: func(ctx context.Context, current *ListPageResponse) (ListPageResponse, error) {
			pageURL := firstURL
			if current != nil {
				pageURL = current.nextLink
			}
			req, err := azcore.NewRequest(ctx, http.MethodGet, pageURL)
			if err != nil {
				return ListPageResponse{}, err
			}
			resp, err := c.pl.Do(req)
			if err != nil {
				return ListPageResponse{}, err
			}
			if !azcore.HasStatusCode(resp, http.StatusOK) {
				return ListPageResponse{}, azcore.NewResponseError(resp)
			}
			var wire resourceGroupListJSON
			if err := azcore.UnmarshalAsJSON(resp, &wire); err != nil {
				return ListPageResponse{}, err
			}
			return ListPageResponse{ResourceGroups: wire.Value, nextLink: wire.NextLink}, nil
		},
	})
}
