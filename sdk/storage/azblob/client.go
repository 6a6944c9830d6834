package azblob

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

const (
	defaultServiceVersion = "2021-12-02"
	storageScope          = "https://storage.azure.com/.default"

	headerXMSDate    = "x-ms-date"
	headerXMSVersion = "x-ms-version"

	// blobs above the block size upload as staged blocks
	defaultBlockSize   = 4 * 1024 * 1024
	defaultConcurrency = 5
)

// ClientOptions configures Client.
type ClientOptions struct {
	azcore.ClientOptions
}

// Client talks to a storage account's blob service.
type Client struct {
	serviceURL string
	pl         azcore.Pipeline
}

func newClient(serviceURL string, authPolicy azcore.Policy, options *ClientOptions) *Client {
	if options == nil {
		options = &ClientOptions{}
	}
	serviceVersion := defaultServiceVersion
	if options.APIVersion != "" {
		serviceVersion = options.APIVersion
	}
	versionPolicy := azcore.PolicyFunc(func(req *azcore.Request) (*http.Response, error) {
		req.Raw().Header.Set(headerXMSVersion, serviceVersion)
		return req.Next()
	})
	pl := azcore.NewPipeline(moduleName, moduleVersion, azcore.PipelineOptions{
		PerCall:            []azcore.Policy{versionPolicy},
		PerRetry:           []azcore.Policy{authPolicy},
		AllowedHeaders:     []string{headerXMSVersion, "x-ms-blob-type", "x-ms-blob-content-type", "Range", "Content-Range", "Content-MD5"},
		AllowedQueryParams: []string{"restype", "comp", "prefix", "marker", "maxresults", "blockid"},
	}, &options.ClientOptions)
	return &Client{serviceURL: strings.TrimSuffix(serviceURL, "/"), pl: pl}
}

// NewClient creates a Client authenticating with a Microsoft Entra ID
// credential.
func NewClient(serviceURL string, credential azcore.TokenCredential, options *ClientOptions) (*Client, error) {
	if credential == nil {
		return nil, fmt.Errorf("credential is required")
	}
	auth := azcore.NewBearerTokenPolicy(credential, []string{storageScope}, nil)
	return newClient(serviceURL, auth, options), nil
}

// NewClientWithSharedKey creates a Client authenticating with the storage
// account key.
func NewClientWithSharedKey(serviceURL string, credential *SharedKeyCredential, options *ClientOptions) (*Client, error) {
	if credential == nil {
		return nil, fmt.Errorf("credential is required")
	}
	return newClient(serviceURL, &sharedKeyPolicy{cred: credential}, options), nil
}

func (c *Client) containerURL(container string, query url.Values) string {
	u := c.serviceURL + "/" + url.PathEscape(container)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// blobURL escapes the blob name segment by segment, so names containing
// slashes keep their virtual directory structure.
func (c *Client) blobURL(container, blob string, query url.Values) string {
	segments := strings.Split(blob, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := c.serviceURL + "/" + url.PathEscape(container) + "/" + strings.Join(segments, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// CreateContainerOptions configures CreateContainer.
type CreateContainerOptions struct{}

// CreateContainer creates a container. One that already exists yields
// azcore.ErrResourceExists.
func (c *Client) CreateContainer(ctx context.Context, container string, options *CreateContainerOptions) (CreateContainerResponse, error) {
	req, err := azcore.NewRequest(ctx, http.MethodPut, c.containerURL(container, url.Values{"restype": {"container"}}))
	if err != nil {
		return CreateContainerResponse{}, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return CreateContainerResponse{}, err
	}
	defer azcore.Drain(resp)
	if !azcore.HasStatusCode(resp, http.StatusCreated) {
		return CreateContainerResponse{}, azcore.NewResponseError(resp)
	}
	return CreateContainerResponse{ETag: azcore.ETag(resp.Header.Get("ETag"))}, nil
}

// DeleteContainerOptions configures DeleteContainer.
type DeleteContainerOptions struct{}

// DeleteContainer removes a container and everything in it. A missing
// container yields azcore.ErrResourceNotFound.
func (c *Client) DeleteContainer(ctx context.Context, container string, options *DeleteContainerOptions) error {
	req, err := azcore.NewRequest(ctx, http.MethodDelete, c.containerURL(container, url.Values{"restype": {"container"}}))
	if err != nil {
		return err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return err
	}
	defer azcore.Drain(resp)
	if !azcore.HasStatusCode(resp, http.StatusAccepted) {
		return azcore.NewResponseError(resp)
	}
	return nil
}

// UploadBufferOptions configures UploadBuffer.
type UploadBufferOptions struct {
	// BlockSize is the staged-block size for payloads too large for a
	// single request. Zero means 4 MiB.
	BlockSize int64

	// Concurrency caps the blocks in flight at once. Zero means 5.
	Concurrency int

	ContentType string

	// Metadata is stored with the blob and returned by GetBlobProperties.
	Metadata map[string]string
}

// UploadBuffer uploads data as a block blob: one Put Blob request when it
// fits the block size, concurrently staged blocks committed as a block
// list otherwise.
func (c *Client) UploadBuffer(ctx context.Context, container, blob string, data []byte, options *UploadBufferOptions) (UploadResponse, error) {
	if options == nil {
		options = &UploadBufferOptions{}
	}
	blockSize := options.BlockSize
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	if int64(len(data)) <= blockSize {
		return c.putBlob(ctx, container, blob, data, options)
	}
	return c.uploadBlocks(ctx, container, blob, data, blockSize, options)
}

func setMetadataHeaders(req *azcore.Request, metadata map[string]string) {
	for name, value := range metadata {
		req.Raw().Header.Set("x-ms-meta-"+name, value)
	}
}

func (c *Client) putBlob(ctx context.Context, container, blob string, data []byte, options *UploadBufferOptions) (UploadResponse, error) {
	req, err := azcore.NewRequest(ctx, http.MethodPut, c.blobURL(container, blob, nil))
	if err != nil {
		return UploadResponse{}, err
	}
	req.Raw().Header.Set("x-ms-blob-type", "BlockBlob")
	setMetadataHeaders(req, options.Metadata)
	contentType := options.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := req.SetBody(azcore.NopCloser(bytes.NewReader(data)), contentType); err != nil {
		return UploadResponse{}, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return UploadResponse{}, err
	}
	defer azcore.Drain(resp)
	if !azcore.HasStatusCode(resp, http.StatusCreated) {
		return UploadResponse{}, azcore.NewResponseError(resp)
	}
	return UploadResponse{ETag: azcore.ETag(resp.Header.Get("ETag"))}, nil
}

func (c *Client) uploadBlocks(ctx context.Context, container, blob string, data []byte, blockSize int64, options *UploadBufferOptions) (UploadResponse, error) {
	concurrency := options.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	numBlocks := int((int64(len(data)) + blockSize - 1) / blockSize)

	// block ids must be unique and equally sized within one blob
	base := uuid.NewString()
	ids := make([]string, numBlocks)
	for i := range ids {
		ids[i] = base64.StdEncoding.EncodeToString(fmt.Appendf(nil, "%s-%05d", base, i))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < numBlocks; i++ {
		i := i
		g.Go(func() error {
			start := int64(i) * blockSize
			end := min(start+blockSize, int64(len(data)))
			return c.stageBlock(gctx, container, blob, ids[i], data[start:end])
		})
	}
	if err := g.Wait(); err != nil {
		return UploadResponse{}, err
	}
	return c.commitBlockList(ctx, container, blob, ids, options)
}

func (c *Client) stageBlock(ctx context.Context, container, blob, blockID string, chunk []byte) error {
	query := url.Values{"comp": {"block"}, "blockid": {blockID}}
	req, err := azcore.NewRequest(ctx, http.MethodPut, c.blobURL(container, blob, query))
	if err != nil {
		return err
	}
	if err := req.SetBody(azcore.NopCloser(bytes.NewReader(chunk)), "application/octet-stream"); err != nil {
		return err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return err
	}
	defer azcore.Drain(resp)
	if !azcore.HasStatusCode(resp, http.StatusCreated) {
		return azcore.NewResponseError(resp)
	}
	return nil
}

func (c *Client) commitBlockList(ctx context.Context, container, blob string, blockIDs []string, options *UploadBufferOptions) (UploadResponse, error) {
	body, err := xml.Marshal(blockListXML{Latest: blockIDs})
	if err != nil {
		return UploadResponse{}, fmt.Errorf("failed to marshal block list: %w", err)
	}
	req, err := azcore.NewRequest(ctx, http.MethodPut, c.blobURL(container, blob, url.Values{"comp": {"blocklist"}}))
	if err != nil {
		return UploadResponse{}, err
	}
	if options.ContentType != "" {
		req.Raw().Header.Set("x-ms-blob-content-type", options.ContentType)
	}
	setMetadataHeaders(req, options.Metadata)
	if err := req.SetBody(azcore.NopCloser(bytes.NewReader(body)), "application/xml"); err != nil {
		return UploadResponse{}, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return UploadResponse{}, err
	}
	defer azcore.Drain(resp)
	if !azcore.HasStatusCode(resp, http.StatusCreated) {
		return UploadResponse{}, azcore.NewResponseError(resp)
	}
	return UploadResponse{ETag: azcore.ETag(resp.Header.Get("ETag"))}, nil
}

// DownloadStreamOptions configures DownloadStream.
type DownloadStreamOptions struct {
	Range *HTTPRange
}

// DownloadStream reads a blob, optionally a byte range of it. The body
// streams from the service; the caller must close it.
func (c *Client) DownloadStream(ctx context.Context, container, blob string, options *DownloadStreamOptions) (DownloadStreamResponse, error) {
	if options == nil {
		options = &DownloadStreamOptions{}
	}
	req, err := azcore.NewRequest(ctx, http.MethodGet, c.blobURL(container, blob, nil))
	if err != nil {
		return DownloadStreamResponse{}, err
	}
	if options.Range != nil {
		req.Raw().Header.Set("Range", options.Range.format())
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return DownloadStreamResponse{}, err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK, http.StatusPartialContent) {
		return DownloadStreamResponse{}, azcore.NewResponseError(resp)
	}
	return DownloadStreamResponse{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ContentRange:  resp.Header.Get("Content-Range"),
		ContentType:   resp.Header.Get("Content-Type"),
		ETag:          azcore.ETag(resp.Header.Get("ETag")),
		LastModified:  parseHTTPDate(resp.Header.Get("Last-Modified")),
	}, nil
}

// GetBlobPropertiesOptions configures GetBlobProperties.
type GetBlobPropertiesOptions struct{}

// GetBlobProperties reads a blob's system properties and metadata without
// transferring its content.
func (c *Client) GetBlobProperties(ctx context.Context, container, blob string, options *GetBlobPropertiesOptions) (BlobProperties, error) {
	req, err := azcore.NewRequest(ctx, http.MethodHead, c.blobURL(container, blob, nil))
	if err != nil {
		return BlobProperties{}, err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return BlobProperties{}, err
	}
	defer azcore.Drain(resp)
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return BlobProperties{}, azcore.NewResponseError(resp)
	}
	props := BlobProperties{
		ETag:          azcore.ETag(resp.Header.Get("ETag")),
		LastModified:  parseHTTPDate(resp.Header.Get("Last-Modified")),
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		BlobType:      resp.Header.Get("x-ms-blob-type"),
		Metadata:      map[string]string{},
	}
	if sum := resp.Header.Get("Content-MD5"); sum != "" {
		if decoded, err := base64.StdEncoding.DecodeString(sum); err == nil {
			props.ContentMD5 = decoded
		}
	}
	for name, values := range resp.Header {
		if after, ok := strings.CutPrefix(strings.ToLower(name), "x-ms-meta-"); ok && len(values) > 0 {
			props.Metadata[after] = values[0]
		}
	}
	return props, nil
}

// DeleteBlobOptions configures DeleteBlob.
type DeleteBlobOptions struct{}

// DeleteBlob removes a blob. A missing blob yields
// azcore.ErrResourceNotFound.
func (c *Client) DeleteBlob(ctx context.Context, container, blob string, options *DeleteBlobOptions) error {
	req, err := azcore.NewRequest(ctx, http.MethodDelete, c.blobURL(container, blob, nil))
	if err != nil {
		return err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return err
	}
	defer azcore.Drain(resp)
	if !azcore.HasStatusCode(resp, http.StatusAccepted) {
		return azcore.NewResponseError(resp)
	}
	return nil
}

// ListBlobsOptions configures NewListBlobsPager.
type ListBlobsOptions struct {
	// Prefix narrows the listing to blob names starting with it.
	Prefix *string

	// MaxResults caps the page size.
	MaxResults *int32
}

// NewListBlobsPager pages over a container's blobs in name order,
// following the continuation marker.
func (c *Client) NewListBlobsPager(container string, options *ListBlobsOptions) *azcore.Pager[ListBlobsPageResponse] {
	if options == nil {
		options = &ListBlobsOptions{}
	}
	return azcore.NewPager(azcore.PagingHandler[ListBlobsPageResponse]{
		More: func(page ListBlobsPageResponse) bool {
			return page.nextMarker != ""
		},
		Fetcher: func(ctx context.Context, current *ListBlobsPageResponse) (ListBlobsPageResponse, error) {
			query := url.Values{"restype": {"container"}, "comp": {"list"}}
			if options.Prefix != nil {
				query.Set("prefix", *options.Prefix)
			}
			if options.MaxResults != nil {
				query.Set("maxresults", strconv.FormatInt(int64(*options.MaxResults), 10))
			}
			if current != nil {
				query.Set("marker", current.nextMarker)
			}
			var wire listBlobsXML
			if err := c.fetchXML(ctx, c.containerURL(container, query), &wire); err != nil {
				return ListBlobsPageResponse{}, err
			}
			page := ListBlobsPageResponse{
				Prefix:     wire.Prefix,
				Blobs:      make([]BlobItem, len(wire.Blobs)),
				nextMarker: wire.NextMarker,
			}
			for i, item := range wire.Blobs {
				page.Blobs[i] = item.toItem()
			}
			return page, nil
		},
	})
}

// ListContainersOptions configures NewListContainersPager.
type ListContainersOptions struct {
	Prefix     *string
	MaxResults *int32
}

// NewListContainersPager pages over the account's containers in name
// order.
func (c *Client) NewListContainersPager(options *ListContainersOptions) *azcore.Pager[ListContainersPageResponse] {
	if options == nil {
		options = &ListContainersOptions{}
	}
	return azcore.NewPager(azcore.PagingHandler[ListContainersPageResponse]{
		More: func(page ListContainersPageResponse) bool {
			return page.nextMarker != ""
		},
		Fetcher: func(ctx context.Context, current *ListContainersPageResponse) (ListContainersPageResponse, error) {
			query := url.Values{"comp": {"list"}}
			if options.Prefix != nil {
				query.Set("prefix", *options.Prefix)
			}
			if options.MaxResults != nil {
				query.Set("maxresults", strconv.FormatInt(int64(*options.MaxResults), 10))
			}
			if current != nil {
				query.Set("marker", current.nextMarker)
			}
			var wire listContainersXML
			if err := c.fetchXML(ctx, c.serviceURL+"/?"+query.Encode(), &wire); err != nil {
				return ListContainersPageResponse{}, err
			}
			page := ListContainersPageResponse{
				Containers: make([]ContainerItem, len(wire.Containers)),
				nextMarker: wire.NextMarker,
			}
			for i, item := range wire.Containers {
				page.Containers[i] = item.toItem()
			}
			return page, nil
		},
	})
}

func (c *Client) fetchXML(ctx context.Context, u string, out any) error {
	req, err := azcore.NewRequest(ctx, http.MethodGet, u)
	if err != nil {
		return err
	}
	resp, err := c.pl.Do(req)
	if err != nil {
		return err
	}
	if !azcore.HasStatusCode(resp, http.StatusOK) {
		return azcore.NewResponseError(resp)
	}
	return azcore.UnmarshalAsXML(resp, out)
}
