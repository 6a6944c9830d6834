package azblob

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thand-io/azure-sdk/sdk/azcore"
)

// ContainerItem is one container in a listing.
type ContainerItem struct {
	Name         string
	ETag         azcore.ETag
	LastModified *time.Time
}

// BlobItem is one blob in a container listing.
type BlobItem struct {
	Name          string
	ETag          azcore.ETag
	LastModified  *time.Time
	ContentLength int64
	ContentType   string
}

// BlobProperties describes a blob without its content, as returned by
// GetBlobProperties. Metadata keys are lowercased.
type BlobProperties struct {
	ETag          azcore.ETag
	LastModified  *time.Time
	ContentLength int64
	ContentType   string
	ContentMD5    []byte
	BlobType      string
	Metadata      map[string]string
}

// HTTPRange selects a byte range of a blob. A zero Count means from
// Offset through the end.
type HTTPRange struct {
	Offset int64
	Count  int64
}

func (r HTTPRange) format() string {
	if r.Count == 0 {
		return fmt.Sprintf("bytes=%d-", r.Offset)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Count-1)
}

// CreateContainerResponse is returned by CreateContainer.
type CreateContainerResponse struct {
	ETag azcore.ETag
}

// UploadResponse is returned by UploadBuffer.
type UploadResponse struct {
	ETag azcore.ETag
}

// DownloadStreamResponse carries a blob's content stream and properties.
// The caller owns Body and must close it.
type DownloadStreamResponse struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentRange  string
	ContentType   string
	ETag          azcore.ETag
	LastModified  *time.Time
}

// ListBlobsPageResponse is one page of a container listing.
type ListBlobsPageResponse struct {
	Prefix string
	Blobs  []BlobItem

	nextMarker string
}

// ListContainersPageResponse is one page of an account's containers.
type ListContainersPageResponse struct {
	Containers []ContainerItem

	nextMarker string
}

// The enumeration wire format. The service dates are RFC 1123 strings
// converted on the way in.

type containerPropertiesXML struct {
	LastModified string `xml:"Last-Modified"`
	ETag         string `xml:"Etag"`
}

type containerItemXML struct {
	Name       string                 `xml:"Name"`
	Properties containerPropertiesXML `xml:"Properties"`
}

type listContainersXML struct {
	XMLName    xml.Name           `xml:"EnumerationResults"`
	Containers []containerItemXML `xml:"Containers>Container"`
	NextMarker string             `xml:"NextMarker"`
}

type blobPropertiesXML struct {
	LastModified  string `xml:"Last-Modified"`
	ETag          string `xml:"Etag"`
	ContentLength int64  `xml:"Content-Length"`
	ContentType   string `xml:"Content-Type"`
}

type blobItemXML struct {
	Name       string            `xml:"Name"`
	Properties blobPropertiesXML `xml:"Properties"`
}

type listBlobsXML struct {
	XMLName    xml.Name      `xml:"EnumerationResults"`
	Prefix     string        `xml:"Prefix"`
	Blobs      []blobItemXML `xml:"Blobs>Blob"`
	NextMarker string        `xml:"NextMarker"`
}

type blockListXML struct {
	XMLName xml.Name `xml:"BlockList"`
	Latest  []string `xml:"Latest"`
}

func parseHTTPDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(http.TimeFormat, s)
	if err != nil {
		return nil
	}
	return &t
}

func (x containerItemXML) toItem() ContainerItem {
	return ContainerItem{
		Name:         x.Name,
		ETag:         azcore.ETag(x.Properties.ETag),
		LastModified: parseHTTPDate(x.Properties.LastModified),
	}
}

func (x blobItemXML) toItem() BlobItem {
	return BlobItem{
		Name:          x.Name,
		ETag:          azcore.ETag(x.Properties.ETag),
		LastModified:  parseHTTPDate(x.Properties.LastModified),
		ContentLength: x.Properties.ContentLength,
		ContentType:   x.Properties.ContentType,
	}
}
