// Package blob is an in-process stand-in for the Azure Blob service:
// containers and block blobs in memory, shared key signature
// verification and the XML enumeration responses.
package blob

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type blobEntry struct {
	data         []byte
	contentType  string
	etag         string
	lastModified time.Time
	metadata     map[string]string

	// staged blocks awaiting a Put Block List
	blocks map[string][]byte
}

type container struct {
	etag         string
	lastModified time.Time
	blobs        map[string]*blobEntry
}

type storageError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// Server holds the account state. Create with NewServer.
type Server struct {
	account string
	key     []byte

	mu         sync.Mutex
	containers map[string]*container
}

// NewServer creates a fake account verifying shared key signatures made
// with the given base64-encoded account key.
func NewServer(accountName, accountKey string) (*Server, error) {
	key, err := base64.StdEncoding.DecodeString(accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode account key: %w", err)
	}
	return &Server{account: accountName, key: key, containers: map[string]*container{}}, nil
}

// Handler returns the service routes behind shared key verification.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(s.verifySignature)
	router.GET("/", s.listContainers)
	router.PUT("/:container", s.createContainer)
	router.GET("/:container", s.listBlobs)
	router.DELETE("/:container", s.deleteContainer)
	router.PUT("/:container/*blob", s.putBlob)
	router.GET("/:container/*blob", s.getBlob)
	router.HEAD("/:container/*blob", s.headBlob)
	router.DELETE("/:container/*blob", s.deleteBlob)
	return router
}

func xmlError(c *gin.Context, status int, code, message string) {
	c.Header("x-ms-error-code", code)
	c.XML(status, storageError{Code: code, Message: message})
}

// verifySignature reconstructs the shared key string-to-sign from the
// request and compares signatures. An independent implementation of the
// canonicalization keeps client signing honest.
func (s *Server) verifySignature(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	want := "SharedKey " + s.account + ":"
	if !strings.HasPrefix(auth, want) {
		xmlError(c, http.StatusForbidden, "AuthenticationFailed", "missing or malformed Authorization header")
		c.Abort()
		return
	}
	if c.GetHeader("x-ms-version") == "" {
		xmlError(c, http.StatusBadRequest, "MissingRequiredHeader", "x-ms-version is required")
		c.Abort()
		return
	}

	r := c.Request
	contentLength := ""
	if r.ContentLength > 0 {
		contentLength = strconv.FormatInt(r.ContentLength, 10)
	}
	stringToSign := strings.Join([]string{
		r.Method,
		r.Header.Get("Content-Encoding"),
		r.Header.Get("Content-Language"),
		contentLength,
		r.Header.Get("Content-MD5"),
		r.Header.Get("Content-Type"),
		r.Header.Get("Date"),
		r.Header.Get("If-Modified-Since"),
		r.Header.Get("If-Match"),
		r.Header.Get("If-None-Match"),
		r.Header.Get("If-Unmodified-Since"),
		r.Header.Get("Range"),
	}, "\n") + "\n" + canonicalizedHeaders(r) + s.canonicalizedResource(r)

	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if auth != want+signature {
		xmlError(c, http.StatusForbidden, "AuthenticationFailed",
			"signature did not match; check the string to sign")
		c.Abort()
		return
	}
	c.Next()
}

func canonicalizedHeaders(r *http.Request) string {
	var names []string
	for name := range r.Header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-ms-") {
			names = append(names, lower)
		}
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteString(":")
		sb.WriteString(strings.TrimSpace(r.Header.Get(name)))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (s *Server) canonicalizedResource(r *http.Request) string {
	var sb strings.Builder
	sb.WriteString("/")
	sb.WriteString(s.account)
	sb.WriteString(r.URL.EscapedPath())
	params := r.URL.Query()
	var names []string
	for name := range params {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	for _, name := range names {
		values := params[name]
		sort.Strings(values)
		sb.WriteString("\n")
		sb.WriteString(name)
		sb.WriteString(":")
		sb.WriteString(strings.Join(values, ","))
	}
	return sb.String()
}

func (s *Server) createContainer(c *gin.Context) {
	if c.Query("restype") != "container" {
		xmlError(c, http.StatusBadRequest, "InvalidQueryParameterValue", "expected restype=container")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := c.Param("container")
	if _, exists := s.containers[name]; exists {
		xmlError(c, http.StatusConflict, "ContainerAlreadyExists", "the specified container already exists")
		return
	}
	s.containers[name] = &container{
		etag:         uuid.NewString(),
		lastModified: time.Now().UTC(),
		blobs:        map[string]*blobEntry{},
	}
	c.Header("ETag", `"`+s.containers[name].etag+`"`)
	c.Status(http.StatusCreated)
}

func (s *Server) deleteContainer(c *gin.Context) {
	if c.Query("restype") != "container" {
		xmlError(c, http.StatusBadRequest, "InvalidQueryParameterValue", "expected restype=container")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := c.Param("container")
	if _, exists := s.containers[name]; !exists {
		xmlError(c, http.StatusNotFound, "ContainerNotFound", "the specified container does not exist")
		return
	}
	delete(s.containers, name)
	c.Status(http.StatusAccepted)
}

func blobName(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("blob"), "/")
}

func (s *Server) findBlob(c *gin.Context) (*container, *blobEntry, bool) {
	cont := s.containers[c.Param("container")]
	if cont == nil {
		xmlError(c, http.StatusNotFound, "ContainerNotFound", "the specified container does not exist")
		return nil, nil, false
	}
	b := cont.blobs[blobName(c)]
	return cont, b, true
}

func (s *Server) putBlob(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		xmlError(c, http.StatusBadRequest, "InvalidInput", "failed to read body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cont, b, ok := s.findBlob(c)
	if !ok {
		return
	}

	switch c.Query("comp") {
	case "block":
		blockID := c.Query("blockid")
		if blockID == "" {
			xmlError(c, http.StatusBadRequest, "MissingRequiredQueryParameter", "blockid is required")
			return
		}
		if b == nil {
			b = &blobEntry{blocks: map[string][]byte{}}
			cont.blobs[blobName(c)] = b
		}
		if b.blocks == nil {
			b.blocks = map[string][]byte{}
		}
		b.blocks[blockID] = body
		c.Status(http.StatusCreated)

	case "blocklist":
		var list struct {
			XMLName xml.Name `xml:"BlockList"`
			Latest  []string `xml:"Latest"`
		}
		if err := xml.Unmarshal(body, &list); err != nil {
			xmlError(c, http.StatusBadRequest, "InvalidXmlDocument", "failed to parse block list")
			return
		}
		if b == nil {
			xmlError(c, http.StatusBadRequest, "InvalidBlockList", "no blocks staged")
			return
		}
		var data []byte
		for _, id := range list.Latest {
			block, staged := b.blocks[id]
			if !staged {
				xmlError(c, http.StatusBadRequest, "InvalidBlockList", "block "+id+" was not staged")
				return
			}
			data = append(data, block...)
		}
		b.data = data
		b.blocks = map[string][]byte{}
		b.contentType = c.GetHeader("x-ms-blob-content-type")
		b.metadata = metadataFromRequest(c.Request)
		b.etag = uuid.NewString()
		b.lastModified = time.Now().UTC()
		c.Header("ETag", `"`+b.etag+`"`)
		c.Status(http.StatusCreated)

	case "":
		if c.GetHeader("x-ms-blob-type") != "BlockBlob" {
			xmlError(c, http.StatusBadRequest, "InvalidHeaderValue", "only block blobs are supported")
			return
		}
		cont.blobs[blobName(c)] = &blobEntry{
			data:         body,
			contentType:  c.ContentType(),
			metadata:     metadataFromRequest(c.Request),
			etag:         uuid.NewString(),
			lastModified: time.Now().UTC(),
		}
		c.Header("ETag", `"`+cont.blobs[blobName(c)].etag+`"`)
		c.Status(http.StatusCreated)

	default:
		xmlError(c, http.StatusBadRequest, "InvalidQueryParameterValue", "unsupported comp value")
	}
}

func (s *Server) getBlob(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, b, ok := s.findBlob(c)
	if !ok {
		return
	}
	if b == nil || b.data == nil && len(b.blocks) > 0 {
		xmlError(c, http.StatusNotFound, "BlobNotFound", "the specified blob does not exist")
		return
	}
	writeBlobHeaders(c, b)

	data := b.data
	if rng := c.GetHeader("Range"); rng != "" {
		start, end, err := parseRange(rng, int64(len(data)))
		if err != nil {
			xmlError(c, http.StatusRequestedRangeNotSatisfiable, "InvalidRange", err.Error())
			return
		}
		c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		c.Data(http.StatusPartialContent, b.contentType, data[start:end+1])
		return
	}
	c.Data(http.StatusOK, b.contentType, data)
}

func (s *Server) headBlob(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, b, ok := s.findBlob(c)
	if !ok {
		return
	}
	if b == nil {
		xmlError(c, http.StatusNotFound, "BlobNotFound", "the specified blob does not exist")
		return
	}
	writeBlobHeaders(c, b)
	sum := md5.Sum(b.data)
	c.Header("Content-MD5", base64.StdEncoding.EncodeToString(sum[:]))
	c.Header("Content-Length", strconv.Itoa(len(b.data)))
	c.Status(http.StatusOK)
}

// metadataFromRequest collects x-ms-meta-* headers. Names are lowercased;
// the HTTP layer already folded their case anyway.
func metadataFromRequest(r *http.Request) map[string]string {
	meta := map[string]string{}
	for name, values := range r.Header {
		if after, ok := strings.CutPrefix(strings.ToLower(name), "x-ms-meta-"); ok && len(values) > 0 {
			meta[after] = values[0]
		}
	}
	return meta
}

func writeBlobHeaders(c *gin.Context, b *blobEntry) {
	c.Header("ETag", `"`+b.etag+`"`)
	c.Header("Last-Modified", b.lastModified.Format(http.TimeFormat))
	c.Header("x-ms-blob-type", "BlockBlob")
	for name, value := range b.metadata {
		c.Header("x-ms-meta-"+name, value)
	}
	if b.contentType != "" {
		c.Header("Content-Type", b.contentType)
	}
}

func parseRange(rng string, size int64) (int64, int64, error) {
	var start, end int64
	end = size - 1
	if n, _ := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); n < 1 {
		return 0, 0, fmt.Errorf("unsupported range %q", rng)
	}
	if start < 0 || start >= size || end < start {
		return 0, 0, fmt.Errorf("range %q out of bounds", rng)
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}

func (s *Server) deleteBlob(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cont, b, ok := s.findBlob(c)
	if !ok {
		return
	}
	if b == nil {
		xmlError(c, http.StatusNotFound, "BlobNotFound", "the specified blob does not exist")
		return
	}
	delete(cont.blobs, blobName(c))
	c.Status(http.StatusAccepted)
}

type containerItem struct {
	Name       string `xml:"Name"`
	Properties struct {
		LastModified string `xml:"Last-Modified"`
		ETag         string `xml:"Etag"`
	} `xml:"Properties"`
}

type listContainersResponse struct {
	XMLName    xml.Name        `xml:"EnumerationResults"`
	Containers []containerItem `xml:"Containers>Container"`
	NextMarker string          `xml:"NextMarker"`
}

func (s *Server) listContainers(c *gin.Context) {
	if c.Query("comp") != "list" {
		xmlError(c, http.StatusBadRequest, "InvalidQueryParameterValue", "expected comp=list")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var names []string
	for name := range s.containers {
		if prefix := c.Query("prefix"); prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	names, next := applyMarker(names, c.Query("marker"), c.Query("maxresults"))

	resp := listContainersResponse{NextMarker: next}
	for _, name := range names {
		cont := s.containers[name]
		item := containerItem{Name: name}
		item.Properties.LastModified = cont.lastModified.Format(http.TimeFormat)
		item.Properties.ETag = `"` + cont.etag + `"`
		resp.Containers = append(resp.Containers, item)
	}
	c.XML(http.StatusOK, resp)
}

type blobItem struct {
	Name       string `xml:"Name"`
	Properties struct {
		LastModified  string `xml:"Last-Modified"`
		ETag          string `xml:"Etag"`
		ContentLength int64  `xml:"Content-Length"`
		ContentType   string `xml:"Content-Type"`
	} `xml:"Properties"`
}

type listBlobsResponse struct {
	XMLName    xml.Name   `xml:"EnumerationResults"`
	Prefix     string     `xml:"Prefix"`
	Blobs      []blobItem `xml:"Blobs>Blob"`
	NextMarker string     `xml:"NextMarker"`
}

func (s *Server) listBlobs(c *gin.Context) {
	if c.Query("restype") != "container" || c.Query("comp") != "list" {
		xmlError(c, http.StatusBadRequest, "InvalidQueryParameterValue", "expected restype=container&comp=list")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cont := s.containers[c.Param("container")]
	if cont == nil {
		xmlError(c, http.StatusNotFound, "ContainerNotFound", "the specified container does not exist")
		return
	}

	var names []string
	for name, b := range cont.blobs {
		if b.data == nil && len(b.blocks) > 0 {
			// uncommitted blocks only
			continue
		}
		if prefix := c.Query("prefix"); prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	names, next := applyMarker(names, c.Query("marker"), c.Query("maxresults"))

	resp := listBlobsResponse{Prefix: c.Query("prefix"), NextMarker: next}
	for _, name := range names {
		b := cont.blobs[name]
		item := blobItem{Name: name}
		item.Properties.LastModified = b.lastModified.Format(http.TimeFormat)
		item.Properties.ETag = `"` + b.etag + `"`
		item.Properties.ContentLength = int64(len(b.data))
		item.Properties.ContentType = b.contentType
		resp.Blobs = append(resp.Blobs, item)
	}
	c.XML(http.StatusOK, resp)
}

// applyMarker pages a sorted name list: marker is the name to resume
// after, maxresults caps the page.
func applyMarker(names []string, marker, maxresults string) (page []string, next string) {
	start := 0
	if marker != "" {
		for i, n := range names {
			if n > marker {
				start = i
				break
			}
			start = i + 1
		}
	}
	limit := 5000
	if maxresults != "" {
		if n, err := strconv.Atoi(maxresults); err == nil && n > 0 {
			limit = n
		}
	}
	end := min(start+limit, len(names))
	page = names[start:end]
	if end < len(names) {
		next = names[end-1]
	}
	return page, next
}
