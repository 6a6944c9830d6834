// Package appconfig is an in-process stand-in for the Azure App
// Configuration REST service: an in-memory key+label store with etags,
// read-only locks, revision history, paging and HMAC request
// verification.
package appconfig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Setting is the wire form of a configuration setting.
type Setting struct {
	Key          string            `json:"key"`
	Label        *string           `json:"label"`
	Value        *string           `json:"value"`
	ContentType  *string           `json:"content_type"`
	ETag         string            `json:"etag"`
	Tags         map[string]string `json:"tags"`
	Locked       bool              `json:"locked"`
	LastModified time.Time         `json:"last_modified"`
}

type settingPage struct {
	Items    []Setting `json:"items"`
	NextLink string    `json:"@nextLink,omitempty"`
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
}

// Server holds the store. Create with NewServer.
type Server struct {
	credential string
	secret     []byte
	pageSize   int

	mu         sync.Mutex
	settings   map[string]*Setting
	revisions  []Setting
	syncSeq    int
	syncTokens []string
}

// NewServer creates a fake store verifying requests signed with the given
// credential ID and base64-encoded secret.
func NewServer(credential, secret string) (*Server, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret: %w", err)
	}
	return &Server{
		credential: credential,
		secret:     key,
		pageSize:   100,
		settings:   map[string]*Setting{},
	}, nil
}

// SetPageSize lowers the list page size so tests can exercise paging.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// ReceivedSyncTokens returns every Sync-Token header value clients echoed
// back, in order.
func (s *Server) ReceivedSyncTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.syncTokens))
	copy(out, s.syncTokens)
	return out
}

// Handler returns the service routes behind HMAC verification.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(s.verifySignature)
	router.GET("/kv", s.listSettings)
	router.GET("/kv/:key", s.getSetting)
	router.PUT("/kv/:key", s.putSetting)
	router.DELETE("/kv/:key", s.deleteSetting)
	router.PUT("/locks/:key", s.lockSetting)
	router.DELETE("/locks/:key", s.unlockSetting)
	router.GET("/revisions", s.listRevisions)
	return router
}

// verifySignature recomputes the HMAC-SHA256 signature over
// method, path+query and the signed headers, and rejects mismatches.
func (s *Server) verifySignature(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	date := c.GetHeader("x-ms-date")
	contentHash := c.GetHeader("x-ms-content-sha256")
	if auth == "" || date == "" || contentHash == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, problem{Title: "missing signature headers", Status: http.StatusUnauthorized})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	c.Request.Body = io.NopCloser(strings.NewReader(string(body)))

	sum := sha256.Sum256(body)
	if base64.StdEncoding.EncodeToString(sum[:]) != contentHash {
		c.AbortWithStatusJSON(http.StatusUnauthorized, problem{Title: "content hash mismatch", Status: http.StatusUnauthorized})
		return
	}

	pathAndQuery := c.Request.URL.Path
	if c.Request.URL.RawQuery != "" {
		pathAndQuery += "?" + c.Request.URL.RawQuery
	}
	stringToSign := strings.Join([]string{
		c.Request.Method,
		pathAndQuery,
		date + ";" + c.Request.Host + ";" + contentHash,
	}, "\n")
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	expected := fmt.Sprintf("HMAC-SHA256 Credential=%s&SignedHeaders=x-ms-date;host;x-ms-content-sha256&Signature=%s",
		s.credential, signature)
	if auth != expected {
		c.AbortWithStatusJSON(http.StatusUnauthorized, problem{Title: "invalid signature", Status: http.StatusUnauthorized})
		return
	}

	if st := c.GetHeader("Sync-Token"); st != "" {
		s.mu.Lock()
		s.syncTokens = append(s.syncTokens, st)
		s.mu.Unlock()
	}
	c.Next()
}

func storeKey(key string, label *string) string {
	l := ""
	if label != nil {
		l = *label
	}
	return key + "\x00" + l
}

func labelParam(c *gin.Context) *string {
	l := c.Query("label")
	if l == "" || l == "\x00" {
		return nil
	}
	return &l
}

func (s *Server) emitSyncToken(c *gin.Context) {
	s.syncSeq++
	token := base64.StdEncoding.EncodeToString(fmt.Appendf(nil, "seq-%d", s.syncSeq))
	c.Header("Sync-Token", fmt.Sprintf("fake=%s;sn=%d", token, s.syncSeq))
}

func matchesFilter(value string, filter string) bool {
	switch {
	case filter == "" || filter == "*":
		return true
	case strings.HasSuffix(filter, "*"):
		return strings.HasPrefix(value, strings.TrimSuffix(filter, "*"))
	default:
		return value == filter
	}
}

func matchesLabelFilter(label *string, filter string) bool {
	if filter == "\x00" {
		return label == nil
	}
	l := ""
	if label != nil {
		l = *label
	}
	if filter == "" {
		return true
	}
	return matchesFilter(l, filter)
}

// find returns the stored setting or nil. Callers hold s.mu.
func (s *Server) find(key string, label *string) *Setting {
	return s.settings[storeKey(key, label)]
}

func etagMatches(header, etag string) bool {
	if header == "*" {
		return true
	}
	return strings.Trim(header, `"`) == etag
}

func (s *Server) getSetting(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.find(c.Param("key"), labelParam(c))
	if st == nil {
		c.JSON(http.StatusNotFound, problem{Type: "https://azconfig.io/errors/key-not-found", Title: "key not found", Status: http.StatusNotFound})
		return
	}
	if inm := c.GetHeader("If-None-Match"); inm != "" && etagMatches(inm, st.ETag) {
		c.Status(http.StatusNotModified)
		return
	}
	if im := c.GetHeader("If-Match"); im != "" && !etagMatches(im, st.ETag) {
		c.JSON(http.StatusPreconditionFailed, problem{Title: "etag mismatch", Status: http.StatusPreconditionFailed})
		return
	}
	s.emitSyncToken(c)
	c.Header("ETag", `"`+st.ETag+`"`)
	c.JSON(http.StatusOK, st)
}

func (s *Server) putSetting(c *gin.Context) {
	var body Setting
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, problem{Title: "invalid payload", Status: http.StatusBadRequest})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := c.Param("key")
	label := labelParam(c)
	existing := s.find(key, label)

	if existing != nil && existing.Locked {
		c.JSON(http.StatusConflict, problem{Type: "https://azconfig.io/errors/key-locked", Title: "setting is read only", Status: http.StatusConflict})
		return
	}
	if inm := c.GetHeader("If-None-Match"); inm != "" && existing != nil && etagMatches(inm, existing.ETag) {
		c.JSON(http.StatusPreconditionFailed, problem{Title: "setting already exists", Status: http.StatusPreconditionFailed})
		return
	}
	if im := c.GetHeader("If-Match"); im != "" {
		if existing == nil || !etagMatches(im, existing.ETag) {
			c.JSON(http.StatusPreconditionFailed, problem{Title: "etag mismatch", Status: http.StatusPreconditionFailed})
			return
		}
	}

	st := Setting{
		Key:          key,
		Label:        label,
		Value:        body.Value,
		ContentType:  body.ContentType,
		Tags:         body.Tags,
		ETag:         uuid.NewString(),
		LastModified: time.Now().UTC(),
	}
	s.settings[storeKey(key, label)] = &st
	s.revisions = append(s.revisions, st)

	s.emitSyncToken(c)
	c.Header("ETag", `"`+st.ETag+`"`)
	c.JSON(http.StatusOK, st)
}

func (s *Server) deleteSetting(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := c.Param("key")
	label := labelParam(c)
	st := s.find(key, label)
	if st == nil {
		c.Status(http.StatusNoContent)
		return
	}
	if st.Locked {
		c.JSON(http.StatusConflict, problem{Type: "https://azconfig.io/errors/key-locked", Title: "setting is read only", Status: http.StatusConflict})
		return
	}
	if im := c.GetHeader("If-Match"); im != "" && !etagMatches(im, st.ETag) {
		c.JSON(http.StatusPreconditionFailed, problem{Title: "etag mismatch", Status: http.StatusPreconditionFailed})
		return
	}
	delete(s.settings, storeKey(key, label))
	s.emitSyncToken(c)
	c.JSON(http.StatusOK, st)
}

func (s *Server) setLock(c *gin.Context, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.find(c.Param("key"), labelParam(c))
	if st == nil {
		c.JSON(http.StatusNotFound, problem{Type: "https://azconfig.io/errors/key-not-found", Title: "key not found", Status: http.StatusNotFound})
		return
	}
	st.Locked = locked
	st.LastModified = time.Now().UTC()
	s.emitSyncToken(c)
	c.Header("ETag", `"`+st.ETag+`"`)
	c.JSON(http.StatusOK, st)
}

func (s *Server) lockSetting(c *gin.Context)   { s.setLock(c, true) }
func (s *Server) unlockSetting(c *gin.Context) { s.setLock(c, false) }

// page slices items according to the after cursor and the page size, and
// builds the next link when more remain. Callers hold s.mu.
func (s *Server) page(c *gin.Context, path string, items []Setting) settingPage {
	after := c.Query("after")
	start := 0
	if after != "" {
		for i, st := range items {
			if storeKey(st.Key, st.Label)+st.ETag == after {
				start = i + 1
				break
			}
		}
	}
	end := min(start+s.pageSize, len(items))
	page := settingPage{Items: items[start:end]}
	if end < len(items) {
		last := items[end-1]
		q := c.Request.URL.Query()
		q.Set("after", storeKey(last.Key, last.Label)+last.ETag)
		page.NextLink = path + "?" + q.Encode()
	}
	return page
}

func (s *Server) listSettings(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keyFilter := c.Query("key")
	labelFilter := c.Query("label")

	var items []Setting
	for _, st := range s.settings {
		if matchesFilter(st.Key, keyFilter) && matchesLabelFilter(st.Label, labelFilter) {
			items = append(items, *st)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return storeKey(items[i].Key, items[i].Label) < storeKey(items[j].Key, items[j].Label)
	})
	s.emitSyncToken(c)
	c.JSON(http.StatusOK, s.page(c, "/kv", items))
}

func (s *Server) listRevisions(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keyFilter := c.Query("key")
	labelFilter := c.Query("label")

	var items []Setting
	// most recent first
	for i := len(s.revisions) - 1; i >= 0; i-- {
		st := s.revisions[i]
		if matchesFilter(st.Key, keyFilter) && matchesLabelFilter(st.Label, labelFilter) {
			items = append(items, st)
		}
	}
	s.emitSyncToken(c)
	c.JSON(http.StatusOK, s.page(c, "/revisions", items))
}
