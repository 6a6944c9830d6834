// Package secrets is an in-process stand-in for the Azure Key Vault
// secrets API: versioned secrets, the soft-delete state machine and the
// bearer challenge handshake.
package secrets

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type attributes struct {
	Enabled *bool `json:"enabled,omitempty"`
	Created int64 `json:"created,omitempty"`
	Updated int64 `json:"updated,omitempty"`
}

type secretBundle struct {
	ID          string            `json:"id"`
	Value       string            `json:"value,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Attributes  attributes        `json:"attributes"`

	RecoveryID         string `json:"recoveryId,omitempty"`
	DeletedDate        int64  `json:"deletedDate,omitempty"`
	ScheduledPurgeDate int64  `json:"scheduledPurgeDate,omitempty"`
}

type secretVersion struct {
	version string
	bundle  secretBundle
}

type secret struct {
	versions []secretVersion

	// soft-delete bookkeeping: polls remaining until the state is visible
	deleted      bool
	deletePolls  int
	recoverPolls int
}

type kvError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newKVError(code, message string) kvError {
	var e kvError
	e.Error.Code = code
	e.Error.Message = message
	return e
}

// Server holds the vault state. Create with NewServer.
type Server struct {
	// Authority and Tenant form the WWW-Authenticate challenge. Point
	// Authority at a fake identity server to test the full handshake.
	Authority string
	Tenant    string
	// Resource is the audience announced in the challenge.
	Resource string
	// ExpectedToken, when set, is the only bearer token accepted.
	ExpectedToken string

	mu               sync.Mutex
	secrets          map[string]*secret
	propagationPolls int
}

// NewServer creates an empty vault issuing challenges for the given
// tenant.
func NewServer() *Server {
	return &Server{
		Authority:        "https://login.microsoftonline.com",
		Tenant:           "fake-tenant",
		Resource:         "https://vault.azure.net",
		secrets:          map[string]*secret{},
		propagationPolls: 2,
	}
}

// SetPropagationPolls sets how many polls delete and recover states take
// to become visible, imitating service-side propagation delay.
func (s *Server) SetPropagationPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.propagationPolls = n
}

// Handler returns the vault routes behind the challenge middleware.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(s.challenge)
	router.GET("/secrets", s.listSecrets)
	router.PUT("/secrets/:name", s.setSecret)
	router.GET("/secrets/:name", s.getSecret)
	router.GET("/secrets/:name/:version", s.getSecretVersion)
	router.DELETE("/secrets/:name", s.deleteSecret)
	router.GET("/deletedsecrets", s.listDeletedSecrets)
	router.GET("/deletedsecrets/:name", s.getDeletedSecret)
	router.POST("/deletedsecrets/:name/recover", s.recoverSecret)
	router.DELETE("/deletedsecrets/:name", s.purgeSecret)
	return router
}

// challenge performs the Key Vault handshake: unauthenticated requests
// get a 401 naming the authority and resource, authenticated ones pass.
func (s *Server) challenge(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		c.Header("WWW-Authenticate",
			fmt.Sprintf(`Bearer authorization="%s/%s", resource="%s"`, s.Authority, s.Tenant, s.Resource))
		c.AbortWithStatusJSON(http.StatusUnauthorized, newKVError("Unauthorized", "authentication required"))
		return
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || (s.ExpectedToken != "" && token != s.ExpectedToken) {
		c.AbortWithStatusJSON(http.StatusForbidden, newKVError("Forbidden", "invalid token"))
		return
	}
	c.Next()
}

func (s *Server) baseURL(c *gin.Context) string {
	return "http://" + c.Request.Host
}

func notFound(c *gin.Context, name string) {
	c.JSON(http.StatusNotFound, newKVError("SecretNotFound", fmt.Sprintf("a secret with name %s was not found", name)))
}

func (s *Server) setSecret(c *gin.Context) {
	var body struct {
		Value       string            `json:"value"`
		ContentType string            `json:"contentType"`
		Tags        map[string]string `json:"tags"`
		Attributes  attributes        `json:"attributes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, newKVError("BadParameter", "invalid payload"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	name := c.Param("name")
	sec := s.secrets[name]
	if sec == nil {
		sec = &secret{}
		s.secrets[name] = sec
	}
	if sec.deleted {
		c.JSON(http.StatusConflict, newKVError("Conflict", "secret is currently deleted"))
		return
	}
	now := time.Now().Unix()
	version := strings.ReplaceAll(uuid.NewString(), "-", "")
	bundle := secretBundle{
		ID:          fmt.Sprintf("%s/secrets/%s/%s", s.baseURL(c), name, version),
		Value:       body.Value,
		ContentType: body.ContentType,
		Tags:        body.Tags,
		Attributes:  attributes{Enabled: body.Attributes.Enabled, Created: now, Updated: now},
	}
	sec.versions = append(sec.versions, secretVersion{version: version, bundle: bundle})
	c.JSON(http.StatusOK, bundle)
}

// latest returns the newest version. Callers hold s.mu.
func (sec *secret) latest() *secretBundle {
	if len(sec.versions) == 0 {
		return nil
	}
	return &sec.versions[len(sec.versions)-1].bundle
}

func (s *Server) getSecret(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := c.Param("name")
	sec := s.secrets[name]
	if sec == nil || sec.latest() == nil {
		notFound(c, name)
		return
	}
	if sec.deleted {
		notFound(c, name)
		return
	}
	if sec.recoverPolls > 0 {
		// recovery still propagating
		sec.recoverPolls--
		notFound(c, name)
		return
	}
	c.JSON(http.StatusOK, sec.latest())
}

func (s *Server) getSecretVersion(c *gin.Context) {
	name := c.Param("name")
	version := c.Param("version")
	if version == "versions" {
		s.listSecretVersions(c)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sec := s.secrets[name]
	if sec == nil || sec.deleted {
		notFound(c, name)
		return
	}
	for _, v := range sec.versions {
		if v.version == version {
			c.JSON(http.StatusOK, v.bundle)
			return
		}
	}
	notFound(c, name)
}

func (s *Server) deleteSecret(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := c.Param("name")
	sec := s.secrets[name]
	if sec == nil || sec.deleted {
		notFound(c, name)
		return
	}
	sec.deleted = true
	sec.deletePolls = s.propagationPolls
	now := time.Now().Unix()
	bundle := *sec.latest()
	bundle.Value = ""
	bundle.RecoveryID = fmt.Sprintf("%s/deletedsecrets/%s", s.baseURL(c), name)
	bundle.DeletedDate = now
	bundle.ScheduledPurgeDate = now + 90*24*3600
	c.JSON(http.StatusOK, bundle)
}

func (s *Server) getDeletedSecret(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := c.Param("name")
	sec := s.secrets[name]
	if sec == nil || !sec.deleted {
		notFound(c, name)
		return
	}
	if sec.deletePolls > 0 {
		// deletion still propagating
		sec.deletePolls--
		notFound(c, name)
		return
	}
	bundle := *sec.latest()
	bundle.Value = ""
	bundle.RecoveryID = fmt.Sprintf("%s/deletedsecrets/%s", s.baseURL(c), name)
	c.JSON(http.StatusOK, bundle)
}

func (s *Server) recoverSecret(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := c.Param("name")
	sec := s.secrets[name]
	if sec == nil || !sec.deleted {
		notFound(c, name)
		return
	}
	sec.deleted = false
	sec.deletePolls = 0
	sec.recoverPolls = s.propagationPolls
	c.JSON(http.StatusOK, sec.latest())
}

func (s *Server) purgeSecret(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := c.Param("name")
	sec := s.secrets[name]
	if sec == nil || !sec.deleted {
		notFound(c, name)
		return
	}
	delete(s.secrets, name)
	c.Status(http.StatusNoContent)
}

type listPage struct {
	Value    []secretBundle `json:"value"`
	NextLink string         `json:"nextLink,omitempty"`
}

// paged returns one page of bundles sorted by ID, honoring $skiptoken and
// maxresults. Callers hold s.mu.
func paged(c *gin.Context, path string, items []secretBundle) listPage {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	start := 0
	if skip := c.Query("$skiptoken"); skip != "" {
		for i, it := range items {
			if it.ID == skip {
				start = i + 1
				break
			}
		}
	}
	pageSize := 25
	if mr := c.Query("maxresults"); mr != "" {
		fmt.Sscanf(mr, "%d", &pageSize)
	}
	end := min(start+pageSize, len(items))
	page := listPage{Value: items[start:end]}
	if end < len(items) {
		q := c.Request.URL.Query()
		q.Set("$skiptoken", items[end-1].ID)
		page.NextLink = "http://" + c.Request.Host + path + "?" + q.Encode()
	}
	return page
}

func (s *Server) listSecrets(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []secretBundle
	for name, sec := range s.secrets {
		if sec.deleted || sec.latest() == nil {
			continue
		}
		b := *sec.latest()
		// list items carry no value and an unversioned ID
		b.Value = ""
		b.ID = fmt.Sprintf("%s/secrets/%s", s.baseURL(c), name)
		items = append(items, b)
	}
	c.JSON(http.StatusOK, paged(c, "/secrets", items))
}

func (s *Server) listSecretVersions(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := c.Param("name")
	sec := s.secrets[name]
	if sec == nil || sec.deleted {
		notFound(c, name)
		return
	}
	var items []secretBundle
	for _, v := range sec.versions {
		b := v.bundle
		b.Value = ""
		items = append(items, b)
	}
	c.JSON(http.StatusOK, paged(c, fmt.Sprintf("/secrets/%s/versions", name), items))
}

func (s *Server) listDeletedSecrets(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []secretBundle
	for name, sec := range s.secrets {
		if !sec.deleted || sec.deletePolls > 0 || sec.latest() == nil {
			continue
		}
		b := *sec.latest()
		b.Value = ""
		b.ID = fmt.Sprintf("%s/secrets/%s", s.baseURL(c), name)
		b.RecoveryID = fmt.Sprintf("%s/deletedsecrets/%s", s.baseURL(c), name)
		items = append(items, b)
	}
	c.JSON(http.StatusOK, paged(c, "/deletedsecrets", items))
}
