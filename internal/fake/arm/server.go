// Package arm is an in-process stand-in for the Azure Resource Manager
// resource-group API: CRUD plus the asynchronous operations ARM answers
// with 202 and a Location header, so client pollers can be exercised
// deterministically.
package arm

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newAPIError(code, message string) apiError {
	var e apiError
	e.Error.Code = code
	e.Error.Message = message
	return e
}

type resourceGroup struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Location   string            `json:"location"`
	ManagedBy  *string           `json:"managedBy,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Properties struct {
		ProvisioningState string `json:"provisioningState"`
	} `json:"properties"`
}

// asyncOp is one pending 202 operation. Polls answer 202 until the
// configured count is consumed, then finish runs under the lock and its
// status and body are returned.
type asyncOp struct {
	remaining int
	finish    func() (int, any)
}

// Server holds the state. Create with NewServer.
type Server struct {
	mu          sync.Mutex
	groups      map[string]*resourceGroup
	ops         map[string]*asyncOp
	deletePolls int
	exportPolls int
}

// NewServer creates a fake ARM endpoint. Asynchronous operations answer
// one in-progress poll before finishing unless the poll counts are
// overridden.
func NewServer() *Server {
	return &Server{
		groups:      map[string]*resourceGroup{},
		ops:         map[string]*asyncOp{},
		deletePolls: 1,
		exportPolls: 1,
	}
}

// SetDeletePolls sets how many polls a resource group delete stays
// in progress. Zero finishes on the first poll.
func (s *Server) SetDeletePolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletePolls = n
}

// SetExportPolls sets how many polls a template export stays in
// progress.
func (s *Server) SetExportPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportPolls = n
}

// Handler returns the ARM routes behind bearer and api-version checks.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(s.authenticate)
	router.GET("/subscriptions/:sub/resourcegroups", s.listGroups)
	router.PUT("/subscriptions/:sub/resourcegroups/:name", s.putGroup)
	router.GET("/subscriptions/:sub/resourcegroups/:name", s.getGroup)
	router.HEAD("/subscriptions/:sub/resourcegroups/:name", s.headGroup)
	router.DELETE("/subscriptions/:sub/resourcegroups/:name", s.deleteGroup)
	router.POST("/subscriptions/:sub/resourcegroups/:name/exportTemplate", s.exportTemplate)
	router.GET("/subscriptions/:sub/operations/:op", s.getOperation)
	return router
}

func (s *Server) authenticate(c *gin.Context) {
	if !strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, newAPIError("AuthenticationFailed", "bearer token required"))
		return
	}
	if c.Query("api-version") == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, newAPIError("MissingApiVersionParameter", "api-version is required"))
		return
	}
	c.Next()
}

// groupKey is case-insensitive, matching ARM name handling.
func groupKey(sub, name string) string {
	return sub + "/" + strings.ToLower(name)
}

func (s *Server) baseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func (s *Server) putGroup(c *gin.Context) {
	var body struct {
		Location  string            `json:"location"`
		ManagedBy *string           `json:"managedBy"`
		Tags      map[string]string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, newAPIError("InvalidRequestContent", "invalid payload"))
		return
	}
	if body.Location == "" {
		c.JSON(http.StatusBadRequest, newAPIError("LocationRequired", "location is required"))
		return
	}
	sub, name := c.Param("sub"), c.Param("name")
	s.mu.Lock()
	defer s.mu.Unlock()
	key := groupKey(sub, name)
	status := http.StatusCreated
	if s.groups[key] != nil {
		status = http.StatusOK
	}
	rg := &resourceGroup{
		ID:        fmt.Sprintf("/subscriptions/%s/resourceGroups/%s", sub, name),
		Name:      name,
		Type:      "Microsoft.Resources/resourceGroups",
		Location:  body.Location,
		ManagedBy: body.ManagedBy,
		Tags:      body.Tags,
	}
	rg.Properties.ProvisioningState = "Succeeded"
	s.groups[key] = rg
	c.JSON(status, rg)
}

func (s *Server) findGroup(c *gin.Context) *resourceGroup {
	rg := s.groups[groupKey(c.Param("sub"), c.Param("name"))]
	if rg == nil {
		c.JSON(http.StatusNotFound, newAPIError("ResourceGroupNotFound",
			fmt.Sprintf("Resource group '%s' could not be found.", c.Param("name"))))
	}
	return rg
}

func (s *Server) getGroup(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rg := s.findGroup(c); rg != nil {
		c.JSON(http.StatusOK, rg)
	}
}

func (s *Server) headGroup(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[groupKey(c.Param("sub"), c.Param("name"))] == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

// startOperation registers an async op and answers 202 with an absolute
// Location the poller can follow. Callers hold s.mu.
func (s *Server) startOperation(c *gin.Context, polls int, finish func() (int, any)) {
	opID := uuid.NewString()
	s.ops[opID] = &asyncOp{remaining: polls, finish: finish}
	location := fmt.Sprintf("%s/subscriptions/%s/operations/%s?api-version=%s",
		s.baseURL(c), c.Param("sub"), opID, url.QueryEscape(c.Query("api-version")))
	c.Header("Location", location)
	c.Status(http.StatusAccepted)
}

func (s *Server) deleteGroup(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rg := s.findGroup(c)
	if rg == nil {
		return
	}
	rg.Properties.ProvisioningState = "Deleting"
	key := groupKey(c.Param("sub"), c.Param("name"))
	s.startOperation(c, s.deletePolls, func() (int, any) {
		delete(s.groups, key)
		return http.StatusOK, nil
	})
}

func (s *Server) exportTemplate(c *gin.Context) {
	var body struct {
		Resources []string `json:"resources"`
		Options   string   `json:"options"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, newAPIError("InvalidRequestContent", "invalid payload"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rg := s.findGroup(c)
	if rg == nil {
		return
	}
	name := rg.Name
	resources := slices.Clone(body.Resources)
	s.startOperation(c, s.exportPolls, func() (int, any) {
		return http.StatusOK, gin.H{
			"template": gin.H{
				"$schema":        "https://schema.management.azure.com/schemas/2019-04-01/deploymentTemplate.json#",
				"contentVersion": "1.0.0.0",
				"parameters":     gin.H{},
				"resources":      resources,
				"metadata":       gin.H{"resourceGroup": name},
			},
		}
	})
}

func (s *Server) getOperation(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := s.ops[c.Param("op")]
	if op == nil {
		c.JSON(http.StatusNotFound, newAPIError("OperationNotFound", "no operation found"))
		return
	}
	if op.remaining > 0 {
		op.remaining--
		c.Status(http.StatusAccepted)
		return
	}
	status, body := op.finish()
	if body == nil {
		c.Status(status)
		return
	}
	c.JSON(status, body)
}

var tagFilterRE = regexp.MustCompile(`^tagName eq '([^']*)' and tagValue eq '([^']*)'$`)

func (s *Server) listGroups(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tagName, tagValue string
	if filter := c.Query("$filter"); filter != "" {
		m := tagFilterRE.FindStringSubmatch(filter)
		if m == nil {
			c.JSON(http.StatusBadRequest, newAPIError("InvalidFilter", "unsupported $filter expression"))
			return
		}
		tagName, tagValue = m[1], m[2]
	}

	sub := c.Param("sub")
	var items []*resourceGroup
	for key, rg := range s.groups {
		if !strings.HasPrefix(key, sub+"/") {
			continue
		}
		if tagName != "" && rg.Tags[tagName] != tagValue {
			continue
		}
		items = append(items, rg)
	}
	slices.SortFunc(items, func(a, b *resourceGroup) int {
		return strings.Compare(a.Name, b.Name)
	})

	if token := c.Query("$skipToken"); token != "" {
		for i, rg := range items {
			if rg.Name == token {
				items = items[i+1:]
				break
			}
		}
	}
	pageSize := len(items)
	if top := c.Query("$top"); top != "" {
		if n, err := strconv.Atoi(top); err == nil && n > 0 {
			pageSize = n
		}
	}

	resp := gin.H{}
	if pageSize < len(items) {
		page := items[:pageSize]
		next := url.Values{}
		next.Set("api-version", c.Query("api-version"))
		next.Set("$skipToken", page[len(page)-1].Name)
		if top := c.Query("$top"); top != "" {
			next.Set("$top", top)
		}
		if filter := c.Query("$filter"); filter != "" {
			next.Set("$filter", filter)
		}
		resp["value"] = page
		resp["nextLink"] = fmt.Sprintf("%s/subscriptions/%s/resourcegroups?%s", s.baseURL(c), sub, next.Encode())
	} else {
		resp["value"] = items
	}
	c.JSON(http.StatusOK, resp)
}
