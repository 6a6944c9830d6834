// Package identity is an in-process stand-in for the Microsoft Entra ID
// token endpoint and the IMDS metadata service, with just enough
// validation to exercise credential request serialization.
package identity

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// TokenRequest captures one token acquisition for assertions.
type TokenRequest struct {
	TenantID      string
	GrantType     string
	ClientID      string
	ClientSecret  string
	Assertion     string
	Scope         string
	Resource      string
	MetadataValue string
}

// Server issues canned tokens. The zero value is not usable, call NewServer.
type Server struct {
	token     string
	expiresIn int

	mu       sync.Mutex
	requests []TokenRequest
}

// NewServer creates a fake token service issuing the given token value.
func NewServer(token string) *Server {
	return &Server{token: token, expiresIn: 3600}
}

// Requests returns a copy of every token request received so far.
func (s *Server) Requests() []TokenRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TokenRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) record(r TokenRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r)
}

// Handler returns the routes: the AAD v2 token endpoint and the IMDS
// identity endpoint.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.POST("/:tenant/oauth2/v2.0/token", s.postToken)
	router.GET("/metadata/identity/oauth2/token", s.getIMDSToken)
	return router
}

func (s *Server) postToken(c *gin.Context) {
	req := TokenRequest{
		TenantID:     c.Param("tenant"),
		GrantType:    c.PostForm("grant_type"),
		ClientID:     c.PostForm("client_id"),
		ClientSecret: c.PostForm("client_secret"),
		Assertion:    c.PostForm("client_assertion"),
		Scope:        c.PostForm("scope"),
	}
	s.record(req)

	if req.GrantType != "client_credentials" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}
	if req.ClientID == "" || (req.ClientSecret == "" && req.Assertion == "") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": s.token,
		"token_type":   "Bearer",
		"expires_in":   s.expiresIn,
	})
}

func (s *Server) getIMDSToken(c *gin.Context) {
	if c.GetHeader("Metadata") != "true" {
		// IMDS rejects requests without the header to stop SSRF relays
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Required metadata header not specified"})
		return
	}
	resource := c.Query("resource")
	if resource == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "resource is required"})
		return
	}
	s.record(TokenRequest{
		GrantType:     "managed_identity",
		Resource:      resource,
		ClientID:      c.Query("client_id"),
		MetadataValue: c.GetHeader("Metadata"),
	})
	c.JSON(http.StatusOK, gin.H{
		"access_token": s.token,
		"expires_on":   fmt.Sprintf("%d", time.Now().Add(time.Duration(s.expiresIn)*time.Second).Unix()),
		"resource":     resource,
		"token_type":   "Bearer",
	})
}
