// Package agents is an in-process stand-in for the Azure AI Agents API:
// assistants, threads, messages and runs with scripted status
// progressions so client polling loops can be exercised deterministically.
package agents

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

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

type assistant struct {
	ID           string `json:"id"`
	Object       string `json:"object"`
	CreatedAt    int64  `json:"created_at"`
	Model        string `json:"model"`
	Name         string `json:"name,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Tools        []any  `json:"tools"`
}

type thread struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`

	messages []message
}

type message struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`
	ThreadID  string `json:"thread_id"`
	Role      string `json:"role"`
	Content   []any  `json:"content"`
	RunID     string `json:"run_id,omitempty"`
}

func textContent(value string) []any {
	return []any{map[string]any{
		"type": "text",
		"text": map[string]any{"value": value, "annotations": []any{}},
	}}
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type runError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type requiredAction struct {
	Type              string `json:"type"`
	SubmitToolOutputs struct {
		ToolCalls []toolCall `json:"tool_calls"`
	} `json:"submit_tool_outputs"`
}

type run struct {
	ID             string          `json:"id"`
	Object         string          `json:"object"`
	CreatedAt      int64           `json:"created_at"`
	CompletedAt    int64           `json:"completed_at,omitempty"`
	ThreadID       string          `json:"thread_id"`
	AssistantID    string          `json:"assistant_id"`
	Status         string          `json:"status"`
	Model          string          `json:"model,omitempty"`
	LastError      *runError       `json:"last_error,omitempty"`
	RequiredAction *requiredAction `json:"required_action,omitempty"`

	script []string
	idx    int
}

// ToolOutput is one submitted tool result, kept for assertions.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// Server holds the state. Create with NewServer.
type Server struct {
	mu          sync.Mutex
	assistants  map[string]*assistant
	threads     map[string]*thread
	runs        map[string]*run
	script      []string
	toolName    string
	toolArgs    string
	toolOutputs []ToolOutput
	replyText   string
}

// NewServer creates a fake agents service. Runs progress
// queued, in_progress, completed unless ScriptRun overrides.
func NewServer() *Server {
	return &Server{
		assistants: map[string]*assistant{},
		threads:    map[string]*thread{},
		runs:       map[string]*run{},
		script:     []string{"queued", "in_progress", "completed"},
		toolName:   "get_weather",
		toolArgs:   `{"location":"Seattle"}`,
		replyText:  "All done.",
	}
}

// ScriptRun sets the status sequence for subsequently created runs. A
// requires_action entry holds until tool outputs are submitted.
func (s *Server) ScriptRun(statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = statuses
}

// SubmittedToolOutputs returns every tool output received so far.
func (s *Server) SubmittedToolOutputs() []ToolOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolOutput, len(s.toolOutputs))
	copy(out, s.toolOutputs)
	return out
}

// Handler returns the service routes behind bearer and api-version
// checks.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(s.authenticate)
	router.POST("/assistants", s.createAssistant)
	router.GET("/assistants/:id", s.getAssistant)
	router.DELETE("/assistants/:id", s.deleteAssistant)
	router.POST("/threads", s.createThread)
	router.GET("/threads/:thread", s.getThread)
	router.DELETE("/threads/:thread", s.deleteThread)
	router.POST("/threads/:thread/messages", s.createMessage)
	router.GET("/threads/:thread/messages", s.listMessages)
	router.POST("/threads/:thread/runs", s.createRun)
	router.GET("/threads/:thread/runs/:run", s.getRun)
	router.POST("/threads/:thread/runs/:run/cancel", s.cancelRun)
	router.POST("/threads/:thread/runs/:run/submit_tool_outputs", s.submitToolOutputs)
	return router
}

func (s *Server) authenticate(c *gin.Context) {
	if !strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, newAPIError("Unauthorized", "bearer token required"))
		return
	}
	if c.Query("api-version") == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, newAPIError("MissingApiVersionParameter", "api-version is required"))
		return
	}
	c.Next()
}

func (s *Server) createAssistant(c *gin.Context) {
	var body struct {
		Model        string `json:"model"`
		Name         string `json:"name"`
		Instructions string `json:"instructions"`
		Tools        []any  `json:"tools"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, newAPIError("BadRequest", "invalid payload"))
		return
	}
	if body.Model == "" {
		c.JSON(http.StatusBadRequest, newAPIError("BadRequest", "model is required"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &assistant{
		ID:           "asst_" + uuid.NewString(),
		Object:       "assistant",
		CreatedAt:    time.Now().Unix(),
		Model:        body.Model,
		Name:         body.Name,
		Instructions: body.Instructions,
		Tools:        body.Tools,
	}
	s.assistants[a.ID] = a
	c.JSON(http.StatusOK, a)
}

func (s *Server) getAssistant(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.assistants[c.Param("id")]
	if a == nil {
		c.JSON(http.StatusNotFound, newAPIError("NotFound", "no assistant found"))
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) deleteAssistant(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Param("id")
	if s.assistants[id] == nil {
		c.JSON(http.StatusNotFound, newAPIError("NotFound", "no assistant found"))
		return
	}
	delete(s.assistants, id)
	c.JSON(http.StatusOK, gin.H{"id": id, "object": "assistant.deleted", "deleted": true})
}

func (s *Server) createThread(c *gin.Context) {
	var body struct {
		Metadata map[string]string `json:"metadata"`
	}
	_ = c.ShouldBindJSON(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &thread{
		ID:        "thread_" + uuid.NewString(),
		Object:    "thread",
		CreatedAt: time.Now().Unix(),
		Metadata:  body.Metadata,
	}
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	s.threads[t.ID] = t
	c.JSON(http.StatusOK, t)
}

func (s *Server) findThread(c *gin.Context) *thread {
	t := s.threads[c.Param("thread")]
	if t == nil {
		c.JSON(http.StatusNotFound, newAPIError("NotFound", "no thread found"))
	}
	return t
}

func (s *Server) getThread(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.findThread(c); t != nil {
		c.JSON(http.StatusOK, t)
	}
}

func (s *Server) deleteThread(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findThread(c)
	if t == nil {
		return
	}
	delete(s.threads, t.ID)
	c.JSON(http.StatusOK, gin.H{"id": t.ID, "object": "thread.deleted", "deleted": true})
}

func (s *Server) createMessage(c *gin.Context) {
	var body struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, newAPIError("BadRequest", "invalid payload"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findThread(c)
	if t == nil {
		return
	}
	m := message{
		ID:        "msg_" + uuid.NewString(),
		Object:    "thread.message",
		CreatedAt: time.Now().Unix(),
		ThreadID:  t.ID,
		Role:      body.Role,
		Content:   textContent(body.Content),
	}
	t.messages = append(t.messages, m)
	c.JSON(http.StatusOK, m)
}

func (s *Server) listMessages(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findThread(c)
	if t == nil {
		return
	}

	items := slices.Clone(t.messages)
	if c.DefaultQuery("order", "desc") == "desc" {
		slices.Reverse(items)
	}
	start := 0
	if after := c.Query("after"); after != "" {
		for i, m := range items {
			if m.ID == after {
				start = i + 1
				break
			}
		}
	}
	limit := 20
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	end := min(start+limit, len(items))
	page := items[start:end]

	resp := gin.H{"object": "list", "data": page, "has_more": end < len(items)}
	if len(page) > 0 {
		resp["first_id"] = page[0].ID
		resp["last_id"] = page[len(page)-1].ID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) createRun(c *gin.Context) {
	var body struct {
		AssistantID string `json:"assistant_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.AssistantID == "" {
		c.JSON(http.StatusBadRequest, newAPIError("BadRequest", "assistant_id is required"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findThread(c)
	if t == nil {
		return
	}
	r := &run{
		ID:          "run_" + uuid.NewString(),
		Object:      "thread.run",
		CreatedAt:   time.Now().Unix(),
		ThreadID:    t.ID,
		AssistantID: body.AssistantID,
		script:      slices.Clone(s.script),
	}
	if a := s.assistants[body.AssistantID]; a != nil {
		r.Model = a.Model
	}
	s.applyStatus(r)
	s.runs[r.ID] = r
	c.JSON(http.StatusOK, r)
}

// applyStatus projects script[idx] onto the run object. Callers hold
// s.mu.
func (s *Server) applyStatus(r *run) {
	if r.idx >= len(r.script) {
		r.idx = len(r.script) - 1
	}
	r.Status = r.script[r.idx]
	r.RequiredAction = nil
	r.LastError = nil
	switch r.Status {
	case "requires_action":
		var tc toolCall
		tc.ID = "call_" + uuid.NewString()
		tc.Type = "function"
		tc.Function.Name = s.toolName
		tc.Function.Arguments = s.toolArgs
		ra := &requiredAction{Type: "submit_tool_outputs"}
		ra.SubmitToolOutputs.ToolCalls = []toolCall{tc}
		r.RequiredAction = ra
	case "failed":
		r.LastError = &runError{Code: "server_error", Message: "the run failed"}
	case "completed":
		if t := s.threads[r.ThreadID]; t != nil {
			t.messages = append(t.messages, message{
				ID:        "msg_" + uuid.NewString(),
				Object:    "thread.message",
				CreatedAt: time.Now().Unix(),
				ThreadID:  r.ThreadID,
				Role:      "assistant",
				Content:   textContent(s.replyText),
				RunID:     r.ID,
			})
		}
	}
	if terminal(r.Status) {
		if r.CompletedAt == 0 {
			r.CompletedAt = time.Now().Unix()
		}
	} else {
		r.CompletedAt = 0
	}
}

func terminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled", "expired":
		return true
	}
	return false
}

func (s *Server) findRun(c *gin.Context) *run {
	r := s.runs[c.Param("run")]
	if r == nil || r.ThreadID != c.Param("thread") {
		c.JSON(http.StatusNotFound, newAPIError("NotFound", "no run found"))
		return nil
	}
	return r
}

func (s *Server) getRun(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.findRun(c)
	if r == nil {
		return
	}
	// each poll advances the script; requires_action holds for outputs
	if !terminal(r.Status) && r.Status != "requires_action" && r.idx < len(r.script)-1 {
		r.idx++
		s.applyStatus(r)
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) cancelRun(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.findRun(c)
	if r == nil {
		return
	}
	if terminal(r.Status) {
		c.JSON(http.StatusBadRequest, newAPIError("BadRequest", fmt.Sprintf("cannot cancel a run with status %s", r.Status)))
		return
	}
	r.script = []string{"cancelled"}
	r.idx = 0
	s.applyStatus(r)
	c.JSON(http.StatusOK, r)
}

func (s *Server) submitToolOutputs(c *gin.Context) {
	var body struct {
		ToolOutputs []ToolOutput `json:"tool_outputs"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.ToolOutputs) == 0 {
		c.JSON(http.StatusBadRequest, newAPIError("BadRequest", "tool_outputs are required"))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.findRun(c)
	if r == nil {
		return
	}
	if r.Status != "requires_action" {
		c.JSON(http.StatusBadRequest, newAPIError("BadRequest", "run is not waiting for tool outputs"))
		return
	}
	s.toolOutputs = append(s.toolOutputs, body.ToolOutputs...)
	if r.idx < len(r.script)-1 {
		r.idx++
	}
	s.applyStatus(r)
	c.JSON(http.StatusOK, r)
}
