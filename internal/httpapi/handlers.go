package httpapi

import (
	"errors"
	"net/http"
	"time"

	"callmap-service/internal/callmap"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the mapping service, return JSON.
type Handlers struct {
	Mappings *callmap.Service
}

// status translates service errors into HTTP codes.
func status(err error) int {
	switch {
	case errors.Is(err, callmap.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, callmap.ErrInvalidArgument),
		errors.Is(err, callmap.ErrConstraintViolation):
		return http.StatusBadRequest
	case errors.Is(err, callmap.ErrDuplicateKey):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortErr(c *gin.Context, err error) {
	c.AbortWithStatusJSON(status(err), gin.H{"error": err.Error()})
}

// --- Mappings ---

func (h Handlers) CreateMapping(c *gin.Context) {
	var req callmap.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	m, err := h.Mappings.Create(c.Request.Context(), req)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h Handlers) GetMapping(c *gin.Context) {
	m, err := h.Mappings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// ListMappings serves the indexed lookups: exactly one of call_id or
// agent_id must be given. An absent key yields an empty list, never 404.
func (h Handlers) ListMappings(c *gin.Context) {
	callID := c.Query("call_id")
	agentID := c.Query("agent_id")
	if (callID == "") == (agentID == "") {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "exactly one of call_id or agent_id is required"})
		return
	}

	var (
		rows []callmap.Mapping
		err  error
	)
	if callID != "" {
		rows, err = h.Mappings.ByCall(c.Request.Context(), callID)
	} else {
		rows, err = h.Mappings.ByAgent(c.Request.Context(), agentID)
	}
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": rows})
}

// RangeMappings serves time-bounded scans over created_at or updated_at.
func (h Handlers) RangeMappings(c *gin.Context) {
	field := c.DefaultQuery("field", "created_at")
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC3339 timestamps"})
		return
	}

	var (
		rows []callmap.Mapping
		err  error
	)
	switch field {
	case "created_at":
		rows, err = h.Mappings.CreatedBetween(c.Request.Context(), from, to)
	case "updated_at":
		rows, err = h.Mappings.UpdatedBetween(c.Request.Context(), from, to)
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "field must be created_at or updated_at"})
		return
	}
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": rows})
}

type patchMappingRequest struct {
	AgentStatus     *string    `json:"agent_status,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	TranscribedText *string    `json:"transcribed_text,omitempty"`
}

func (h Handlers) PatchMapping(c *gin.Context) {
	var req patchMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	u := callmap.Update{
		AgentStatus:     req.AgentStatus,
		EndTime:         req.EndTime,
		TranscribedText: req.TranscribedText,
	}
	if u.Empty() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}
	m, err := h.Mappings.Apply(c.Request.Context(), c.Param("id"), u)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h Handlers) DeleteMapping(c *gin.Context) {
	if err := h.Mappings.Delete(c.Request.Context(), c.Param("id")); err != nil {
		abortErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Agent endpoints ---

type registerEndpointRequest struct {
	SockURL string `json:"sock_url"`
}

// RegisterEndpoint is the agent init flow: reuse a live endpoint if one
// exists, otherwise record the supplied one as a fresh READY mapping.
func (h Handlers) RegisterEndpoint(c *gin.Context) {
	var req registerEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	url, reused, err := h.Mappings.RegisterEndpoint(c.Request.Context(), c.Param("agent_id"), req.SockURL)
	if err != nil {
		abortErr(c, err)
		return
	}
	code := http.StatusCreated
	if reused {
		code = http.StatusOK
	}
	c.JSON(code, gin.H{"sock_url": url, "reused": reused})
}

// CloseEndpoint drops the newest mapping for an agent_id or call_id and
// reports which endpoint went away.
func (h Handlers) CloseEndpoint(c *gin.Context) {
	url, err := h.Mappings.CloseEndpoint(c.Request.Context(), c.Param("key"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sock_url": url})
}

// --- Calls ---

func (h Handlers) AssignCall(c *gin.Context) {
	a, err := h.Mappings.AssignCall(c.Request.Context(), c.Param("call_id"))
	if errors.Is(err, callmap.ErrNotFound) {
		// Not a missing resource: there is simply no READY agent right now.
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no READY agent available"})
		return
	}
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) CompleteCall(c *gin.Context) {
	n, err := h.Mappings.CompleteCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

type attachTranscriptRequest struct {
	Text string `json:"text"`
}

func (h Handlers) AttachTranscript(c *gin.Context) {
	var req attachTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	n, err := h.Mappings.AttachTranscript(c.Request.Context(), c.Param("call_id"), req.Text)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h Handlers) SockURL(c *gin.Context) {
	url, err := h.Mappings.SockURLForCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sock_url": url})
}
