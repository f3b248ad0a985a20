package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callmap-service/internal/callmap"

	"github.com/gin-gonic/gin"
)

func newTestRouter() (*gin.Engine, *callmap.MemoryRepo) {
	gin.SetMode(gin.TestMode)
	repo := callmap.NewMemoryRepo()
	h := Handlers{Mappings: callmap.NewService(repo, nil, nil)}

	r := gin.New()
	v1 := r.Group("/v1")
	{
		v1.POST("/mappings", h.CreateMapping)
		v1.GET("/mappings", h.ListMappings)
		v1.GET("/mappings/range", h.RangeMappings)
		v1.GET("/mappings/:id", h.GetMapping)
		v1.PATCH("/mappings/:id", h.PatchMapping)
		v1.DELETE("/mappings/:id", h.DeleteMapping)
		v1.PUT("/agents/:agent_id/endpoint", h.RegisterEndpoint)
		v1.DELETE("/endpoints/:key", h.CloseEndpoint)
		v1.POST("/calls/:call_id/assign", h.AssignCall)
		v1.POST("/calls/:call_id/complete", h.CompleteCall)
		v1.PUT("/calls/:call_id/transcript", h.AttachTranscript)
		v1.GET("/calls/:call_id/sock-url", h.SockURL)
	}
	return r, repo
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateMapping_RequiresSockURL(t *testing.T) {
	r, _ := newTestRouter()

	w := doJSON(t, r, http.MethodPost, "/v1/mappings", `{"agent_id":"a1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/v1/mappings", `{"agent_id":"a1","sock_url":"ws://h:1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var m callmap.Mapping
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.ID == "" || m.AgentStatus != callmap.StatusReady {
		t.Fatalf("unexpected mapping: %+v", m)
	}
}

func TestGetMapping(t *testing.T) {
	r, repo := newTestRouter()
	m, _ := repo.Create(context.Background(), callmap.Mapping{SockURL: "ws://h:1"})

	w := doJSON(t, r, http.MethodGet, "/v1/mappings/"+m.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/mappings/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListMappings_ByCallID(t *testing.T) {
	r, _ := newTestRouter()
	doJSON(t, r, http.MethodPost, "/v1/mappings", `{"call_id":"abc123","sock_url":"ws://h:1"}`)
	doJSON(t, r, http.MethodPost, "/v1/mappings", `{"call_id":"abc123","sock_url":"ws://h:2"}`)

	w := doJSON(t, r, http.MethodGet, "/v1/mappings?call_id=abc123", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Mappings []callmap.Mapping `json:"mappings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Mappings) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(resp.Mappings))
	}

	// Absent key is an empty list, not an error.
	w = doJSON(t, r, http.MethodGet, "/v1/mappings?call_id=absent", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for absent key, got %d", w.Code)
	}

	// Both or neither filter is a client error.
	w = doJSON(t, r, http.MethodGet, "/v1/mappings", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/v1/mappings?call_id=a&agent_id=b", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRangeMappings(t *testing.T) {
	r, repo := newTestRouter()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	step := time.Minute
	i := 0
	repo.Clock = func() time.Time {
		out := base.Add(time.Duration(i) * step)
		i++
		return out
	}
	for j := 0; j < 3; j++ {
		doJSON(t, r, http.MethodPost, "/v1/mappings", `{"sock_url":"ws://h:1"}`)
	}

	from := base.Format(time.RFC3339)
	to := base.Add(time.Minute).Format(time.RFC3339)
	w := doJSON(t, r, http.MethodGet, "/v1/mappings/range?field=created_at&from="+from+"&to="+to, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Mappings []callmap.Mapping `json:"mappings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Mappings) != 2 {
		t.Fatalf("expected 2 rows in inclusive range, got %d", len(resp.Mappings))
	}

	w = doJSON(t, r, http.MethodGet, "/v1/mappings/range?field=bogus&from="+from+"&to="+to, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad field, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/v1/mappings/range?from=notatime&to="+to, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timestamp, got %d", w.Code)
	}
}

func TestPatchMapping(t *testing.T) {
	r, _ := newTestRouter()
	w := doJSON(t, r, http.MethodPost, "/v1/mappings", `{"sock_url":"ws://h:1","call_id":"c1"}`)
	var m callmap.Mapping
	json.Unmarshal(w.Body.Bytes(), &m)

	w = doJSON(t, r, http.MethodPatch, "/v1/mappings/"+m.ID, `{"end_time":"2026-01-02T03:04:05Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got callmap.Mapping
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.EndTime == nil {
		t.Fatalf("end_time not set")
	}
	if got.CallID != "c1" || got.SockURL != "ws://h:1" {
		t.Fatalf("other columns changed: %+v", got)
	}

	w = doJSON(t, r, http.MethodPatch, "/v1/mappings/"+m.ID, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty patch, got %d", w.Code)
	}
}

func TestDeleteMapping(t *testing.T) {
	r, _ := newTestRouter()
	w := doJSON(t, r, http.MethodPost, "/v1/mappings", `{"sock_url":"ws://h:1"}`)
	var m callmap.Mapping
	json.Unmarshal(w.Body.Bytes(), &m)

	w = doJSON(t, r, http.MethodDelete, "/v1/mappings/"+m.ID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodDelete, "/v1/mappings/"+m.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestAssignCompleteTranscriptFlow(t *testing.T) {
	r, _ := newTestRouter()

	// No READY agent yet.
	w := doJSON(t, r, http.MethodPost, "/v1/calls/c1/assign", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPut, "/v1/agents/a1/endpoint", `{"sock_url":"ws://h:1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/v1/calls/c1/assign", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var a callmap.Assignment
	json.Unmarshal(w.Body.Bytes(), &a)
	if a.AgentID != "a1" || a.SockURL != "ws://h:1" {
		t.Fatalf("unexpected assignment: %+v", a)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/calls/c1/sock-url", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/v1/calls/c1/complete", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var compl struct {
		Updated int64 `json:"updated"`
	}
	json.Unmarshal(w.Body.Bytes(), &compl)
	if compl.Updated != 1 {
		t.Fatalf("expected 1 row completed, got %d", compl.Updated)
	}

	w = doJSON(t, r, http.MethodPut, "/v1/calls/c1/transcript", `{"text":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/mappings?call_id=c1", "")
	var resp struct {
		Mappings []callmap.Mapping `json:"mappings"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Mappings) != 1 || resp.Mappings[0].TranscribedText != "hello" {
		t.Fatalf("transcript missing: %+v", resp.Mappings)
	}
}

func TestRegisterEndpoint_Reuse(t *testing.T) {
	r, _ := newTestRouter()

	doJSON(t, r, http.MethodPut, "/v1/agents/a1/endpoint", `{"sock_url":"ws://h:1"}`)
	w := doJSON(t, r, http.MethodPut, "/v1/agents/a1/endpoint", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 reuse, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		SockURL string `json:"sock_url"`
		Reused  bool   `json:"reused"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Reused || resp.SockURL != "ws://h:1" {
		t.Fatalf("expected reused endpoint, got %+v", resp)
	}
}

func TestCloseEndpoint(t *testing.T) {
	r, _ := newTestRouter()
	doJSON(t, r, http.MethodPut, "/v1/agents/a1/endpoint", `{"sock_url":"ws://h:1"}`)

	w := doJSON(t, r, http.MethodDelete, "/v1/endpoints/a1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodDelete, "/v1/endpoints/a1", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when nothing left, got %d", w.Code)
	}
}
