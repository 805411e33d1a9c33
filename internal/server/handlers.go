package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/conneroisu/helpdeck/internal/cache"
	"github.com/conneroisu/helpdeck/internal/errors"
	"github.com/conneroisu/helpdeck/internal/fingerprint"
	"github.com/conneroisu/helpdeck/internal/search"
	"github.com/conneroisu/helpdeck/internal/trigger"
	"github.com/conneroisu/helpdeck/internal/version"
)

// ArtifactRef points at a rendered artifact served by /artifacts/{key}.
type ArtifactRef struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Generation  uint64 `json:"generation"`
}

func refFor(a *cache.Artifact) *ArtifactRef {
	if a == nil {
		return nil
	}
	return &ArtifactRef{
		Key:         a.Key.String(),
		URL:         "/artifacts/" + a.Key.String(),
		ContentType: a.ContentType,
		Size:        a.Size,
		Generation:  a.Generation,
	}
}

// SearchResponse is the JSON form of GET /search?format=json.
type SearchResponse struct {
	Keyword    string          `json:"keyword"`
	Normalized string          `json:"normalized"`
	NotFound   bool            `json:"not_found"`
	Results    []search.Result `json:"results"`
	Text       string          `json:"text"`
	Generation uint64          `json:"generation"`
	Artifact   *ArtifactRef    `json:"artifact,omitempty"`
}

// MessageRequest is the body of POST /message.
type MessageRequest struct {
	Text string `json:"text"`
}

// MessageResponse answers a routed chat line.
type MessageResponse struct {
	Action   trigger.Action `json:"action"`
	Keyword  string         `json:"keyword,omitempty"`
	Text     string         `json:"text,omitempty"`
	Artifact *ArtifactRef   `json:"artifact,omitempty"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.service.Snapshot()
	health := map[string]interface{}{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"version":    version.GetShortVersion(),
		"build_info": version.GetBuildInfo(),
		"checks": map[string]interface{}{
			"content": map[string]interface{}{
				"status":     "healthy",
				"generation": snap.Generation,
				"digest":     snap.Model.Digest().String(),
			},
			"websocket": map[string]interface{}{
				"status":  "healthy",
				"clients": s.hub.Clients(),
			},
		},
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	a, err := s.service.FullMenu(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeArtifact(w, r, a)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	asJSON := r.URL.Query().Get("format") == "json"

	out, err := s.service.Search(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if asJSON {
		writeJSON(w, http.StatusOK, SearchResponse{
			Keyword:    out.Keyword,
			Normalized: out.Normalized,
			NotFound:   out.NotFound,
			Results:    out.Results,
			Text:       out.Text(),
			Generation: out.Generation,
			Artifact:   refFor(out.Artifact),
		})
		return
	}

	if out.NotFound {
		writeText(w, http.StatusNotFound, out.Text())
		return
	}
	writeArtifact(w, r, out.Artifact)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "json" {
		names := s.service.Categories()
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"categories": names})
		return
	}
	writeText(w, http.StatusOK, s.service.CategoryList())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Reload(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"generation":  result.Generation,
		"digest":      result.Digest.String(),
		"changed":     result.Changed,
		"invalidated": result.Invalidated,
		"pruned":      result.Pruned,
		"categories":  result.Categories,
		"plugins":     result.Plugins,
		"duration":    result.Duration.String(),
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBody)

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), errors.ErrCodeValidationFailed)
		return
	}

	reply, err := s.router.Handle(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if reply == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Action:   reply.Route.Action,
		Keyword:  reply.Route.Keyword,
		Text:     reply.Text,
		Artifact: refFor(reply.Artifact),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"service":   s.service.Stats(),
		"websocket": map[string]interface{}{"clients": s.hub.Clients()},
		"timestamp": time.Now().Unix(),
	}
	if s.limiter != nil {
		resp["rate_limit"] = s.limiter.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	key, err := fingerprint.ParseKey(r.PathValue("key"))
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid artifact key", errors.ErrCodeValidationFailed)
		return
	}
	a, ok := s.service.Artifact(r.Context(), key)
	if !ok {
		writeJSONError(w, r, http.StatusNotFound, "artifact not found", "")
		return
	}
	writeArtifact(w, r, a)
}

// writeArtifact serves a with its key as a strong ETag. Keys identify
// content, so clients may cache until the key changes.
func writeArtifact(w http.ResponseWriter, r *http.Request, a *cache.Artifact) {
	etag := `"` + a.Key.String() + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("X-Helpdeck-Key", a.Key.String())
	w.Header().Set("X-Helpdeck-Generation", fmt.Sprintf("%d", a.Generation))
	w.Header().Set("Cache-Control", "no-cache")

	if match := r.Header.Get("If-None-Match"); match != "" && strings.Contains(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(a.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, msg, code string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code, RequestID: RequestIDFrom(r.Context())})
}

// writeError maps service errors onto status codes and logs them.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	errors.NewErrorHandler(s.logger.With(
		"path", r.URL.Path,
		"request_id", RequestIDFrom(r.Context()),
	)).Handle(r.Context(), err)
	if errors.IsRecoverable(err) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSONError(w, r, statusFor(err), err.Error(), errors.CodeOf(err))
}

func statusFor(err error) int {
	switch {
	case errors.CodeOf(err) == errors.ErrCodeRenderTimeout:
		return http.StatusGatewayTimeout
	case errors.IsRenderError(err):
		return http.StatusBadGateway
	case errors.IsConfigError(err):
		return http.StatusUnprocessableEntity
	case errors.IsValidationError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
