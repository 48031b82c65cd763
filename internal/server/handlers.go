package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/promptforge/internal/fetcher"
	"github.com/hyperjump/promptforge/internal/ingest"
	"github.com/hyperjump/promptforge/internal/job"
	"github.com/hyperjump/promptforge/internal/models"
	"github.com/hyperjump/promptforge/internal/rag"
	"github.com/hyperjump/promptforge/internal/refine"
	"github.com/hyperjump/promptforge/internal/session"
	"github.com/hyperjump/promptforge/internal/storage"
)

type runRequest struct {
	Mode        string `json:"mode"`
	TargetCount int    `json:"target_count"`
	CapToTarget bool   `json:"cap_to_target"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	mode, err := fetcher.ParseMode(req.Mode)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TargetCount <= 0 {
		req.TargetCount = s.config.Ingest.TargetCount
	}
	s.logger.Debug("run request", zap.String("mode", string(mode)), zap.Int("target", req.TargetCount))
	report, err := s.deps.Runner.Run(r.Context(), job.Request{Mode: mode, TargetCount: req.TargetCount, CapToTarget: req.CapToTarget})
	if errors.Is(err, job.ErrRunInProgress) {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("run failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetCursor(w http.ResponseWriter, r *http.Request) {
	var out *string
	if c := s.deps.Cursor.Load(r.Context()); c != "" {
		out = &c
	}
	s.respondJSON(w, http.StatusOK, map[string]*string{"cursor": out})
}

func (s *Server) handleClearCursor(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Cursor.Clear(r.Context()); err != nil {
		s.logger.Error("clear cursor failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type similarResponse struct {
	Results    []models.Example `json:"results"`
	Context    string           `json:"context"`
	Suggestion string           `json:"did_you_mean,omitempty"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var q models.SimilarQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := q.Validate(s.config.RAG.TopK); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.deps.Retrieval.Similar(r.Context(), q.Prompt, q.Category, q.Limit)
	if errors.Is(err, models.ErrEmptyQuery) || errors.Is(err, models.ErrEmptyCategory) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("similar failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := similarResponse{Results: results, Context: rag.Format(results, s.config.RAG.MaxContextChars)}
	if len(results) == 0 {
		resp.Suggestion = s.deps.Categories.Suggest(q.Category)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	allowed := s.deps.Categories.Snapshot()
	deleted, err := s.deps.Pipeline.Sweep(r.Context(), allowed)
	if errors.Is(err, ingest.ErrEmptyAllowList) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted, "categories": allowed})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := s.deps.Index.Count(ctx)
	if err != nil {
		s.logger.Error("status: count records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"records":        count,
		"categories":     s.deps.Categories.Snapshot(),
		"embedder_ready": s.deps.Embedder != nil && s.deps.Embedder.Ready(),
	}
	if c := s.deps.Cursor.Load(ctx); c != "" {
		resp["cursor"] = c
	}
	if s.deps.Seen != nil {
		if n, err := s.deps.Seen.Count(ctx); err == nil {
			resp["seen"] = n
		}
	}
	if id, started, ok := s.deps.Runner.Active(); ok {
		resp["active_run"] = map[string]interface{}{"run_id": id, "started_at": started}
	}
	if last := s.deps.Runner.Last(); last != nil {
		resp["last_run"] = last
	}

	configInfo := map[string]interface{}{
		"vector_type":          s.config.Vector.Type,
		"collection":           s.config.Vector.Collection,
		"embedding_type":       s.config.Embedding.Type,
		"embedding_model":      s.config.Embedding.ModelID,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"database_path":        s.config.Storage.DatabasePath,
	}
	paths := append(storage.DatabaseFiles(s.config.Storage.DatabasePath),
		s.config.Storage.HistoryIndexPath, s.config.Storage.SnapshotPath)
	if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	if s.deps.Refiner == nil {
		s.respondError(w, http.StatusNotImplemented, "refinement not enabled")
		return
	}
	var req refine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.deps.Refiner.Refine(r.Context(), req)
	switch {
	case errors.Is(err, models.ErrEmptyQuery), errors.Is(err, models.ErrEmptyCategory):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("refine failed", zap.Error(err))
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.respondJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Sessions.ListSessions(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []session.Session{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": list})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.CreateSession(r.Context())
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	ok, err := s.deps.Sessions.Exists(ctx, id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	msgs, err := s.deps.Sessions.Messages(ctx, id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pairs, err := s.deps.Sessions.PromptPairs(ctx, id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []session.Message{}
	}
	if pairs == nil {
		pairs = []session.PromptPair{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs, "prompt_pairs": pairs})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Sessions.ClearSession(r.Context(), id); err != nil {
		s.respondSessionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete session request", zap.String("id", id))
	if err := s.deps.Sessions.DeleteSession(r.Context(), id); err != nil {
		s.respondSessionError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 100)
	}
	pairs, err := s.deps.Sessions.SearchHistory(r.Context(), q, limit)
	if err != nil {
		s.logger.Error("history search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pairs == nil {
		pairs = []session.PromptPair{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": pairs})
}

func (s *Server) respondSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("session operation failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
