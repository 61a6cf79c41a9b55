package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/foliodesk/be-folio-core/internal/errors"
	"github.com/foliodesk/be-folio-core/internal/logger"
	"github.com/foliodesk/be-folio-core/internal/repository"
	"github.com/foliodesk/be-folio-core/internal/service"
)

// NotificationLogReader reads the fan-out trail for one record.
type NotificationLogReader interface {
	ListByRecordCode(ctx context.Context, recordCode string) ([]*repository.NotificationLogEntry, error)
}

// QueryHandler serves the read-only reporting API. It never mutates workflow
// state; all writes go through the chat surface.
type QueryHandler struct {
	folios        *service.FolioService
	projects      *service.ProjectService
	notifications NotificationLogReader
	log           *logger.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(folios *service.FolioService, projects *service.ProjectService, notifications NotificationLogReader, log *logger.Logger) *QueryHandler {
	return &QueryHandler{folios: folios, projects: projects, notifications: notifications, log: log}
}

// ListFolios handles GET /folios with optional org_unit, category, status,
// project, from_date, to_date, limit and offset query parameters.
func (h *QueryHandler) ListFolios(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := repository.FolioFilter{}
	q := r.URL.Query()

	if v := q.Get("org_unit"); v != "" {
		filter.OrgUnit = &v
	}
	if v := q.Get("category"); v != "" {
		filter.Category = &v
	}
	if v := q.Get("status"); v != "" {
		status := repository.FolioStatus(v)
		filter.Status = &status
	}
	if v := q.Get("project"); v != "" {
		filter.ProjectCode = &v
	}
	if v := q.Get("from_date"); v != "" {
		date, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "from_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.FromDate = &date
	}
	if v := q.Get("to_date"); v != "" {
		date, err := time.Parse("2006-01-02", v)
		if err != nil {
			http.Error(w, "to_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		// Inclusive: the whole named day.
		end := date.Add(24*time.Hour - time.Nanosecond)
		filter.ToDate = &end
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	folios, err := h.folios.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folios": folios, "count": len(folios)})
}

// GetFolio handles GET /folios/get?code=F-YYYYMM-NNN.
func (h *QueryHandler) GetFolio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	folio, err := h.folios.Get(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folio)
}

// FolioHistory handles GET /folios/history?code=F-YYYYMM-NNN.
func (h *QueryHandler) FolioHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	entries, err := h.folios.History(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "history": entries})
}

// ListProjects handles GET /projects?org_unit=AT-15.
func (h *QueryHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgUnit := r.URL.Query().Get("org_unit")
	if orgUnit == "" {
		http.Error(w, "org_unit is required", http.StatusBadRequest)
		return
	}

	summaries, err := h.projects.ListByOrgUnit(r.Context(), orgUnit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": summaries, "count": len(summaries)})
}

// Notifications handles GET /notifications?code=F-YYYYMM-NNN: the delivery
// outcome of every fan-out attempt for one record, newest first.
func (h *QueryHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	entries, err := h.notifications.ListByRecordCode(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "notifications": entries})
}

// Health handles GET /healthz.
func (h *QueryHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *QueryHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.Code(err) {
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeValidation:
		status = http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case errors.ErrCodeConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("query: internal error")
	}
	writeJSON(w, status, map[string]string{"error": errors.Message(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
