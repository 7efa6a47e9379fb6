package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	appAudit "github.com/nestfind/nestfind/internal/application/audit"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
)

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := appAudit.QueryParams{}
	params.Page, params.PageSize = parsePage(r)

	if v := q.Get("entity_type"); v != "" {
		et := lifecycle.EntityType(v)
		params.EntityType = &et
	}
	if v := q.Get("entity_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid entity_id")
			return
		}
		params.EntityID = &id
	}
	if v := q.Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user_id")
			return
		}
		params.UserID = &id
	}
	if v := q.Get("action"); v != "" {
		params.Action = &v
	}

	page, err := s.auditSvc.Query(r.Context(), actorFromContext(r.Context()), params)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) verifyAudit(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "auditId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid audit id")
		return
	}
	res, err := s.auditSvc.Verify(r.Context(), actorFromContext(r.Context()), id)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
