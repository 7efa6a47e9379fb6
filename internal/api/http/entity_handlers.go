package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nestfind/nestfind/internal/application/orchestrator"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/property"
)

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	et, ok := entityKindParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown entity kind")
		return
	}
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
		return
	}
	snap, err := s.orch.Get(r.Context(), actorFromContext(r.Context()), et, id)
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(snap.Version))
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) fireTrigger(w http.ResponseWriter, r *http.Request) {
	et, ok := entityKindParam(r)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown entity kind")
		return
	}
	id, err := parseUUIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
		return
	}
	expected, err := parseIfMatch(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "If-Match must carry an entity version")
		return
	}
	payload, err := readPayload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	res, err := s.orch.Execute(r.Context(), orchestrator.Command{
		EntityType:      et,
		EntityID:        id,
		Trigger:         lifecycle.Trigger(chi.URLParam(r, "trigger")),
		Actor:           actorFromContext(r.Context()),
		Payload:         payload,
		ExpectedVersion: expected,
	})
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	s.deliver(r, res.Outbox)

	w.Header().Set("ETag", etag(res.Version))
	respondJSON(w, http.StatusOK, res)
}

// deliver hands committed side effects to the notifier. The mutation has
// already succeeded, so failures are logged only.
func (s *Server) deliver(r *http.Request, msgs []orchestrator.Message) {
	if len(msgs) == 0 {
		return
	}
	if err := s.notifier.Deliver(r.Context(), msgs); err != nil {
		s.logger.Error().Err(err).Int("messages", len(msgs)).Msg("outbox delivery failed")
	}
}

func (s *Server) createProperty(w http.ResponseWriter, r *http.Request) {
	var req property.Draft
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	snap, err := s.orch.CreateProperty(r.Context(), actorFromContext(r.Context()), req)
	s.respondCreated(w, r, snap, err)
}

func (s *Server) requestVisit(w http.ResponseWriter, r *http.Request) {
	propertyID, err := parseUUIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid property id")
		return
	}
	var req orchestrator.VisitRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	snap, err := s.orch.RequestVisit(r.Context(), actorFromContext(r.Context()), propertyID, req)
	s.respondCreated(w, r, snap, err)
}

func (s *Server) submitOffer(w http.ResponseWriter, r *http.Request) {
	propertyID, err := parseUUIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid property id")
		return
	}
	var req orchestrator.OfferRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	snap, err := s.orch.SubmitOffer(r.Context(), actorFromContext(r.Context()), propertyID, req)
	s.respondCreated(w, r, snap, err)
}

func (s *Server) submitApplication(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ApplicationRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	snap, err := s.orch.SubmitApplication(r.Context(), actorFromContext(r.Context()), req)
	s.respondCreated(w, r, snap, err)
}

func (s *Server) respondCreated(w http.ResponseWriter, r *http.Request, snap *orchestrator.Snapshot, err error) {
	if err != nil {
		s.respondEngineError(w, r, err)
		return
	}
	w.Header().Set("ETag", etag(snap.Version))
	respondJSON(w, http.StatusCreated, snap)
}
