package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nestfind/nestfind/internal/domain/audit"
	"github.com/nestfind/nestfind/internal/domain/lifecycle"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Service exposes the audit log read-only.
type Service struct {
	reader  audit.Reader
	signKey []byte
	logger  zerolog.Logger
}

// NewService creates a new audit service
func NewService(reader audit.Reader, signKey []byte, logger zerolog.Logger) *Service {
	return &Service{
		reader:  reader,
		signKey: signKey,
		logger:  logger.With().Str("service", "audit").Logger(),
	}
}

// QueryParams represents query parameters for audit logs
type QueryParams struct {
	EntityType *lifecycle.EntityType
	EntityID   *uuid.UUID
	UserID     *uuid.UUID
	Action     *string
	Page       int
	PageSize   int
}

// Page is one page of entries, newest first.
type Page struct {
	Entries  []*audit.Entry `json:"entries"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Total    int64          `json:"total"`
}

// Query lists audit entries. Admins see everything; other users only see
// rows they are the actor of.
func (s *Service) Query(ctx context.Context, actor lifecycle.Actor, params QueryParams) (*Page, error) {
	if actor.Anonymous() {
		return nil, lifecycle.Unauthorized("sign in to read the audit log")
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	filter := audit.Filter{
		EntityType: params.EntityType,
		EntityID:   params.EntityID,
		ActorID:    params.UserID,
		Action:     params.Action,
	}
	if !actor.IsAdmin() {
		if params.UserID != nil && *params.UserID != actor.UserID {
			return nil, lifecycle.Unauthorized("only admins can read other users' audit entries")
		}
		self := actor.UserID
		filter.ActorID = &self
	}

	total, err := s.reader.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}
	entries, err := s.reader.Query(ctx, filter, params.PageSize, (params.Page-1)*params.PageSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query audit logs")
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}
	return &Page{Entries: entries, Page: params.Page, PageSize: params.PageSize, Total: total}, nil
}

// VerifyResult reports whether a stored signature still matches its row.
type VerifyResult struct {
	AuditID  uuid.UUID `json:"audit_id"`
	Verified bool      `json:"verified"`
	Message  string    `json:"message"`
}

func (s *Service) Verify(ctx context.Context, actor lifecycle.Actor, auditID uuid.UUID) (*VerifyResult, error) {
	if !actor.IsAdmin() {
		return nil, lifecycle.Unauthorized("only admins can verify audit entries")
	}
	entry, err := s.reader.GetByID(ctx, auditID)
	if err != nil {
		return nil, fmt.Errorf("load audit entry: %w", err)
	}
	if entry == nil {
		return nil, lifecycle.NotFound("AUDIT", auditID)
	}
	if len(s.signKey) == 0 {
		return &VerifyResult{AuditID: auditID, Message: "audit signing is disabled"}, nil
	}

	ok, err := audit.Verify(entry, s.signKey)
	if err != nil {
		return nil, fmt.Errorf("verify audit entry: %w", err)
	}
	result := &VerifyResult{AuditID: auditID, Verified: ok, Message: "signature matches"}
	if !ok {
		result.Message = "signature mismatch"
		s.logger.Warn().Str("audit_id", auditID.String()).Msg("audit signature verification failed")
	}
	return result, nil
}
