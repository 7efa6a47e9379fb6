package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists sessions. GetByTokenHash returns nil, nil when absent.
type Repository interface {
	Create(ctx context.Context, session *Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	Touch(ctx context.Context, sessionID uuid.UUID, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
