package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/audit"
	"github.com/nestfind/nestfind/internal/domain/session"
	"github.com/nestfind/nestfind/internal/domain/store"
	"github.com/nestfind/nestfind/internal/domain/user"
)

func sortByID[T any](items []T, id func(T) int64) {
	sort.Slice(items, func(i, j int) bool { return id(items[i]) < id(items[j]) })
}

// Audit returns the read side of the audit log.
func (s *Store) Audit() *AuditRepository {
	return &AuditRepository{s: s}
}

// Users returns the user repository.
func (s *Store) Users() *UserRepository {
	return &UserRepository{s: s}
}

// Sessions returns the session repository.
func (s *Store) Sessions() *SessionRepository {
	return s.sessions
}

func (s *Store) snapshot() *dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

// AuditRepository implements audit.Reader.
type AuditRepository struct {
	s *Store
}

func (r *AuditRepository) GetByID(_ context.Context, auditID uuid.UUID) (*audit.Entry, error) {
	for _, e := range r.s.snapshot().audit {
		if e.AuditID == auditID {
			c := *e
			return &c, nil
		}
	}
	return nil, nil
}

// Query returns matching entries newest first.
func (r *AuditRepository) Query(_ context.Context, filter audit.Filter, limit, offset int) ([]*audit.Entry, error) {
	all := r.s.snapshot().audit
	out := []*audit.Entry{}
	skipped := 0
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if !filter.Matches(e) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		c := *e
		out = append(out, &c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *AuditRepository) Count(_ context.Context, filter audit.Filter) (int64, error) {
	var n int64
	for _, e := range r.s.snapshot().audit {
		if filter.Matches(e) {
			n++
		}
	}
	return n, nil
}

// UserRepository implements user.Repository.
type UserRepository struct {
	s *Store
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	return r.s.InTx(ctx, store.TxOptions{}, func(t store.Tx) error {
		d := t.(*tx).d
		for _, cur := range d.users {
			if cur.Username == u.Username || cur.UserID == u.UserID {
				return store.ErrDuplicate
			}
		}
		u.ID = r.s.sequence()
		d.users[u.UserID] = cloneUser(u)
		return nil
	})
}

func (r *UserRepository) GetByID(_ context.Context, userID uuid.UUID) (*user.User, error) {
	u, ok := r.s.snapshot().users[userID]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (r *UserRepository) GetByUsername(_ context.Context, username string) (*user.User, error) {
	for _, u := range r.s.snapshot().users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (r *UserRepository) List(_ context.Context, filter user.Filter, limit, offset int) ([]*user.User, error) {
	all := []*user.User{}
	for _, u := range r.s.snapshot().users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Status != nil && u.Status != *filter.Status {
			continue
		}
		if filter.Username != nil && u.Username != *filter.Username {
			continue
		}
		all = append(all, cloneUser(u))
	}
	sortByID(all, func(u *user.User) int64 { return u.ID })
	if offset >= len(all) {
		return []*user.User{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *UserRepository) Count(_ context.Context) (int, error) {
	return len(r.s.snapshot().users), nil
}

// SessionRepository implements session.Repository. Sessions are not part of
// the transactional dataset.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
}

func newSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: map[uuid.UUID]*session.Session{}}
}

func (r *SessionRepository) Create(_ context.Context, sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *sess
	r.sessions[sess.SessionID] = &c
	return nil
}

func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TokenHash == tokenHash {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

func (r *SessionRepository) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.TokenHash == tokenHash {
			delete(r.sessions, id)
		}
	}
	return nil
}

func (r *SessionRepository) Touch(_ context.Context, sessionID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.LastSeenAt = &at
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.IsExpired(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}
