package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nestfind/nestfind/internal/domain/agentapp"
	"github.com/nestfind/nestfind/internal/domain/audit"
	"github.com/nestfind/nestfind/internal/domain/offer"
	"github.com/nestfind/nestfind/internal/domain/property"
	"github.com/nestfind/nestfind/internal/domain/reservation"
	"github.com/nestfind/nestfind/internal/domain/store"
	"github.com/nestfind/nestfind/internal/domain/user"
	"github.com/nestfind/nestfind/internal/domain/visit"
)

const defaultLockTimeout = 3 * time.Second

// dataset is an immutable generation of the store. Transactions work on a
// shallow copy and publish it on commit.
type dataset struct {
	properties   map[uuid.UUID]*property.Property
	visits       map[uuid.UUID]*visit.Visit
	offers       map[uuid.UUID]*offer.Offer
	reservations map[uuid.UUID]*reservation.Reservation
	applications map[uuid.UUID]*agentapp.Application
	users        map[uuid.UUID]*user.User
	audit        []*audit.Entry
}

func newDataset() *dataset {
	return &dataset{
		properties:   map[uuid.UUID]*property.Property{},
		visits:       map[uuid.UUID]*visit.Visit{},
		offers:       map[uuid.UUID]*offer.Offer{},
		reservations: map[uuid.UUID]*reservation.Reservation{},
		applications: map[uuid.UUID]*agentapp.Application{},
		users:        map[uuid.UUID]*user.User{},
	}
}

func (d *dataset) fork() *dataset {
	out := &dataset{
		properties:   make(map[uuid.UUID]*property.Property, len(d.properties)),
		visits:       make(map[uuid.UUID]*visit.Visit, len(d.visits)),
		offers:       make(map[uuid.UUID]*offer.Offer, len(d.offers)),
		reservations: make(map[uuid.UUID]*reservation.Reservation, len(d.reservations)),
		applications: make(map[uuid.UUID]*agentapp.Application, len(d.applications)),
		users:        make(map[uuid.UUID]*user.User, len(d.users)),
		audit:        d.audit[:len(d.audit):len(d.audit)],
	}
	for k, v := range d.properties {
		out.properties[k] = v
	}
	for k, v := range d.visits {
		out.visits[k] = v
	}
	for k, v := range d.offers {
		out.offers[k] = v
	}
	for k, v := range d.reservations {
		out.reservations[k] = v
	}
	for k, v := range d.applications {
		out.applications[k] = v
	}
	for k, v := range d.users {
		out.users[k] = v
	}
	return out
}

// Store is an in-process implementation of the entity store. Write
// transactions are serialized; a transaction that cannot start within its
// lock timeout fails with store.ErrLockNotAvailable.
type Store struct {
	mu       sync.RWMutex
	data     *dataset
	writer   chan struct{}
	sessions *SessionRepository

	auditErr error
	nextID   atomic.Int64
}

func NewStore() *Store {
	return &Store{
		data:     newDataset(),
		writer:   make(chan struct{}, 1),
		sessions: newSessionRepository(),
	}
}

// FailAuditWith makes every subsequent audit append fail with err. Passing nil
// restores normal behaviour.
func (s *Store) FailAuditWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditErr = err
}

func (s *Store) InTx(ctx context.Context, opts store.TxOptions, fn func(tx store.Tx) error) error {
	if opts.ReadOnly {
		s.mu.RLock()
		data := s.data
		s.mu.RUnlock()
		return fn(&tx{s: s, d: data, readOnly: true})
	}

	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s.writer <- struct{}{}:
	case <-timer.C:
		return store.ErrLockNotAvailable
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.writer }()

	s.mu.RLock()
	t := &tx{s: s, d: s.data.fork()}
	s.mu.RUnlock()
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.data = t.d
	s.mu.Unlock()
	return nil
}

func (s *Store) ListDue(ctx context.Context, kind store.DueKind, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	d := s.data
	s.mu.RUnlock()

	type due struct {
		id uuid.UUID
		at time.Time
	}
	var items []due
	switch kind {
	case store.DueReservation:
		for id, r := range d.reservations {
			if r.Due(now) {
				items = append(items, due{id, r.ReservedUntil})
			}
		}
	case store.DueOTP:
		for id, v := range d.visits {
			if v.Status == visit.StatusApproved && v.OTPPending() && v.OTPExpiresAt != nil && !now.Before(*v.OTPExpiresAt) {
				items = append(items, due{id, *v.OTPExpiresAt})
			}
		}
	case store.DueVisitCounter:
		for id, v := range d.visits {
			if v.Status == visit.StatusCountered && v.CounterExpiresAt != nil && !now.Before(*v.CounterExpiresAt) {
				items = append(items, due{id, *v.CounterExpiresAt})
			}
		}
	case store.DueOfferCounter:
		for id, o := range d.offers {
			if o.Status == offer.StatusCountered && o.CounterExpiresAt != nil && !now.Before(*o.CounterExpiresAt) {
				items = append(items, due{id, *o.CounterExpiresAt})
			}
		}
	default:
		return nil, errors.New("unknown due kind " + string(kind))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].at.Before(items[j].at) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.id)
	}
	return ids, nil
}

func (s *Store) sequence() int64 {
	return s.nextID.Add(1)
}
