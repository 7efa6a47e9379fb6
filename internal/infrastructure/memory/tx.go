package memory

import (
	"context"
	"errors"
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

var errReadOnly = errors.New("write in read-only transaction")

type tx struct {
	s        *Store
	d        *dataset
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func cloneProperty(p *property.Property) *property.Property {
	c := *p
	c.Media = append([]property.Media(nil), p.Media...)
	c.Completeness.Missing = append([]string(nil), p.Completeness.Missing...)
	return &c
}

func cloneVisit(v *visit.Visit) *visit.Visit {
	c := *v
	return &c
}

func cloneOffer(o *offer.Offer) *offer.Offer {
	c := *o
	return &c
}

func cloneReservation(r *reservation.Reservation) *reservation.Reservation {
	c := *r
	return &c
}

func cloneApplication(a *agentapp.Application) *agentapp.Application {
	c := *a
	c.ServiceAreas = append([]string(nil), a.ServiceAreas...)
	c.Decisions = append([]agentapp.Decision(nil), a.Decisions...)
	return &c
}

func cloneUser(u *user.User) *user.User {
	c := *u
	return &c
}

func (t *tx) GetProperty(_ context.Context, id uuid.UUID, _ bool) (*property.Property, error) {
	p, ok := t.d.properties[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneProperty(p), nil
}

func (t *tx) InsertProperty(_ context.Context, p *property.Property) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.properties[p.PropertyID]; ok {
		return store.ErrDuplicate
	}
	p.ID = t.s.sequence()
	t.d.properties[p.PropertyID] = cloneProperty(p)
	return nil
}

func (t *tx) UpdateProperty(_ context.Context, p *property.Property, prevVersion int) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.d.properties[p.PropertyID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != prevVersion {
		return store.ErrStaleVersion
	}
	t.d.properties[p.PropertyID] = cloneProperty(p)
	return nil
}

func (t *tx) GetVisit(_ context.Context, id uuid.UUID, _ bool) (*visit.Visit, error) {
	v, ok := t.d.visits[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneVisit(v), nil
}

func (t *tx) InsertVisit(_ context.Context, v *visit.Visit) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.visits[v.VisitID]; ok {
		return store.ErrDuplicate
	}
	v.ID = t.s.sequence()
	t.d.visits[v.VisitID] = cloneVisit(v)
	return nil
}

func (t *tx) UpdateVisit(_ context.Context, v *visit.Visit, prevVersion int) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.d.visits[v.VisitID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != prevVersion {
		return store.ErrStaleVersion
	}
	t.d.visits[v.VisitID] = cloneVisit(v)
	return nil
}

func (t *tx) FindOpenVisit(_ context.Context, propertyID, buyerID uuid.UUID) (*visit.Visit, error) {
	for _, v := range t.d.visits {
		if v.PropertyID == propertyID && v.BuyerID == buyerID && visit.Open(v.Status) {
			return cloneVisit(v), nil
		}
	}
	return nil, nil
}

func (t *tx) HasApprovedVisit(_ context.Context, propertyID, buyerID uuid.UUID) (bool, error) {
	for _, v := range t.d.visits {
		if v.PropertyID == propertyID && v.BuyerID == buyerID && visit.Approved(v.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) GetOffer(_ context.Context, id uuid.UUID, _ bool) (*offer.Offer, error) {
	o, ok := t.d.offers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOffer(o), nil
}

func (t *tx) InsertOffer(_ context.Context, o *offer.Offer) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.offers[o.OfferID]; ok {
		return store.ErrDuplicate
	}
	o.ID = t.s.sequence()
	t.d.offers[o.OfferID] = cloneOffer(o)
	return nil
}

func (t *tx) UpdateOffer(_ context.Context, o *offer.Offer, prevVersion int) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.d.offers[o.OfferID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != prevVersion {
		return store.ErrStaleVersion
	}
	t.d.offers[o.OfferID] = cloneOffer(o)
	return nil
}

func (t *tx) FindOpenOffer(_ context.Context, propertyID, buyerID uuid.UUID) (*offer.Offer, error) {
	for _, o := range t.d.offers {
		if o.PropertyID == propertyID && o.BuyerID == buyerID && offer.Open(o.Status) {
			return cloneOffer(o), nil
		}
	}
	return nil, nil
}

func (t *tx) ListOpenOffers(_ context.Context, propertyID uuid.UUID, _ bool) ([]*offer.Offer, error) {
	out := []*offer.Offer{}
	for _, o := range t.d.offers {
		if o.PropertyID == propertyID && offer.Open(o.Status) {
			out = append(out, cloneOffer(o))
		}
	}
	sortByID(out, func(o *offer.Offer) int64 { return o.ID })
	return out, nil
}

func (t *tx) GetReservation(_ context.Context, id uuid.UUID, _ bool) (*reservation.Reservation, error) {
	r, ok := t.d.reservations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneReservation(r), nil
}

func (t *tx) InsertReservation(_ context.Context, r *reservation.Reservation) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.d.reservations[r.ReservationID]; ok {
		return store.ErrDuplicate
	}
	for _, cur := range t.d.reservations {
		if cur.PropertyID == r.PropertyID && cur.Status == reservation.StatusActive {
			return store.ErrDuplicate
		}
	}
	r.ID = t.s.sequence()
	t.d.reservations[r.ReservationID] = cloneReservation(r)
	return nil
}

func (t *tx) UpdateReservation(_ context.Context, r *reservation.Reservation, prevVersion int) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.d.reservations[r.ReservationID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != prevVersion {
		return store.ErrStaleVersion
	}
	t.d.reservations[r.ReservationID] = cloneReservation(r)
	return nil
}

func (t *tx) GetApplication(_ context.Context, id uuid.UUID, _ bool) (*agentapp.Application, error) {
	a, ok := t.d.applications[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneApplication(a), nil
}

func (t *tx) GetApplicationByUser(_ context.Context, userID uuid.UUID) (*agentapp.Application, error) {
	for _, a := range t.d.applications {
		if a.UserID == userID {
			return cloneApplication(a), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) InsertApplication(_ context.Context, a *agentapp.Application) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, cur := range t.d.applications {
		if cur.ApplicationID == a.ApplicationID || cur.UserID == a.UserID {
			return store.ErrDuplicate
		}
	}
	a.ID = t.s.sequence()
	t.d.applications[a.ApplicationID] = cloneApplication(a)
	return nil
}

func (t *tx) UpdateApplication(_ context.Context, a *agentapp.Application, prevVersion int) error {
	if err := t.writable(); err != nil {
		return err
	}
	cur, ok := t.d.applications[a.ApplicationID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != prevVersion {
		return store.ErrStaleVersion
	}
	t.d.applications[a.ApplicationID] = cloneApplication(a)
	return nil
}

func (t *tx) GetUser(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := t.d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (t *tx) UpdateUserRole(_ context.Context, id uuid.UUID, role user.Role) error {
	if err := t.writable(); err != nil {
		return err
	}
	u, ok := t.d.users[id]
	if !ok {
		return store.ErrNotFound
	}
	c := cloneUser(u)
	c.Role = role
	c.UpdatedAt = time.Now().UTC()
	t.d.users[id] = c
	return nil
}

func (t *tx) AppendAudit(_ context.Context, e *audit.Entry) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.s.mu.RLock()
	failure := t.s.auditErr
	t.s.mu.RUnlock()
	if failure != nil {
		return failure
	}
	c := *e
	c.ID = t.s.sequence()
	e.ID = c.ID
	t.d.audit = append(t.d.audit, &c)
	return nil
}
