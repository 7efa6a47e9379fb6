package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nestfind/nestfind/internal/domain/reservation"
)

const reservationColumns = `id, reservation_id, offer_id, property_id, buyer_id, status, reserved_until, closed_at,
	version, created_at, updated_at`

func (t *tx) GetReservation(ctx context.Context, id uuid.UUID, lock bool) (*reservation.Reservation, error) {
	row := t.q.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE reservation_id=$1`+lockClause(lock), id)
	r, err := scanReservation(row)
	return r, translate(err)
}

// InsertReservation fails with ErrDuplicate if the property already has an
// ACTIVE reservation.
func (t *tx) InsertReservation(ctx context.Context, r *reservation.Reservation) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO reservations (reservation_id, offer_id, property_id, buyer_id, status, reserved_until, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, r.ReservationID, r.OfferID, r.PropertyID, r.BuyerID, r.Status, r.ReservedUntil, r.Version,
		r.CreatedAt, r.UpdatedAt).Scan(&r.ID)
	return translate(err)
}

func (t *tx) UpdateReservation(ctx context.Context, r *reservation.Reservation, prevVersion int) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE reservations SET status=$2, closed_at=$3, version=$4, updated_at=$5
		WHERE reservation_id=$1 AND version=$6
	`, r.ReservationID, r.Status, r.ClosedAt, r.Version, r.UpdatedAt, prevVersion)
	return exactlyOne(tag.RowsAffected(), err)
}

func scanReservation(row pgx.Row) (*reservation.Reservation, error) {
	var r reservation.Reservation
	if err := row.Scan(&r.ID, &r.ReservationID, &r.OfferID, &r.PropertyID, &r.BuyerID, &r.Status,
		&r.ReservedUntil, &r.ClosedAt, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
