package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nestfind/nestfind/internal/domain/offer"
)

const offerColumns = `id, offer_id, property_id, buyer_id, amount, message, status, counter_amount,
	counter_message, countered_by, counter_rounds, counter_expires_at, accepted_amount, reason, decided_at,
	version, created_at, updated_at`

func (t *tx) GetOffer(ctx context.Context, id uuid.UUID, lock bool) (*offer.Offer, error) {
	row := t.q.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE offer_id=$1`+lockClause(lock), id)
	o, err := scanOffer(row)
	return o, translate(err)
}

func (t *tx) InsertOffer(ctx context.Context, o *offer.Offer) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO offers (offer_id, property_id, buyer_id, amount, message, status, counter_rounds, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, o.OfferID, o.PropertyID, o.BuyerID, o.Amount, o.Message, o.Status, o.CounterRounds, o.Version,
		o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
	return translate(err)
}

func (t *tx) UpdateOffer(ctx context.Context, o *offer.Offer, prevVersion int) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE offers SET status=$2, counter_amount=$3, counter_message=$4, countered_by=$5, counter_rounds=$6,
			counter_expires_at=$7, accepted_amount=$8, reason=$9, decided_at=$10, version=$11, updated_at=$12
		WHERE offer_id=$1 AND version=$13
	`, o.OfferID, o.Status, o.CounterAmount, o.CounterMessage, o.CounteredBy, o.CounterRounds, o.CounterExpiresAt,
		o.AcceptedAmount, o.Reason, o.DecidedAt, o.Version, o.UpdatedAt, prevVersion)
	return exactlyOne(tag.RowsAffected(), err)
}

func (t *tx) FindOpenOffer(ctx context.Context, propertyID, buyerID uuid.UUID) (*offer.Offer, error) {
	row := t.q.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers
		WHERE property_id=$1 AND buyer_id=$2 AND status IN ('PENDING', 'COUNTERED')`, propertyID, buyerID)
	o, err := scanOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, translate(err)
}

// ListOpenOffers orders by id so concurrent lockers acquire rows in the same
// sequence.
func (t *tx) ListOpenOffers(ctx context.Context, propertyID uuid.UUID, lock bool) ([]*offer.Offer, error) {
	rows, err := t.q.Query(ctx, `SELECT `+offerColumns+` FROM offers
		WHERE property_id=$1 AND status IN ('PENDING', 'COUNTERED') ORDER BY id`+lockClause(lock), propertyID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var offers []*offer.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, translate(err)
		}
		offers = append(offers, o)
	}
	return offers, translate(rows.Err())
}

func scanOffer(row pgx.Row) (*offer.Offer, error) {
	var o offer.Offer
	if err := row.Scan(&o.ID, &o.OfferID, &o.PropertyID, &o.BuyerID, &o.Amount, &o.Message, &o.Status,
		&o.CounterAmount, &o.CounterMessage, &o.CounteredBy, &o.CounterRounds, &o.CounterExpiresAt,
		&o.AcceptedAmount, &o.Reason, &o.DecidedAt, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}
