package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nestfind/nestfind/internal/domain/visit"
)

const visitColumns = `id, visit_id, property_id, buyer_id, agent_id, status, scheduled_date, message,
	counter_date, counter_message, countered_by, counter_rounds, counter_expires_at,
	otp_digest, otp_expires_at, otp_consumed_at, otp_attempts, checked_in_at, finished_at, reason,
	version, created_at, updated_at`

const openVisitStates = `('REQUESTED', 'COUNTERED', 'APPROVED', 'CHECKED_IN')`

func (t *tx) GetVisit(ctx context.Context, id uuid.UUID, lock bool) (*visit.Visit, error) {
	row := t.q.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE visit_id=$1`+lockClause(lock), id)
	v, err := scanVisit(row)
	return v, translate(err)
}

func (t *tx) InsertVisit(ctx context.Context, v *visit.Visit) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO visits
		(visit_id, property_id, buyer_id, agent_id, status, scheduled_date, message, counter_rounds, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, v.VisitID, v.PropertyID, v.BuyerID, v.AgentID, v.Status, v.ScheduledDate, v.Message, v.CounterRounds,
		v.Version, v.CreatedAt, v.UpdatedAt).Scan(&v.ID)
	return translate(err)
}

func (t *tx) UpdateVisit(ctx context.Context, v *visit.Visit, prevVersion int) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE visits SET status=$2, scheduled_date=$3, counter_date=$4, counter_message=$5, countered_by=$6,
			counter_rounds=$7, counter_expires_at=$8, otp_digest=$9, otp_expires_at=$10, otp_consumed_at=$11,
			checked_in_at=$12, finished_at=$13, reason=$14, version=$15, updated_at=$16, otp_attempts=$18
		WHERE visit_id=$1 AND version=$17
	`, v.VisitID, v.Status, v.ScheduledDate, v.CounterDate, v.CounterMessage, v.CounteredBy, v.CounterRounds,
		v.CounterExpiresAt, v.OTPDigest, v.OTPExpiresAt, v.OTPConsumedAt, v.CheckedInAt, v.FinishedAt, v.Reason,
		v.Version, v.UpdatedAt, prevVersion, v.OTPAttempts)
	return exactlyOne(tag.RowsAffected(), err)
}

func (t *tx) FindOpenVisit(ctx context.Context, propertyID, buyerID uuid.UUID) (*visit.Visit, error) {
	row := t.q.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits
		WHERE property_id=$1 AND buyer_id=$2 AND status IN `+openVisitStates, propertyID, buyerID)
	v, err := scanVisit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, translate(err)
}

func (t *tx) HasApprovedVisit(ctx context.Context, propertyID, buyerID uuid.UUID) (bool, error) {
	var ok bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM visits WHERE property_id=$1 AND buyer_id=$2 AND status IN ('APPROVED', 'CHECKED_IN', 'COMPLETED')
	)`, propertyID, buyerID).Scan(&ok)
	return ok, translate(err)
}

func scanVisit(row pgx.Row) (*visit.Visit, error) {
	var v visit.Visit
	if err := row.Scan(&v.ID, &v.VisitID, &v.PropertyID, &v.BuyerID, &v.AgentID, &v.Status, &v.ScheduledDate,
		&v.Message, &v.CounterDate, &v.CounterMessage, &v.CounteredBy, &v.CounterRounds, &v.CounterExpiresAt,
		&v.OTPDigest, &v.OTPExpiresAt, &v.OTPConsumedAt, &v.OTPAttempts, &v.CheckedInAt, &v.FinishedAt, &v.Reason,
		&v.Version, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}
