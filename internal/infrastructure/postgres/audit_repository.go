package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nestfind/nestfind/internal/domain/audit"
)

const auditColumns = `id, audit_id, actor_id, actor_role, action, entity_type, entity_id, prior_state, new_state,
	details, signature, created_at`

// AppendAudit writes inside the mutation transaction, so a failed insert
// rolls the mutation back with it.
func (t *tx) AppendAudit(ctx context.Context, e *audit.Entry) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO audit_logs
		(audit_id, actor_id, actor_role, action, entity_type, entity_id, prior_state, new_state, details, signature, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, e.AuditID, e.ActorID, e.ActorRole, e.Action, e.EntityType, e.EntityID, e.PriorState, e.NewState,
		string(e.Details), e.Signature, e.CreatedAt).Scan(&e.ID)
	return translate(err)
}

// AuditRepository implements audit.Reader.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) GetByID(ctx context.Context, auditID uuid.UUID) (*audit.Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE audit_id=$1`, auditID)
	e, err := scanAudit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func auditWhere(filter audit.Filter) *where {
	w := &where{}
	if filter.EntityType != nil {
		w.add("entity_type=?", *filter.EntityType)
	}
	if filter.EntityID != nil {
		w.add("entity_id=?", *filter.EntityID)
	}
	if filter.ActorID != nil {
		w.add("actor_id=?", *filter.ActorID)
	}
	if filter.Action != nil {
		w.add("action=?", *filter.Action)
	}
	if filter.StartTime != nil {
		w.add("created_at >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		w.add("created_at <= ?", *filter.EndTime)
	}
	return w
}

// Query returns matching entries newest first. A non-positive limit means no
// limit.
func (r *AuditRepository) Query(ctx context.Context, filter audit.Filter, limit, offset int) ([]*audit.Entry, error) {
	w := auditWhere(filter)
	query := `SELECT ` + auditColumns + ` FROM audit_logs` + w.String() + ` ORDER BY id DESC`
	if limit > 0 {
		query += " LIMIT " + w.next()
		w.args = append(w.args, limit)
	}
	if offset > 0 {
		query += " OFFSET " + w.next()
		w.args = append(w.args, offset)
	}

	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*audit.Entry{}
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *AuditRepository) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	w := auditWhere(filter)
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+w.String(), w.args...).Scan(&n)
	return n, err
}

func scanAudit(row pgx.Row) (*audit.Entry, error) {
	var e audit.Entry
	var details string
	if err := row.Scan(&e.ID, &e.AuditID, &e.ActorID, &e.ActorRole, &e.Action, &e.EntityType, &e.EntityID,
		&e.PriorState, &e.NewState, &details, &e.Signature, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Details = []byte(details)
	return &e, nil
}
