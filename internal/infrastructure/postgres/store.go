package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nestfind/nestfind/internal/domain/store"
)

const defaultLockTimeout = 3 * time.Second

// Store implements store.Store on PostgreSQL. Row locks are taken with
// SELECT ... FOR UPDATE under a transaction-local lock_timeout.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InTx(ctx context.Context, opts store.TxOptions, fn func(tx store.Tx) error) error {
	txOpts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	if opts.ReadOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}
	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	err := pgx.BeginTxFunc(ctx, s.pool, txOpts, func(ptx pgx.Tx) error {
		if _, err := ptx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", timeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}
		return fn(&tx{q: ptx})
	})
	return translate(err)
}

var dueQueries = map[store.DueKind]string{
	store.DueReservation: `SELECT reservation_id FROM reservations
		WHERE status = 'ACTIVE' AND reserved_until <= $1
		ORDER BY reserved_until LIMIT $2`,
	store.DueOTP: `SELECT visit_id FROM visits
		WHERE status = 'APPROVED' AND otp_digest IS NOT NULL AND otp_consumed_at IS NULL AND otp_expires_at <= $1
		ORDER BY otp_expires_at LIMIT $2`,
	store.DueVisitCounter: `SELECT visit_id FROM visits
		WHERE status = 'COUNTERED' AND counter_expires_at <= $1
		ORDER BY counter_expires_at LIMIT $2`,
	store.DueOfferCounter: `SELECT offer_id FROM offers
		WHERE status = 'COUNTERED' AND counter_expires_at <= $1
		ORDER BY counter_expires_at LIMIT $2`,
}

// ListDue returns ids whose time-bound state elapsed at or before now, oldest
// deadline first. A non-positive limit means no limit.
func (s *Store) ListDue(ctx context.Context, kind store.DueKind, now time.Time, limit int) ([]uuid.UUID, error) {
	query, ok := dueQueries[kind]
	if !ok {
		return nil, fmt.Errorf("unknown due kind %q", kind)
	}
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, query, now, lim)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// translate maps driver failures onto the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03": // lock_not_available
			return fmt.Errorf("%w: %s", store.ErrLockNotAvailable, pgErr.Message)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", store.ErrStaleVersion, pgErr.Message)
		}
	}
	return err
}

// where accumulates AND-ed predicates with positional arguments.
type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) add(clause string, arg interface{}) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) next() string {
	return fmt.Sprintf("$%d", len(w.args)+1)
}
