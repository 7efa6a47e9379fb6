package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/nestfind/nestfind/internal/domain/lifecycle"
	"github.com/nestfind/nestfind/internal/domain/store"
)

func TestTranslateDriverErrors(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{pgx.ErrNoRows, store.ErrNotFound},
		{fmt.Errorf("get: %w", pgx.ErrNoRows), store.ErrNotFound},
		{&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}, store.ErrLockNotAvailable},
		{&pgconn.PgError{Code: "23505", ConstraintName: "offers_one_open_per_buyer"}, store.ErrDuplicate},
		{&pgconn.PgError{Code: "40P01"}, store.ErrStaleVersion},
	}
	for _, c := range cases {
		assert.ErrorIs(t, translate(c.in), c.want, "%v", c.in)
	}

	assert.NoError(t, translate(nil))
	engine := lifecycle.Conflict("busy")
	assert.Same(t, engine, translate(engine))
	other := errors.New("connection reset")
	assert.Equal(t, other, translate(other))
}

func TestWhereBuilder(t *testing.T) {
	w := &where{}
	assert.Equal(t, "", w.String())
	w.add("entity_type=?", "OFFER")
	w.add("action=?", "accept")
	assert.Equal(t, " WHERE entity_type=$1 AND action=$2", w.String())
	assert.Equal(t, "$3", w.next())
	assert.Equal(t, []interface{}{"OFFER", "accept"}, w.args)
}

func TestExactlyOne(t *testing.T) {
	assert.ErrorIs(t, exactlyOne(0, nil), store.ErrStaleVersion)
	assert.NoError(t, exactlyOne(1, nil))
	assert.ErrorIs(t, exactlyOne(0, &pgconn.PgError{Code: "55P03"}), store.ErrLockNotAvailable)
}
