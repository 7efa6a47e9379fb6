package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nestfind/nestfind/internal/domain/agentapp"
	"github.com/nestfind/nestfind/internal/domain/user"
)

const applicationColumns = `id, application_id, user_id, license_number, agency, years_experience, service_areas,
	status, reapply_count, declined_final, decisions, version, created_at, updated_at`

func (t *tx) GetApplication(ctx context.Context, id uuid.UUID, lock bool) (*agentapp.Application, error) {
	row := t.q.QueryRow(ctx, `SELECT `+applicationColumns+` FROM agent_applications WHERE application_id=$1`+lockClause(lock), id)
	a, err := scanApplication(row)
	return a, translate(err)
}

func (t *tx) GetApplicationByUser(ctx context.Context, userID uuid.UUID) (*agentapp.Application, error) {
	row := t.q.QueryRow(ctx, `SELECT `+applicationColumns+` FROM agent_applications WHERE user_id=$1`, userID)
	a, err := scanApplication(row)
	return a, translate(err)
}

func (t *tx) InsertApplication(ctx context.Context, a *agentapp.Application) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO agent_applications
		(application_id, user_id, license_number, agency, years_experience, service_areas, status, reapply_count,
		 declined_final, decisions, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id
	`, a.ApplicationID, a.UserID, a.LicenseNumber, a.Agency, a.YearsExperience, nonNil(a.ServiceAreas), a.Status,
		a.ReapplyCount, a.DeclinedFinal, decisions(a.Decisions), a.Version, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
	return translate(err)
}

func (t *tx) UpdateApplication(ctx context.Context, a *agentapp.Application, prevVersion int) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE agent_applications SET license_number=$2, agency=$3, years_experience=$4, service_areas=$5,
			status=$6, reapply_count=$7, declined_final=$8, decisions=$9, version=$10, updated_at=$11
		WHERE application_id=$1 AND version=$12
	`, a.ApplicationID, a.LicenseNumber, a.Agency, a.YearsExperience, nonNil(a.ServiceAreas), a.Status,
		a.ReapplyCount, a.DeclinedFinal, decisions(a.Decisions), a.Version, a.UpdatedAt, prevVersion)
	return exactlyOne(tag.RowsAffected(), err)
}

func (t *tx) GetUser(ctx context.Context, id uuid.UUID) (*user.User, error) {
	row := t.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`, id)
	u, err := scanUser(row)
	return u, translate(err)
}

func (t *tx) UpdateUserRole(ctx context.Context, id uuid.UUID, role user.Role) error {
	tag, err := t.q.Exec(ctx, `UPDATE users SET role=$2, updated_at=now() WHERE user_id=$1`, id, role)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return translate(pgx.ErrNoRows)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func decisions(d []agentapp.Decision) []agentapp.Decision {
	if d == nil {
		return []agentapp.Decision{}
	}
	return d
}

func scanApplication(row pgx.Row) (*agentapp.Application, error) {
	var a agentapp.Application
	if err := row.Scan(&a.ID, &a.ApplicationID, &a.UserID, &a.LicenseNumber, &a.Agency, &a.YearsExperience,
		&a.ServiceAreas, &a.Status, &a.ReapplyCount, &a.DeclinedFinal, &a.Decisions, &a.Version,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
