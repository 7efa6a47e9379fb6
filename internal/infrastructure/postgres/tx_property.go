package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nestfind/nestfind/internal/domain/property"
	"github.com/nestfind/nestfind/internal/domain/store"
)

// tx implements store.Tx over a single pgx transaction.
type tx struct {
	q pgx.Tx
}

func lockClause(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

// exactlyOne turns a zero-row versioned write into ErrStaleVersion.
func exactlyOne(rows int64, err error) error {
	if err != nil {
		return translate(err)
	}
	if rows == 0 {
		return store.ErrStaleVersion
	}
	return nil
}

const propertyColumns = `id, property_id, owner_id, agent_id, status, title, description, property_type,
	price, bedrooms, bathrooms, area_sqft, address, media, completeness, version, created_at, updated_at`

func (t *tx) GetProperty(ctx context.Context, id uuid.UUID, lock bool) (*property.Property, error) {
	row := t.q.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE property_id=$1`+lockClause(lock), id)
	p, err := scanProperty(row)
	return p, translate(err)
}

func (t *tx) InsertProperty(ctx context.Context, p *property.Property) error {
	err := t.q.QueryRow(ctx, `
		INSERT INTO properties
		(property_id, owner_id, agent_id, status, title, description, property_type, price, bedrooms, bathrooms,
		 area_sqft, address, media, completeness, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id
	`, p.PropertyID, p.OwnerID, p.AgentID, p.Status, p.Title, p.Description, p.PropertyType, p.Price, p.Bedrooms,
		p.Bathrooms, p.AreaSqft, p.Address, p.Media, p.Completeness, p.Version, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	return translate(err)
}

func (t *tx) UpdateProperty(ctx context.Context, p *property.Property, prevVersion int) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE properties SET agent_id=$2, status=$3, title=$4, description=$5, property_type=$6, price=$7,
			bedrooms=$8, bathrooms=$9, area_sqft=$10, address=$11, media=$12, completeness=$13, version=$14, updated_at=$15
		WHERE property_id=$1 AND version=$16
	`, p.PropertyID, p.AgentID, p.Status, p.Title, p.Description, p.PropertyType, p.Price, p.Bedrooms, p.Bathrooms,
		p.AreaSqft, p.Address, p.Media, p.Completeness, p.Version, p.UpdatedAt, prevVersion)
	return exactlyOne(tag.RowsAffected(), err)
}

func scanProperty(row pgx.Row) (*property.Property, error) {
	var p property.Property
	if err := row.Scan(&p.ID, &p.PropertyID, &p.OwnerID, &p.AgentID, &p.Status, &p.Title, &p.Description,
		&p.PropertyType, &p.Price, &p.Bedrooms, &p.Bathrooms, &p.AreaSqft, &p.Address, &p.Media, &p.Completeness,
		&p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
