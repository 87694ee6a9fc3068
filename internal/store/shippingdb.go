package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tienda-labs/backend-tienda/internal/money"
	"github.com/tienda-labs/backend-tienda/internal/shipping"
)

// AddressRow is a stored delivery address.
type AddressRow struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	ReceiverName string
	Country      string
	Province     string
	City         string
	PostalCode   string
	AddressLine1 string
	AddressLine2 string
	CreatedAt    time.Time
}

const addressColumns = `id, user_id, receiver_name, country, province, city, postal_code, address_line1, address_line2, created_at`

func scanAddress(row pgx.Row) (AddressRow, error) {
	var a AddressRow
	err := row.Scan(&a.ID, &a.UserID, &a.ReceiverName, &a.Country, &a.Province,
		&a.City, &a.PostalCode, &a.AddressLine1, &a.AddressLine2, &a.CreatedAt)
	if err != nil {
		return AddressRow{}, notFound(err)
	}
	return a, nil
}

// GetAddress fetches an address owned by the given user. The owner
// check is in the query so one user cannot ship to another's address
// id.
func (s *Store) GetAddress(ctx context.Context, id, userID uuid.UUID) (AddressRow, error) {
	const q = `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1 AND user_id = $2`
	return scanAddress(s.db.QueryRow(ctx, q, id, userID))
}

// CreateAddress stores a delivery address for the user.
func (s *Store) CreateAddress(ctx context.Context, a AddressRow) (AddressRow, error) {
	const q = `
		INSERT INTO addresses (user_id, receiver_name, country, province, city, postal_code, address_line1, address_line2)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + addressColumns
	return scanAddress(s.db.QueryRow(ctx, q,
		a.UserID, a.ReceiverName, a.Country, a.Province, a.City, a.PostalCode, a.AddressLine1, a.AddressLine2))
}

// ListAddresses returns the user's addresses, newest first.
func (s *Store) ListAddresses(ctx context.Context, userID uuid.UUID) ([]AddressRow, error) {
	const q = `SELECT ` + addressColumns + ` FROM addresses WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AddressRow
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const methodColumns = `
	m.id, m.provider_id, m.name, m.code, m.base_rate, m.per_kg_rate,
	m.min_delivery_days, m.max_delivery_days, m.active,
	z.id, z.name, z.countries`

func scanMethod(row pgx.Row) (shipping.Method, error) {
	var (
		m     shipping.Method
		base  pgtype.Numeric
		perKg pgtype.Numeric
	)
	err := row.Scan(&m.ID, &m.ProviderID, &m.Name, &m.Code, &base, &perKg,
		&m.MinDeliveryDays, &m.MaxDeliveryDays, &m.Active,
		&m.Zone.ID, &m.Zone.Name, &m.Zone.Countries)
	if err != nil {
		return shipping.Method{}, notFound(err)
	}
	if m.BaseRate, err = money.FromNumeric(base); err != nil {
		return shipping.Method{}, err
	}
	if m.PerKgRate, err = money.FromNumeric(perKg); err != nil {
		return shipping.Method{}, err
	}
	return m, nil
}

// GetShippingMethod fetches an active shipping method with its zone.
func (s *Store) GetShippingMethod(ctx context.Context, id int64) (shipping.Method, error) {
	const q = `
		SELECT ` + methodColumns + `
		FROM shipping_methods m
		JOIN shipping_zones z ON z.id = m.zone_id
		WHERE m.id = $1 AND m.active`
	return scanMethod(s.db.QueryRow(ctx, q, id))
}

// ListShippingMethodsForCountry returns the active methods whose zone
// covers the destination country.
func (s *Store) ListShippingMethodsForCountry(ctx context.Context, country string) ([]shipping.Method, error) {
	const q = `
		SELECT ` + methodColumns + `
		FROM shipping_methods m
		JOIN shipping_zones z ON z.id = m.zone_id
		JOIN shipping_providers p ON p.id = m.provider_id
		WHERE m.active AND p.active AND upper($1) = ANY(SELECT upper(unnest(z.countries)))
		ORDER BY m.base_rate`
	rows, err := s.db.Query(ctx, q, country)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []shipping.Method
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
