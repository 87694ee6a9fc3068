package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/money"
)

// GetProductPricing returns the pricing projection of an active product.
func (s *Store) GetProductPricing(ctx context.Context, id uuid.UUID) (catalog.ProductRow, error) {
	const q = `SELECT id, name, base_price, stock, active FROM products WHERE id = $1`
	var (
		row  catalog.ProductRow
		base pgtype.Numeric
	)
	err := s.db.QueryRow(ctx, q, id).Scan(&row.ID, &row.Name, &base, &row.Stock, &row.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.ProductRow{}, catalog.ErrItemNotFound
		}
		return catalog.ProductRow{}, err
	}
	if row.BasePrice, err = money.FromNumeric(base); err != nil {
		return catalog.ProductRow{}, err
	}
	return row, nil
}

// GetCoursePricing returns the pricing projection of a course.
func (s *Store) GetCoursePricing(ctx context.Context, id uuid.UUID) (catalog.CourseRow, error) {
	const q = `SELECT id, title, base_price, active FROM courses WHERE id = $1`
	var (
		row  catalog.CourseRow
		base pgtype.Numeric
	)
	err := s.db.QueryRow(ctx, q, id).Scan(&row.ID, &row.Title, &base, &row.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.CourseRow{}, catalog.ErrItemNotFound
		}
		return catalog.CourseRow{}, err
	}
	if row.BasePrice, err = money.FromNumeric(base); err != nil {
		return catalog.CourseRow{}, err
	}
	return row, nil
}

// GetVariantAttributes fetches the given attribute rows. Callers detect
// unknown ids by comparing lengths.
func (s *Store) GetVariantAttributes(ctx context.Context, ids []int64) ([]catalog.AttributeRow, error) {
	const q = `
		SELECT id, kind, label, price_delta, weight_kg, stock
		FROM variant_attributes
		WHERE id = ANY($1)
		ORDER BY id`
	rows, err := s.db.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []catalog.AttributeRow
	for rows.Next() {
		var (
			a      catalog.AttributeRow
			delta  pgtype.Numeric
			weight pgtype.Numeric
		)
		if err := rows.Scan(&a.ID, &a.Kind, &a.Label, &delta, &weight, &a.Stock); err != nil {
			return nil, err
		}
		if a.PriceDelta, err = optionalAmount(delta); err != nil {
			return nil, err
		}
		if a.WeightKg, err = optionalAmount(weight); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

// DecrementStock lowers product stock and the given attribute stocks in
// one transaction. Every UPDATE carries a WHERE guard refusing to go
// negative; any miss rolls the whole line back, so a failed decrement
// leaves no partial state behind.
func (s *Store) DecrementStock(ctx context.Context, productID uuid.UUID, attrIDs []int64, n int32) error {
	tx, txStore, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const pq = `UPDATE products SET stock = stock - $2, updated_at = now() WHERE id = $1 AND stock >= $2`
	tag, err := txStore.db.Exec(ctx, pq, productID, n)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %s", catalog.ErrInsufficientStock, productID)
	}

	const aq = `UPDATE variant_attributes SET stock = stock - $2 WHERE id = $1 AND stock >= $2`
	for _, id := range attrIDs {
		tag, err := txStore.db.Exec(ctx, aq, id, n)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: attribute %d", catalog.ErrInsufficientStock, id)
		}
	}
	return tx.Commit(ctx)
}
