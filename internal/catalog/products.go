package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

// ProductRow is the pricing projection of a product.
type ProductRow struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	BasePrice money.Amount `json:"basePrice"`
	Stock     int32        `json:"stock"`
	Active    bool         `json:"active"`
}

// AttributeRow is one variant attribute with its optional price delta,
// weight and stock.
type AttributeRow struct {
	ID         int64         `json:"id"`
	Kind       string        `json:"kind"`
	Label      string        `json:"label"`
	PriceDelta *money.Amount `json:"priceDelta,omitempty"`
	WeightKg   *money.Amount `json:"weightKg,omitempty"`
	Stock      *int32        `json:"stock,omitempty"`
}

// Querier defines the database access required by the product accessor.
type Querier interface {
	GetProductPricing(ctx context.Context, id uuid.UUID) (ProductRow, error)
	GetVariantAttributes(ctx context.Context, ids []int64) ([]AttributeRow, error)
	DecrementStock(ctx context.Context, productID uuid.UUID, attrIDs []int64, n int32) error
}

// Products resolves product pricing with a Redis read-through cache.
type Products struct {
	Q   Querier
	R   *redis.Client
	TTL time.Duration
}

func (p *Products) cachedProduct(ctx context.Context, id uuid.UUID) (ProductRow, bool) {
	if p.R == nil || p.TTL <= 0 {
		return ProductRow{}, false
	}
	data, err := p.R.Get(ctx, "cat:p:"+id.String()).Bytes()
	if err != nil {
		return ProductRow{}, false
	}
	var row ProductRow
	if err := json.Unmarshal(data, &row); err != nil {
		return ProductRow{}, false
	}
	return row, true
}

func (p *Products) storeProduct(ctx context.Context, row ProductRow) {
	if p.R == nil || p.TTL <= 0 {
		return
	}
	data, err := json.Marshal(row)
	if err != nil {
		return
	}
	_ = p.R.Set(ctx, "cat:p:"+row.ID.String(), data, p.TTL).Err()
}

func (p *Products) product(ctx context.Context, id uuid.UUID) (ProductRow, error) {
	if row, ok := p.cachedProduct(ctx, id); ok {
		return row, nil
	}
	row, err := p.Q.GetProductPricing(ctx, id)
	if err != nil {
		return ProductRow{}, err
	}
	p.storeProduct(ctx, row)
	return row, nil
}

// Resolve builds the priced variant view for a selection. Attribute
// price deltas are returned unsummed; the aggregator owns the formula.
func (p *Products) Resolve(ctx context.Context, id uuid.UUID, sel Selection) (Variant, error) {
	if p == nil || p.Q == nil {
		return Variant{}, errors.New("catalog: product accessor not configured")
	}
	row, err := p.product(ctx, id)
	if err != nil {
		return Variant{}, err
	}
	v := Variant{ItemName: row.Name, BasePrice: row.BasePrice}

	ids := sel.IDs()
	if len(ids) == 0 {
		return v, nil
	}
	attrs, err := p.Q.GetVariantAttributes(ctx, ids)
	if err != nil {
		return Variant{}, err
	}
	if len(attrs) != len(ids) {
		return Variant{}, fmt.Errorf("%w: want %d attributes, found %d", ErrAttributeNotFound, len(ids), len(attrs))
	}
	for _, attr := range attrs {
		if attr.PriceDelta != nil {
			v.AttributeDeltas = append(v.AttributeDeltas, *attr.PriceDelta)
		}
		if attr.Stock != nil {
			v.StockAttrIDs = append(v.StockAttrIDs, attr.ID)
		}
		switch attr.Kind {
		case "size":
			v.Labels.Size = attr.Label
		case "weight":
			v.Labels.Weight = attr.Label
			if attr.WeightKg != nil {
				kg := *attr.WeightKg
				v.WeightKg = &kg
			}
		case "material":
			v.Labels.Material = attr.Label
		case "color":
			v.Labels.Color = attr.Label
		case "flavor":
			v.Labels.Flavor = attr.Label
		}
	}
	return v, nil
}

// Stock reports the remaining product stock, bypassing the cache.
func (p *Products) Stock(ctx context.Context, id uuid.UUID) (int32, error) {
	if p == nil || p.Q == nil {
		return 0, errors.New("catalog: product accessor not configured")
	}
	row, err := p.Q.GetProductPricing(ctx, id)
	if err != nil {
		return 0, err
	}
	return row.Stock, nil
}

// Decrement lowers product stock and, for stock-bearing selected
// attributes, attribute stock. The store applies every decrement of the
// line in one transaction, so an insufficient row leaves the others
// untouched and the whole line stays owed.
func (p *Products) Decrement(ctx context.Context, id uuid.UUID, sel Selection, n int32) error {
	if p == nil || p.Q == nil {
		return errors.New("catalog: product accessor not configured")
	}
	if n <= 0 {
		return fmt.Errorf("catalog: decrement count must be positive, got %d", n)
	}
	var stockIDs []int64
	if ids := sel.IDs(); len(ids) > 0 {
		attrs, err := p.Q.GetVariantAttributes(ctx, ids)
		if err != nil {
			return err
		}
		for _, attr := range attrs {
			if attr.Stock != nil {
				stockIDs = append(stockIDs, attr.ID)
			}
		}
	}
	return p.Q.DecrementStock(ctx, id, stockIDs, n)
}
