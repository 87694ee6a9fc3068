package catalog_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/money"
)

type fakeQuerier struct {
	products     map[uuid.UUID]catalog.ProductRow
	attrs        map[int64]catalog.AttributeRow
	pricingCalls int
}

func (q *fakeQuerier) GetProductPricing(_ context.Context, id uuid.UUID) (catalog.ProductRow, error) {
	q.pricingCalls++
	row, ok := q.products[id]
	if !ok {
		return catalog.ProductRow{}, catalog.ErrItemNotFound
	}
	return row, nil
}

func (q *fakeQuerier) GetVariantAttributes(_ context.Context, ids []int64) ([]catalog.AttributeRow, error) {
	out := make([]catalog.AttributeRow, 0, len(ids))
	for _, id := range ids {
		if a, ok := q.attrs[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// DecrementStock mirrors the store contract: all guards are checked
// before anything is applied, so a miss mutates nothing.
func (q *fakeQuerier) DecrementStock(_ context.Context, id uuid.UUID, attrIDs []int64, n int32) error {
	row, ok := q.products[id]
	if !ok || row.Stock < n {
		return fmt.Errorf("%w: product %s", catalog.ErrInsufficientStock, id)
	}
	for _, attrID := range attrIDs {
		a, ok := q.attrs[attrID]
		if !ok || a.Stock == nil || *a.Stock < n {
			return fmt.Errorf("%w: attribute %d", catalog.ErrInsufficientStock, attrID)
		}
	}
	row.Stock -= n
	q.products[id] = row
	for _, attrID := range attrIDs {
		a := q.attrs[attrID]
		left := *a.Stock - n
		a.Stock = &left
		q.attrs[attrID] = a
	}
	return nil
}

func amt(s string) money.Amount { return money.MustFromString(s) }

func i32(v int32) *int32 { return &v }

func i64(v int64) *int64 { return &v }

func TestProductResolveWithSelection(t *testing.T) {
	t.Parallel()

	productID := uuid.New()
	delta := amt("2.50")
	kg := amt("0.750")
	q := &fakeQuerier{
		products: map[uuid.UUID]catalog.ProductRow{
			productID: {ID: productID, Name: "Hoodie", BasePrice: amt("30.00"), Stock: 10, Active: true},
		},
		attrs: map[int64]catalog.AttributeRow{
			1: {ID: 1, Kind: "size", Label: "XL", PriceDelta: &delta, Stock: i32(4)},
			2: {ID: 2, Kind: "weight", Label: "750g", WeightKg: &kg},
		},
	}
	p := &catalog.Products{Q: q}

	v, err := p.Resolve(context.Background(), productID, catalog.Selection{Size: i64(1), Weight: i64(2)})
	require.NoError(t, err)
	require.Equal(t, "Hoodie", v.ItemName)
	require.Len(t, v.AttributeDeltas, 1)
	require.True(t, v.AttributeDeltas[0].Equal(delta))
	require.Equal(t, "XL", v.Labels.Size)
	require.Equal(t, "750g", v.Labels.Weight)
	require.NotNil(t, v.WeightKg)
	require.True(t, v.WeightKg.Equal(kg))
	require.Equal(t, []int64{1}, v.StockAttrIDs)
}

func TestProductResolveUnknownAttribute(t *testing.T) {
	t.Parallel()

	productID := uuid.New()
	q := &fakeQuerier{
		products: map[uuid.UUID]catalog.ProductRow{
			productID: {ID: productID, Name: "Hoodie", BasePrice: amt("30.00")},
		},
		attrs: map[int64]catalog.AttributeRow{},
	}
	p := &catalog.Products{Q: q}

	_, err := p.Resolve(context.Background(), productID, catalog.Selection{Size: i64(99)})
	require.ErrorIs(t, err, catalog.ErrAttributeNotFound)
}

func TestProductCacheServesSecondResolve(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	productID := uuid.New()
	q := &fakeQuerier{
		products: map[uuid.UUID]catalog.ProductRow{
			productID: {ID: productID, Name: "Mug", BasePrice: amt("9.90"), Stock: 3},
		},
	}
	p := &catalog.Products{Q: q, R: rdb, TTL: time.Minute}
	ctx := context.Background()

	_, err := p.Resolve(ctx, productID, catalog.Selection{})
	require.NoError(t, err)
	v, err := p.Resolve(ctx, productID, catalog.Selection{})
	require.NoError(t, err)
	require.True(t, v.BasePrice.Equal(amt("9.90")))
	require.Equal(t, 1, q.pricingCalls)

	// Stock reads must not be served from the cache.
	stock, err := p.Stock(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, int32(3), stock)
	require.Equal(t, 2, q.pricingCalls)
}

func TestProductDecrementGuards(t *testing.T) {
	t.Parallel()

	productID := uuid.New()
	q := &fakeQuerier{
		products: map[uuid.UUID]catalog.ProductRow{
			productID: {ID: productID, Name: "Hoodie", BasePrice: amt("30.00"), Stock: 5},
		},
		attrs: map[int64]catalog.AttributeRow{
			1: {ID: 1, Kind: "size", Label: "XL", Stock: i32(2)},
		},
	}
	p := &catalog.Products{Q: q}
	ctx := context.Background()
	sel := catalog.Selection{Size: i64(1)}

	require.NoError(t, p.Decrement(ctx, productID, sel, 2))
	require.Equal(t, int32(3), q.products[productID].Stock)
	require.Equal(t, int32(0), *q.attrs[1].Stock)

	// Attribute stock is exhausted now.
	err := p.Decrement(ctx, productID, sel, 1)
	require.ErrorIs(t, err, catalog.ErrInsufficientStock)

	err = p.Decrement(ctx, productID, catalog.Selection{}, 10)
	require.ErrorIs(t, err, catalog.ErrInsufficientStock)
}

func TestProductDecrementFailureLeavesNoPartialState(t *testing.T) {
	t.Parallel()

	productID := uuid.New()
	q := &fakeQuerier{
		products: map[uuid.UUID]catalog.ProductRow{
			productID: {ID: productID, Name: "Hoodie", BasePrice: amt("30.00"), Stock: 5},
		},
		attrs: map[int64]catalog.AttributeRow{
			1: {ID: 1, Kind: "size", Label: "XL", Stock: i32(1)},
		},
	}
	p := &catalog.Products{Q: q}

	err := p.Decrement(context.Background(), productID, catalog.Selection{Size: i64(1)}, 2)
	require.ErrorIs(t, err, catalog.ErrInsufficientStock)

	// Neither row moved: the line is owed in full.
	require.Equal(t, int32(5), q.products[productID].Stock)
	require.Equal(t, int32(1), *q.attrs[1].Stock)
}

type fakeCourseQuerier struct {
	courses map[uuid.UUID]catalog.CourseRow
}

func (q *fakeCourseQuerier) GetCoursePricing(_ context.Context, id uuid.UUID) (catalog.CourseRow, error) {
	row, ok := q.courses[id]
	if !ok {
		return catalog.CourseRow{}, catalog.ErrItemNotFound
	}
	return row, nil
}

func TestCoursesHaveNoVariantsOrStock(t *testing.T) {
	t.Parallel()

	courseID := uuid.New()
	c := &catalog.Courses{Q: &fakeCourseQuerier{courses: map[uuid.UUID]catalog.CourseRow{
		courseID: {ID: courseID, Title: "Go Basics", BasePrice: amt("49.00"), Active: true},
	}}}
	ctx := context.Background()

	v, err := c.Resolve(ctx, courseID, catalog.Selection{})
	require.NoError(t, err)
	require.Equal(t, "Go Basics", v.ItemName)

	_, err = c.Resolve(ctx, courseID, catalog.Selection{Size: i64(1)})
	require.ErrorIs(t, err, catalog.ErrAttributeNotFound)

	stock, err := c.Stock(ctx, courseID)
	require.NoError(t, err)
	require.Greater(t, stock, int32(1_000_000))

	require.NoError(t, c.Decrement(ctx, courseID, catalog.Selection{}, 3))
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	r := catalog.NewRegistry()
	_, err := r.Resolve(context.Background(), catalog.Ref{Kind: "subscription", ID: uuid.New()}, catalog.Selection{})
	require.ErrorIs(t, err, catalog.ErrUnsupportedKind)
}
