package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

// CourseRow is the pricing projection of a course.
type CourseRow struct {
	ID        uuid.UUID
	Title     string
	BasePrice money.Amount
	Active    bool
}

// CourseQuerier defines the database access required by the course
// accessor.
type CourseQuerier interface {
	GetCoursePricing(ctx context.Context, id uuid.UUID) (CourseRow, error)
}

// Courses resolves course pricing. Courses are digital goods: no
// variant attributes, no weight, and no stock to decrement.
type Courses struct {
	Q CourseQuerier
}

// Resolve builds the priced view of a course. Attribute selections are
// rejected since courses carry none.
func (c *Courses) Resolve(ctx context.Context, id uuid.UUID, sel Selection) (Variant, error) {
	if c == nil || c.Q == nil {
		return Variant{}, errors.New("catalog: course accessor not configured")
	}
	if len(sel.IDs()) > 0 {
		return Variant{}, fmt.Errorf("%w: courses have no variant attributes", ErrAttributeNotFound)
	}
	row, err := c.Q.GetCoursePricing(ctx, id)
	if err != nil {
		return Variant{}, err
	}
	return Variant{ItemName: row.Title, BasePrice: row.BasePrice}, nil
}

// Stock reports effectively unlimited availability.
func (c *Courses) Stock(ctx context.Context, id uuid.UUID) (int32, error) {
	if c == nil || c.Q == nil {
		return 0, errors.New("catalog: course accessor not configured")
	}
	if _, err := c.Q.GetCoursePricing(ctx, id); err != nil {
		return 0, err
	}
	return math.MaxInt32, nil
}

// Decrement is a no-op; digital enrollment does not consume stock.
func (c *Courses) Decrement(ctx context.Context, id uuid.UUID, _ Selection, _ int32) error {
	if c == nil || c.Q == nil {
		return errors.New("catalog: course accessor not configured")
	}
	_, err := c.Q.GetCoursePricing(ctx, id)
	return err
}
