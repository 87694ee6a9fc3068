package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

// Kind tags a sellable item type. Lines reference items by kind+id
// instead of a shared base type; accessors are looked up per kind.
type Kind string

const (
	KindProduct Kind = "product"
	KindCourse  Kind = "course"
)

var (
	// ErrItemNotFound is returned when the referenced item does not exist.
	ErrItemNotFound = errors.New("catalog: item not found")
	// ErrAttributeNotFound is returned for an unknown variant attribute.
	ErrAttributeNotFound = errors.New("catalog: variant attribute not found")
	// ErrInsufficientStock is returned when an atomic decrement would
	// push stock below zero.
	ErrInsufficientStock = errors.New("catalog: insufficient stock")
	// ErrUnsupportedKind is returned for a kind with no registered accessor.
	ErrUnsupportedKind = errors.New("catalog: unsupported item kind")
)

// Ref identifies a sellable item.
type Ref struct {
	Kind Kind
	ID   uuid.UUID
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// Selection holds the optional variant attribute choices of a line.
type Selection struct {
	Size     *int64
	Weight   *int64
	Material *int64
	Color    *int64
	Flavor   *int64
}

// IDs returns the selected attribute ids in a stable order.
func (s Selection) IDs() []int64 {
	ids := make([]int64, 0, 5)
	for _, p := range []*int64{s.Size, s.Weight, s.Material, s.Color, s.Flavor} {
		if p != nil {
			ids = append(ids, *p)
		}
	}
	return ids
}

// Labels are the display names of selected attributes, frozen onto
// order lines at checkout time.
type Labels struct {
	Size     string
	Weight   string
	Material string
	Color    string
	Flavor   string
}

// Variant is the priced view of an item with a concrete selection.
type Variant struct {
	ItemName        string
	BasePrice       money.Amount
	AttributeDeltas []money.Amount
	Labels          Labels
	WeightKg        *money.Amount
	StockAttrIDs    []int64
}

// Accessor resolves pricing and stock for one item kind.
type Accessor interface {
	Resolve(ctx context.Context, id uuid.UUID, sel Selection) (Variant, error)
	Stock(ctx context.Context, id uuid.UUID) (int32, error)
	Decrement(ctx context.Context, id uuid.UUID, sel Selection, n int32) error
}

// Registry maps item kinds to their accessors.
type Registry struct {
	accessors map[Kind]Accessor
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{accessors: map[Kind]Accessor{}}
}

// Register installs an accessor for a kind.
func (r *Registry) Register(kind Kind, a Accessor) {
	r.accessors[kind] = a
}

func (r *Registry) accessor(kind Kind) (Accessor, error) {
	if r == nil {
		return nil, ErrUnsupportedKind
	}
	a, ok := r.accessors[kind]
	if !ok || a == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	return a, nil
}

// Resolve prices the referenced item with the given selection.
func (r *Registry) Resolve(ctx context.Context, ref Ref, sel Selection) (Variant, error) {
	a, err := r.accessor(ref.Kind)
	if err != nil {
		return Variant{}, err
	}
	return a.Resolve(ctx, ref.ID, sel)
}

// Stock reports remaining stock for the referenced item.
func (r *Registry) Stock(ctx context.Context, ref Ref) (int32, error) {
	a, err := r.accessor(ref.Kind)
	if err != nil {
		return 0, err
	}
	return a.Stock(ctx, ref.ID)
}

// Decrement atomically lowers stock for the item and its stock-bearing
// attributes. Implementations must guard against going negative.
func (r *Registry) Decrement(ctx context.Context, ref Ref, sel Selection, n int32) error {
	a, err := r.accessor(ref.Kind)
	if err != nil {
		return err
	}
	return a.Decrement(ctx, ref.ID, sel, n)
}
