package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

// InsertDomainEvent appends one event to the audit log. Payload must be
// JSON-marshalable.
func (s *Store) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	const q = `INSERT INTO domain_events (topic, aggregate_id, payload) VALUES ($1, $2, $3)`
	_, err = s.db.Exec(ctx, q, topic, aggregateID, data)
	return err
}

// InteractionParams is one recorded product interaction.
type InteractionParams struct {
	UserID      *uuid.UUID
	ItemKind    string
	ItemID      uuid.UUID
	Interaction string
	Quantity    int32
	Amount      money.Amount
	Metadata    map[string]any
	OccurredAt  time.Time
}

// InsertProductInteraction records a view, add-to-cart or purchase
// signal for the recommendation pipeline.
func (s *Store) InsertProductInteraction(ctx context.Context, arg InteractionParams) error {
	meta := arg.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	occurred := arg.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	const q = `
		INSERT INTO product_interactions (user_id, item_kind, item_id, interaction, quantity, amount, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.db.Exec(ctx, q, arg.UserID, arg.ItemKind, arg.ItemID, arg.Interaction,
		arg.Quantity, money.ToNumeric(arg.Amount), data, occurred)
	return err
}
