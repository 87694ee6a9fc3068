// Package analytics feeds the product interaction pipeline. Emission
// is best effort: callers log failures and move on, they never fail a
// cart mutation or a checkout over analytics.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/money"
	"github.com/tienda-labs/backend-tienda/internal/store"
)

// TaskInteraction is the asynq task type carrying one interaction.
const TaskInteraction = "analytics:interaction"

// QueueAnalytics is the asynq queue interactions land on.
const QueueAnalytics = "analytics"

// Interaction kinds.
const (
	KindAddToCart      = "add_to_cart"
	KindRemoveFromCart = "remove_from_cart"
	KindPurchase       = "purchase"
)

// Interaction is one user signal about an item.
type Interaction struct {
	UserID     *uuid.UUID     `json:"userId,omitempty"`
	ItemKind   string         `json:"itemKind"`
	ItemID     uuid.UUID      `json:"itemId"`
	Kind       string         `json:"kind"`
	Quantity   int32          `json:"quantity"`
	Amount     money.Amount   `json:"amount"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Emitter publishes interactions.
type Emitter interface {
	Emit(ctx context.Context, it Interaction) error
}

// QueueEmitter enqueues interactions onto asynq for the worker to
// persist. Retries are the queue's problem, not the caller's.
type QueueEmitter struct {
	Client *asynq.Client
}

// Emit enqueues one interaction.
func (e *QueueEmitter) Emit(ctx context.Context, it Interaction) error {
	if e == nil || e.Client == nil {
		return nil
	}
	if it.OccurredAt.IsZero() {
		it.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(it)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskInteraction, payload)
	_, err = e.Client.EnqueueContext(ctx, task, asynq.Queue(QueueAnalytics), asynq.MaxRetry(5))
	return err
}

// NopEmitter drops interactions. Used in tests and degraded startup.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Interaction) error { return nil }

// Sink is the persistence dependency of the worker-side handler.
type Sink interface {
	InsertProductInteraction(ctx context.Context, arg store.InteractionParams) error
}

// Handler consumes interaction tasks in the worker and writes rows.
type Handler struct {
	Sink Sink
}

// ProcessTask implements asynq.Handler for TaskInteraction.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var it Interaction
	if err := json.Unmarshal(t.Payload(), &it); err != nil {
		return err
	}
	return h.Sink.InsertProductInteraction(ctx, store.InteractionParams{
		UserID:      it.UserID,
		ItemKind:    it.ItemKind,
		ItemID:      it.ItemID,
		Interaction: it.Kind,
		Quantity:    it.Quantity,
		Amount:      it.Amount,
		Metadata:    it.Metadata,
		OccurredAt:  it.OccurredAt,
	})
}

// RefInteraction builds an interaction for a catalog ref.
func RefInteraction(userID uuid.UUID, ref catalog.Ref, kind string, qty int32, amount money.Amount) Interaction {
	uid := userID
	return Interaction{
		UserID:     &uid,
		ItemKind:   string(ref.Kind),
		ItemID:     ref.ID,
		Kind:       kind,
		Quantity:   qty,
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	}
}
