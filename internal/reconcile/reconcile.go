// Package reconcile replays post-payment steps that failed inline.
// After capture the money has moved, so stock decrements, coupon
// redemption, analytics and cart clearing are retried until they land
// instead of rolling the order back.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/tienda-labs/backend-tienda/internal/analytics"
	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/store"
)

// TaskReplay is the asynq task type for one persisted reconciliation
// step.
const TaskReplay = "reconcile:replay"

// QueueReconcile is the asynq queue reconciliation runs on.
const QueueReconcile = "reconcile"

// Steps a checkout can leave behind.
const (
	StepStock     = "stock_decrement"
	StepCoupon    = "coupon_redemption"
	StepAnalytics = "purchase_analytics"
	StepClearCart = "cart_clear"
)

const maxAttempts = 10

// ReplayPayload points the worker at the persisted task row.
type ReplayPayload struct {
	TaskID int64 `json:"taskId"`
}

// NewReplayTask builds the asynq task for a persisted step.
func NewReplayTask(taskID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(ReplayPayload{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReplay, payload), nil
}

// StockPayload carries the line decrements still owed.
type StockPayload struct {
	Lines []StockLine `json:"lines"`
}

// StockLine is one owed decrement.
type StockLine struct {
	Kind      string            `json:"kind"`
	ItemID    uuid.UUID         `json:"itemId"`
	Selection catalog.Selection `json:"selection"`
	Count     int32             `json:"count"`
}

// CouponPayload carries an owed redemption record.
type CouponPayload struct {
	CouponID uuid.UUID `json:"couponId"`
	UserID   uuid.UUID `json:"userId"`
	OrderID  uuid.UUID `json:"orderId"`
}

// AnalyticsPayload carries owed purchase interactions.
type AnalyticsPayload struct {
	Interactions []analytics.Interaction `json:"interactions"`
}

// ClearCartPayload carries the cart still to be emptied.
type ClearCartPayload struct {
	CartID uuid.UUID `json:"cartId"`
}

// Repo is the store access the replayer needs.
type Repo interface {
	GetReconTask(ctx context.Context, id int64) (store.ReconTaskRow, error)
	SetReconTaskPayload(ctx context.Context, id int64, payload any) error
	MarkReconTaskDone(ctx context.Context, id int64) error
	MarkReconTaskFailed(ctx context.Context, id int64, lastError string, gaveUp bool) error
	RecordCouponUsage(ctx context.Context, couponID, userID, orderID uuid.UUID) (bool, error)
	InsertProductInteraction(ctx context.Context, arg store.InteractionParams) error
	ClearCart(ctx context.Context, cartID uuid.UUID) error
}

// Handler executes replay tasks in the worker.
type Handler struct {
	Repo    Repo
	Catalog *catalog.Registry
}

// ProcessTask implements asynq.Handler for TaskReplay.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ReplayPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	task, err := h.Repo.GetReconTask(ctx, p.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("task %d vanished: %w", p.TaskID, asynq.SkipRetry)
		}
		return err
	}
	if task.Status != store.ReconStatusPending {
		return nil
	}

	if err := h.replay(ctx, task); err != nil {
		gaveUp := task.Attempts+1 >= maxAttempts || errors.Is(err, catalog.ErrInsufficientStock)
		if markErr := h.Repo.MarkReconTaskFailed(ctx, task.ID, err.Error(), gaveUp); markErr != nil {
			return markErr
		}
		if gaveUp {
			// Left for manual review; retrying cannot help.
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return h.Repo.MarkReconTaskDone(ctx, task.ID)
}

func (h *Handler) replay(ctx context.Context, task store.ReconTaskRow) error {
	switch task.Step {
	case StepStock:
		var p StockPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return err
		}
		var (
			owed []StockLine
			errs []error
		)
		for _, l := range p.Lines {
			ref := catalog.Ref{Kind: catalog.Kind(l.Kind), ID: l.ItemID}
			if err := h.Catalog.Decrement(ctx, ref, l.Selection, l.Count); err != nil {
				owed = append(owed, l)
				errs = append(errs, err)
			}
		}
		if len(owed) == 0 {
			return nil
		}
		// Lines that landed are dropped from the payload, so the next
		// attempt decrements only what is still owed.
		if len(owed) < len(p.Lines) {
			if err := h.Repo.SetReconTaskPayload(ctx, task.ID, StockPayload{Lines: owed}); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	case StepCoupon:
		var p CouponPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return err
		}
		_, err := h.Repo.RecordCouponUsage(ctx, p.CouponID, p.UserID, p.OrderID)
		return err
	case StepAnalytics:
		var p AnalyticsPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return err
		}
		for _, it := range p.Interactions {
			err := h.Repo.InsertProductInteraction(ctx, store.InteractionParams{
				UserID:      it.UserID,
				ItemKind:    it.ItemKind,
				ItemID:      it.ItemID,
				Interaction: it.Kind,
				Quantity:    it.Quantity,
				Amount:      it.Amount,
				Metadata:    it.Metadata,
				OccurredAt:  it.OccurredAt,
			})
			if err != nil {
				return err
			}
		}
		return nil
	case StepClearCart:
		var p ClearCartPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return err
		}
		return h.Repo.ClearCart(ctx, p.CartID)
	}
	return fmt.Errorf("unknown step %q: %w", task.Step, asynq.SkipRetry)
}
