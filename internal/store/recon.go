package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Reconciliation task statuses.
const (
	ReconStatusPending = "pending"
	ReconStatusDone    = "done"
	ReconStatusGaveUp  = "gave_up"
)

// ReconTaskRow is one post-payment step that failed inline and must be
// replayed until it lands.
type ReconTaskRow struct {
	ID        int64
	OrderID   uuid.UUID
	Step      string
	Payload   []byte
	Status    string
	Attempts  int32
	LastError *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InsertReconTask enqueues a reconciliation step for an order.
func (s *Store) InsertReconTask(ctx context.Context, orderID uuid.UUID, step string, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	const q = `
		INSERT INTO reconciliation_tasks (order_id, step, payload)
		VALUES ($1, $2, $3)
		RETURNING id`
	var id int64
	if err := s.db.QueryRow(ctx, q, orderID, step, data).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetReconTask fetches one task.
func (s *Store) GetReconTask(ctx context.Context, id int64) (ReconTaskRow, error) {
	const q = `
		SELECT id, order_id, step, payload, status, attempts, last_error, created_at, updated_at
		FROM reconciliation_tasks WHERE id = $1`
	var t ReconTaskRow
	err := s.db.QueryRow(ctx, q, id).Scan(&t.ID, &t.OrderID, &t.Step, &t.Payload,
		&t.Status, &t.Attempts, &t.LastError, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return ReconTaskRow{}, notFound(err)
	}
	return t, nil
}

// SetReconTaskPayload rewrites what a pending task still owes. The
// stock replay shrinks its payload as lines land, so a retry never
// repeats a decrement that already committed.
func (s *Store) SetReconTaskPayload(ctx context.Context, id int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	const q = `UPDATE reconciliation_tasks SET payload = $2, updated_at = now() WHERE id = $1`
	_, err = s.db.Exec(ctx, q, id, data)
	return err
}

// MarkReconTaskDone records a successful replay.
func (s *Store) MarkReconTaskDone(ctx context.Context, id int64) error {
	const q = `
		UPDATE reconciliation_tasks
		SET status = $2, attempts = attempts + 1, updated_at = now()
		WHERE id = $1`
	_, err := s.db.Exec(ctx, q, id, ReconStatusDone)
	return err
}

// MarkReconTaskFailed records a failed attempt. The task stays pending
// unless gaveUp is set after the retry budget is spent.
func (s *Store) MarkReconTaskFailed(ctx context.Context, id int64, lastError string, gaveUp bool) error {
	status := ReconStatusPending
	if gaveUp {
		status = ReconStatusGaveUp
	}
	const q = `
		UPDATE reconciliation_tasks
		SET status = $2, attempts = attempts + 1, last_error = $3, updated_at = now()
		WHERE id = $1`
	_, err := s.db.Exec(ctx, q, id, status, lastError)
	return err
}
