package analytics_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/tienda-labs/backend-tienda/internal/analytics"
	"github.com/tienda-labs/backend-tienda/internal/catalog"
	"github.com/tienda-labs/backend-tienda/internal/money"
	"github.com/tienda-labs/backend-tienda/internal/store"
)

type memSink struct {
	rows []store.InteractionParams
}

func (s *memSink) InsertProductInteraction(_ context.Context, arg store.InteractionParams) error {
	s.rows = append(s.rows, arg)
	return nil
}

func TestHandlerPersistsInteraction(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	it := analytics.RefInteraction(userID, catalog.Ref{Kind: catalog.KindProduct, ID: uuid.New()}, analytics.KindPurchase, 2, money.MustFromString("19.98"))
	payload, err := json.Marshal(it)
	require.NoError(t, err)

	sink := &memSink{}
	h := &analytics.Handler{Sink: sink}
	require.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask(analytics.TaskInteraction, payload)))

	require.Len(t, sink.rows, 1)
	row := sink.rows[0]
	require.Equal(t, userID, *row.UserID)
	require.Equal(t, "product", row.ItemKind)
	require.Equal(t, analytics.KindPurchase, row.Interaction)
	require.Equal(t, int32(2), row.Quantity)
	require.True(t, row.Amount.Equal(money.MustFromString("19.98")))
	require.WithinDuration(t, time.Now().UTC(), row.OccurredAt, 5*time.Second)
}

func TestHandlerRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	h := &analytics.Handler{Sink: &memSink{}}
	err := h.ProcessTask(context.Background(), asynq.NewTask(analytics.TaskInteraction, []byte("not json")))
	require.Error(t, err)
}

func TestNopEmitterDrops(t *testing.T) {
	t.Parallel()

	require.NoError(t, analytics.NopEmitter{}.Emit(context.Background(), analytics.Interaction{}))
}
