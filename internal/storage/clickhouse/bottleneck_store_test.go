package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditnet-lab/internal/domain"
	"creditnet-lab/internal/storage"
)

func TestBottleneckStore_InsertBulkAndGetByRun(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBottleneckStore(conn)
	ctx := context.Background()

	rows := []*domain.EdgeBottleneck{
		{RunID: "run-1", Tick: 10, Equivalent: "UAH", Creditor: "b", Debtor: "a", Limit: 100, Debt: 60, Utilization: 0.6},
		{RunID: "run-1", Tick: 10, Equivalent: "UAH", Creditor: "c", Debtor: "b", Limit: 100, Debt: 90, Utilization: 0.9},
		{RunID: "run-1", Tick: 20, Equivalent: "UAH", Creditor: "b", Debtor: "a", Limit: 100, Debt: 70, Utilization: 0.7},
		{RunID: "run-other", Tick: 10, Equivalent: "UAH", Creditor: "x", Debtor: "y", Limit: 50, Debt: 25, Utilization: 0.5},
	}
	require.NoError(t, store.InsertBulk(ctx, rows))

	got, err := store.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Ordered by tick ascending, worst utilization first within a tick.
	assert.Equal(t, int64(10), got[0].Tick)
	assert.Equal(t, "c", got[0].Creditor)
	assert.InDelta(t, 0.9, got[0].Utilization, 1e-9)
	assert.Equal(t, "b", got[1].Creditor)
	assert.Equal(t, int64(20), got[2].Tick)
	assert.InDelta(t, 100, got[2].Limit, 1e-9)
	assert.InDelta(t, 70, got[2].Debt, 1e-9)
}

func TestBottleneckStore_RewriteIsIdempotent(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBottleneckStore(conn)
	ctx := context.Background()

	row := &domain.EdgeBottleneck{RunID: "run-retry", Tick: 5, Equivalent: "UAH", Creditor: "b", Debtor: "a", Limit: 100, Debt: 50, Utilization: 0.5}
	require.NoError(t, store.InsertBulk(ctx, []*domain.EdgeBottleneck{row}))

	row.Debt = 55
	row.Utilization = 0.55
	require.NoError(t, store.InsertBulk(ctx, []*domain.EdgeBottleneck{row}))

	got, err := store.GetByRun(ctx, "run-retry")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.55, got[0].Utilization, 1e-9)
}

func TestBottleneckStore_EmptyBatch(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBottleneckStore(conn)
	require.NoError(t, store.InsertBulk(context.Background(), nil))
}

func TestBottleneckStore_InvalidRow(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBottleneckStore(conn)
	err := store.InsertBulk(context.Background(), []*domain.EdgeBottleneck{{RunID: ""}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
