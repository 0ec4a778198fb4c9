package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
)

func TestMemoryShiftCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryShiftCache()

	ptr, err := c.GetActiveShift(ctx, "s1", "t1")
	require.NoError(t, err)
	assert.Nil(t, ptr)

	want := domain.ShiftPointer{ShiftID: "shift-1", StoreID: "s1", TerminalID: "t1", StartAmountCents: 2000, StartTime: time.Now().UTC()}
	require.NoError(t, c.SetActiveShift(ctx, want))

	got, err := c.GetActiveShift(ctx, "s1", "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, *got)

	other, err := c.GetActiveShift(ctx, "s1", "t2")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, c.ClearActiveShift(ctx, "s1", "t1"))
	got, err = c.GetActiveShift(ctx, "s1", "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisShiftCacheDefaultsTTL(t *testing.T) {
	c := NewRedisShiftCache(NewRedisClient("127.0.0.1:0", "", 0), 0)
	t.Cleanup(func() { _ = c.client.Close() })
	assert.Equal(t, 24*time.Hour, c.ttl)
}
