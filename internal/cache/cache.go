package cache

import (
	"context"
	"sync"

	"tillbook/backend/internal/domain"
)

// ShiftCache holds the per-terminal active shift pointer. It must survive
// process restarts on a real deployment, which is what the Redis variant is for.
type ShiftCache interface {
	GetActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.ShiftPointer, error)
	SetActiveShift(ctx context.Context, ptr domain.ShiftPointer) error
	ClearActiveShift(ctx context.Context, storeID string, terminalID string) error
}

type MemoryShiftCache struct {
	mu       sync.RWMutex
	pointers map[string]domain.ShiftPointer
}

func NewMemoryShiftCache() *MemoryShiftCache {
	return &MemoryShiftCache{pointers: make(map[string]domain.ShiftPointer)}
}

func (c *MemoryShiftCache) GetActiveShift(_ context.Context, storeID string, terminalID string) (*domain.ShiftPointer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ptr, ok := c.pointers[pointerKey(storeID, terminalID)]
	if !ok {
		return nil, nil
	}
	return &ptr, nil
}

func (c *MemoryShiftCache) SetActiveShift(_ context.Context, ptr domain.ShiftPointer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pointers[pointerKey(ptr.StoreID, ptr.TerminalID)] = ptr
	return nil
}

func (c *MemoryShiftCache) ClearActiveShift(_ context.Context, storeID string, terminalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pointers, pointerKey(storeID, terminalID))
	return nil
}

func pointerKey(storeID string, terminalID string) string {
	return "tillbook:active-shift:" + storeID + ":" + terminalID
}
