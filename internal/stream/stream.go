// Package stream fans machine events out to live subscribers. Every
// subscription is bound to one tenant and only ever sees that tenant's
// events.
package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/models"
)

// subscriberBuffer is how many events a slow subscriber may lag before
// events are dropped for it.
const subscriberBuffer = 16

type Broker interface {
	Publish(ctx context.Context, tenantID uuid.UUID, ev models.MachineEvent) error

	// Subscribe returns a channel of the tenant's events. The channel is
	// closed once ctx ends.
	Subscribe(ctx context.Context, tenantID uuid.UUID) (<-chan models.MachineEvent, error)
}

// Hub is an in-process Broker for a single server instance.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[int]chan models.MachineEvent
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[int]chan models.MachineEvent)}
}

func (h *Hub) Subscribe(ctx context.Context, tenantID uuid.UUID) (<-chan models.MachineEvent, error) {
	ch := make(chan models.MachineEvent, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = make(map[int]chan models.MachineEvent)
	}
	h.subs[tenantID][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[tenantID], id)
		if len(h.subs[tenantID]) == 0 {
			delete(h.subs, tenantID)
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch, nil
}

func (h *Hub) Publish(_ context.Context, tenantID uuid.UUID, ev models.MachineEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[tenantID] {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
	return nil
}
