// Package events carries generation lifecycle notifications from the
// pipeline components to any number of subscribers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event names emitted by the pipeline components.
const (
	GenerationStarted   = "generation.started"
	GenerationCompleted = "generation.completed"
	GenerationFailed    = "generation.failed"
	StageCompleted      = "stage.completed"
	TemplateResolved    = "template.resolved"
	TemplateInstalled   = "template.installed"
	CacheHit            = "cache.hit"
	CacheMiss           = "cache.miss"
	CatalogInvalidated  = "catalog.invalidated"
)

// Event is one lifecycle notification.
type Event struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emitter is the narrow capability components depend on.
type Emitter interface {
	Emit(name string, fields map[string]interface{})
}

// NopEmitter drops every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(string, map[string]interface{}) {}

// OrNop returns e, or a NopEmitter when e is nil.
func OrNop(e Emitter) Emitter {
	if e == nil {
		return NopEmitter{}
	}
	return e
}

// Bus fans events out to subscriber channels. Delivery is non-blocking: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	subscribers map[string]chan Event
	mutex       sync.RWMutex
	dropped     atomic.Int64
	bufferSize  int
	now         func() time.Time
}

// NewBus creates a bus whose subscriber channels hold bufferSize events.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[string]chan Event),
		bufferSize:  bufferSize,
		now:         time.Now,
	}
}

// Subscribe registers a subscriber. The returned cancel func removes it and
// closes its channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, b.bufferSize)

	b.mutex.Lock()
	b.subscribers[id] = ch
	b.mutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mutex.Lock()
			delete(b.subscribers, id)
			b.mutex.Unlock()
			close(ch)
		})
	}
}

// Emit implements Emitter.
func (b *Bus) Emit(name string, fields map[string]interface{}) {
	event := Event{
		ID:        uuid.NewString(),
		Name:      name,
		Timestamp: b.now(),
		Fields:    fields,
	}

	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was
// not keeping up.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subscribers)
}
