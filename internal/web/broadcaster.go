package web

import (
	"sync"

	"pizero-gpslog/internal/gpslogger"
)

// FixBroadcaster fans logger state snapshots out to any listeners (SSE).
// It keeps the most recent value so new subscribers get an immediate sample.
// Slow subscribers miss samples rather than blocking the logger.
type FixBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan gpslogger.State
	nextID   int
	last     gpslogger.State
	haveLast bool
}

func NewFixBroadcaster() *FixBroadcaster {
	return &FixBroadcaster{subs: make(map[int]chan gpslogger.State)}
}

func (b *FixBroadcaster) Subscribe(buffer int) (int, <-chan gpslogger.State) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan gpslogger.State, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last, have := b.last, b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *FixBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish has the signature gpslogger.Config.OnState expects.
func (b *FixBroadcaster) Publish(st gpslogger.State) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = st
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (b *FixBroadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
