package stream

import "sync"

// Buffer is a Sink that keeps every event in memory.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Send appends ev.
func (b *Buffer) Send(ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

// Events returns a copy of the buffered events.
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event{}, b.events...)
}

// Types returns the buffered event types in order.
func (b *Buffer) Types() []EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]EventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}
