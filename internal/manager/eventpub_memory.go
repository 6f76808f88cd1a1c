package manager

import "sync"

// MemoryPublisher records every event in memory. Tests use it to assert on
// the manager's lifecycle events.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Named returns the events with the given name, in publish order.
func (p *MemoryPublisher) Named(name string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
