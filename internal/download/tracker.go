package download

import "sync"

// subscriberBuffer bounds per-subscriber backlog; slow readers lose the
// oldest intermediate values but always see the latest one.
const subscriberBuffer = 16

// Tracker holds the latest Progress per artifact id and fans updates out to
// subscribers. Readers never block publishers.
type Tracker struct {
	mu     sync.Mutex
	state  map[string]Progress
	subs   map[string]map[int]chan Progress
	nextID int
	hooks  []func(id string, p Progress)
}

func NewTracker() *Tracker {
	return &Tracker{
		state: make(map[string]Progress),
		subs:  make(map[string]map[int]chan Progress),
	}
}

// Get returns the latest progress for id (Idle when unknown).
func (t *Tracker) Get(id string) Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.state[id]; ok {
		return p
	}
	return Progress{Phase: PhaseIdle}
}

// Snapshot copies the whole progress table.
func (t *Tracker) Snapshot() map[string]Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Progress, len(t.state))
	for k, v := range t.state {
		out[k] = v
	}
	return out
}

// Subscribe returns a channel that first yields the current value and then
// every subsequent update for id. The cancel func must be called to release it.
func (t *Tracker) Subscribe(id string) (<-chan Progress, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Progress, subscriberBuffer)
	if p, ok := t.state[id]; ok {
		ch <- p
	} else {
		ch <- Progress{Phase: PhaseIdle}
	}
	if t.subs[id] == nil {
		t.subs[id] = make(map[int]chan Progress)
	}
	sid := t.nextID
	t.nextID++
	t.subs[id][sid] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs[id], sid)
			if len(t.subs[id]) == 0 {
				delete(t.subs, id)
			}
			t.mu.Unlock()
			close(ch)
		})
	}
}

// OnPublish registers a synchronous observer invoked for every update, in
// publish order. Observers must not call back into the Tracker.
func (t *Tracker) OnPublish(fn func(id string, p Progress)) {
	t.mu.Lock()
	t.hooks = append(t.hooks, fn)
	t.mu.Unlock()
}

func (t *Tracker) publish(id string, p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state[id] = p
	for _, fn := range t.hooks {
		fn(id, p)
	}
	for _, ch := range t.subs[id] {
		select {
		case ch <- p:
		default:
			// drop the oldest queued value to make room for the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p:
			default:
			}
		}
	}
}
