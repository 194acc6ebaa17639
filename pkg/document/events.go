package document

import (
	"encoding/json"
	"sync"
)

// Event is one bus notification. Extra carries engine-specific fields,
// inlined on serialization.
type Event struct {
	Event    string         `json:"event"`
	Document string         `json:"document,omitempty"`
	GUID     string         `json:"guid,omitempty"`
	Seqno    int64          `json:"seqno,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
	Extra    map[string]any `json:"-"`
}

// MarshalJSON inlines Extra next to the fixed fields.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	data, err := json.Marshal(alias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return data, nil
	}
	merged := make(map[string]any)
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for name, value := range e.Extra {
		merged[name] = value
	}
	return json.Marshal(merged)
}

// field returns a named event attribute for condition matching.
func (e Event) field(name string) (any, bool) {
	switch name {
	case "event":
		return e.Event, true
	case "document":
		return e.Document, true
	case "guid":
		return e.GUID, true
	case "seqno":
		return e.Seqno, true
	}
	value, ok := e.Extra[name]
	return value, ok
}

// Condition filters events by attribute equality; every entry must
// match. Values may be lists, OR-ed per attribute.
type Condition map[string]any

// Match reports whether the event satisfies the condition.
func (c Condition) Match(e Event) bool {
	for name, want := range c {
		value, ok := e.field(name)
		if !ok {
			return false
		}
		if values, ok := want.([]any); ok {
			hit := false
			for _, item := range values {
				if item == value {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
			continue
		}
		if want != value {
			return false
		}
	}
	return true
}

type subscriber struct {
	ch        chan Event
	condition Condition
}

// Broker fans events out to subscribers. Delivery is non-blocking; a
// subscriber that cannot keep up loses events rather than stalling
// writers.
type Broker struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*subscriber)}
}

// Subscribe registers a listener; cancel removes it and closes the
// channel.
func (b *Broker) Subscribe(condition Condition) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	sub := &subscriber{
		ch:        make(chan Event, 64),
		condition: condition,
	}
	b.subs[id] = sub
	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}
}

// Publish delivers the event to every matching subscriber.
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.condition != nil && !sub.condition.Match(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}
