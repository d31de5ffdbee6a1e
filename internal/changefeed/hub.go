package changefeed

import (
	"context"
	"errors"
	"sync"
	"time"
)

type Collection string

const (
	Customers Collection = "customers"
	Products  Collection = "products"
	Orders    Collection = "orders"
	Payments  Collection = "payments"
)

const DefaultSubscriberBuffer = 16

var (
	ErrHubUnavailable    = errors.New("hub_unavailable")
	ErrInvalidCollection = errors.New("invalid_collection")
)

// Collections lists every collection a subscriber may watch.
func Collections() []Collection {
	return []Collection{Customers, Products, Orders, Payments}
}

// ParseCollection validates a collection name from the outside world.
func ParseCollection(name string) (Collection, error) {
	for _, c := range Collections() {
		if string(c) == name {
			return c, nil
		}
	}
	return "", ErrInvalidCollection
}

// Event signals that a collection changed. Subscribers reload the
// collection rather than apply the event as a delta.
type Event struct {
	Collection Collection `json:"collection"`
	Op         string     `json:"op"`
	ID         string     `json:"id,omitempty"`
	At         time.Time  `json:"at"`
	Origin     string     `json:"origin,omitempty"`
}

// Publisher is what write paths depend on.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

// Hub fans events out to in-process subscribers.
type Hub struct {
	mu               sync.RWMutex
	subs             map[uint64]*Subscription
	nextID           uint64
	subscriberBuffer int
	forward          func(ctx context.Context, event Event)
	observe          func(ctx context.Context, event Event)
	observers        map[uint64]observer
}

type observer struct {
	filter map[Collection]struct{}
	fn     func(ctx context.Context, event Event)
}

// Subscription is owned by the caller and must be closed by it.
type Subscription struct {
	hub    *Hub
	id     uint64
	filter map[Collection]struct{}
	ch     chan Event
	once   sync.Once
	done   chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs:             make(map[uint64]*Subscription),
		observers:        make(map[uint64]observer),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers events to local subscribers and, when a bridge is
// attached, to other instances.
func (h *Hub) Publish(ctx context.Context, events ...Event) {
	if h == nil {
		return
	}
	for _, event := range events {
		if event.At.IsZero() {
			event.At = time.Now().UTC()
		}
		h.deliver(ctx, event)
		if h.forward != nil {
			h.forward(ctx, event)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, event Event) {
	if h.observe != nil {
		h.observe(ctx, event)
	}

	h.mu.RLock()
	hooks := make([]func(context.Context, Event), 0, len(h.observers))
	for _, o := range h.observers {
		if wants(o.filter, event.Collection) {
			hooks = append(hooks, o.fn)
		}
	}
	h.mu.RUnlock()

	// Observers finish before any subscriber sees the event, so a
	// subscriber that reloads on it reads post-change state.
	for _, fn := range hooks {
		fn(ctx, event)
	}

	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.wants(event.Collection) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.offer(event)
	}
}

// Subscribe watches the given collections, or all of them when none are
// named.
func (h *Hub) Subscribe(collections ...Collection) (*Subscription, error) {
	if h == nil {
		return nil, ErrHubUnavailable
	}
	filter, err := parseFilter(collections)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	sub := &Subscription{
		hub:    h,
		id:     id,
		filter: filter,
		ch:     make(chan Event, h.subscriberBuffer),
		done:   make(chan struct{}),
	}
	h.subs[id] = sub
	return sub, nil
}

// OnChange registers fn to run synchronously for every matching event,
// ahead of subscriber delivery. fn must not block or publish. The returned
// func removes it.
func (h *Hub) OnChange(fn func(ctx context.Context, event Event), collections ...Collection) (func(), error) {
	if h == nil {
		return nil, ErrHubUnavailable
	}
	filter, err := parseFilter(collections)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.observers == nil {
		h.observers = make(map[uint64]observer)
	}
	id := h.nextID
	h.nextID++
	h.observers[id] = observer{filter: filter, fn: fn}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.observers, id)
			h.mu.Unlock()
		})
	}, nil
}

func parseFilter(collections []Collection) (map[Collection]struct{}, error) {
	filter := make(map[Collection]struct{}, len(collections))
	for _, c := range collections {
		if _, err := ParseCollection(string(c)); err != nil {
			return nil, err
		}
		filter[c] = struct{}{}
	}
	return filter, nil
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (s *Subscription) wants(c Collection) bool {
	return wants(s.filter, c)
}

func wants(filter map[Collection]struct{}, c Collection) bool {
	if len(filter) == 0 {
		return true
	}
	_, ok := filter[c]
	return ok
}

// offer never blocks the publisher. A full buffer sheds its oldest event;
// since every event means "reload", the newest one is enough.
func (s *Subscription) offer(event Event) {
	select {
	case <-s.done:
		return
	default:
	}
	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.done
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.id)
		close(s.done)
	})
}
