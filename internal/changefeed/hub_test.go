package changefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("expected an event")
		return Event{}
	}
}

func TestSubscribeFiltersByCollection(t *testing.T) {
	hub := NewHub()
	orders, err := hub.Subscribe(Orders)
	require.NoError(t, err)
	defer orders.Close()
	all, err := hub.Subscribe()
	require.NoError(t, err)
	defer all.Close()

	hub.Publish(context.Background(),
		Event{Collection: Customers, Op: "update", ID: "1"},
		Event{Collection: Orders, Op: "create", ID: "2"},
	)

	ev := receive(t, orders)
	assert.Equal(t, Orders, ev.Collection)
	assert.False(t, ev.At.IsZero())
	select {
	case extra := <-orders.Events():
		t.Fatalf("unexpected event %+v", extra)
	default:
	}

	assert.Equal(t, Customers, receive(t, all).Collection)
	assert.Equal(t, Orders, receive(t, all).Collection)
}

func TestSubscribeRejectsUnknownCollection(t *testing.T) {
	_, err := NewHub().Subscribe(Collection("invoices"))
	assert.ErrorIs(t, err, ErrInvalidCollection)

	var nilHub *Hub
	_, err = nilHub.Subscribe()
	assert.ErrorIs(t, err, ErrHubUnavailable)
}

func TestCloseIsIdempotentAndDetaches(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers())

	select {
	case <-sub.Done():
	default:
		t.Fatalf("done channel should be closed")
	}

	hub.Publish(context.Background(), Event{Collection: Orders})
	select {
	case ev := <-sub.Events():
		t.Fatalf("closed subscription received %+v", ev)
	default:
	}
}

func TestSlowSubscriberKeepsNewestEvents(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Subscribe(Payments)
	require.NoError(t, err)
	defer sub.Close()

	total := DefaultSubscriberBuffer * 3
	for i := 0; i < total; i++ {
		hub.Publish(context.Background(), Event{Collection: Payments, ID: string(rune('a' + i%26))})
	}

	var last Event
	count := 0
	for {
		select {
		case ev := <-sub.Events():
			last = ev
			count++
			continue
		default:
		}
		break
	}
	assert.Equal(t, DefaultSubscriberBuffer, count)
	assert.Equal(t, string(rune('a'+(total-1)%26)), last.ID)
}

func TestConcurrentPublishAndClose(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := hub.Subscribe()
			if err != nil {
				t.Errorf("subscribe: %v", err)
				return
			}
			for j := 0; j < 50; j++ {
				hub.Publish(context.Background(), Event{Collection: Customers})
			}
			sub.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestOnChangeRunsBeforeSubscribers(t *testing.T) {
	hub := NewHub()
	var (
		mu       sync.Mutex
		observed []Collection
	)
	cancel, err := hub.OnChange(func(_ context.Context, ev Event) {
		mu.Lock()
		observed = append(observed, ev.Collection)
		mu.Unlock()
	}, Orders)
	require.NoError(t, err)

	sub, err := hub.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	hub.Publish(context.Background(), Event{Collection: Orders, Op: "create"})
	receive(t, sub)
	mu.Lock()
	assert.Equal(t, []Collection{Orders}, observed)
	mu.Unlock()

	hub.Publish(context.Background(), Event{Collection: Customers, Op: "update"})
	receive(t, sub)
	mu.Lock()
	assert.Len(t, observed, 1, "filtered collection is not observed")
	mu.Unlock()

	cancel()
	cancel()
	hub.Publish(context.Background(), Event{Collection: Orders, Op: "delete"})
	receive(t, sub)
	mu.Lock()
	assert.Len(t, observed, 1)
	mu.Unlock()
}

func TestOnChangeRejectsUnknownCollection(t *testing.T) {
	_, err := NewHub().OnChange(func(context.Context, Event) {}, Collection("ledger"))
	assert.ErrorIs(t, err, ErrInvalidCollection)
}
