package changefeed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRedisChannel = "balancebook:changefeed"

// RedisBridge relays hub events between service instances over Redis
// pub/sub so every instance's subscribers see every write.
type RedisBridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
	origin  string
	log     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// AttachRedis hooks the bridge into hub. Events published locally are
// forwarded to Redis from then on; Start begins relaying remote events.
func AttachRedis(hub *Hub, client *redis.Client, log *zap.Logger) *RedisBridge {
	b := &RedisBridge{
		client:  client,
		hub:     hub,
		channel: DefaultRedisChannel,
		origin:  uuid.NewString(),
		log:     log.Named("changefeed.redis"),
	}
	hub.forward = b.forward
	return b
}

func (b *RedisBridge) forward(ctx context.Context, event Event) {
	event.Origin = b.origin
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Warn("encode event", zap.Error(err))
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.Warn("publish event", zap.Error(err), zap.String("collection", string(event.Collection)))
	}
}

func (b *RedisBridge) Start(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.relay(runCtx, msg.Payload)
			}
		}
	}()
	return nil
}

func (b *RedisBridge) relay(ctx context.Context, payload string) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.log.Warn("decode event", zap.Error(err))
		return
	}
	if event.Origin == b.origin {
		return
	}
	if _, err := ParseCollection(string(event.Collection)); err != nil {
		return
	}
	b.hub.deliver(ctx, event)
}

func (b *RedisBridge) Stop(context.Context) error {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	return nil
}
