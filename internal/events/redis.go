package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gwlsn/fetchray/internal/logger"
	"github.com/gwlsn/fetchray/internal/relay"
)

const (
	publishTimeout = 2 * time.Second
	publishBuffer  = 256
)

// RedisPublisher publishes job events as JSON to a Redis pub/sub channel.
// Publishing happens on a background goroutine so Notify never blocks a
// download; events are dropped when Redis falls behind.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	queue   chan relay.Event

	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewRedisPublisher connects to addr and verifies the connection
func NewRedisPublisher(ctx context.Context, addr, channel string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return newRedisPublisher(client, channel), nil
}

func newRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		queue:   make(chan relay.Event, publishBuffer),
		done:    make(chan struct{}),
	}
	go p.loop()
	return p
}

// Notify implements relay.Notifier. Events arriving after Close are dropped.
func (p *RedisPublisher) Notify(ev relay.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		logger.Debug("Redis publisher closed, dropping event", "type", ev.Type)
		return
	}
	select {
	case p.queue <- ev:
	default:
		logger.Warn("Redis publish queue full, dropping event", "type", ev.Type)
	}
}

func (p *RedisPublisher) loop() {
	defer close(p.done)
	for ev := range p.queue {
		if err := p.publish(ev); err != nil {
			logger.Warn("Failed to publish job event", "channel", p.channel, "error", err)
		}
	}
}

func (p *RedisPublisher) publish(ev relay.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return p.client.Publish(ctx, p.channel, payload).Err()
}

// Close flushes queued events and closes the client
func (p *RedisPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		<-p.done
		err = p.client.Close()
	})
	return err
}
