package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultInvalidationChannel is the pub/sub channel for tag invalidations
	DefaultInvalidationChannel = "gw:cache:invalidate"
	defaultCloseTimeout        = 5 * time.Second
)

// ErrSubscriptionRunning is returned when Subscribe is called twice
var ErrSubscriptionRunning = errors.New("cache: invalidation subscription already running")

// InvalidationMessage tells other gateway instances which fast-tier keys to drop
type InvalidationMessage struct {
	Origin    string   `json:"origin"`
	Tags      []string `json:"tags,omitempty"`
	Keys      []string `json:"keys,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Invalidator broadcasts invalidations over Redis pub/sub. The Redis client
// is shared and stays open after Close.
type Invalidator struct {
	client  redis.UniversalClient
	channel string
	logger  *zap.Logger

	mu       sync.Mutex
	cancelFn context.CancelFunc
	running  bool
	doneCh   chan struct{}
	doneOnce sync.Once
}

// NewInvalidator creates an invalidator. An empty channel uses DefaultInvalidationChannel.
func NewInvalidator(client redis.UniversalClient, channel string, logger *zap.Logger) *Invalidator {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{
		client:  client,
		channel: channel,
		logger:  logger,
		doneCh:  make(chan struct{}),
	}
}

// Publish sends msg to every subscriber, including this process
func (i *Invalidator) Publish(ctx context.Context, msg InvalidationMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixNano()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}
	if err := i.client.Publish(ctx, i.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation message: %w", err)
	}
	i.logger.Debug("Published cache invalidation",
		zap.Strings("tags", msg.Tags),
		zap.Int("keys", len(msg.Keys)),
		zap.String("channel", i.channel))
	return nil
}

// Subscribe blocks delivering messages to callback until ctx is done or
// Close is called. Callbacks run on the subscription goroutine, in order.
func (i *Invalidator) Subscribe(ctx context.Context, callback func(InvalidationMessage)) error {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return ErrSubscriptionRunning
	}
	subCtx, cancel := context.WithCancel(ctx)
	i.running = true
	i.cancelFn = cancel
	i.mu.Unlock()

	defer func() {
		cancel()
		i.mu.Lock()
		i.running = false
		i.mu.Unlock()
		i.doneOnce.Do(func() { close(i.doneCh) })
	}()

	pubsub := i.client.Subscribe(subCtx, i.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to invalidation channel: %w", err)
	}
	i.logger.Info("Subscribed to cache invalidation channel", zap.String("channel", i.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			i.logger.Info("Cache invalidation subscription stopped")
			return nil
		case raw, ok := <-ch:
			if !ok {
				i.logger.Warn("Cache invalidation channel closed")
				return nil
			}
			var msg InvalidationMessage
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				i.logger.Error("Failed to unmarshal invalidation message",
					zap.String("payload", raw.Payload),
					zap.Error(err))
				continue
			}
			i.deliver(callback, msg)
		}
	}
}

func (i *Invalidator) deliver(callback func(InvalidationMessage), msg InvalidationMessage) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("Panic in cache invalidation callback", zap.Any("panic", r))
		}
	}()
	callback(msg)
}

// Close stops a running subscription and waits briefly for it to exit
func (i *Invalidator) Close() error {
	i.mu.Lock()
	cancelFn, running := i.cancelFn, i.running
	i.mu.Unlock()
	if cancelFn == nil || !running {
		return nil
	}
	cancelFn()
	select {
	case <-i.doneCh:
	case <-time.After(defaultCloseTimeout):
		i.logger.Warn("Timeout waiting for invalidation subscription to stop")
	}
	return nil
}
