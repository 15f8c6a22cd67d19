package coordination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"conftree/pkg/logging"
)

// changedChannelPrefix is the pub/sub channel namespace writers publish to
// after updating a configuration key.
const changedChannelPrefix = "conftree:changed:"

// ChangedChannel returns the pub/sub channel that announces updates to key.
// Whatever writes configuration values into Redis must publish on this
// channel afterwards for watches to fire.
func ChangedChannel(key string) string {
	return changedChannelPrefix + key
}

// RedisConfig holds connection settings for a RedisCache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds individual commands. Zero means 5s.
	Timeout time.Duration
}

// RedisCache is a Cache backed by a Redis key/value store. Values are fetched
// with GET and cached locally; a change notification published on the key's
// changed-channel invalidates the cached entry and signals every watch
// registered for that key.
type RedisCache struct {
	client  *redis.Client
	timeout time.Duration

	mu      sync.Mutex
	values  map[string]Value
	watches map[string][]chan<- struct{}
	pubsub  *redis.PubSub

	closed chan struct{}
}

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, &Error{Op: "connect", Err: err}
	}

	return &RedisCache{
		client:  client,
		timeout: cfg.Timeout,
		values:  make(map[string]Value),
		watches: make(map[string][]chan<- struct{}),
		closed:  make(chan struct{}),
	}, nil
}

// Get implements Cache.
func (c *RedisCache) Get(key string, watch chan<- struct{}) (Value, error) {
	if watch != nil {
		if err := c.addWatch(key, watch); err != nil {
			return Value{}, err
		}
	}

	c.mu.Lock()
	if v, ok := c.values[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	data, err := c.client.Get(ctx, key).Result()
	var v Value
	switch {
	case err == redis.Nil:
		v = Value{Exists: false}
	case err != nil:
		return Value{}, &Error{Op: "get", Key: key, Err: err}
	default:
		v = Value{Exists: true, Data: data}
	}

	c.mu.Lock()
	c.values[key] = v
	c.mu.Unlock()
	return v, nil
}

// addWatch registers watch for key and ensures the key's changed-channel is
// subscribed. The same channel may be registered for many keys; it is only
// appended once per key.
func (c *RedisCache) addWatch(key string, watch chan<- struct{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, w := range c.watches[key] {
		if w == watch {
			return nil
		}
	}

	firstWatchForKey := len(c.watches[key]) == 0
	c.watches[key] = append(c.watches[key], watch)

	if !firstWatchForKey {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if c.pubsub == nil {
		c.pubsub = c.client.Subscribe(ctx, ChangedChannel(key))
		go c.notifyLoop(c.pubsub)
		return nil
	}
	if err := c.pubsub.Subscribe(ctx, ChangedChannel(key)); err != nil {
		return &Error{Op: "subscribe", Key: key, Err: err}
	}
	return nil
}

// notifyLoop consumes change notifications and fans them out. A watch that is
// not ready to receive is skipped rather than blocked on; the reload loop
// treats the signal as level-triggered.
func (c *RedisCache) notifyLoop(pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-c.closed:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			key := msg.Channel[len(changedChannelPrefix):]
			logging.Debug("Coordination", "key %q changed", key)

			c.mu.Lock()
			delete(c.values, key)
			watches := append([]chan<- struct{}(nil), c.watches[key]...)
			c.mu.Unlock()

			for _, w := range watches {
				select {
				case w <- struct{}{}:
				default:
				}
			}
		}
	}
}

// Invalidate drops the cached value for key so the next Get hits Redis again.
func (c *RedisCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

// Close releases the subscription and the client connection.
func (c *RedisCache) Close() error {
	select {
	case <-c.closed:
		return fmt.Errorf("redis cache already closed")
	default:
	}
	close(c.closed)
	if c.pubsub != nil {
		c.pubsub.Close()
	}
	return c.client.Close()
}
