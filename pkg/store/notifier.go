package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier distributes book changes over Redis pub/sub so every
// replica sees mutations made through any of them.
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(addr, password string, db int, prefix string) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if prefix == "" {
		prefix = "lumina"
	}
	return &RedisNotifier{client: client, prefix: prefix}, nil
}

func (n *RedisNotifier) channel(userID string) string {
	return fmt.Sprintf("%s:books:%s", n.prefix, userID)
}

// Publish sends one change to the user's channel.
func (n *RedisNotifier) Publish(ctx context.Context, userID string, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel(userID), payload).Err()
}

// Subscribe streams changes for userID. The returned cancel func must be
// called to release the underlying subscription.
func (n *RedisNotifier) Subscribe(ctx context.Context, userID string) (<-chan Change, func(), error) {
	sub := n.client.Subscribe(ctx, n.channel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan Change, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}

// MemoryNotifier is an in-process Notifier used by tests and single-node
// deployments without Redis.
type MemoryNotifier struct {
	mu   sync.Mutex
	subs map[string]map[int]chan Change
	next int
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{subs: map[string]map[int]chan Change{}}
}

func (n *MemoryNotifier) Publish(_ context.Context, userID string, change Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[userID] {
		select {
		case ch <- change:
		default:
			// Slow subscriber, drop rather than block the publisher.
		}
	}
	return nil
}

func (n *MemoryNotifier) Subscribe(ctx context.Context, userID string) (<-chan Change, func(), error) {
	n.mu.Lock()
	id := n.next
	n.next++
	ch := make(chan Change, 16)
	if n.subs[userID] == nil {
		n.subs[userID] = map[int]chan Change{}
	}
	n.subs[userID][id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs[userID], id)
			n.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}
