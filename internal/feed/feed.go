package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GideonEse/fete/internal/session"
)

// Event kinds pushed to the live view.
const (
	EventArrival = "arrival"
	EventExit    = "exit"
)

// Event is one live attendance update.
type Event struct {
	Type         string         `json:"type"`
	SessionID    string         `json:"session_id"`
	MemberID     string         `json:"member_id"`
	Name         string         `json:"name"`
	MatricNumber string         `json:"matric_number,omitempty"`
	Status       session.Status `json:"status,omitempty"`
	At           time.Time      `json:"at"`
}

// Feed is the abstraction over live-event backends. Subscribe returns a
// channel and a cancel func that must be called to release the subscriber.
type Feed interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context) (<-chan Event, func(), error)
}

// InMemory broadcasts events to all subscribers in-process.
type InMemory struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewInMemory creates an empty broadcast feed.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[chan Event]struct{})}
}

// Publish delivers to every subscriber, dropping events for slow ones so a
// stuck consumer cannot stall the detection loop.
func (f *InMemory) Publish(_ context.Context, evt Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered channel until cancel is called.
func (f *InMemory) Subscribe(_ context.Context) (<-chan Event, func(), error) {
	ch := make(chan Event, 16)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

const redisChannel = "fete:live"

// RedisFeed broadcasts over redis pub/sub so multiple API instances can
// serve the live view.
type RedisFeed struct {
	client *redis.Client
}

// NewRedisFeed builds a feed over an existing client.
func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

// Publish sends an event as JSON.
func (f *RedisFeed) Publish(ctx context.Context, evt Event) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, redisChannel, raw).Err()
}

// Subscribe streams events until cancel is called or ctx ends.
func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	sub := f.client.Subscribe(ctx, redisChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
					select {
					case out <- evt:
					default:
					}
				}
			case <-done:
				return
			case <-ctx.Done():
				return
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
