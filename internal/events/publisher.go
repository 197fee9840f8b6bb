package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

// DocumentChanges is the type of the envelope carrying a change batch.
const DocumentChanges = "document_changes"

// Event is the envelope published for every change batch of a collection.
type Event struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	Timestamp  time.Time           `json:"timestamp"`
	Collection string              `json:"collection"`
	Changes    []repository.Change `json:"changes"`
}

// Decode parses a published envelope.
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Collection == "" {
		return Event{}, fmt.Errorf("event %s has no collection", ev.ID)
	}
	return ev, nil
}

// Channel names the pub/sub channel of a collection.
func Channel(prefix, collection string) string {
	return prefix + ":" + collection
}

// Broker publishes messages. *RedisClient implements it.
type Broker interface {
	Publish(ctx context.Context, channel string, message any) error
}

// Publisher forwards local store changes to the broker.
type Publisher struct {
	broker Broker
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	unsubs []repository.Unsubscribe
}

// NewPublisher creates a new event publisher
func NewPublisher(broker Broker, prefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		broker: broker,
		prefix: prefix,
		logger: logger.Named("publisher"),
	}
}

// Publish sends one change batch of collection.
func (p *Publisher) Publish(ctx context.Context, collection string, changes []repository.Change) error {
	if len(changes) == 0 {
		return nil
	}
	event := Event{
		ID:         uuid.New().String(),
		Type:       DocumentChanges,
		Timestamp:  time.Now().UTC(),
		Collection: collection,
		Changes:    changes,
	}
	return p.broker.Publish(ctx, Channel(p.prefix, collection), event)
}

// Watch subscribes to every collection and publishes each change batch
// after the initial snapshot.
func (p *Publisher) Watch(sub repository.Subscriber, collections ...string) error {
	for _, collection := range collections {
		collection := collection
		initial := true
		unsub, err := sub.Subscribe(collection, nil, repository.Handler{
			OnChange: func(changes []repository.Change) {
				if initial {
					initial = false
					return
				}
				if err := p.Publish(context.Background(), collection, changes); err != nil {
					p.logger.Error("Failed to publish changes",
						zap.String("collection", collection),
						zap.Int("changes", len(changes)),
						zap.Error(err))
				}
			},
			OnError: func(err error) {
				p.logger.Error("Watched collection failed",
					zap.String("collection", collection),
					zap.Error(err))
			},
		})
		if err != nil {
			p.Close()
			return fmt.Errorf("failed to watch %s: %w", collection, err)
		}
		p.mu.Lock()
		p.unsubs = append(p.unsubs, unsub)
		p.mu.Unlock()
	}
	return nil
}

// Close stops watching.
func (p *Publisher) Close() {
	p.mu.Lock()
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}
