package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/agenda-distribuida/family-organizer/internal/repository"
)

// ErrConnectionLost is reported to subscribers when the pub/sub channel
// closes while the feed is running.
var ErrConnectionLost = errors.New("change stream connection lost")

// Source provides the documents a RemoteFeed starts from.
type Source interface {
	Query(ctx context.Context, collection string, filters ...repository.Filter) ([]repository.Document, error)
}

type mirrored struct {
	seq  uint64
	data json.RawMessage
}

// RemoteFeed is a repository.Subscriber fed by envelopes published by other
// instances. It mirrors the synced collections so it can hand new
// subscribers a snapshot and classify every incoming change per filter.
type RemoteFeed struct {
	source Source
	prefix string
	logger *zap.Logger
	feed   *repository.Feed

	mu   sync.Mutex
	seq  uint64
	docs map[string]map[string]*mirrored
}

// NewRemoteFeed returns a feed seeded from source. Channels are named with
// prefix as the Publisher names them.
func NewRemoteFeed(source Source, prefix string, logger *zap.Logger) *RemoteFeed {
	return &RemoteFeed{
		source: source,
		prefix: prefix,
		logger: logger.Named("remote_feed"),
		feed:   repository.NewFeed(),
		docs:   make(map[string]map[string]*mirrored),
	}
}

// Sync replaces the mirror of collection with the source's current
// documents. Subscribers see the difference as regular changes.
func (f *RemoteFeed) Sync(ctx context.Context, collection string) error {
	docs, err := f.source.Query(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", collection, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	current := f.docs[collection]
	fresh := make(map[string]*mirrored, len(docs))
	for _, d := range docs {
		var prev json.RawMessage
		if m, ok := current[d.ID]; ok {
			prev = m.data
			fresh[d.ID] = &mirrored{seq: m.seq, data: d.Data}
		} else {
			f.seq++
			fresh[d.ID] = &mirrored{seq: f.seq, data: d.Data}
		}
		f.feed.Publish(collection, d.ID, prev, d.Data)
	}
	for id, m := range current {
		if _, ok := fresh[id]; !ok {
			f.feed.Publish(collection, id, m.data, nil)
		}
	}
	f.docs[collection] = fresh
	return nil
}

// Handle applies one published envelope.
func (f *RemoteFeed) Handle(payload []byte) error {
	ev, err := Decode(payload)
	if err != nil {
		return err
	}
	if ev.Type != DocumentChanges {
		f.logger.Debug("Ignoring event", zap.String("type", ev.Type), zap.String("id", ev.ID))
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	coll := f.docs[ev.Collection]
	if coll == nil {
		coll = make(map[string]*mirrored)
		f.docs[ev.Collection] = coll
	}
	for _, c := range ev.Changes {
		var prev json.RawMessage
		m, ok := coll[c.ID]
		if ok {
			prev = m.data
		}
		switch c.Type {
		case repository.Added, repository.Modified:
			if ok {
				m.data = c.Data
			} else {
				f.seq++
				coll[c.ID] = &mirrored{seq: f.seq, data: c.Data}
			}
			f.feed.Publish(ev.Collection, c.ID, prev, c.Data)
		case repository.Removed:
			if !ok {
				continue
			}
			delete(coll, c.ID)
			f.feed.Publish(ev.Collection, c.ID, prev, nil)
		}
	}
	return nil
}

// Subscribe implements repository.Subscriber over the mirror.
func (f *RemoteFeed) Subscribe(collection string, filters []repository.Filter, h repository.Handler) (repository.Unsubscribe, error) {
	if collection == "" {
		return nil, repository.ErrEmptyCollection
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	type entry struct {
		id string
		m  *mirrored
	}
	var entries []entry
	for id, m := range f.docs[collection] {
		if repository.Match(m.data, filters) {
			entries = append(entries, entry{id: id, m: m})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].m.seq < entries[j].m.seq })
	initial := make([]repository.Change, len(entries))
	for i, e := range entries {
		initial[i] = repository.Change{Type: repository.Added, ID: e.id, Data: e.m.data}
	}
	return f.feed.Register(collection, filters, h, initial), nil
}

// Run subscribes to the channels of collections, syncs each collection and
// then applies envelopes until ctx ends. The client resubscribes on its own
// after a dropped connection; every subscription confirmation syncs its
// collection again so changes published meanwhile are not lost. Closing the
// pub/sub channel is reported to every subscriber of those collections.
func (f *RemoteFeed) Run(ctx context.Context, client *RedisClient, collections ...string) error {
	channels := make([]string, len(collections))
	byChannel := make(map[string]string, len(collections))
	for i, c := range collections {
		channels[i] = Channel(f.prefix, c)
		byChannel[channels[i]] = c
	}
	pubsub, err := client.Subscribe(ctx, channels...)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	for _, c := range collections {
		if err := f.Sync(ctx, c); err != nil {
			return err
		}
	}
	f.logger.Info("Remote feed running", zap.Strings("channels", channels))

	ch := pubsub.ChannelWithSubscriptions(ctx, 100)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				for _, c := range collections {
					f.feed.Fail(c, ErrConnectionLost)
				}
				return ErrConnectionLost
			}
			f.receive(ctx, byChannel, msg)
		}
	}
}

// receive handles one item of the pub/sub channel.
func (f *RemoteFeed) receive(ctx context.Context, byChannel map[string]string, msg interface{}) {
	switch m := msg.(type) {
	case *redis.Subscription:
		collection, ok := byChannel[m.Channel]
		if !ok || m.Kind != "subscribe" {
			return
		}
		if err := f.Sync(ctx, collection); err != nil {
			f.logger.Error("Failed to resync after resubscribe",
				zap.String("collection", collection),
				zap.Error(err))
		}
	case *redis.Message:
		if err := f.Handle([]byte(m.Payload)); err != nil {
			f.logger.Warn("Dropping malformed event",
				zap.String("channel", m.Channel),
				zap.Error(err))
		}
	}
}

// Close drops every subscription.
func (f *RemoteFeed) Close() {
	f.feed.Close()
}
