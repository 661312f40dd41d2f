package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stock-stream/src/helpers"
	"stock-stream/src/interfaces"
	"stock-stream/src/logger"
)

// FeedStatus is a point-in-time view of one running feed.
type FeedStatus struct {
	Key   string `json:"key"`
	State string `json:"state"`
}

// FeedManager tracks the running upstream feeds by connection key
type FeedManager struct {
	Factory interfaces.IFeedFactory
	Logger  *logger.Logger

	mu    sync.RWMutex
	feeds map[string]interfaces.IFeed
}

// -----------------------------------------------------------------------------

func NewFeedManager(factory interfaces.IFeedFactory, log *logger.Logger) *FeedManager {
	return &FeedManager{
		Factory: factory,
		Logger:  log,
		feeds:   make(map[string]interfaces.IFeed),
	}
}

// -----------------------------------------------------------------------------

// Open builds and starts a feed for key. The feed runs until ctx is done or
// Close is called for the key. A key that already has a feed is rejected as a
// duplicate.
func (m *FeedManager) Open(ctx context.Context, key string, symbols []string) (interfaces.IFeed, error) {
	m.mu.Lock()
	if _, exists := m.feeds[key]; exists {
		m.mu.Unlock()
		return nil, &helpers.AdmissionRejectedError{Key: key, Reason: helpers.RejectDuplicate}
	}

	feed, err := m.Factory.NewFeed(key, symbols)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.feeds[key] = feed
	m.mu.Unlock()

	if err := feed.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.feeds, key)
		m.mu.Unlock()
		feed.Stop()
		return nil, fmt.Errorf("failed to start feed %s: %w", key, err)
	}

	m.Logger.Info("Started feed: %s", key)
	return feed, nil
}

// -----------------------------------------------------------------------------

// Close stops and forgets the feed for key. Unknown keys are ignored.
func (m *FeedManager) Close(key string) {
	m.mu.Lock()
	feed, exists := m.feeds[key]
	delete(m.feeds, key)
	m.mu.Unlock()

	if !exists {
		return
	}
	feed.Stop()
	m.Logger.Info("Stopped feed: %s", key)
}

// -----------------------------------------------------------------------------

func (m *FeedManager) Get(key string) (interfaces.IFeed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	feed, ok := m.feeds[key]
	return feed, ok
}

// -----------------------------------------------------------------------------

// List returns feed statuses ordered by key.
func (m *FeedManager) List() []FeedStatus {
	m.mu.RLock()
	list := make([]FeedStatus, 0, len(m.feeds))
	for key, feed := range m.feeds {
		list = append(list, FeedStatus{Key: key, State: feed.State()})
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	return list
}

// -----------------------------------------------------------------------------

// StopAll stops every feed concurrently and waits for them.
func (m *FeedManager) StopAll() {
	m.mu.Lock()
	feeds := m.feeds
	m.feeds = make(map[string]interfaces.IFeed)
	m.mu.Unlock()

	if len(feeds) == 0 {
		return
	}

	m.Logger.Info("Stopping %d feeds...", len(feeds))
	var wg sync.WaitGroup
	for _, feed := range feeds {
		wg.Add(1)
		go func(f interfaces.IFeed) {
			defer wg.Done()
			f.Stop()
		}(feed)
	}
	wg.Wait()
	m.Logger.Info("All feeds stopped.")
}
