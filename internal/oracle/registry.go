package oracle

import (
	"strings"
	"sync"
)

// Registry resolves feed ids to feeds. Feeds are registered at wiring time;
// lookups are concurrent-safe because handlers and engines share one
// registry instance.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]PriceFeed
}

func NewRegistry() *Registry {
	return &Registry{feeds: map[string]PriceFeed{}}
}

func (r *Registry) Register(feedID string, feed PriceFeed) {
	feedID = strings.TrimSpace(feedID)
	if feedID == "" || feed == nil {
		return
	}
	r.mu.Lock()
	r.feeds[feedID] = feed
	r.mu.Unlock()
}

func (r *Registry) Feed(feedID string) (PriceFeed, error) {
	r.mu.RLock()
	feed, ok := r.feeds[strings.TrimSpace(feedID)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownFeed
	}
	return feed, nil
}

func (r *Registry) FeedIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.feeds))
	for id := range r.feeds {
		out = append(out, id)
	}
	return out
}
