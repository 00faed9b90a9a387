package session

import (
	"context"
	"fmt"
	"sync"
)

// clubCache is a read-through cache of the club reference list. Each event
// load gets a fresh cache, so nothing outlives the session that filled it.
type clubCache struct {
	mu      sync.Mutex
	src     ClubSource
	eventID string
	loaded  bool
	clubs   []string
}

func newClubCache(src ClubSource, eventID string) *clubCache {
	return &clubCache{src: src, eventID: eventID}
}

func (c *clubCache) get(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.clubs, nil
	}
	if c.src == nil {
		c.loaded = true
		return nil, nil
	}
	clubs, err := c.src.ListClubs(ctx, c.eventID)
	if err != nil {
		return nil, fmt.Errorf("list clubs: %w", err)
	}
	c.clubs = clubs
	c.loaded = true
	return clubs, nil
}
