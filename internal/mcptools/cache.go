package mcptools

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"oreai/backend/internal/config"
)

// DefaultTTL bounds how long a user's discovered tool catalog is served
// without re-listing from the MCP server.
const DefaultTTL = 5 * time.Minute

// entry is one user's cached catalog plus the MCP session backing it. The
// session is closed exactly once, when the entry is replaced or evicted.
type entry struct {
	tools     ToolSet
	expiresAt time.Time
	handle    discovery
	closeOnce sync.Once
}

func (e *entry) close(log *slog.Logger) {
	e.closeOnce.Do(func() {
		if err := e.handle.close(); err != nil {
			log.Warn("closing mcp session", "error", err)
		}
	})
}

// Cache holds per-user tool catalogs with TTL expiry, single-flight refresh,
// and stale fallback when discovery fails.
type Cache struct {
	ttl      time.Duration
	discover discoverFunc
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	entries  map[string]*entry
	inflight map[string]chan struct{}
}

func NewCache(cfg config.Config, log *slog.Logger) (*Cache, error) {
	discover, err := newDiscoverer(cfg)
	if err != nil {
		return nil, err
	}
	return newCache(discover, log), nil
}

func newCache(discover discoverFunc, log *slog.Logger) *Cache {
	return &Cache{
		ttl:      DefaultTTL,
		discover: discover,
		log:      log,
		now:      time.Now,
		entries:  make(map[string]*entry),
		inflight: make(map[string]chan struct{}),
	}
}

// Resolve returns the tool catalog for a user. It never returns an error:
// when discovery fails the previous catalog is served even past its TTL, and
// a user with no prior catalog gets an empty set. Concurrent requests for the
// same user share one discovery; different users never share catalogs.
func (c *Cache) Resolve(ctx context.Context, userID, requestID string) ToolSet {
	c.mu.Lock()
	c.evictExpiredLocked(userID)

	if cached, ok := c.entries[userID]; ok && c.now().Before(cached.expiresAt) {
		tools := cached.tools
		c.mu.Unlock()
		return tools
	}

	latch, refreshing := c.inflight[userID]
	if !refreshing {
		latch = make(chan struct{})
		c.inflight[userID] = latch
		c.mu.Unlock()
		return c.refresh(ctx, userID, requestID, latch)
	}
	c.mu.Unlock()

	// Another request for this user is already discovering; share its
	// outcome. A failed flight leaves the previous entry in place, so
	// waiters land on staleOrEmpty semantics just like the refresher.
	select {
	case <-latch:
		return c.staleOrEmpty(userID)
	case <-ctx.Done():
		return c.staleOrEmpty(userID)
	}
}

func (c *Cache) refresh(ctx context.Context, userID, requestID string, latch chan struct{}) ToolSet {
	discovered, err := c.discover(ctx, userID, requestID)

	c.mu.Lock()
	delete(c.inflight, userID)
	close(latch)

	if err != nil {
		stale := c.entries[userID]
		c.mu.Unlock()

		c.log.Warn("mcp tool discovery failed",
			"user_id", userID,
			"request_id", requestID,
			"error", err,
			"served_stale", stale != nil,
		)
		if stale != nil {
			return stale.tools
		}
		return ToolSet{}
	}

	previous := c.entries[userID]
	c.entries[userID] = &entry{
		tools:     discovered.tools,
		expiresAt: c.now().Add(c.ttl),
		handle:    discovered,
	}
	c.mu.Unlock()

	if previous != nil {
		go previous.close(c.log)
	}
	return discovered.tools
}

// evictExpiredLocked drops other users' expired catalogs so idle users do
// not pin MCP sessions. The requesting user's expired entry is kept as the
// stale fallback, as is any entry with a refresh in flight.
func (c *Cache) evictExpiredLocked(requestingUserID string) {
	now := c.now()
	for userID, cached := range c.entries {
		if userID == requestingUserID {
			continue
		}
		if _, refreshing := c.inflight[userID]; refreshing {
			continue
		}
		if now.Before(cached.expiresAt) {
			continue
		}
		delete(c.entries, userID)
		go cached.close(c.log)
	}
}

func (c *Cache) staleOrEmpty(userID string) ToolSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.entries[userID]; ok {
		return cached.tools
	}
	return ToolSet{}
}

// Close drops every cached catalog and closes the MCP sessions behind them.
func (c *Cache) Close() {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.entries))
	for userID, cached := range c.entries {
		entries = append(entries, cached)
		delete(c.entries, userID)
	}
	c.mu.Unlock()

	for _, cached := range entries {
		cached.close(c.log)
	}
}
