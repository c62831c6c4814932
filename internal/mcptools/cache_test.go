package mcptools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func toolSetFor(userID string) ToolSet {
	name := ToolNamePrefix + "notes_for_" + userID
	return ToolSet{name: Tool{Name: name}}
}

func TestCacheSingleFlightPerUser(t *testing.T) {
	var calls atomic.Int64
	gate := make(chan struct{})
	discover := func(ctx context.Context, userID, requestID string) (discovery, error) {
		calls.Add(1)
		<-gate
		return discovery{tools: toolSetFor(userID)}, nil
	}

	cache := newCache(discover, discardLogger())

	const concurrency = 8
	results := make([]ToolSet, concurrency)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.Resolve(context.Background(), "user-1", "req-1")
		}(i)
	}

	// Let every goroutine reach the cache before the flight completes.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("discovery ran %d times", got)
	}
	for i, tools := range results {
		if len(tools) != 1 {
			t.Fatalf("result %d has %d tools", i, len(tools))
		}
	}
}

func TestCacheIsolatesUsers(t *testing.T) {
	var calls atomic.Int64
	discover := func(ctx context.Context, userID, requestID string) (discovery, error) {
		calls.Add(1)
		return discovery{tools: toolSetFor(userID)}, nil
	}

	cache := newCache(discover, discardLogger())

	first := cache.Resolve(context.Background(), "user-1", "req-1")
	second := cache.Resolve(context.Background(), "user-2", "req-2")

	if got := calls.Load(); got != 2 {
		t.Fatalf("discovery ran %d times", got)
	}
	if _, ok := first[ToolNamePrefix+"notes_for_user-1"]; !ok {
		t.Fatalf("user-1 catalog = %v", first.Names())
	}
	if _, ok := second[ToolNamePrefix+"notes_for_user-1"]; ok {
		t.Fatal("user-2 received user-1's catalog")
	}
}

func TestCacheServesFreshEntryWithoutRediscovery(t *testing.T) {
	var calls atomic.Int64
	discover := func(ctx context.Context, userID, requestID string) (discovery, error) {
		calls.Add(1)
		return discovery{tools: toolSetFor(userID)}, nil
	}

	cache := newCache(discover, discardLogger())
	cache.Resolve(context.Background(), "user-1", "req-1")
	cache.Resolve(context.Background(), "user-1", "req-2")

	if got := calls.Load(); got != 1 {
		t.Fatalf("discovery ran %d times", got)
	}
}

func TestCacheServesStaleCatalogWhenRefreshFails(t *testing.T) {
	var fail atomic.Bool
	discover := func(ctx context.Context, userID, requestID string) (discovery, error) {
		if fail.Load() {
			return discovery{}, errors.New("mcp server unreachable")
		}
		return discovery{tools: toolSetFor(userID)}, nil
	}

	cache := newCache(discover, discardLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Resolve(context.Background(), "user-1", "req-1")

	fail.Store(true)
	now = now.Add(DefaultTTL + time.Second)

	tools := cache.Resolve(context.Background(), "user-1", "req-2")
	if _, ok := tools[ToolNamePrefix+"notes_for_user-1"]; !ok {
		t.Fatalf("stale catalog not served, got %v", tools.Names())
	}
}

func TestCacheReturnsEmptySetOnFirstFailure(t *testing.T) {
	discover := func(ctx context.Context, userID, requestID string) (discovery, error) {
		return discovery{}, errors.New("mcp server unreachable")
	}

	cache := newCache(discover, discardLogger())
	tools := cache.Resolve(context.Background(), "user-1", "req-1")
	if len(tools) != 0 {
		t.Fatalf("tools = %v", tools.Names())
	}
}

func TestCacheEvictsOtherUsersExpiredEntries(t *testing.T) {
	var closes atomic.Int64
	discover := func(ctx context.Context, userID, requestID string) (discovery, error) {
		return discovery{
			tools:   toolSetFor(userID),
			closeFn: func() error { closes.Add(1); return nil },
		}, nil
	}

	cache := newCache(discover, discardLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Resolve(context.Background(), "user-1", "req-1")
	now = now.Add(DefaultTTL + time.Second)
	cache.Resolve(context.Background(), "user-2", "req-2")

	deadline := time.Now().Add(time.Second)
	for closes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := closes.Load(); got != 1 {
		t.Fatalf("closed %d sessions", got)
	}

	cache.mu.Lock()
	_, user1Present := cache.entries["user-1"]
	cache.mu.Unlock()
	if user1Present {
		t.Fatal("expired entry still cached")
	}
}

func TestCacheReplaceClosesPreviousSessionOnce(t *testing.T) {
	var closes atomic.Int64
	discover := func(ctx context.Context, userID, requestID string) (discovery, error) {
		return discovery{
			tools:   toolSetFor(userID),
			closeFn: func() error { closes.Add(1); return nil },
		}, nil
	}

	cache := newCache(discover, discardLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Resolve(context.Background(), "user-1", "req-1")
	now = now.Add(DefaultTTL + time.Second)
	cache.Resolve(context.Background(), "user-1", "req-2")

	deadline := time.Now().Add(time.Second)
	for closes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := closes.Load(); got != 1 {
		t.Fatalf("closed %d sessions after replace", got)
	}

	cache.Close()
	if got := closes.Load(); got != 2 {
		t.Fatalf("closed %d sessions after shutdown", got)
	}
}
