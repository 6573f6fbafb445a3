package listing_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

const (
	mapsRoute = "/v1/maps"
	tokenA    = "token-a"
	tokenB    = "token-b"
)

func TestPageCache_PushIsIdempotentForResolve(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := listing.NewPageCache[mapRow](listing.WithClock(clock))

	page := mapPage(mapsRoute, tokenA, 1, mapRows(1, 2, 3))

	cache.Push(mapsRoute, page, time.Minute)
	once := cache.Resolve(mapsRoute, tokenA)

	cache.Push(mapsRoute, page, time.Minute)
	twice := cache.Resolve(mapsRoute, tokenA)

	assert.Equal(t, once, twice)
	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, []int64{1, 2, 3}, rowIDs(cache.ResolveRows(mapsRoute, tokenA)))
}

func TestPageCache_NewerPagePrunesItsRange(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := listing.NewPageCache[mapRow](listing.WithClock(clock))

	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1, 2, 3, 4, 5)), time.Minute)
	clock.Advance(time.Second)
	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1, 2, 4, 5)), time.Minute)

	resolved := cache.Resolve(mapsRoute, tokenA)
	assert.NotContains(t, resolved, int64(3))
	assert.Equal(t, []int64{1, 2, 4, 5}, rowIDs(cache.ResolveRows(mapsRoute, tokenA)))
}

func TestPageCache_MergeOrderFollowsExpiryNotPushOrder(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := listing.NewPageCache[mapRow](listing.WithClock(clock))

	// The full page expires last, so it is applied last and wins.
	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1, 2, 3, 4, 5)), 2*time.Minute)
	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1, 2, 4, 5)), time.Minute)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, rowIDs(cache.ResolveRows(mapsRoute, tokenA)))
}

func TestPageCache_NewerRowsOverwrite(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := listing.NewPageCache[mapRow](listing.WithClock(clock))

	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, []mapRow{{ID: 1, Title: "old"}}), time.Minute)
	clock.Advance(time.Second)
	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, []mapRow{{ID: 1, Title: "new"}}), time.Minute)

	assert.Equal(t, "new", cache.Resolve(mapsRoute, tokenA)[1].Title)
}

func TestPageCache_RowsOutsideRangeSurvive(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := listing.NewPageCache[mapRow](listing.WithClock(clock))

	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1, 2, 3)), time.Minute)
	clock.Advance(time.Second)
	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 2, mapRows(10, 12)), time.Minute)
	clock.Advance(time.Second)
	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 3, nil), time.Minute)

	assert.Equal(t, []int64{1, 2, 3, 10, 12}, rowIDs(cache.ResolveRows(mapsRoute, tokenA)))
}

func TestPageCache_ZeroTTLExpires(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := listing.NewPageCache[mapRow](listing.WithClock(clock))

	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1, 2)), 0)
	cache.Revalidate()

	assert.Empty(t, cache.Resolve(mapsRoute, tokenA))
	assert.Equal(t, 0, cache.Len())
	assert.Empty(t, cache.Routes())
	assert.Equal(t, int64(1), cache.Stats().Evictions)
}

func TestPageCache_TimerRevalidatesRoute(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := listing.NewPageCache[mapRow](listing.WithClock(clock))

	var (
		mu     sync.Mutex
		events []listing.CacheEvent
	)

	cache.Subscribe(func(event listing.CacheEvent) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1)), time.Minute)
	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 2, mapRows(2)), 3*time.Minute)

	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, []int64{2}, rowIDs(cache.ResolveRows(mapsRoute, tokenA)))

	clock.Advance(2 * time.Minute)

	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 0, clock.pending())

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, events, 4)
	assert.Equal(t, listing.ChangePush, events[0].Kind)
	assert.Equal(t, listing.CacheEvent{Kind: listing.ChangeExpire, Route: mapsRoute, Token: tokenA}, events[2])
	assert.Equal(t, listing.ChangeExpire, events[3].Kind)
}

func TestPageCache_RevalidateAllRoutes(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := listing.NewPageCache[mapRow](listing.WithClock(clock))

	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1)), time.Minute)
	cache.Push("/v1/layers", mapPage("/v1/layers", tokenA, 1, mapRows(1)), time.Minute)
	cache.Push("/v1/fonts", mapPage("/v1/fonts", tokenA, 1, mapRows(1)), time.Hour)

	// Move time without firing any timer.
	clock.mu.Lock()
	clock.now = clock.now.Add(2 * time.Minute)
	clock.mu.Unlock()

	cache.Revalidate()

	assert.Equal(t, []string{"/v1/fonts"}, cache.Routes())
}

func TestPageCache_ClearStopsTimers(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := listing.NewPageCache[mapRow](listing.WithClock(clock))

	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1)), time.Minute)
	cache.Push(mapsRoute, mapPage(mapsRoute, tokenB, 1, mapRows(2)), time.Minute)
	cache.Push("/v1/layers", mapPage("/v1/layers", tokenA, 1, mapRows(3)), time.Minute)

	cache.Clear(mapsRoute)

	assert.Equal(t, []string{"/v1/layers"}, cache.Routes())
	assert.Equal(t, 1, clock.pending())

	// Firing after removal is harmless.
	clock.Advance(time.Hour)
	assert.Equal(t, 0, cache.Len())

	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1)), time.Minute)
	cache.Close()

	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 0, clock.pending())
}

func TestPageCache_WildcardToken(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := listing.NewPageCache[mapRow](listing.WithClock(clock))

	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1, 2)), time.Minute)
	clock.Advance(time.Second)
	cache.Push(mapsRoute, mapPage(mapsRoute, tokenB, 1, mapRows(7, 8)), time.Minute)

	assert.Equal(t, []int64{1, 2}, rowIDs(cache.ResolveRows(mapsRoute, tokenA)))
	assert.Equal(t, []int64{1, 2, 7, 8}, rowIDs(cache.ResolveRows(mapsRoute, listing.WildcardToken)))
	assert.Equal(t, []int64{1, 2, 7, 8}, rowIDs(cache.ResolveRows(mapsRoute, "")))
	assert.Empty(t, cache.ResolveRows("/v1/unknown", tokenA))
}

func TestPageCache_LookupAndStats(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cache := listing.NewPageCache[mapRow](listing.WithClock(clock))

	first := mapPage(mapsRoute, tokenA, 2, mapRows(1))
	cache.Push(mapsRoute, first, time.Minute)
	clock.Advance(time.Second)

	second := mapPage(mapsRoute, tokenA, 2, mapRows(1, 2))
	cache.Push(mapsRoute, second, time.Minute)

	page, ok := cache.Lookup(mapsRoute, tokenA, 2, 0)
	require.True(t, ok)
	assert.Same(t, second, page)

	// The page size is part of the match.
	page, ok = cache.Lookup(mapsRoute, tokenA, 2, 2)
	require.True(t, ok)
	assert.Same(t, second, page)

	page, ok = cache.Lookup(mapsRoute, tokenA, 2, 1)
	require.True(t, ok)
	assert.Same(t, first, page)

	_, ok = cache.Lookup(mapsRoute, tokenA, 2, 5)
	assert.False(t, ok)

	_, ok = cache.Lookup(mapsRoute, tokenA, 3, 0)
	assert.False(t, ok)

	_, ok = cache.Lookup(mapsRoute, tokenB, 2, 0)
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, int64(2), stats.Pushes)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(3), stats.Misses)
	assert.InDelta(t, 0.5, stats.GetHitRate(), 0.0001)

	assert.Equal(t, []int{2}, cache.PageNumbers(mapsRoute, tokenA))
}

func TestPageCache_Unsubscribe(t *testing.T) {
	t.Parallel()

	cache := listing.NewPageCache[mapRow](listing.WithClock(newFakeClock()))

	calls := 0
	unsubscribe := cache.Subscribe(func(listing.CacheEvent) { calls++ })

	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 1, mapRows(1)), time.Minute)
	unsubscribe()
	cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, 2, mapRows(2)), time.Minute)

	assert.Equal(t, 1, calls)
}

func TestPageCache_NilPageIgnored(t *testing.T) {
	t.Parallel()

	cache := listing.NewPageCache[mapRow](listing.WithClock(newFakeClock()))
	cache.Push(mapsRoute, nil, time.Minute)

	assert.Equal(t, 0, cache.Len())
}

func TestPageCache_ConcurrentPushes(t *testing.T) {
	t.Parallel()

	cache := listing.NewPageCache[mapRow]()
	defer cache.Close()

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			id := int64(n * 10)
			cache.Push(mapsRoute, mapPage(mapsRoute, tokenA, n+1, mapRows(id, id+1)), time.Minute)
			_ = cache.ResolveRows(mapsRoute, tokenA)
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 20, cache.Len())
	assert.Len(t, cache.ResolveRows(mapsRoute, tokenA), 40)
}
