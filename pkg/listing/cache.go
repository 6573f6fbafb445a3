package listing

import (
	"sort"
	"sync"
	"time"
)

// WildcardToken resolves every token bucket of a route.
const WildcardToken = "*"

// Clock abstracts time for the cache so expiry can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ChangeKind describes why cached pages changed.
type ChangeKind string

const (
	// ChangePush is emitted after a page was added.
	ChangePush ChangeKind = "push"
	// ChangeExpire is emitted after expired pages were swept.
	ChangeExpire ChangeKind = "expire"
	// ChangeClear is emitted after pages were explicitly dropped.
	ChangeClear ChangeKind = "clear"
)

// CacheEvent is delivered to subscribers. An empty Token covers every token
// of the route.
type CacheEvent struct {
	Kind  ChangeKind
	Route string
	Token string
}

// CacheStats tracks cache usage.
type CacheStats struct {
	Pushes    int64 `json:"pushes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// GetHitRate returns the lookup hit rate between 0 and 1.
func (s *CacheStats) GetHitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

type cacheEntry[R Row] struct {
	page         *Page[R]
	validThrough time.Time
	seq          uint64
	timer        Timer
}

// PageCache stores fetched pages per route and cache token, expires them
// after their TTL and merges them into a deduplicated view.
//
// All mutation happens under a single mutex; subscribers are notified after
// the mutex is released.
type PageCache[R Row] struct {
	mu          sync.Mutex
	routes      map[string]map[string][]*cacheEntry[R]
	clock       Clock
	logger      Logger
	seq         uint64
	stats       CacheStats
	subscribers map[uint64]func(CacheEvent)
	nextSubID   uint64
}

// CacheOption configures a PageCache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	clock  Clock
	logger Logger
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) CacheOption {
	return func(o *cacheOptions) {
		o.clock = clock
	}
}

// WithCacheLogger sets the logger used for cache diagnostics.
func WithCacheLogger(logger Logger) CacheOption {
	return func(o *cacheOptions) {
		o.logger = logger
	}
}

// NewPageCache creates an empty cache.
func NewPageCache[R Row](opts ...CacheOption) *PageCache[R] {
	options := &cacheOptions{clock: realClock{}}
	for _, opt := range opts {
		opt(options)
	}

	return &PageCache[R]{
		routes:      make(map[string]map[string][]*cacheEntry[R]),
		clock:       options.clock,
		logger:      loggerOrNop(options.logger),
		subscribers: make(map[uint64]func(CacheEvent)),
	}
}

// Push stores page under route and schedules a revalidation of the route
// once ttl has elapsed.
func (c *PageCache[R]) Push(route string, page *Page[R], ttl time.Duration) {
	if page == nil {
		return
	}

	if ttl < 0 {
		ttl = 0
	}

	token := page.CacheToken()

	c.mu.Lock()

	c.seq++
	entry := &cacheEntry[R]{
		page:         page,
		validThrough: c.clock.Now().Add(ttl),
		seq:          c.seq,
	}
	entry.timer = c.clock.AfterFunc(ttl, func() {
		c.Revalidate(route)
	})

	buckets, ok := c.routes[route]
	if !ok {
		buckets = make(map[string][]*cacheEntry[R])
		c.routes[route] = buckets
	}

	buckets[token] = insertByExpiry(buckets[token], entry)
	c.stats.Pushes++

	c.mu.Unlock()

	c.logger.Debug("Cached page", map[string]interface{}{
		"route": route,
		"token": token,
		"page":  page.PageNumber(),
		"ttl":   ttl.String(),
	})

	c.notify([]CacheEvent{{Kind: ChangePush, Route: route, Token: token}})
}

// insertByExpiry keeps entries ordered by validThrough, later pushes after
// earlier ones on ties.
func insertByExpiry[R Row](entries []*cacheEntry[R], entry *cacheEntry[R]) []*cacheEntry[R] {
	index := sort.Search(len(entries), func(i int) bool {
		return entries[i].validThrough.After(entry.validThrough)
	})

	entries = append(entries, nil)
	copy(entries[index+1:], entries[index:])
	entries[index] = entry

	return entries
}

// Revalidate drops expired entries of the given routes, or of every route
// when none are given. Empty buckets and routes are removed.
func (c *PageCache[R]) Revalidate(routes ...string) {
	c.mu.Lock()

	now := c.clock.Now()
	targets := c.targetRoutes(routes)

	var events []CacheEvent

	for _, route := range targets {
		buckets, ok := c.routes[route]
		if !ok {
			continue
		}

		for token, entries := range buckets {
			kept := entries[:0]
			dropped := 0

			for _, entry := range entries {
				if now.Before(entry.validThrough) {
					kept = append(kept, entry)

					continue
				}

				entry.timer.Stop()
				dropped++
			}

			if dropped == 0 {
				continue
			}

			c.stats.Evictions += int64(dropped)
			events = append(events, CacheEvent{Kind: ChangeExpire, Route: route, Token: token})

			if len(kept) == 0 {
				delete(buckets, token)
			} else {
				buckets[token] = kept
			}
		}

		if len(buckets) == 0 {
			delete(c.routes, route)
		}
	}

	c.mu.Unlock()

	if len(events) > 0 {
		c.logger.Debug("Expired cached pages", map[string]interface{}{
			"buckets": len(events),
		})
	}

	c.notify(events)
}

// Clear drops every entry of the given routes, or of the whole cache when
// none are given, stopping their timers.
func (c *PageCache[R]) Clear(routes ...string) {
	c.mu.Lock()

	targets := c.targetRoutes(routes)
	events := make([]CacheEvent, 0, len(targets))

	for _, route := range targets {
		buckets, ok := c.routes[route]
		if !ok {
			continue
		}

		for _, entries := range buckets {
			for _, entry := range entries {
				entry.timer.Stop()
			}
		}

		delete(c.routes, route)

		events = append(events, CacheEvent{Kind: ChangeClear, Route: route})
	}

	c.mu.Unlock()

	c.notify(events)
}

// Close stops every pending timer and empties the cache.
func (c *PageCache[R]) Close() {
	c.Clear()
}

func (c *PageCache[R]) targetRoutes(routes []string) []string {
	if len(routes) > 0 {
		return routes
	}

	all := make([]string, 0, len(c.routes))
	for route := range c.routes {
		all = append(all, route)
	}

	return all
}

// liveEntries returns the unexpired entries of route and token, every token
// when token is empty or the wildcard, ordered oldest to newest.
func (c *PageCache[R]) liveEntries(route, token string) []*cacheEntry[R] {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	buckets := c.routes[route]

	var entries []*cacheEntry[R]

	collect := func(bucket []*cacheEntry[R]) {
		for _, entry := range bucket {
			if now.Before(entry.validThrough) {
				entries = append(entries, entry)
			}
		}
	}

	if token == "" || token == WildcardToken {
		for _, bucket := range buckets {
			collect(bucket)
		}
	} else {
		collect(buckets[token])
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].validThrough.Equal(entries[j].validThrough) {
			return entries[i].seq < entries[j].seq
		}

		return entries[i].validThrough.Before(entries[j].validThrough)
	})

	return entries
}

// Resolve merges the cached pages of route and token into a mapping from row
// id to row.
//
// Pages are applied oldest to newest. Each page overwrites the rows it
// contains and removes every id between its own smallest and largest id that
// it does not contain, since the newer page is authoritative for that range.
func (c *PageCache[R]) Resolve(route, token string) map[int64]R {
	merged := make(map[int64]R)

	for _, entry := range c.liveEntries(route, token) {
		rows := entry.page.rows
		present := make(map[int64]struct{}, len(rows))

		for _, row := range rows {
			id := row.RowID()
			merged[id] = row
			present[id] = struct{}{}
		}

		minID, maxID, ok := entry.page.IDRange()
		if !ok {
			continue
		}

		for id := range merged {
			if id < minID || id > maxID {
				continue
			}

			if _, ok := present[id]; !ok {
				delete(merged, id)
			}
		}
	}

	return merged
}

// ResolveRows returns Resolve's rows ordered by ascending id.
func (c *PageCache[R]) ResolveRows(route, token string) []R {
	merged := c.Resolve(route, token)

	ids := make([]int64, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	rows := make([]R, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, merged[id])
	}

	return rows
}

// Lookup returns the newest unexpired page with the given page number. A
// positive perPage also requires the page to have been fetched with that
// page size, since the token does not cover it.
func (c *PageCache[R]) Lookup(route, token string, pageNumber, perPage int) (*Page[R], bool) {
	entries := c.liveEntries(route, token)

	for i := len(entries) - 1; i >= 0; i-- {
		page := entries[i].page
		if page.PageNumber() != pageNumber {
			continue
		}

		if perPage > 0 && page.Meta().PerPage != perPage {
			continue
		}

		c.recordLookup(true)

		return page, true
	}

	c.recordLookup(false)

	return nil, false
}

func (c *PageCache[R]) recordLookup(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
}

// PageNumbers returns the distinct page numbers cached for route and token.
func (c *PageCache[R]) PageNumbers(route, token string) []int {
	seen := make(map[int]struct{})

	var numbers []int

	for _, entry := range c.liveEntries(route, token) {
		number := entry.page.PageNumber()
		if _, ok := seen[number]; ok {
			continue
		}

		seen[number] = struct{}{}
		numbers = append(numbers, number)
	}

	sort.Ints(numbers)

	return numbers
}

// Len returns the number of stored entries, expired ones included until the
// next revalidation.
func (c *PageCache[R]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0

	for _, buckets := range c.routes {
		for _, entries := range buckets {
			count += len(entries)
		}
	}

	return count
}

// Routes returns the routes that currently hold entries.
func (c *PageCache[R]) Routes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return sortedKeys(c.routes)
}

// Stats returns a snapshot of the usage counters.
func (c *PageCache[R]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// Subscribe registers fn for change notifications and returns a function
// removing it.
func (c *PageCache[R]) Subscribe(fn func(CacheEvent)) func() {
	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *PageCache[R]) notify(events []CacheEvent) {
	if len(events) == 0 {
		return
	}

	c.mu.Lock()
	subscribers := make([]func(CacheEvent), 0, len(c.subscribers))

	for _, id := range sortedSubscriberIDs(c.subscribers) {
		subscribers = append(subscribers, c.subscribers[id])
	}
	c.mu.Unlock()

	for _, event := range events {
		for _, fn := range subscribers {
			fn(event)
		}
	}
}

func sortedSubscriberIDs(subscribers map[uint64]func(CacheEvent)) []uint64 {
	ids := make([]uint64, 0, len(subscribers))
	for id := range subscribers {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
