package listing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
)

type inFlightFetch struct {
	cancel context.CancelFunc
}

// ListingView is a long-lived handle on one route and query. It tracks the
// current page and in-flight fetches and keeps a merged, deduplicated row
// slice that is rebuilt whenever the cache changes for its route and token.
type ListingView[R Row] struct {
	id      string
	route   string
	fetcher Fetcher[R]
	cache   *PageCache[R]
	ttl     time.Duration
	logger  Logger
	hooks   []func(rows []R)

	mu          sync.Mutex
	query       *QueryDescriptor
	token       string
	generation  uint64
	rebuildSeq  uint64
	committed   uint64
	currentPage int
	inFlight    map[int]*inFlightFetch
	rows        []R
	lastPage    *Page[R]
	closed      bool
	unsubscribe func()
}

// ViewOption configures a ListingView.
type ViewOption func(*viewOptions)

type viewOptions struct {
	ttl    time.Duration
	logger Logger
}

// WithTTL sets how long fetched pages stay in the cache.
func WithTTL(ttl time.Duration) ViewOption {
	return func(o *viewOptions) {
		o.ttl = ttl
	}
}

// WithViewLogger sets the logger used for view diagnostics.
func WithViewLogger(logger Logger) ViewOption {
	return func(o *viewOptions) {
		o.logger = logger
	}
}

// NewListingView binds a view to route and a copy of query. The view starts
// from whatever the cache already holds for the query's token.
func NewListingView[R Row](route string, query *QueryDescriptor, fetcher Fetcher[R], cache *PageCache[R], opts ...ViewOption) *ListingView[R] {
	options := &viewOptions{ttl: constants.DefaultCacheTTL}
	for _, opt := range opts {
		opt(options)
	}

	if query == nil {
		query = NewQueryDescriptor(nil)
	}

	view := &ListingView[R]{
		id:          uuid.NewString(),
		route:       route,
		fetcher:     fetcher,
		cache:       cache,
		ttl:         options.ttl,
		logger:      loggerOrNop(options.logger),
		query:       query.Copy(),
		token:       query.Token(),
		currentPage: query.Page(),
		inFlight:    make(map[int]*inFlightFetch),
	}

	view.unsubscribe = cache.Subscribe(view.handleCacheEvent)
	view.Rebuild()

	return view
}

// OnRebuild registers fn to be called with the new rows after every rebuild.
func (v *ListingView[R]) OnRebuild(fn func(rows []R)) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.hooks = append(v.hooks, fn)
}

// Get fetches pageNumber unless it is already in flight, in which case it
// returns nil immediately. On success the page is pushed into the cache and
// the view is rebuilt; on failure or cancellation nothing is pushed.
func (v *ListingView[R]) Get(ctx context.Context, pageNumber int) error {
	v.mu.Lock()

	if v.closed {
		v.mu.Unlock()

		return ErrViewClosed
	}

	if _, busy := v.inFlight[pageNumber]; busy {
		v.mu.Unlock()

		return nil
	}

	query := v.query.Copy()

	err := query.SetPage(pageNumber)
	if err != nil {
		v.mu.Unlock()

		return err
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	fetch := &inFlightFetch{cancel: cancel}
	v.inFlight[pageNumber] = fetch
	generation := v.generation

	v.mu.Unlock()

	page, err := v.fetcher.Fetch(fetchCtx, v.route, query)

	v.mu.Lock()

	if v.inFlight[pageNumber] == fetch {
		delete(v.inFlight, pageNumber)
	}

	cancelled := fetchCtx.Err() != nil
	cancel()

	if cancelled || v.closed || generation != v.generation {
		v.mu.Unlock()

		v.logger.Debug("Discarded cancelled fetch", map[string]interface{}{
			"view":  v.id,
			"route": v.route,
			"page":  pageNumber,
		})

		return fmt.Errorf("%w: page %d", ErrFetchCancelled, pageNumber)
	}

	if err != nil {
		v.mu.Unlock()

		return err
	}

	v.lastPage = page
	v.currentPage = page.PageNumber()

	v.mu.Unlock()

	v.cache.Push(v.route, page, v.ttl)
	v.Rebuild()

	return nil
}

// Next advances the current page and fetches it. The current page moves
// back when the fetch fails.
func (v *ListingView[R]) Next(ctx context.Context) error {
	v.mu.Lock()
	from := v.currentPage
	v.currentPage++
	next := v.currentPage
	v.mu.Unlock()

	err := v.Get(ctx, next)
	if err != nil {
		v.restoreCurrentPage(next, from)
	}

	return err
}

// Previous moves the current page back and fetches it. The current page is
// restored when the fetch fails.
func (v *ListingView[R]) Previous(ctx context.Context) error {
	v.mu.Lock()

	if v.currentPage <= 1 {
		v.mu.Unlock()

		return ErrNoPreviousPage
	}

	from := v.currentPage
	v.currentPage--
	previous := v.currentPage
	v.mu.Unlock()

	err := v.Get(ctx, previous)
	if err != nil {
		v.restoreCurrentPage(previous, from)
	}

	return err
}

// restoreCurrentPage undoes a page move unless something else moved the
// current page in the meantime.
func (v *ListingView[R]) restoreCurrentPage(moved, from int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.currentPage == moved {
		v.currentPage = from
	}
}

// Refresh re-requests every page cached for this view's token plus the
// current page. With flush the route is cleared from the cache first.
func (v *ListingView[R]) Refresh(ctx context.Context, flush bool) error {
	v.mu.Lock()
	route, token, current := v.route, v.token, v.currentPage
	v.mu.Unlock()

	pages := v.cache.PageNumbers(route, token)
	if !containsInt(pages, current) {
		pages = append(pages, current)
	}

	if flush {
		v.cache.Clear(route)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(constants.DefaultConcurrencyLimit)

	for _, pageNumber := range pages {
		group.Go(func() error {
			return v.Get(groupCtx, pageNumber)
		})
	}

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("refreshing %s: %w", route, err)
	}

	return nil
}

// Rebuild recomputes the visible rows from the cache. Rebuilds may overlap;
// a rebuild that finishes after a later-started one has committed is
// discarded, so the visible rows never go back to an older snapshot.
func (v *ListingView[R]) Rebuild() {
	v.mu.Lock()
	route, token := v.route, v.token
	v.rebuildSeq++
	seq := v.rebuildSeq
	v.mu.Unlock()

	rows := v.cache.ResolveRows(route, token)

	v.mu.Lock()

	if v.token != token || seq < v.committed {
		v.mu.Unlock()

		return
	}

	v.committed = seq
	v.rows = rows
	hooks := make([]func(rows []R), len(v.hooks))
	copy(hooks, v.hooks)

	v.mu.Unlock()

	for _, hook := range hooks {
		hook(copyRows(rows))
	}
}

// SetQuery cancels in-flight fetches and rebinds the view to a new query.
func (v *ListingView[R]) SetQuery(query *QueryDescriptor) error {
	if query == nil {
		return ErrNilQuery
	}

	v.mu.Lock()

	if v.closed {
		v.mu.Unlock()

		return ErrViewClosed
	}

	v.cancelAllLocked()
	v.generation++
	v.query = query.Copy()
	v.token = query.Token()
	v.currentPage = query.Page()
	v.lastPage = nil

	v.mu.Unlock()

	v.Rebuild()

	return nil
}

// Cancel aborts the in-flight fetch of pageNumber. It reports whether a fetch
// was cancelled.
func (v *ListingView[R]) Cancel(pageNumber int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	fetch, ok := v.inFlight[pageNumber]
	if !ok {
		return false
	}

	fetch.cancel()
	delete(v.inFlight, pageNumber)

	return true
}

// Close cancels every in-flight fetch and stops listening to the cache.
func (v *ListingView[R]) Close() {
	v.mu.Lock()

	if v.closed {
		v.mu.Unlock()

		return
	}

	v.closed = true
	v.cancelAllLocked()
	unsubscribe := v.unsubscribe

	v.mu.Unlock()

	unsubscribe()
}

func (v *ListingView[R]) cancelAllLocked() {
	for pageNumber, fetch := range v.inFlight {
		fetch.cancel()
		delete(v.inFlight, pageNumber)
	}
}

func (v *ListingView[R]) handleCacheEvent(event CacheEvent) {
	v.mu.Lock()
	interested := !v.closed && event.Route == v.route && (event.Token == "" || event.Token == v.token)
	v.mu.Unlock()

	if interested {
		v.Rebuild()
	}
}

// HasNext reports whether a page after the current one exists. Before the
// first page arrives it is optimistic.
func (v *ListingView[R]) HasNext() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.lastPage == nil {
		return true
	}

	return v.referencePageLocked() < v.lastPage.TotalPages()
}

// HasPrevious reports whether a page before the current one exists.
func (v *ListingView[R]) HasPrevious() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.lastPage == nil {
		return v.currentPage > 1
	}

	return v.referencePageLocked() > 1
}

// referencePageLocked is the last fetched page number while idle and the
// current page number while fetches are outstanding.
func (v *ListingView[R]) referencePageLocked() int {
	if len(v.inFlight) > 0 {
		return v.currentPage
	}

	return v.lastPage.PageNumber()
}

// ID returns the view's unique identifier.
func (v *ListingView[R]) ID() string {
	return v.id
}

// Route returns the route the view lists.
func (v *ListingView[R]) Route() string {
	return v.route
}

// Token returns the cache token of the current query.
func (v *ListingView[R]) Token() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.token
}

// Query returns a copy of the current query.
func (v *ListingView[R]) Query() *QueryDescriptor {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.query.Copy()
}

// Rows returns the visible rows ordered by id.
func (v *ListingView[R]) Rows() []R {
	v.mu.Lock()
	defer v.mu.Unlock()

	return copyRows(v.rows)
}

// CurrentPage returns the current page number.
func (v *ListingView[R]) CurrentPage() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.currentPage
}

// LastPage returns the most recently fetched page, nil before the first.
func (v *ListingView[R]) LastPage() *Page[R] {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.lastPage
}

// InFlight returns the page numbers currently being fetched.
func (v *ListingView[R]) InFlight() []int {
	v.mu.Lock()
	defer v.mu.Unlock()

	numbers := make([]int, 0, len(v.inFlight))
	for number := range v.inFlight {
		numbers = append(numbers, number)
	}

	sort.Ints(numbers)

	return numbers
}

func copyRows[R Row](rows []R) []R {
	copied := make([]R, len(rows))
	copy(copied, rows)

	return copied
}

func containsInt(values []int, value int) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}

	return false
}
