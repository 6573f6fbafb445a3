package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
)

// PaginationOptions controls multi-page traversal.
type PaginationOptions struct {
	PageSize int
	MaxPages int
}

// DefaultPaginationOptions returns the options used when none are given.
func DefaultPaginationOptions() *PaginationOptions {
	return &PaginationOptions{
		PageSize: constants.MaxPerPage,
		MaxPages: constants.MaxPages,
	}
}

// PageResult is one element of a page stream.
type PageResult[R Row] struct {
	Page  *Page[R]
	Items []R
	Err   error
}

// PaginationIterator walks every row of a listing one page at a time.
type PaginationIterator[R Row] struct {
	ctx     context.Context //nolint:containedctx
	fetcher Fetcher[R]
	route   string
	query   *QueryDescriptor

	current  *Page[R]
	items    []R
	index    int
	nextPage int
	done     bool
}

// NewPaginationIterator creates an iterator starting at the query's page.
// A nil query starts from the built-in defaults.
func NewPaginationIterator[R Row](ctx context.Context, fetcher Fetcher[R], route string, query *QueryDescriptor) *PaginationIterator[R] {
	if query == nil {
		query = NewQueryDescriptor(nil)
	}

	return &PaginationIterator[R]{
		ctx:      ctx,
		fetcher:  fetcher,
		route:    route,
		query:    query.Copy(),
		nextPage: query.Page(),
	}
}

// HasNext reports whether another item may be available.
func (it *PaginationIterator[R]) HasNext() bool {
	if it.index < len(it.items) {
		return true
	}

	if it.done {
		return false
	}

	if it.current == nil {
		return true
	}

	return hasMorePages(it.current, it.query.PerPage())
}

// Next returns the next item, fetching the following page when needed.
func (it *PaginationIterator[R]) Next() (R, error) {
	var zero R

	for it.index >= len(it.items) {
		if !it.HasNext() {
			return zero, ErrNoMoreItems
		}

		err := it.fetchNext()
		if err != nil {
			return zero, err
		}
	}

	item := it.items[it.index]
	it.index++

	return item, nil
}

func (it *PaginationIterator[R]) fetchNext() error {
	query := it.query.Copy()

	err := query.SetPage(it.nextPage)
	if err != nil {
		return err
	}

	page, err := it.fetcher.Fetch(it.ctx, it.route, query)
	if err != nil {
		return fmt.Errorf("fetching page %d: %w", it.nextPage, err)
	}

	it.current = page
	it.items = page.Rows()
	it.index = 0
	it.nextPage++

	if len(it.items) == 0 {
		it.done = true
	}

	return nil
}

// All collects every remaining item.
func (it *PaginationIterator[R]) All() ([]R, error) {
	var all []R

	for it.HasNext() {
		item, err := it.Next()
		if errors.Is(err, ErrNoMoreItems) {
			break
		}

		if err != nil {
			return nil, err
		}

		all = append(all, item)
	}

	return all, nil
}

// ForEach calls fn for every remaining item, stopping at the first error.
func (it *PaginationIterator[R]) ForEach(fn func(R) error) error {
	for it.HasNext() {
		item, err := it.Next()
		if errors.Is(err, ErrNoMoreItems) {
			return nil
		}

		if err != nil {
			return err
		}

		err = fn(item)
		if err != nil {
			return err
		}
	}

	return nil
}

// FetchAllPages fetches pages sequentially until the last page or
// options.MaxPages and returns their rows in order.
func FetchAllPages[R Row](ctx context.Context, fetcher Fetcher[R], route string, query *QueryDescriptor, options *PaginationOptions) ([]R, error) {
	var all []R

	for result := range StreamPages(ctx, fetcher, route, query, options) {
		if result.Err != nil {
			return nil, result.Err
		}

		all = append(all, result.Items...)
	}

	return all, nil
}

// StreamPages fetches pages in the background and delivers them on the
// returned channel, which is closed after the last page or the first error.
func StreamPages[R Row](ctx context.Context, fetcher Fetcher[R], route string, query *QueryDescriptor, options *PaginationOptions) <-chan PageResult[R] {
	results := make(chan PageResult[R], constants.SmallBufferSize)

	go func() {
		defer close(results)

		base, maxPages, err := paginationQuery(query, options)
		if err != nil {
			sendResult(ctx, results, PageResult[R]{Err: err})

			return
		}

		pageNumber := base.Page()

		for fetched := 0; fetched < maxPages; fetched++ {
			pageQuery := base.Copy()

			err := pageQuery.SetPage(pageNumber)
			if err != nil {
				sendResult(ctx, results, PageResult[R]{Err: err})

				return
			}

			page, err := fetcher.Fetch(ctx, route, pageQuery)
			if err != nil {
				sendResult(ctx, results, PageResult[R]{Err: fmt.Errorf("fetching page %d: %w", pageNumber, err)})

				return
			}

			if !sendResult(ctx, results, PageResult[R]{Page: page, Items: page.Rows()}) {
				return
			}

			if page.Len() == 0 || !hasMorePages(page, base.PerPage()) {
				return
			}

			pageNumber++
		}
	}()

	return results
}

func paginationQuery(query *QueryDescriptor, options *PaginationOptions) (*QueryDescriptor, int, error) {
	if query == nil {
		query = NewQueryDescriptor(nil)
	}

	if options == nil {
		options = DefaultPaginationOptions()
	}

	base := query.Copy()

	if options.PageSize > 0 {
		err := base.SetPerPage(options.PageSize)
		if err != nil {
			return nil, 0, err
		}
	}

	maxPages := options.MaxPages
	if maxPages <= 0 {
		maxPages = constants.MaxPages
	}

	return base, maxPages, nil
}

// hasMorePages trusts the page count header when present and otherwise
// assumes a full page is followed by another.
func hasMorePages[R Row](page *Page[R], perPage int) bool {
	if page.TotalPages() > 0 {
		return page.PageNumber() < page.TotalPages()
	}

	return page.Len() >= perPage
}

func sendResult[R Row](ctx context.Context, results chan<- PageResult[R], result PageResult[R]) bool {
	select {
	case results <- result:
		return true
	case <-ctx.Done():
		return false
	}
}
