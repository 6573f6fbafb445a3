package listing

import (
	"context"
	"net/http"
	"time"
)

// Requester is the transport collaborator used to issue list requests.
// Implementations return an error for transport failures and may return one
// for non-2xx statuses.
type Requester interface {
	Request(ctx context.Context, url, method string, body []byte, headers http.Header) (*Response, error)
}

// RequesterFunc adapts a function to the Requester interface.
type RequesterFunc func(ctx context.Context, url, method string, body []byte, headers http.Header) (*Response, error)

// Request implements Requester.
func (f RequesterFunc) Request(ctx context.Context, url, method string, body []byte, headers http.Header) (*Response, error) {
	return f(ctx, url, method, body, headers)
}

// Response is what a Requester hands back.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// PageMeta carries the pagination metadata of a page.
type PageMeta struct {
	PageNumber int `json:"page"        yaml:"page"`
	PerPage    int `json:"per_page"    yaml:"per_page"`
	TotalPages int `json:"total_pages" yaml:"total_pages"`
	TotalRows  int `json:"total_rows"  yaml:"total_rows"`
	Offset     int `json:"offset"      yaml:"offset"`
}

// Page is one fetched batch of rows. It is never modified after creation.
type Page[R Row] struct {
	route     string
	token     string
	meta      PageMeta
	rows      []R
	fetchedAt time.Time
}

// NewPage creates a page. The rows slice is copied.
func NewPage[R Row](route, token string, meta PageMeta, rows []R) *Page[R] {
	copied := make([]R, len(rows))
	copy(copied, rows)

	return &Page[R]{
		route:     route,
		token:     token,
		meta:      meta,
		rows:      copied,
		fetchedAt: time.Now(),
	}
}

// Route returns the collection route the page was fetched from.
func (p *Page[R]) Route() string {
	return p.route
}

// CacheToken returns the token of the descriptor that produced the page.
func (p *Page[R]) CacheToken() string {
	return p.token
}

// Meta returns the pagination metadata.
func (p *Page[R]) Meta() PageMeta {
	return p.meta
}

// PageNumber returns the page number.
func (p *Page[R]) PageNumber() int {
	return p.meta.PageNumber
}

// TotalPages returns the total number of pages reported by the server.
func (p *Page[R]) TotalPages() int {
	return p.meta.TotalPages
}

// TotalRows returns the total number of rows reported by the server.
func (p *Page[R]) TotalRows() int {
	return p.meta.TotalRows
}

// FetchedAt returns when the page was created.
func (p *Page[R]) FetchedAt() time.Time {
	return p.fetchedAt
}

// Len returns the number of rows.
func (p *Page[R]) Len() int {
	return len(p.rows)
}

// Rows returns a copy of the rows in server order.
func (p *Page[R]) Rows() []R {
	copied := make([]R, len(p.rows))
	copy(copied, p.rows)

	return copied
}

// IDRange returns the smallest and largest row id. ok is false for an
// empty page.
func (p *Page[R]) IDRange() (minID, maxID int64, ok bool) {
	if len(p.rows) == 0 {
		return 0, 0, false
	}

	minID = p.rows[0].RowID()
	maxID = minID

	for _, row := range p.rows[1:] {
		id := row.RowID()
		if id < minID {
			minID = id
		}

		if id > maxID {
			maxID = id
		}
	}

	return minID, maxID, true
}
