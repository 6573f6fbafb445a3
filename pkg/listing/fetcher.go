package listing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
)

// Fetcher fetches a single page of a listing.
type Fetcher[R Row] interface {
	Fetch(ctx context.Context, route string, query *QueryDescriptor) (*Page[R], error)
}

// PageFetcher issues list requests and turns responses into pages.
type PageFetcher[R Row] struct {
	requester Requester
	factory   RowFactory[R]
	logger    Logger
	headers   http.Header
}

// FetcherOption configures a PageFetcher.
type FetcherOption func(*fetcherOptions)

type fetcherOptions struct {
	logger  Logger
	headers http.Header
}

// WithFetcherLogger sets the logger used for fetch diagnostics.
func WithFetcherLogger(logger Logger) FetcherOption {
	return func(o *fetcherOptions) {
		o.logger = logger
	}
}

// WithFetcherHeader adds a header sent with every list request.
func WithFetcherHeader(key, value string) FetcherOption {
	return func(o *fetcherOptions) {
		o.headers.Add(key, value)
	}
}

// NewPageFetcher creates a fetcher using requester for transport and factory
// to build each row.
func NewPageFetcher[R Row](requester Requester, factory RowFactory[R], opts ...FetcherOption) *PageFetcher[R] {
	options := &fetcherOptions{headers: http.Header{}}
	for _, opt := range opts {
		opt(options)
	}

	options.headers.Set("Accept", "application/json")

	return &PageFetcher[R]{
		requester: requester,
		factory:   factory,
		logger:    loggerOrNop(options.logger),
		headers:   options.headers,
	}
}

// BuildURL joins a route and the descriptor's encoded query.
func BuildURL(route string, query *QueryDescriptor) string {
	separator := "?"
	if strings.Contains(route, "?") {
		separator = "&"
	}

	return route + separator + query.Encode()
}

// Fetch requests one page for route and query. It never retries.
func (f *PageFetcher[R]) Fetch(ctx context.Context, route string, query *QueryDescriptor) (*Page[R], error) {
	if query == nil {
		return nil, ErrNilQuery
	}

	url := BuildURL(route, query)

	f.logger.Debug("Fetching page", map[string]interface{}{
		"route":    route,
		"page":     query.Page(),
		"per_page": query.PerPage(),
	})

	resp, err := f.requester.Request(ctx, url, http.MethodGet, nil, f.headers.Clone())
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetchCancelled, ctx.Err())
		}

		return nil, &TransportError{URL: url, StatusCode: statusFromError(err), Err: err}
	}

	if resp == nil {
		return nil, &TransportError{URL: url, Err: ErrEmptyBody}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TransportError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", http.StatusText(resp.StatusCode)),
		}
	}

	rawRows, err := decodeRows(resp.Body)
	if err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}

	rows := make([]R, 0, len(rawRows))

	for i, raw := range rawRows {
		row, err := f.factory(raw)
		if err != nil {
			return nil, &DecodeError{URL: url, Err: fmt.Errorf("row %d: %w", i, err)}
		}

		rows = append(rows, row)
	}

	meta := PageMeta{
		PageNumber: query.Page(),
		PerPage:    query.PerPage(),
		TotalRows:  headerInt(resp.Headers, constants.HeaderPaginateTotal),
		TotalPages: headerInt(resp.Headers, constants.HeaderPaginatePages),
		Offset:     headerInt(resp.Headers, constants.HeaderPaginateOffset),
	}

	f.logger.Debug("Fetched page", map[string]interface{}{
		"route":       route,
		"page":        meta.PageNumber,
		"rows":        len(rows),
		"total_pages": meta.TotalPages,
		"total_rows":  meta.TotalRows,
	})

	return NewPage(route, query.Token(), meta, rows), nil
}

type dataEnvelope struct {
	Success *bool                 `json:"success"`
	Data    []jsoniter.RawMessage `json:"data"`
}

// decodeRows accepts either a bare JSON array or an object with a data array.
func decodeRows(body []byte) ([]jsoniter.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrEmptyBody
	}

	switch trimmed[0] {
	case '[':
		var rows []jsoniter.RawMessage

		err := jsonCodec.Unmarshal(trimmed, &rows)
		if err != nil {
			return nil, fmt.Errorf("parsing row array: %w", err)
		}

		return rows, nil
	case '{':
		var envelope dataEnvelope

		err := jsonCodec.Unmarshal(trimmed, &envelope)
		if err != nil {
			return nil, fmt.Errorf("parsing response envelope: %w", err)
		}

		if envelope.Data == nil {
			return nil, ErrUnexpectedBodyType
		}

		return envelope.Data, nil
	default:
		return nil, ErrUnexpectedBodyType
	}
}

// headerInt reads a numeric header, 0 when missing or malformed.
func headerInt(headers http.Header, key string) int {
	if headers == nil {
		return 0
	}

	value, err := strconv.Atoi(strings.TrimSpace(headers.Get(key)))
	if err != nil || value < 0 {
		return 0
	}

	return value
}

type statusCoder interface {
	HTTPStatus() int
}

func statusFromError(err error) int {
	var coder statusCoder
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}

	return 0
}
