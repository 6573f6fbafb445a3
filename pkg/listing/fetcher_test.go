package listing_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

var errConnectionReset = errors.New("connection reset")

type recordingRequester struct {
	mu       sync.Mutex
	urls     []string
	headers  []http.Header
	response *listing.Response
	err      error
}

func (r *recordingRequester) Request(_ context.Context, url, method string, _ []byte, headers http.Header) (*listing.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if method != http.MethodGet {
		return nil, errors.New("unexpected method " + method) //nolint:err113
	}

	r.urls = append(r.urls, url)
	r.headers = append(r.headers, headers)

	return r.response, r.err
}

func jsonResponse(status int, body string, headers map[string]string) *listing.Response {
	h := http.Header{}
	for key, value := range headers {
		h.Set(key, value)
	}

	return &listing.Response{StatusCode: status, Headers: h, Body: []byte(body)}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	query := listing.NewQueryDescriptor(nil)

	assert.Equal(t, "/v1/maps?page=1&per_page=12", listing.BuildURL("/v1/maps", query))
	assert.Equal(t, "/v1/maps?lang=nl&page=1&per_page=12", listing.BuildURL("/v1/maps?lang=nl", query))
}

//nolint:funlen // Test functions can be longer for detailed testing
func TestPageFetcher_Fetch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		response  *listing.Response
		err       error
		wantRows  []int64
		wantTotal int
		wantPages int
		check     func(t *testing.T, err error)
	}{
		{
			name: "data envelope with headers",
			response: jsonResponse(http.StatusOK,
				`{"success":true,"data":[{"id":1,"name":"a"},{"id":2,"name":"b"}]}`,
				map[string]string{
					"X-Paginate-Total":  "14",
					"X-Paginate-Pages":  "2",
					"X-Paginate-Offset": "0",
				}),
			wantRows:  []int64{1, 2},
			wantTotal: 14,
			wantPages: 2,
		},
		{
			name:      "bare array without headers",
			response:  jsonResponse(http.StatusOK, `[{"id":7}]`, nil),
			wantRows:  []int64{7},
			wantTotal: 0,
			wantPages: 0,
		},
		{
			name: "malformed headers yield zero",
			response: jsonResponse(http.StatusOK, `[]`, map[string]string{
				"X-Paginate-Total": "lots",
				"X-Paginate-Pages": "-3",
			}),
			wantRows: []int64{},
		},
		{
			name:     "non 2xx status",
			response: jsonResponse(http.StatusNotFound, `{"success":false}`, nil),
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, listing.ErrTransport)
				assert.Equal(t, http.StatusNotFound, listing.StatusCode(err))
			},
		},
		{
			name: "transport failure",
			err:  errConnectionReset,
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, listing.ErrTransport)
				require.ErrorIs(t, err, errConnectionReset)
				assert.Equal(t, 0, listing.StatusCode(err))
			},
		},
		{
			name:     "broken json",
			response: jsonResponse(http.StatusOK, `{"data":[`, nil),
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, listing.ErrDecode)
				assert.True(t, listing.IsDecode(err))
			},
		},
		{
			name:     "scalar body",
			response: jsonResponse(http.StatusOK, `"nope"`, nil),
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, listing.ErrDecode)
				require.ErrorIs(t, err, listing.ErrUnexpectedBodyType)
			},
		},
		{
			name:     "empty body",
			response: jsonResponse(http.StatusOK, ``, nil),
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, listing.ErrEmptyBody)
			},
		},
		{
			name:     "row without id",
			response: jsonResponse(http.StatusOK, `[{"name":"orphan"}]`, nil),
			check: func(t *testing.T, err error) {
				t.Helper()
				require.ErrorIs(t, err, listing.ErrDecode)
				require.ErrorIs(t, err, listing.ErrMissingRowID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			requester := &recordingRequester{response: tt.response, err: tt.err}
			fetcher := listing.NewPageFetcher(requester, listing.ResourceFactory)

			query := listing.NewQueryDescriptor(nil)
			require.NoError(t, query.SetPage(2))

			page, err := fetcher.Fetch(context.Background(), "/v1/maps", query)
			if tt.check != nil {
				require.Error(t, err)
				assert.Nil(t, page)
				tt.check(t, err)

				return
			}

			require.NoError(t, err)

			ids := make([]int64, 0, page.Len())
			for _, row := range page.Rows() {
				ids = append(ids, row.RowID())
			}

			assert.Equal(t, tt.wantRows, ids)
			assert.Equal(t, 2, page.PageNumber())
			assert.Equal(t, tt.wantTotal, page.TotalRows())
			assert.Equal(t, tt.wantPages, page.TotalPages())
			assert.Equal(t, "/v1/maps", page.Route())
			assert.Equal(t, query.Token(), page.CacheToken())

			require.Len(t, requester.urls, 1)
			assert.Equal(t, "/v1/maps?page=2&per_page=12", requester.urls[0])
			assert.Equal(t, "application/json", requester.headers[0].Get("Accept"))
		})
	}
}

type statusError struct {
	status int
}

func (e statusError) Error() string {
	return http.StatusText(e.status)
}

func (e statusError) HTTPStatus() int {
	return e.status
}

func TestPageFetcher_StatusFromTransportError(t *testing.T) {
	t.Parallel()

	requester := listing.RequesterFunc(func(context.Context, string, string, []byte, http.Header) (*listing.Response, error) {
		return nil, statusError{status: http.StatusServiceUnavailable}
	})

	fetcher := listing.NewPageFetcher(requester, listing.ResourceFactory)

	_, err := fetcher.Fetch(context.Background(), "/v1/maps", listing.NewQueryDescriptor(nil))
	require.ErrorIs(t, err, listing.ErrTransport)
	assert.Equal(t, http.StatusServiceUnavailable, listing.StatusCode(err))
}

func TestPageFetcher_Cancelled(t *testing.T) {
	t.Parallel()

	requester := listing.RequesterFunc(func(ctx context.Context, _ string, _ string, _ []byte, _ http.Header) (*listing.Response, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	})

	fetcher := listing.NewPageFetcher(requester, listing.ResourceFactory)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.Fetch(ctx, "/v1/maps", listing.NewQueryDescriptor(nil))
	require.ErrorIs(t, err, listing.ErrFetchCancelled)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, listing.IsTransport(err))
}

func TestPageFetcher_NilQuery(t *testing.T) {
	t.Parallel()

	fetcher := listing.NewPageFetcher(&recordingRequester{}, listing.ResourceFactory)

	_, err := fetcher.Fetch(context.Background(), "/v1/maps", nil)
	require.ErrorIs(t, err, listing.ErrNilQuery)
}

func TestPageFetcher_ExtraHeaders(t *testing.T) {
	t.Parallel()

	requester := &recordingRequester{response: jsonResponse(http.StatusOK, `[]`, nil)}
	fetcher := listing.NewPageFetcher(requester, listing.ResourceFactory,
		listing.WithFetcherHeader("X-Locale", "nl"),
		listing.WithFetcherLogger(listing.NopLogger{}),
	)

	_, err := fetcher.Fetch(context.Background(), "/v1/maps", listing.NewQueryDescriptor(nil))
	require.NoError(t, err)

	require.Len(t, requester.headers, 1)
	assert.Equal(t, "nl", requester.headers[0].Get("X-Locale"))
}

type mapRow struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

func (m mapRow) RowID() int64 {
	return m.ID
}

func TestPageFetcher_StructFactory(t *testing.T) {
	t.Parallel()

	requester := &recordingRequester{
		response: jsonResponse(http.StatusOK, `{"data":[{"id":3,"title":"Amsterdam"}]}`, nil),
	}
	fetcher := listing.NewPageFetcher(requester, listing.StructFactory[mapRow]())

	page, err := fetcher.Fetch(context.Background(), "/v1/maps", listing.NewQueryDescriptor(nil))
	require.NoError(t, err)

	assert.Equal(t, []mapRow{{ID: 3, Title: "Amsterdam"}}, page.Rows())
}
