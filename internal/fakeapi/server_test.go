package fakeapi_test

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/fakeapi"
)

type listBody struct {
	Success bool                     `json:"success"`
	Data    []map[string]interface{} `json:"data"`
}

func get(t *testing.T, url string, header http.Header) (*http.Response, listBody) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)

	for key := range header {
		req.Header.Set(key, header.Get(key))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body listBody
	require.NoError(t, json.Unmarshal(raw, &body))

	return resp, body
}

func ids(rows []map[string]interface{}) []float64 {
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		out = append(out, row["id"].(float64))
	}

	return out
}

func newServer(t *testing.T) *fakeapi.Server {
	t.Helper()

	server := fakeapi.New()
	t.Cleanup(server.Close)

	server.AddCollection("/v1/maps", []fakeapi.Row{
		{"id": 1, "name": "Amsterdam"},
		{"id": 2, "name": "Berlin"},
		{"id": 3, "name": "Copenhagen", "deleted_at": "2024-01-01"},
		{"id": 4, "name": "Dublin"},
		{"id": 5, "name": "Edinburgh"},
	})

	return server
}

//nolint:funlen // Test functions can be longer for detailed testing
func TestServer_List(t *testing.T) {
	t.Parallel()

	server := newServer(t)

	tests := []struct {
		name    string
		query   string
		wantIDs []float64
		total   string
		pages   string
	}{
		{name: "defaults hide deleted", query: "", wantIDs: []float64{1, 2, 4, 5}, total: "4", pages: "1"},
		{name: "second page", query: "page=2&per_page=2", wantIDs: []float64{4, 5}, total: "4", pages: "2"},
		{name: "past the end", query: "page=9&per_page=2", wantIDs: []float64{}, total: "4", pages: "2"},
		{name: "search", query: "search[name]=in", wantIDs: []float64{2, 4, 5}, total: "3", pages: "1"},
		{name: "search any of", query: "search[name]=ams%2Cdub", wantIDs: []float64{1, 4}, total: "2", pages: "1"},
		{name: "sort descending", query: "sort=-name", wantIDs: []float64{5, 4, 2, 1}, total: "4", pages: "1"},
		{name: "only deleted", query: "deleted=only", wantIDs: []float64{3}, total: "1", pages: "1"},
		{name: "all rows", query: "deleted=all&per_page=50", wantIDs: []float64{1, 2, 3, 4, 5}, total: "5", pages: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, body := get(t, server.URL()+"/v1/maps?"+tt.query, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.True(t, body.Success)
			assert.Equal(t, tt.wantIDs, ids(body.Data))
			assert.Equal(t, tt.total, resp.Header.Get("X-Paginate-Total"))
			assert.Equal(t, tt.pages, resp.Header.Get("X-Paginate-Pages"))
		})
	}
}

func TestServer_Errors(t *testing.T) {
	t.Parallel()

	server := newServer(t)

	resp, _ := get(t, server.URL()+"/v1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, server.URL()+"/v1/maps?per_page=51", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	server.FailNext("/v1/maps", http.StatusServiceUnavailable, 1)

	resp, _ = get(t, server.URL()+"/v1/maps", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = get(t, server.URL()+"/v1/maps?page=1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, server.Requests("v1/maps"))
	assert.Equal(t, "page=1", server.LastQuery("/v1/maps"))
}

func TestServer_RequireToken(t *testing.T) {
	t.Parallel()

	server := newServer(t)
	server.RequireToken("secret")

	resp, _ := get(t, server.URL()+"/v1/maps", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, server.URL()+"/v1/maps", http.Header{"Authorization": []string{"Bearer secret"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
