// Package fakeapi serves paginated collections the way the listing API
// does. It backs the client and CLI tests.
package fakeapi

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
)

// Row is a single resource served by the fake API.
type Row = map[string]interface{}

// Server is an in-memory paginated API.
type Server struct {
	mu          sync.Mutex
	collections map[string][]Row
	requests    map[string]int
	queries     map[string]string
	failures    map[string][]int
	token       string

	engine *gin.Engine
	http   *httptest.Server
}

// New creates and starts a fake API server.
func New() *Server {
	gin.SetMode(gin.TestMode)

	server := &Server{
		collections: make(map[string][]Row),
		requests:    make(map[string]int),
		queries:     make(map[string]string),
		failures:    make(map[string][]int),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/*path", server.list)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody("HttpNotFoundException", "route not found"))
	})

	server.engine = engine
	server.http = httptest.NewServer(engine)

	return server
}

// URL returns the base URL of the server.
func (s *Server) URL() string {
	return s.http.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.http.Close()
}

// AddCollection registers rows under route, replacing any earlier rows.
func (s *Server) AddCollection(route string, rows []Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]Row, len(rows))
	for i, row := range rows {
		copied[i] = make(Row, len(row))
		for key, value := range row {
			copied[i][key] = value
		}
	}

	s.collections[normalize(route)] = copied
}

// RequireToken makes every request carry "Authorization: Bearer token".
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
}

// FailNext makes the next count requests for route answer with status.
func (s *Server) FailNext(route string, status, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	route = normalize(route)
	for range count {
		s.failures[route] = append(s.failures[route], status)
	}
}

// Requests returns how many requests reached route.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.requests[normalize(route)]
}

// LastQuery returns the raw query string of the latest request for route.
func (s *Server) LastQuery(route string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queries[normalize(route)]
}

func (s *Server) list(c *gin.Context) {
	route := normalize(c.Param("path"))

	s.mu.Lock()
	s.requests[route]++
	s.queries[route] = c.Request.URL.RawQuery
	token := s.token

	var failure int
	if pending := s.failures[route]; len(pending) > 0 {
		failure = pending[0]
		s.failures[route] = pending[1:]
	}

	rows, ok := s.collections[route]
	s.mu.Unlock()

	if token != "" && c.GetHeader("Authorization") != "Bearer "+token {
		c.JSON(http.StatusUnauthorized, errorBody("AuthenticationException", "Unauthenticated."))

		return
	}

	if failure != 0 {
		c.JSON(failure, errorBody("HttpException", http.StatusText(failure)))

		return
	}

	if !ok {
		c.JSON(http.StatusNotFound, errorBody("HttpNotFoundException", "route not found"))

		return
	}

	page := queryInt(c, "page", constants.DefaultPage)
	perPage := queryInt(c, "per_page", constants.DefaultPerPage)

	if page < 1 || perPage < constants.MinPerPage || perPage > constants.MaxPerPage {
		c.JSON(http.StatusUnprocessableEntity, errorBody("ValidationException", "invalid pagination"))

		return
	}

	matched := filterRows(rows, c.QueryMap("search"), c.DefaultQuery("deleted", "none"))
	sortRows(matched, c.Query("sort"))

	total := len(matched)
	pages := (total + perPage - 1) / perPage
	offset := (page - 1) * perPage

	data := []Row{}
	if offset < total {
		data = matched[offset:min(offset+perPage, total)]
	}

	c.Header(constants.HeaderPaginateTotal, strconv.Itoa(total))
	c.Header(constants.HeaderPaginatePages, strconv.Itoa(pages))
	c.Header(constants.HeaderPaginateOffset, strconv.Itoa(offset))
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func filterRows(rows []Row, search map[string]string, deleted string) []Row {
	matched := make([]Row, 0, len(rows))

	for _, row := range rows {
		isDeleted := row["deleted_at"] != nil

		switch deleted {
		case "only":
			if !isDeleted {
				continue
			}
		case "all":
		default:
			if isDeleted {
				continue
			}
		}

		if matchesSearch(row, search) {
			matched = append(matched, row)
		}
	}

	return matched
}

// matchesSearch applies case-insensitive substring matching. Comma
// separated values match when any of them does.
func matchesSearch(row Row, search map[string]string) bool {
	for key, raw := range search {
		field := strings.ToLower(cast.ToString(row[key]))
		found := false

		for _, candidate := range strings.Split(raw, ",") {
			if strings.Contains(field, strings.ToLower(strings.TrimSpace(candidate))) {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

func sortRows(rows []Row, spec string) {
	if spec == "" {
		spec = "id"
	}

	keys := strings.Split(spec, ",")

	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range keys {
			descending := strings.HasPrefix(key, "-")
			column := strings.TrimLeft(key, "+-")

			cmp := compareValues(rows[i][column], rows[j][column])
			if cmp == 0 {
				continue
			}

			if descending {
				return cmp > 0
			}

			return cmp < 0
		}

		return false
	})
}

func compareValues(left, right interface{}) int {
	leftNumber, leftErr := cast.ToFloat64E(left)
	rightNumber, rightErr := cast.ToFloat64E(right)

	if leftErr == nil && rightErr == nil {
		switch {
		case leftNumber < rightNumber:
			return -1
		case leftNumber > rightNumber:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(cast.ToString(left), cast.ToString(right))
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw, ok := c.GetQuery(key)
	if !ok {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}

	return value
}

func errorBody(kind, message string) gin.H {
	return gin.H{
		"success": false,
		"error":   gin.H{"type": kind, "message": message},
	}
}

func normalize(route string) string {
	return "/" + strings.Trim(route, "/")
}
