// Package apiclient is the entry point for talking to the listing API. It
// wires the HTTP transport, token renewal, a page cache and the page fetcher
// together, and hands out live listing views backed by the shared cache.
package apiclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/auth"
	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
	"github.com/MapcreatorIO/api-wrapper-sub000/internal/http"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/invalidate"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

// Resource pages are what the client fetches and caches.
type (
	Page = listing.Page[*listing.Resource]
	View = listing.ListingView[*listing.Resource]
)

// Client fetches and caches resource listings.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	tokenManager http.TokenManager
	fetcher      *listing.PageFetcher[*listing.Resource]
	cache        *listing.PageCache[*listing.Resource]
	ownsCache    bool
	defaults     *listing.Defaults
	ttl          time.Duration
	logger       listing.Logger

	mu          sync.Mutex
	invalidator *invalidate.Invalidator
}

// New creates a client from config.
func New(config *Config) (*Client, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}

	if config.APIEndpoint == "" {
		return nil, ErrAPIEndpointRequired
	}

	if config.CacheTTL < 0 {
		return nil, ErrNegativeCacheTTL
	}

	baseURL := normalizeEndpoint(config.APIEndpoint)

	logger := config.Logger
	if logger == nil {
		logger = listing.NopLogger{}
	}

	tokenManager := createTokenManager(config, baseURL, logger)
	httpClient := http.NewClient(baseURL, tokenManager, createHTTPClientOptions(config, logger)...)

	client := &Client{
		baseURL:      baseURL,
		httpClient:   httpClient,
		tokenManager: tokenManager,
		fetcher:      listing.NewPageFetcher(httpClient, listing.ResourceFactory, listing.WithFetcherLogger(logger)),
		cache:        config.Cache,
		defaults:     config.Defaults,
		ttl:          config.CacheTTL,
		logger:       logger,
	}

	if client.cache == nil {
		client.cache = listing.NewPageCache[*listing.Resource](listing.WithCacheLogger(logger))
		client.ownsCache = true
	}

	if client.defaults == nil {
		client.defaults = listing.SharedDefaults()
	}

	if client.ttl == 0 {
		client.ttl = constants.DefaultCacheTTL
	}

	return client, nil
}

// createTokenManager returns nil when no credentials are configured.
func createTokenManager(config *Config, baseURL string, logger listing.Logger) http.TokenManager {
	if !config.needsTokenManager() {
		return nil
	}

	tokenURL := config.TokenURL
	if tokenURL == "" {
		tokenURL = baseURL + "/oauth/token"
	}

	oauthConfig := &auth.OAuth2Config{
		TokenURL:     tokenURL,
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Username:     config.Username,
		Password:     config.Password,
		AccessToken:  config.AccessToken,
		RefreshToken: config.RefreshToken,
	}

	if config.TokenPersister != nil {
		return auth.NewPersistingTokenManager(oauthConfig, config.TokenPersister, logger)
	}

	return auth.NewOAuth2TokenManager(oauthConfig)
}

func createHTTPClientOptions(config *Config, logger listing.Logger) []http.Option {
	opts := []http.Option{http.WithLogger(logger)}

	if config.Debug {
		opts = append(opts, http.WithDebug(true))
	}

	if config.UserAgent != "" {
		opts = append(opts, http.WithUserAgent(config.UserAgent))
	}

	if config.HTTPTimeout > 0 {
		opts = append(opts, http.WithTimeout(config.HTTPTimeout))
	}

	if config.RetryMax > 0 {
		retryWaitMin := constants.DefaultRetryWaitMin
		retryWaitMax := constants.ExtendedRetryWaitMax

		if config.RetryWaitMin > 0 {
			retryWaitMin = config.RetryWaitMin
		}

		if config.RetryWaitMax > 0 {
			retryWaitMax = config.RetryWaitMax
		}

		opts = append(opts, http.WithRetryConfig(config.RetryMax, retryWaitMin, retryWaitMax))
	}

	return opts
}

// BaseURL returns the normalized API endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Cache returns the page cache backing this client.
func (c *Client) Cache() *listing.PageCache[*listing.Resource] {
	return c.cache
}

// Defaults returns the defaults new descriptors are seeded from.
func (c *Client) Defaults() *listing.Defaults {
	return c.defaults
}

// TokenManager returns the token manager, or nil for anonymous clients.
func (c *Client) TokenManager() http.TokenManager {
	return c.tokenManager
}

// Query returns a new descriptor seeded from the client's defaults.
func (c *Client) Query() *listing.QueryDescriptor {
	return listing.NewQueryDescriptor(c.defaults)
}

// Fetch requests one page from the network and stores it in the cache.
func (c *Client) Fetch(ctx context.Context, route string, query *listing.QueryDescriptor) (*Page, error) {
	if query == nil {
		query = c.Query()
	}

	page, err := c.fetcher.Fetch(ctx, route, query)
	if err != nil {
		return nil, err
	}

	c.cache.Push(route, page, c.ttl)

	return page, nil
}

// List returns the requested page from the cache when a live copy exists
// and fetches it otherwise.
func (c *Client) List(ctx context.Context, route string, query *listing.QueryDescriptor) (*Page, error) {
	if query == nil {
		query = c.Query()
	}

	if page, ok := c.cache.Lookup(route, query.Token(), query.Page(), query.PerPage()); ok {
		c.logger.Debug("serving page from cache", map[string]interface{}{
			"route": route,
			"page":  query.Page(),
		})

		return page, nil
	}

	return c.Fetch(ctx, route, query)
}

// All fetches every page of a listing. Each page is cached as it arrives.
func (c *Client) All(ctx context.Context, route string, query *listing.QueryDescriptor, options *listing.PaginationOptions) ([]*listing.Resource, error) {
	if query == nil {
		query = c.Query()
	}

	rows, err := listing.FetchAllPages[*listing.Resource](ctx, c, route, query, options)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", route, err)
	}

	return rows, nil
}

// Stream delivers every page of a listing on a channel.
func (c *Client) Stream(ctx context.Context, route string, query *listing.QueryDescriptor, options *listing.PaginationOptions) <-chan listing.PageResult[*listing.Resource] {
	if query == nil {
		query = c.Query()
	}

	return listing.StreamPages[*listing.Resource](ctx, c, route, query, options)
}

// Iterate returns an iterator over every row of a listing.
func (c *Client) Iterate(ctx context.Context, route string, query *listing.QueryDescriptor) *listing.PaginationIterator[*listing.Resource] {
	if query == nil {
		query = c.Query()
	}

	return listing.NewPaginationIterator[*listing.Resource](ctx, c, route, query)
}

// Listing creates a live view of route backed by the client's cache.
func (c *Client) Listing(route string, query *listing.QueryDescriptor, opts ...listing.ViewOption) *View {
	if query == nil {
		query = c.Query()
	}

	viewOpts := append([]listing.ViewOption{
		listing.WithTTL(c.ttl),
		listing.WithViewLogger(c.logger),
	}, opts...)

	return listing.NewListingView[*listing.Resource](route, query, c.fetcher, c.cache, viewOpts...)
}

// EnableInvalidation shares invalidations with other processes over conn.
func (c *Client) EnableInvalidation(conn invalidate.Conn, opts ...invalidate.Option) error {
	inv, err := invalidate.New(conn, c.cache, append([]invalidate.Option{invalidate.WithLogger(c.logger)}, opts...)...)
	if err != nil {
		return err
	}

	c.mu.Lock()
	previous := c.invalidator
	c.invalidator = inv
	c.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}

	return nil
}

// Invalidate drops cached pages for routes, or for every route when none
// are given, and announces it when invalidation sharing is enabled.
func (c *Client) Invalidate(routes ...string) error {
	c.mu.Lock()
	inv := c.invalidator
	c.mu.Unlock()

	if inv != nil {
		return inv.Invalidate(routes...)
	}

	c.cache.Clear(routes...)

	return nil
}

// Close releases the client's resources. A cache passed in through Config
// is left running.
func (c *Client) Close() error {
	c.mu.Lock()
	inv := c.invalidator
	c.invalidator = nil
	c.mu.Unlock()

	var err error
	if inv != nil {
		err = inv.Close()
	}

	if c.ownsCache {
		c.cache.Close()
	}

	c.httpClient.CloseIdleConnections()

	return err
}
