// Package listing implements paginated list requests, a shared time-bounded
// page cache and live views over the merged result.
//
// # Overview
//
// A QueryDescriptor holds validated list parameters (page, per_page, search
// filters, sort order and soft-delete visibility) and derives a cache token
// from the parts that identify a collection. Descriptors that differ only in
// page or per_page share a token, so their pages land in the same cache
// bucket and can be merged.
//
//	query := listing.NewQueryDescriptor(nil)
//	_ = query.SetSort("-name")
//	_ = query.SetSearch(map[string]interface{}{"fooBar": "test"})
//	query.Encode() // page=1&per_page=12&search[foo_bar]=test&sort=-name
//
// # Fetching and caching
//
// A PageFetcher turns one list request into an immutable Page using any
// Requester for transport. Pages are pushed into a PageCache together with a
// TTL; the cache expires them on its own and merges the live pages of a token
// into one id-addressable set:
//
//	fetcher := listing.NewPageFetcher(requester, listing.ResourceFactory)
//	cache := listing.NewPageCache[*listing.Resource]()
//
//	page, err := fetcher.Fetch(ctx, "/v1/maps", query)
//	if err != nil { /* handle error */ }
//	cache.Push("/v1/maps", page, 5*time.Minute)
//
//	rows := cache.ResolveRows("/v1/maps", query.Token())
//
// Newer pages are authoritative for the id range they cover: when a row
// disappears between two fetches of overlapping ranges it is dropped from the
// merged result.
//
// # Live views
//
// A ListingView binds a route and query to a fetcher and cache. It keeps at
// most one fetch in flight per page number and rebuilds its rows whenever the
// cache changes for its route:
//
//	view := listing.NewListingView("/v1/maps", query, fetcher, cache)
//	defer view.Close()
//
//	if err := view.Get(ctx, 1); err != nil { /* handle error */ }
//	for view.HasNext() {
//	  if err := view.Next(ctx); err != nil { break }
//	}
//	rows := view.Rows()
//
// # Errors
//
// Validation failures are InvalidParameterError values, failed requests are
// TransportError values and unparsable bodies are DecodeError values. Use
// IsInvalidParameter, IsTransport and IsDecode, or errors.Is with the
// matching sentinel, to branch on them.
package listing
