package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration files.
	ConfigFilePerm = 0600
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for quick operations.
	ShortHTTPTimeout = 10 * time.Second
)

// Retry limits.
const (
	// DefaultRetryMax is the default maximum number of retries.
	DefaultRetryMax = 3

	// DefaultRetryWaitMin is the minimum wait time between retries.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum wait time between retries.
	DefaultRetryWaitMax = 10 * time.Second

	// ExtendedRetryWaitMax is used for operations that need longer waits.
	ExtendedRetryWaitMax = 30 * time.Second
)

// Concurrency limits.
const (
	// DefaultConcurrencyLimit limits concurrent page fetches.
	DefaultConcurrencyLimit = 3

	// SmallBufferSize is used for smaller buffers.
	SmallBufferSize = 10
)

// Pagination limits and defaults.
const (
	// DefaultPage is the page requested when none is given.
	DefaultPage = 1

	// DefaultPerPage is the default number of rows per page.
	DefaultPerPage = 12

	// MinPerPage is the smallest page size the server accepts.
	MinPerPage = 1

	// MaxPerPage is the largest page size the server accepts.
	MaxPerPage = 50

	// MaxPages prevents unbounded loops when walking every page.
	MaxPages = 1000
)

// Pagination response headers.
const (
	// HeaderPaginateTotal carries the total number of rows.
	HeaderPaginateTotal = "X-Paginate-Total"

	// HeaderPaginatePages carries the total number of pages.
	HeaderPaginatePages = "X-Paginate-Pages"

	// HeaderPaginateOffset carries the row offset of the page.
	HeaderPaginateOffset = "X-Paginate-Offset"
)

// Cache time-to-live values.
const (
	// DefaultCacheTTL is the default lifetime of a cached page.
	DefaultCacheTTL = 5 * time.Minute

	// CacheMinTTL is the minimum lifetime accepted from configuration.
	CacheMinTTL = 0 * time.Second
)

// Token handling.
const (
	// TokenExpirationBuffer is the buffer time before token expiration.
	TokenExpirationBuffer = 30 * time.Second
)

// Format constants.
const (
	// FormatTable for table output format.
	FormatTable = "table"

	// FormatJSON for JSON output format.
	FormatJSON = "json"

	// FormatYAML for YAML output format.
	FormatYAML = "yaml"
)

// Display constants.
const (
	// NotAvailable is used when information is not available.
	NotAvailable = "N/A"

	// JSONIndentSize is the number of spaces for JSON indentation.
	JSONIndentSize = 2

	// StringTruncationLength is the default length for truncating cell values.
	StringTruncationLength = 60

	// KeyValueSplitParts is the number of parts when splitting key=value strings.
	KeyValueSplitParts = 2
)

// Invalidation bus.
const (
	// DefaultInvalidationSubject is the NATS subject route invalidations travel on.
	DefaultInvalidationSubject = "listing.invalidate"
)
