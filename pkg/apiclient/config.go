package apiclient

import (
	"errors"
	"strings"
	"time"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/auth"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

// Static errors for err113 compliance.
var (
	ErrConfigRequired      = errors.New("config is required")
	ErrAPIEndpointRequired = errors.New("API endpoint is required")
	ErrNegativeCacheTTL    = errors.New("cache TTL must not be negative")
)

// Config configures a Client.
type Config struct {
	// APIEndpoint is the base URL of the API, e.g. "https://api.example.com".
	// A missing scheme defaults to https.
	APIEndpoint string

	// Authentication options (provide one). AccessToken is used directly;
	// the rest renew tokens against TokenURL.
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	// TokenURL defaults to APIEndpoint + "/oauth/token".
	TokenURL string
	// TokenPersister receives renewed tokens.
	TokenPersister auth.ConfigPersister

	HTTPTimeout  time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
	Debug        bool
	Logger       listing.Logger

	// CacheTTL is how long fetched pages stay live. Zero uses the default.
	CacheTTL time.Duration
	// Cache shares pages between clients. Nil creates a private cache.
	Cache *listing.PageCache[*listing.Resource]
	// Defaults seeds new query descriptors. Nil uses the shared defaults.
	Defaults *listing.Defaults
}

func (c *Config) needsTokenManager() bool {
	return c.AccessToken != "" || c.RefreshToken != "" || c.Username != "" ||
		(c.ClientID != "" && c.ClientSecret != "")
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	return endpoint
}
