package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix is the namespace of every cache key.
const KeyPrefix = "scrolltable"

// PageKey identifies one cached page response.
type PageKey struct {
	// URL is the endpoint URL. A query string, if any, is ignored.
	URL string

	// Params are the request parameters (page, pagesize, formatted extras).
	Params url.Values
}

// String generates a deterministic cache key string.
// Format: scrolltable:host/path:param1=val1:param2=val2
//
// Example:
//
//	scrolltable:api.example.com/items:page=2:pagesize=10
func (k PageKey) String() string {
	parts := []string{KeyPrefix}

	if endpoint := endpointOf(k.URL); endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(k.Params[name], ",")))
		}
	}

	return strings.Join(parts, ":")
}

// endpointPattern returns the pattern matching every page of the endpoint.
func endpointPattern(rawURL string) string {
	return KeyPrefix + ":" + endpointOf(rawURL) + ":*"
}

// endpointOf strips the scheme, query and surrounding slashes from a URL.
func endpointOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.Trim(rawURL, "/")
	}

	return strings.Trim(u.Host+u.Path, "/")
}
