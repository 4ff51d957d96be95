package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when the response carries no freshness headers.
	DefaultTTL = 5 * time.Minute
)

// NewEntry builds an entry from a response. fallback is used when neither
// Cache-Control max-age nor Expires is present; a zero fallback means
// DefaultTTL.
func NewEntry(statusCode int, header http.Header, body []byte, fallback time.Duration) *Entry {
	if fallback <= 0 {
		fallback = DefaultTTL
	}

	now := time.Now()

	return &Entry{
		Data:        body,
		ContentType: header.Get("Content-Type"),
		StatusCode:  statusCode,
		Expires:     parseExpires(header, now, fallback),
		CachedAt:    now,
	}
}

// parseExpires derives the expiration time from the response headers.
// Cache-Control wins over Expires. no-store and no-cache expire immediately.
func parseExpires(headers http.Header, now time.Time, fallback time.Duration) time.Time {
	if cc := headers.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			directive = strings.ToLower(strings.TrimSpace(directive))

			switch {
			case directive == "no-store", directive == "no-cache":
				return now
			case strings.HasPrefix(directive, "max-age="):
				if secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age=")); err == nil {
					return now.Add(time.Duration(secs) * time.Second)
				}
			}
		}
	}

	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(fallback)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(fallback)
	}

	if expires.Before(now) {
		return now
	}

	return expires
}
