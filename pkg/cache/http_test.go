package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestParseExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	fallback := time.Minute

	tests := []struct {
		name    string
		headers http.Header
		want    time.Time
	}{
		{
			name:    "no headers uses fallback",
			headers: http.Header{},
			want:    now.Add(fallback),
		},
		{
			name:    "max-age",
			headers: http.Header{"Cache-Control": {"public, max-age=30"}},
			want:    now.Add(30 * time.Second),
		},
		{
			name:    "no-store expires immediately",
			headers: http.Header{"Cache-Control": {"no-store"}},
			want:    now,
		},
		{
			name: "cache-control wins over expires",
			headers: http.Header{
				"Cache-Control": {"max-age=10"},
				"Expires":       {now.Add(time.Hour).Format(http.TimeFormat)},
			},
			want: now.Add(10 * time.Second),
		},
		{
			name:    "expires header",
			headers: http.Header{"Expires": {now.Add(time.Hour).Format(http.TimeFormat)}},
			want:    now.Add(time.Hour),
		},
		{
			name:    "expires in the past",
			headers: http.Header{"Expires": {now.Add(-time.Hour).Format(http.TimeFormat)}},
			want:    now,
		},
		{
			name:    "invalid expires uses fallback",
			headers: http.Header{"Expires": {"not a date"}},
			want:    now.Add(fallback),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseExpires(tt.headers, now, fallback)
			if !got.Equal(tt.want) {
				t.Errorf("parseExpires() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEntry(t *testing.T) {
	header := http.Header{"Content-Type": {"application/json"}}
	body := []byte(`{"count":1,"result":[]}`)

	entry := NewEntry(http.StatusOK, header, body, 0)

	if entry.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", entry.StatusCode)
	}
	if entry.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want application/json", entry.ContentType)
	}
	if string(entry.Data) != string(body) {
		t.Errorf("Data = %q, want %q", entry.Data, body)
	}
	if ttl := entry.TTL(); ttl <= DefaultTTL-time.Minute || ttl > DefaultTTL {
		t.Errorf("TTL() = %v, want about %v", ttl, DefaultTTL)
	}
}
