package scrolltable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"text/template"

	"github.com/spf13/cast"
)

// Request parameter names sent with every page fetch.
const (
	ParamPage     = "page"
	ParamPageSize = "pagesize"
)

// Params are the request parameters of a single page fetch.
type Params map[string]any

// Response is a formatted page response. Format must produce one holding
// the total count under CountKey and the page's records under ResultKey.
type Response map[string]any

// Count returns the total record count stored under key, rounded up to a
// whole record so that TotalPages(Count, size) is ceil(count / size).
// Missing or unparsable values count as 0.
func (r Response) Count(key string) int {
	count, err := cast.ToFloat64E(r[key])
	if err != nil || math.IsNaN(count) {
		return 0
	}

	return int(math.Ceil(count))
}

// HasCount reports whether the raw count under key is truthy: present, not
// false, not a zero or NaN number and not an empty string. The string "0"
// is truthy.
func (r Response) HasCount(key string) bool {
	switch v := r[key].(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case json.Number:
		f, err := v.Float64()
		return err != nil || (f != 0 && !math.IsNaN(f))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f := cast.ToFloat64(v)
		return f != 0 && !math.IsNaN(f)
	default:
		return true
	}
}

// Records returns the records stored under key.
func (r Response) Records(key string) []Record {
	return toRecords(r[key])
}

// Config holds the engine configuration. Zero values are replaced by the
// defaults from DefaultConfig.
type Config struct {
	// Transport settings, consumed by the HTTP requester.
	URL         string
	Method      string // default "GET"
	DataType    string // "json" (default), "jsonp" or "text"
	ContentType string

	// ListSelector addresses the list the items are rendered into.
	ListSelector string
	// ItemSelector is prefixed to a record id to address its rendered item.
	ItemSelector string

	// Placeholder markup.
	LoadingTemplate   string
	NoDataTemplate    string
	CompletedTemplate string

	// Template renders one record. Defaults to an empty fragment.
	Template func(Record) string

	// Success runs before the internal success handling with the raw
	// response. Returning false suppresses the internal handling.
	Success func(raw any) bool
	// Error runs before the internal error handling. Returning false
	// suppresses it, which leaves the engine loading until Refresh.
	Error func(err error) bool

	// DefaultPage is the initial current page.
	DefaultPage int
	// PageSize is the number of records requested per page (default 10).
	PageSize int

	CountKey  string // default "count"
	ResultKey string // default "result"
	IDField   string // default "id"

	// Format adapts a raw response to the Response shape. Identity by default.
	Format func(raw any) Response
	// FormatRequest adapts the request parameters. Identity by default.
	FormatRequest func(Params) Params
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Method:        "GET",
		DataType:      "json",
		ListSelector:  "ul",
		ItemSelector:  ".J_scrollTable",
		Template:      func(Record) string { return "" },
		DefaultPage:   0,
		PageSize:      10,
		CountKey:      "count",
		ResultKey:     "result",
		IDField:       DefaultIDField,
		Format:        IdentityFormat,
		FormatRequest: func(p Params) Params { return p },
	}
}

// WithDefaults returns c with every zero field filled from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()

	if c.Method == "" {
		c.Method = d.Method
	}
	if c.DataType == "" {
		c.DataType = d.DataType
	}
	if c.ListSelector == "" {
		c.ListSelector = d.ListSelector
	}
	if c.ItemSelector == "" {
		c.ItemSelector = d.ItemSelector
	}
	if c.Template == nil {
		c.Template = d.Template
	}
	if c.PageSize == 0 {
		c.PageSize = d.PageSize
	}
	if c.CountKey == "" {
		c.CountKey = d.CountKey
	}
	if c.ResultKey == "" {
		c.ResultKey = d.ResultKey
	}
	if c.IDField == "" {
		c.IDField = d.IDField
	}
	if c.Format == nil {
		c.Format = d.Format
	}
	if c.FormatRequest == nil {
		c.FormatRequest = d.FormatRequest
	}

	return c
}

// IdentityFormat returns raw unchanged when it already is an object and an
// empty Response otherwise.
func IdentityFormat(raw any) Response {
	switch rt := raw.(type) {
	case Response:
		return rt
	case map[string]any:
		return Response(rt)
	default:
		return Response{}
	}
}

// TextTemplate compiles a text/template source into a record template. The
// record is available as the template's dot.
func TextTemplate(src string) (func(Record) string, error) {
	tmpl, err := template.New("record").Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse record template: %w", err)
	}

	return func(r Record) string {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, map[string]any(r)); err != nil {
			return ""
		}

		return buf.String()
	}, nil
}
