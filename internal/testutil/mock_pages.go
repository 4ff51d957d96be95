// Package testutil provides testing utilities for the scroll table packages.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse overrides the page handler for upcoming requests.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockPages is a paged JSON endpoint over a dataset of Total records
// {"id": n, "name": "item n"}, n starting at 1. Pages are 1-based.
type MockPages struct {
	server *httptest.Server
	mu     sync.RWMutex

	total     int
	headers   map[string]string
	overrides []MockResponse

	// Tracking
	requestCount int
	lastMethod   string
	lastParams   url.Values
	lastHeader   http.Header
}

// NewMockPages creates a mock endpoint serving total records.
func NewMockPages(total int) *MockPages {
	mock := &MockPages{
		total:   total,
		headers: map[string]string{},
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the endpoint URL.
func (m *MockPages) URL() string {
	return m.server.URL + "/items"
}

// Close shuts down the mock server.
func (m *MockPages) Close() {
	m.server.Close()
}

// SetTotal changes the dataset size.
func (m *MockPages) SetTotal(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = total
}

// SetHeader adds a header to every page response.
func (m *MockPages) SetHeader(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headers[name] = value
}

// Enqueue makes the next requests answer with resp, one per call, before
// falling back to the page handler.
func (m *MockPages) Enqueue(resp ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides = append(m.overrides, resp...)
}

// RequestCount returns the number of requests received.
func (m *MockPages) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastRequest returns the method, parameters and headers of the last request.
func (m *MockPages) LastRequest() (string, url.Values, http.Header) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastMethod, m.lastParams, m.lastHeader
}

func (m *MockPages) serve(w http.ResponseWriter, r *http.Request) {
	params := requestParams(r)

	m.mu.Lock()
	m.requestCount++
	m.lastMethod = r.Method
	m.lastParams = params
	m.lastHeader = r.Header.Clone()

	var override *MockResponse
	if len(m.overrides) > 0 {
		override = &m.overrides[0]
		m.overrides = m.overrides[1:]
	}
	total := m.total
	headers := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		headers[k] = v
	}
	m.mu.Unlock()

	for k, v := range headers {
		w.Header().Set(k, v)
	}

	if override != nil {
		if override.Delay > 0 {
			time.Sleep(override.Delay)
		}
		for k, v := range override.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(override.StatusCode)
		w.Write([]byte(override.Body))
		return
	}

	page, _ := strconv.Atoi(params.Get("page"))
	size, _ := strconv.Atoi(params.Get("pagesize"))
	if size <= 0 {
		size = 10
	}

	body, _ := json.Marshal(map[string]any{
		"count":  total,
		"result": PageRecords(total, page, size),
	})

	if cb := params.Get("callback"); cb != "" {
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprintf(w, "%s(%s);", cb, body)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// PageRecords returns the records of a 1-based page.
func PageRecords(total, page, size int) []map[string]any {
	records := []map[string]any{}
	if page < 1 {
		return records
	}
	for id := (page-1)*size + 1; id <= page*size && id <= total; id++ {
		records = append(records, map[string]any{
			"id":   id,
			"name": fmt.Sprintf("item %d", id),
		})
	}
	return records
}

// requestParams collects query, form and JSON body parameters.
func requestParams(r *http.Request) url.Values {
	params := r.URL.Query()

	if r.Method == http.MethodGet || r.Body == nil {
		return params
	}

	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		if json.Unmarshal(data, &body) == nil {
			for k, v := range body {
				params.Set(k, fmt.Sprint(v))
			}
		}
		return params
	}

	if err := r.ParseForm(); err == nil {
		for k, vs := range r.PostForm {
			params[k] = vs
		}
	}
	return params
}
