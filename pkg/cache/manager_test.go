package cache

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis on DB 15 and skips when none is
// running. Integration tests use testcontainers instead.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func pageKey(page string) PageKey {
	return PageKey{
		URL:    "https://api.example.com/items",
		Params: url.Values{"page": {page}, "pagesize": {"10"}},
	}
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client)
	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	entry := &Entry{
		Data:        []byte(`{"count":25,"result":[]}`),
		ContentType: "application/json",
		StatusCode:  200,
		Expires:     time.Now().Add(5 * time.Minute),
		CachedAt:    time.Now(),
	}

	if err := manager.Set(ctx, pageKey("1"), entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, pageKey("1"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != string(entry.Data) {
		t.Errorf("Data = %q, want %q", got.Data, entry.Data)
	}
	if got.ContentType != entry.ContentType {
		t.Errorf("ContentType = %q, want %q", got.ContentType, entry.ContentType)
	}
}

func TestManager_GetMiss(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	_, err := manager.Get(context.Background(), pageKey("9"))
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_SetExpiredSkipped(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	entry := &Entry{Data: []byte("x"), Expires: time.Now().Add(-time.Second)}
	if err := manager.Set(ctx, pageKey("1"), entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := manager.Get(ctx, pageKey("1")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_SetNil(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	if err := manager.Set(context.Background(), pageKey("1"), nil); err == nil {
		t.Error("Set(nil) should return an error")
	}
}

func TestManager_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client)
	ctx := context.Background()

	client.Set(ctx, pageKey("1").String(), "not json", time.Minute)

	if _, err := manager.Get(ctx, pageKey("1")); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Get() error = %v, want ErrInvalidEntry", err)
	}
}

func TestManager_DeleteAndPurge(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	for _, page := range []string{"1", "2", "3"} {
		entry := &Entry{Data: []byte(page), Expires: time.Now().Add(time.Minute)}
		if err := manager.Set(ctx, pageKey(page), entry); err != nil {
			t.Fatalf("Set(%s) error = %v", page, err)
		}
	}

	other := PageKey{URL: "https://api.example.com/other", Params: url.Values{"page": {"1"}}}
	if err := manager.Set(ctx, other, &Entry{Expires: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("Set(other) error = %v", err)
	}

	if err := manager.Delete(ctx, pageKey("1")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := manager.Get(ctx, pageKey("1")); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}

	removed, err := manager.Purge(ctx, "https://api.example.com/items")
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Purge() removed = %d, want 2", removed)
	}

	if _, err := manager.Get(ctx, other); err != nil {
		t.Errorf("Get(other) error = %v, other endpoints must survive Purge", err)
	}
}
