package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemory_BasicOperations(t *testing.T) {
	cache := NewMemory(1024)

	if err := cache.Put("key1", []byte("value1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, ok := cache.Get("key1")
	if !ok {
		t.Fatal("Get failed: key not found")
	}
	if string(value) != "value1" {
		t.Errorf("Get returned wrong value: got %s, want value1", value)
	}

	if _, ok := cache.Get("missing"); ok {
		t.Error("Get should return false for non-existent key")
	}

	cache.Delete("key1")
	if cache.Contains("key1") {
		t.Error("key still present after Delete")
	}
	if cache.Stats().Size != 0 {
		t.Errorf("expected size 0 after delete, got %d", cache.Stats().Size)
	}
}

func TestMemory_LRUEviction(t *testing.T) {
	cache := NewMemory(30)

	_ = cache.Put("a", make([]byte, 10))
	_ = cache.Put("b", make([]byte, 10))
	_ = cache.Put("c", make([]byte, 10))

	// Touch a so b becomes the oldest.
	cache.Get("a")

	_ = cache.Put("d", make([]byte, 10))

	if cache.Contains("b") {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !cache.Contains(k) {
			t.Errorf("%s should still be cached", k)
		}
	}
	if cache.Stats().Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", cache.Stats().Evictions)
	}
}

func TestMemory_ItemTooLarge(t *testing.T) {
	cache := NewMemory(10)
	if err := cache.Put("big", make([]byte, 11)); err != ErrItemTooLarge {
		t.Errorf("expected ErrItemTooLarge, got %v", err)
	}
}

func TestMemory_UpdateExisting(t *testing.T) {
	cache := NewMemory(100)

	_ = cache.Put("k", make([]byte, 40))
	_ = cache.Put("k", make([]byte, 10))

	s := cache.Stats()
	if s.Size != 10 || s.Items != 1 {
		t.Errorf("unexpected stats after update: %+v", s)
	}
}

func TestMemory_Stats(t *testing.T) {
	cache := NewMemory(100)
	_ = cache.Put("k", []byte("v"))

	cache.Get("k")
	cache.Get("k")
	cache.Get("missing")

	s := cache.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Errorf("unexpected counters %+v", s)
	}
	if rate := s.HitRate(); rate < 0.66 || rate > 0.67 {
		t.Errorf("unexpected hit rate %f", rate)
	}
	if (Stats{}).HitRate() != 0 {
		t.Error("empty stats should have zero hit rate")
	}
}

func TestMemory_Prune(t *testing.T) {
	cache := NewMemory(100)
	_ = cache.Put("old", []byte("x"))
	time.Sleep(20 * time.Millisecond)
	_ = cache.Put("new", []byte("y"))

	if n := cache.Prune(10 * time.Millisecond); n != 1 {
		t.Errorf("expected 1 pruned entry, got %d", n)
	}
	if cache.Contains("old") || !cache.Contains("new") {
		t.Error("prune removed the wrong entry")
	}
}

func TestMemory_Clear(t *testing.T) {
	cache := NewMemory(100)
	_ = cache.Put("a", []byte("1"))
	_ = cache.Put("b", []byte("2"))
	cache.Clear()

	if s := cache.Stats(); s.Items != 0 || s.Size != 0 {
		t.Errorf("cache not empty after Clear: %+v", s)
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	cache := NewMemory(10000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", id, j)
				_ = cache.Put(key, []byte(key))
				cache.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if s := cache.Stats(); s.Size > 10000 {
		t.Errorf("size %d exceeds capacity", s.Size)
	}
}

func BenchmarkMemory_Put(b *testing.B) {
	cache := NewMemory(1024 * 1024)
	value := make([]byte, 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cache.Put(fmt.Sprintf("key-%d", i%1000), value)
	}
}
