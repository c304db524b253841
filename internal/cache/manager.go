package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Manager coordinates the memory and disk tiers: reads fall through L1 to
// L2 and promote hits, writes go to L1 immediately and to L2 in the
// background.
type Manager struct {
	memory *Memory
	disk   *Disk // nil when Config.Dir is empty
	config Config

	writes    sync.WaitGroup
	stop      chan struct{}
	cleanupWg sync.WaitGroup
	closeOnce sync.Once

	mu    sync.Mutex
	stats struct {
		hits        int64
		misses      int64
		promotions  int64
		cleanupRuns int64
		lastCleanup time.Time
	}
}

// ManagerStats aggregates both tiers.
type ManagerStats struct {
	Memory      Stats
	Disk        Stats
	Hits        int64
	Misses      int64
	Promotions  int64
	CleanupRuns int64
	LastCleanup time.Time
}

// HitRate returns the overall hit rate.
func (s ManagerStats) HitRate() float64 {
	return Stats{Hits: s.Hits, Misses: s.Misses}.HitRate()
}

// Size returns the bytes held across both tiers.
func (s ManagerStats) Size() int64 {
	return s.Memory.Size + s.Disk.Size
}

// NewManager creates a cache. An empty cfg.Dir gives a memory-only cache.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.MemoryCapacity <= 0 {
		return nil, errors.New("memory capacity must be positive")
	}

	m := &Manager{
		memory: NewMemory(cfg.MemoryCapacity),
		config: cfg,
		stop:   make(chan struct{}),
	}

	if cfg.Dir != "" {
		if cfg.DiskCapacity <= 0 {
			return nil, errors.New("disk capacity must be positive")
		}
		disk, err := NewDisk(cfg.Dir, cfg.DiskCapacity, cfg.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create disk cache: %w", err)
		}
		m.disk = disk
	}

	if cfg.CleanupInterval > 0 {
		m.cleanupWg.Add(1)
		go m.cleanupLoop(cfg.CleanupInterval)
	}
	return m, nil
}

// Get looks key up in L1 then L2.
func (m *Manager) Get(key string) (Entry, bool) {
	if raw, ok := m.memory.Get(key); ok {
		if e, err := decodeEntry(raw); err == nil {
			m.count(func() { m.stats.hits++ })
			return e, true
		}
		m.memory.Delete(key)
	}

	if m.disk != nil {
		if raw, ok := m.disk.Get(key); ok {
			e, err := decodeEntry(raw)
			if err == nil {
				_ = m.memory.Put(key, raw)
				m.count(func() { m.stats.hits++; m.stats.promotions++ })
				return e, true
			}
			log.Debug("Dropping corrupt cache entry", "key", key, "error", err)
			m.disk.Delete(key)
		}
	}

	m.count(func() { m.stats.misses++ })
	return Entry{}, false
}

// Put stores e. Values too large for L1 still go to L2.
func (m *Manager) Put(key string, e Entry) error {
	raw := encodeEntry(e)

	if err := m.memory.Put(key, raw); err != nil && !errors.Is(err, ErrItemTooLarge) {
		return fmt.Errorf("memory cache: %w", err)
	}

	if m.disk != nil {
		m.writes.Add(1)
		go func() {
			defer m.writes.Done()
			if err := m.disk.Put(key, raw); err != nil && !errors.Is(err, ErrItemTooLarge) {
				log.Warn("Failed to write audio to disk cache", "key", key, "error", err)
			}
		}()
	}
	return nil
}

// Delete removes key from both tiers.
func (m *Manager) Delete(key string) {
	m.Flush()
	m.memory.Delete(key)
	if m.disk != nil {
		m.disk.Delete(key)
	}
}

// Purge empties both tiers.
func (m *Manager) Purge() error {
	m.Flush()
	m.memory.Clear()
	if m.disk != nil {
		if err := m.disk.Clear(); err != nil {
			return fmt.Errorf("failed to clear disk cache: %w", err)
		}
	}
	log.Info("Audio cache purged")
	return nil
}

// Flush waits for pending disk writes.
func (m *Manager) Flush() {
	m.writes.Wait()
}

// Stats returns a snapshot of both tiers and the manager counters.
func (m *Manager) Stats() ManagerStats {
	s := ManagerStats{Memory: m.memory.Stats()}
	if m.disk != nil {
		s.Disk = m.disk.Stats()
	}
	m.mu.Lock()
	s.Hits = m.stats.hits
	s.Misses = m.stats.misses
	s.Promotions = m.stats.promotions
	s.CleanupRuns = m.stats.cleanupRuns
	s.LastCleanup = m.stats.lastCleanup
	m.mu.Unlock()
	return s
}

// Cleanup expires old entries and trims the disk tier to its capacity.
func (m *Manager) Cleanup() {
	m.count(func() {
		m.stats.cleanupRuns++
		m.stats.lastCleanup = time.Now()
	})

	if m.config.TTL > 0 {
		pruned := m.memory.Prune(m.config.TTL)
		var removed int
		if m.disk != nil {
			removed = m.disk.RemoveOlderThan(time.Now().Add(-m.config.TTL))
		}
		if pruned+removed > 0 {
			log.Debug("Expired cached audio", "memory", pruned, "disk", removed)
		}
	}
	if m.disk != nil {
		if n := m.disk.Trim(); n > 0 {
			log.Debug("Trimmed disk cache", "evicted", n)
		}
	}
}

// Close stops the cleanup goroutine, waits for pending writes and saves the
// disk index. It is safe to call more than once.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stop)
		m.cleanupWg.Wait()
		m.Flush()
		if m.disk != nil {
			if cerr := m.disk.Close(); cerr != nil {
				err = fmt.Errorf("failed to close disk cache: %w", cerr)
			}
		}
	})
	return err
}

func (m *Manager) cleanupLoop(interval time.Duration) {
	defer m.cleanupWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) count(fn func()) {
	m.mu.Lock()
	fn()
	m.mu.Unlock()
}
