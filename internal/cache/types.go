package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity.
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheCorrupted is returned when a stored entry cannot be decoded.
	ErrCacheCorrupted = errors.New("cache data corrupted")
)

// Level identifies a cache tier.
type Level int

const (
	LevelMemory Level = iota
	LevelDisk
)

func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Stats holds counters for one cache tier.
type Stats struct {
	Capacity  int64
	Size      int64
	Items     int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// Config configures a Manager.
type Config struct {
	MemoryCapacity   int64  // bytes
	DiskCapacity     int64  // bytes
	Dir              string // L2 directory
	CompressionLevel int    // zstd level; 0 disables compression

	// TTL expires entries by age; zero keeps them until evicted.
	TTL time.Duration
	// CleanupInterval schedules expiry and size enforcement; zero disables
	// the background cleanup goroutine.
	CleanupInterval time.Duration
}

// DefaultConfig returns the configuration used when the user sets nothing.
func DefaultConfig(dir string) Config {
	return Config{
		MemoryCapacity:   32 * 1024 * 1024,
		DiskCapacity:     512 * 1024 * 1024,
		Dir:              dir,
		CompressionLevel: 3,
		TTL:              7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// Entry is one cached synthesis result.
type Entry struct {
	Data        []byte
	ContentType string
}

// Key derives the cache key for a synthesis request.
func Key(engine, text string, rate, volume, pitch int) string {
	data := fmt.Sprintf("%s\x00%s\x00%d\x00%d\x00%d", engine, text, rate, volume, pitch)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}

// encodeEntry packs e as a length-prefixed content type followed by data.
func encodeEntry(e Entry) []byte {
	out := make([]byte, 2+len(e.ContentType)+len(e.Data))
	binary.BigEndian.PutUint16(out, uint16(len(e.ContentType)))
	copy(out[2:], e.ContentType)
	copy(out[2+len(e.ContentType):], e.Data)
	return out
}

func decodeEntry(b []byte) (Entry, error) {
	if len(b) < 2 {
		return Entry{}, ErrCacheCorrupted
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+n {
		return Entry{}, ErrCacheCorrupted
	}
	return Entry{
		ContentType: string(b[2 : 2+n]),
		Data:        b[2+n:],
	}, nil
}
