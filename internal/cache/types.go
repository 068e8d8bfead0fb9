package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	// ErrItemTooLarge is returned when an item exceeds the tier capacity.
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrNoDiskPath is returned when the disk tier has nowhere to live.
	ErrNoDiskPath = errors.New("cache directory not set")
)

// Level identifies a cache tier.
type Level int

const (
	LevelMemory Level = iota
	LevelDisk
)

// String returns the metric label for the tier.
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

// Stats holds counters for one tier.
type Stats struct {
	Capacity  int64
	Size      int64
	Items     int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns hits / lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// String renders the stats for logs and the voices command.
func (s Stats) String() string {
	return fmt.Sprintf("%d items, %s of %s, %.0f%% hits",
		s.Items,
		humanize.IBytes(uint64(max(s.Size, 0))),
		humanize.IBytes(uint64(max(s.Capacity, 0))),
		s.HitRate()*100)
}

// Config holds configuration for the cache tiers.
type Config struct {
	MemoryCapacity   int64         // bytes
	DiskCapacity     int64         // bytes, 0 disables the disk tier
	DiskPath         string        // directory for cache files
	CompressionLevel int           // zstd level, 0 stores raw PCM
	TTL              time.Duration // disk entries older than this are removed
	CleanupInterval  time.Duration // 0 disables background cleanup
}

// DefaultConfig returns the default cache configuration without a disk path.
func DefaultConfig() Config {
	return Config{
		MemoryCapacity:   64 * 1024 * 1024,
		DiskCapacity:     512 * 1024 * 1024,
		CompressionLevel: 3,
		TTL:              7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// Key identifies one synthesized clip.
type Key struct {
	Engine string
	Voice  string
	Text   string
	Rate   float64
	Pitch  float64
	Volume float64
}

// String hashes the key so it can name a file.
func (k Key) String() string {
	data := fmt.Sprintf("%s|%s|%.2f|%.2f|%.2f|%s", k.Engine, k.Voice, k.Rate, k.Pitch, k.Volume, k.Text)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}
