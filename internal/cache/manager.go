package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/metrics"
)

// Manager looks clips up in memory, then on disk, promoting disk hits.
type Manager struct {
	memory *MemoryCache
	disk   *DiskCache // nil when the disk tier is disabled
	config Config
	logger *log.Logger

	writes sync.WaitGroup
	stop   chan struct{}
	done   chan struct{}
}

// NewManager creates the tiers described by config.
func NewManager(config Config, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		memory: NewMemoryCache(config.MemoryCapacity),
		config: config,
		logger: logger.WithPrefix("cache"),
	}

	if config.DiskCapacity > 0 {
		disk, err := NewDiskCache(config.DiskPath, config.DiskCapacity, config.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create disk cache: %w", err)
		}
		m.disk = disk
	}

	if m.disk != nil && config.CleanupInterval > 0 {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.cleanupLoop()
	}
	return m, nil
}

// Get returns a clip from the fastest tier that has it.
func (m *Manager) Get(key Key) ([]byte, bool) {
	k := key.String()

	if data, ok := m.memory.Get(k); ok {
		metrics.CacheLookup(LevelMemory.String(), true)
		return data, true
	}
	metrics.CacheLookup(LevelMemory.String(), false)

	if m.disk == nil {
		return nil, false
	}
	data, ok := m.disk.Get(k)
	metrics.CacheLookup(LevelDisk.String(), ok)
	if !ok {
		return nil, false
	}
	_ = m.memory.Put(k, data)
	return data, true
}

// Contains reports whether any tier has the clip.
func (m *Manager) Contains(key Key) bool {
	k := key.String()
	return m.memory.Contains(k) || (m.disk != nil && m.disk.Contains(k))
}

// Put stores a clip in memory and writes it to disk in the background.
func (m *Manager) Put(key Key, pcm []byte) {
	k := key.String()
	if err := m.memory.Put(k, pcm); err != nil {
		m.logger.Debug("Clip not cached in memory", "size", len(pcm), "err", err)
	}
	if m.disk == nil {
		return
	}

	m.writes.Add(1)
	go func() {
		defer m.writes.Done()
		if err := m.disk.Put(k, pcm); err != nil {
			m.logger.Warn("Could not write clip to disk cache", "err", err)
		}
	}()
}

// Flush waits for background disk writes.
func (m *Manager) Flush() {
	m.writes.Wait()
}

// Stats returns per-tier statistics. Disk stats are zero when disabled.
func (m *Manager) Stats() (memory, disk Stats) {
	memory = m.memory.Stats()
	if m.disk != nil {
		disk = m.disk.Stats()
	}
	return memory, disk
}

// Clear empties every tier.
func (m *Manager) Clear() error {
	m.Flush()
	m.memory.Clear()
	if m.disk != nil {
		return m.disk.Clear()
	}
	return nil
}

// Cleanup removes expired clips.
func (m *Manager) Cleanup() int {
	if m.config.TTL <= 0 {
		return 0
	}
	removed := m.memory.Prune(m.config.TTL)
	if m.disk != nil {
		removed += m.disk.RemoveOlderThan(time.Now().Add(-m.config.TTL))
	}
	if removed > 0 {
		m.logger.Debug("Removed expired clips", "count", removed)
	}
	return removed
}

func (m *Manager) cleanupLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.config.CleanupInterval)
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

// Close stops cleanup, waits for pending writes and persists the disk index.
func (m *Manager) Close() error {
	if m.stop != nil {
		close(m.stop)
		<-m.done
		m.stop = nil
	}
	m.Flush()
	if m.disk == nil {
		return nil
	}
	if err := m.disk.Close(); err != nil {
		return fmt.Errorf("failed to close disk cache: %w", err)
	}
	return nil
}
