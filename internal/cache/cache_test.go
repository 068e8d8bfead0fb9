package cache

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger {
	l := log.New(io.Discard)
	l.SetLevel(log.FatalLevel)
	return l
}

func TestMemoryCache_LRU(t *testing.T) {
	c := NewMemoryCache(10)
	require.NoError(t, c.Put("a", []byte("aaaa")))
	require.NoError(t, c.Put("b", []byte("bbbb")))

	// Touch a so b is the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)
	require.NoError(t, c.Put("c", []byte("cccc")))

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))

	s := c.Stats()
	assert.Equal(t, int64(8), s.Size)
	assert.Equal(t, int64(2), s.Items)
	assert.Equal(t, int64(1), s.Evictions)

	assert.ErrorIs(t, c.Put("huge", make([]byte, 11)), ErrItemTooLarge)
}

func TestMemoryCache_ReplaceAndPrune(t *testing.T) {
	c := NewMemoryCache(100)
	require.NoError(t, c.Put("a", []byte("1234")))
	require.NoError(t, c.Put("a", []byte("12")))
	assert.Equal(t, int64(2), c.Stats().Size)

	assert.Equal(t, 0, c.Prune(time.Hour))
	assert.Equal(t, 1, c.Prune(0))
	assert.Equal(t, int64(0), c.Stats().Size)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestDiskCache_RoundTripAndReopen(t *testing.T) {
	dir := t.TempDir()
	dc, err := NewDiskCache(dir, 1<<20, 3)
	require.NoError(t, err)

	silence := make([]byte, 8192)
	noisy := []byte("short clip")
	require.NoError(t, dc.Put("silence", silence))
	require.NoError(t, dc.Put("noisy", noisy))

	// Silence compresses well, so it is stored smaller than it is.
	assert.Less(t, dc.Stats().Size, int64(len(silence)+len(noisy)))

	got, ok := dc.Get("silence")
	require.True(t, ok)
	assert.True(t, bytes.Equal(silence, got))
	require.NoError(t, dc.Close())

	reopened, err := NewDiskCache(dir, 1<<20, 0)
	require.NoError(t, err)
	got, ok = reopened.Get("silence")
	require.True(t, ok)
	assert.Len(t, got, len(silence))
	got, ok = reopened.Get("noisy")
	require.True(t, ok)
	assert.Equal(t, noisy, got)
	assert.Equal(t, int64(2), reopened.Stats().Items)
}

func TestDiskCache_EvictsLeastRecentlyRead(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir(), 10, 0)
	require.NoError(t, err)

	require.NoError(t, dc.Put("a", []byte("aaaa")))
	time.Sleep(time.Millisecond)
	require.NoError(t, dc.Put("b", []byte("bbbb")))
	time.Sleep(time.Millisecond)
	_, ok := dc.Get("a")
	require.True(t, ok)

	require.NoError(t, dc.Put("c", []byte("cccc")))
	assert.True(t, dc.Contains("a"))
	assert.False(t, dc.Contains("b"))
	assert.ErrorIs(t, dc.Put("big", make([]byte, 11)), ErrItemTooLarge)
}

func TestDiskCache_MissingFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	dc, err := NewDiskCache(dir, 1<<20, 0)
	require.NoError(t, err)
	require.NoError(t, dc.Put("gone", []byte("data")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gone") {
			require.NoError(t, os.Remove(filepath.Join(dir, e.Name())))
		}
	}

	_, ok := dc.Get("gone")
	assert.False(t, ok)
	assert.False(t, dc.Contains("gone"))
	assert.Equal(t, int64(0), dc.Stats().Size)
}

func TestDiskCache_RequiresPath(t *testing.T) {
	_, err := NewDiskCache("", 10, 0)
	assert.ErrorIs(t, err, ErrNoDiskPath)
}

func TestManager_PromotesDiskHits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DiskPath = t.TempDir()
	cfg.CleanupInterval = 0

	m, err := NewManager(cfg, quietLogger())
	require.NoError(t, err)
	key := Key{Engine: "piper", Voice: "amy", Text: "Hello", Rate: 1, Pitch: 1, Volume: 1}
	m.Put(key, []byte("pcm"))
	m.Flush()
	require.NoError(t, m.Close())

	m, err = NewManager(cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.True(t, m.Contains(key))
	got, ok := m.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("pcm"), got)

	mem, disk := m.Stats()
	assert.Equal(t, int64(1), mem.Items)
	assert.Equal(t, int64(1), disk.Hits)

	_, ok = m.Get(key)
	require.True(t, ok)
	mem, _ = m.Stats()
	assert.Equal(t, int64(1), mem.Hits)
}

func TestManager_MemoryOnly(t *testing.T) {
	m, err := NewManager(Config{MemoryCapacity: 1024}, quietLogger())
	require.NoError(t, err)

	key := Key{Text: "x"}
	_, ok := m.Get(key)
	assert.False(t, ok)
	m.Put(key, []byte("clip"))
	_, ok = m.Get(key)
	assert.True(t, ok)

	_, disk := m.Stats()
	assert.Equal(t, Stats{}, disk)
	require.NoError(t, m.Clear())
	assert.False(t, m.Contains(key))
	require.NoError(t, m.Close())
}

func TestManager_Cleanup(t *testing.T) {
	cfg := Config{MemoryCapacity: 1024, DiskCapacity: 1024, DiskPath: t.TempDir(), TTL: time.Nanosecond}
	m, err := NewManager(cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	m.Put(Key{Text: "old"}, []byte("clip"))
	m.Flush()
	time.Sleep(time.Millisecond)
	assert.Equal(t, 2, m.Cleanup())
	assert.False(t, m.Contains(Key{Text: "old"}))
}

func TestKey_String(t *testing.T) {
	a := Key{Engine: "piper", Voice: "amy", Text: "Hello", Rate: 1}
	b := a
	b.Rate = 1.5

	assert.Len(t, a.String(), 32)
	assert.Equal(t, a.String(), Key{Engine: "piper", Voice: "amy", Text: "Hello", Rate: 1.001}.String())
	assert.NotEqual(t, a.String(), b.String())
}

func TestStats_String(t *testing.T) {
	s := Stats{Capacity: 2 << 20, Size: 1 << 20, Items: 3, Hits: 3, Misses: 1}
	assert.Equal(t, "3 items, 1.0 MiB of 2.0 MiB, 75% hits", s.String())
	assert.InDelta(t, 0.0, Stats{}.HitRate(), 1e-9)
}
