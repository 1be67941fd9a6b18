package lang

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCache(t *testing.T, dir, hash string, size int) *ManagedCache[[]string] {
	t.Helper()
	c, err := NewManagedCache[[]string](CacheOptions{
		Dir:         dir,
		Prefix:      TokensCachePrefix,
		VersionHash: hash,
		MaxEntries:  size,
		Scheduler:   ImmediateScheduler{},
		Logger:      zaptest.NewLogger(t).Sugar(),
	})
	require.NoError(t, err)
	return c
}

func TestManagedCache_DumpRestore(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, dir, "abc", 10)
	c.Set("a", []string{"x"})
	c.Set("b", []string{"y", "z"})
	c.Persist()

	assert.Equal(t, filepath.Join(dir, "utterance_tokens_abc.json"), c.Path())

	restored := newTestCache(t, dir, "abc", 10)
	restored.Init()
	assert.Equal(t, 2, restored.Len())
	v, ok := restored.Get("b")
	require.True(t, ok)
	assert.Equal(t, []string{"y", "z"}, v)
}

func TestManagedCache_RestoreKeepsRecency(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, dir, "abc", 2)
	c.Set("old", nil)
	c.Set("new", nil)
	c.Get("old")
	require.NoError(t, c.Dump())

	restored := newTestCache(t, dir, "abc", 2)
	require.NoError(t, restored.Restore())
	restored.Set("newest", nil)
	assert.True(t, restored.Has("old"))
	assert.False(t, restored.Has("new"), "least recently used entry is evicted first")
}

func TestManagedCache_ClearOldFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "utterance_tokens_old.json")
	unrelated := filepath.Join(dir, "lang_vectors_old.json")
	require.NoError(t, os.WriteFile(stale, []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(unrelated, []byte("[]"), 0o644))

	c := newTestCache(t, dir, "new", 10)
	c.Set("k", []string{"v"})
	require.NoError(t, c.Dump())
	require.NoError(t, c.ClearOldFiles())

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(unrelated)
	assert.NoError(t, err, "other caches are left alone")
	_, err = os.Stat(c.Path())
	assert.NoError(t, err)
}

func TestManagedCache_CorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, dir, "abc", 10)
	require.NoError(t, os.WriteFile(c.Path(), []byte("{not json"), 0o644))
	assert.Error(t, c.Restore())

	c.Init()
	assert.Equal(t, 0, c.Len())
}

func TestManagedCache_DumpFailureDisablesDumps(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	c := newTestCache(t, filepath.Join(blocker, "sub"), "abc", 10)
	c.Set("k", nil)
	assert.Error(t, c.Dump())
	assert.NoError(t, c.Dump(), "later dumps are skipped")
}

func TestManagedCache_MemoryOnly(t *testing.T) {
	c := newTestCache(t, "", "abc", 10)
	c.Set("k", []string{"v"})
	c.Persist()
	assert.Empty(t, c.Path())
	assert.NoError(t, c.Dump())
	assert.NoError(t, c.Restore())
}

func TestNewManagedCache_InvalidSize(t *testing.T) {
	_, err := NewManagedCache[int](CacheOptions{Prefix: "x"})
	assert.Error(t, err)
}

func TestTimerScheduler_Debounce(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	var calls int32
	for i := 0; i < 5; i++ {
		s.Debounce("k", 20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	}
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestTimerScheduler_Flush(t *testing.T) {
	s := NewTimerScheduler()
	var calls int32
	s.Debounce("a", time.Hour, func() { atomic.AddInt32(&calls, 1) })
	s.Debounce("b", time.Hour, func() { atomic.AddInt32(&calls, 1) })
	s.Flush()
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	s.Debounce("c", time.Hour, func() { atomic.AddInt32(&calls, 1) })
	s.Stop()
	s.Flush()
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
