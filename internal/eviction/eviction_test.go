package eviction

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/framebucket/framebucket/internal/store"
)

type fakeStore struct {
	objects map[string][]byte
	index   map[int64]store.Entry
	failPut bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, index: map[int64]store.Entry{}}
}

func (f *fakeStore) Put(_ context.Context, key string, data []byte, _ string, capturedAtMs int64) error {
	if f.failPut {
		return errFakePut
	}
	cp := append([]byte(nil), data...)
	f.objects[key] = cp
	f.index[capturedAtMs] = store.Entry{Key: key, Bytes: int64(len(data))}
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	d, ok := f.objects[key]
	if !ok {
		return nil, errNotFound
	}
	return d, nil
}

func (f *fakeStore) Delete(_ context.Context, key string, capturedAtMs int64) error {
	delete(f.objects, key)
	delete(f.index, capturedAtMs)
	return nil
}

func (f *fakeStore) OldestN(n int) []struct {
	CapturedAtMs int64
	Entry        store.Entry
} {
	keys := make([]int64, 0, len(f.index))
	for k := range f.index {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]struct {
		CapturedAtMs int64
		Entry        store.Entry
	}, 0, len(keys))
	for _, k := range keys {
		out = append(out, struct {
			CapturedAtMs int64
			Entry        store.Entry
		}{CapturedAtMs: k, Entry: f.index[k]})
	}
	return out
}

func (f *fakeStore) TotalBytes() int64 {
	var total int64
	for _, e := range f.index {
		total += e.Bytes
	}
	return total
}

func (f *fakeStore) Count() int {
	return len(f.index)
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errFakePut = fakeErr("simulated put failure")
const errNotFound = fakeErr("simulated not found")

func TestEvictionDrainsAboveThreshold(t *testing.T) {
	local := newFakeStore()
	archive := newFakeStore()
	require.NoError(t, local.Put(context.Background(), "r1/camera/2026-07-29/a.jpg", make([]byte, 2000), "image/jpeg", 1000))
	require.NoError(t, local.Put(context.Background(), "r1/camera/2026-07-29/b.jpg", make([]byte, 2000), "image/jpeg", 2000))

	cfg := NewConfigFromGB(30, 0.000003, 0.000001, 10, 0.00001, 3, 60, "archive/")
	logger := log.New(os.Stderr, "", 0)
	loop := New(cfg, local, archive, logger, filepath.Join(t.TempDir(), "health.json"), func() int64 { return 42 })

	loop.tick(context.Background())

	require.LessOrEqual(t, local.TotalBytes(), cfg.TargetBytes)
	require.NotEmpty(t, archive.objects)
}

func TestEvictionEntersFallbackAfterRepeatedFailures(t *testing.T) {
	local := newFakeStore()
	archive := newFakeStore()
	archive.failPut = true
	require.NoError(t, local.Put(context.Background(), "r1/camera/2026-07-29/a.jpg", make([]byte, 4000), "image/jpeg", 1000))

	cfg := NewConfigFromGB(30, 0.000003, 0.000001, 10, 0.00001, 1, 60, "archive/")
	logger := log.New(os.Stderr, "", 0)
	loop := New(cfg, local, archive, logger, filepath.Join(t.TempDir(), "health.json"), func() int64 { return 1 })

	loop.tick(context.Background())

	require.True(t, loop.fallback)
	require.Equal(t, 4000, int(local.TotalBytes()))
}

func TestFallbackDeletesWithoutArchiving(t *testing.T) {
	local := newFakeStore()
	archive := newFakeStore()
	require.NoError(t, local.Put(context.Background(), "r1/camera/2026-07-29/a.jpg", make([]byte, 4000), "image/jpeg", 1000))

	cfg := NewConfigFromGB(30, 0.000003, 0.000001, 10, 0.00001, 1, 60, "archive/")
	logger := log.New(os.Stderr, "", 0)
	loop := New(cfg, local, archive, logger, filepath.Join(t.TempDir(), "health.json"), func() int64 { return 1 })
	loop.fallback = true

	count, err := loop.evictBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, int64(1), loop.objectsDeletedWithoutBackup)
	require.Empty(t, archive.objects)
}
