package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synapse/internal/backend"
	"synapse/internal/store"
)

// fakeCacheBackend is a scriptable remote cache.
type fakeCacheBackend struct {
	handles   map[string]bool
	created   int
	ttlCalls  int
	probeErr  error
	createErr error
}

func newFakeCacheBackend() *fakeCacheBackend {
	return &fakeCacheBackend{handles: map[string]bool{}}
}

func (f *fakeCacheBackend) CacheCreate(ctx context.Context, instruction string, ttlSeconds int) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	handle := fmt.Sprintf("caches/h%d", f.created)
	f.handles[handle] = true
	return handle, nil
}

func (f *fakeCacheBackend) CacheGet(ctx context.Context, handle string) error {
	if f.probeErr != nil {
		return f.probeErr
	}
	if !f.handles[handle] {
		return backend.ErrCacheNotFound
	}
	return nil
}

func (f *fakeCacheBackend) CacheUpdateTTL(ctx context.Context, handle string, ttlSeconds int) error {
	f.ttlCalls++
	if !f.handles[handle] {
		return backend.ErrCacheNotFound
	}
	return nil
}

func testManager(t *testing.T, fake *fakeCacheBackend, instructions string) (*Manager, *store.RecordStore) {
	t.Helper()
	records, err := store.NewRecordStore(filepath.Join(t.TempDir(), "records.db"), "operator")
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	text := instructions
	src := func() (string, error) { return text, nil }
	return NewManager(records, fake, "default", "gemini-2.5-flash", src, 1800), records
}

func TestGetOrCreateFirstCall(t *testing.T) {
	fake := newFakeCacheBackend()
	m, records := testManager(t, fake, "be helpful")

	handle, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "caches/h1", handle)
	assert.Equal(t, 1, fake.created)

	rec, err := records.GetCacheRecord("default", "gemini-2.5-flash")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, handle, rec.CacheHandle)
}

func TestGetOrCreateReusesValidHandle(t *testing.T) {
	fake := newFakeCacheBackend()
	m, _ := testManager(t, fake, "be helpful")

	first, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)
	second, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.created, "a valid handle must not be recreated")
}

func TestGetOrCreateRecreatesOnInstructionChange(t *testing.T) {
	fake := newFakeCacheBackend()
	records, err := store.NewRecordStore(filepath.Join(t.TempDir(), "records.db"), "operator")
	require.NoError(t, err)
	defer records.Close()

	text := "version one"
	src := func() (string, error) { return text, nil }
	m := NewManager(records, fake, "default", "gemini-2.5-flash", src, 1800)

	first, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)

	text = "version two"
	second, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, fake.created)
}

func TestGetOrCreateRecreatesOnRemoteExpiry(t *testing.T) {
	fake := newFakeCacheBackend()
	m, _ := testManager(t, fake, "be helpful")

	first, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)

	// The remote side evicted the cache behind our back.
	delete(fake.handles, first)

	second, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestGetOrCreatePropagatesProbeErrors(t *testing.T) {
	fake := newFakeCacheBackend()
	m, _ := testManager(t, fake, "be helpful")

	_, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)

	fake.probeErr = errors.New("transport down")
	_, err = m.GetOrCreate(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, fake.created, "a transport failure must not trigger recreation")
}

func TestUpdateTTLFailureIsNonFatal(t *testing.T) {
	fake := newFakeCacheBackend()
	m, _ := testManager(t, fake, "be helpful")

	// Refreshing an unknown handle fails remotely; the call must absorb it.
	m.UpdateTTL(context.Background(), "caches/ghost")
	assert.Equal(t, 1, fake.ttlCalls)
}

func TestInvalidateAndRecreate(t *testing.T) {
	fake := newFakeCacheBackend()
	m, records := testManager(t, fake, "be helpful")

	first, err := m.GetOrCreate(context.Background())
	require.NoError(t, err)

	second, err := m.InvalidateAndRecreate(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	rec, err := records.GetCacheRecord("default", "gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, second, rec.CacheHandle)
}

func TestUnsupportedBackend(t *testing.T) {
	records, err := store.NewRecordStore(filepath.Join(t.TempDir(), "records.db"), "operator")
	require.NoError(t, err)
	defer records.Close()

	m := NewManager(records, nil, "default", "none", func() (string, error) { return "", nil }, 1800)
	assert.False(t, m.Supported())

	_, err = m.GetOrCreate(context.Background())
	assert.ErrorIs(t, err, backend.ErrCacheUnsupported)
}
