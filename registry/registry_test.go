package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGetRemove(t *testing.T) {
	r := New[string, int]()

	require.NoError(t, r.Insert("a", 1))
	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	removed, ok := r.Remove("a")
	require.True(t, ok)
	assert.Equal(t, 1, removed)

	_, ok = r.Get("a")
	assert.False(t, ok)
}

func TestInsertDuplicateFails(t *testing.T) {
	r := New[string, int]()
	require.NoError(t, r.Insert("a", 1))
	assert.Error(t, r.Insert("a", 2))
}

func TestRemoveMissingIsNoop(t *testing.T) {
	r := New[string, int]()
	_, ok := r.Remove("missing")
	assert.False(t, ok)
}

func TestSnapshotIsolatedFromMutation(t *testing.T) {
	r := New[string, int]()
	require.NoError(t, r.Insert("a", 1))
	require.NoError(t, r.Insert("b", 2))

	snap := r.Snapshot()
	assert.Len(t, snap, 2)

	require.NoError(t, r.Insert("c", 3))
	_, _ = r.Remove("a")

	assert.Len(t, snap, 2)
	assert.Equal(t, 2, r.Len())
}

func TestConcurrentInsertRemove(t *testing.T) {
	r := New[int, int]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Insert(i, i*i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, r.Len())

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Remove(i)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentSnapshotDuringMutation(t *testing.T) {
	r := New[int, int]()
	for i := 0; i < 50; i++ {
		require.NoError(t, r.Insert(i, i))
	}

	var wg sync.WaitGroup
	for i := 50; i < 150; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Insert(i, i)
		}(i)
	}
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 150, r.Len())
}
