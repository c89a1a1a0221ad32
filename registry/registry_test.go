package registry_test

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"ecfabric/registry"
)

func TestPushFindAndOrder(t *testing.T) {
	var r registry.Registry[int]
	require.NoError(t, r.Push("a", 1))
	require.NoError(t, r.Push("b", 2))
	require.NoError(t, r.Push("c", 3))

	v, ok := r.Find("b")
	require.True(t, ok)
	require.Equal(t, 2, v)

	require.Equal(t, []int{1, 2, 3}, r.All())
	require.Equal(t, 3, r.Len())
}

func TestPushRejectsDuplicateID(t *testing.T) {
	var r registry.Registry[string]
	require.NoError(t, r.Push("x", "first"))
	err := r.Push("x", "second")
	require.Error(t, err)

	v, _ := r.Find("x")
	require.Equal(t, "first", v)
}

func TestFindMissingReturnsFalse(t *testing.T) {
	var r registry.Registry[int]
	_, ok := r.Find("nope")
	require.False(t, ok)
}

func TestConcurrentPushAllSucceedExactlyOnce(t *testing.T) {
	var r registry.Registry[int]
	var wg sync.WaitGroup
	const n = 64
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Push("id-"+strconv.Itoa(i), i)
		}(i)
	}
	wg.Wait()

	for _, err := range results {
		require.NoError(t, err)
	}
	require.Equal(t, n, r.Len())
}
