package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextIDUnique(t *testing.T) {
	const n = 10000
	seen := make(map[int64]struct{}, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, n/4)
			for j := 0; j < n/4; j++ {
				local = append(local, NextID())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if _, ok := seen[id]; ok {
					t.Errorf("重复ID: %d", id)
					return
				}
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, n)
}

func TestGenerateTransactionNo(t *testing.T) {
	no := GenerateTransactionNo()
	require.True(t, strings.HasPrefix(no, "PTX"))
	require.Len(t, no, 25) // PTX + 14位时间 + 8位序列

	other := GenerateTransactionNo()
	require.NotEqual(t, no, other)
}
