package voucher

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memorySequences struct {
	mu       sync.Mutex
	counters map[string]int64
	failWith error
}

func newMemorySequences() *memorySequences {
	return &memorySequences{counters: make(map[string]int64)}
}

func (m *memorySequences) NextValue(ctx context.Context, companyID int64, kind string, period int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	key := fmt.Sprintf("%d/%s/%d", companyID, kind, period)
	m.counters[key]++
	return m.counters[key], nil
}

func TestAllocateFormatsByKind(t *testing.T) {
	svc := NewService(newMemorySequences())

	cases := []struct {
		kind string
		want string
	}{
		{KindOutbound, "PV/2026/00001"},
		{KindInbound, "RV/2026/00001"},
		{KindTransfer, "TV/2026/00001"},
	}
	for _, tc := range cases {
		got, err := svc.Allocate(context.Background(), 1, tc.kind, 2026)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestAllocateStrictlyIncreasesPerTuple(t *testing.T) {
	svc := NewService(newMemorySequences())

	for i := 1; i <= 3; i++ {
		got, err := svc.Allocate(context.Background(), 7, KindOutbound, 2026)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("PV/2026/%05d", i), got)
	}

	// Different tuples count independently.
	got, err := svc.Allocate(context.Background(), 7, KindOutbound, 2025)
	require.NoError(t, err)
	require.Equal(t, "PV/2025/00001", got)

	got, err = svc.Allocate(context.Background(), 8, KindOutbound, 2026)
	require.NoError(t, err)
	require.Equal(t, "PV/2026/00001", got)
}

func TestAllocateRejectsUnknownKind(t *testing.T) {
	svc := NewService(newMemorySequences())

	_, err := svc.Allocate(context.Background(), 1, "refund", 2026)
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestAllocateWrapsStorageFailure(t *testing.T) {
	seq := newMemorySequences()
	seq.failWith = fmt.Errorf("connection refused")
	svc := NewService(seq)

	_, err := svc.Allocate(context.Background(), 1, KindInbound, 2026)
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestAllocateConcurrentAllDistinct(t *testing.T) {
	svc := NewService(newMemorySequences())

	const n = 50
	results := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := svc.Allocate(context.Background(), 1, KindOutbound, 2026)
			require.NoError(t, err)
			results <- number
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, n)
	for number := range results {
		require.False(t, seen[number], "duplicate voucher number %s", number)
		seen[number] = true
	}
	require.Len(t, seen, n)
}
