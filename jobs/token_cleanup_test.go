package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type tokenStoreSpy struct {
	cleared int64
	err     error
	asOf    time.Time
}

func (s *tokenStoreSpy) ExpireTokens(_ context.Context, asOf time.Time) (int64, error) {
	s.asOf = asOf
	return s.cleared, s.err
}

func TestTokenCleanupClearsStaleTokens(t *testing.T) {
	store := &tokenStoreSpy{cleared: 3}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cleaner := NewTokenCleaner(store, nil, logger)
	cleaner.now = func() time.Time { return time.Date(2026, 4, 10, 3, 30, 0, 0, time.UTC) }

	err := cleaner.HandleTask(context.Background(), NewTokenCleanupTask())
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 4, 10, 3, 30, 0, 0, time.UTC), store.asOf)
}

func TestTokenCleanupPropagatesStoreError(t *testing.T) {
	store := &tokenStoreSpy{err: errors.New("connection reset")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cleaner := NewTokenCleaner(store, nil, logger)

	err := cleaner.HandleTask(context.Background(), NewTokenCleanupTask())
	require.ErrorContains(t, err, "connection reset")
}
