package dedup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger-dev/finledger/internal/model"
)

var backends = []string{BackendSQLite, BackendBolt}

func openStore(t *testing.T, backend string) Store {
	t.Helper()
	s, err := Open(backend, filepath.Join(t.TempDir(), "state", "seen_transactions."+backend))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fp(n int) model.Fingerprint {
	return model.Fingerprint(fmt.Sprintf("%064x", n))
}

func TestMarkSeen(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend)

			has, err := s.Has(ctx, fp(1))
			require.NoError(t, err)
			assert.False(t, has)

			marked, err := s.MarkSeen(ctx, fp(1), "chase.csv")
			require.NoError(t, err)
			assert.True(t, marked)

			marked, err = s.MarkSeen(ctx, fp(1), "other.csv")
			require.NoError(t, err)
			assert.False(t, marked)

			rec, ok, err := s.Get(ctx, fp(1))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "chase.csv", rec.Source)
			assert.False(t, rec.FirstSeen.IsZero())

			_, ok, err = s.Get(ctx, fp(2))
			require.NoError(t, err)
			assert.False(t, ok)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestClaim(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend)
			_, err := s.MarkSeen(ctx, fp(2), "earlier.csv")
			require.NoError(t, err)

			var got []model.Fingerprint
			err = s.Claim(ctx, []model.Fingerprint{fp(1), fp(2), fp(3), fp(1)}, "new.csv", func(claimed []model.Fingerprint) error {
				got = claimed
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []model.Fingerprint{fp(1), fp(3)}, got)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestClaim_CommitFailureMarksNothing(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend)
			boom := errors.New("disk full")

			err := s.Claim(ctx, []model.Fingerprint{fp(1), fp(2)}, "x.csv", func([]model.Fingerprint) error {
				return boom
			})
			require.ErrorIs(t, err, boom)

			for _, f := range []model.Fingerprint{fp(1), fp(2)} {
				has, err := s.Has(ctx, f)
				require.NoError(t, err)
				assert.False(t, has)
			}

			// A retry claims them.
			var got []model.Fingerprint
			require.NoError(t, s.Claim(ctx, []model.Fingerprint{fp(1), fp(2)}, "x.csv", func(c []model.Fingerprint) error {
				got = c
				return nil
			}))
			assert.Len(t, got, 2)
		})
	}
}

func TestClaim_ConcurrentExactlyOnce(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s := openStore(t, backend)

			batch := make([]model.Fingerprint, 50)
			for i := range batch {
				batch[i] = fp(i)
			}

			const workers = 8
			var mu sync.Mutex
			total := 0
			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					err := s.Claim(ctx, batch, fmt.Sprintf("worker-%d", w), func(claimed []model.Fingerprint) error {
						mu.Lock()
						total += len(claimed)
						mu.Unlock()
						return nil
					})
					assert.NoError(t, err)
				}(w)
			}
			wg.Wait()

			assert.Equal(t, len(batch), total)
			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, len(batch), n)
		})
	}
}

func TestSQLite_ConcurrentHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seen.sqlite")
	a, err := OpenSQLite(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := OpenSQLite(path)
	require.NoError(t, err)
	defer b.Close()

	var mu sync.Mutex
	total := 0
	var wg sync.WaitGroup
	for _, s := range []*SQLiteStore{a, b} {
		wg.Add(1)
		go func(s *SQLiteStore) {
			defer wg.Done()
			err := s.Claim(ctx, []model.Fingerprint{fp(1), fp(2), fp(3)}, "race", func(c []model.Fingerprint) error {
				mu.Lock()
				total += len(c)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}(s)
	}
	wg.Wait()
	assert.Equal(t, 3, total)
}

func TestPersistence(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "seen")
			s, err := Open(backend, path)
			require.NoError(t, err)
			_, err = s.MarkSeen(ctx, fp(7), "a.csv")
			require.NoError(t, err)
			require.NoError(t, s.Close())

			s, err = Open(backend, path)
			require.NoError(t, err)
			defer s.Close()
			has, err := s.Has(ctx, fp(7))
			require.NoError(t, err)
			assert.True(t, has)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("redis", filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
