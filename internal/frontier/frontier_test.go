package frontier

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Frontier = (*PostgresFrontier)(nil)
	_ Frontier = (*SQLiteFrontier)(nil)
	_ Frontier = (*MemoryFrontier)(nil)
)

// backends that can run the shared behavioral suite in-process.
func testBackends(t *testing.T) map[string]Frontier {
	t.Helper()
	sq, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, sq.Migrate(context.Background()))
	t.Cleanup(func() { sq.Close() })

	return map[string]Frontier{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestFrontier_EnqueueDedupAndOrder(t *testing.T) {
	for name, f := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			added, err := f.Enqueue(ctx, "t", Candidate{URL: "https://a.example/", CanonicalURL: "https://a.example", Priority: 1})
			require.NoError(t, err)
			assert.True(t, added)

			// Same canonical URL: set semantics.
			added, err = f.Enqueue(ctx, "t", Candidate{URL: "https://www.a.example/", CanonicalURL: "https://a.example", Priority: 9})
			require.NoError(t, err)
			assert.False(t, added)

			_, err = f.Enqueue(ctx, "t", Candidate{URL: "https://b.example/", CanonicalURL: "https://b.example", Priority: 5})
			require.NoError(t, err)
			_, err = f.Enqueue(ctx, "t", Candidate{URL: "https://c.example/", CanonicalURL: "https://c.example", Priority: 5})
			require.NoError(t, err)

			n, err := f.Size(ctx, "t")
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			// Priority desc, FIFO ties.
			var got []string
			for {
				c, err := f.Pop(ctx, "t")
				require.NoError(t, err)
				if c == nil {
					break
				}
				got = append(got, c.CanonicalURL)
			}
			assert.Equal(t, []string{"https://b.example", "https://c.example", "https://a.example"}, got)
		})
	}
}

func TestFrontier_TopicsIsolated(t *testing.T) {
	for name, f := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := f.Enqueue(ctx, "t1", Candidate{CanonicalURL: "https://a.example", URL: "https://a.example/"})
			require.NoError(t, err)

			c, err := f.Pop(ctx, "t2")
			require.NoError(t, err)
			assert.Nil(t, c)

			n, err := f.Clear(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestMemoryFrontier_ConcurrentPopNoDuplicates(t *testing.T) {
	f := NewMemory()
	ctx := context.Background()

	const total = 200
	for i := 0; i < total; i++ {
		_, err := f.Enqueue(ctx, "t", Candidate{
			CanonicalURL: fmt.Sprintf("https://example.com/%d", i),
			URL:          fmt.Sprintf("https://example.com/%d", i),
			Priority:     i % 7,
		})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				c, err := f.Pop(ctx, "t")
				require.NoError(t, err)
				if c == nil {
					return
				}
				mu.Lock()
				seen[c.CanonicalURL]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for url, n := range seen {
		assert.Equal(t, 1, n, "candidate %s popped more than once", url)
	}
}

func TestPostgresFrontier_PopSQLShape(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	f := NewPostgres(mock)

	mock.ExpectQuery(`DELETE FROM frontier WHERE id = \([\s\S]*FOR UPDATE SKIP LOCKED[\s\S]*\)[\s\S]*RETURNING`).
		WithArgs("t").
		WillReturnRows(pgxmock.NewRows([]string{"url", "canonical_url", "title", "priority"}).
			AddRow("https://a.example/", "https://a.example", "A", 3))

	c, err := f.Pop(context.Background(), "t")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "https://a.example", c.CanonicalURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFrontier_PopEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	f := NewPostgres(mock)

	mock.ExpectQuery(`DELETE FROM frontier`).
		WithArgs("t").
		WillReturnError(pgx.ErrNoRows)

	c, err := f.Pop(context.Background(), "t")
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}
