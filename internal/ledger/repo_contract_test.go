package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, time.January, 1, 9, 30, 0, 0, time.UTC)

func uploaded(savedAs, original string, offset time.Duration) UploadedEntry {
	return UploadedEntry{
		Event: Event{
			SavedAs:   savedAs,
			Hash:      fmt.Sprintf("%064x", len(savedAs)),
			Timestamp: baseTime.Add(offset),
		},
		Name:             "Checkup",
		Type:             "other",
		Date:             "2025-01-01",
		Notes:            "n/a",
		FileURL:          "http://localhost:5000/files/" + savedAs,
		OriginalFileName: original,
	}
}

func deleted(savedAs string, offset time.Duration) DeletedEntry {
	return DeletedEntry{Event: Event{
		SavedAs:   savedAs,
		Hash:      fmt.Sprintf("%064x", len(savedAs)),
		Timestamp: baseTime.Add(offset),
	}}
}

type repoFactory func(t *testing.T) Repo

func repoFactories() map[string]repoFactory {
	return map[string]repoFactory{
		"memory": func(t *testing.T) Repo { return NewMemoryRepo() },
		"file": func(t *testing.T) Repo {
			return NewFileRepo(filepath.Join(t.TempDir(), "ledger.json"))
		},
		"bolt": func(t *testing.T) Repo {
			r, err := OpenBoltRepo(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = r.Close() })
			return r
		},
	}
}

func TestRepoContract(t *testing.T) {
	for name, factory := range repoFactories() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Run("append preserves order", func(t *testing.T) {
				testAppendPreservesOrder(t, factory(t))
			})
			t.Run("find by name", func(t *testing.T) {
				testFindByName(t, factory(t))
			})
			t.Run("history", func(t *testing.T) {
				testHistory(t, factory(t))
			})
			t.Run("concurrent appends", func(t *testing.T) {
				testConcurrentAppends(t, factory(t))
			})
			t.Run("rejects invalid entries", func(t *testing.T) {
				testRejectsInvalid(t, factory(t))
			})
		})
	}
}

func testAppendPreservesOrder(t *testing.T, repo Repo) {
	ctx := context.Background()
	require.NoError(t, repo.Init(ctx))
	require.NoError(t, repo.Init(ctx), "Init must be idempotent")

	want := []Entry{
		uploaded("a_one.pdf", "one.pdf", 0),
		uploaded("b_two.pdf", "two.pdf", time.Second),
		deleted("a_one.pdf", 2*time.Second),
		uploaded("c_one.pdf", "one.pdf", 3*time.Second),
	}
	for _, e := range want {
		require.NoError(t, repo.Append(ctx, e))
	}

	got, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Status(), got[i].Status(), "entry %d", i)
		assert.Equal(t, want[i].Base(), got[i].Base(), "entry %d", i)
	}
	assert.Equal(t, want[0], got[0])
}

func testFindByName(t *testing.T, repo Repo) {
	ctx := context.Background()
	require.NoError(t, repo.Init(ctx))

	first := uploaded("a_report.pdf", "report.pdf", 0)
	second := uploaded("b_report.pdf", "report.pdf", time.Second)
	require.NoError(t, repo.Append(ctx, first))
	require.NoError(t, repo.Append(ctx, second))
	require.NoError(t, repo.Append(ctx, deleted("a_report.pdf", 2*time.Second)))

	bySaved, err := repo.FindByName(ctx, "b_report.pdf")
	require.NoError(t, err)
	assert.Equal(t, second, bySaved)

	byOriginal, err := repo.FindByName(ctx, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, first, byOriginal, "first match in insertion order wins")

	// savedAs matches take precedence, and the first one is the upload.
	deletedDoc, err := repo.FindByName(ctx, "a_report.pdf")
	require.NoError(t, err)
	assert.Equal(t, StatusUploaded, deletedDoc.Status())

	_, err = repo.FindByName(ctx, "missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testHistory(t *testing.T, repo Repo) {
	ctx := context.Background()
	require.NoError(t, repo.Init(ctx))

	require.NoError(t, repo.Append(ctx, uploaded("a_x.pdf", "x.pdf", 0)))
	require.NoError(t, repo.Append(ctx, uploaded("b_y.pdf", "y.pdf", time.Second)))
	require.NoError(t, repo.Append(ctx, deleted("a_x.pdf", 2*time.Second)))

	history, err := repo.History(ctx, "a_x.pdf")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, StatusUploaded, history[0].Status())
	assert.Equal(t, StatusDeleted, LastStatus(history))

	none, err := repo.History(ctx, "zzz")
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Equal(t, Status(""), LastStatus(none))
}

func testConcurrentAppends(t *testing.T, repo Repo) {
	ctx := context.Background()
	require.NoError(t, repo.Init(ctx))

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			savedAs := fmt.Sprintf("%03d_doc.pdf", i)
			assert.NoError(t, repo.Append(ctx, uploaded(savedAs, "doc.pdf", time.Duration(i)*time.Millisecond)))
		}(i)
	}
	wg.Wait()

	got, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, got, n, "no appends may be lost")

	seen := map[string]bool{}
	for _, e := range got {
		seen[e.Base().SavedAs] = true
	}
	assert.Len(t, seen, n)
}

func testRejectsInvalid(t *testing.T, repo Repo) {
	ctx := context.Background()
	require.NoError(t, repo.Init(ctx))

	bad := uploaded("a_x.pdf", "x.pdf", 0)
	bad.FileURL = ""
	assert.ErrorIs(t, repo.Append(ctx, bad), ErrInvalidEntry)

	noHash := deleted("a_x.pdf", 0)
	noHash.Hash = ""
	assert.ErrorIs(t, repo.Append(ctx, noHash), ErrInvalidEntry)

	got, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}
