package ledger

import "context"

// Repo is the append-only store of ledger entries. Implementations serialize
// appends so that concurrent writers never lose entries.
type Repo interface {
	// Init prepares an empty ledger if none exists. It is idempotent.
	Init(ctx context.Context) error
	Append(ctx context.Context, e Entry) error
	// FindByName returns the first entry whose savedAs equals name, or failing
	// that the first whose originalFileName equals name.
	FindByName(ctx context.Context, name string) (Entry, error)
	// History returns every entry for savedAs in insertion order.
	History(ctx context.Context, savedAs string) ([]Entry, error)
	// List returns the whole ledger in insertion order.
	List(ctx context.Context) ([]Entry, error)
}

func findByName(entries []Entry, name string) (Entry, error) {
	for _, e := range entries {
		if e.Base().SavedAs == name {
			return e, nil
		}
	}
	for _, e := range entries {
		if up, ok := e.(UploadedEntry); ok && up.OriginalFileName == name {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

func historyOf(entries []Entry, savedAs string) []Entry {
	out := []Entry{}
	for _, e := range entries {
		if e.Base().SavedAs == savedAs {
			out = append(out, e)
		}
	}
	return out
}
