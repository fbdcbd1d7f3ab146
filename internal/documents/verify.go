package documents

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"ledger-backend/internal/ledger"
	"ledger-backend/internal/shared/storage/object"
	"ledger-backend/internal/shared/telemetry"
	"ledger-backend/internal/shared/util"
)

const defaultVerifyConcurrency = 4

// Mismatch is a live document whose stored bytes no longer hash to the
// digest recorded at upload.
type Mismatch struct {
	SavedAs  string `json:"savedAs"`
	Recorded string `json:"recorded"`
	Actual   string `json:"actual"`
}

// VerifyReport summarizes a pass over every live document.
type VerifyReport struct {
	Checked    int        `json:"checked"`
	Missing    []string   `json:"missing"`
	Mismatched []Mismatch `json:"mismatched"`
}

// OK reports whether every live document is present and intact.
func (r VerifyReport) OK() bool {
	return len(r.Missing) == 0 && len(r.Mismatched) == 0
}

type verifyResult struct {
	missing  bool
	mismatch *Mismatch
}

// Verify re-hashes every document whose latest ledger entry is an upload.
// concurrency <= 0 uses a small default.
func (s *Service) Verify(ctx context.Context, concurrency int) (VerifyReport, error) {
	entries, err := s.Ledger.List(ctx)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("%w: read ledger: %w", ErrStorage, err)
	}
	live := liveUploads(entries)

	if concurrency <= 0 {
		concurrency = defaultVerifyConcurrency
	}
	results := make([]verifyResult, len(live))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, up := range live {
		g.Go(func() error {
			rc, err := s.Store.Open(gctx, up.SavedAs)
			if err != nil {
				if errors.Is(err, object.ErrNotFound) {
					results[i].missing = true
					return nil
				}
				return fmt.Errorf("open %s: %w", up.SavedAs, err)
			}
			defer rc.Close()
			actual, _, err := util.DigestReader(rc)
			if err != nil {
				return fmt.Errorf("hash %s: %w", up.SavedAs, err)
			}
			if actual != up.Hash {
				results[i].mismatch = &Mismatch{SavedAs: up.SavedAs, Recorded: up.Hash, Actual: actual}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return VerifyReport{}, fmt.Errorf("%w: verify: %w", ErrStorage, err)
	}

	report := VerifyReport{Checked: len(live), Missing: []string{}, Mismatched: []Mismatch{}}
	for i, res := range results {
		switch {
		case res.missing:
			report.Missing = append(report.Missing, live[i].SavedAs)
		case res.mismatch != nil:
			report.Mismatched = append(report.Mismatched, *res.mismatch)
		}
	}
	if !report.OK() {
		telemetry.Warn("ledger.verify_failed", map[string]any{
			"checked":    report.Checked,
			"missing":    len(report.Missing),
			"mismatched": len(report.Mismatched),
		})
	}
	return report, nil
}

// liveUploads returns, in first-seen order, the upload entry of every
// document whose latest entry is an upload.
func liveUploads(entries []ledger.Entry) []ledger.UploadedEntry {
	order := []string{}
	latest := make(map[string]ledger.Entry)
	for _, e := range entries {
		name := e.Base().SavedAs
		if _, seen := latest[name]; !seen {
			order = append(order, name)
		}
		latest[name] = e
	}
	out := make([]ledger.UploadedEntry, 0, len(order))
	for _, name := range order {
		if up, ok := latest[name].(ledger.UploadedEntry); ok {
			out = append(out, up)
		}
	}
	return out
}
