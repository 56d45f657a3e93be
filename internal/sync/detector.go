// Package sync diffs an external paper library against the index and
// applies the resulting change set incrementally.
package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/matsen/semlib/internal/record"
	"github.com/matsen/semlib/internal/recordstore"
	"github.com/matsen/semlib/internal/source"
)

// ChangeReport classifies the library against the index. New and Modified
// hold source keys, Deleted holds paper IDs of records whose source item is
// gone. The three sets are disjoint. A report is consumed at most once by
// Apply; detect-only callers inspect it read-only.
type ChangeReport struct {
	New            []string `json:"new"`
	Modified       []string `json:"modified"`
	Deleted        []string `json:"deleted"`
	UnchangedCount int      `json:"unchanged_count"`
}

// Total returns the number of pending changes.
func (r *ChangeReport) Total() int {
	return len(r.New) + len(r.Modified) + len(r.Deleted)
}

// Detect diffs the current library items against the record store in a
// single pass over both key sets. With no watermark (first run) every
// library item is new. An item modified at exactly the watermark counts as
// modified; external stores round timestamps, and re-processing an item is
// cheaper than missing an edit.
func Detect(ctx context.Context, items []source.Item, records recordstore.Store) (*ChangeReport, error) {
	indexed, err := records.ListPapers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing indexed papers: %w", err)
	}

	watermark, haveWatermark, err := records.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading watermark: %w", err)
	}

	bySourceKey := make(map[string]record.PaperRecord, len(indexed))
	for _, p := range indexed {
		bySourceKey[p.SourceKey] = p
	}

	report := &ChangeReport{}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		seen[item.SourceKey] = true
		existing, ok := bySourceKey[item.SourceKey]
		if !ok || !haveWatermark {
			report.New = append(report.New, item.SourceKey)
			continue
		}
		modified := !item.ModifiedAt.Before(watermark)
		if item.Fingerprint != "" && item.Fingerprint != existing.ContentFingerprint {
			modified = true
		}
		if modified {
			report.Modified = append(report.Modified, item.SourceKey)
		} else {
			report.UnchangedCount++
		}
	}

	for _, p := range indexed {
		if !seen[p.SourceKey] {
			report.Deleted = append(report.Deleted, p.PaperID)
		}
	}

	sort.Strings(report.New)
	sort.Strings(report.Modified)
	sort.Strings(report.Deleted)
	return report, nil
}
