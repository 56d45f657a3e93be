// Package federation merges ranked result lists from several independent
// indexes into one deduplicated ranking.
package federation

import (
	"fmt"
	"sort"

	"github.com/matsen/semlib/internal/search"
)

// Strategy selects how per-index rankings are combined.
type Strategy string

const (
	// StrategyInterleave takes the highest-scoring unemitted result across
	// all lists, a k-way merge of pre-sorted rankings.
	StrategyInterleave Strategy = "interleave"

	// StrategyConcat emits the primary index's results in full before any
	// secondary index's, regardless of score.
	StrategyConcat Strategy = "concat"

	// StrategyRerank pools all results, multiplies each score by its index
	// weight, and sorts once globally.
	StrategyRerank Strategy = "rerank"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyInterleave, StrategyConcat, StrategyRerank:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown federation strategy %q", s)
}

// DefaultDedupThreshold collapses only near-identical titles.
const DefaultDedupThreshold = 0.95

// IndexResults is one index's ranked contribution to a federated query.
// Lists arrive already sorted descending by score. Weight scales scores
// under the rerank strategy and breaks dedup conflicts under all strategies.
type IndexResults struct {
	Index   string
	Weight  float64
	Results []search.PaperResult
}

// Result is one paper in a federated ranking, tagged with its source index.
type Result struct {
	search.PaperResult
	Index string `json:"index"`
}

// Merger combines per-index rankings.
type Merger struct {
	strategy  Strategy
	threshold float64
}

// NewMerger creates a merger. A zero dedup threshold selects the default.
func NewMerger(strategy Strategy, dedupThreshold float64) (*Merger, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if dedupThreshold == 0 {
		dedupThreshold = DefaultDedupThreshold
	}
	if dedupThreshold < 0 || dedupThreshold > 1 {
		return nil, fmt.Errorf("dedup threshold %v outside [0,1]", dedupThreshold)
	}
	return &Merger{strategy: strategy, threshold: dedupThreshold}, nil
}

// Merge combines the per-index lists, deduplicates, and re-ranks to topK.
// The first list is the primary index under the concat strategy.
func (m *Merger) Merge(lists []IndexResults, topK int) []Result {
	if topK <= 0 {
		topK = search.DefaultTopK
	}

	var merged []Result
	switch m.strategy {
	case StrategyConcat:
		merged = concat(lists)
	case StrategyRerank:
		merged = rerank(lists)
	default:
		merged = interleave(lists)
	}

	merged = m.dedup(merged, lists)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	for i := range merged {
		merged[i].Rank = i + 1
	}
	return merged
}

func tag(list IndexResults) []Result {
	out := make([]Result, len(list.Results))
	for i, r := range list.Results {
		out[i] = Result{PaperResult: r, Index: list.Index}
	}
	return out
}

func concat(lists []IndexResults) []Result {
	var out []Result
	for _, list := range lists {
		out = append(out, tag(list)...)
	}
	return out
}

func rerank(lists []IndexResults) []Result {
	var out []Result
	for _, list := range lists {
		weight := list.Weight
		if weight == 0 {
			weight = 1
		}
		for _, r := range tag(list) {
			r.Score = float32(float64(r.Score) * weight)
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PaperID < out[j].PaperID
	})
	return out
}

// interleave merges pre-sorted lists by repeatedly emitting the best head.
// The list count is small, so a linear scan over heads beats maintaining a
// heap in practice and keeps ties deterministic.
func interleave(lists []IndexResults) []Result {
	heads := make([]int, len(lists))
	var out []Result
	for {
		best := -1
		for i, list := range lists {
			if heads[i] >= len(list.Results) {
				continue
			}
			if best == -1 {
				best = i
				continue
			}
			a := list.Results[heads[i]]
			b := lists[best].Results[heads[best]]
			if a.Score > b.Score || (a.Score == b.Score && a.PaperID < b.PaperID) {
				best = i
			}
		}
		if best == -1 {
			return out
		}
		out = append(out, Result{PaperResult: lists[best].Results[heads[best]], Index: lists[best].Index})
		heads[best]++
	}
}

// dedup drops later occurrences of the same logical paper. Two results
// match when their DOIs are equal or their normalized titles are at least
// threshold-similar. On a duplicate the result from the highest-weighted
// index wins, keeping its merged position.
func (m *Merger) dedup(results []Result, lists []IndexResults) []Result {
	weights := make(map[string]float64, len(lists))
	for _, list := range lists {
		w := list.Weight
		if w == 0 {
			w = 1
		}
		weights[list.Index] = w
	}

	var kept []Result
	for _, r := range results {
		dup := -1
		for i, k := range kept {
			if samePaper(k.PaperResult, r.PaperResult, m.threshold) {
				dup = i
				break
			}
		}
		if dup == -1 {
			kept = append(kept, r)
			continue
		}
		if weights[r.Index] > weights[kept[dup].Index] {
			kept[dup] = r
		}
	}
	return kept
}

func samePaper(a, b search.PaperResult, threshold float64) bool {
	if a.DOI != "" && b.DOI != "" {
		return a.DOI == b.DOI
	}
	return titleSimilarity(a.Title, b.Title) >= threshold
}
