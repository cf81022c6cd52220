// Package reconcile deduplicates clause candidates that share a normalized
// clause-type key. Selection is deterministic: candidates are scored, ties
// fall back to the longer raw excerpt, then to first-seen order, so the
// merged result never depends on task completion order.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leaselens/leaselens/internal/lease"
)

// phrases that signal the oracle found nothing useful in the span.
var noInfoPhrases = []string{
	"no information",
	"not found",
	"not specified",
	"not applicable",
	"unable to determine",
}

// Score rates one candidate. Confidence dominates; empty answers and
// review flags are penalized, populated structured data and longer content
// are rewarded.
func Score(c *lease.ExtractedClause) float64 {
	s := 100 * c.Confidence

	lower := strings.ToLower(c.Content)
	for _, p := range noInfoPhrases {
		if strings.Contains(lower, p) {
			s -= 50
			break
		}
	}

	s += 5 * float64(c.StructuredFieldCount())

	lengthBonus := float64(len(c.Content)) / 100
	if lengthBonus > 10 {
		lengthBonus = 10
	}
	s += lengthBonus

	if c.NeedsReview {
		s -= 20
	}
	return s
}

// Dedupe groups candidates by normalized clause-type key and keeps the best
// scorer per group. The input slice order defines first-seen order.
func Dedupe(candidates []*lease.ExtractedClause) map[string]*lease.ExtractedClause {
	type scored struct {
		clause *lease.ExtractedClause
		score  float64
		seen   int
	}
	best := make(map[string]scored)
	for i, c := range candidates {
		if c == nil {
			continue
		}
		key := c.Key()
		s := Score(c)
		cur, ok := best[key]
		if !ok || wins(s, c, cur.score, cur.clause) {
			best[key] = scored{clause: c, score: s, seen: i}
		}
	}

	out := make(map[string]*lease.ExtractedClause, len(best))
	for key, b := range best {
		out[key] = b.clause
	}
	return out
}

// wins reports whether challenger c beats the incumbent.
func wins(cScore float64, c *lease.ExtractedClause, bScore float64, b *lease.ExtractedClause) bool {
	if cScore != bScore {
		return cScore > bScore
	}
	if len(c.RawExcerpt) != len(b.RawExcerpt) {
		return len(c.RawExcerpt) > len(b.RawExcerpt)
	}
	// Equal on every criterion: incumbent was seen first and stays.
	return false
}

// MergeHierarchical reconciles a parent clause with a same-typed child
// deeper in the AST. A more confident child becomes the base and absorbs
// the parent's structured data, losing collisions to its own values; an
// equally or less confident child only annotates the parent.
func MergeHierarchical(parent, child *lease.ExtractedClause) *lease.ExtractedClause {
	if parent == nil {
		return child
	}
	if child == nil {
		return parent
	}

	if child.Confidence > parent.Confidence {
		merged := child.Clone()
		if merged.StructuredData == nil {
			merged.StructuredData = make(map[string]any)
		}
		for k, v := range parent.StructuredData {
			if _, exists := merged.StructuredData[k]; !exists {
				merged.StructuredData[k] = v
			}
		}
		merged.RiskTags = unionRiskTags(parent.RiskTags, child.RiskTags)
		merged.InferredFromSection = strings.Join(parent.SectionHierarchy, " > ")
		merged.DetectionMethod = fmt.Sprintf("hierarchical_reconciliation(child over %s)",
			strings.Join(parent.SectionHierarchy, " > "))
		return merged
	}

	kept := parent.Clone()
	kept.ValidationNotes = append(kept.ValidationNotes,
		fmt.Sprintf("refined in child section %s", strings.Join(child.SectionHierarchy, " > ")))
	return kept
}

// unionRiskTags merges both tag lists, deduplicating by description and
// keeping the first occurrence. Order is parent tags then new child tags.
func unionRiskTags(parent, child []lease.RiskTag) []lease.RiskTag {
	seen := make(map[string]bool, len(parent)+len(child))
	var out []lease.RiskTag
	for _, t := range append(append([]lease.RiskTag{}, parent...), child...) {
		k := strings.ToLower(t.Description)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}

// SortCandidates orders candidates into a stable first-seen order by
// source position, so Dedupe input does not depend on goroutine timing.
func SortCandidates(candidates []*lease.ExtractedClause) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.PageStart != b.PageStart {
			return a.PageStart < b.PageStart
		}
		if a.FieldID != b.FieldID {
			return a.FieldID < b.FieldID
		}
		return a.ClauseType < b.ClauseType
	})
}
