package reconcile

import (
	"math"
	"strings"
	"testing"

	"github.com/leaselens/leaselens/internal/lease"
)

func clause(clauseType string, confidence float64, content string) *lease.ExtractedClause {
	return &lease.ExtractedClause{
		ClauseType: clauseType,
		Confidence: confidence,
		Content:    content,
		RawExcerpt: content,
	}
}

func TestScore_Components(t *testing.T) {
	base := clause("base_rent", 0.8, strings.Repeat("x", 200))
	// 100*0.8 + 200/100 = 82
	if got := Score(base); math.Abs(got-82) > 1e-9 {
		t.Errorf("score = %v, want 82", got)
	}

	noInfo := clause("base_rent", 0.8, "No information found in this section.")
	s := Score(noInfo)
	if s >= Score(base) {
		t.Errorf("no-information content should be penalized: %v", s)
	}

	structured := clause("base_rent", 0.8, strings.Repeat("x", 200))
	structured.StructuredData = map[string]any{"monthly_rent": 5000.0, "annual_rent": 60000.0, "empty": nil}
	// +5 per non-null field = +10
	if got := Score(structured); math.Abs(got-92) > 1e-9 {
		t.Errorf("score = %v, want 92", got)
	}

	review := clause("base_rent", 0.8, strings.Repeat("x", 200))
	review.NeedsReview = true
	if got := Score(review); math.Abs(got-62) > 1e-9 {
		t.Errorf("score = %v, want 62", got)
	}
}

func TestScore_LengthBonusCapped(t *testing.T) {
	long := clause("use", 0.5, strings.Repeat("y", 10000))
	// 50 + capped 10 = 60
	if got := Score(long); math.Abs(got-60) > 1e-9 {
		t.Errorf("score = %v, want 60 (length bonus capped at 10)", got)
	}
}

func TestDedupe_HighestScoreWins(t *testing.T) {
	weak := clause("base_rent", 0.5, "Rent due monthly.")
	strong := clause("base_rent", 0.95, "Tenant shall pay base rent of $5,000 per month in advance.")
	other := clause("term", 0.9, "The term is five years.")

	out := Dedupe([]*lease.ExtractedClause{weak, strong, other})
	if len(out) != 2 {
		t.Fatalf("got %d keys, want 2", len(out))
	}
	if out["base_rent"] != strong {
		t.Error("higher-scoring candidate should win base_rent")
	}
	if out["term"] != other {
		t.Error("term clause missing")
	}
}

func TestDedupe_NormalizesKeys(t *testing.T) {
	a := clause("Base Rent", 0.9, "Base rent text.")
	b := clause("base-rent_data", 0.5, "Weaker rent text.")
	out := Dedupe([]*lease.ExtractedClause{a, b})
	if len(out) != 1 {
		t.Fatalf("got %d keys, want 1 after normalization", len(out))
	}
	if _, ok := out["base_rent"]; !ok {
		t.Errorf("want key base_rent, got %v", keys(out))
	}
}

func TestDedupe_TieBreaks(t *testing.T) {
	// Same confidence and content length, longer raw excerpt wins.
	a := clause("parking", 0.7, "Twenty spaces reserved.")
	a.RawExcerpt = "short"
	b := clause("parking", 0.7, "Twenty spaces reserved.")
	b.RawExcerpt = "a considerably longer raw excerpt"

	out := Dedupe([]*lease.ExtractedClause{a, b})
	if out["parking"] != b {
		t.Error("longer raw excerpt should break the tie")
	}

	// Fully equal candidates: first seen wins, regardless of input
	// arrival being later.
	c := clause("signage", 0.7, "Signage per landlord approval.")
	d := clause("signage", 0.7, "Signage per landlord approval.")
	out = Dedupe([]*lease.ExtractedClause{c, d})
	if out["signage"] != c {
		t.Error("first-seen candidate should win a full tie")
	}
}

func TestDedupe_OrderIndependentResult(t *testing.T) {
	strong := clause("base_rent", 0.95, "Tenant shall pay base rent of $5,000 per month.")
	weak := clause("base_rent", 0.4, "Rent mentioned.")

	forward := Dedupe([]*lease.ExtractedClause{weak, strong})
	backward := Dedupe([]*lease.ExtractedClause{strong, weak})
	if forward["base_rent"] != strong || backward["base_rent"] != strong {
		t.Error("winner must not depend on input order when scores differ")
	}
}

func TestMergeHierarchical_ChildWins(t *testing.T) {
	parent := clause("renewal_option", 0.6, "Tenant may renew.")
	parent.StructuredData = map[string]any{"notice_days": 90, "term_years": 5}
	parent.RiskTags = []lease.RiskTag{{Level: lease.RiskMedium, Description: "short notice window"}}
	parent.SectionHierarchy = []string{"ARTICLE IV"}

	child := clause("renewal_option", 0.9, "Tenant may renew for one additional five-year term on 180 days notice.")
	child.StructuredData = map[string]any{"notice_days": 180}
	child.RiskTags = []lease.RiskTag{
		{Level: lease.RiskMedium, Description: "short notice window"},
		{Level: lease.RiskLow, Description: "single renewal only"},
	}
	child.SectionHierarchy = []string{"ARTICLE IV", "Section 4.2"}

	merged := MergeHierarchical(parent, child)
	if merged.Confidence != 0.9 {
		t.Errorf("confidence = %v, want child's 0.9", merged.Confidence)
	}
	if merged.StructuredData["notice_days"] != 180 {
		t.Errorf("notice_days = %v, child value must win collision", merged.StructuredData["notice_days"])
	}
	if merged.StructuredData["term_years"] != 5 {
		t.Errorf("term_years = %v, parent-only key must carry over", merged.StructuredData["term_years"])
	}
	if len(merged.RiskTags) != 2 {
		t.Errorf("risk tags = %v, want union deduped to 2", merged.RiskTags)
	}
	if !strings.Contains(merged.DetectionMethod, "hierarchical_reconciliation") {
		t.Errorf("detection method = %q, want reconciliation note", merged.DetectionMethod)
	}
	if merged.InferredFromSection != "ARTICLE IV" {
		t.Errorf("inferred from = %q, want the absorbed parent section", merged.InferredFromSection)
	}
}

func TestMergeHierarchical_ParentKept(t *testing.T) {
	parent := clause("assignment", 0.85, "No assignment without consent.")
	child := clause("assignment", 0.5, "Assignment mentioned.")
	child.SectionHierarchy = []string{"ARTICLE X", "Section 10.3"}

	merged := MergeHierarchical(parent, child)
	if merged.Confidence != 0.85 {
		t.Errorf("confidence = %v, want parent's", merged.Confidence)
	}
	found := false
	for _, n := range merged.ValidationNotes {
		if strings.Contains(n, "refined in child section") {
			found = true
		}
	}
	if !found {
		t.Errorf("want refinement annotation, got %v", merged.ValidationNotes)
	}
}

func TestMergeHierarchical_DoesNotMutateInputs(t *testing.T) {
	parent := clause("default", 0.6, "Default provisions.")
	parent.StructuredData = map[string]any{"cure_days": 10}
	child := clause("default", 0.9, "Default with 30 day cure.")
	child.StructuredData = map[string]any{"cure_days": 30}

	_ = MergeHierarchical(parent, child)
	if parent.StructuredData["cure_days"] != 10 || child.StructuredData["cure_days"] != 30 {
		t.Error("merge must not mutate its inputs")
	}
}

func TestSortCandidates_DocumentPosition(t *testing.T) {
	late := clause("term", 0.8, "Later section.")
	late.PageStart = 3
	late.FieldID = "lease-1#9"
	early := clause("premises", 0.8, "Earlier section.")
	early.PageStart = 1
	early.FieldID = "lease-1#2"
	samePage := clause("base_rent", 0.8, "Same page, earlier field.")
	samePage.PageStart = 3
	samePage.FieldID = "lease-1#7"

	cands := []*lease.ExtractedClause{late, samePage, early}
	SortCandidates(cands)
	if cands[0] != early || cands[1] != samePage || cands[2] != late {
		t.Errorf("order = %v, %v, %v", cands[0].FieldID, cands[1].FieldID, cands[2].FieldID)
	}
}

func keys(m map[string]*lease.ExtractedClause) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
