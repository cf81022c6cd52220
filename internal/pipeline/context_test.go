package pipeline

import (
	"strings"
	"testing"

	"github.com/leaselens/leaselens/internal/oracle"
)

func TestContextBuilder_FirstDefinitionWins(t *testing.T) {
	b := newContextBuilder()
	b.fold(leafFacts{section: "Definitions", definedTerms: map[string]string{"Premises": "Suite 100"}})
	b.fold(leafFacts{section: "Later", definedTerms: map[string]string{"Premises": "Suite 200"}})

	got := b.snapshot()
	if got.DefinedTerms["Premises"] != "Suite 100" {
		t.Errorf("Premises = %q, want first definition kept", got.DefinedTerms["Premises"])
	}
}

func TestContextBuilder_PartyConflictWarns(t *testing.T) {
	b := newContextBuilder()
	b.fold(leafFacts{section: "Parties", parties: map[string]string{"landlord": "Acme Properties LLC"}})
	b.fold(leafFacts{section: "Signature", parties: map[string]string{"landlord": "Other Holdings LP"}})

	got := b.snapshot()
	if got.PartyNames["landlord"] != "Acme Properties LLC" {
		t.Errorf("landlord = %q, want first name kept", got.PartyNames["landlord"])
	}
	if len(got.Warnings) != 1 || !strings.Contains(got.Warnings[0], "conflicting party name") {
		t.Errorf("warnings = %v", got.Warnings)
	}
}

func TestContextBuilder_PartyCaseInsensitiveNoConflict(t *testing.T) {
	b := newContextBuilder()
	b.fold(leafFacts{section: "A", parties: map[string]string{"tenant": "Birch Retail Inc"}})
	b.fold(leafFacts{section: "B", parties: map[string]string{"tenant": "BIRCH RETAIL INC"}})

	if got := b.snapshot(); len(got.Warnings) != 0 {
		t.Errorf("warnings = %v, want none for case variants", got.Warnings)
	}
}

func TestContextBuilder_ExhibitDedupe(t *testing.T) {
	b := newContextBuilder()
	b.fold(leafFacts{section: "A", exhibits: []string{"Exhibit A", "Exhibit B"}})
	b.fold(leafFacts{section: "B", exhibits: []string{"EXHIBIT A", "Exhibit C"}})

	got := b.snapshot()
	if len(got.ExhibitReferences) != 3 {
		t.Errorf("exhibits = %v, want 3 distinct", got.ExhibitReferences)
	}
}

func TestContextBuilder_SnapshotIsolated(t *testing.T) {
	b := newContextBuilder()
	b.fold(leafFacts{section: "A", keyDates: map[string]string{"commencement": "2024-01-01"}})

	snap := b.snapshot()
	snap.KeyDates["commencement"] = "mutated"
	snap.Warnings = append(snap.Warnings, "local only")

	got := b.snapshot()
	if got.KeyDates["commencement"] != "2024-01-01" {
		t.Error("snapshot mutation leaked into the builder")
	}
	if len(got.Warnings) != 0 {
		t.Errorf("warnings = %v", got.Warnings)
	}
}

func TestContextBuilder_CrossRefProvenance(t *testing.T) {
	b := newContextBuilder()
	b.fold(leafFacts{section: "Section 4", crossRefs: []string{"Section 7"}})

	refs := b.crossRefs()
	if len(refs) != 1 || refs[0].fromSection != "Section 4" || refs[0].mention != "Section 7" {
		t.Errorf("refs = %+v", refs)
	}
}

func TestParseLeafFacts(t *testing.T) {
	res := &oracle.Result{KeyValues: map[string]any{
		"subsections":   []any{"1.1", "1.2"},
		"defined_terms": map[string]any{"Premises": "Suite 100", "skip": 42},
		"party_names":   map[string]any{"landlord": "Acme Properties LLC"},
		"key_dates":     map[string]any{"commencement": "2024-01-01"},
		"cross_references":   []any{"Section 9"},
		"exhibit_references": []any{"Exhibit A"},
		"has_table":          true,
	}}

	f := parseLeafFacts("ARTICLE I", res)
	if f.section != "ARTICLE I" {
		t.Errorf("section = %q", f.section)
	}
	if len(f.subsections) != 2 {
		t.Errorf("subsections = %v", f.subsections)
	}
	if f.definedTerms["Premises"] != "Suite 100" || len(f.definedTerms) != 1 {
		t.Errorf("defined terms = %v, non-strings must be skipped", f.definedTerms)
	}
	if !f.hasTable {
		t.Error("has_table lost")
	}
	if len(f.crossRefs) != 1 || len(f.exhibits) != 1 {
		t.Errorf("refs = %v, exhibits = %v", f.crossRefs, f.exhibits)
	}
}

func TestParseLeafFacts_NilSafe(t *testing.T) {
	f := parseLeafFacts("X", nil)
	if f.section != "X" || f.definedTerms != nil {
		t.Errorf("facts = %+v", f)
	}
	f = parseLeafFacts("X", &oracle.Result{})
	if f.subsections != nil {
		t.Errorf("facts = %+v", f)
	}
}

func TestPromptSlice_DeterministicOrder(t *testing.T) {
	c := &StructuralContext{
		PartyNames:   map[string]string{"tenant": "Birch Retail Inc", "landlord": "Acme Properties LLC"},
		DefinedTerms: map[string]string{"Term": "five years", "Premises": "Suite 100"},
		KeyDates:     map[string]string{"expiration": "2029-12-31", "commencement": "2024-01-01"},
	}

	first := c.promptSlice()
	for i := 0; i < 5; i++ {
		if again := c.promptSlice(); again != first {
			t.Fatal("promptSlice output must be deterministic")
		}
	}
	if !strings.Contains(first, "landlord: Acme Properties LLC") {
		t.Errorf("missing party line:\n%s", first)
	}
	if strings.Index(first, "landlord") > strings.Index(first, "tenant") {
		t.Error("roles must render in sorted order")
	}
}

func TestPromptSlice_TruncatesLongDefinitions(t *testing.T) {
	c := &StructuralContext{
		DefinedTerms: map[string]string{"Premises": strings.Repeat("x", 300)},
	}
	out := c.promptSlice()
	if !strings.Contains(out, strings.Repeat("x", 120)+"...") {
		t.Error("long definition not truncated")
	}
	if strings.Contains(out, strings.Repeat("x", 121)) {
		t.Error("definition exceeds truncation budget")
	}
}
