package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/leaselens/leaselens/internal/oracle"
)

// StructuralContext is the document-wide knowledge accumulated by the
// structural pass and handed to later passes.
type StructuralContext struct {
	DocumentOutline   map[string][]string `json:"document_outline"`
	DefinedTerms      map[string]string   `json:"defined_terms"`
	PartyNames        map[string]string   `json:"party_names"`
	KeyDates          map[string]string   `json:"key_dates"`
	CrossReferences   []string            `json:"cross_references,omitempty"`
	TablesFound       []string            `json:"tables_found,omitempty"`
	ExhibitReferences []string            `json:"exhibit_references,omitempty"`
	Warnings          []string            `json:"warnings,omitempty"`
}

// leafFacts is one leaf's contribution to the structural context.
type leafFacts struct {
	section      string
	subsections  []string
	definedTerms map[string]string
	parties      map[string]string
	keyDates     map[string]string
	crossRefs    []string
	hasTable     bool
	exhibits     []string
}

// crossRef keeps the provenance of a cross-reference mention so pass 4 can
// attach the link to the right source clause.
type crossRef struct {
	fromSection string
	mention     string
}

// contextBuilder folds per-leaf facts into one StructuralContext. Folds can
// arrive from concurrent sibling tasks; the builder serializes them and
// applies first-write-wins for defined terms.
type contextBuilder struct {
	mu          sync.Mutex
	ctx         StructuralContext
	exhibitSeen map[string]bool
	refs        []crossRef
}

func newContextBuilder() *contextBuilder {
	return &contextBuilder{
		ctx: StructuralContext{
			DocumentOutline: make(map[string][]string),
			DefinedTerms:    make(map[string]string),
			PartyNames:      make(map[string]string),
			KeyDates:        make(map[string]string),
		},
		exhibitSeen: make(map[string]bool),
	}
}

func (b *contextBuilder) fold(f leafFacts) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f.section != "" {
		b.ctx.DocumentOutline[f.section] = append(b.ctx.DocumentOutline[f.section], f.subsections...)
	}

	// First definition wins; later re-definitions are ignored.
	for _, term := range sortedKeys(f.definedTerms) {
		if _, exists := b.ctx.DefinedTerms[term]; !exists {
			b.ctx.DefinedTerms[term] = f.definedTerms[term]
		}
	}

	// Conflicting party names are recorded, not overwritten.
	for _, role := range sortedKeys(f.parties) {
		name := f.parties[role]
		existing, ok := b.ctx.PartyNames[role]
		switch {
		case !ok:
			b.ctx.PartyNames[role] = name
		case !strings.EqualFold(existing, name):
			b.ctx.Warnings = append(b.ctx.Warnings,
				fmt.Sprintf("conflicting party name for role %q: %q vs %q", role, existing, name))
		}
	}

	for _, label := range sortedKeys(f.keyDates) {
		if _, exists := b.ctx.KeyDates[label]; !exists {
			b.ctx.KeyDates[label] = f.keyDates[label]
		}
	}

	for _, ref := range f.crossRefs {
		b.ctx.CrossReferences = append(b.ctx.CrossReferences, ref)
		b.refs = append(b.refs, crossRef{fromSection: f.section, mention: ref})
	}

	if f.hasTable && f.section != "" {
		b.ctx.TablesFound = append(b.ctx.TablesFound, f.section)
	}

	for _, ex := range f.exhibits {
		key := strings.ToUpper(strings.TrimSpace(ex))
		if key == "" || b.exhibitSeen[key] {
			continue
		}
		b.exhibitSeen[key] = true
		b.ctx.ExhibitReferences = append(b.ctx.ExhibitReferences, ex)
	}
}

func (b *contextBuilder) warn(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctx.Warnings = append(b.ctx.Warnings, msg)
}

// snapshot deep-copies the current partial context. Contextual-pass tasks
// read snapshots, never the live maps.
func (b *contextBuilder) snapshot() *StructuralContext {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := StructuralContext{
		DocumentOutline:   make(map[string][]string, len(b.ctx.DocumentOutline)),
		DefinedTerms:      make(map[string]string, len(b.ctx.DefinedTerms)),
		PartyNames:        make(map[string]string, len(b.ctx.PartyNames)),
		KeyDates:          make(map[string]string, len(b.ctx.KeyDates)),
		CrossReferences:   append([]string(nil), b.ctx.CrossReferences...),
		TablesFound:       append([]string(nil), b.ctx.TablesFound...),
		ExhibitReferences: append([]string(nil), b.ctx.ExhibitReferences...),
		Warnings:          append([]string(nil), b.ctx.Warnings...),
	}
	for k, v := range b.ctx.DocumentOutline {
		out.DocumentOutline[k] = append([]string(nil), v...)
	}
	for k, v := range b.ctx.DefinedTerms {
		out.DefinedTerms[k] = v
	}
	for k, v := range b.ctx.PartyNames {
		out.PartyNames[k] = v
	}
	for k, v := range b.ctx.KeyDates {
		out.KeyDates[k] = v
	}
	return &out
}

func (b *contextBuilder) crossRefs() []crossRef {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]crossRef(nil), b.refs...)
}

// parseLeafFacts pulls structural facts out of an oracle result's key
// values. Unknown shapes are skipped, never fatal.
func parseLeafFacts(section string, res *oracle.Result) leafFacts {
	f := leafFacts{section: section}
	if res == nil || res.KeyValues == nil {
		return f
	}
	kv := res.KeyValues
	f.subsections = asStringSlice(kv["subsections"])
	f.definedTerms = asStringMap(kv["defined_terms"])
	f.parties = asStringMap(kv["party_names"])
	f.keyDates = asStringMap(kv["key_dates"])
	f.crossRefs = asStringSlice(kv["cross_references"])
	f.exhibits = asStringSlice(kv["exhibit_references"])
	if b, ok := kv["has_table"].(bool); ok {
		f.hasTable = b
	}
	return f
}

// promptSlice renders the parts of the context useful to a contextual-pass
// call: resolved parties, defined terms, key dates. Deterministic order.
func (c *StructuralContext) promptSlice() string {
	var sb strings.Builder
	if len(c.PartyNames) > 0 {
		sb.WriteString("Parties:\n")
		for _, role := range sortedKeys(c.PartyNames) {
			fmt.Fprintf(&sb, "  %s: %s\n", role, c.PartyNames[role])
		}
	}
	if len(c.DefinedTerms) > 0 {
		sb.WriteString("Defined terms:\n")
		for _, term := range sortedKeys(c.DefinedTerms) {
			def := c.DefinedTerms[term]
			if len(def) > 120 {
				def = def[:120] + "..."
			}
			fmt.Fprintf(&sb, "  %s: %s\n", term, def)
		}
	}
	if len(c.KeyDates) > 0 {
		sb.WriteString("Key dates:\n")
		for _, label := range sortedKeys(c.KeyDates) {
			fmt.Fprintf(&sb, "  %s: %s\n", label, c.KeyDates[label])
		}
	}
	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asStringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok && strings.TrimSpace(s) != "" {
			out[k] = s
		}
	}
	return out
}

func asStringSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		var out []string
		for _, item := range vv {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return vv
	default:
		return nil
	}
}
