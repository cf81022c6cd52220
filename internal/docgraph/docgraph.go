// Package docgraph tracks the relationships inside a lease document set:
// which amendments modify which base documents, which exhibits attach
// where, and what the current state of each amended section is.
package docgraph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/leaselens/leaselens/internal/lease"
)

// RelationshipType classifies a directed edge between two documents.
type RelationshipType string

const (
	RelAmends         RelationshipType = "amends"
	RelExhibitsTo     RelationshipType = "exhibits_to"
	RelGuarantees     RelationshipType = "guarantees"
	RelSubordinatesTo RelationshipType = "subordinates_to"
	RelAssigns        RelationshipType = "assigns"
	RelSubleases      RelationshipType = "subleases"
	RelIncorporates   RelationshipType = "incorporates"
	RelSupersedes     RelationshipType = "supersedes"
	RelReferences     RelationshipType = "references"
)

// Node is one document in the graph plus the data extracted from it.
type Node struct {
	ID            string            `json:"doc_id"`
	Type          lease.DocumentType `json:"doc_type"`
	Title         string            `json:"title"`
	Date          *time.Time        `json:"date,omitempty"`
	Parties       []string          `json:"parties,omitempty"`
	ExtractedData map[string]any    `json:"extracted_data,omitempty"`
}

// Relationship is a directed edge: source relates to target.
type Relationship struct {
	SourceID         string           `json:"source"`
	TargetID         string           `json:"target"`
	Type             RelationshipType `json:"type"`
	EffectiveDate    *time.Time       `json:"effective_date,omitempty"`
	SectionsAffected []string         `json:"sections_affected,omitempty"`
}

// ConstructionError reports an edge referencing an unknown node. Edges are
// rejected at insertion; the graph never holds dangling references.
type ConstructionError struct {
	DocID string
	End   string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("docgraph: %s document %q not found", e.End, e.DocID)
}

// Graph is the document-relationship graph for one document set. It is
// built after extraction joins and is not safe for concurrent mutation.
type Graph struct {
	nodes map[string]*Node
	order []string
	edges []Relationship
}

func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddDocument registers a document node. Re-adding an id replaces it.
func (g *Graph) AddDocument(n *Node) {
	if _, exists := g.nodes[n.ID]; !exists {
		g.order = append(g.order, n.ID)
	}
	g.nodes[n.ID] = n
}

// AddRelationship inserts an edge, rejecting unknown endpoints.
func (g *Graph) AddRelationship(r Relationship) error {
	if _, ok := g.nodes[r.SourceID]; !ok {
		return &ConstructionError{DocID: r.SourceID, End: "source"}
	}
	if _, ok := g.nodes[r.TargetID]; !ok {
		return &ConstructionError{DocID: r.TargetID, End: "target"}
	}
	g.edges = append(g.edges, r)
	return nil
}

// Document returns a node by id.
func (g *Graph) Document(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Documents returns all nodes in insertion order.
func (g *Graph) Documents() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Relationships returns all edges in insertion order.
func (g *Graph) Relationships() []Relationship {
	return append([]Relationship(nil), g.edges...)
}

// BaseDocuments returns all base lease nodes.
func (g *Graph) BaseDocuments() []*Node {
	var out []*Node
	for _, id := range g.order {
		if g.nodes[id].Type == lease.DocBaseLease {
			out = append(out, g.nodes[id])
		}
	}
	return out
}

// AmendmentsFor returns documents that amend the given one, sorted
// chronologically with undated amendments first.
func (g *Graph) AmendmentsFor(docID string) []*Node {
	var out []*Node
	for _, r := range g.edges {
		if r.TargetID == docID && r.Type == RelAmends {
			out = append(out, g.nodes[r.SourceID])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return dateOrEarliest(out[i].Date).Before(dateOrEarliest(out[j].Date))
	})
	return out
}

// Chain returns the base document followed by its amendments in order.
func (g *Graph) Chain(baseID string) []*Node {
	base, ok := g.nodes[baseID]
	if !ok {
		return nil
	}
	return append([]*Node{base}, g.AmendmentsFor(baseID)...)
}

// AmendmentChange records one section overwrite in the history ledger.
type AmendmentChange struct {
	Section  string `json:"section"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// AmendmentRecord is the ledger entry for one applied amendment.
type AmendmentRecord struct {
	AmendmentNumber int               `json:"amendment_number"`
	DocID           string            `json:"doc_id"`
	Title           string            `json:"title"`
	Date            *time.Time        `json:"date,omitempty"`
	Changes         []AmendmentChange `json:"changes"`
}

// AmendmentResult is the outcome of applying a full amendment chain.
type AmendmentResult struct {
	BaseDocument    string            `json:"base_document"`
	CurrentState    map[string]any    `json:"current_state"`
	History         []AmendmentRecord `json:"amendment_history"`
	TotalAmendments int               `json:"total_amendments"`
}

// ApplyAmendments folds every amendment into the base document's extracted
// data, chronologically, recording each overwrite. Amendments only touch
// sections they both declare affected and carry data for.
func (g *Graph) ApplyAmendments(baseID string) (*AmendmentResult, error) {
	chain := g.Chain(baseID)
	if len(chain) == 0 {
		return nil, fmt.Errorf("docgraph: base document %q not found", baseID)
	}

	state := make(map[string]any, len(chain[0].ExtractedData))
	for k, v := range chain[0].ExtractedData {
		state[k] = v
	}

	history := make([]AmendmentRecord, 0, len(chain)-1)
	for i, amendment := range chain[1:] {
		record := AmendmentRecord{
			AmendmentNumber: i + 1,
			DocID:           amendment.ID,
			Title:           amendment.Title,
			Date:            amendment.Date,
			Changes:         []AmendmentChange{},
		}
		for _, r := range g.edges {
			if r.SourceID != amendment.ID || r.Type != RelAmends || r.TargetID != baseID {
				continue
			}
			for _, section := range r.SectionsAffected {
				newValue, ok := amendment.ExtractedData[section]
				if !ok {
					continue
				}
				record.Changes = append(record.Changes, AmendmentChange{
					Section:  section,
					OldValue: state[section],
					NewValue: newValue,
				})
				state[section] = newValue
			}
		}
		history = append(history, record)
	}

	return &AmendmentResult{
		BaseDocument:    baseID,
		CurrentState:    state,
		History:         history,
		TotalAmendments: len(chain) - 1,
	}, nil
}

// TermDefinition is one document's definition of a term.
type TermDefinition struct {
	DocID      string     `json:"doc_id"`
	DocTitle   string     `json:"doc_title"`
	DocType    lease.DocumentType `json:"doc_type"`
	Definition string     `json:"definition"`
	Date       *time.Time `json:"date,omitempty"`
}

// FindDefinedTerms merges per-document term maps. Conflicting definitions
// are kept most-recent-first instead of being overwritten.
func (g *Graph) FindDefinedTerms() map[string][]TermDefinition {
	terms := make(map[string][]TermDefinition)
	for _, id := range g.order {
		doc := g.nodes[id]
		defs := asStringMap(doc.ExtractedData["defined_terms"])
		for _, term := range sortedKeys(defs) {
			terms[term] = append(terms[term], TermDefinition{
				DocID:      doc.ID,
				DocTitle:   doc.Title,
				DocType:    doc.Type,
				Definition: defs[term],
				Date:       doc.Date,
			})
		}
	}
	for term := range terms {
		sort.SliceStable(terms[term], func(i, j int) bool {
			return dateOrEarliest(terms[term][i].Date).After(dateOrEarliest(terms[term][j].Date))
		})
	}
	return terms
}

var exhibitRefRe = regexp.MustCompile(`(?i)exhibit\s+([a-z0-9]+)`)

// ResolveReference best-effort matches free text to a document id by title
// substring, then by exhibit letter. Returns "" when nothing matches; the
// caller records that as a validation issue.
func (g *Graph) ResolveReference(text string) string {
	lower := strings.ToLower(text)

	for _, id := range g.order {
		title := strings.ToLower(g.nodes[id].Title)
		if title != "" && strings.Contains(lower, title) {
			return id
		}
	}

	if m := exhibitRefRe.FindStringSubmatch(lower); m != nil {
		letter := m[1]
		for _, id := range g.order {
			doc := g.nodes[id]
			if doc.Type == lease.DocExhibit && strings.Contains(strings.ToLower(doc.Title), letter) {
				return id
			}
		}
	}
	return ""
}

// ValidateDocumentSet checks the set for completeness and consistency.
// Every finding is a ValidationIssue; nothing here is fatal.
func (g *Graph) ValidateDocumentSet() []lease.ValidationIssue {
	var issues []lease.ValidationIssue

	// Dangling exhibit references.
	for _, id := range g.order {
		doc := g.nodes[id]
		for _, ref := range asStringSlice(doc.ExtractedData["exhibit_references"]) {
			if g.ResolveReference(ref) == "" {
				issues = append(issues, lease.ValidationIssue{
					IssueType:   "missing_exhibit",
					Severity:    lease.RiskMedium,
					Description: fmt.Sprintf("%s references missing %s", doc.Title, ref),
					Location:    doc.ID,
				})
			}
		}
	}

	// Circular amendment chains.
	for _, id := range g.cyclicAmendmentNodes() {
		issues = append(issues, lease.ValidationIssue{
			IssueType:   "circular_amendments",
			Severity:    lease.RiskHigh,
			Description: fmt.Sprintf("circular amendment chain involving %s", g.nodes[id].Title),
			Location:    id,
		})
	}

	// An amendment dated before the document it amends.
	for _, r := range g.edges {
		if r.Type != RelAmends {
			continue
		}
		amending, amended := g.nodes[r.SourceID], g.nodes[r.TargetID]
		if amending.Date != nil && amended.Date != nil && amending.Date.Before(*amended.Date) {
			issues = append(issues, lease.ValidationIssue{
				IssueType: "date_inconsistency",
				Severity:  lease.RiskHigh,
				Description: fmt.Sprintf("%s dated %s cannot amend %s dated %s",
					amending.Title, amending.Date.Format("2006-01-02"),
					amended.Title, amended.Date.Format("2006-01-02")),
				Location: amending.ID,
			})
		}
	}

	// Unresolved cross-document references.
	for _, id := range g.order {
		doc := g.nodes[id]
		for _, ref := range asStringSlice(doc.ExtractedData["cross_references"]) {
			if g.ResolveReference(ref) == "" && looksCrossDocument(ref) {
				issues = append(issues, lease.ValidationIssue{
					IssueType:   "unresolved_document_reference",
					Severity:    lease.RiskMedium,
					Description: fmt.Sprintf("%s contains unresolved reference: %s", doc.Title, ref),
					Location:    doc.ID,
				})
			}
		}
	}

	// Non-base documents with no edges at all.
	degree := make(map[string]int)
	for _, r := range g.edges {
		degree[r.SourceID]++
		degree[r.TargetID]++
	}
	for _, id := range g.order {
		if degree[id] == 0 && g.nodes[id].Type != lease.DocBaseLease {
			issues = append(issues, lease.ValidationIssue{
				IssueType:   "orphaned_document",
				Severity:    lease.RiskMedium,
				Description: fmt.Sprintf("%s has no relationship to any other document", g.nodes[id].Title),
				Location:    id,
			})
		}
	}

	return issues
}

// cyclicAmendmentNodes returns ids on a cycle in the Amends subgraph, in
// insertion order.
func (g *Graph) cyclicAmendmentNodes() []string {
	adj := make(map[string][]string)
	for _, r := range g.edges {
		if r.Type == RelAmends {
			adj[r.SourceID] = append(adj[r.SourceID], r.TargetID)
		}
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int)
	onCycle := make(map[string]bool)

	var visit func(id string, stack []string)
	visit = func(id string, stack []string) {
		state[id] = inStack
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch state[next] {
			case unvisited:
				visit(next, stack)
			case inStack:
				// Everything from next back to the top of the stack
				// is on the cycle.
				for i := len(stack) - 1; i >= 0; i-- {
					onCycle[stack[i]] = true
					if stack[i] == next {
						break
					}
				}
			}
		}
		state[id] = done
	}
	for _, id := range g.order {
		if state[id] == unvisited {
			visit(id, nil)
		}
	}

	var out []string
	for _, id := range g.order {
		if onCycle[id] {
			out = append(out, id)
		}
	}
	return out
}

// looksCrossDocument reports whether a reference mentions another document
// rather than an internal section.
func looksCrossDocument(ref string) bool {
	lower := strings.ToLower(ref)
	for _, kw := range []string{"exhibit", "amendment", "guaranty", "sublease", "lease dated", "agreement"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Export is a serialization-friendly view of the graph.
type Export struct {
	Nodes []ExportNode `json:"nodes"`
	Edges []ExportEdge `json:"edges"`
	Stats ExportStats  `json:"stats"`
}

// ExportStats summarizes the graph's composition.
type ExportStats struct {
	Documents     int            `json:"documents"`
	Relationships int            `json:"relationships"`
	ByType        map[string]int `json:"by_type,omitempty"`
	ByRelation    map[string]int `json:"by_relation,omitempty"`
}

type ExportNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
	Date  string `json:"date,omitempty"`
}

type ExportEdge struct {
	Source           string   `json:"source"`
	Target           string   `json:"target"`
	Type             string   `json:"type"`
	SectionsAffected []string `json:"sections_affected,omitempty"`
}

// ExportGraph renders the graph for callers and visualization.
func (g *Graph) ExportGraph() Export {
	out := Export{Nodes: make([]ExportNode, 0, len(g.order)), Edges: make([]ExportEdge, 0, len(g.edges))}
	for _, id := range g.order {
		doc := g.nodes[id]
		n := ExportNode{ID: doc.ID, Label: doc.Title, Type: string(doc.Type)}
		if doc.Date != nil {
			n.Date = doc.Date.Format(time.RFC3339)
		}
		out.Nodes = append(out.Nodes, n)
	}
	for _, r := range g.edges {
		out.Edges = append(out.Edges, ExportEdge{
			Source:           r.SourceID,
			Target:           r.TargetID,
			Type:             string(r.Type),
			SectionsAffected: r.SectionsAffected,
		})
	}
	out.Stats = ExportStats{Documents: len(g.order), Relationships: len(g.edges)}
	if len(g.order) > 0 {
		out.Stats.ByType = make(map[string]int)
		for _, id := range g.order {
			out.Stats.ByType[string(g.nodes[id].Type)]++
		}
	}
	if len(g.edges) > 0 {
		out.Stats.ByRelation = make(map[string]int)
		for _, r := range g.edges {
			out.Stats.ByRelation[string(r.Type)]++
		}
	}
	return out
}

func dateOrEarliest(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func asStringMap(v any) map[string]string {
	out := make(map[string]string)
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func asStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		var out []string
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
