// Package clausegraph builds a directed graph of clause relationships
// within and across documents: cross-references, modifications,
// dependencies, and conflicts, plus the analyses layered on top (hub
// ranking, clustering, reading order).
package clausegraph

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/leaselens/leaselens/internal/lease"
)

// RelationType classifies a directed clause-to-clause edge.
type RelationType string

const (
	RelCrossReference RelationType = "cross_reference"
	RelModifies       RelationType = "modifies"
	RelDependsOn      RelationType = "depends_on"
	RelIncorporates   RelationType = "incorporates"
	RelConflictsWith  RelationType = "conflicts_with"
	RelSupersedes     RelationType = "supersedes"
	RelTriggers       RelationType = "triggers"
	RelExcludes       RelationType = "excludes"
	RelSubjectTo      RelationType = "subject_to"
)

// Node is one clause in the graph.
type Node struct {
	ClauseID      string         `json:"clause_id"`
	DocID         string         `json:"doc_id"`
	Section       string         `json:"section"`
	Heading       string         `json:"heading"`
	Content       string         `json:"content"`
	ClauseType    string         `json:"clause_type"`
	PageStart     int            `json:"page_start"`
	PageEnd       int            `json:"page_end"`
	ExtractedData map[string]any `json:"extracted_data,omitempty"`
	RiskScore     lease.RiskLevel `json:"risk_score"`
	Confidence    float64        `json:"confidence"`
}

// Key returns the globally unique node key.
func (n *Node) Key() string { return n.DocID + ":" + n.ClauseID }

// Relationship is one directed edge.
type Relationship struct {
	Source        string       `json:"source"`
	Target        string       `json:"target"`
	Type          RelationType `json:"type"`
	Strength      float64      `json:"strength"`
	Context       string       `json:"context,omitempty"`
	CrossDocument bool         `json:"cross_document,omitempty"`
}

// ConstructionError reports an edge referencing an unknown clause key.
type ConstructionError struct {
	Key string
	End string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("clausegraph: %s clause %q not found", e.End, e.Key)
}

// referencePattern maps a reference phrase to the relationship it implies.
// The section capture group is always group 1.
type referencePattern struct {
	re       *regexp.Regexp
	relation RelationType
	strength float64
}

// defaultReferencePatterns is the fixed phrase table for same-document
// references. Passed into newWithPatterns so tests can substitute a
// smaller table.
func defaultReferencePatterns() []referencePattern {
	return []referencePattern{
		{regexp.MustCompile(`(?i)(?:as defined in|pursuant to|in accordance with)\s+section\s+(\d+(?:\.\d+)*)`), RelCrossReference, 0.9},
		{regexp.MustCompile(`(?i)(?:as set forth in|as provided in|as described in)\s+section\s+(\d+(?:\.\d+)*)`), RelCrossReference, 0.9},
		{regexp.MustCompile(`(?i)(?:notwithstanding|except as provided in|modified by)\s+section\s+(\d+(?:\.\d+)*)`), RelModifies, 0.9},
		{regexp.MustCompile(`(?i)(?:contingent upon|dependent on|requires compliance with)\s+section\s+(\d+(?:\.\d+)*)`), RelDependsOn, 0.9},
		{regexp.MustCompile(`(?i)(?:incorporating|including by reference|incorporates)\s+section\s+(\d+(?:\.\d+)*)`), RelIncorporates, 0.9},
		{regexp.MustCompile(`(?i)subject to(?:\s+the\s+terms\s+of)?\s+section\s+(\d+(?:\.\d+)*)`), RelSubjectTo, 0.9},
		{regexp.MustCompile(`(?i)(?:supersedes|replaces)\s+section\s+(\d+(?:\.\d+)*)`), RelSupersedes, 0.9},
		{regexp.MustCompile(`(?i)(?:references|see)\s+section\s+(\d+(?:\.\d+)*)`), RelCrossReference, 0.7},
	}
}

// Graph is the clause-relationship graph. Built once per run after all
// extraction tasks join; not safe for concurrent mutation.
type Graph struct {
	nodes    map[string]*Node
	order    []string
	edges    []Relationship
	outEdges map[string][]int
	inEdges  map[string][]int
	patterns []referencePattern
}

func New() *Graph {
	return newWithPatterns(defaultReferencePatterns())
}

func newWithPatterns(patterns []referencePattern) *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		outEdges: make(map[string][]int),
		inEdges:  make(map[string][]int),
		patterns: patterns,
	}
}

// AddClause registers a clause node and returns its key.
func (g *Graph) AddClause(n *Node) string {
	key := n.Key()
	if _, exists := g.nodes[key]; !exists {
		g.order = append(g.order, key)
	}
	g.nodes[key] = n
	return key
}

// AddRelationship inserts an edge, rejecting unknown endpoints.
func (g *Graph) AddRelationship(r Relationship) error {
	if _, ok := g.nodes[r.Source]; !ok {
		return &ConstructionError{Key: r.Source, End: "source"}
	}
	if _, ok := g.nodes[r.Target]; !ok {
		return &ConstructionError{Key: r.Target, End: "target"}
	}
	idx := len(g.edges)
	g.edges = append(g.edges, r)
	g.outEdges[r.Source] = append(g.outEdges[r.Source], idx)
	g.inEdges[r.Target] = append(g.inEdges[r.Target], idx)
	return nil
}

// Clause returns a node by key.
func (g *Graph) Clause(key string) (*Node, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

// Keys returns all node keys in insertion order.
func (g *Graph) Keys() []string { return append([]string(nil), g.order...) }

// Relationships returns all edges in insertion order.
func (g *Graph) Relationships() []Relationship {
	return append([]Relationship(nil), g.edges...)
}

// ExtractRelationships scans one clause's content for reference phrases.
// Matches resolving to a known same-document section become edges;
// unresolved matches are recorded as validation issues, never dropped
// silently.
func (g *Graph) ExtractRelationships(n *Node) ([]Relationship, []lease.ValidationIssue) {
	var rels []Relationship
	var issues []lease.ValidationIssue

	for _, p := range g.patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(n.Content, -1) {
			section := n.Content[m[2]:m[3]]
			ctxStart := max(0, m[0]-50)
			ctxEnd := min(len(n.Content), m[1]+50)
			context := n.Content[ctxStart:ctxEnd]

			target := g.findBySection(n.DocID, section)
			if target == nil {
				issues = append(issues, lease.ValidationIssue{
					IssueType:   "broken_reference",
					Severity:    lease.RiskMedium,
					Description: fmt.Sprintf("clause %s references Section %s which has no node", n.Key(), section),
					Location:    n.Key(),
					Actual:      context,
				})
				continue
			}
			if target.Key() == n.Key() {
				continue
			}
			rels = append(rels, Relationship{
				Source:   n.Key(),
				Target:   target.Key(),
				Type:     p.relation,
				Strength: p.strength,
				Context:  context,
			})
		}
	}
	return rels, issues
}

// BuildRelationships extracts and inserts edges for every clause, in
// insertion order. Returns the unresolved-reference issues.
func (g *Graph) BuildRelationships() []lease.ValidationIssue {
	var issues []lease.ValidationIssue
	for _, key := range g.order {
		rels, nodeIssues := g.ExtractRelationships(g.nodes[key])
		issues = append(issues, nodeIssues...)
		for _, r := range rels {
			// Endpoints were just resolved against the node set.
			_ = g.AddRelationship(r)
		}
	}
	return issues
}

func (g *Graph) findBySection(docID, section string) *Node {
	for _, key := range g.order {
		n := g.nodes[key]
		if n.DocID == docID && n.Section == section {
			return n
		}
	}
	return nil
}

// Dependencies separates direct from indirect dependencies reachable
// through DependsOn, SubjectTo, and Incorporates edges within depth hops.
type Dependencies struct {
	Direct   []string `json:"direct"`
	Indirect []string `json:"indirect"`
}

func (g *Graph) ClauseDependencies(key string, depth int) Dependencies {
	direct := make(map[string]bool)
	indirect := make(map[string]bool)
	g.collectDeps(key, depth, true, direct, indirect)

	return Dependencies{
		Direct:   sortedSet(direct),
		Indirect: sortedSet(indirect),
	}
}

func (g *Graph) collectDeps(key string, depth int, first bool, direct, indirect map[string]bool) {
	if depth <= 0 {
		return
	}
	for _, idx := range g.outEdges[key] {
		e := g.edges[idx]
		switch e.Type {
		case RelDependsOn, RelSubjectTo, RelIncorporates:
		default:
			continue
		}
		if first {
			if !direct[e.Target] {
				direct[e.Target] = true
				g.collectDeps(e.Target, depth-1, false, direct, indirect)
			}
		} else if !direct[e.Target] && !indirect[e.Target] {
			indirect[e.Target] = true
			g.collectDeps(e.Target, depth-1, false, direct, indirect)
		}
	}
}

// Conflict pairs two same-typed clauses with contradictory values.
type Conflict struct {
	A      *Node  `json:"a"`
	B      *Node  `json:"b"`
	Reason string `json:"reason"`
}

// FindConflictingClauses compares same-typed clauses pairwise for amount,
// date, or same-party opposite-obligation mismatches.
func (g *Graph) FindConflictingClauses() []Conflict {
	byType := make(map[string][]*Node)
	var typeOrder []string
	for _, key := range g.order {
		n := g.nodes[key]
		if _, seen := byType[n.ClauseType]; !seen {
			typeOrder = append(typeOrder, n.ClauseType)
		}
		byType[n.ClauseType] = append(byType[n.ClauseType], n)
	}

	var conflicts []Conflict
	for _, ct := range typeOrder {
		group := byType[ct]
		for i, a := range group {
			for _, b := range group[i+1:] {
				if reason := checkConflict(a, b); reason != "" {
					conflicts = append(conflicts, Conflict{A: a, B: b, Reason: reason})
				}
			}
		}
	}
	return conflicts
}

func checkConflict(a, b *Node) string {
	da, db := a.ExtractedData, b.ExtractedData
	if da == nil || db == nil {
		return ""
	}

	if va, ok := da["amount"]; ok {
		if vb, ok := db["amount"]; ok && fmt.Sprint(va) != fmt.Sprint(vb) {
			return fmt.Sprintf("conflicting amounts: %v vs %v", va, vb)
		}
	}
	if va, ok := da["effective_date"]; ok {
		if vb, ok := db["effective_date"]; ok && fmt.Sprint(va) != fmt.Sprint(vb) {
			return fmt.Sprintf("conflicting dates: %v vs %v", va, vb)
		}
	}
	// Same party, same action, opposite permission.
	if fmt.Sprint(da["party"]) == fmt.Sprint(db["party"]) &&
		da["party"] != nil && da["action"] != nil &&
		fmt.Sprint(da["action"]) == fmt.Sprint(db["action"]) &&
		fmt.Sprint(da["prohibited"]) != fmt.Sprint(db["prohibited"]) {
		return "conflicting obligations for same party and action"
	}
	return ""
}

// ReadingOrder topologically sorts the graph along reference direction.
// On a cycle it falls back to ordering by (in-degree, out-degree)
// ascending; it always returns a full permutation of the node keys and
// never fails.
func (g *Graph) ReadingOrder() []string {
	if len(g.order) == 0 {
		return nil
	}

	inDeg := make(map[string]int, len(g.order))
	for _, key := range g.order {
		inDeg[key] = len(g.inEdges[key])
	}

	var queue []string
	for _, key := range g.order {
		if inDeg[key] == 0 {
			queue = append(queue, key)
		}
	}

	out := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		out = append(out, key)
		for _, idx := range g.outEdges[key] {
			t := g.edges[idx].Target
			inDeg[t]--
			if inDeg[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	if len(out) == len(g.order) {
		return out
	}

	// Cycle: degree-based fallback over all nodes.
	fallback := append([]string(nil), g.order...)
	sort.SliceStable(fallback, func(i, j int) bool {
		a, b := fallback[i], fallback[j]
		if len(g.inEdges[a]) != len(g.inEdges[b]) {
			return len(g.inEdges[a]) < len(g.inEdges[b])
		}
		return len(g.outEdges[a]) < len(g.outEdges[b])
	})
	return fallback
}

var crossDocPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:as defined in|pursuant to)\s+(?:the\s+)?(\w+(?:\s+\w+)?\s+(?:agreement|lease|amendment))\s+section\s+(\d+(?:\.\d+)*)`),
	regexp.MustCompile(`(?i)(exhibit\s+[a-z0-9]+)\s+section\s+(\d+(?:\.\d+)*)`),
}

// ResolveDocRef maps a free-text document mention to a document id, or ""
// when unresolvable.
type ResolveDocRef func(mention string) string

// FindCrossDocumentRelationships resolves document-qualified references
// ("Exhibit A Section 2.1") against sibling documents' clause sets and
// inserts the resulting edges. Unresolved mentions come back as issues.
func (g *Graph) FindCrossDocumentRelationships(resolve ResolveDocRef) ([]Relationship, []lease.ValidationIssue) {
	var added []Relationship
	var issues []lease.ValidationIssue

	for _, key := range g.order {
		n := g.nodes[key]
		for _, re := range crossDocPatterns {
			for _, m := range re.FindAllStringSubmatch(n.Content, -1) {
				docMention, section := m[1], m[2]
				docID := resolve(docMention)
				if docID == "" || docID == n.DocID {
					continue
				}
				target := g.findBySection(docID, section)
				if target == nil {
					issues = append(issues, lease.ValidationIssue{
						IssueType: "unresolved_document_reference",
						Severity:  lease.RiskMedium,
						Description: fmt.Sprintf("clause %s references %s Section %s with no matching clause",
							n.Key(), docMention, section),
						Location: n.Key(),
					})
					continue
				}
				r := Relationship{
					Source:        n.Key(),
					Target:        target.Key(),
					Type:          RelCrossReference,
					Strength:      0.8,
					CrossDocument: true,
				}
				if err := g.AddRelationship(r); err == nil {
					added = append(added, r)
				}
			}
		}
	}
	return added, issues
}

// Export is a serialization-friendly view including the derived analyses.
type Export struct {
	Nodes        []ExportNode   `json:"nodes"`
	Edges        []Relationship `json:"edges"`
	Clusters     [][]string     `json:"clusters"`
	HubClauses   []Hub          `json:"hub_clauses"`
	ReadingOrder []string       `json:"reading_order"`
}

type ExportNode struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	RiskScore string `json:"risk_score"`
	DocID     string `json:"doc_id"`
}

// ExportClauseMap renders the graph with clusters, hubs, and reading order.
func (g *Graph) ExportClauseMap() Export {
	out := Export{
		Nodes:        make([]ExportNode, 0, len(g.order)),
		Edges:        g.Relationships(),
		Clusters:     g.FindClauseClusters(),
		HubClauses:   g.FindHubClauses(10),
		ReadingOrder: g.ReadingOrder(),
	}
	for _, key := range g.order {
		n := g.nodes[key]
		out.Nodes = append(out.Nodes, ExportNode{
			ID:        key,
			Label:     fmt.Sprintf("%s: %s", n.Section, n.Heading),
			Type:      n.ClauseType,
			RiskScore: string(n.RiskScore),
			DocID:     n.DocID,
		})
	}
	return out
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
