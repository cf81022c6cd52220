package clausegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaselens/leaselens/internal/lease"
)

func clause(docID, clauseID, section, heading, content, clauseType string) *Node {
	return &Node{
		ClauseID:   clauseID,
		DocID:      docID,
		Section:    section,
		Heading:    heading,
		Content:    content,
		ClauseType: clauseType,
		Confidence: 0.9,
		RiskScore:  lease.RiskLow,
	}
}

func TestAddRelationship_UnknownEndpoint(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "c1", "1", "Rent", "Tenant shall pay rent.", "rent"))

	err := g.AddRelationship(Relationship{Source: "d1:c1", Target: "d1:ghost", Type: RelCrossReference})
	var cerr *ConstructionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "target", cerr.End)
	assert.Empty(t, g.Relationships())
}

func TestExtractRelationships_ResolvesSection(t *testing.T) {
	g := New()
	src := clause("d1", "c1", "2", "Operating Costs",
		"Tenant shall pay its share pursuant to Section 5.1 of this Lease.", "cam")
	g.AddClause(src)
	g.AddClause(clause("d1", "c2", "5.1", "Proportionate Share", "Tenant's share is 12%.", "cam"))

	rels, issues := g.ExtractRelationships(src)
	require.Len(t, rels, 1)
	assert.Empty(t, issues)
	assert.Equal(t, "d1:c1", rels[0].Source)
	assert.Equal(t, "d1:c2", rels[0].Target)
	assert.Equal(t, RelCrossReference, rels[0].Type)
	assert.Contains(t, rels[0].Context, "Section 5.1")
}

func TestExtractRelationships_RelationTypes(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "t1", "3", "Target", "Base provision.", "general"))
	cases := []struct {
		content string
		want    RelationType
	}{
		{"Notwithstanding Section 3, the following applies.", RelModifies},
		{"This right is contingent upon Section 3.", RelDependsOn},
		{"Subject to the terms of Section 3 hereof.", RelSubjectTo},
		{"Incorporating Section 3 by this reference.", RelIncorporates},
		{"This provision supersedes Section 3.", RelSupersedes},
	}
	for i, tc := range cases {
		n := clause("d1", "src"+string(rune('a'+i)), "10", "Source", tc.content, "general")
		g.AddClause(n)
		rels, issues := g.ExtractRelationships(n)
		require.Len(t, rels, 1, "content %q", tc.content)
		assert.Empty(t, issues)
		assert.Equal(t, tc.want, rels[0].Type, "content %q", tc.content)
	}
}

func TestExtractRelationships_BrokenReference(t *testing.T) {
	g := New()
	n := clause("d1", "c1", "2", "Assignment",
		"Assignment is permitted as provided in Section 99.9.", "assignment")
	g.AddClause(n)

	rels, issues := g.ExtractRelationships(n)
	assert.Empty(t, rels)
	require.Len(t, issues, 1)
	assert.Equal(t, "broken_reference", issues[0].IssueType)
	assert.Equal(t, lease.RiskMedium, issues[0].Severity)
	assert.Equal(t, "d1:c1", issues[0].Location)
}

func TestExtractRelationships_IgnoresSelfReference(t *testing.T) {
	g := New()
	n := clause("d1", "c1", "4", "Notices",
		"Notices are given as set forth in Section 4 above.", "notice")
	g.AddClause(n)

	rels, issues := g.ExtractRelationships(n)
	assert.Empty(t, rels)
	assert.Empty(t, issues)
}

func TestBuildRelationships_InsertsEdges(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "c1", "1", "Rent",
		"Rent escalates in accordance with Section 2.", "rent"))
	g.AddClause(clause("d1", "c2", "2", "Escalation", "Three percent per year.", "rent"))

	issues := g.BuildRelationships()
	assert.Empty(t, issues)
	require.Len(t, g.Relationships(), 1)
	assert.Equal(t, "d1:c2", g.Relationships()[0].Target)
}

func TestClauseDependencies_DirectAndIndirect(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "a", "1", "Option", "x", "renewal_option"))
	g.AddClause(clause("d1", "b", "2", "Notice", "x", "notice"))
	g.AddClause(clause("d1", "c", "3", "Addresses", "x", "notice"))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:a", Target: "d1:b", Type: RelDependsOn}))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:b", Target: "d1:c", Type: RelSubjectTo}))
	// Cross-reference edges do not count as dependencies.
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:a", Target: "d1:c", Type: RelCrossReference}))

	deps := g.ClauseDependencies("d1:a", 3)
	assert.Equal(t, []string{"d1:b"}, deps.Direct)
	assert.Equal(t, []string{"d1:c"}, deps.Indirect)
}

func TestClauseDependencies_DepthLimit(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "a", "1", "A", "x", "t"))
	g.AddClause(clause("d1", "b", "2", "B", "x", "t"))
	g.AddClause(clause("d1", "c", "3", "C", "x", "t"))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:a", Target: "d1:b", Type: RelDependsOn}))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:b", Target: "d1:c", Type: RelDependsOn}))

	deps := g.ClauseDependencies("d1:a", 1)
	assert.Equal(t, []string{"d1:b"}, deps.Direct)
	assert.Empty(t, deps.Indirect)
}

func TestFindConflictingClauses_Amounts(t *testing.T) {
	g := New()
	a := clause("d1", "c1", "1", "Deposit", "x", "security_deposit")
	a.ExtractedData = map[string]any{"amount": "5000"}
	b := clause("d1", "c2", "2", "Deposit Redux", "x", "security_deposit")
	b.ExtractedData = map[string]any{"amount": "6000"}
	other := clause("d1", "c3", "3", "Rent", "x", "rent")
	other.ExtractedData = map[string]any{"amount": "9000"}
	g.AddClause(a)
	g.AddClause(b)
	g.AddClause(other)

	conflicts := g.FindConflictingClauses()
	require.Len(t, conflicts, 1)
	assert.Equal(t, "d1:c1", conflicts[0].A.Key())
	assert.Equal(t, "d1:c2", conflicts[0].B.Key())
	assert.Contains(t, conflicts[0].Reason, "conflicting amounts")
}

func TestReadingOrder_Topological(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "a", "1", "A", "x", "t"))
	g.AddClause(clause("d1", "b", "2", "B", "x", "t"))
	g.AddClause(clause("d1", "c", "3", "C", "x", "t"))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:a", Target: "d1:b", Type: RelCrossReference}))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:b", Target: "d1:c", Type: RelCrossReference}))

	order := g.ReadingOrder()
	require.Len(t, order, 3)
	pos := map[string]int{}
	for i, key := range order {
		pos[key] = i
	}
	assert.Less(t, pos["d1:a"], pos["d1:b"])
	assert.Less(t, pos["d1:b"], pos["d1:c"])
}

func TestReadingOrder_CycleReturnsEveryClause(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "a", "1", "A", "x", "t"))
	g.AddClause(clause("d1", "b", "2", "B", "x", "t"))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:a", Target: "d1:b", Type: RelCrossReference}))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:b", Target: "d1:a", Type: RelCrossReference}))

	order := g.ReadingOrder()
	assert.ElementsMatch(t, []string{"d1:a", "d1:b"}, order)
}

func TestFindCrossDocumentRelationships(t *testing.T) {
	g := New()
	g.AddClause(clause("lease", "c1", "7",
		"Work Letter", "Improvements are built pursuant to the Work Agreement Section 3.1.", "improvements"))
	g.AddClause(clause("work", "c1", "3.1", "Scope", "Landlord builds the shell.", "improvements"))
	g.AddClause(clause("lease", "c2", "8", "Missing",
		"As defined in the Parking Agreement Section 2.", "parking"))

	resolve := func(mention string) string {
		switch mention {
		case "Work Agreement":
			return "work"
		default:
			return ""
		}
	}
	added, issues := g.FindCrossDocumentRelationships(resolve)
	require.Len(t, added, 1)
	assert.Equal(t, "lease:c1", added[0].Source)
	assert.Equal(t, "work:c1", added[0].Target)
	assert.True(t, added[0].CrossDocument)
	assert.Empty(t, issues, "unresolvable mention resolves to no document, not an issue")
}

func TestFindCrossDocumentRelationships_UnresolvedSection(t *testing.T) {
	g := New()
	g.AddClause(clause("lease", "c1", "7", "Work Letter",
		"Built pursuant to the Work Agreement Section 9.9.", "improvements"))
	g.AddClause(clause("work", "c1", "3.1", "Scope", "x", "improvements"))

	added, issues := g.FindCrossDocumentRelationships(func(string) string { return "work" })
	assert.Empty(t, added)
	require.Len(t, issues, 1)
	assert.Equal(t, "unresolved_document_reference", issues[0].IssueType)
}

func TestCalculatePageRank_ReferencedClauseRanksHighest(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "a", "1", "A", "x", "t"))
	g.AddClause(clause("d1", "b", "2", "B", "x", "t"))
	g.AddClause(clause("d1", "hub", "3", "Definitions", "x", "definitions"))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:a", Target: "d1:hub", Type: RelCrossReference}))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:b", Target: "d1:hub", Type: RelCrossReference}))

	rank := g.CalculatePageRank()
	assert.Greater(t, rank["d1:hub"], rank["d1:a"])
	assert.Greater(t, rank["d1:hub"], rank["d1:b"])
	assert.InDelta(t, rank["d1:a"], rank["d1:b"], 1e-9)
}

func TestFindHubClauses_LimitAndOrder(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "a", "1", "A", "x", "t"))
	g.AddClause(clause("d1", "b", "2", "B", "x", "t"))
	g.AddClause(clause("d1", "hub", "3", "Definitions", "x", "definitions"))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:a", Target: "d1:hub", Type: RelCrossReference}))
	require.NoError(t, g.AddRelationship(Relationship{Source: "d1:b", Target: "d1:hub", Type: RelCrossReference}))

	hubs := g.FindHubClauses(2)
	require.Len(t, hubs, 2)
	assert.Equal(t, "d1:hub", hubs[0].Key)
}

func TestFindHubClauses_NoEdgesInDegreeFallback(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "a", "1", "A", "x", "t"))
	g.AddClause(clause("d1", "b", "2", "B", "x", "t"))

	hubs := g.FindHubClauses(10)
	require.Len(t, hubs, 2)
	assert.Equal(t, "d1:a", hubs[0].Key, "edgeless graphs keep insertion order")
}

func TestFindClauseClusters_TwoComponents(t *testing.T) {
	g := New()
	for _, id := range []string{"a", "b", "c", "x", "y", "z"} {
		g.AddClause(clause("d1", id, id, id, "body", "t"))
	}
	triangle := func(ids [3]string) {
		for i := range ids {
			src, dst := "d1:"+ids[i], "d1:"+ids[(i+1)%3]
			require.NoError(t, g.AddRelationship(Relationship{Source: src, Target: dst, Type: RelCrossReference}))
		}
	}
	triangle([3]string{"a", "b", "c"})
	triangle([3]string{"x", "y", "z"})

	clusters := g.FindClauseClusters()
	require.Len(t, clusters, 2)
	var all []string
	for _, c := range clusters {
		assert.Len(t, c, 3)
		all = append(all, c...)
	}
	assert.ElementsMatch(t, []string{"d1:a", "d1:b", "d1:c", "d1:x", "d1:y", "d1:z"}, all)
}

func TestFindClauseClusters_NoEdgesSingletons(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "a", "1", "A", "x", "t"))
	g.AddClause(clause("d1", "b", "2", "B", "x", "t"))

	clusters := g.FindClauseClusters()
	assert.Equal(t, [][]string{{"d1:a"}, {"d1:b"}}, clusters)
}

func TestExportClauseMap(t *testing.T) {
	g := New()
	g.AddClause(clause("d1", "c1", "1", "Rent",
		"Rent is payable in accordance with Section 2.", "rent"))
	g.AddClause(clause("d1", "c2", "2", "Payment", "Wire transfer.", "rent"))
	g.BuildRelationships()

	export := g.ExportClauseMap()
	require.Len(t, export.Nodes, 2)
	assert.Equal(t, "1: Rent", export.Nodes[0].Label)
	assert.Len(t, export.Edges, 1)
	assert.Len(t, export.ReadingOrder, 2)
	assert.NotEmpty(t, export.HubClauses)
}
