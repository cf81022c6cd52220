// Package pipeline runs the four-pass extraction over a segmented document:
// a structural pass that builds document-wide context, a contextual pass
// that produces clause candidates, a specialized pass that adds
// category-specific fields, and a reconciliation pass that links
// cross-references and deduplicates candidates.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leaselens/leaselens/internal/lease"
	"github.com/leaselens/leaselens/internal/oracle"
	"github.com/leaselens/leaselens/internal/reconcile"
	"github.com/leaselens/leaselens/internal/segment"
)

// ErrEmptyDocument is returned when a document has no usable content after
// every segmentation fallback. It wraps the segmenter's sentinel so callers
// can test with errors.Is either way.
var ErrEmptyDocument = segment.ErrEmptyDocument

// Config controls pipeline behavior.
type Config struct {
	MaxConcurrent int // Fan-out limit for per-leaf tasks.
	Segmenter     segment.Config
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 6,
		Segmenter:     segment.DefaultConfig(),
	}
}

// Pipeline orchestrates the four passes. The structural and contextual
// passes may be backed by differently prompted oracles; both go through
// guards.
type Pipeline struct {
	structural *oracle.Guard
	contextual *oracle.Guard
	logger     *slog.Logger
	cfg        Config
}

func New(structural, contextual *oracle.Guard, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		structural: structural,
		contextual: contextual,
		logger:     logger.With("component", "pipeline"),
		cfg:        cfg,
	}
}

// Cleanup drops expired oracle cache entries on both guards.
func (p *Pipeline) Cleanup() {
	if p.structural != nil {
		p.structural.CleanupCache()
	}
	if p.contextual != nil && p.contextual != p.structural {
		p.contextual.CleanupCache()
	}
}

// Telemetry summarizes one pipeline run.
type Telemetry struct {
	TotalNodes      int            `json:"total_nodes"`
	LeafNodes       int            `json:"leaf_nodes"`
	OracleCalls     int64          `json:"oracle_calls"`
	OracleFailures  int64          `json:"oracle_failures"`
	DegradedClauses int            `json:"degraded_clauses"`
	ProcessingMs    int64          `json:"processing_ms"`
	Categories      map[string]int `json:"categories,omitempty"`
	RiskLevels      map[string]int `json:"risk_levels,omitempty"`
}

// Result is the output of one document run.
type Result struct {
	DocID     string                            `json:"doc_id"`
	Clauses   map[string]*lease.ExtractedClause `json:"clauses"`
	Context   *StructuralContext                `json:"structural_context"`
	Tree      *segment.Tree                     `json:"-"`
	Warnings  []string                          `json:"warnings,omitempty"`
	Telemetry Telemetry                         `json:"telemetry"`
}

// candidate pairs a clause with the AST node it came from, so the
// reconciliation pass can detect parent/child overlaps.
type candidate struct {
	node   int
	clause *lease.ExtractedClause
}

// Run executes all four passes for one document.
func (p *Pipeline) Run(ctx context.Context, doc lease.Document) (*Result, error) {
	start := time.Now()

	tree, err := segment.Build(doc.Text, p.cfg.Segmenter)
	if err != nil {
		return nil, fmt.Errorf("segment document %s: %w", doc.ID, err)
	}
	leaves := tree.Leaves()
	p.logger.Info("document segmented",
		"doc_id", doc.ID, "nodes", len(tree.Nodes), "leaves", len(leaves))

	builder := newContextBuilder()
	cands := p.extractPass(ctx, doc, tree, builder)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	sctx := builder.snapshot()

	// Pass 3: local, sequential per candidate.
	categories := make(map[string]int)
	for _, c := range cands {
		cat := runSpecialized(c.clause)
		categories[cat.String()]++
	}

	// Pass 4.
	warnings := p.resolveCrossRefs(tree, builder, cands)
	warnings = append(warnings, validateDateOrder(sctx, cands)...)
	clauses := p.dedupe(tree, cands)

	tel := Telemetry{
		TotalNodes:   len(tree.Nodes),
		LeafNodes:    len(leaves),
		ProcessingMs: time.Since(start).Milliseconds(),
		Categories:   categories,
		RiskLevels:   make(map[string]int),
	}
	if p.structural != nil {
		snap := p.structural.Telemetry().Snapshot()
		tel.OracleCalls += snap.Calls
		tel.OracleFailures += snap.Failures
	}
	if p.contextual != nil && p.contextual != p.structural {
		snap := p.contextual.Telemetry().Snapshot()
		tel.OracleCalls += snap.Calls
		tel.OracleFailures += snap.Failures
	}
	for _, c := range clauses {
		if c.ErrorFlag {
			tel.DegradedClauses++
		}
		for _, rt := range c.RiskTags {
			tel.RiskLevels[string(rt.Level)]++
		}
	}

	return &Result{
		DocID:     doc.ID,
		Clauses:   clauses,
		Context:   sctx,
		Tree:      tree,
		Warnings:  append(warnings, sctx.Warnings...),
		Telemetry: tel,
	}, nil
}

// extractPass runs passes 1 and 2 over the leaf set with bounded fan-out.
// Sibling subtrees run concurrently; within a subtree the parent's own
// content leaf is processed first so its structural facts are folded into
// the shared context before any child starts (top-down propagation).
func (p *Pipeline) extractPass(ctx context.Context, doc lease.Document, tree *segment.Tree, builder *contextBuilder) []candidate {
	leaves := tree.Leaves()
	slot := make(map[int]int, len(leaves))
	for i, id := range leaves {
		slot[id] = i
	}
	out := make([]*lease.ExtractedClause, len(leaves))

	var process func(ctx context.Context, id int) error
	process = func(ctx context.Context, id int) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if tree.IsLeaf(id) {
			out[slot[id]] = p.processLeaf(ctx, doc, tree, id, builder)
			return ctx.Err()
		}

		children := tree.Nodes[id].Children
		// An interior node's own text lives in its intro leaf (first
		// child, empty heading). Fold it before fanning out siblings.
		if len(children) > 0 {
			first := children[0]
			if tree.IsLeaf(first) && tree.Nodes[first].Heading == "" {
				if err := process(ctx, first); err != nil {
					return err
				}
				children = children[1:]
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.MaxConcurrent)
		for _, c := range children {
			c := c
			g.Go(func() error { return process(gctx, c) })
		}
		return g.Wait()
	}
	if err := process(ctx, tree.Root()); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("extract pass ended early", "doc_id", doc.ID, "error", err)
	}

	// Slots keep document order regardless of completion order.
	cands := make([]candidate, 0, len(leaves))
	for i, c := range out {
		if c == nil {
			continue
		}
		cands = append(cands, candidate{node: leaves[i], clause: c})
	}
	return cands
}

// processLeaf runs the structural then the contextual call for one leaf.
// Oracle failures degrade the leaf's clause; they never propagate.
func (p *Pipeline) processLeaf(ctx context.Context, doc lease.Document, tree *segment.Tree, id int, builder *contextBuilder) *lease.ExtractedClause {
	n := tree.Nodes[id]
	if strings.TrimSpace(n.Content) == "" {
		return nil
	}
	hier := tree.Hierarchy(id)
	section := n.Heading
	if section == "" && len(hier) > 0 {
		section = hier[len(hier)-1]
	}
	parentHeading := ""
	if n.Parent >= 0 {
		parentHeading = tree.Nodes[n.Parent].Heading
	}

	req := oracle.Request{
		Content:       n.Content,
		Heading:       n.Heading,
		ParentHeading: parentHeading,
		PageStart:     n.PageStart,
		PageEnd:       n.PageEnd,
	}

	// Pass 1: structural facts, folded into the shared context.
	sres, err := p.structural.Extract(ctx, req)
	if err != nil {
		builder.warn(fmt.Sprintf("structural pass failed for %q: %v", section, err))
	} else {
		builder.fold(parseLeafFacts(section, sres))
	}

	// Pass 2: clause candidate, given the partial context known so far.
	slice := builder.snapshot()
	creq := req
	if ctxText := slice.promptSlice(); ctxText != "" {
		creq.Content = "Known document context:\n" + ctxText + "---\n" + req.Content
	}
	cres, err := p.contextual.Extract(ctx, creq)
	if err != nil {
		return degradedClause(doc, tree, id, hier, err)
	}

	clause := &lease.ExtractedClause{
		ClauseType:       cres.ClauseType,
		Content:          cres.Justification,
		RawExcerpt:       n.Content,
		Confidence:       cres.Confidence,
		RiskTags:         cres.RiskFlags,
		StructuredData:   cres.KeyValues,
		NeedsReview:      cres.Confidence < 0.6,
		FieldID:          fmt.Sprintf("%s#%d", doc.ID, id),
		SectionHierarchy: hier,
		DetectionMethod:  "oracle_extraction",
		PageStart:        n.PageStart,
		PageEnd:          n.PageEnd,
	}
	if clause.Content == "" {
		clause.Content = oracle.TruncateAtSentence(n.Content, 300)
	}

	rewriteRoles(clause, slice.PartyNames)
	return clause
}

// rewriteRoles replaces generic role references ("Landlord", "Tenant") with
// the resolved party names and records each substitution.
func rewriteRoles(c *lease.ExtractedClause, parties map[string]string) {
	if len(parties) == 0 {
		return
	}
	roles := make([]string, 0, len(parties))
	for r := range parties {
		roles = append(roles, r)
	}
	sort.Strings(roles)

	for _, role := range roles {
		name := parties[role]
		title := titleRole(role)
		if name == "" || !strings.Contains(c.Content, title) {
			continue
		}
		c.Content = strings.ReplaceAll(c.Content, title, name)
		if c.Substitutions == nil {
			c.Substitutions = make(map[string]string)
		}
		c.Substitutions[title] = name
	}
}

// titleRole capitalizes a single-word role the way lease text writes it.
func titleRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

// degradedClause recovers an oracle failure into a reviewable record.
func degradedClause(doc lease.Document, tree *segment.Tree, id int, hier []string, err error) *lease.ExtractedClause {
	n := tree.Nodes[id]
	return &lease.ExtractedClause{
		ClauseType:       "unknown",
		Content:          oracle.TruncateAtSentence(n.Content, 200),
		RawExcerpt:       n.Content,
		Confidence:       0,
		NeedsReview:      true,
		ErrorFlag:        true,
		ErrorType:        errorType(err),
		FieldID:          fmt.Sprintf("%s#%d", doc.ID, id),
		SectionHierarchy: hier,
		DetectionMethod:  "degraded",
		PageStart:        n.PageStart,
		PageEnd:          n.PageEnd,
	}
}

func errorType(err error) string {
	var timeout *oracle.TimeoutError
	if errors.As(err, &timeout) {
		return "oracle_timeout"
	}
	var malformed *oracle.MalformedError
	if errors.As(err, &malformed) {
		return "oracle_malformed_response"
	}
	return "oracle_error"
}

// resolveCrossRefs turns pass-1 cross-reference mentions into clause links
// when the target section exists in this document. Unresolved mentions
// become warnings for the consistency checker to surface.
func (p *Pipeline) resolveCrossRefs(tree *segment.Tree, builder *contextBuilder, cands []candidate) []string {
	sections := make(map[string]bool)
	tree.Walk(func(_ int, n *segment.Node) {
		if n.Heading != "" {
			sections[normalizeSection(n.Heading)] = true
		}
	})

	bySection := make(map[string]*lease.ExtractedClause)
	for _, c := range cands {
		if len(c.clause.SectionHierarchy) > 0 {
			bySection[normalizeSection(c.clause.SectionHierarchy[len(c.clause.SectionHierarchy)-1])] = c.clause
		}
	}

	var warnings []string
	for _, ref := range builder.crossRefs() {
		target := normalizeSection(ref.mention)
		resolved := sections[target]
		if !resolved {
			for s := range sections {
				if strings.Contains(s, target) || strings.Contains(target, s) {
					resolved = true
					break
				}
			}
		}
		if !resolved {
			warnings = append(warnings, fmt.Sprintf("unresolved cross-reference %q in %q", ref.mention, ref.fromSection))
			continue
		}
		src, ok := bySection[normalizeSection(ref.fromSection)]
		if !ok {
			continue
		}
		src.CrossReferences = append(src.CrossReferences, lease.ClauseRef{
			TargetSection: ref.mention,
			Relationship:  "cross_reference",
		})
	}
	sort.Strings(warnings)
	return warnings
}

func normalizeSection(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validateDateOrder flags clauses whose structured dates put a
// commencement at or after an expiration.
func validateDateOrder(sctx *StructuralContext, cands []candidate) []string {
	var warnings []string
	for _, c := range cands {
		sd := c.clause.StructuredData
		if sd == nil {
			continue
		}
		commence, okC := dateField(sd, "commencement")
		expire, okE := dateField(sd, "expiration")
		if okC && okE && !commence.Before(expire) {
			c.clause.NeedsReview = true
			c.clause.ValidationNotes = append(c.clause.ValidationNotes,
				fmt.Sprintf("commencement date %s is not before expiration date %s",
					commence.Format("2006-01-02"), expire.Format("2006-01-02")))
			warnings = append(warnings, fmt.Sprintf("date ordering violation in %q", c.clause.ClauseType))
		}
	}

	// Document-level check over the merged key dates.
	if commence, okC := dateValue(sctx.KeyDates, "commencement"); okC {
		if expire, okE := dateValue(sctx.KeyDates, "expiration"); okE && !commence.Before(expire) {
			warnings = append(warnings, "document commencement date is not before expiration date")
		}
	}
	return warnings
}

func dateField(sd map[string]any, keyword string) (time.Time, bool) {
	for k, v := range sd {
		if !strings.Contains(strings.ToLower(k), keyword) {
			continue
		}
		if s, ok := v.(string); ok {
			if t, ok := ParseDate(s); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func dateValue(dates map[string]string, keyword string) (time.Time, bool) {
	for k, v := range dates {
		if strings.Contains(strings.ToLower(k), keyword) {
			if t, ok := ParseDate(v); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

var dateLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"1/2/2006",
	"01/02/2006",
	"1-2-2006",
}

// ParseDate tries the date formats that show up in lease text.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dedupe is the reconciliation pass proper: hierarchical parent/child
// merges first, then flat dedup by clause-type key.
func (p *Pipeline) dedupe(tree *segment.Tree, cands []candidate) map[string]*lease.ExtractedClause {
	// Group same-key candidates and merge ancestor/descendant pairs.
	byKey := make(map[string][]candidate)
	var order []string
	for _, c := range cands {
		key := c.clause.Key()
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], c)
	}

	var flat []*lease.ExtractedClause
	for _, key := range order {
		group := byKey[key]
		merged := mergeHierarchy(tree, group)
		for _, c := range merged {
			flat = append(flat, c.clause)
		}
	}
	// First-seen order for tie-breaks is document position, not the
	// order extraction tasks happened to finish in.
	reconcile.SortCandidates(flat)
	return reconcile.Dedupe(flat)
}

// mergeHierarchy collapses candidates whose AST nodes are in an
// ancestor/descendant relation into a single reconciled record.
func mergeHierarchy(tree *segment.Tree, group []candidate) []candidate {
	out := make([]candidate, 0, len(group))
	for _, c := range group {
		mergedInto := -1
		for i, kept := range out {
			if isAncestor(tree, kept.node, c.node) {
				out[i].clause = reconcile.MergeHierarchical(kept.clause, c.clause)
				mergedInto = i
				break
			}
			if isAncestor(tree, c.node, kept.node) {
				out[i].clause = reconcile.MergeHierarchical(c.clause, kept.clause)
				mergedInto = i
				break
			}
		}
		if mergedInto < 0 {
			out = append(out, c)
		}
	}
	return out
}

// isAncestor reports whether a is a proper ancestor of b, treating a leaf's
// siblings under the same parent as unrelated. An intro leaf stands in for
// its parent, so it counts as an ancestor of the parent's other descendants.
func isAncestor(tree *segment.Tree, a, b int) bool {
	aNode := a
	if tree.IsLeaf(a) && tree.Nodes[a].Heading == "" && tree.Nodes[a].Parent >= 0 {
		aNode = tree.Nodes[a].Parent
	}
	if aNode == b {
		return false
	}
	for cur := tree.Nodes[b].Parent; cur >= 0; cur = tree.Nodes[cur].Parent {
		if cur == aNode {
			return true
		}
	}
	return false
}
