package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leaselens/leaselens/internal/clausegraph"
	"github.com/leaselens/leaselens/internal/config"
	"github.com/leaselens/leaselens/internal/consistency"
	"github.com/leaselens/leaselens/internal/docgraph"
	"github.com/leaselens/leaselens/internal/lease"
	"github.com/leaselens/leaselens/internal/oracle"
	"github.com/leaselens/leaselens/internal/parser"
	"github.com/leaselens/leaselens/internal/similarity"
)

// RunOutput is the full result set of one analysis run.
type RunOutput struct {
	Documents map[string]*Result `json:"documents"`

	DocumentGraph docgraph.Export                      `json:"document_graph"`
	Amendments    []*docgraph.AmendmentResult          `json:"amendments,omitempty"`
	DefinedTerms  map[string][]docgraph.TermDefinition `json:"defined_terms,omitempty"`

	ClauseMap clausegraph.Export `json:"clause_map"`

	DuplicateClauses     [][]string                  `json:"duplicate_clauses,omitempty"`
	OutlierClauses       []string                    `json:"outlier_clauses,omitempty"`
	CrossDocumentMatches []similarity.Match          `json:"cross_document_matches,omitempty"`
	StandardClauses      []similarity.StandardClause `json:"standard_clauses,omitempty"`

	Consistency consistency.Report      `json:"consistency"`
	RiskProfile RiskProfile             `json:"risk_profile"`
	Issues      []lease.ValidationIssue `json:"issues,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
}

// RiskProfile summarizes clause risk across the whole run.
type RiskProfile struct {
	High    int             `json:"high"`
	Medium  int             `json:"medium"`
	Low     int             `json:"low"`
	Overall lease.RiskLevel `json:"overall"`
}

// Engine manages the run queue and the per-run phase sequence: parse each
// document, run the extraction pipeline per document, then build the
// cross-document analyses after all documents join.
type Engine struct {
	runs     *RunStore
	queue    chan *Run
	pipe     *Pipeline
	embedder oracle.EmbeddingOracle
	log      *slog.Logger
	cfg      config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates the engine. The embedder may be nil; similarity then
// falls back to local trigram vectors.
func NewEngine(cfg config.Config, pipe *Pipeline, embedder oracle.EmbeddingOracle, log *slog.Logger) *Engine {
	return &Engine{
		runs:     NewRunStore(cfg.RunTTL),
		queue:    make(chan *Run, cfg.MaxQueueSize),
		pipe:     pipe,
		embedder: embedder,
		log:      log.With("component", "engine"),
		cfg:      cfg,
	}
}

// Start launches worker goroutines.
func (e *Engine) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for i := 0; i < e.cfg.WorkerCount; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case run, ok := <-e.queue:
					if !ok {
						return
					}
					e.process(workerCtx, run)
				}
			}
		}()
	}

	// Periodic maintenance: evict expired runs and oracle cache entries.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				e.runs.Cleanup()
				e.pipe.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	close(e.queue)
	e.wg.Wait()
}

// Submit queues a new run for processing.
func (e *Engine) Submit(run *Run) error {
	e.runs.Put(run)
	select {
	case e.queue <- run:
		return nil
	default:
		run.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("run queue is full (%d)", e.cfg.MaxQueueSize)
	}
}

// GetRun returns a run by ID.
func (e *Engine) GetRun(id string) *Run {
	return e.runs.Get(id)
}

// QueueDepth returns current queue depth.
func (e *Engine) QueueDepth() int {
	return len(e.queue)
}

// process runs the full analysis for one run.
func (e *Engine) process(ctx context.Context, run *Run) {
	log := e.log.With("run_id", run.ID)

	// Phase 1: Parse inputs into documents, deduplicating by content hash.
	run.SetStatus(StatusParsing, "parsing")
	docs, hadErrors := e.parseInputs(run, log)
	if len(docs) == 0 {
		log.Error("no usable documents")
		run.AddError("no usable documents")
		run.SetStatus(StatusFailed, "parsing")
		return
	}

	// Phase 2: Per-document extraction. Documents run sequentially; the
	// pipeline fans out internally up to its own concurrency limit.
	run.SetStatus(StatusExtracting, "extracting")
	results := make(map[string]*Result, len(docs))
	for _, doc := range docs {
		res, err := e.pipe.Run(ctx, doc)
		run.IncrDocumentsProcessed()
		if err != nil {
			if ctx.Err() != nil {
				run.AddError(ctx.Err().Error())
				run.SetStatus(StatusFailed, "extracting")
				return
			}
			log.Error("document extraction failed", "doc_id", doc.ID, "error", err)
			run.AddError(fmt.Sprintf("document %s: %s", doc.ID, err))
			hadErrors = true
			continue
		}
		run.AddClauses(len(res.Clauses), res.Telemetry.DegradedClauses)
		results[doc.ID] = res
	}
	if len(results) == 0 {
		run.SetStatus(StatusFailed, "extracting")
		return
	}

	// Phase 3: Cross-document analyses over the joined results.
	run.SetStatus(StatusAnalyzing, "analyzing")
	out := e.analyze(ctx, docs, results)
	run.SetOutput(out)
	log.Info("run complete",
		"documents", len(results),
		"clauses", len(out.ClauseMap.Nodes),
		"issues", len(out.Issues),
		"score", out.Consistency.OverallScore)

	if hadErrors {
		run.SetStatus(StatusPartial, "done")
	} else {
		run.SetStatus(StatusCompleted, "done")
	}
}

// parseInputs turns run inputs into documents, parsing raw files by
// extension and skipping exact-content duplicates within the run. The
// second return reports whether any input was lost to a parse failure;
// duplicate skips are recorded but do not degrade the run.
func (e *Engine) parseInputs(run *Run, log *slog.Logger) ([]lease.Document, bool) {
	seen := make(map[string]string)
	hadErrors := false
	var docs []lease.Document
	for _, in := range run.Inputs() {
		text := in.Text
		title := in.Title
		if text == "" && len(in.FileData) > 0 {
			p, err := parser.ForFile(in.Filename)
			if err != nil {
				log.Error("unsupported format", "doc_id", in.DocID, "error", err)
				run.AddError(fmt.Sprintf("document %s: %s", in.DocID, err))
				hadErrors = true
				continue
			}
			if pdf, ok := p.(*parser.PDFParser); ok {
				pdf.FallbackPdftotext = e.cfg.PDFFallbackPdftotext
			}
			parsed, err := p.Parse(bytes.NewReader(in.FileData), in.Filename)
			if err != nil {
				log.Error("parse failed", "doc_id", in.DocID, "error", err)
				run.AddError(fmt.Sprintf("document %s: parse: %s", in.DocID, err))
				hadErrors = true
				continue
			}
			text = parsed.Text
			if title == "" {
				title = parsed.Title
			}
		}
		if strings.TrimSpace(text) == "" {
			run.AddError(fmt.Sprintf("document %s: no extractable content", in.DocID))
			hadErrors = true
			continue
		}

		hash := ContentHashHex([]byte(text))
		if prev, dup := seen[hash]; dup {
			log.Info("duplicate document skipped", "doc_id", in.DocID, "duplicate_of", prev)
			run.AddError(fmt.Sprintf("document %s duplicates %s, skipped", in.DocID, prev))
			continue
		}
		seen[hash] = in.DocID

		docType := in.Type
		if !lease.ValidDocumentTypes[docType] {
			docType = lease.DocBaseLease
		}
		docs = append(docs, lease.Document{
			ID:      in.DocID,
			Type:    docType,
			Title:   title,
			Text:    text,
			Date:    in.Date,
			Parties: in.Parties,
		})
	}
	return docs, hadErrors
}

// relationForType maps a non-base document type to the edge it forms
// toward its base document.
var relationForType = map[lease.DocumentType]docgraph.RelationshipType{
	lease.DocAmendment:  docgraph.RelAmends,
	lease.DocExhibit:    docgraph.RelExhibitsTo,
	lease.DocGuaranty:   docgraph.RelGuarantees,
	lease.DocSNDA:       docgraph.RelSubordinatesTo,
	lease.DocAssignment: docgraph.RelAssigns,
	lease.DocSublease:   docgraph.RelSubleases,
	lease.DocEstoppel:   docgraph.RelReferences,
	lease.DocSideLetter: docgraph.RelReferences,
	lease.DocMemorandum: docgraph.RelReferences,
}

// analyze builds the document graph, clause graph, similarity views, and
// consistency report over the per-document results.
func (e *Engine) analyze(ctx context.Context, docs []lease.Document, results map[string]*Result) *RunOutput {
	out := &RunOutput{Documents: results}

	// Document graph.
	dg := docgraph.New()
	for _, doc := range docs {
		res := results[doc.ID]
		if res == nil {
			continue
		}
		dg.AddDocument(&docgraph.Node{
			ID:            doc.ID,
			Type:          doc.Type,
			Title:         doc.Title,
			Date:          doc.Date,
			Parties:       docParties(doc, res),
			ExtractedData: docData(doc, res),
		})
		for _, w := range res.Warnings {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %s", doc.ID, w))
		}
	}
	e.linkDocuments(dg, docs, results, out)

	for _, base := range dg.BaseDocuments() {
		ar, err := dg.ApplyAmendments(base.ID)
		if err != nil {
			continue
		}
		out.Amendments = append(out.Amendments, ar)
	}
	out.Issues = append(out.Issues, dg.ValidateDocumentSet()...)
	out.DocumentGraph = dg.ExportGraph()
	out.DefinedTerms = dg.FindDefinedTerms()

	// Clause graph.
	cg := clausegraph.New()
	for _, doc := range docs {
		res := results[doc.ID]
		if res == nil {
			continue
		}
		for _, key := range sortedClauseKeys(res.Clauses) {
			cg.AddClause(clauseNode(doc.ID, key, res.Clauses[key]))
		}
	}
	out.Issues = append(out.Issues, cg.BuildRelationships()...)
	_, crossIssues := cg.FindCrossDocumentRelationships(dg.ResolveReference)
	out.Issues = append(out.Issues, crossIssues...)
	out.ClauseMap = cg.ExportClauseMap()

	// Similarity views.
	ix := similarity.NewIndex(e.embedder, e.log)
	for _, doc := range docs {
		res := results[doc.ID]
		if res == nil {
			continue
		}
		for _, key := range sortedClauseKeys(res.Clauses) {
			ix.Add(ctx, doc.ID, key, clauseText(res.Clauses[key]))
		}
	}
	out.DuplicateClauses = ix.FindDuplicateClauses(0.95)
	out.OutlierClauses = ix.FindOutlierClauses(0.1)
	out.CrossDocumentMatches = ix.FindCrossDocumentSimilarities(0.8)
	out.StandardClauses = ix.FindStandardClauses(3)

	// Consistency over the amendment-applied state.
	out.Consistency = consistency.New(e.log).Validate(e.currentState(docs, results, out.Amendments), dg)

	out.RiskProfile = riskProfile(results)

	return out
}

// riskProfile counts clauses by their highest risk tag. The overall level
// is the worst level seen anywhere in the run.
func riskProfile(results map[string]*Result) RiskProfile {
	p := RiskProfile{Overall: lease.RiskLow}
	for _, res := range results {
		for _, c := range res.Clauses {
			switch clauseRisk(c) {
			case lease.RiskHigh:
				p.High++
				p.Overall = lease.RiskHigh
			case lease.RiskMedium:
				p.Medium++
				if p.Overall != lease.RiskHigh {
					p.Overall = lease.RiskMedium
				}
			default:
				p.Low++
			}
		}
	}
	return p
}

// linkDocuments infers the base-document edge for each non-base document.
// With a single base the link is implied; otherwise the document's own text
// has to mention the base by title.
func (e *Engine) linkDocuments(dg *docgraph.Graph, docs []lease.Document, results map[string]*Result, out *RunOutput) {
	bases := dg.BaseDocuments()
	for _, doc := range docs {
		res := results[doc.ID]
		if res == nil || doc.Type == lease.DocBaseLease {
			continue
		}
		rt, ok := relationForType[doc.Type]
		if !ok {
			rt = docgraph.RelReferences
		}

		target := ""
		if len(bases) == 1 {
			target = bases[0].ID
		} else if resolved := dg.ResolveReference(excerpt(doc.Text, 2000)); resolved != doc.ID {
			target = resolved
		}
		if target == "" {
			continue // ValidateDocumentSet flags the orphan.
		}

		rel := docgraph.Relationship{
			SourceID:      doc.ID,
			TargetID:      target,
			Type:          rt,
			EffectiveDate: doc.Date,
		}
		if doc.Type == lease.DocAmendment {
			rel.SectionsAffected = sortedClauseKeys(res.Clauses)
		}
		if err := dg.AddRelationship(rel); err != nil {
			e.log.Warn("document link rejected", "doc_id", doc.ID, "error", err)
		}
	}
}

// docData flattens one document's extraction into the graph node payload.
// Clause keys map to their structured data (or content), and the structural
// context contributes terms, exhibits, references, and top-level dates.
func docData(doc lease.Document, res *Result) map[string]any {
	data := make(map[string]any)
	for _, key := range sortedClauseKeys(res.Clauses) {
		c := res.Clauses[key]
		if len(c.StructuredData) > 0 {
			data[key] = c.StructuredData
		} else {
			data[key] = c.Content
		}
	}
	if sctx := res.Context; sctx != nil {
		if len(sctx.DefinedTerms) > 0 {
			data["defined_terms"] = sctx.DefinedTerms
		}
		if len(sctx.ExhibitReferences) > 0 {
			data["exhibit_references"] = sctx.ExhibitReferences
		}
		if len(sctx.CrossReferences) > 0 {
			data["cross_references"] = sctx.CrossReferences
		}
		for k, v := range sctx.KeyDates {
			if _, taken := data[k]; !taken {
				data[k] = v
			}
		}
	}
	if doc.Type == lease.DocAmendment {
		data["modified_sections"] = sortedClauseKeys(res.Clauses)
	}
	return data
}

func docParties(doc lease.Document, res *Result) []string {
	if len(doc.Parties) > 0 {
		return doc.Parties
	}
	if res.Context == nil || len(res.Context.PartyNames) == 0 {
		return nil
	}
	roles := make([]string, 0, len(res.Context.PartyNames))
	for r := range res.Context.PartyNames {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	parties := make([]string, 0, len(roles))
	for _, r := range roles {
		parties = append(parties, res.Context.PartyNames[r])
	}
	return parties
}

var sectionNumberRe = regexp.MustCompile(`\d+(?:\.\d+)*`)

// clauseNode converts an extracted clause into a graph node. Section holds
// the bare section number so reference phrases resolve against it.
func clauseNode(docID, key string, c *lease.ExtractedClause) *clausegraph.Node {
	heading := key
	if len(c.SectionHierarchy) > 0 {
		heading = c.SectionHierarchy[len(c.SectionHierarchy)-1]
	}
	section := heading
	if m := sectionNumberRe.FindString(heading); m != "" {
		section = m
	}

	return &clausegraph.Node{
		ClauseID:      key,
		DocID:         docID,
		Section:       section,
		Heading:       heading,
		Content:       clauseText(c),
		ClauseType:    c.ClauseType,
		PageStart:     c.PageStart,
		PageEnd:       c.PageEnd,
		ExtractedData: c.StructuredData,
		RiskScore:     clauseRisk(c),
		Confidence:    c.Confidence,
	}
}

// clauseRisk is the highest level among the clause's risk tags.
func clauseRisk(c *lease.ExtractedClause) lease.RiskLevel {
	risk := lease.RiskLow
	for _, rt := range c.RiskTags {
		if rt.Level == lease.RiskHigh || (rt.Level == lease.RiskMedium && risk == lease.RiskLow) {
			risk = rt.Level
		}
	}
	return risk
}

// clauseText prefers the raw excerpt; reference phrases and similarity
// live in the document's own wording, not the oracle's summary.
func clauseText(c *lease.ExtractedClause) string {
	if strings.TrimSpace(c.RawExcerpt) != "" {
		return c.RawExcerpt
	}
	return c.Content
}

// currentState merges per-document extraction into the single state the
// consistency checker validates. Each clause contributes a section entry
// keyed by clause type, holding its content and structured fields; the
// fields and key dates are additionally hoisted to the top level, where
// the checker's exact-key date and calculation checks read them. The
// amendment-applied state of each base document overlays last.
func (e *Engine) currentState(docs []lease.Document, results map[string]*Result, amendments []*docgraph.AmendmentResult) map[string]any {
	state := make(map[string]any)

	for _, doc := range docs {
		res := results[doc.ID]
		if res == nil {
			continue
		}
		for _, key := range sortedClauseKeys(res.Clauses) {
			c := res.Clauses[key]
			section := map[string]any{"content": clauseText(c)}
			for k, v := range c.StructuredData {
				section[k] = v
			}
			state[key] = section
		}
		if sctx := res.Context; sctx != nil && len(sctx.DefinedTerms) > 0 {
			state["defined_terms"] = sctx.DefinedTerms
		}
	}

	for _, doc := range docs {
		res := results[doc.ID]
		if res == nil {
			continue
		}
		for _, key := range sortedClauseKeys(res.Clauses) {
			for k, v := range res.Clauses[key].StructuredData {
				hoistField(state, k, v)
			}
		}
		if sctx := res.Context; sctx != nil {
			for k, v := range sctx.KeyDates {
				hoistField(state, k, v)
			}
		}
	}

	for _, ar := range amendments {
		for k, v := range ar.CurrentState {
			if k == "modified_sections" {
				continue
			}
			state[k] = v
			sub, ok := v.(map[string]any)
			if !ok {
				continue
			}
			// Amended field values win over anything the bases hoisted.
			for f, fv := range sub {
				if f == "content" {
					continue
				}
				if _, isMap := fv.(map[string]any); !isMap {
					state[f] = fv
				}
			}
		}
	}
	return state
}

// hoistField promotes a scalar field to the top level of the state unless
// a scalar is already there. Section maps lose to field values so the
// checker's exact-key lookups see the field.
func hoistField(state map[string]any, k string, v any) {
	if cur, taken := state[k]; taken {
		if _, isMap := cur.(map[string]any); !isMap {
			return
		}
	}
	state[k] = v
}

func sortedClauseKeys(clauses map[string]*lease.ExtractedClause) []string {
	keys := make([]string, 0, len(clauses))
	for k := range clauses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
