package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/leaselens/leaselens/internal/config"
	"github.com/leaselens/leaselens/internal/docgraph"
	"github.com/leaselens/leaselens/internal/lease"
	"github.com/leaselens/leaselens/internal/oracle"
)

func newTestEngine(structural, contextual extractorFunc) *Engine {
	cfg := config.Config{
		WorkerCount:  1,
		MaxQueueSize: 4,
		RunTTL:       time.Hour,
	}
	pipe := newTestPipeline(structural, contextual)
	return NewEngine(cfg, pipe, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEngineProcess_CompletesRun(t *testing.T) {
	e := newTestEngine(emptyStructural, contextualByHeading)
	d1 := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	run := NewRun("run-1", []DocumentInput{
		{DocID: "base-1", Type: lease.DocBaseLease, Title: "Office Lease", Date: &d1, Text: threeArticleDoc().Text},
		{DocID: "amd-1", Type: lease.DocAmendment, Title: "First Amendment", Date: &d2,
			Text: "ARTICLE IV: RENT ADJUSTMENT\n" + body(600)},
	})

	e.process(context.Background(), run)

	snap := run.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q (%v), want completed", snap.Status, snap.Progress.Errors)
	}
	if snap.Progress.DocumentsProcessed != 2 {
		t.Errorf("documents processed = %d, want 2", snap.Progress.DocumentsProcessed)
	}
	if snap.Progress.ClausesExtracted != 4 {
		t.Errorf("clauses extracted = %d, want 4", snap.Progress.ClausesExtracted)
	}

	out := run.Output()
	if out == nil {
		t.Fatal("output missing on completed run")
	}
	if len(out.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(out.Documents))
	}

	if len(out.DocumentGraph.Nodes) != 2 {
		t.Errorf("graph nodes = %d, want 2", len(out.DocumentGraph.Nodes))
	}
	if len(out.DocumentGraph.Edges) != 1 {
		t.Fatalf("graph edges = %+v, want single amends edge", out.DocumentGraph.Edges)
	}
	edge := out.DocumentGraph.Edges[0]
	if edge.Type != string(docgraph.RelAmends) || edge.Source != "amd-1" || edge.Target != "base-1" {
		t.Errorf("edge = %+v", edge)
	}
	if len(edge.SectionsAffected) != 1 || edge.SectionsAffected[0] != "base_rent" {
		t.Errorf("sections affected = %v", edge.SectionsAffected)
	}

	if len(out.Amendments) != 1 {
		t.Fatalf("amendments = %d, want 1", len(out.Amendments))
	}
	ar := out.Amendments[0]
	if ar.BaseDocument != "base-1" || ar.TotalAmendments != 1 {
		t.Errorf("amendment result = %+v", ar)
	}
	if len(ar.History) != 1 || len(ar.History[0].Changes) != 1 {
		t.Errorf("amendment history = %+v", ar.History)
	}

	if len(out.ClauseMap.Nodes) != 4 {
		t.Errorf("clause map nodes = %d, want 4", len(out.ClauseMap.Nodes))
	}
	if len(out.ClauseMap.ReadingOrder) != 4 {
		t.Errorf("reading order = %v", out.ClauseMap.ReadingOrder)
	}

	if out.RiskProfile.Low != 4 || out.RiskProfile.Overall != lease.RiskLow {
		t.Errorf("risk profile = %+v", out.RiskProfile)
	}
	if len(out.Issues) != 0 {
		t.Errorf("issues = %+v, want none", out.Issues)
	}
	if out.Consistency.OverallScore != 100.0 {
		t.Errorf("score = %v, issues = %+v", out.Consistency.OverallScore, out.Consistency.Issues)
	}
}

// The consistency checker reads financial fields and lease dates at the
// top level of the merged state, so the engine has to surface them there,
// not only nested under their clause keys.
func TestEngineProcess_ConsistencyChecksExtractedState(t *testing.T) {
	contextual := func(_ context.Context, req oracle.Request) (*oracle.Result, error) {
		switch {
		case strings.HasPrefix(req.Heading, "ARTICLE I:"):
			return &oracle.Result{ClauseType: "premises", Confidence: 0.9, Justification: "Describes the demised premises."}, nil
		case strings.HasPrefix(req.Heading, "ARTICLE II:"):
			return &oracle.Result{
				ClauseType:    "term",
				Confidence:    0.85,
				Justification: "Fixed lease term.",
				KeyValues: map[string]any{
					"lease_commencement": "2025-01-01",
					"lease_expiration":   "2024-01-01",
				},
			}, nil
		default:
			return &oracle.Result{
				ClauseType:    "base rent",
				Confidence:    0.95,
				Justification: "Monthly base rent obligation.",
				KeyValues: map[string]any{
					"base_rent":            50000.0,
					"rentable_square_feet": 1000.0,
					"rent_psf":             10.0,
					"percentage_rent_breakpoints": []any{
						map[string]any{"threshold": 500000.0},
						map[string]any{"threshold": 250000.0},
					},
				},
			}, nil
		}
	}
	e := newTestEngine(emptyStructural, contextual)
	run := NewRun("run-6", []DocumentInput{
		{DocID: "base-1", Type: lease.DocBaseLease, Title: "Office Lease", Text: threeArticleDoc().Text},
	})

	e.process(context.Background(), run)

	out := run.Output()
	if out == nil {
		t.Fatal("output missing")
	}
	rep := out.Consistency
	if rep.CalculationsValidated < 1 {
		t.Errorf("calculations validated = %d, want the rent triple counted", rep.CalculationsValidated)
	}
	if rep.DatesValidated < 2 {
		t.Errorf("dates validated = %d, want the term dates counted", rep.DatesValidated)
	}
	for _, want := range []string{"rent_calculation_mismatch", "breakpoint_order_error", "date_logic_error"} {
		found := false
		for _, issue := range rep.Issues {
			if issue.IssueType == want {
				found = true
			}
		}
		if !found {
			t.Errorf("issues = %+v, missing %s", rep.Issues, want)
		}
	}
	if rep.OverallScore >= 100 {
		t.Errorf("score = %v, want below 100 with open findings", rep.OverallScore)
	}
}

func TestEngineProcess_DuplicateInputSkipped(t *testing.T) {
	e := newTestEngine(emptyStructural, contextualByHeading)
	text := threeArticleDoc().Text
	run := NewRun("run-2", []DocumentInput{
		{DocID: "base-1", Type: lease.DocBaseLease, Text: text},
		{DocID: "base-2", Type: lease.DocBaseLease, Text: text},
	})

	e.process(context.Background(), run)

	snap := run.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %q, duplicate skips must not degrade the run", snap.Status)
	}
	if snap.Progress.DocumentsProcessed != 1 {
		t.Errorf("documents processed = %d, want 1", snap.Progress.DocumentsProcessed)
	}
	if len(snap.Progress.Errors) != 1 || !strings.Contains(snap.Progress.Errors[0], "duplicates") {
		t.Errorf("errors = %v, want one duplicate notice", snap.Progress.Errors)
	}
	if out := run.Output(); out == nil || len(out.Documents) != 1 {
		t.Error("output must cover the single surviving document")
	}
}

func TestEngineProcess_UnusableInputDegradesToPartial(t *testing.T) {
	e := newTestEngine(emptyStructural, contextualByHeading)
	run := NewRun("run-3", []DocumentInput{
		{DocID: "base-1", Type: lease.DocBaseLease, Text: threeArticleDoc().Text},
		{DocID: "blank-1", Type: lease.DocExhibit, Text: "   "},
	})

	e.process(context.Background(), run)

	if got := run.Snapshot().Status; got != StatusPartial {
		t.Fatalf("status = %q, want partial", got)
	}
	if out := run.Output(); out == nil || len(out.Documents) != 1 {
		t.Error("surviving documents must still be analyzed")
	}
}

func TestEngineProcess_NoUsableDocumentsFails(t *testing.T) {
	e := newTestEngine(emptyStructural, contextualByHeading)
	run := NewRun("run-4", []DocumentInput{
		{DocID: "blank-1", Type: lease.DocBaseLease, Text: "   "},
	})

	e.process(context.Background(), run)

	snap := run.Snapshot()
	if snap.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", snap.Status)
	}
	if run.Output() != nil {
		t.Error("failed run must not publish output")
	}
}

func TestEngineProcess_OrphanDocumentFlagged(t *testing.T) {
	e := newTestEngine(emptyStructural, contextualByHeading)
	run := NewRun("run-5", []DocumentInput{
		{DocID: "base-1", Type: lease.DocBaseLease, Title: "Office Lease", Text: threeArticleDoc().Text},
		{DocID: "base-2", Type: lease.DocBaseLease, Title: "Ground Lease", Text: nestedDoc().Text},
		{DocID: "gty-1", Type: lease.DocGuaranty, Title: "Guaranty", Text: "ARTICLE I: GUARANTY\n" + body(600)},
	})

	e.process(context.Background(), run)

	out := run.Output()
	if out == nil {
		t.Fatal("output missing")
	}
	// Two bases and a guaranty naming neither: the link is ambiguous, so
	// the guaranty stays orphaned and the validator reports it.
	found := false
	for _, issue := range out.Issues {
		if issue.IssueType == "orphaned_document" && issue.Location == "gty-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %+v, want orphaned_document for gty-1", out.Issues)
	}
}

func TestEngine_SubmitQueueFull(t *testing.T) {
	cfg := config.Config{WorkerCount: 1, MaxQueueSize: 1, RunTTL: time.Hour}
	e := NewEngine(cfg, newTestPipeline(emptyStructural, contextualByHeading), nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	first := NewRun("run-a", nil)
	if err := e.Submit(first); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second := NewRun("run-b", nil)
	if err := e.Submit(second); err == nil {
		t.Fatal("second submit must fail with a full queue")
	}
	if got := second.Snapshot().Status; got != StatusFailed {
		t.Errorf("status = %q, want failed", got)
	}
	if e.GetRun("run-a") == nil || e.GetRun("run-b") == nil {
		t.Error("both runs must stay queryable")
	}
}

func TestRunStore_CleanupEvictsExpired(t *testing.T) {
	s := NewRunStore(time.Millisecond)
	run := NewRun("run-old", nil)
	run.UpdatedAt = time.Now().Add(-time.Minute)
	s.Put(run)
	s.Cleanup()
	if s.Get("run-old") != nil {
		t.Error("expired run must be evicted")
	}
}
