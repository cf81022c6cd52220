package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/leaselens/leaselens/internal/lease"
)

// RunStatus represents the state of an analysis run.
type RunStatus string

const (
	StatusQueued     RunStatus = "queued"
	StatusParsing    RunStatus = "parsing"
	StatusExtracting RunStatus = "extracting"
	StatusAnalyzing  RunStatus = "analyzing"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
	StatusPartial    RunStatus = "partial"
)

// DocumentInput is one document submitted with a run. Text may be supplied
// directly, or raw file bytes that the engine parses by filename extension.
type DocumentInput struct {
	DocID    string             `json:"doc_id"`
	Type     lease.DocumentType `json:"doc_type"`
	Title    string             `json:"title"`
	Filename string             `json:"filename,omitempty"`
	Date     *time.Time         `json:"date,omitempty"`
	Parties  []string           `json:"parties,omitempty"`

	// Internal: not serialized.
	Text     string `json:"-"`
	FileData []byte `json:"-"`
}

// Run tracks the state of one document-set analysis.
type Run struct {
	mu sync.Mutex

	ID string `json:"run_id"`

	Status RunStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress RunProgress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	inputs []DocumentInput
	output *RunOutput
	errors []string
}

// RunProgress tracks processing progress across the run's documents.
type RunProgress struct {
	TotalDocuments     int      `json:"total_documents"`
	DocumentsProcessed int      `json:"documents_processed"`
	ClausesExtracted   int      `json:"clauses_extracted"`
	DegradedClauses    int      `json:"degraded_clauses"`
	Errors             []string `json:"errors"`
}

// NewRun creates a queued run over the given inputs.
func NewRun(id string, inputs []DocumentInput) *Run {
	now := time.Now()
	return &Run{
		ID:        id,
		Status:    StatusQueued,
		Phase:     "queued",
		Progress:  RunProgress{TotalDocuments: len(inputs)},
		CreatedAt: now,
		UpdatedAt: now,
		inputs:    inputs,
	}
}

// RunStore is a thread-safe in-memory run registry with TTL eviction.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
	ttl  time.Duration
}

func NewRunStore(ttl time.Duration) *RunStore {
	return &RunStore{
		runs: make(map[string]*Run),
		ttl:  ttl,
	}
}

func (s *RunStore) Put(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *RunStore) Get(id string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

// Cleanup removes expired runs.
func (s *RunStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, run := range s.runs {
		if now.Sub(run.UpdatedAt) > s.ttl {
			delete(s.runs, id)
		}
	}
}

// SetStatus updates run status atomically.
func (r *Run) SetStatus(status RunStatus, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = status
	r.Phase = phase
	r.UpdatedAt = time.Now()
}

// AddError records an error.
func (r *Run) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
	r.Progress.Errors = r.errors
	r.UpdatedAt = time.Now()
}

// IncrDocumentsProcessed atomically increments the processed count.
func (r *Run) IncrDocumentsProcessed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Progress.DocumentsProcessed++
	r.UpdatedAt = time.Now()
}

// AddClauses records extracted and degraded clause counts.
func (r *Run) AddClauses(extracted, degraded int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Progress.ClausesExtracted += extracted
	r.Progress.DegradedClauses += degraded
	r.UpdatedAt = time.Now()
}

// Inputs returns the submitted documents.
func (r *Run) Inputs() []DocumentInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs
}

// SetOutput stores the run's result set.
func (r *Run) SetOutput(out *RunOutput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = out
	r.UpdatedAt = time.Now()
}

// Output returns the run's result set, nil until analysis completes.
func (r *Run) Output() *RunOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

// RunSnapshot is a read-only, JSON-safe copy of run state.
type RunSnapshot struct {
	ID        string      `json:"run_id"`
	Status    RunStatus   `json:"status"`
	Phase     string      `json:"phase"`
	Progress  RunProgress `json:"progress"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the run state.
func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	errs := r.Progress.Errors
	if errs == nil {
		errs = []string{}
	}
	return RunSnapshot{
		ID:        r.ID,
		Status:    r.Status,
		Phase:     r.Phase,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Progress: RunProgress{
			TotalDocuments:     r.Progress.TotalDocuments,
			DocumentsProcessed: r.Progress.DocumentsProcessed,
			ClausesExtracted:   r.Progress.ClausesExtracted,
			DegradedClauses:    r.Progress.DegradedClauses,
			Errors:             errs,
		},
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
