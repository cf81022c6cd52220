package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leaselens/leaselens/internal/lease"
	"github.com/leaselens/leaselens/internal/parser"
	"github.com/leaselens/leaselens/internal/pipeline"
)

// submitDocument is one document in a JSON run submission.
type submitDocument struct {
	DocID   string   `json:"doc_id"`
	DocType string   `json:"doc_type"`
	Title   string   `json:"title"`
	Text    string   `json:"text"`
	Date    string   `json:"date,omitempty"`
	Parties []string `json:"parties,omitempty"`
}

type submitRequest struct {
	Documents []submitDocument `json:"documents"`
}

// handleSubmitRun accepts a document set either as JSON (pre-extracted
// text) or as a multipart upload of files to parse.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")

	var inputs []pipeline.DocumentInput
	var err error
	switch {
	case strings.HasPrefix(ct, "application/json"):
		inputs, err = s.jsonInputs(w, r)
	case strings.HasPrefix(ct, "multipart/form-data"):
		inputs, err = s.multipartInputs(w, r)
	default:
		jsonError(w, "expected application/json or multipart/form-data", http.StatusUnsupportedMediaType)
		return
	}
	if err != nil {
		return // Error already written.
	}
	if len(inputs) == 0 {
		jsonError(w, "at least one document is required", http.StatusBadRequest)
		return
	}

	run := pipeline.NewRun(uuid.NewString(), inputs)
	if err := s.engine.Submit(run); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"run_id":    run.ID,
		"status":    run.Status,
		"documents": len(inputs),
		"poll_url":  fmt.Sprintf("/api/runs/%s/status", run.ID),
	})
}

func (s *Server) jsonInputs(w http.ResponseWriter, r *http.Request) ([]pipeline.DocumentInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return nil, err
	}

	inputs := make([]pipeline.DocumentInput, 0, len(req.Documents))
	for i, d := range req.Documents {
		if strings.TrimSpace(d.Text) == "" {
			jsonError(w, fmt.Sprintf("documents[%d]: text is required", i), http.StatusBadRequest)
			return nil, fmt.Errorf("empty text")
		}
		docType := lease.DocumentType(d.DocType)
		if d.DocType != "" && !lease.ValidDocumentTypes[docType] {
			jsonError(w, fmt.Sprintf("documents[%d]: unknown doc_type %q", i, d.DocType), http.StatusBadRequest)
			return nil, fmt.Errorf("bad doc_type")
		}
		docID := d.DocID
		if docID == "" {
			docID = pipeline.ContentHashHex([]byte(d.Text))[:16]
		}
		inputs = append(inputs, pipeline.DocumentInput{
			DocID:   docID,
			Type:    docType,
			Title:   d.Title,
			Date:    parseInputDate(d.Date),
			Parties: d.Parties,
			Text:    d.Text,
		})
	}
	return inputs, nil
}

func (s *Server) multipartInputs(w http.ResponseWriter, r *http.Request) ([]pipeline.DocumentInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return nil, fmt.Errorf("no files")
	}

	// Optional filename -> doc_type overrides.
	typeOverrides := map[string]string{}
	if v := r.FormValue("types"); v != "" {
		if err := json.Unmarshal([]byte(v), &typeOverrides); err != nil {
			jsonError(w, "invalid types map: "+err.Error(), http.StatusBadRequest)
			return nil, err
		}
	}

	var inputs []pipeline.DocumentInput
	for _, fh := range files {
		filename := sanitizeFilename(fh.Filename)
		if !parser.IsSupportedExtension(filename) {
			jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
			return nil, fmt.Errorf("unsupported file")
		}

		f, err := fh.Open()
		if err != nil {
			jsonError(w, "failed to open "+filename, http.StatusBadRequest)
			return nil, err
		}
		data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
		f.Close()
		if err != nil {
			jsonError(w, "failed to read "+filename, http.StatusInternalServerError)
			return nil, err
		}
		if int64(len(data)) > s.cfg.MaxUploadBytes {
			jsonError(w, fmt.Sprintf("%s exceeds max size (%d bytes)", filename, s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return nil, fmt.Errorf("file too large")
		}

		docType := lease.DocumentType(typeOverrides[filename])
		if !lease.ValidDocumentTypes[docType] {
			docType = inferDocType(filename)
		}

		inputs = append(inputs, pipeline.DocumentInput{
			DocID:    pipeline.ContentHashHex(data)[:16],
			Type:     docType,
			Filename: filename,
			FileData: data,
		})
	}
	return inputs, nil
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	run := s.engine.GetRun(chi.URLParam(r, "runID"))
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run.Snapshot())
}

// inferDocType guesses a document's role from its filename. JSON
// submissions and the types map override this.
func inferDocType(filename string) lease.DocumentType {
	name := strings.ToLower(filename)
	switch {
	case strings.Contains(name, "amendment"):
		return lease.DocAmendment
	case strings.Contains(name, "exhibit"):
		return lease.DocExhibit
	case strings.Contains(name, "guaranty"), strings.Contains(name, "guarantee"):
		return lease.DocGuaranty
	case strings.Contains(name, "snda"), strings.Contains(name, "subordination"):
		return lease.DocSNDA
	case strings.Contains(name, "estoppel"):
		return lease.DocEstoppel
	case strings.Contains(name, "assignment"):
		return lease.DocAssignment
	case strings.Contains(name, "sublease"):
		return lease.DocSublease
	case strings.Contains(name, "side letter"), strings.Contains(name, "side_letter"):
		return lease.DocSideLetter
	case strings.Contains(name, "memorandum"):
		return lease.DocMemorandum
	}
	return lease.DocBaseLease
}

var inputDateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseInputDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range inputDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
