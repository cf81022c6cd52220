package lease

import "strings"

// RiskLevel grades the severity of a flagged risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskTag is a single risk annotation attached to a clause.
type RiskTag struct {
	Level       RiskLevel `json:"level"`
	Description string    `json:"description"`
}

// ClauseRef links a clause to another section it references.
type ClauseRef struct {
	TargetSection string `json:"target_section"`
	Relationship  string `json:"relationship"`
}

// ExtractedClause is one reconciled clause record. Passes and the reconciler
// mutate it freely; once a clause map is returned to a caller it is treated
// as immutable.
type ExtractedClause struct {
	ClauseType          string         `json:"clause_type"`
	Content             string         `json:"content"`
	RawExcerpt          string         `json:"raw_excerpt"`
	Confidence          float64        `json:"confidence"`
	RiskTags            []RiskTag      `json:"risk_tags,omitempty"`
	StructuredData      map[string]any `json:"structured_data,omitempty"`
	NeedsReview         bool           `json:"needs_review"`
	FieldID             string         `json:"field_id"`
	SectionHierarchy    []string       `json:"section_hierarchy,omitempty"`
	DetectionMethod     string         `json:"detection_method,omitempty"`
	InferredFromSection string         `json:"inferred_from_section,omitempty"`
	CrossReferences     []ClauseRef    `json:"cross_references,omitempty"`
	Substitutions       map[string]string `json:"substitutions,omitempty"`
	PageStart           int            `json:"page_start,omitempty"`
	PageEnd             int            `json:"page_end,omitempty"`

	ErrorFlag bool   `json:"error_flag,omitempty"`
	ErrorType string `json:"error_type,omitempty"`

	ValidationNotes []string `json:"validation_notes,omitempty"`
}

// Key returns the normalized clause-type key used for grouping and as the
// map key in the final clause map.
func (c *ExtractedClause) Key() string {
	return NormalizeClauseKey(c.ClauseType)
}

// NormalizeClauseKey lowercases and snake-cases a clause type so that
// "Base Rent", "base-rent" and "base_rent" group together.
func NormalizeClauseKey(clauseType string) string {
	k := strings.ToLower(strings.TrimSpace(clauseType))
	k = strings.ReplaceAll(k, " ", "_")
	k = strings.ReplaceAll(k, "-", "_")
	k = strings.TrimSuffix(k, "_data")
	if k == "" {
		k = "unknown"
	}
	return k
}

// StructuredFieldCount counts the non-nil structured fields, used by the
// reconciler's completeness bonus.
func (c *ExtractedClause) StructuredFieldCount() int {
	n := 0
	for _, v := range c.StructuredData {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		n++
	}
	return n
}

// Clone returns a deep-enough copy for reconciliation: maps and slices are
// copied so mutating the clone never aliases the original.
func (c *ExtractedClause) Clone() *ExtractedClause {
	out := *c
	if c.RiskTags != nil {
		out.RiskTags = append([]RiskTag(nil), c.RiskTags...)
	}
	if c.StructuredData != nil {
		out.StructuredData = make(map[string]any, len(c.StructuredData))
		for k, v := range c.StructuredData {
			out.StructuredData[k] = v
		}
	}
	if c.SectionHierarchy != nil {
		out.SectionHierarchy = append([]string(nil), c.SectionHierarchy...)
	}
	if c.CrossReferences != nil {
		out.CrossReferences = append([]ClauseRef(nil), c.CrossReferences...)
	}
	if c.Substitutions != nil {
		out.Substitutions = make(map[string]string, len(c.Substitutions))
		for k, v := range c.Substitutions {
			out.Substitutions[k] = v
		}
	}
	if c.ValidationNotes != nil {
		out.ValidationNotes = append([]string(nil), c.ValidationNotes...)
	}
	return &out
}
