package lease

// ValidationIssue is one finding from consistency or graph validation.
// Issues are collected, never fatal; severity drives triage.
type ValidationIssue struct {
	IssueType   string    `json:"issue_type"`
	Severity    RiskLevel `json:"severity"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	Expected    string    `json:"expected,omitempty"`
	Actual      string    `json:"actual,omitempty"`
	Suggestion  string    `json:"suggestion,omitempty"`
}
