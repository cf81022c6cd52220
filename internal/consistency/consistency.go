// Package consistency validates merged extraction state: date logic,
// financial cross-checks, reference integrity, defined-term usage,
// high-stakes clause flagging, and amendment ordering. Every finding is
// a severity-tagged issue; validation never fails a run.
package consistency

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/leaselens/leaselens/internal/docgraph"
	"github.com/leaselens/leaselens/internal/lease"
)

// calculationTolerance is the allowed relative error between a stated
// total and its derived product.
const calculationTolerance = 0.01

// highStakesClauses are always flagged for review regardless of content.
var highStakesClauses = []string{
	"default", "termination", "indemnification", "liability",
	"insurance", "guaranty", "assignment", "subletting",
}

// Report is the full validation result.
type Report struct {
	Issues                   []lease.ValidationIssue `json:"issues"`
	Warnings                 []string                `json:"warnings"`
	CrossReferencesValidated int                     `json:"cross_references_validated"`
	CalculationsValidated    int                     `json:"calculations_validated"`
	DatesValidated           int                     `json:"dates_validated"`
	TermsValidated           int                     `json:"terms_validated"`
	OverallScore             float64                 `json:"overall_score"`
}

// Checker runs the validation suite over extracted state.
type Checker struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{logger: logger.With("component", "consistency")}
}

// Validate checks state and, when a document graph is supplied, the
// amendment chain as well. The score is 100 minus the issue-per-
// opportunity percentage, floored at 0; with nothing to check the score
// is 100.
func (c *Checker) Validate(state map[string]any, g *docgraph.Graph) Report {
	var issues []lease.ValidationIssue
	var warnings []string

	dates := collectDates(state)
	calculations := collectCalculations(state)
	references := collectReferences(state)
	terms := collectDefinedTerms(state)

	issues = append(issues, validateDates(dates)...)
	issues = append(issues, validateFinancials(state)...)
	issues = append(issues, validateCrossReferences(state, references)...)
	issues = append(issues, validateDefinedTerms(state, terms)...)
	issues = append(issues, validateHighStakes(state)...)
	if g != nil {
		issues = append(issues, validateAmendments(g)...)
	}

	opportunities := len(dates) + len(calculations) + len(references) + len(terms)
	score := 100.0
	if opportunities > 0 {
		score = math.Max(0, 100-float64(len(issues))/float64(opportunities)*100)
	}

	c.logger.Info("validation complete",
		"issues", len(issues), "opportunities", opportunities, "score", score)

	return Report{
		Issues:                   issues,
		Warnings:                 warnings,
		CrossReferencesValidated: len(references),
		CalculationsValidated:    len(calculations),
		DatesValidated:           len(dates),
		TermsValidated:           len(terms),
		OverallScore:             score,
	}
}

func validateDates(dates map[string]any) []lease.ValidationIssue {
	var issues []lease.ValidationIssue

	commence := parseDate(dates["lease_commencement"])
	expire := parseDate(dates["lease_expiration"])
	if commence != nil && expire != nil && !commence.Before(*expire) {
		issues = append(issues, lease.ValidationIssue{
			IssueType:   "date_logic_error",
			Severity:    lease.RiskHigh,
			Description: "lease commencement date is on or after expiration date",
			Location:    "Term section",
			Expected:    "commencement before expiration",
			Actual:      fmt.Sprintf("commencement %s, expiration %s", commence.Format("2006-01-02"), expire.Format("2006-01-02")),
			Suggestion:  "verify lease term dates",
		})
	}

	rentCommence := parseDate(dates["rent_commencement"])
	if rentCommence != nil && commence != nil && rentCommence.Before(*commence) {
		issues = append(issues, lease.ValidationIssue{
			IssueType:   "date_sequence_error",
			Severity:    lease.RiskMedium,
			Description: "rent commencement before lease commencement",
			Location:    "Term section",
			Expected:    "rent starts on or after lease commencement",
			Actual:      fmt.Sprintf("rent %s, lease %s", rentCommence.Format("2006-01-02"), commence.Format("2006-01-02")),
			Suggestion:  "check for a separate rent commencement provision",
		})
	}

	for _, key := range sortedAnyKeys(dates) {
		if !strings.Contains(key, "option") || !strings.Contains(key, "deadline") {
			continue
		}
		deadline := parseDate(dates[key])
		if deadline != nil && expire != nil && deadline.After(*expire) {
			issues = append(issues, lease.ValidationIssue{
				IssueType:   "option_deadline_error",
				Severity:    lease.RiskHigh,
				Description: fmt.Sprintf("option deadline after lease expiration for %s", key),
				Location:    "Options section",
				Expected:    "deadline before expiration",
				Actual:      fmt.Sprintf("deadline %s, expiration %s", deadline.Format("2006-01-02"), expire.Format("2006-01-02")),
				Suggestion:  "review option exercise timing",
			})
		}
	}
	return issues
}

func validateFinancials(state map[string]any) []lease.ValidationIssue {
	var issues []lease.ValidationIssue

	rent, okRent := toNumber(state["base_rent"])
	rsf, okRSF := toNumber(state["rentable_square_feet"])
	psf, okPSF := toNumber(state["rent_psf"])
	if okRent && okRSF && okPSF && rent > 0 {
		derived := rsf * psf
		if math.Abs(derived-rent)/rent > calculationTolerance {
			issues = append(issues, lease.ValidationIssue{
				IssueType:   "rent_calculation_mismatch",
				Severity:    lease.RiskHigh,
				Description: "base rent does not match square footage times rate",
				Location:    "Rent section",
				Expected:    fmt.Sprintf("$%.2f", derived),
				Actual:      fmt.Sprintf("$%.2f", rent),
				Suggestion:  "verify rent calculation methodology",
			})
		}
	}

	cam, okCAM := toNumber(state["cam_estimate"])
	share, okShare := toNumber(state["pro_rata_share"])
	pool, okPool := toNumber(state["total_cam_pool"])
	if okCAM && okShare && okPool && cam > 0 {
		derived := pool * share / 100
		if math.Abs(derived-cam)/cam > calculationTolerance {
			issues = append(issues, lease.ValidationIssue{
				IssueType:   "cam_calculation_mismatch",
				Severity:    lease.RiskMedium,
				Description: "CAM estimate does not match pro-rata calculation",
				Location:    "CAM section",
				Expected:    fmt.Sprintf("$%.2f", derived),
				Actual:      fmt.Sprintf("$%.2f", cam),
				Suggestion:  "review CAM calculation method",
			})
		}
	}

	if bps := breakpoints(state["percentage_rent_breakpoints"]); len(bps) > 1 {
		for i := 1; i < len(bps); i++ {
			if bps[i] <= bps[i-1] {
				issues = append(issues, lease.ValidationIssue{
					IssueType:   "breakpoint_order_error",
					Severity:    lease.RiskHigh,
					Description: "percentage rent breakpoints not in ascending order",
					Location:    "Percentage Rent section",
					Expected:    "ascending thresholds",
					Actual:      fmt.Sprintf("breakpoint %d (%.2f) <= breakpoint %d (%.2f)", i, bps[i], i-1, bps[i-1]),
					Suggestion:  "verify breakpoint structure",
				})
			}
		}
	}
	return issues
}

type reference struct {
	sourceSection string
	targetSection string
}

func validateCrossReferences(state map[string]any, refs []reference) []lease.ValidationIssue {
	sections := collectSectionNumbers(state)

	var issues []lease.ValidationIssue
	for _, ref := range refs {
		if ref.targetSection == "" || sections[ref.targetSection] {
			continue
		}
		loc := ref.sourceSection
		if loc == "" {
			loc = "Unknown"
		}
		issues = append(issues, lease.ValidationIssue{
			IssueType:   "broken_reference",
			Severity:    lease.RiskMedium,
			Description: fmt.Sprintf("reference to non-existent section %s", ref.targetSection),
			Location:    loc,
			Expected:    "valid section reference",
			Actual:      fmt.Sprintf("Section %s not found", ref.targetSection),
			Suggestion:  "check whether section numbering changed",
		})
	}
	return issues
}

// commonTerms never trigger undefined-term findings.
var commonTerms = map[string]bool{
	"The": true, "This": true, "Section": true, "Article": true,
	"Landlord": true, "Tenant": true,
}

var capitalizedTermRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

// validateDefinedTerms is a deliberately noisy heuristic: capitalized
// phrases without a matching definition get a low-severity finding.
func validateDefinedTerms(state map[string]any, defined map[string]bool) []lease.ValidationIssue {
	var issues []lease.ValidationIssue
	flagged := map[string]bool{}

	for _, key := range sortedAnyKeys(state) {
		section, ok := state[key].(map[string]any)
		if !ok {
			continue
		}
		content, ok := section["content"].(string)
		if !ok {
			continue
		}
		for _, term := range capitalizedTermRe.FindAllString(content, -1) {
			if commonTerms[term] || defined[term] || flagged[term] {
				continue
			}
			flagged[term] = true
			issues = append(issues, lease.ValidationIssue{
				IssueType:   "undefined_term",
				Severity:    lease.RiskLow,
				Description: fmt.Sprintf("potentially undefined term: %s", term),
				Location:    key,
				Expected:    "defined term",
				Actual:      "no definition found",
				Suggestion:  "verify whether the term needs a definition",
			})
		}
	}
	return issues
}

func validateHighStakes(state map[string]any) []lease.ValidationIssue {
	var issues []lease.ValidationIssue
	for _, clauseType := range highStakesClauses {
		data, present := state[clauseType]
		if !present {
			continue
		}
		issues = append(issues, lease.ValidationIssue{
			IssueType:   "high_stakes_clause",
			Severity:    lease.RiskMedium,
			Description: fmt.Sprintf("high-stakes %s clause requires careful review", clauseType),
			Location:    clauseType + " section",
			Expected:    "human review completed",
			Actual:      "pending review",
			Suggestion:  fmt.Sprintf("legal review recommended for %s provisions", clauseType),
		})

		if clauseType == "indemnification" {
			if m, ok := data.(map[string]any); ok {
				if mutual, ok := m["mutual"].(bool); ok && !mutual {
					issues = append(issues, lease.ValidationIssue{
						IssueType:   "one_sided_indemnity",
						Severity:    lease.RiskHigh,
						Description: "one-sided indemnification provision detected",
						Location:    "indemnification section",
						Expected:    "mutual indemnification",
						Actual:      "one-way indemnification",
						Suggestion:  "consider negotiating mutual indemnification",
					})
				}
			}
		}
	}
	return issues
}

func validateAmendments(g *docgraph.Graph) []lease.ValidationIssue {
	var issues []lease.ValidationIssue

	for _, base := range g.BaseDocuments() {
		amendments := g.AmendmentsFor(base.ID)

		for i := 1; i < len(amendments); i++ {
			prev, cur := amendments[i-1], amendments[i]
			if prev.Date != nil && cur.Date != nil && cur.Date.Before(*prev.Date) {
				issues = append(issues, lease.ValidationIssue{
					IssueType:   "amendment_date_order",
					Severity:    lease.RiskHigh,
					Description: "amendments not in chronological order",
					Location:    cur.ID,
					Expected:    fmt.Sprintf("dated after %s", prev.Date.Format("2006-01-02")),
					Actual:      cur.Date.Format("2006-01-02"),
					Suggestion:  "verify amendment sequence",
				})
			}
		}

		touched := map[string]string{}
		for _, amendment := range amendments {
			for _, section := range modifiedSections(amendment) {
				if first, seen := touched[section]; seen {
					issues = append(issues, lease.ValidationIssue{
						IssueType:   "conflicting_amendments",
						Severity:    lease.RiskMedium,
						Description: fmt.Sprintf("multiple amendments modify section %s", section),
						Location:    fmt.Sprintf("amendments %s and %s", first, amendment.ID),
						Expected:    "clear amendment chain",
						Actual:      "conflicting modifications",
						Suggestion:  "review amendment precedence",
					})
				}
				touched[section] = amendment.ID
			}
		}
	}
	return issues
}

func modifiedSections(n *docgraph.Node) []string {
	var out []string
	switch v := n.ExtractedData["modified_sections"].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

var dateKeywords = []string{"date", "deadline", "expir", "commenc"}

func collectDates(state map[string]any) map[string]any {
	dates := map[string]any{}
	var walk func(m map[string]any, prefix string)
	walk = func(m map[string]any, prefix string) {
		for key, value := range m {
			lower := strings.ToLower(key)
			isDate := false
			for _, kw := range dateKeywords {
				if strings.Contains(lower, kw) {
					isDate = true
					break
				}
			}
			switch {
			case isDate:
				dates[prefix+key] = value
			default:
				if sub, ok := value.(map[string]any); ok {
					walk(sub, prefix+key+".")
				}
			}
		}
	}
	walk(state, "")
	return dates
}

// calcPatterns define the field triples that make a checkable calculation.
var calcPatterns = [][]string{
	{"base_rent", "rentable_square_feet", "rent_psf"},
	{"cam_estimate", "pro_rata_share", "total_cam_pool"},
	{"security_deposit", "months_rent"},
}

func collectCalculations(state map[string]any) [][]string {
	var out [][]string
	for _, fields := range calcPatterns {
		complete := true
		for _, f := range fields {
			if _, ok := state[f]; !ok {
				complete = false
				break
			}
		}
		if complete {
			out = append(out, fields)
		}
	}
	return out
}

var sectionRefRe = regexp.MustCompile(`(?:Section|Article)\s+(\d+(?:\.\d+)*)`)

func collectReferences(state map[string]any) []reference {
	var refs []reference
	var walk func(m map[string]any, source string)
	walk = func(m map[string]any, source string) {
		for _, key := range sortedAnyKeys(m) {
			switch v := m[key].(type) {
			case string:
				for _, match := range sectionRefRe.FindAllStringSubmatch(v, -1) {
					refs = append(refs, reference{sourceSection: source, targetSection: match[1]})
				}
			case map[string]any:
				walk(v, key)
			}
		}
	}
	walk(state, "")
	return refs
}

func collectDefinedTerms(state map[string]any) map[string]bool {
	out := map[string]bool{}
	switch v := state["defined_terms"].(type) {
	case map[string]any:
		for term := range v {
			out[term] = true
		}
	case map[string]string:
		for term := range v {
			out[term] = true
		}
	case []string:
		for _, term := range v {
			out[term] = true
		}
	case []any:
		for _, x := range v {
			if term, ok := x.(string); ok {
				out[term] = true
			}
		}
	}
	return out
}

var sectionNumRe = regexp.MustCompile(`\d+(?:\.\d+)*`)

func collectSectionNumbers(state map[string]any) map[string]bool {
	out := map[string]bool{}
	var walk func(m map[string]any)
	walk = func(m map[string]any) {
		for key, value := range m {
			switch v := value.(type) {
			case string:
				if strings.Contains(strings.ToLower(key), "section") {
					if num := sectionNumRe.FindString(v); num != "" {
						out[num] = true
					}
				}
			case map[string]any:
				walk(v)
			}
		}
	}
	walk(state)
	return out
}

var dateLayouts = []string{"2006-01-02", "01/02/2006", "01-02-2006", "January 2, 2006", "Jan 2, 2006"}

func parseDate(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

var nonNumericRe = regexp.MustCompile(`[^\d.\-]`)

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		cleaned := nonNumericRe.ReplaceAllString(n, "")
		if cleaned == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func breakpoints(v any) []float64 {
	var out []float64
	list, ok := v.([]any)
	if !ok {
		if typed, ok := v.([]map[string]any); ok {
			for _, m := range typed {
				if n, ok := toNumber(m["threshold"]); ok {
					out = append(out, n)
				}
			}
			return out
		}
		return nil
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := toNumber(m["threshold"]); ok {
			out = append(out, n)
		}
	}
	return out
}

func sortedAnyKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
