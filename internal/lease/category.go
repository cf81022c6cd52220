package lease

import "strings"

// ClauseCategory is the closed routing variant for specialized extraction.
// Routing happens once, in Categorize — nothing else string-matches on
// clause types.
type ClauseCategory int

const (
	CategoryGeneric ClauseCategory = iota
	CategoryFinancial
	CategoryDateTime
	CategoryConditional
	CategoryRights
)

func (c ClauseCategory) String() string {
	switch c {
	case CategoryFinancial:
		return "financial"
	case CategoryDateTime:
		return "datetime"
	case CategoryConditional:
		return "conditional"
	case CategoryRights:
		return "rights"
	default:
		return "generic"
	}
}

var categoryKeywords = []struct {
	category ClauseCategory
	keywords []string
}{
	{CategoryFinancial, []string{"rent", "cam", "operating_expense", "tax", "deposit", "percentage", "escalation", "charge", "fee"}},
	{CategoryDateTime, []string{"term", "date", "commencement", "expiration", "deadline", "notice_period"}},
	{CategoryConditional, []string{"condition", "co_tenancy", "contingen", "casualty", "default", "termination"}},
	{CategoryRights, []string{"option", "renewal", "right", "exclusive", "assignment", "sublet", "entry", "relocation"}},
}

// Categorize routes a normalized clause-type key to its extraction category.
func Categorize(clauseType string) ClauseCategory {
	key := NormalizeClauseKey(clauseType)
	for _, group := range categoryKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(key, kw) {
				return group.category
			}
		}
	}
	return CategoryGeneric
}
