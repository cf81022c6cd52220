package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/leaselens/leaselens/internal/lease"
)

// Specialized extractors add deterministic schema fields per clause
// category. They are regex-driven and local; no oracle calls. Each returns
// its extracted fields plus a confidence used when merging into a clause's
// structured data (the higher-confidence side wins key collisions).

const currencyPat = `\$[\d,]+(?:\.\d{2})?`

var (
	monthlyRentRe  = regexp.MustCompile(`(?i)(?:base|monthly)\s+rent\s+(?:of\s+)?(` + currencyPat + `)(?:\s*per\s*(?:calendar\s*)?month)?`)
	annualRentRe   = regexp.MustCompile(`(?i)annual\s+rent\s+(?:of\s+)?(` + currencyPat + `)`)
	perMonthRe     = regexp.MustCompile(`(?i)(` + currencyPat + `)\s*per\s*(?:calendar\s*)?month`)
	psfRe          = regexp.MustCompile(`(?i)(` + currencyPat + `)\s*(?:per\s+(?:rentable\s+)?square\s+foot|psf|/sf)`)
	escalationRe   = regexp.MustCompile(`(?i)(?:increase|escalat\w+)\D*?(\d+(?:\.\d+)?)\s*%\s*(?:per\s*)?(?:year|annum|annual)?|(\d+(?:\.\d+)?)\s*%\s*annual\s*(?:increase|escalation)`)
	cpiRe          = regexp.MustCompile(`(?i)(?:cpi|consumer\s*price\s*index)\W*(?:increase|adjustment)`)
	freeRentRe     = regexp.MustCompile(`(?i)(\d+)\s*months?\s*(?:of\s*)?(?:free|abated)\s*rent`)
	pctRentRe      = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*%\s*of\s*(?:gross\s*)?sales`)
	breakpointRe   = regexp.MustCompile(`(?i)(?:natural\s+breakpoint|excess\s+(?:of|over)\s*(` + currencyPat + `)|breakpoint\s*(?:of\s*)?(` + currencyPat + `))`)
	proRataRe      = regexp.MustCompile(`(?i)pro[\s-]*rata\s*share\D*?(\d+(?:\.\d+)?)\s*%`)
	camCapRe       = regexp.MustCompile(`(?i)cap\D*?(\d+(?:\.\d+)?)\s*%`)
	adminFeeRe     = regexp.MustCompile(`(?i)admin\w*\s*fee\D*?(\d+(?:\.\d+)?)\s*%`)
	securityDepRe  = regexp.MustCompile(`(?i)security\s+deposit\s+(?:of\s+)?(` + currencyPat + `)`)
	areaRe         = regexp.MustCompile(`(?i)([\d,]+)\s*(?:rentable\s*)?square\s*feet`)
)

func extractFinancial(content string) (map[string]any, float64) {
	data := make(map[string]any)

	if m := monthlyRentRe.FindStringSubmatch(content); m != nil {
		data["base_rent_amount"] = parseCurrency(m[1])
		data["rent_frequency"] = "monthly"
	} else if m := annualRentRe.FindStringSubmatch(content); m != nil {
		data["base_rent_amount"] = parseCurrency(m[1])
		data["rent_frequency"] = "annual"
	} else if m := perMonthRe.FindStringSubmatch(content); m != nil {
		data["base_rent_amount"] = parseCurrency(m[1])
		data["rent_frequency"] = "monthly"
	}

	if m := psfRe.FindStringSubmatch(content); m != nil {
		data["rate_per_square_foot"] = parseCurrency(m[1])
	}
	if m := areaRe.FindStringSubmatch(content); m != nil {
		data["area_square_feet"] = parseNumber(m[1])
	}

	var escalations []map[string]any
	for _, m := range escalationRe.FindAllStringSubmatch(content, -1) {
		pct := m[1]
		if pct == "" {
			pct = m[2]
		}
		if pct == "" {
			continue
		}
		escalations = append(escalations, map[string]any{
			"type":      "percentage",
			"amount":    parseNumber(pct),
			"frequency": "annual",
		})
	}
	if cpiRe.MatchString(content) {
		escalations = append(escalations, map[string]any{"type": "cpi", "frequency": "annual"})
	}
	if len(escalations) > 0 {
		data["escalations"] = escalations
	}

	if m := freeRentRe.FindStringSubmatch(content); m != nil {
		data["free_rent_months"] = parseInt(m[1])
	}

	if m := pctRentRe.FindStringSubmatch(content); m != nil {
		data["percentage_rent_rate"] = parseNumber(m[1])
	}
	var breakpoints []float64
	for _, m := range breakpointRe.FindAllStringSubmatch(content, -1) {
		amt := m[1]
		if amt == "" {
			amt = m[2]
		}
		if amt != "" {
			breakpoints = append(breakpoints, parseCurrency(amt))
		}
	}
	if len(breakpoints) > 0 {
		data["breakpoints"] = breakpoints
	}

	if m := proRataRe.FindStringSubmatch(content); m != nil {
		data["pro_rata_share_percent"] = parseNumber(m[1])
	}
	if strings.Contains(strings.ToLower(content), "cam") || strings.Contains(strings.ToLower(content), "common area") {
		if m := camCapRe.FindStringSubmatch(content); m != nil {
			data["cam_cap_percent"] = parseNumber(m[1])
		}
		if m := adminFeeRe.FindStringSubmatch(content); m != nil {
			data["admin_fee_percent"] = parseNumber(m[1])
		}
	}
	if m := securityDepRe.FindStringSubmatch(content); m != nil {
		data["security_deposit"] = parseCurrency(m[1])
	}

	conf := 0.3
	if _, ok := data["base_rent_amount"]; ok {
		conf = 0.9
	} else if len(data) > 0 {
		conf = 0.6
	}
	return data, conf
}

const datePat = `\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\w+\s+\d{1,2},?\s+\d{4}|\d{4}-\d{2}-\d{2}`

var (
	commenceRe     = regexp.MustCompile(`(?i)(?:lease\s*|rent\s*)?commenc\w+\s*date\D{0,40}?(` + datePat + `)`)
	rentCommenceRe = regexp.MustCompile(`(?i)rent\s*commenc\w+\s*date\D{0,40}?(` + datePat + `)`)
	expireRe       = regexp.MustCompile(`(?i)(?:lease\s*)?expir\w+\D{0,40}?(` + datePat + `)`)
	optionNoticeRe = regexp.MustCompile(`(?i)option\W+(?:\w+\W+){0,8}?(?:exercis|notic)\w*\W+(?:\w+\W+){0,5}?(\d+)\s*(days?|months?)`)
	noticeRe       = regexp.MustCompile(`(?i)(\d+)\s*days?['’]?\s*(?:prior\s*)?(?:written\s*)?notice`)
	termYearsRe    = regexp.MustCompile(`(?i)term\s+of\s+(?:\w+\s+)?\(?(\d+)\)?\s*years?`)
)

func extractDateTime(content string) (map[string]any, float64) {
	data := make(map[string]any)

	if m := rentCommenceRe.FindStringSubmatch(content); m != nil {
		data["rent_commencement"] = strings.TrimSpace(m[1])
	}
	if m := commenceRe.FindStringSubmatch(content); m != nil {
		data["lease_commencement"] = strings.TrimSpace(m[1])
	}
	if m := expireRe.FindStringSubmatch(content); m != nil {
		data["lease_expiration"] = strings.TrimSpace(m[1])
	}
	if m := optionNoticeRe.FindStringSubmatch(content); m != nil {
		n := parseInt(m[1])
		if strings.HasPrefix(strings.ToLower(m[2]), "month") {
			n *= 30
		}
		data["option_notice_days"] = n
	}
	if m := noticeRe.FindStringSubmatch(content); m != nil {
		data["notice_days"] = parseInt(m[1])
	}
	if m := termYearsRe.FindStringSubmatch(content); m != nil {
		data["term_years"] = parseInt(m[1])
	}

	conf := 0.5
	if _, ok := data["lease_commencement"]; ok {
		conf = 0.9
	} else if len(data) > 0 {
		conf = 0.7
	}
	return data, conf
}

var (
	ifThenRe    = regexp.MustCompile(`(?i)if\s+([^,\.]+),?\s*then\s+([^\.]+)`)
	coTenancyRe = regexp.MustCompile(`(?i)co[\s-]*tenancy`)
	cureRe      = regexp.MustCompile(`(?i)cure\W+(?:\w+\W+){0,5}?(\d+)\s*(days?|months?)`)
	remedyRes   = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:alternative|substitute|reduced)\s*rent\D*?(\d+(?:\.\d+)?)\s*%`),
		regexp.MustCompile(`(?i)(?:terminate|termination)\W+(?:\w+\W+){0,5}?(?:right|option)`),
		regexp.MustCompile(`(?i)(?:abate|abatement)\W+(?:\w+\W+){0,3}?rent`),
	}
)

var triggerKeywords = []string{
	"sale", "assignment", "default", "bankruptcy", "demolition",
	"condemnation", "casualty", "change of control",
}

func extractConditional(content string) (map[string]any, float64) {
	data := make(map[string]any)

	var conditions []map[string]string
	for _, m := range ifThenRe.FindAllStringSubmatch(content, -1) {
		conditions = append(conditions, map[string]string{
			"condition":   strings.TrimSpace(m[1]),
			"consequence": strings.TrimSpace(m[2]),
		})
	}
	if len(conditions) > 0 {
		data["conditional_rights"] = conditions
	}

	lower := strings.ToLower(content)
	var triggers []string
	for _, kw := range triggerKeywords {
		if strings.Contains(lower, kw) {
			triggers = append(triggers, kw)
		}
	}
	if len(triggers) > 0 {
		data["triggering_events"] = triggers
	}

	if coTenancyRe.MatchString(content) {
		data["has_co_tenancy"] = true
		var remedies []string
		for _, re := range remedyRes {
			if m := re.FindString(content); m != "" {
				if len(m) > 200 {
					m = m[:200]
				}
				remedies = append(remedies, m)
			}
		}
		if len(remedies) > 0 {
			data["co_tenancy_remedies"] = remedies
		}
	}
	if m := cureRe.FindStringSubmatch(content); m != nil {
		n := parseInt(m[1])
		if strings.HasPrefix(strings.ToLower(m[2]), "month") {
			n *= 30
		}
		data["cure_period_days"] = n
	}

	conf := 0.6
	if len(conditions) > 0 || len(triggers) > 0 {
		conf = 0.8
	}
	return data, conf
}

var (
	renewalCountRe = regexp.MustCompile(`(?i)(\d+)\s*(?:renewal|extension)\s*options?`)
	renewalTermRe  = regexp.MustCompile(`(?i)(\d+)[\s-]*year\s*(?:term|period)`)
	marketRateRe   = regexp.MustCompile(`(?i)market\s*(?:rate|rent)`)
	fixedIncRe     = regexp.MustCompile(`(?i)fixed\s*increase`)
	sameRateRe     = regexp.MustCompile(`(?i)same\s*(?:rate|rent)`)
	rofrRe         = regexp.MustCompile(`(?i)right\s*of\s*first\s*refusal`)
	rofoRe         = regexp.MustCompile(`(?i)right\s*of\s*first\s*offer`)
	expansionRe    = regexp.MustCompile(`(?i)(?:right|option)\s*to\s*(?:lease|expand)\W+(?:\w+\W+){0,8}?(?:additional|adjacent|contiguous)\s*(?:space|premises)`)
	exclusiveRe    = regexp.MustCompile(`(?i)exclusive\s*(?:use|right)`)
	relocationRe   = regexp.MustCompile(`(?i)relocat\w+`)
)

func extractRights(content string) (map[string]any, float64) {
	data := make(map[string]any)

	if m := renewalCountRe.FindStringSubmatch(content); m != nil {
		data["renewal_option_count"] = parseInt(m[1])
		if tm := renewalTermRe.FindStringSubmatch(content); tm != nil {
			data["renewal_term_years"] = parseInt(tm[1])
		}
	}
	switch {
	case marketRateRe.MatchString(content):
		data["renewal_rent_terms"] = "market_rate"
	case fixedIncRe.MatchString(content):
		data["renewal_rent_terms"] = "fixed_increase"
	case sameRateRe.MatchString(content):
		data["renewal_rent_terms"] = "same_as_current"
	}
	if rofrRe.MatchString(content) {
		data["rofr"] = true
	}
	if rofoRe.MatchString(content) {
		data["rofo"] = true
	}
	if expansionRe.MatchString(content) {
		data["expansion_rights"] = true
	}
	if exclusiveRe.MatchString(content) {
		data["exclusive_use"] = true
	}
	if relocationRe.MatchString(content) {
		data["relocation_provision"] = true
	}

	conf := 0.5
	if _, ok := data["renewal_option_count"]; ok {
		conf = 0.9
	} else if len(data) > 0 {
		conf = 0.85
	}
	return data, conf
}

// runSpecialized routes one candidate through its category extractor and
// merges the result into structured_data. On a key collision the
// higher-confidence side keeps the value.
func runSpecialized(c *lease.ExtractedClause) lease.ClauseCategory {
	category := lease.Categorize(c.ClauseType)

	var data map[string]any
	var conf float64
	switch category {
	case lease.CategoryFinancial:
		data, conf = extractFinancial(c.Content + "\n" + c.RawExcerpt)
	case lease.CategoryDateTime:
		data, conf = extractDateTime(c.Content + "\n" + c.RawExcerpt)
	case lease.CategoryConditional:
		data, conf = extractConditional(c.Content + "\n" + c.RawExcerpt)
	case lease.CategoryRights:
		data, conf = extractRights(c.Content + "\n" + c.RawExcerpt)
	default:
		return category
	}
	if len(data) == 0 {
		return category
	}

	if c.StructuredData == nil {
		c.StructuredData = make(map[string]any, len(data))
	}
	for k, v := range data {
		if _, exists := c.StructuredData[k]; exists && c.Confidence >= conf {
			continue
		}
		c.StructuredData[k] = v
	}
	return category
}

func parseCurrency(s string) float64 {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	return parseNumber(s)
}

func parseNumber(s string) float64 {
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0
	}
	return n
}
