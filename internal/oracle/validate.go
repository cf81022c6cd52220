package oracle

import (
	"errors"
	"regexp"
	"strings"
)

// instructionRe matches response text that reads like a prompt rather than
// a judgment about the document. A lease clause never tells anyone to
// ignore previous instructions; a poisoned document might.
var instructionRe = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`forget\s+(everything|all)|new\s+instructions)`,
)

const maxClauseTypeLen = 120

// VetResult checks an oracle response before it enters the pipeline.
// Confidence is clamped into [0, 1]; a response whose labels carry
// instruction-like content or an absurd clause type is rejected as
// malformed so the caller degrades the clause instead of storing it.
func VetResult(res *Result) error {
	if res == nil {
		return &MalformedError{Err: errors.New("nil result")}
	}
	if len(res.ClauseType) > maxClauseTypeLen {
		return &MalformedError{
			Raw: res.ClauseType,
			Err: errors.New("clause type exceeds length limit"),
		}
	}
	if instructionRe.MatchString(res.ClauseType) || instructionRe.MatchString(res.Justification) {
		return &MalformedError{
			Raw: strings.TrimSpace(res.ClauseType + " " + res.Justification),
			Err: errors.New("instruction-like content in response"),
		}
	}
	if res.Confidence < 0 {
		res.Confidence = 0
	}
	if res.Confidence > 1 {
		res.Confidence = 1
	}
	return nil
}
