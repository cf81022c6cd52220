// Package segment builds a hierarchical AST from flat OCR'd lease text.
//
// Heading candidates are detected with an ordered pattern list, filtered for
// overlaps, merged when fragmented, and assembled into a tree with a level
// stack. Degenerate inputs fall back to paragraph splitting and finally to a
// single whole-document node; only fully empty input is an error.
package segment

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

// ErrEmptyDocument is returned when no usable content remains after every
// fallback.
var ErrEmptyDocument = errors.New("segment: document has no usable content")

const (
	defaultMinSegmentChars = 50
	defaultMergeProximity  = 500
	defaultCharsPerPage    = 3000
)

// Config controls segmentation behavior.
type Config struct {
	MinSegmentChars int // Minimum span length to keep as its own node.
	MergeProximity  int // Same-level headings closer than this merge into one boundary.
	CharsPerPage    int // Page-estimate ratio when no page markers exist.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinSegmentChars: defaultMinSegmentChars,
		MergeProximity:  defaultMergeProximity,
		CharsPerPage:    defaultCharsPerPage,
	}
}

// Heading levels, most significant first. On >50% overlap the candidate
// with the smaller level wins.
const (
	levelArticle = 1
	levelSection = 2
	levelNumbered = 3
	levelLettered = 4
	levelAllCaps  = 5
)

type headingPattern struct {
	re    *regexp.Regexp
	level int
}

var headingPatterns = []headingPattern{
	{regexp.MustCompile(`(?m)^[ \t]*(?:ARTICLE|Article)\s+(?:[IVXLCDM]+|\d+)\b[^\n]*`), levelArticle},
	{regexp.MustCompile(`(?m)^[ \t]*(?:SECTION|Section)\s+\d+(?:\.\d+)*\b[^\n]*`), levelSection},
	{regexp.MustCompile(`(?m)^[ \t]*\d+(?:\.\d+)+\s+[A-Z][^\n]{2,}`), levelNumbered},
	{regexp.MustCompile(`(?m)^[ \t]*(?:\([a-z]\)|[A-Z]\.)\s+[^\n]{2,}`), levelLettered},
	{regexp.MustCompile(`(?m)^[ \t]*[A-Z][A-Z0-9 \t.,:;()'&_-]{8,}[A-Z)]$`), levelAllCaps},
}

type candidate struct {
	start, end int
	level      int
	text       string
}

// Build segments text into a document AST. Identical input always yields an
// identical tree.
func Build(text string, cfg Config) (*Tree, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}
	if cfg.MinSegmentChars <= 0 {
		cfg.MinSegmentChars = defaultMinSegmentChars
	}
	if cfg.MergeProximity <= 0 {
		cfg.MergeProximity = defaultMergeProximity
	}
	if cfg.CharsPerPage <= 0 {
		cfg.CharsPerPage = defaultCharsPerPage
	}

	markers := extractPages(text, cfg.CharsPerPage)

	cands := detectHeadings(text)
	cands = filterOverlaps(cands)
	cands = mergeNearby(cands, cfg.MergeProximity)

	if len(cands) < 2 {
		return paragraphFallback(text, markers, cfg), nil
	}
	return buildHeadingTree(text, cands, markers, cfg), nil
}

func detectHeadings(text string) []candidate {
	var cands []candidate
	for _, hp := range headingPatterns {
		for _, loc := range hp.re.FindAllStringIndex(text, -1) {
			cands = append(cands, candidate{
				start: loc[0],
				end:   loc[1],
				level: hp.level,
				text:  strings.TrimSpace(text[loc[0]:loc[1]]),
			})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].start != cands[j].start {
			return cands[i].start < cands[j].start
		}
		return cands[i].level < cands[j].level
	})
	return cands
}

// filterOverlaps drops the less specific of any two candidates whose spans
// overlap by more than half of the shorter span.
func filterOverlaps(cands []candidate) []candidate {
	var kept []candidate
	for _, c := range cands {
		replaced := false
		drop := false
		for i, k := range kept {
			ov := overlap(c, k)
			if ov == 0 {
				continue
			}
			shorter := min(c.end-c.start, k.end-k.start)
			if shorter <= 0 || ov*2 <= shorter {
				continue
			}
			if c.level < k.level {
				kept[i] = c
				replaced = true
			} else {
				drop = true
			}
			break
		}
		if !drop && !replaced {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	return kept
}

func overlap(a, b candidate) int {
	lo := max(a.start, b.start)
	hi := min(a.end, b.end)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// mergeNearby collapses same-level headings closer than the proximity
// threshold into a single boundary, keeping the first.
func mergeNearby(cands []candidate, proximity int) []candidate {
	if len(cands) == 0 {
		return cands
	}
	out := cands[:1]
	for _, c := range cands[1:] {
		prev := out[len(out)-1]
		if c.level == prev.level && c.start-prev.start < proximity {
			continue
		}
		out = append(out, c)
	}
	return out
}

type span struct {
	start, end int
	level      int
	heading    string
}

func buildHeadingTree(text string, cands []candidate, markers []pageMarker, cfg Config) *Tree {
	spans := make([]span, 0, len(cands)+1)
	if cands[0].start > 0 {
		spans = append(spans, span{start: 0, end: cands[0].start, level: cands[0].level, heading: "PREAMBLE"})
	}
	for i, c := range cands {
		end := len(text)
		if i+1 < len(cands) {
			end = cands[i+1].start
		}
		spans = append(spans, span{start: c.start, end: end, level: c.level, heading: c.text})
	}
	spans = mergeShortSpans(spans, cfg.MinSegmentChars)

	t := &Tree{Text: text}
	t.Nodes = append(t.Nodes, Node{
		Heading:   "",
		CharStart: 0,
		CharEnd:   len(text),
		Level:     0,
		Parent:    -1,
		PageStart: pageAt(markers, 0),
		PageEnd:   pageAt(markers, maxOffset(len(text))),
	})

	// Stack holds node indices; attach each span under the nearest
	// preceding span of a more significant level.
	stack := []int{0}
	for _, s := range spans {
		for len(stack) > 1 && t.Nodes[stack[len(stack)-1]].Level >= s.level {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1]
		id := len(t.Nodes)
		t.Nodes = append(t.Nodes, Node{
			Heading:   s.heading,
			Content:   strings.TrimSpace(text[s.start:s.end]),
			CharStart: s.start,
			CharEnd:   s.end,
			Level:     s.level,
			Parent:    parent,
			PageStart: pageAt(markers, s.start),
			PageEnd:   pageAt(markers, maxOffset(s.end)),
		})
		t.Nodes[parent].Children = append(t.Nodes[parent].Children, id)
		stack = append(stack, id)
	}

	normalizeRanges(t)
	return t
}

// mergeShortSpans folds spans shorter than the minimum into their
// predecessor (or successor for the first span) so leaf ranges stay
// contiguous.
func mergeShortSpans(spans []span, minChars int) []span {
	var out []span
	for _, s := range spans {
		if s.end-s.start < minChars {
			if len(out) > 0 {
				out[len(out)-1].end = s.end
				continue
			}
			// First span too short: fold it into the next by
			// widening that span's start.
			s.heading = ""
			out = append(out, s)
			continue
		}
		if len(out) == 1 && out[0].heading == "" && out[0].end-out[0].start < minChars {
			s.start = out[0].start
			out[0] = s
			continue
		}
		out = append(out, s)
	}
	return out
}

// normalizeRanges widens every interior node to enclose its descendants and
// inserts an intro leaf for a parent's own content span, so that leaf
// ranges exactly partition the document.
func normalizeRanges(t *Tree) {
	var widen func(id int) (int, int)
	widen = func(id int) (int, int) {
		n := &t.Nodes[id]
		if len(n.Children) == 0 {
			return n.CharStart, n.CharEnd
		}
		first := t.Nodes[n.Children[0]].CharStart
		if n.CharStart < first {
			intro := len(t.Nodes)
			t.Nodes = append(t.Nodes, Node{
				Heading:   "",
				Content:   strings.TrimSpace(t.Text[n.CharStart:first]),
				CharStart: n.CharStart,
				CharEnd:   first,
				Level:     n.Level + 1,
				Parent:    id,
				PageStart: n.PageStart,
				PageEnd:   n.PageEnd,
			})
			n = &t.Nodes[id]
			n.Children = append([]int{intro}, n.Children...)
		}
		lo, hi := n.CharStart, n.CharEnd
		for _, c := range n.Children {
			cs, ce := widen(c)
			if cs < lo {
				lo = cs
			}
			if ce > hi {
				hi = ce
			}
		}
		n = &t.Nodes[id]
		n.CharStart, n.CharEnd = lo, hi
		return lo, hi
	}
	widen(0)
}

// paragraphFallback splits on blank lines when heading detection finds too
// little structure; very short documents become a single whole-document
// node.
func paragraphFallback(text string, markers []pageMarker, cfg Config) *Tree {
	t := &Tree{Text: text}
	t.Nodes = append(t.Nodes, Node{
		Heading:   "",
		CharStart: 0,
		CharEnd:   len(text),
		Level:     0,
		Parent:    -1,
		PageStart: pageAt(markers, 0),
		PageEnd:   pageAt(markers, maxOffset(len(text))),
	})

	starts := paragraphStarts(text, cfg.MinSegmentChars)
	if len(starts) < 3 {
		// Whole-document node.
		t.Nodes[0].Content = strings.TrimSpace(text)
		return t
	}

	starts[0] = 0
	for i, s := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		id := len(t.Nodes)
		t.Nodes = append(t.Nodes, Node{
			Heading:   "",
			Content:   strings.TrimSpace(text[s:end]),
			CharStart: s,
			CharEnd:   end,
			Level:     1,
			Parent:    0,
			PageStart: pageAt(markers, s),
			PageEnd:   pageAt(markers, maxOffset(end)),
		})
		t.Nodes[0].Children = append(t.Nodes[0].Children, id)
	}
	return t
}

var blankLineRe = regexp.MustCompile(`\n[ \t]*\n`)

func paragraphStarts(text string, minChars int) []int {
	bounds := blankLineRe.FindAllStringIndex(text, -1)
	starts := []int{0}
	for _, b := range bounds {
		starts = append(starts, b[1])
	}
	var kept []int
	for i, s := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if len(strings.TrimSpace(text[s:end])) >= minChars {
			kept = append(kept, s)
		}
	}
	return kept
}

func maxOffset(end int) int {
	if end > 0 {
		return end - 1
	}
	return 0
}
