package segment

import (
	"regexp"
	"sort"
	"strconv"
)

// pageMarker records where a page begins in the text.
type pageMarker struct {
	page     int
	position int
}

var (
	pageMarkerRe    = regexp.MustCompile(`---\s*PAGE\s*(\d+)\s*---`)
	pageMarkerAltRe = regexp.MustCompile(`(?m)^\s*Page\s+(\d+)\s*$`)
)

// extractPages parses explicit page markers from OCR output. When none are
// present, pages are estimated at a fixed chars-per-page ratio so every
// offset still maps to some page.
func extractPages(text string, charsPerPage int) []pageMarker {
	markers := parseMarkers(text, pageMarkerRe)
	if len(markers) == 0 {
		markers = parseMarkers(text, pageMarkerAltRe)
	}
	if len(markers) > 0 {
		sort.Slice(markers, func(i, j int) bool { return markers[i].position < markers[j].position })
		return markers
	}

	if charsPerPage <= 0 {
		charsPerPage = defaultCharsPerPage
	}
	total := len(text)/charsPerPage + 1
	markers = make([]pageMarker, 0, total)
	for p := 1; p <= total; p++ {
		pos := (p - 1) * charsPerPage
		if pos <= len(text) {
			markers = append(markers, pageMarker{page: p, position: pos})
		}
	}
	return markers
}

func parseMarkers(text string, re *regexp.Regexp) []pageMarker {
	var out []pageMarker
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		out = append(out, pageMarker{page: n, position: m[0]})
	}
	return out
}

// pageAt maps a char offset to the last page marker at or before it.
func pageAt(markers []pageMarker, offset int) int {
	page := 1
	for _, m := range markers {
		if m.position <= offset {
			page = m.page
		} else {
			break
		}
	}
	return page
}
