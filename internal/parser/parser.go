package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Result is a parsed document: plain text ready for segmentation, plus a
// best-effort title. Parsers that know page boundaries emit
// "--- PAGE N ---" markers in the text; headings come out as standalone
// lines so the heading detector still sees them.
type Result struct {
	Title string
	Text  string
}

// Parser converts raw document bytes into plain text.
type Parser interface {
	Parse(r io.Reader, filename string) (*Result, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// stripExt drops the file extension for the fallback title.
func stripExt(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
