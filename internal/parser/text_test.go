package parser

import (
	"strings"
	"testing"
)

func TestTextParser_BasicParagraphSplitting(t *testing.T) {
	input := "First paragraph line one.\nFirst paragraph line two.\n\nSecond paragraph.\n\nThird paragraph."
	p := &TextParser{}
	res, err := p.Parse(strings.NewReader(input), "notes.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Title != "notes" {
		t.Errorf("expected title %q, got %q", "notes", res.Title)
	}
	want := "First paragraph line one.\nFirst paragraph line two.\n\nSecond paragraph.\n\nThird paragraph."
	if res.Text != want {
		t.Errorf("expected %q, got %q", want, res.Text)
	}
}

func TestTextParser_EmptyInput(t *testing.T) {
	p := &TextParser{}
	res, err := p.Parse(strings.NewReader(""), "empty.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Title != "empty" {
		t.Errorf("expected title %q, got %q", "empty", res.Title)
	}
	if res.Text != "" {
		t.Errorf("expected empty text, got %q", res.Text)
	}
}

func TestTextParser_SingleLine(t *testing.T) {
	p := &TextParser{}
	res, err := p.Parse(strings.NewReader("Hello world"), "single.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", res.Text)
	}
}

func TestTextParser_MultipleBlankLines(t *testing.T) {
	// Multiple consecutive blank lines collapse to one paragraph break.
	input := "Para one.\n\n\n\nPara two."
	p := &TextParser{}
	res, err := p.Parse(strings.NewReader(input), "gaps.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Para one.\n\nPara two." {
		t.Errorf("got %q", res.Text)
	}
}

func TestTextParser_WhitespaceOnlyLines(t *testing.T) {
	// Lines with only whitespace should be treated as blank.
	input := "Para one.\n   \nPara two."
	p := &TextParser{}
	res, err := p.Parse(strings.NewReader(input), "ws.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Para one.\n\nPara two." {
		t.Errorf("got %q", res.Text)
	}
}

func TestTextParser_PageMarkersPreserved(t *testing.T) {
	input := "--- PAGE 1 ---\nARTICLE I\n\nBody.\n\n--- PAGE 2 ---\nMore body."
	p := &TextParser{}
	res, err := p.Parse(strings.NewReader(input), "lease.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Text, "--- PAGE 1 ---") || !strings.Contains(res.Text, "--- PAGE 2 ---") {
		t.Errorf("page markers lost: %q", res.Text)
	}
}
