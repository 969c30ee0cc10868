package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
	"github.com/adverant/nexus/ocrdiff-worker/internal/processor"
)

func writeDoc(t *testing.T, dir, name string, words ...string) string {
	t.Helper()
	doc := diff.Document{Path: name + ".pdf", Pages: 1}
	for i, w := range words {
		doc.Tokens = append(doc.Tokens, diff.Token{
			Text:        w,
			Page:        1,
			BoundingBox: diff.BoundingBox{X: 10 + i*60, Y: 100, Width: 50, Height: 20},
		})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestCompareCommand(t *testing.T) {
	dir := t.TempDir()
	a := writeDoc(t, dir, "a", "Hello", "world")
	b := writeDoc(t, dir, "b", "Hello", "there")

	out, err := execute(t, "compare", a, b)
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if !strings.Contains(out, "\n  \"pdf_a_path\"") {
		t.Fatalf("expected two-space indented JSON, got %s", out)
	}

	var result diff.DiffResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output is not a DiffResult: %v", err)
	}
	if result.PDFAPath != "a.pdf" || result.TotalDifferences != 1 || result.DiffItems[0].Operation != diff.OpReplace {
		t.Fatalf("unexpected result %+v", result)
	}
	if *result.DiffItems[0].TextA != "Hello world" || *result.DiffItems[0].TextB != "Hello there" {
		t.Fatalf("unexpected texts %q / %q", *result.DiffItems[0].TextA, *result.DiffItems[0].TextB)
	}
}

func TestCompareCommandWritesFile(t *testing.T) {
	dir := t.TempDir()
	a := writeDoc(t, dir, "a", "same")
	b := writeDoc(t, dir, "b", "same")
	outPath := filepath.Join(dir, "out.json")

	out, err := execute(t, "compare", a, b, "-o", outPath, "--page-workers", "2", "--no-char-cleanup")
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if out != "" {
		t.Fatalf("nothing should be printed when -o is set, got %q", out)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	var result diff.DiffResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if result.TotalDifferences != 0 || len(result.DiffItems) != 0 {
		t.Fatalf("identical documents must not differ: %+v", result)
	}
}

func TestCompareCommandErrors(t *testing.T) {
	dir := t.TempDir()
	a := writeDoc(t, dir, "a", "x")
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"total_pages": 1, "tokens": [{"text": "x", "page": 3}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := map[string][]string{
		"missing argument": {"compare", a},
		"missing file":     {"compare", a, filepath.Join(dir, "nope.json")},
		"token off page":   {"compare", a, bad},
		"bad ratio":        {"compare", a, a, "--tolerance-ratio", "0"},
		"bad workers":      {"compare", a, a, "--page-workers", "0"},
		"negative gap":     {"compare", a, a, "--max-word-gap=-1"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := execute(t, args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCompareFlagsOptions(t *testing.T) {
	f := compareFlags{toleranceRatio: 0.8, tolerancePx: 4, maxWordGap: 100, pageWorkers: 3, noCharCleanup: true}
	opts, err := f.options()
	if err != nil {
		t.Fatal(err)
	}
	want := diff.GroupOptions{ToleranceRatio: 0.8, TolerancePx: 4, MaxWordGap: 100}
	if opts.Grouping != want || opts.CharCleanup || opts.PageWorkers != 3 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestOCRCommandRejectsBadDPI(t *testing.T) {
	if _, err := execute(t, "ocr", "page.png", "--dpi", "1200"); err == nil {
		t.Fatal("expected DPI validation error")
	}
	if _, err := execute(t, "ocr"); err == nil {
		t.Fatal("expected error without page images")
	}
}

func TestTokenDocument(t *testing.T) {
	result := &processor.OCRResult{Pages: []processor.OCRPage{
		{PageNumber: 2, Words: []processor.OCRWord{{Text: "b", BoundingBox: diff.BoundingBox{X: 1, Y: 1, Width: 2, Height: 2}}}},
	}}
	doc := tokenDocument("scan.pdf", 2, result)
	if doc.Pages != 2 || len(doc.Tokens) != 1 || doc.Tokens[0].Page != 2 {
		t.Fatalf("unexpected document %+v", doc)
	}

	empty := tokenDocument("", 1, &processor.OCRResult{})
	data, _ := json.Marshal(empty)
	if !strings.Contains(string(data), `"tokens":[]`) {
		t.Fatalf("empty documents serialize an empty token list, got %s", data)
	}
}
