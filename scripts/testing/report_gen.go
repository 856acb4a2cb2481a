package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const modulePath = "github.com/appforge/usagesync/"

// categories maps Test Case ID prefixes to report sections
var categories = map[string]string{
	"SYNC": "Sync Job",
	"RUN":  "Runner",
	"QTA":  "Quota Document",
	"MEM":  "In-Memory Store",
	"PG":   "PostgreSQL Store",
	"API":  "Admin API",
	"TEN":  "Tenant Context",
	"AUD":  "Audit",
	"LOG":  "Logging",
	"CFG":  "Configuration",
	"SYS":  "System",
	"MET":  "Metrics",
	"TRC":  "Tracing",
}

// TestMetadata holds the annotation block above a test function
type TestMetadata struct {
	Name       string `json:"name"`
	Purpose    string `json:"purpose,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Expected   string `json:"expected,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Package    string `json:"package"`
	Category   string `json:"category"`
}

// GoTestEvent is one line of `go test -json`
type GoTestEvent struct {
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
	Output  string  `json:"Output"`
}

// TestResult merges a test's outcome with its annotations
type TestResult struct {
	Status      string       `json:"status"`
	Elapsed     float64      `json:"elapsed_seconds"`
	Failure     string       `json:"failure_reason,omitempty"`
	Annotations TestMetadata `json:"annotations"`
}

// ReportSummary holds top-level stats
type ReportSummary struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Total       int          `json:"total"`
	Passed      int          `json:"passed"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	Results     []TestResult `json:"results"`
}

func main() {
	inputPath := flag.String("input", "", "Path to go test -json output file")
	outputJSON := flag.String("out-json", "", "Path for output JSON report")
	outputMD := flag.String("out-md", "", "Path for output Markdown report")
	title := flag.String("title", "Usage Sync Test Report", "Report title")
	only := flag.String("category", "", "Only include this category")
	flag.Parse()

	if *inputPath == "" || *outputMD == "" {
		fmt.Println("Usage: report_gen -input <json_file> -out-md <out_md> [-out-json <out_json>]")
		os.Exit(1)
	}

	meta, err := scanMetadata(".")
	if err != nil {
		fmt.Printf("Error scanning tests: %v\n", err)
		os.Exit(1)
	}

	results, err := parseTestOutput(*inputPath, meta)
	if err != nil {
		fmt.Printf("Error reading test output: %v\n", err)
		os.Exit(1)
	}

	if *only != "" {
		var filtered []TestResult
		for _, r := range results {
			if strings.EqualFold(r.Annotations.Category, *only) {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	summary := summarize(results)

	if *outputJSON != "" {
		if err := writeJSON(summary, *outputJSON); err != nil {
			fmt.Printf("Error writing JSON report: %v\n", err)
			os.Exit(1)
		}
	}
	if err := writeMarkdown(summary, *outputMD, *title); err != nil {
		fmt.Printf("Error writing Markdown report: %v\n", err)
		os.Exit(1)
	}

	// Non-zero exit keeps CI gates honest
	if summary.Failed > 0 {
		fmt.Printf("\n❌ %d tests failed\n", summary.Failed)
		os.Exit(1)
	}
}

func scanMetadata(root string) (map[string]TestMetadata, error) {
	out := make(map[string]TestMetadata)
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && (strings.HasPrefix(d.Name(), "_") || d.Name() == ".git") {
			return filepath.SkipDir
		}
		if d.IsDir() || !strings.HasSuffix(path, "_test.go") {
			return nil
		}

		node, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return nil
		}
		pkg := modulePath + filepath.ToSlash(filepath.Dir(path))

		for _, decl := range node.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || !strings.HasPrefix(fn.Name.Name, "Test") || fn.Name.Name == "TestMain" {
				continue
			}
			m := TestMetadata{Name: fn.Name.Name, Package: pkg}
			if fn.Doc != nil {
				for _, c := range fn.Doc.List {
					parseAnnotation(&m, strings.TrimSpace(strings.TrimPrefix(c.Text, "//")))
				}
			}
			m.Category = categoryOf(m.TestCaseID)
			out[pkg+"."+fn.Name.Name] = m
		}
		return nil
	})
	return out, err
}

func parseAnnotation(m *TestMetadata, line string) {
	field := func(prefix string) (string, bool) {
		if !strings.HasPrefix(line, prefix) {
			return "", false
		}
		return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
	}
	if v, ok := field("TestPurpose:"); ok {
		m.Purpose = v
	} else if v, ok := field("Scope:"); ok {
		m.Scope = v
	} else if v, ok := field("Expected:"); ok {
		m.Expected = v
	} else if v, ok := field("Test Case ID:"); ok {
		m.TestCaseID = v
	}
}

func categoryOf(caseID string) string {
	prefix, _, _ := strings.Cut(caseID, "-")
	if c, ok := categories[prefix]; ok {
		return c
	}
	return "Other"
}

func parseTestOutput(path string, meta map[string]TestMetadata) ([]TestResult, error) {
	states := make(map[string]*TestResult, len(meta))
	for key, m := range meta {
		states[key] = &TestResult{Status: "not run", Annotations: m}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev GoTestEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil || ev.Test == "" {
			continue
		}

		key := ev.Package + "." + ev.Test
		res, ok := states[key]
		if !ok {
			// Subtests inherit the parent's annotations
			parent, _, _ := strings.Cut(ev.Test, "/")
			m, found := meta[ev.Package+"."+parent]
			if !found {
				m = TestMetadata{Package: ev.Package, Category: "Other"}
			}
			m.Name = ev.Test
			res = &TestResult{Annotations: m}
			states[key] = res
		}

		switch ev.Action {
		case "pass", "fail":
			res.Status = ev.Action
			res.Elapsed = ev.Elapsed
		case "skip":
			res.Status = "skip"
		case "output":
			if res.Status == "fail" || res.Status == "" || res.Status == "not run" {
				res.Failure += ev.Output
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	list := make([]TestResult, 0, len(states))
	for _, r := range states {
		if r.Status != "fail" {
			r.Failure = ""
		}
		list = append(list, *r)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].Annotations, list[j].Annotations
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.TestCaseID+a.Name < b.TestCaseID+b.Name
	})
	return list, nil
}

func summarize(results []TestResult) ReportSummary {
	s := ReportSummary{GeneratedAt: time.Now().UTC(), Results: results}
	for _, r := range results {
		s.Total++
		switch r.Status {
		case "pass":
			s.Passed++
		case "fail":
			s.Failed++
		case "skip":
			s.Skipped++
		}
	}
	return s
}

func writeJSON(summary ReportSummary, path string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeMarkdown(summary ReportSummary, path, title string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "Generated: %s\n\n", summary.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "| Total | Passed | Failed | Skipped |\n|---|---|---|---|\n| %d | %d | %d | %d |\n\n",
		summary.Total, summary.Passed, summary.Failed, summary.Skipped)

	current := ""
	for _, r := range summary.Results {
		a := r.Annotations
		if a.Category != current {
			current = a.Category
			fmt.Fprintf(&sb, "\n## %s\n\n| ID | Test | Status | Purpose | Expected |\n|---|---|---|---|---|\n", current)
		}
		fmt.Fprintf(&sb, "| %s | `%s` | %s | %s | %s |\n", a.TestCaseID, a.Name, statusIcon(r.Status), a.Purpose, a.Expected)
	}

	var failures []TestResult
	for _, r := range summary.Results {
		if r.Status == "fail" {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		sb.WriteString("\n## Failures\n")
		for _, r := range failures {
			fmt.Fprintf(&sb, "\n### %s\n\n```\n%s```\n", r.Annotations.Name, r.Failure)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func statusIcon(s string) string {
	switch s {
	case "pass":
		return "✅"
	case "fail":
		return "❌"
	case "skip":
		return "⏭️"
	default:
		return "⚪"
	}
}
