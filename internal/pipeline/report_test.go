package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"scour/internal/plan"
	"scour/internal/summarize"
)

func TestValidateCitations(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		sources     int
		want        string
		wantDropped []int
	}{
		{
			name:    "all in range",
			content: "fact [Source 1] and [Source 2]",
			sources: 2,
			want:    "fact [Source 1] and [Source 2]",
		},
		{
			name:        "out of range stripped",
			content:     "fact [Source 1]. phantom [Source 7].",
			sources:     1,
			want:        "fact [Source 1]. phantom.",
			wantDropped: []int{7},
		},
		{
			name:        "zero is invalid",
			content:     "bad [Source 0] text",
			sources:     3,
			want:        "bad text",
			wantDropped: []int{0},
		},
		{
			name:    "no citations",
			content: "plain prose only",
			sources: 2,
			want:    "plain prose only",
		},
		{
			name:        "no sources strips everything",
			content:     "claim [Source 1]",
			sources:     0,
			want:        "claim",
			wantDropped: []int{1},
		},
		{
			name:    "leading citation kept",
			content: "[Source 1] opens the report",
			sources: 1,
			want:    "[Source 1] opens the report",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := validateCitations(tt.content, tt.sources)
			if got != tt.want {
				t.Errorf("content = %q, want %q", got, tt.want)
			}
			if diff := cmp.Diff(tt.wantDropped, dropped); diff != "" {
				t.Errorf("dropped mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReportPromptOrdering(t *testing.T) {
	rp := &plan.ResearchPlan{
		Sections:  []string{"Background", "Findings"},
		Rationale: "standard coverage",
	}
	selected := []summarize.Summary{
		{SourceURL: "https://a.example", Title: "Alpha", Text: "alpha facts"},
		{SourceURL: "https://b.example", Text: "beta facts"},
	}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	prompt := reportPrompt(plan.Query{Text: "the query", Intent: plan.Research}, rp, selected, now)

	order := []string{
		"CRITICAL INSTRUCTIONS",
		"Current Date: June 1, 2025",
		"Generate a comprehensive research report",
		`"the query"`,
		"Intent: research",
		"- Background\n- Findings",
		"Source 1: https://a.example\nTitle: Alpha\nalpha facts",
		"Source 2: https://b.example\nTitle: N/A\nbeta facts",
		"ADDITIONAL QUALITY GUIDELINES:",
		"Format the report in Markdown.",
	}
	last := -1
	for _, want := range order {
		idx := strings.Index(prompt, want)
		if idx < 0 {
			t.Fatalf("prompt missing %q", want)
		}
		if idx < last {
			t.Errorf("%q appears out of order", want)
		}
		last = idx
	}
}

func TestReportPromptWithoutSummaries(t *testing.T) {
	rp := &plan.ResearchPlan{
		Sections:  []string{"Overview"},
		Rationale: "broad first pass",
	}
	prompt := reportPrompt(plan.Query{Text: "q", Intent: plan.General}, rp, nil, time.Now())

	if !strings.Contains(prompt, "preliminary report") {
		t.Error("missing preliminary note")
	}
	if !strings.Contains(prompt, "Research Approach:\nbroad first pass") {
		t.Error("missing plan rationale")
	}
	if strings.Contains(prompt, "CRITICAL INSTRUCTIONS") {
		t.Error("grounding header has nothing to ground")
	}
	if strings.Contains(prompt, "Research Summaries:") {
		t.Error("summaries block present without summaries")
	}
}

func testReport() *Report {
	return &Report{
		Query:       plan.Query{Text: "what is x", Intent: plan.Informational},
		Content:     "Body text [Source 1].",
		GeneratedAt: time.Date(2025, 6, 1, 9, 30, 15, 0, time.UTC),
		Complete:    true,
		Sources: []summarize.Summary{
			{SourceURL: "https://a.example", Title: "Alpha", Text: "a"},
			{SourceURL: "https://b.example", Text: "b"},
		},
		Metadata: []Metadatum{
			{"intent", "informational"},
			{"status", "complete"},
			{"num_sources", "2"},
		},
	}
}

func TestWriteReportLayout(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteReport(dir, testReport())
	if err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if got, want := filepath.Base(path), "report_20250601_093015.md"; got != want {
		t.Errorf("file name = %q, want %q", got, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	body := string(data)

	order := []string{
		"# Research Report",
		"**Query:** what is x",
		"**Intent:** informational",
		"**Generated:** 2025-06-01 09:30:15",
		"---",
		"Body text [Source 1].",
		"## Sources",
		"**[Source 1]** Alpha\n- URL: https://a.example",
		"**[Source 2]** Untitled\n- URL: https://b.example",
		"**Metadata:**",
		"- intent: informational",
		"- status: complete",
		"- num_sources: 2",
	}
	last := -1
	for _, want := range order {
		idx := strings.Index(body, want)
		if idx < 0 {
			t.Fatalf("report missing %q", want)
		}
		if idx < last {
			t.Errorf("%q appears out of order", want)
		}
		last = idx
	}
}

func TestWriteReportLimitationsGating(t *testing.T) {
	tests := []struct {
		name     string
		complete bool
		gaps     []string
		want     bool
	}{
		{"incomplete with gaps", false, []string{"no pricing data"}, true},
		{"incomplete without gaps", false, nil, false},
		{"complete", true, []string{"stale gap"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testReport()
			r.Complete = tt.complete
			r.Gaps = tt.gaps
			r.Rationale = "one iteration was not enough"

			path, err := WriteReport(t.TempDir(), r)
			if err != nil {
				t.Fatalf("WriteReport: %v", err)
			}
			data, _ := os.ReadFile(path)
			body := string(data)

			has := strings.Contains(body, "## ⚠️ Research Limitations")
			if has != tt.want {
				t.Fatalf("limitations present = %v, want %v", has, tt.want)
			}
			if tt.want {
				for _, line := range []string{
					"1. no pricing data",
					"**Assessment:** one iteration was not enough",
					"*Note: The report above is based on available sources.",
				} {
					if !strings.Contains(body, line) {
						t.Errorf("limitations missing %q", line)
					}
				}
			}
		})
	}
}

func TestWriteReportAppendixAfterMetadata(t *testing.T) {
	r := testReport()
	r.Appendix = "# Verification Report\n\n## Summary\n\n- **Total Claims**: 3"

	path, err := WriteReport(t.TempDir(), r)
	if err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	data, _ := os.ReadFile(path)
	body := string(data)

	meta := strings.Index(body, "**Metadata:**")
	appendix := strings.Index(body, "# Verification Report")
	if appendix < 0 {
		t.Fatal("appendix missing")
	}
	if appendix < meta {
		t.Error("appendix placed before metadata")
	}
	if !strings.Contains(body[meta:appendix], "---") {
		t.Error("no separator between metadata and appendix")
	}
}

func TestWriteReportCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	path, err := WriteReport(dir, testReport())
	if err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("report not written: %v", err)
	}
}
