package report

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/runner"
)

var generated = time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)

func sampleOutcomes() []runner.Outcome {
	return []runner.Outcome{
		{
			RunID: "r-1", Scenario: "home", Browser: driver.Chrome, State: runner.Passed,
			StepsRun: 4, Duration: 1200 * time.Millisecond,
		},
		{
			RunID: "r-2", Scenario: "fabric", Browser: driver.Firefox, State: runner.Failed,
			StepsRun: 4, FailedStep: 4, Duration: 900 * time.Millisecond,
			Err: fmt.Errorf("step 4 (read text of heading into heading): %w",
				&errs.AssertionError{Name: "heading", Expected: "Tecido", Observed: "Tecidos"}),
			Observations: map[string]string{"title": "Textile V2.1", "heading": "Tecidos"},
			Artifacts:    []string{"https://artifacts.example/runs/r-2/fabric-firefox.png"},
		},
	}
}

func TestSubject(t *testing.T) {
	t.Parallel()

	if got := Subject(sampleOutcomes()); got != "textile-e2e: 1 of 2 runs failed (assertion)" {
		t.Fatalf("Subject = %q", got)
	}
	if got := Subject(sampleOutcomes()[:1]); got != "textile-e2e: all 1 runs passed" {
		t.Fatalf("Subject = %q", got)
	}
}

func TestMarkdown_TableAndFailureDetails(t *testing.T) {
	t.Parallel()

	md := Markdown(sampleOutcomes(), generated)
	for _, want := range []string{
		"Generated 2026-06-01T08:30:00Z. **1 passed, 1 failed** of 2 runs.",
		"| home | chrome | passed | 4 | 1.2s |  |",
		"| fabric | firefox | **failed** | 4 | 900ms | assertion |",
		"### fabric on firefox",
		"- Failed step: 4",
		"[Screenshot 1](https://artifacts.example/runs/r-2/fabric-firefox.png)",
		`expected "Tecido", observed "Tecidos"`,
		"- `heading`: Tecidos",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
	if strings.Index(md, "`heading`") > strings.Index(md, "`title`") {
		t.Error("observations are not sorted by key")
	}
}

func TestMarkdown_NoRuns(t *testing.T) {
	t.Parallel()

	md := Markdown(nil, generated)
	if !strings.Contains(md, "No scenarios were run.") {
		t.Fatalf("markdown = %q", md)
	}
}

func TestHTML_RendersTableAndSanitizes(t *testing.T) {
	t.Parallel()

	outcomes := sampleOutcomes()
	outcomes[1].Observations["heading"] = `<script>alert("x")</script>`
	page, err := HTML(Markdown(outcomes, generated), "Textile <E2E>")
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	html := string(page)

	if !strings.Contains(html, "<title>Textile &lt;E2E&gt;</title>") {
		t.Error("title not escaped")
	}
	if !strings.Contains(html, "<table>") || !strings.Contains(html, "<td>fabric</td>") {
		t.Errorf("table not rendered:\n%s", html)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("script tag survived sanitization:\n%s", html)
	}
	if !strings.Contains(html, `href="https://artifacts.example/runs/r-2/fabric-firefox.png"`) {
		t.Error("screenshot link missing")
	}
}

func testCell_SingleLineBounded(t *rapid.T) {
	s := rapid.String().Draw(t, "s")
	got := cell(s)

	if strings.ContainsAny(got, "\n\r") {
		t.Fatalf("cell(%q) = %q contains a newline", s, got)
	}
	if n := len([]rune(got)); n > maxCellChars {
		t.Fatalf("cell(%q) has %d runes", s, n)
	}
	if strings.Contains(strings.ReplaceAll(got, `\|`, ""), "|") {
		t.Fatalf("cell(%q) = %q has an unescaped pipe", s, got)
	}
}

func TestCell_SingleLineBounded(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCell_SingleLineBounded)
}
