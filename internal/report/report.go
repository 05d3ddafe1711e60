// Package report renders run outcomes as Markdown and sanitized HTML.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/textile-e2e/internal/runner"
)

const maxCellChars = 80

// Subject returns a one-line summary suitable for an email subject.
func Subject(outcomes []runner.Outcome) string {
	s := runner.Summarize(outcomes)
	if s.OK() {
		return fmt.Sprintf("textile-e2e: all %d runs passed", s.Total)
	}
	return fmt.Sprintf("textile-e2e: %d of %d runs failed (%s)", s.Failed, s.Total, s.Code)
}

// Markdown renders a summary table followed by one section per failed run.
func Markdown(outcomes []runner.Outcome, generatedAt time.Time) string {
	s := runner.Summarize(outcomes)

	var b strings.Builder
	b.WriteString("# Textile E2E report\n\n")
	fmt.Fprintf(&b, "Generated %s. **%d passed, %d failed** of %d runs.\n\n",
		generatedAt.UTC().Format(time.RFC3339), s.Passed, s.Failed, s.Total)

	if len(outcomes) == 0 {
		b.WriteString("No scenarios were run.\n")
		return b.String()
	}

	b.WriteString("| Scenario | Browser | Result | Steps | Duration | Error |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, o := range outcomes {
		result := "passed"
		if !o.Passed() {
			result = "**failed**"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %s | %s |\n",
			cell(o.Scenario), cell(string(o.Browser)), result, o.StepsRun,
			o.Duration.Round(time.Millisecond), cell(string(o.ErrorCode())))
	}

	var failed []runner.Outcome
	for _, o := range outcomes {
		if !o.Passed() {
			failed = append(failed, o)
		}
	}
	if len(failed) == 0 {
		return b.String()
	}

	b.WriteString("\n## Failures\n")
	for _, o := range failed {
		fmt.Fprintf(&b, "\n### %s on %s\n\n", o.Scenario, o.Browser)
		fmt.Fprintf(&b, "- Run: `%s`\n", o.RunID)
		fmt.Fprintf(&b, "- Code: `%s`\n", o.ErrorCode())
		if o.FailedStep > 0 {
			fmt.Fprintf(&b, "- Failed step: %d\n", o.FailedStep)
		}
		for i, url := range o.Artifacts {
			fmt.Fprintf(&b, "- [Screenshot %d](%s)\n", i+1, url)
		}
		b.WriteString("\n```\n")
		b.WriteString(strings.ReplaceAll(o.ErrorMessage(), "```", "'''"))
		b.WriteString("\n```\n")

		if len(o.Observations) > 0 {
			b.WriteString("\nObserved:\n\n")
			keys := make([]string, 0, len(o.Observations))
			for k := range o.Observations {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, "- `%s`: %s\n", k, cell(o.Observations[k]))
			}
		}
	}
	return b.String()
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; max-width: 960px; margin: 0 auto; padding: 2rem 1rem; color: #1a1a1a; }
        table { border-collapse: collapse; width: 100%; }
        th, td { border: 1px solid #e0e0e0; padding: 0.4rem 0.6rem; text-align: left; }
        pre { background: #f5f5f5; padding: 0.8rem; overflow-x: auto; }
        strong { color: #b00020; }
    </style>
</head>
<body>
{{.Content}}
</body>
</html>
`

var page = template.Must(template.New("report").Parse(pageTemplate))

// HTML renders markdown into a standalone page. The rendered body is
// sanitized with the bluemonday UGC policy.
func HTML(md, title string) ([]byte, error) {
	var buf bytes.Buffer
	err := page.Execute(&buf, struct {
		Title   string
		Content template.HTML
	}{
		Title:   title,
		Content: renderMarkdown(md),
	})
	if err != nil {
		return nil, fmt.Errorf("render report page: %w", err)
	}
	return buf.Bytes(), nil
}

func renderMarkdown(s string) template.HTML {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(s))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	})
	htmlContent := markdown.Render(doc, renderer)

	policy := bluemonday.UGCPolicy()
	return template.HTML(policy.SanitizeBytes(htmlContent))
}

// cell makes s safe for a single Markdown table cell.
func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	r := []rune(s)
	if len(r) > maxCellChars {
		return string(r[:maxCellChars-3]) + "..."
	}
	return s
}
