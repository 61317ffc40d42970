// Package report renders a session view for terminals and files and exports
// its charts.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/KaramelBytes/agentviz-cli/internal/session"
	"github.com/KaramelBytes/agentviz-cli/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

// Format selects an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// maxCell bounds a table cell in text output.
const maxCell = 48

// ParseFormat accepts the usual aliases ("md", "yml").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q (use text, markdown, json or yaml)", s)
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle   = lipgloss.NewStyle().Faint(true)
)

// Render writes v to w in the given format.
func Render(w io.Writer, v session.View, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		doc, err := generic(v)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatMarkdown:
		return renderMarkdown(w, v)
	case FormatText, "":
		return renderText(w, v)
	}
	return fmt.Errorf("unknown format %q", f)
}

// WriteFile renders v into path, replacing it atomically.
func WriteFile(path string, v session.View, f Format) error {
	var buf bytes.Buffer
	if err := Render(&buf, v, f); err != nil {
		return err
	}
	return utils.SafeWriteFile(path, buf.Bytes())
}

// generic turns v into plain maps via its JSON form so YAML output carries the
// raw query result and chart specs.
func generic(v session.View) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal view: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode view: %w", err)
	}
	return out, nil
}

func renderText(w io.Writer, v session.View) error {
	var b strings.Builder
	status := v.State.String()
	if v.Busy {
		status += " (working)"
	}
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("State:"), status)
	if v.File != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("File:"), v.File)
	}
	if v.Session != nil {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Session:"), v.Session.ID)
	}
	if v.Error != "" {
		fmt.Fprintf(&b, "%s\n", errorStyle.Render("Error: "+v.Error))
	}

	if ds := v.Dataset; ds != nil {
		fmt.Fprintf(&b, "\n%s\n", headingStyle.Render("Dataset"))
		if ds.Overview != "" {
			fmt.Fprintf(&b, "%s\n", strings.TrimSpace(ds.Overview))
		}
		if len(ds.Columns) > 0 {
			fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Columns:"), strings.Join(ds.Columns, ", "))
		}
		if len(ds.SampleRows) > 0 {
			fmt.Fprintf(&b, "%s\n", recordsTable(ds.Columns, ds.SampleRows).Render())
		}
	}

	if a := v.Analysis; a != nil {
		fmt.Fprintf(&b, "\n%s\n", headingStyle.Render("Query: "+a.Query))
		writeResultText(&b, a.Result)
		if a.Result.Justification != "" {
			fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Justification:"), a.Result.Justification)
		}
		switch {
		case a.Code != nil:
			if a.Code.Python != "" {
				fmt.Fprintf(&b, "%s\n%s\n", labelStyle.Render("Python:"), indent(a.Code.Python))
			}
			if a.Code.SQL != "" {
				fmt.Fprintf(&b, "%s\n%s\n", labelStyle.Render("SQL:"), indent(a.Code.SQL))
			}
		case a.CodeErr != "":
			fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Code:"), mutedStyle.Render("unavailable ("+a.CodeErr+")"))
		}
		switch {
		case a.Verdict != nil:
			fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Validation:"), a.Verdict.Message)
			if a.Verdict.Justification != "" {
				fmt.Fprintf(&b, "%s\n", indent(a.Verdict.Justification))
			}
		case a.VerdictErr != "":
			fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Validation:"), mutedStyle.Render("unavailable ("+a.VerdictErr+")"))
		}
	}

	if line := chartsLine(v.Charts); line != "" {
		fmt.Fprintf(&b, "\n%s %s\n", labelStyle.Render("Charts:"), line)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeResultText(b *strings.Builder, r session.QueryResult) {
	if rows, ok := r.Payload.Records(); ok && len(rows) > 0 {
		fmt.Fprintf(b, "%s\n", recordsTable(nil, rows).Render())
		return
	}
	if r.Payload.IsEmpty() {
		fmt.Fprintf(b, "%s\n", mutedStyle.Render("(no result)"))
		return
	}
	fmt.Fprintf(b, "%s\n", r.Payload.String())
}

func renderMarkdown(w io.Writer, v session.View) error {
	var b strings.Builder
	title := "Analysis"
	if v.File != "" {
		title += ": " + v.File
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- State: `%s`\n", v.State)
	if v.Session != nil {
		fmt.Fprintf(&b, "- Session: `%s`\n", v.Session.ID)
	}
	if v.Error != "" {
		fmt.Fprintf(&b, "- Error: %s\n", v.Error)
	}

	if ds := v.Dataset; ds != nil {
		b.WriteString("\n## Dataset\n\n")
		if ds.Overview != "" {
			fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(ds.Overview))
		}
		if len(ds.SampleRows) > 0 {
			fmt.Fprintf(&b, "%s\n", recordsTable(ds.Columns, ds.SampleRows).RenderMarkdown())
		}
	}

	if a := v.Analysis; a != nil {
		fmt.Fprintf(&b, "\n## Query\n\n> %s\n\n", a.Query)
		if rows, ok := a.Result.Payload.Records(); ok && len(rows) > 0 {
			fmt.Fprintf(&b, "%s\n", recordsTable(nil, rows).RenderMarkdown())
		} else if !a.Result.Payload.IsEmpty() {
			fmt.Fprintf(&b, "%s\n", a.Result.Payload.String())
		}
		if a.Result.Justification != "" {
			fmt.Fprintf(&b, "\n**Justification:** %s\n", a.Result.Justification)
		}
		if a.Code != nil {
			if a.Code.Python != "" {
				fmt.Fprintf(&b, "\n### Python\n\n```python\n%s\n```\n", strings.TrimRight(a.Code.Python, "\n"))
			}
			if a.Code.SQL != "" {
				fmt.Fprintf(&b, "\n### SQL\n\n```sql\n%s\n```\n", strings.TrimRight(a.Code.SQL, "\n"))
			}
		} else if a.CodeErr != "" {
			fmt.Fprintf(&b, "\n_Code unavailable: %s_\n", a.CodeErr)
		}
		if a.Verdict != nil {
			fmt.Fprintf(&b, "\n### Validation\n\n%s\n", a.Verdict.Message)
			if a.Verdict.Justification != "" {
				fmt.Fprintf(&b, "\n%s\n", a.Verdict.Justification)
			}
		} else if a.VerdictErr != "" {
			fmt.Fprintf(&b, "\n_Validation unavailable: %s_\n", a.VerdictErr)
		}
	}

	if line := chartsLine(v.Charts); line != "" {
		fmt.Fprintf(&b, "\n## Charts\n\n%s\n", line)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func chartsLine(c session.Charts) string {
	switch c.Status {
	case session.ChartsAvailable:
		if len(c.Items) == 0 {
			return "none"
		}
		kinds := make([]string, len(c.Items))
		for i, it := range c.Items {
			kinds[i] = it.Kind
		}
		return fmt.Sprintf("%d (%s)", len(c.Items), strings.Join(kinds, ", "))
	case session.ChartsUnavailable:
		if c.Err != "" {
			return "unavailable: " + c.Err
		}
		return "unavailable"
	}
	return ""
}

// recordsTable lays rows out under cols, or under the sorted union of row keys
// when cols is empty.
func recordsTable(cols []string, rows []map[string]any) table.Writer {
	if len(cols) == 0 {
		cols = columnsOf(rows)
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	t.AppendHeader(header)
	for _, r := range rows {
		row := make(table.Row, len(cols))
		for i, c := range cols {
			row[i] = utils.Truncate(utils.OneLine(formatValue(r[c])), maxCell)
		}
		t.AppendRow(row)
	}
	return t
}

func columnsOf(rows []map[string]any) []string {
	seen := map[string]struct{}{}
	var cols []string
	for _, r := range rows {
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	}
	return fmt.Sprintf("%v", v)
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
