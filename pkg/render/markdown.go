// Package render turns transcript snapshots into text for terminals and files.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

// maxTableRows caps how many chart rows are rendered as a table.
const maxTableRows = 20

func roleLabel(r transcript.Role) string {
	switch r {
	case transcript.RoleUser:
		return "You"
	case transcript.RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// TurnMarkdown renders one turn: its content, then the query, chart and map
// attachments when present.
func TurnMarkdown(t transcript.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s:**\n\n", roleLabel(t.Role))
	if t.Content != "" {
		b.WriteString(t.Content)
		b.WriteString("\n\n")
	}
	if t.SQL != "" {
		b.WriteString("```sql\n")
		b.WriteString(strings.TrimSpace(t.SQL))
		b.WriteString("\n```\n\n")
	}
	if t.Chart != nil {
		fmt.Fprintf(&b, "_%s_\n\n", ChartSummary(t.Chart))
		if table := ChartTable(t.Chart); table != "" {
			b.WriteString(table)
			b.WriteString("\n")
		}
	}
	if t.Map != nil {
		fmt.Fprintf(&b, "_%s_\n\n", MapSummary(t.Map))
	}
	return b.String()
}

// Markdown renders every turn of snap, separated by horizontal rules.
func Markdown(snap transcript.Snapshot) string {
	parts := make([]string, 0, len(snap.Turns))
	for _, t := range snap.Turns {
		parts = append(parts, strings.TrimRight(TurnMarkdown(t), "\n"))
	}
	return strings.Join(parts, "\n\n---\n\n") + "\n"
}

// ChartSummary describes a chart on one line.
func ChartSummary(c *transcript.ChartSpec) string {
	if c == nil {
		return ""
	}
	kind := string(c.ChartType)
	if kind == "" {
		kind = "unknown"
	}
	title := c.Title
	if title == "" {
		title = "untitled"
	}
	return fmt.Sprintf("%s chart %q: %d rows (x=%s, y=%s)", kind, title, len(c.Data), axis(c.XKey, c.XLabel), axis(c.YKey, c.YLabel))
}

func axis(key, label string) string {
	if label != "" && label != key {
		return fmt.Sprintf("%s [%s]", key, label)
	}
	return key
}

// ChartTable renders the plotted columns of a chart as a markdown table.
func ChartTable(c *transcript.ChartSpec) string {
	if c == nil || len(c.Data) == 0 || c.XKey == "" || c.YKey == "" {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "| %s | %s |\n|---|---|\n", header(c.XKey, c.XLabel), header(c.YKey, c.YLabel))
	for i, row := range c.Data {
		if i == maxTableRows {
			fmt.Fprintf(&b, "| ... | %d more |\n", len(c.Data)-maxTableRows)
			break
		}
		fmt.Fprintf(&b, "| %s | %s |\n", cell(row[c.XKey]), cell(row[c.YKey]))
	}
	return b.String()
}

func header(key, label string) string {
	if label != "" {
		return label
	}
	return key
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return strings.ReplaceAll(fmt.Sprint(v), "|", `\|`)
}

// MapSummary describes a feature collection on one line, e.g.
// "map: 3 features (2 Point, 1 Polygon)".
func MapSummary(g *transcript.GeoPayload) string {
	if g == nil {
		return ""
	}
	counts := map[transcript.GeometryType]int{}
	for _, f := range g.Features {
		counts[f.Geometry.Type]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	noun := "features"
	if len(g.Features) == 1 {
		noun = "feature"
	}
	if len(kinds) == 0 {
		return fmt.Sprintf("map: %d %s", len(g.Features), noun)
	}
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%d %s", counts[transcript.GeometryType(k)], k))
	}
	return fmt.Sprintf("map: %d %s (%s)", len(g.Features), noun, strings.Join(parts, ", "))
}
