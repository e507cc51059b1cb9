package report

import (
	"fmt"
	"strings"
	"time"

	"tablewalk/internal/tablewalk/styles"
	"tablewalk/internal/walker"
)

// SummaryMarkdown builds the run summary as markdown: a counts line and a
// table of every slot.
func SummaryMarkdown(records []walker.Record, st walker.Stats) string {
	var b strings.Builder
	b.WriteString("# Table Walk\n\n")
	fmt.Fprintf(&b, "%d slots, %d functions, %d empty", st.Slots, st.Functions, st.Missing)
	if st.Failed > 0 {
		fmt.Fprintf(&b, ", %d failed", st.Failed)
	}
	if st.Skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", st.Skipped)
	}
	fmt.Fprintf(&b, " in %s", st.Elapsed.Round(time.Millisecond))
	if st.CacheHits > 0 {
		fmt.Fprintf(&b, " (%d decompiles, %d cached)", st.Decompiles, st.CacheHits)
	}
	b.WriteString(".\n\n")

	if len(records) == 0 {
		b.WriteString("*No slots.*\n")
		return b.String()
	}

	b.WriteString("| Query Code | Known | Address | Name | Parameters |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, r := range records {
		params := "-"
		switch {
		case r.Error != "":
			params = "*" + r.Error + "*"
		case r.Parameters != nil:
			params = fmt.Sprintf("%d", len(r.Parameters))
		}
		known := r.KnownName
		if known == "" {
			known = "-"
		}
		fmt.Fprintf(&b, "| `%s` | %s | `%s` | %s | %s |\n",
			r.QueryCode, cell(known), r.Address, cell(r.Name), cell(params))
	}
	return b.String()
}

// Summary renders SummaryMarkdown with glamour at the given width.
func Summary(records []walker.Record, st walker.Stats, width int, color bool) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := styles.GetMarkdownRenderer(width, color)
	if err != nil {
		return "", fmt.Errorf("markdown renderer: %w", err)
	}
	return renderer.Render(SummaryMarkdown(records, st))
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
