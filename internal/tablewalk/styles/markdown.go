package styles

import (
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/x/exp/charmtone"
)

func ptr[T any](v T) *T { return &v }

// GetMarkdownRenderer returns a glamour renderer for the run summary and the
// tags table. With color off it uses glamour's notty style so piped output
// stays plain.
func GetMarkdownRenderer(width int, color bool) (*glamour.TermRenderer, error) {
	style := glamour.WithStandardStyle("notty")
	if color {
		style = glamour.WithStyles(summaryStyle())
	}
	return glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
}

// summaryStyle only covers what the summary emits: a title, one count line
// with emphasis, inline code for query codes and the slot table.
func summaryStyle() ansi.StyleConfig {
	return ansi.StyleConfig{
		Document: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: ptr(Foreground)},
			Margin:         ptr[uint](1),
		},
		Heading: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				BlockSuffix: "\n",
				Color:       ptr(Keyword),
				Bold:        ptr(true),
			},
		},
		H1: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				Prefix:          " ",
				Suffix:          " ",
				Color:           ptr(charmtone.Zest.Hex()),
				BackgroundColor: ptr(charmtone.Charple.Hex()),
			},
		},
		Emph: ansi.StylePrimitive{
			Italic: ptr(true),
			Color:  ptr(Error),
		},
		Strong: ansi.StylePrimitive{Bold: ptr(true)},
		Code: ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{Color: ptr(Golden)},
		},
		Table: ansi.StyleTable{
			StyleBlock: ansi.StyleBlock{
				StylePrimitive: ansi.StylePrimitive{Color: ptr(Foreground)},
			},
			CenterSeparator: ptr("┼"),
			ColumnSeparator: ptr("│"),
			RowSeparator:    ptr("─"),
		},
	}
}
