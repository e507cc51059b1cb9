package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"

	palette "tablewalk/internal/tablewalk/styles"
)

// DisasmDark is a custom style for disassembly matching our color scheme
var DisasmDark = styles.Register(chroma.MustNewStyle("disasm-dark", chroma.StyleEntries{
	chroma.Text:       "#FFFFFF",
	chroma.Background: "bg:" + palette.Background,
	chroma.Comment:    palette.Comment,

	// NASM tokenizes mnemonics as keywords or functions
	chroma.Keyword:       "#FFFFFF",
	chroma.KeywordPseudo: "#FFFFFF",
	chroma.NameFunction:  "#FFFFFF",
	chroma.Name:          "#7C9C9D", // registers in teal
	chroma.NameBuiltin:   "#7C9C9D",
	chroma.NameVariable:  "#7C9C9D",

	chroma.LiteralNumber:        "#FF5F87", // numbers in pink
	chroma.LiteralNumberHex:     "#FF5F87",
	chroma.LiteralNumberInteger: "#FF5F87",

	chroma.NameLabel:   "#FFD700",
	chroma.Operator:    "#FFFFFF",
	chroma.Punctuation: "#FFFFFF",
	chroma.String:      palette.Golden,
}))

// SignatureDark colours C prototypes like the VS Code dark theme.
var SignatureDark = styles.Register(chroma.MustNewStyle("signature-dark", chroma.StyleEntries{
	chroma.Text:          palette.Foreground,
	chroma.Background:    "bg:" + palette.Background,
	chroma.Keyword:       palette.Keyword,
	chroma.KeywordType:   palette.Type,
	chroma.Name:          palette.Variable,
	chroma.NameFunction:  palette.Function,
	chroma.NameBuiltin:   palette.Type,
	chroma.LiteralNumber: palette.Number,
	chroma.String:        palette.String,
	chroma.Comment:       palette.Comment,
	chroma.Operator:      palette.Operator,
	chroma.Punctuation:   palette.Operator,
}))
