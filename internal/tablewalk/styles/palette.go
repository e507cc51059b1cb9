// Package styles holds the colours shared by the banner, the signature
// highlighter and the markdown summary.
package styles

// VS Code Dark theme colors
const (
	Foreground = "#D4D4D4" // default light gray text
	Function   = "#DCDCAA" // function names
	Keyword    = "#569CD6" // keywords and headings
	Type       = "#4EC9B0" // builtin types
	Variable   = "#9CDCFE" // parameter names
	Number     = "#B5CEA8" // numbers
	String     = "#CE9178" // string literals
	Comment    = "#6A9955" // comments
	Operator   = "#D4D4D4" // punctuation and operators
	Muted      = "#858585" // addresses, rules
	Background = "#1E1E1E" // editor background
	Error      = "#F44747" // failed slots
	Golden     = "#EACD53" // query codes
)
