// Package report writes the JSON dump and the console output of a walk.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss/v2"

	"tablewalk/internal/tablewalk/styles"
	"tablewalk/internal/ui/colorize"
	"tablewalk/internal/walker"
)

// DefaultFile is the dump's file name under the user's home directory.
const DefaultFile = "functions.txt"

// DefaultPath returns <home>/functions.txt.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, DefaultFile), nil
}

// Encode writes records as an indented JSON array. A nil slice is written
// as [] so the file is always an array.
func Encode(w io.Writer, records []walker.Record) error {
	if records == nil {
		records = []walker.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(records)
}

// BannerRecord prints a found function's record as indented JSON, the way
// the walk's progress block shows it under --banner-json. Empty slots print
// nothing.
func BannerRecord(w io.Writer, rec walker.Record) error {
	if !rec.Found {
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(rec)
}

// WriteJSON replaces path with the dump. The data goes to a temporary file in
// the same directory first, so a failed write never leaves a partial dump.
func WriteJSON(path string, records []walker.Record) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = Encode(tmp, records); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

const ruleWidth = 54

// Banner prints the progress block for one record:
//
//	XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX
//	Query Code: 0x0150e828
//	Function Address: 0x10001000
//	Name: FUN_10001000
//	Signature: int __stdcall FUN_10001000(int param_1,int param_2);
func Banner(w io.Writer, rec walker.Record, color bool) {
	rule := strings.Repeat("X", ruleWidth)
	label := func(s string) string { return s }
	value := func(s string) string { return s }
	errText := func(s string) string { return s }
	sig := rec.Signature
	if color {
		rule = lipgloss.NewStyle().Foreground(lipgloss.Color(styles.Muted)).Render(rule)
		lbl := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
		code := lipgloss.NewStyle().Foreground(lipgloss.Color(styles.Golden))
		bad := lipgloss.NewStyle().Foreground(lipgloss.Color(styles.Error))
		label = func(s string) string { return lbl.Render(s) }
		value = func(s string) string { return code.Render(s) }
		errText = func(s string) string { return bad.Render(s) }
		if sig != "" {
			sig = colorize.Signature(sig)
		}
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%s %s\n", label("Query Code:"), value(rec.QueryCode))
	if rec.KnownName != "" {
		fmt.Fprintf(w, "%s %s\n", label("Known As:"), rec.KnownName)
	}
	fmt.Fprintf(w, "%s %s\n", label("Function Address:"), rec.Address)
	fmt.Fprintf(w, "%s %s\n", label("Name:"), rec.Name)
	if rec.Demangled != "" {
		fmt.Fprintf(w, "%s %s\n", label("Demangled:"), rec.Demangled)
	}
	if rec.Signature != "" {
		fmt.Fprintf(w, "%s %s\n", label("Signature:"), sig)
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "%s %s\n", label("Error:"), errText(rec.Error))
	}
}
