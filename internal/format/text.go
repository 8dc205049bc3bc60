// Package format provides shared text formatting for terminal output.
package format

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

const ellipsis = "..."

// StripAnsi removes ANSI color sequences from s.
func StripAnsi(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// Width returns the number of terminal columns s occupies once color
// sequences are removed. An emoji followed by U+FE0F counts as two columns.
func Width(s string) int {
	w := 0
	plain := StripAnsi(s)
	for len(plain) > 0 {
		r, size := utf8.DecodeRuneInString(plain)
		plain = plain[size:]
		if next, n := utf8.DecodeRuneInString(plain); next == '\uFE0F' {
			plain = plain[n:]
			w += 2
			continue
		}
		if r == '\uFE0F' {
			continue
		}
		w += runewidth.RuneWidth(r)
	}
	return w
}

// Truncate shortens s to at most limit columns, ending it with "..." when
// anything was cut. Color sequences are kept and a reset is appended after
// a cut so a partially written color does not bleed into the next column.
func Truncate(s string, limit int) string {
	if Width(s) <= limit {
		return s
	}
	budget := limit - len(ellipsis)
	if budget < 0 {
		budget = 0
	}

	var b strings.Builder
	used := 0
	colored := false
	for i := 0; i < len(s); {
		if loc := ansiRegex.FindStringIndex(s[i:]); loc != nil && loc[0] == 0 {
			b.WriteString(s[i : i+loc[1]])
			i += loc[1]
			colored = true
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		end := i + size
		rw := runewidth.RuneWidth(r)
		if next, n := utf8.DecodeRuneInString(s[end:]); next == '\uFE0F' {
			end += n
			rw = 2
		}
		if used+rw > budget {
			break
		}
		b.WriteString(s[i:end])
		used += rw
		i = end
	}
	b.WriteString(ellipsis)
	if colored {
		b.WriteString("\x1b[0m")
	}
	return b.String()
}

// Pad right-pads s with spaces to width columns.
func Pad(s string, width int) string {
	if w := Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// Fit truncates or pads s so it occupies exactly width columns.
func Fit(s string, width int) string {
	return Pad(Truncate(s, width), width)
}
