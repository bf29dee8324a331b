package ocr

import "strings"

// JoinLines joins recognised lines with "\n" and trims trailing whitespace.
func JoinLines(lines []string) string {
	return strings.TrimRightFunc(strings.Join(lines, "\n"), isSpace)
}

// SplitLines breaks raw engine output into lines, dropping carriage returns,
// form feeds and trailing blanks on each line.
func SplitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\f", "")
	lines := strings.Split(raw, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRightFunc(ln, isSpace)
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
