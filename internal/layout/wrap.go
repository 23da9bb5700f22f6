// Package layout wraps caption text into lines that fit a pixel width.
package layout

import "strings"

// LineSpacing is the vertical gap in pixels between consecutive lines.
const LineSpacing = 4

// Separator joins wrapped lines.
const Separator = "\n"

// Metrics measures rendered text.
type Metrics interface {
	// Measure returns the advance width of s in pixels.
	Measure(s string) int
	// LineHeight returns the height of a single line in pixels.
	LineHeight() int
}

// Result is a wrapped text block.
type Result struct {
	Lines  []string
	Width  int
	Height int
}

// Text returns the lines joined by Separator.
func (r Result) Text() string {
	return strings.Join(r.Lines, Separator)
}

// Wrap greedily fills lines with whitespace separated tokens so that no line
// is wider than maxWidth. A token that is wider than maxWidth on its own is
// halved until it fits and its dropped tail is lost.
func Wrap(text string, maxWidth int, m Metrics) Result {
	words := strings.Fields(text)
	var lines []string
	for len(words) > 0 {
		var line strings.Builder
		for len(words) > 0 {
			word := Truncate(words[0], maxWidth, m)
			if m.Measure(line.String()+word) > maxWidth {
				break
			}
			line.WriteString(word)
			line.WriteByte(' ')
			words = words[1:]
		}
		lines = append(lines, strings.TrimSpace(line.String()))
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return Measure(lines, m)
}

// Truncate halves word, counted in runes, until it is no wider than maxWidth.
func Truncate(word string, maxWidth int, m Metrics) string {
	runes := []rune(word)
	for len(runes) > 0 && m.Measure(string(runes)) > maxWidth {
		runes = runes[:len(runes)/2]
	}
	return string(runes)
}

// Measure computes the bounding box of lines stacked with LineSpacing.
func Measure(lines []string, m Metrics) Result {
	res := Result{Lines: lines}
	for _, line := range lines {
		if w := m.Measure(line); w > res.Width {
			res.Width = w
		}
	}
	if n := len(lines); n > 0 {
		res.Height = n*m.LineHeight() + (n-1)*LineSpacing
	}
	return res
}
