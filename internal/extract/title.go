package extract

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

const titleScanLines = 10

var (
	dateLineRe = regexp.MustCompile(`^\s*(\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}|` +
		`(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},?\s+\d{4})\s*$`)
	genericHeaderRe = regexp.MustCompile(`^\s*(abstract|introduction|contents|table of contents|summary|index|chapter\s+\d+|section\s+\d+)\s*:?\s*$`)
)

// TitleFromContent derives a document title by scanning the first few
// non-empty lines of extracted text. Markdown headings win; otherwise a
// capitalized, mostly-alphabetic line is accepted. Falls back to a
// cleaned-up filename.
func TitleFromContent(content, filename string) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == titleScanLines {
			break
		}
	}

	// A heading anywhere in the window beats an earlier plain line.
	for _, line := range lines {
		if heading, ok := markdownHeading(line); ok {
			return heading
		}
	}

	for _, line := range lines {
		if len(line) < 5 || len(line) > 150 {
			continue
		}
		lower := strings.ToLower(line)
		if dateLineRe.MatchString(lower) || genericHeaderRe.MatchString(lower) {
			continue
		}
		if len(line) >= 10 && len(line) <= 100 && looksLikeTitle(line) {
			return line
		}
	}

	return TitleFromFilename(filename)
}

// TitleFromFilename strips the extension and replaces separators with
// spaces.
func TitleFromFilename(filename string) string {
	name := filepath.Base(filename)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}

func markdownHeading(line string) (string, bool) {
	if !strings.HasPrefix(line, "#") {
		return "", false
	}
	heading := strings.TrimSpace(strings.TrimLeft(line, "#"))
	if len(heading) < 5 || len(heading) > 150 {
		return "", false
	}
	return heading, true
}

// looksLikeTitle accepts capitalized lines that are mostly letters and
// spaces, rejecting body text fragments and tables of numbers.
func looksLikeTitle(line string) bool {
	runes := []rune(line)
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	alpha := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			alpha++
		}
	}
	return float64(alpha)/float64(len(runes)) >= 0.8
}
