// Package chunker splits extracted document text into fixed-size,
// retrievable windows. Word windows are the unit of embedding and
// retrieval; character windows back the direct-content fallback path.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the number of words per retrieval chunk.
const DefaultChunkSize = 512

// Split breaks text into word windows of at most size words each.
// Whitespace runs collapse to single spaces and empty chunks are
// dropped. The output is deterministic for a given input.
func Split(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+size-1)/size)
	for i := 0; i < len(words); i += size {
		end := min(i+size, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// Window breaks text into character windows of at most size bytes,
// capped at max windows. Used when the vector index is empty or
// unavailable and raw document content must stand in for search
// results.
func Window(text string, size, max int) []string {
	if size <= 0 || max <= 0 {
		return nil
	}

	var windows []string
	for start := 0; start < len(text) && len(windows) < max; {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			// Never split a multi-byte rune across windows.
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				_, n := utf8.DecodeRuneInString(text[start:])
				end = start + n
			}
		}
		w := strings.TrimSpace(text[start:end])
		if w != "" {
			windows = append(windows, w)
		}
		start = end
	}
	return windows
}
