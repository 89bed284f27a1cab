// Package chunker splits document text into overlapping, sentence-aware spans.
package chunker

import (
	"fmt"
	"strings"
)

// Defaults used when configuration leaves chunking unset.
const (
	DefaultSize    = 400
	DefaultOverlap = 50
)

// Splitter is a configured chunker.
type Splitter struct {
	size    int
	overlap int
}

// New validates size and overlap.
// overlap >= size is accepted; Split still advances at least one rune per chunk.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the maximum chunk length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the overlap in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// Split chunks text with the configured size and overlap.
func (s *Splitter) Split(text string) []string {
	return Split(text, s.size, s.overlap)
}

// Split cuts text into spans of at most maxSize runes.
// A window that does not reach the end of text is shortened to end after its
// last '.' or '\n' when that break lies past maxSize/2. The next window starts
// overlap runes before the previous end, and always after the previous start.
// Chunks are trimmed; empty ones are dropped.
func Split(text string, maxSize, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" || maxSize <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}

	runes := []rune(text)
	n := len(runes)
	var chunks []string

	for start := 0; start < n; {
		end := min(start+maxSize, n)
		if end < n {
			if br := lastBreak(runes[start:end]); br > maxSize/2 {
				end = start + br + 1
			}
		}

		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end >= n {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

func lastBreak(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '\n' {
			return i
		}
	}
	return -1
}
