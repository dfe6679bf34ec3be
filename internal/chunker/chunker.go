package chunker

import (
	"strings"
)

// Segment is one positional slice of a source text. Offsets are rune-based
// so multi-byte text splits on character boundaries.
type Segment struct {
	Index     int
	StartChar int
	EndChar   int
	Text      string
}

// Chunk splits text into segments of at most size characters; consecutive
// segments overlap by overlap characters so that concepts spanning a boundary
// remain findable in at least one segment. Boundaries are purely positional,
// no sentence awareness. Empty input yields no segments.
func Chunk(text string, size, overlap int) []Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []Segment{{
			Index:     0,
			StartChar: 0,
			EndChar:   len(runes),
			Text:      text,
		}}
	}

	var segments []Segment
	start := 0
	idx := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, Segment{
			Index:     idx,
			StartChar: start,
			EndChar:   end,
			Text:      string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
		start = end - overlap
		idx++
	}
	return segments
}
