package chunker

import (
	"strings"
	"testing"
)

func TestChunkEmpty(t *testing.T) {
	if got := Chunk("", 100, 10); got != nil {
		t.Errorf("expected nil for empty text, got %d segments", len(got))
	}
	if got := Chunk("   \n\t ", 100, 10); got != nil {
		t.Errorf("expected nil for whitespace-only text, got %d segments", len(got))
	}
}

func TestChunkShortText(t *testing.T) {
	segs := Chunk("hello world", 100, 10)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	s := segs[0]
	if s.StartChar != 0 || s.EndChar != 11 {
		t.Errorf("expected [0,11), got [%d,%d)", s.StartChar, s.EndChar)
	}
	if s.Text != "hello world" {
		t.Errorf("unexpected text %q", s.Text)
	}
}

func TestChunkOverlap(t *testing.T) {
	// 35 chars at size 20 / overlap 5: [0,20), [15,35)
	text := "Supply and demand determine price.." // 35 chars
	if len([]rune(text)) != 35 {
		t.Fatalf("fixture length changed: %d", len([]rune(text)))
	}
	segs := Chunk(text, 20, 5)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].StartChar != 0 || segs[0].EndChar != 20 {
		t.Errorf("segment 0: got [%d,%d), want [0,20)", segs[0].StartChar, segs[0].EndChar)
	}
	if segs[1].StartChar != 15 || segs[1].EndChar != 35 {
		t.Errorf("segment 1: got [%d,%d), want [15,35)", segs[1].StartChar, segs[1].EndChar)
	}
	for i, s := range segs {
		if s.Index != i {
			t.Errorf("segment %d has index %d", i, s.Index)
		}
	}
}

func TestChunkFullCoverage(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		size    int
		overlap int
	}{
		{"exact multiple", 100, 20, 5},
		{"ragged tail", 103, 20, 5},
		{"no overlap", 77, 10, 0},
		{"large overlap", 50, 10, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Repeat("a", tt.length)
			segs := Chunk(text, tt.size, tt.overlap)
			covered := make([]bool, tt.length)
			for _, s := range segs {
				if s.StartChar >= s.EndChar {
					t.Fatalf("segment %d has start %d >= end %d", s.Index, s.StartChar, s.EndChar)
				}
				if s.EndChar-s.StartChar > tt.size {
					t.Fatalf("segment %d longer than size: %d", s.Index, s.EndChar-s.StartChar)
				}
				for i := s.StartChar; i < s.EndChar; i++ {
					covered[i] = true
				}
			}
			for i, c := range covered {
				if !c {
					t.Fatalf("offset %d not covered by any segment", i)
				}
			}
		})
	}
}

func TestChunkRuneOffsets(t *testing.T) {
	// Korean text: offsets must count characters, not bytes.
	text := "가격은 수요와 공급에 의해 결정된다"
	segs := Chunk(text, 10, 3)
	runes := []rune(text)
	for _, s := range segs {
		want := string(runes[s.StartChar:s.EndChar])
		if s.Text != want {
			t.Errorf("segment %d text %q does not match offsets [%d,%d) => %q",
				s.Index, s.Text, s.StartChar, s.EndChar, want)
		}
	}
}

func TestChunkProgressWithDegenerateOverlap(t *testing.T) {
	// overlap >= size must still terminate.
	segs := Chunk(strings.Repeat("x", 30), 5, 10)
	if len(segs) == 0 {
		t.Fatal("expected segments")
	}
	last := segs[len(segs)-1]
	if last.EndChar != 30 {
		t.Errorf("expected final segment to reach end, got %d", last.EndChar)
	}
}
