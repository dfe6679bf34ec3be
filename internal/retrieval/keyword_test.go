package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/eduforge/examtutor/internal/model"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name     string
		question string
		want     []string
	}{
		{
			"english question",
			"What is the law of supply and demand?",
			[]string{"law", "supply", "demand"},
		},
		{
			"korean question with stopword",
			"가격은 어떻게 결정되나요?",
			[]string{"가격은", "결정되나요"},
		},
		{
			"duplicates collapsed",
			"supply supply Supply",
			[]string{"supply"},
		},
		{
			"digits and single chars removed",
			"q 1 42 inflation",
			[]string{"inflation"},
		},
		{
			"punctuation trimmed",
			"(elasticity)? demand!",
			[]string{"elasticity", "demand"},
		},
		{
			"stopwords only falls back to whole question",
			"What is the",
			[]string{"what is the"},
		},
		{
			"empty question",
			"   ",
			nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractKeywords(tt.question)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("keyword %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestScoreChunk(t *testing.T) {
	keywords := []string{"supply", "demand"}

	// 5 words, both keywords present once: 2*2 + 100*2/5 = 44.
	score := scoreChunk("supply and demand determine price", keywords)
	if score != 44.0 {
		t.Errorf("expected score 44.0, got %f", score)
	}

	// No keyword present scores zero.
	if score := scoreChunk("completely unrelated text here", keywords); score != 0 {
		t.Errorf("expected score 0, got %f", score)
	}

	// Empty chunk scores zero.
	if score := scoreChunk("", keywords); score != 0 {
		t.Errorf("expected score 0 on empty chunk, got %f", score)
	}

	// A dense short chunk beats a long chunk with one incidental match.
	dense := scoreChunk("supply demand", keywords)
	sparse := scoreChunk("demand "+strings.Repeat("filler ", 100), keywords)
	if dense <= sparse {
		t.Errorf("expected dense chunk to outscore sparse: %f vs %f", dense, sparse)
	}
}

func TestSearchKorean(t *testing.T) {
	materials := []model.MaterialText{
		{FileName: "econ.pdf", Text: "수요와 공급이 만나는 지점에서 가격은 결정됩니다. 시장 경제의 기본 원리입니다."},
		{FileName: "history.pdf", Text: "조선 시대의 역사적 배경에 대한 설명입니다."},
	}

	text, sources := Search(materials, "가격은 어떻게 결정되나요?", 5, 0)
	if text == "" {
		t.Fatal("expected a match for the Korean question")
	}
	if !strings.Contains(text, "가격은 결정됩니다") {
		t.Errorf("expected economics material in context, got %q", text)
	}
	if strings.Contains(text, "조선 시대") {
		t.Errorf("unrelated material leaked into context: %q", text)
	}
	if len(sources) != 1 || sources[0] != "econ.pdf" {
		t.Errorf("expected sources [econ.pdf], got %v", sources)
	}
}

func TestSearchNoMatch(t *testing.T) {
	materials := []model.MaterialText{
		{FileName: "econ.pdf", Text: "supply and demand determine price"},
	}
	text, sources := Search(materials, "photosynthesis chlorophyll", 5, 0)
	if text != "" {
		t.Errorf("expected empty context, got %q", text)
	}
	if sources != nil {
		t.Errorf("expected nil sources, got %v", sources)
	}
}

func TestSearchEmptyMaterials(t *testing.T) {
	text, sources := Search(nil, "supply demand", 5, 0)
	if text != "" || sources != nil {
		t.Errorf("expected empty result, got %q, %v", text, sources)
	}
}

func TestSearchSourceHeader(t *testing.T) {
	materials := []model.MaterialText{
		{FileName: "notes.pdf", Text: "inflation erodes purchasing power over time"},
	}
	text, _ := Search(materials, "what causes inflation", 5, 0)
	if !strings.HasPrefix(text, "[notes.pdf]\n") {
		t.Errorf("expected block to start with source header, got %q", text)
	}
}

func TestSearchMaxResults(t *testing.T) {
	// Three materials, each one matching chunk.
	materials := []model.MaterialText{
		{FileName: "a.pdf", Text: "inflation inflation inflation explained in detail"},
		{FileName: "b.pdf", Text: "inflation discussed at length here"},
		{FileName: "c.pdf", Text: "one mention of inflation"},
	}
	text, _ := Search(materials, "inflation", 2, 0)
	blocks := strings.Split(text, "\n\n")
	if len(blocks) != 2 {
		t.Errorf("expected 2 blocks, got %d: %q", len(blocks), text)
	}
}

func TestSearchMaxLengthTruncation(t *testing.T) {
	long := strings.Repeat("inflation matters. ", 30)
	materials := []model.MaterialText{
		{FileName: "a.pdf", Text: long},
	}

	// Budget large enough to truncate into but smaller than the full block.
	maxLength := 200
	text, sources := Search(materials, "inflation", 5, maxLength)
	if text == "" {
		t.Fatal("expected truncated context, got empty")
	}
	if len(text) > maxLength {
		t.Errorf("context exceeds max length: %d > %d", len(text), maxLength)
	}
	if !strings.Contains(text, "... (a.pdf)") {
		t.Errorf("expected truncation annotation, got %q", text)
	}
	if len(sources) != 1 || sources[0] != "a.pdf" {
		t.Errorf("expected sources [a.pdf], got %v", sources)
	}
}

func TestSearchMaxLengthTooSmall(t *testing.T) {
	materials := []model.MaterialText{
		{FileName: "a.pdf", Text: strings.Repeat("inflation matters. ", 30)},
	}
	// Below the minimum budget worth truncating into.
	text, _ := Search(materials, "inflation", 5, 50)
	if text != "" {
		t.Errorf("expected empty context under tiny budget, got %q", text)
	}
}

func TestKeywordRetriever(t *testing.T) {
	materials := []model.MaterialText{
		{FileName: "econ.pdf", Text: "supply and demand determine market price"},
	}
	r := NewKeywordRetriever(func(examID int64) ([]model.MaterialText, error) {
		if examID != 7 {
			t.Errorf("expected exam 7, got %d", examID)
		}
		return materials, nil
	})

	got, err := r.Retrieve(context.Background(), Query{ExamID: 7, Question: "how is price determined by supply", MaxResults: 5})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !strings.Contains(got.Text, "supply and demand") {
		t.Errorf("expected material in context, got %q", got.Text)
	}
	if got.LowConfidence {
		t.Error("keyword retrieval never flags low confidence")
	}
}
