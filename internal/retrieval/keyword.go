package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/eduforge/examtutor/internal/chunker"
	"github.com/eduforge/examtutor/internal/model"
)

const (
	// keywordChunkSize and keywordChunkOverlap re-chunk material text with a
	// smaller window than the vector index uses.
	keywordChunkSize    = 500
	keywordChunkOverlap = 100

	// minTruncateBudget is the smallest remaining length worth filling with
	// a truncated chunk; below it the chunk is dropped entirely.
	minTruncateBudget = 100
)

// stopwords are function words excluded from keyword extraction, covering
// the English and Korean question phrasings the tutor sees.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "do": true,
	"does": true, "did": true, "can": true, "could": true, "will": true,
	"would": true, "should": true, "what": true, "how": true, "why": true,
	"when": true, "where": true, "who": true, "which": true, "of": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "with": true,
	"and": true, "or": true, "but": true, "not": true, "this": true,
	"that": true, "these": true, "those": true, "it": true, "its": true,
	"as": true, "by": true, "from": true, "about": true, "into": true,
	"than": true, "then": true, "so": true, "if": true, "please": true,
	"무엇": true, "어떻게": true, "왜": true, "언제": true, "어디서": true,
	"누가": true, "어떤": true, "무슨": true, "그리고": true, "하지만": true,
	"그러나": true, "또는": true, "대해": true, "대한": true, "관련": true,
	"있나요": true, "인가요": true, "합니다": true, "했나요": true,
	"해주세요": true, "알려주세요": true, "설명해주세요": true,
}

// KeywordRetriever scores freshly-chunked material text by keyword frequency
// and density. It needs no persisted vectors, only in-memory material text.
type KeywordRetriever struct {
	materials func(examID int64) ([]model.MaterialText, error)
}

// NewKeywordRetriever creates a keyword retriever over a material text
// source, typically store.MaterialTexts.
func NewKeywordRetriever(materials func(examID int64) ([]model.MaterialText, error)) *KeywordRetriever {
	return &KeywordRetriever{materials: materials}
}

// Retrieve implements Retriever over the exam's stored material texts.
func (r *KeywordRetriever) Retrieve(_ context.Context, q Query) (Context, error) {
	materials, err := r.materials(q.ExamID)
	if err != nil {
		return Context{}, fmt.Errorf("load material texts: %w", err)
	}
	text, sources := Search(materials, q.Question, q.MaxResults, q.MaxLength)
	return Context{Text: text, Sources: sources}, nil
}

type scoredSegment struct {
	fileName string
	text     string
	score    float64
}

// Search extracts keywords from question, scores every chunk of every
// material, and greedily concatenates the best chunks up to maxResults and
// maxLength. It returns the context text and the distinct source file names
// in inclusion order; the text is empty when nothing scores above zero.
func Search(materials []model.MaterialText, question string, maxResults, maxLength int) (string, []string) {
	keywords := ExtractKeywords(question)
	if len(keywords) == 0 {
		return "", nil
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	var scored []scoredSegment
	for _, m := range materials {
		for _, seg := range chunker.Chunk(m.Text, keywordChunkSize, keywordChunkOverlap) {
			if score := scoreChunk(seg.Text, keywords); score > 0 {
				scored = append(scored, scoredSegment{fileName: m.FileName, text: seg.Text, score: score})
			}
		}
	}
	if len(scored) == 0 {
		return "", nil
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var sb strings.Builder
	var sources []string
	seen := make(map[string]bool)
	included := 0
	for _, sc := range scored {
		if included >= maxResults {
			break
		}
		block := fmt.Sprintf("[%s]\n%s", sc.fileName, sc.text)
		sep := 0
		if sb.Len() > 0 {
			sep = 2
		}
		if maxLength > 0 && sb.Len()+sep+len(block) > maxLength {
			budget := maxLength - sb.Len() - sep
			if budget < minTruncateBudget {
				break
			}
			block = truncateBlock(sc.fileName, sc.text, budget)
			if block == "" {
				break
			}
			writeBlock(&sb, block, sep > 0)
			markSource(&sources, seen, sc.fileName)
			break
		}
		writeBlock(&sb, block, sep > 0)
		markSource(&sources, seen, sc.fileName)
		included++
	}
	return sb.String(), sources
}

func writeBlock(sb *strings.Builder, block string, needSep bool) {
	if needSep {
		sb.WriteString("\n\n")
	}
	sb.WriteString(block)
}

func markSource(sources *[]string, seen map[string]bool, fileName string) {
	if !seen[fileName] {
		seen[fileName] = true
		*sources = append(*sources, fileName)
	}
}

// truncateBlock fits a chunk into budget bytes, ellipsis and source
// annotation included.
func truncateBlock(fileName, text string, budget int) string {
	header := fmt.Sprintf("[%s]\n", fileName)
	suffix := fmt.Sprintf("... (%s)", fileName)
	room := budget - len(header) - len(suffix)
	if room <= 0 {
		return ""
	}
	runes := []rune(text)
	cut := make([]rune, 0, room)
	size := 0
	for _, r := range runes {
		size += len(string(r))
		if size > room {
			break
		}
		cut = append(cut, r)
	}
	return header + string(cut) + suffix
}

// ExtractKeywords pulls content words out of a question: stopwords,
// single-character tokens and pure-digit tokens are removed, duplicates
// collapsed. When nothing survives, the whole trimmed question becomes the
// sole keyword so retrieval still has something to match.
func ExtractKeywords(question string) []string {
	var keywords []string
	seen := make(map[string]bool)
	for _, token := range strings.Fields(question) {
		word := strings.ToLower(strings.TrimFunc(token, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		}))
		if word == "" || len([]rune(word)) == 1 || isDigits(word) || stopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	if len(keywords) == 0 {
		trimmed := strings.ToLower(strings.TrimSpace(question))
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}
	return keywords
}

// scoreChunk combines raw keyword frequency with keyword density, rewarding
// short, keyword-dense chunks over long chunks with one incidental match:
// 2 x total occurrences + 100 x (distinct keywords present / words in chunk).
func scoreChunk(text string, keywords []string) float64 {
	lower := strings.ToLower(text)
	totalWords := len(strings.Fields(text))
	if totalWords == 0 {
		return 0
	}
	occurrences := 0
	distinct := 0
	for _, kw := range keywords {
		n := strings.Count(lower, kw)
		if n > 0 {
			distinct++
			occurrences += n
		}
	}
	if occurrences == 0 {
		return 0
	}
	return 2*float64(occurrences) + 100*float64(distinct)/float64(totalWords)
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
