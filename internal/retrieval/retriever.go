// Package retrieval builds grounding context for tutor prompts. Two
// strategies coexist on purpose: the vector retriever is recall-oriented
// with a low-confidence fallback, the keyword retriever is precision-oriented
// density scoring over raw text. They are selected per call site, never
// merged.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eduforge/examtutor/internal/i18n"
	"github.com/eduforge/examtutor/internal/vectorstore"
)

// ErrExtractionUnavailable marks a material whose upstream text extraction
// failed. Retrieval simply has less context; nothing downstream treats this
// as fatal.
var ErrExtractionUnavailable = errors.New("retrieval: material text unavailable")

// Query is one retrieval request.
type Query struct {
	ExamID     int64
	Question   string
	MaxResults int
	MaxLength  int
}

// Context is retrieval output ready for prompt embedding.
type Context struct {
	Text          string
	Sources       []string
	LowConfidence bool
}

// Retriever produces grounding context for a student question.
type Retriever interface {
	Retrieve(ctx context.Context, q Query) (Context, error)
}

// Embedder is the slice of the embedding client vector retrieval needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorRetriever answers queries from the indexed chunk store.
type VectorRetriever struct {
	embedder Embedder
	store    *vectorstore.VectorStore
	// Threshold bypass returns top-K hits even when nothing is relevant
	// enough; the context is then explicitly labeled low-confidence.
	ignoreThreshold bool
	matchThreshold  float64
}

// NewVectorRetriever creates a vector retriever. ignoreThreshold opts into
// the recall-over-precision fallback of the underlying store.
func NewVectorRetriever(e Embedder, vs *vectorstore.VectorStore, matchThreshold float64, ignoreThreshold bool) *VectorRetriever {
	if matchThreshold == 0 {
		matchThreshold = vectorstore.DefaultMatchThreshold
	}
	return &VectorRetriever{
		embedder:        e,
		store:           vs,
		ignoreThreshold: ignoreThreshold,
		matchThreshold:  matchThreshold,
	}
}

// Retrieve embeds the question, searches the store and formats the hits with
// their source file names. A dimension mismatch propagates: it is a
// configuration error, not something to degrade around.
func (r *VectorRetriever) Retrieve(ctx context.Context, q Query) (Context, error) {
	vec, err := r.embedder.Embed(ctx, q.Question)
	if err != nil {
		return Context{}, fmt.Errorf("embed question: %w", err)
	}

	res, err := r.store.Search(vec, vectorstore.SearchOptions{
		ExamID:          q.ExamID,
		MatchThreshold:  r.matchThreshold,
		MatchCount:      q.MaxResults,
		IgnoreThreshold: r.ignoreThreshold,
	})
	if err != nil {
		return Context{}, err
	}
	if len(res.Chunks) == 0 {
		return Context{}, nil
	}

	var sb strings.Builder
	var sources []string
	seen := make(map[string]bool)
	if res.LowConfidence {
		sb.WriteString(i18n.T(ctx, "retrieval.low_confidence"))
		sb.WriteString("\n\n")
	}
	for _, sc := range res.Chunks {
		block := fmt.Sprintf("[%s]\n%s", sc.Chunk.Metadata.FileName, sc.Chunk.Content)
		if q.MaxLength > 0 && sb.Len()+len(block) > q.MaxLength {
			break
		}
		sb.WriteString(block)
		sb.WriteString("\n\n")
		if !seen[sc.Chunk.Metadata.FileName] {
			seen[sc.Chunk.Metadata.FileName] = true
			sources = append(sources, sc.Chunk.Metadata.FileName)
		}
	}
	return Context{
		Text:          strings.TrimRight(sb.String(), "\n"),
		Sources:       sources,
		LowConfidence: res.LowConfidence,
	}, nil
}
