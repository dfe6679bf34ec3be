// Package vectorstore persists (chunk, vector, metadata) tuples per material
// and serves cosine-similarity search over them.
package vectorstore

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/eduforge/examtutor/internal/embedding"
	"github.com/eduforge/examtutor/internal/model"
	"github.com/eduforge/examtutor/internal/store"
)

// ErrUpsertBatch is fatal to a whole chunk replacement: the caller retries
// the entire upload, never resumes mid-batch.
var ErrUpsertBatch = errors.New("vectorstore: chunk replacement failed")

// DefaultMatchThreshold is deliberately permissive: exam materials are short
// and topic-narrow, so absolute similarity runs low.
const DefaultMatchThreshold = 0.2

// ScoredChunk is a search hit with its cosine similarity score.
type ScoredChunk struct {
	Chunk model.Chunk
	Score float64
}

// SearchResult carries the hits plus whether the threshold was bypassed, so
// callers can label low-confidence context before it reaches a prompt.
type SearchResult struct {
	Chunks        []ScoredChunk
	LowConfidence bool
}

// SearchOptions scope and bound a similarity search.
type SearchOptions struct {
	ExamID          int64 // 0 searches the whole corpus
	MatchThreshold  float64
	MatchCount      int
	IgnoreThreshold bool // return top-K even when nothing clears the threshold
}

// VectorStore wraps the sqlite chunk tables with replacement locking and
// similarity search.
type VectorStore struct {
	store *store.Store

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func New(s *store.Store) *VectorStore {
	return &VectorStore{
		store: s,
		locks: make(map[string]*sync.RWMutex),
	}
}

// fileLock returns the mutex guarding one (examID, fileURL) replacement
// critical section.
func (v *VectorStore) fileLock(examID int64, fileURL string) *sync.RWMutex {
	key := fmt.Sprintf("%d\x00%s", examID, fileURL)
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		v.locks[key] = l
	}
	return l
}

// UpsertChunks replaces all chunks for (examID, fileURL) atomically from the
// caller's perspective. Searches scoped to the same key wait out the
// replacement rather than observing a half-replaced set.
func (v *VectorStore) UpsertChunks(examID int64, fileURL string, chunks []model.Chunk) error {
	if dim := vectorDimension(chunks); dim < 0 {
		return fmt.Errorf("%w: mixed embedding dimensions in upload", embedding.ErrDimensionMismatch)
	}
	l := v.fileLock(examID, fileURL)
	l.Lock()
	defer l.Unlock()

	if err := v.store.ReplaceChunks(examID, fileURL, chunks); err != nil {
		return fmt.Errorf("%w: %v", ErrUpsertBatch, err)
	}
	return nil
}

// Search scores the query vector against every stored chunk in scope and
// returns the MatchCount best hits above MatchThreshold, descending. When
// nothing clears the threshold the result is empty unless IgnoreThreshold
// asks for the top-K anyway; that degradation is flagged on the result.
func (v *VectorStore) Search(queryEmbedding []float32, opts SearchOptions) (SearchResult, error) {
	if opts.MatchCount <= 0 {
		opts.MatchCount = 5
	}

	chunks, err := v.store.ChunksForExam(opts.ExamID)
	if err != nil {
		return SearchResult{}, fmt.Errorf("load chunks: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != len(queryEmbedding) {
			return SearchResult{}, fmt.Errorf("%w: query has %d dimensions, chunk %s has %d",
				embedding.ErrDimensionMismatch, len(queryEmbedding), c.ID, len(c.Embedding))
		}
		scored = append(scored, ScoredChunk{Chunk: c, Score: cosineSimilarity(queryEmbedding, c.Embedding)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	var above []ScoredChunk
	for _, sc := range scored {
		if sc.Score > opts.MatchThreshold {
			above = append(above, sc)
		}
	}

	if len(above) > 0 {
		if len(above) > opts.MatchCount {
			above = above[:opts.MatchCount]
		}
		return SearchResult{Chunks: above}, nil
	}
	if !opts.IgnoreThreshold || len(scored) == 0 {
		return SearchResult{}, nil
	}
	if len(scored) > opts.MatchCount {
		scored = scored[:opts.MatchCount]
	}
	return SearchResult{Chunks: scored, LowConfidence: true}, nil
}

// HasIndex reports whether the exam has any indexed chunks.
func (v *VectorStore) HasIndex(examID int64) (bool, error) {
	return v.store.HasChunks(examID)
}

func vectorDimension(chunks []model.Chunk) int {
	dim := 0
	for _, c := range chunks {
		if dim == 0 {
			dim = len(c.Embedding)
			continue
		}
		if len(c.Embedding) != dim {
			return -1
		}
	}
	return dim
}

// cosineSimilarity returns the cosine of the angle between a and b: 1.0 is
// identical direction. Zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
