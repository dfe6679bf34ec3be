package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eduforge/examtutor/internal/model"
)

// chunkInsertBatch is the number of chunk rows written per INSERT statement
// during a replacement.
const chunkInsertBatch = 100

// ReplaceChunks atomically swaps the stored chunks for (examID, fileURL):
// old rows are deleted and new ones inserted in one transaction, so readers
// never observe a mix of old and new chunks. Any batch failure rolls back
// the whole replacement; the caller retries the upload from scratch.
func (s *Store) ReplaceChunks(examID int64, fileURL string, chunks []model.Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM chunks WHERE exam_id = ? AND file_url = ?`, examID, fileURL,
	); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	for start := 0; start < len(chunks); start += chunkInsertBatch {
		end := start + chunkInsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := insertChunkBatch(tx, chunks[start:end]); err != nil {
			return fmt.Errorf("insert chunk batch at %d: %w", start, err)
		}
	}
	return tx.Commit()
}

func insertChunkBatch(tx *sql.Tx, chunks []model.Chunk) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO chunks (id, exam_id, file_url, content, embedding, model_version, file_name, chunk_index, start_char, end_char) VALUES `)
	args := make([]any, 0, len(chunks)*10)
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		emb, err := json.Marshal(c.Embedding)
		if err != nil {
			return err
		}
		args = append(args, c.ID, c.ExamID, c.FileURL, c.Content, string(emb),
			c.ModelVersion, c.Metadata.FileName, c.Metadata.ChunkIndex,
			c.Metadata.StartChar, c.Metadata.EndChar)
	}
	_, err := tx.Exec(sb.String(), args...)
	return err
}

// ChunksForExam returns all stored chunks scoped to an exam, or the whole
// corpus when examID is 0.
func (s *Store) ChunksForExam(examID int64) ([]model.Chunk, error) {
	query := `SELECT id, exam_id, file_url, content, embedding, model_version, file_name, chunk_index, start_char, end_char FROM chunks`
	var args []any
	if examID != 0 {
		query += ` WHERE exam_id = ?`
		args = append(args, examID)
	}
	query += ` ORDER BY file_url, chunk_index`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var emb string
		if err := rows.Scan(&c.ID, &c.ExamID, &c.FileURL, &c.Content, &emb, &c.ModelVersion,
			&c.Metadata.FileName, &c.Metadata.ChunkIndex, &c.Metadata.StartChar, &c.Metadata.EndChar); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(emb), &c.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkCountForFile returns the number of chunks stored for one material.
func (s *Store) ChunkCountForFile(examID int64, fileURL string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM chunks WHERE exam_id = ? AND file_url = ?`, examID, fileURL,
	).Scan(&count)
	return count, err
}

// HasChunks reports whether any chunks are indexed for an exam, which is how
// call sites choose between vector and keyword retrieval.
func (s *Store) HasChunks(examID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE exam_id = ?`, examID).Scan(&count)
	return count > 0, err
}

// DeleteChunksForExam removes every chunk owned by an exam.
func (s *Store) DeleteChunksForExam(examID int64) error {
	_, err := s.db.Exec(`DELETE FROM chunks WHERE exam_id = ?`, examID)
	return err
}
