package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eduforge/examtutor/internal/codec"
	"github.com/eduforge/examtutor/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rubric_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		evaluation_area TEXT NOT NULL,
		detailed_criteria TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 0,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS materials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		file_url TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		original_size INTEGER NOT NULL DEFAULT 0,
		compressed_size INTEGER NOT NULL DEFAULT 0,
		available INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		UNIQUE (exam_id, file_url),
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		exam_id INTEGER NOT NULL,
		file_url TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT NOT NULL,
		model_version TEXT NOT NULL,
		file_name TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		start_char INTEGER NOT NULL,
		end_char INTEGER NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_exam ON chunks(exam_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_exam_file ON chunks(exam_id, file_url);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'in_progress',
		started_at DATETIME NOT NULL,
		submitted_at DATETIME,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		q_idx INTEGER NOT NULL,
		role TEXT NOT NULL,
		phase TEXT NOT NULL DEFAULT 'chat',
		content TEXT NOT NULL,
		original_size INTEGER NOT NULL DEFAULT 0,
		compressed_size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		q_idx INTEGER NOT NULL,
		answer TEXT NOT NULL,
		original_size INTEGER NOT NULL DEFAULT 0,
		compressed_size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		UNIQUE (session_id, q_idx),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS grades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		q_idx INTEGER NOT NULL,
		score INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		origin TEXT NOT NULL DEFAULT 'auto',
		stage_grading TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL,
		UNIQUE (session_id, q_idx),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS session_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		snapshot TEXT NOT NULL,
		original_size INTEGER NOT NULL DEFAULT 0,
		compressed_size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS exam_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateExam stores an exam.
func (s *Store) CreateExam(title string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO exams (title, created_at) VALUES (?, ?)`, title, time.Now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetExam returns an exam by ID.
func (s *Store) GetExam(id int64) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRow(
		`SELECT id, title, created_at FROM exams WHERE id = ?`, id,
	).Scan(&e.ID, &e.Title, &e.CreatedAt)
	return e, err
}

// SetRubric replaces the rubric for an exam. The rubric is authored outside
// this subsystem; grading and retrieval only ever read it.
func (s *Store) SetRubric(examID int64, items []model.RubricItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rubric_items WHERE exam_id = ?`, examID); err != nil {
		return err
	}
	for i, item := range items {
		_, err := tx.Exec(
			`INSERT INTO rubric_items (exam_id, position, evaluation_area, detailed_criteria, weight)
			 VALUES (?, ?, ?, ?, ?)`,
			examID, i, item.EvaluationArea, item.DetailedCriteria, item.Weight,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRubric returns the ordered rubric for an exam. Missing rubric is not an
// error; grading prompts simply omit the rubric section.
func (s *Store) GetRubric(examID int64) ([]model.RubricItem, error) {
	rows, err := s.db.Query(
		`SELECT evaluation_area, detailed_criteria, weight FROM rubric_items
		 WHERE exam_id = ? ORDER BY position`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []model.RubricItem
	for rows.Next() {
		var item model.RubricItem
		if err := rows.Scan(&item.EvaluationArea, &item.DetailedCriteria, &item.Weight); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpsertMaterial records an uploaded material for an exam, compressing its
// extracted text at the persistence boundary. Re-uploading the same file URL
// replaces the stored text.
func (s *Store) UpsertMaterial(m model.Material, text string) error {
	p, err := codec.Compress(text)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO materials (exam_id, file_url, file_name, content, original_size, compressed_size, available, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(exam_id, file_url) DO UPDATE SET
		 file_name = ?, content = ?, original_size = ?, compressed_size = ?, available = ?`,
		m.ExamID, m.FileURL, m.FileName, p.Data, p.Metadata.OriginalSize, p.Metadata.CompressedSize, m.Available, time.Now(),
		m.FileName, p.Data, p.Metadata.OriginalSize, p.Metadata.CompressedSize, m.Available,
	)
	return err
}

// MaterialTexts returns the decompressed text of every available material of
// an exam. Materials whose payload is lost to decompression failure are
// skipped: retrieval degrades to less context, it does not abort.
func (s *Store) MaterialTexts(examID int64) ([]model.MaterialText, error) {
	rows, err := s.db.Query(
		`SELECT file_name, content FROM materials
		 WHERE exam_id = ? AND available = 1 ORDER BY id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var texts []model.MaterialText
	for rows.Next() {
		var fileName, stored string
		if err := rows.Scan(&fileName, &stored); err != nil {
			return nil, err
		}
		text, err := codec.DecompressString(stored)
		if err != nil {
			if !errors.Is(err, codec.ErrDecompression) {
				return nil, err
			}
			slog.Warn("material text lost to decompression failure", "file_name", fileName)
			continue
		}
		texts = append(texts, model.MaterialText{FileName: fileName, Text: text})
	}
	return texts, rows.Err()
}

// ListMaterials returns all materials for an exam.
func (s *Store) ListMaterials(examID int64) ([]model.Material, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, file_url, file_name, available, created_at
		 FROM materials WHERE exam_id = ? ORDER BY id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var materials []model.Material
	for rows.Next() {
		var m model.Material
		if err := rows.Scan(&m.ID, &m.ExamID, &m.FileURL, &m.FileName, &m.Available, &m.CreatedAt); err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
