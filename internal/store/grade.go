package store

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/eduforge/examtutor/internal/model"
)

// UpsertGrade writes the current grade for (session, question). The unique
// key makes the write idempotent: concurrent grading runs converge on one
// row per question.
func (s *Store) UpsertGrade(g model.Grade) error {
	stages := ""
	if g.StageGrading != nil {
		var err error
		stages, err = marshalJSON(g.StageGrading)
		if err != nil {
			return err
		}
	}
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO grades (session_id, q_idx, score, comment, origin, stage_grading, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, q_idx) DO UPDATE SET
		 score = ?, comment = ?, origin = ?, stage_grading = ?, updated_at = ?`,
		g.SessionID, g.QIdx, g.Score, g.Comment, g.Origin, stages, now,
		g.Score, g.Comment, g.Origin, stages, now,
	)
	return err
}

// GetGrade returns the current grade for one question, or nil when the
// question has not been graded. Absence of a grade is distinct from a zero
// score.
func (s *Store) GetGrade(sessionID int64, qIdx int) (*model.Grade, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, q_idx, score, comment, origin, stage_grading, updated_at
		 FROM grades WHERE session_id = ? AND q_idx = ?`, sessionID, qIdx,
	)
	g, err := scanGrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetGrades returns all current grades for a session ordered by question index.
func (s *Store) GetGrades(sessionID int64) ([]model.Grade, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, q_idx, score, comment, origin, stage_grading, updated_at
		 FROM grades WHERE session_id = ? ORDER BY q_idx`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grades []model.Grade
	for rows.Next() {
		g, err := scanGrade(rows)
		if err != nil {
			return nil, err
		}
		grades = append(grades, *g)
	}
	return grades, rows.Err()
}

// HasManualGrade reports whether any question in the session carries an
// instructor-authored grade. Regrade requests are blocked while one exists.
func (s *Store) HasManualGrade(sessionID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM grades WHERE session_id = ? AND origin = ?`,
		sessionID, model.OriginManual,
	).Scan(&count)
	return count > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrade(row rowScanner) (*model.Grade, error) {
	var g model.Grade
	var stages string
	if err := row.Scan(&g.ID, &g.SessionID, &g.QIdx, &g.Score, &g.Comment, &g.Origin, &stages, &g.UpdatedAt); err != nil {
		return nil, err
	}
	if stages != "" {
		var sg model.StageGrading
		if err := json.Unmarshal([]byte(stages), &sg); err != nil {
			slog.Warn("unreadable stage grading detail", "grade_id", g.ID, "error", err)
		} else {
			g.StageGrading = &sg
		}
	}
	return &g, nil
}
