package store

import (
	"errors"
	"log/slog"
	"time"

	"github.com/eduforge/examtutor/internal/codec"
	"github.com/eduforge/examtutor/internal/model"
)

// ContentUnavailable replaces message or submission text whose stored payload
// could not be decompressed. Data loss degrades the content, never the read.
const ContentUnavailable = "[content unavailable]"

// CreateSession starts a session for an exam.
func (s *Store) CreateSession(examID, studentID int64) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO sessions (exam_id, student_id, status, started_at) VALUES (?, ?, 'in_progress', ?)`,
		examID, studentID, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSession returns a session by ID.
func (s *Store) GetSession(id int64) (model.Session, error) {
	var sess model.Session
	err := s.db.QueryRow(
		`SELECT id, exam_id, student_id, status, started_at, submitted_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.ExamID, &sess.StudentID, &sess.Status, &sess.StartedAt, &sess.SubmittedAt)
	return sess, err
}

// UpdateSessionStatus updates the session status, stamping submitted_at on
// the transition to submitted.
func (s *Store) UpdateSessionStatus(id int64, status model.SessionStatus) error {
	query := `UPDATE sessions SET status = ? WHERE id = ?`
	args := []any{status, id}
	if status == model.StatusSubmitted {
		query = `UPDATE sessions SET status = ?, submitted_at = ? WHERE id = ?`
		args = []any{status, time.Now(), id}
	}
	_, err := s.db.Exec(query, args...)
	return err
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions() ([]model.Session, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, student_id, status, started_at, submitted_at FROM sessions ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.ExamID, &sess.StudentID, &sess.Status, &sess.StartedAt, &sess.SubmittedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// AddMessage inserts a chat turn, compressing the content at the persistence
// boundary.
func (s *Store) AddMessage(msg model.Message) (int64, error) {
	p, err := codec.Compress(msg.Content)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(
		`INSERT INTO messages (session_id, q_idx, role, phase, content, original_size, compressed_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, msg.QIdx, msg.Role, msg.Phase, p.Data,
		p.Metadata.OriginalSize, p.Metadata.CompressedSize, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetMessages returns all messages for a session in insertion order.
// Undecodable content comes back as ContentUnavailable.
func (s *Store) GetMessages(sessionID int64) ([]model.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, q_idx, role, phase, content, created_at
		 FROM messages WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var stored string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.QIdx, &m.Role, &m.Phase, &stored, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Content, err = codec.DecompressString(stored)
		if err != nil {
			if !errors.Is(err, codec.ErrDecompression) {
				return nil, err
			}
			slog.Warn("message content lost to decompression failure", "message_id", m.ID)
			m.Content = ContentUnavailable
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpsertSubmission stores the final answer for one question index. A second
// submission for the same question replaces the first.
func (s *Store) UpsertSubmission(sub model.Submission) error {
	p, err := codec.Compress(sub.Answer)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO submissions (session_id, q_idx, answer, original_size, compressed_size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, q_idx) DO UPDATE SET answer = ?, original_size = ?, compressed_size = ?, created_at = ?`,
		sub.SessionID, sub.QIdx, p.Data, p.Metadata.OriginalSize, p.Metadata.CompressedSize, time.Now(),
		p.Data, p.Metadata.OriginalSize, p.Metadata.CompressedSize, time.Now(),
	)
	return err
}

// GetSubmissions returns all submissions for a session ordered by question
// index. Undecodable answers come back as ContentUnavailable.
func (s *Store) GetSubmissions(sessionID int64) ([]model.Submission, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, q_idx, answer, created_at
		 FROM submissions WHERE session_id = ? ORDER BY q_idx`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		var sub model.Submission
		var stored string
		if err := rows.Scan(&sub.ID, &sub.SessionID, &sub.QIdx, &stored, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.Answer, err = codec.DecompressString(stored)
		if err != nil {
			if !errors.Is(err, codec.ErrDecompression) {
				return nil, err
			}
			slog.Warn("submission lost to decompression failure", "submission_id", sub.ID)
			sub.Answer = ContentUnavailable
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SnapshotSession stores a compressed point-in-time view of a session,
// written when the session is submitted.
func (s *Store) SnapshotSession(sessionID int64) error {
	view, err := s.GetSessionView(sessionID)
	if err != nil {
		return err
	}
	p, err := codec.Compress(view)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO session_snapshots (session_id, snapshot, original_size, compressed_size, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, p.Data, p.Metadata.OriginalSize, p.Metadata.CompressedSize, time.Now(),
	)
	return err
}

// GetSessionView builds a full view of a session with messages, submissions
// and current grades.
func (s *Store) GetSessionView(sessionID int64) (*model.SessionView, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}
	subs, err := s.GetSubmissions(sessionID)
	if err != nil {
		return nil, err
	}
	grades, err := s.GetGrades(sessionID)
	if err != nil {
		return nil, err
	}
	return &model.SessionView{
		Session:     sess,
		Messages:    messages,
		Submissions: subs,
		Grades:      grades,
	}, nil
}
