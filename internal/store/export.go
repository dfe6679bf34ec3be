package store

import (
	"fmt"
	"time"

	"github.com/eduforge/examtutor/internal/model"
)

// ExportExam builds an export-ready view of every session of an exam with
// current grades and stage detail.
func (s *Store) ExportExam(examID int64, modelVersion string) (*model.ExamExport, error) {
	exam, err := s.GetExam(examID)
	if err != nil {
		return nil, fmt.Errorf("get exam %d: %w", examID, err)
	}
	sessions, err := s.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	export := &model.ExamExport{
		ExamID:       exam.ID,
		Title:        exam.Title,
		ExportedAt:   time.Now().UTC(),
		ModelVersion: modelVersion,
	}

	for _, sess := range sessions {
		if sess.ExamID != examID {
			continue
		}
		view, err := s.GetSessionView(sess.ID)
		if err != nil {
			return nil, fmt.Errorf("get session %d: %w", sess.ID, err)
		}

		answers := make(map[int]string, len(view.Submissions))
		for _, sub := range view.Submissions {
			answers[sub.QIdx] = sub.Answer
		}

		se := model.SessionExport{
			SessionID:   sess.ID,
			StudentID:   sess.StudentID,
			Status:      sess.Status,
			StartedAt:   sess.StartedAt,
			SubmittedAt: sess.SubmittedAt,
		}
		for _, g := range view.Grades {
			se.Questions = append(se.Questions, model.GradeExport{
				QIdx:         g.QIdx,
				Answer:       answers[g.QIdx],
				Score:        g.Score,
				Comment:      g.Comment,
				Origin:       g.Origin,
				StageGrading: g.StageGrading,
			})
		}
		if overall, ok := model.OverallScore(view.Grades); ok {
			se.OverallScore = &overall
		}
		export.Sessions = append(export.Sessions, se)
	}
	return export, nil
}
