package model

import "time"

// ExamExport is the top-level JSON structure for exam result export.
type ExamExport struct {
	ExamID       int64           `json:"exam_id"`
	Title        string          `json:"title"`
	ExportedAt   time.Time       `json:"exported_at"`
	ModelVersion string          `json:"model_version"`
	Sessions     []SessionExport `json:"sessions"`
}

// SessionExport holds one session's data for export.
type SessionExport struct {
	SessionID    int64         `json:"session_id"`
	StudentID    int64         `json:"student_id"`
	Status       SessionStatus `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	SubmittedAt  *time.Time    `json:"submitted_at,omitempty"`
	Questions    []GradeExport `json:"questions"`
	OverallScore *int          `json:"overall_score,omitempty"`
}

// GradeExport holds per-question grading detail for export.
type GradeExport struct {
	QIdx         int           `json:"q_idx"`
	Answer       string        `json:"answer,omitempty"`
	Score        int           `json:"score"`
	Comment      string        `json:"comment"`
	Origin       GradeOrigin   `json:"origin"`
	StageGrading *StageGrading `json:"stage_grading,omitempty"`
}
