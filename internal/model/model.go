package model

import "time"

// Role represents a chat message role.
type Role string

const (
	RoleStudent Role = "user"
	RoleTutor   Role = "ai"
)

// MessagePhase distinguishes pre-submission clarification chat from the
// post-submission feedback dialogue.
type MessagePhase string

const (
	PhaseChat     MessagePhase = "chat"
	PhaseFeedback MessagePhase = "feedback"
)

// SessionStatus represents the status of an exam session.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusSubmitted  SessionStatus = "submitted"
	StatusGrading    SessionStatus = "grading"
	StatusGraded     SessionStatus = "graded"
)

// GradeOrigin records whether a grade was produced by the automated pipeline
// or written by an instructor.
type GradeOrigin string

const (
	OriginAuto   GradeOrigin = "auto"
	OriginManual GradeOrigin = "manual"
)

// Exam is the owning aggregate for materials, rubric and sessions.
type Exam struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// RubricItem is one evaluation area of an exam's rubric. The rubric is
// read-only input to retrieval prompts and grading; this subsystem never
// mutates it.
type RubricItem struct {
	EvaluationArea   string  `json:"evaluation_area"`
	DetailedCriteria string  `json:"detailed_criteria"`
	Weight           float64 `json:"weight,omitempty"`
}

// Material is an uploaded document, identified by (exam, file URL).
// Replacing it invalidates every chunk derived from the old version.
type Material struct {
	ID        int64     `json:"id"`
	ExamID    int64     `json:"exam_id"`
	FileURL   string    `json:"file_url"`
	FileName  string    `json:"file_name"`
	Available bool      `json:"available"`
	CreatedAt time.Time `json:"created_at"`
}

// MaterialText pairs a material's extracted text with its display name for
// retrieval paths that work over raw text instead of an index.
type MaterialText struct {
	FileName string `json:"file_name"`
	Text     string `json:"text"`
}

// ChunkMetadata carries the provenance of a chunk within its source file.
type ChunkMetadata struct {
	FileName   string `json:"file_name"`
	ChunkIndex int    `json:"chunk_index"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
}

// Chunk is a bounded substring of a source document plus its embedding,
// the unit of retrieval. Chunks are created at ingestion, never mutated,
// and deleted in bulk when their source file is reprocessed.
type Chunk struct {
	ID           string        `json:"id"`
	ExamID       int64         `json:"exam_id"`
	FileURL      string        `json:"file_url"`
	Content      string        `json:"content"`
	Embedding    []float32     `json:"embedding"`
	ModelVersion string        `json:"model_version"`
	Metadata     ChunkMetadata `json:"metadata"`
}

// Session is one student's attempt at one exam.
type Session struct {
	ID          int64         `json:"id"`
	ExamID      int64         `json:"exam_id"`
	StudentID   int64         `json:"student_id"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
}

// Message is one chat turn in a session, tagged with the question it belongs to.
type Message struct {
	ID        int64        `json:"id"`
	SessionID int64        `json:"session_id"`
	QIdx      int          `json:"q_idx"`
	Role      Role         `json:"role"`
	Phase     MessagePhase `json:"phase"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
}

// Submission is a student's final answer for one question index.
type Submission struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	QIdx      int       `json:"q_idx"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// StageScore is the result of one grading stage for one question.
type StageScore struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

// StageGrading retains each stage's individual result for instructor inspection.
type StageGrading struct {
	Chat     *StageScore `json:"chat,omitempty"`
	Answer   *StageScore `json:"answer,omitempty"`
	Feedback *StageScore `json:"feedback,omitempty"`
}

// Grade is the current score for one question of a session. At most one
// grade exists per (session, question); later writes overwrite.
type Grade struct {
	ID           int64         `json:"id"`
	SessionID    int64         `json:"session_id"`
	QIdx         int           `json:"q_idx"`
	Score        int           `json:"score"`
	Comment      string        `json:"comment"`
	Origin       GradeOrigin   `json:"origin"`
	StageGrading *StageGrading `json:"stage_grading,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SessionView combines a session with everything persisted for it.
type SessionView struct {
	Session     Session      `json:"session"`
	Messages    []Message    `json:"messages"`
	Submissions []Submission `json:"submissions"`
	Grades      []Grade      `json:"grades"`
}
