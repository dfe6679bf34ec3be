package grading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/eduforge/examtutor/internal/llm"
	"github.com/eduforge/examtutor/internal/llm/prompts"
	"github.com/eduforge/examtutor/internal/model"
	"github.com/eduforge/examtutor/internal/store"
)

// stubGrader returns canned per-stage results and counts calls.
type stubGrader struct {
	mu      sync.Mutex
	results map[prompts.Stage]*llm.StageResult
	errs    map[prompts.Stage]error
	calls   map[prompts.Stage]int
}

func newStubGrader() *stubGrader {
	return &stubGrader{
		results: make(map[prompts.Stage]*llm.StageResult),
		errs:    make(map[prompts.Stage]error),
		calls:   make(map[prompts.Stage]int),
	}
}

func (g *stubGrader) GradeStage(_ context.Context, stage prompts.Stage, _ []model.RubricItem, _ string) (*llm.StageResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[stage]++
	if err := g.errs[stage]; err != nil {
		return nil, err
	}
	res, ok := g.results[stage]
	if !ok {
		return nil, errors.New("no stub result for stage")
	}
	return res, nil
}

func (g *stubGrader) callCount(stage prompts.Stage) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[stage]
}

func newTestSetup(t *testing.T) (*store.Store, *stubGrader, *Orchestrator, int64) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	examID, err := s.CreateExam("Econ")
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	sessID, err := s.CreateSession(examID, 1)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	g := newStubGrader()
	return s, g, NewOrchestrator(s, g), sessID
}

func addChat(t *testing.T, s *store.Store, sessID int64, qIdx int, content string) {
	t.Helper()
	if _, err := s.AddMessage(model.Message{
		SessionID: sessID, QIdx: qIdx, Role: model.RoleStudent, Phase: model.PhaseChat, Content: content,
	}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
}

func submitAnswer(t *testing.T, s *store.Store, sessID int64, qIdx int, answer string) {
	t.Helper()
	if err := s.UpsertSubmission(model.Submission{SessionID: sessID, QIdx: qIdx, Answer: answer}); err != nil {
		t.Fatalf("UpsertSubmission: %v", err)
	}
}

func TestGradeSessionChatOnly(t *testing.T) {
	s, g, orch, sessID := newTestSetup(t)

	// The student only chatted; there is no submitted answer.
	addChat(t, s, sessID, 0, "How does supply affect price?")
	g.results[prompts.StageChat] = &llm.StageResult{Score: 85, Comment: "thoughtful questions"}

	if err := orch.GradeSession(context.Background(), sessID); err != nil {
		t.Fatalf("GradeSession: %v", err)
	}

	grades, err := s.GetGrades(sessID)
	if err != nil {
		t.Fatalf("GetGrades: %v", err)
	}
	if len(grades) != 1 {
		t.Fatalf("expected 1 grade, got %d", len(grades))
	}
	grade := grades[0]
	if grade.Score != 85 {
		t.Errorf("expected score 85, got %d", grade.Score)
	}
	if grade.Origin != model.OriginAuto {
		t.Errorf("expected origin auto, got %q", grade.Origin)
	}
	if !strings.HasPrefix(grade.Comment, autoCommentPrefix) {
		t.Errorf("expected auto comment prefix, got %q", grade.Comment)
	}
	if grade.StageGrading == nil || grade.StageGrading.Chat == nil {
		t.Fatal("expected chat stage detail")
	}
	if grade.StageGrading.Answer != nil || grade.StageGrading.Feedback != nil {
		t.Error("expected only the chat stage to run")
	}
	if g.callCount(prompts.StageAnswer) != 0 {
		t.Error("answer stage should not run without a submission")
	}

	// Session ends up graded.
	sess, _ := s.GetSession(sessID)
	if sess.Status != model.StatusGraded {
		t.Errorf("expected status graded, got %q", sess.Status)
	}
}

func TestGradeSessionStageAverage(t *testing.T) {
	s, g, orch, sessID := newTestSetup(t)

	addChat(t, s, sessID, 0, "question about elasticity")
	submitAnswer(t, s, sessID, 0, "Price elasticity measures responsiveness of demand.")
	g.results[prompts.StageChat] = &llm.StageResult{Score: 80, Comment: "good"}
	g.results[prompts.StageAnswer] = &llm.StageResult{Score: 60, Comment: "partial"}

	if err := orch.GradeSession(context.Background(), sessID); err != nil {
		t.Fatalf("GradeSession: %v", err)
	}

	grade, err := s.GetGrade(sessID, 0)
	if err != nil {
		t.Fatalf("GetGrade: %v", err)
	}
	if grade == nil {
		t.Fatal("expected a grade")
	}
	// Rounded mean of 80 and 60.
	if grade.Score != 70 {
		t.Errorf("expected score 70, got %d", grade.Score)
	}
	if grade.StageGrading.Chat.Score != 80 || grade.StageGrading.Answer.Score != 60 {
		t.Errorf("unexpected stage detail: %+v", grade.StageGrading)
	}
}

func TestGradeSessionStageFailureOmitted(t *testing.T) {
	s, g, orch, sessID := newTestSetup(t)

	addChat(t, s, sessID, 0, "chat")
	submitAnswer(t, s, sessID, 0, "answer text")
	g.results[prompts.StageAnswer] = &llm.StageResult{Score: 90, Comment: "strong"}
	g.errs[prompts.StageChat] = errors.New("model returned garbage")

	if err := orch.GradeSession(context.Background(), sessID); err != nil {
		t.Fatalf("GradeSession: %v", err)
	}

	grade, _ := s.GetGrade(sessID, 0)
	if grade == nil {
		t.Fatal("expected a grade from the surviving stage")
	}
	// Only the answer stage counts.
	if grade.Score != 90 {
		t.Errorf("expected score 90, got %d", grade.Score)
	}
	if grade.StageGrading.Chat != nil {
		t.Error("failed stage must be omitted from detail")
	}
}

func TestGradeSessionAllStagesFail(t *testing.T) {
	s, g, orch, sessID := newTestSetup(t)

	addChat(t, s, sessID, 0, "chat")
	g.errs[prompts.StageChat] = errors.New("down")

	if err := orch.GradeSession(context.Background(), sessID); err != nil {
		t.Fatalf("GradeSession: %v", err)
	}

	// No usable stage means no grade row: absence is not a zero score.
	grade, _ := s.GetGrade(sessID, 0)
	if grade != nil {
		t.Errorf("expected no grade, got %+v", grade)
	}
}

func TestGradeSessionUnavailableAnswerSkipsStage(t *testing.T) {
	s, g, orch, sessID := newTestSetup(t)

	addChat(t, s, sessID, 0, "chat")
	submitAnswer(t, s, sessID, 0, store.ContentUnavailable)
	g.results[prompts.StageChat] = &llm.StageResult{Score: 75, Comment: "ok"}

	if err := orch.GradeSession(context.Background(), sessID); err != nil {
		t.Fatalf("GradeSession: %v", err)
	}
	if g.callCount(prompts.StageAnswer) != 0 {
		t.Error("lost answer content must not reach the grader")
	}
	grade, _ := s.GetGrade(sessID, 0)
	if grade == nil || grade.Score != 75 {
		t.Errorf("expected grade from chat stage alone, got %+v", grade)
	}
}

func TestGradeSessionIdempotent(t *testing.T) {
	s, g, orch, sessID := newTestSetup(t)

	addChat(t, s, sessID, 0, "q0 chat")
	submitAnswer(t, s, sessID, 1, "q1 answer")
	g.results[prompts.StageChat] = &llm.StageResult{Score: 70, Comment: "ok"}
	g.results[prompts.StageAnswer] = &llm.StageResult{Score: 80, Comment: "ok"}

	// Double trigger converges on one grade row per question.
	if err := orch.GradeSession(context.Background(), sessID); err != nil {
		t.Fatalf("GradeSession: %v", err)
	}
	if err := orch.GradeSession(context.Background(), sessID); err != nil {
		t.Fatalf("GradeSession again: %v", err)
	}

	grades, err := s.GetGrades(sessID)
	if err != nil {
		t.Fatalf("GetGrades: %v", err)
	}
	if len(grades) != 2 {
		t.Fatalf("expected 2 grade rows, got %d", len(grades))
	}
}

func TestGradeSessionSkipsManuallyGradedQuestion(t *testing.T) {
	s, g, orch, sessID := newTestSetup(t)

	addChat(t, s, sessID, 0, "q0 chat")
	addChat(t, s, sessID, 1, "q1 chat")
	g.results[prompts.StageChat] = &llm.StageResult{Score: 50, Comment: "ok"}

	// Instructor already graded question 0.
	if err := s.UpsertGrade(model.Grade{
		SessionID: sessID, QIdx: 0, Score: 95, Comment: "excellent", Origin: model.OriginManual,
	}); err != nil {
		t.Fatalf("UpsertGrade: %v", err)
	}

	if err := orch.GradeSession(context.Background(), sessID); err != nil {
		t.Fatalf("GradeSession: %v", err)
	}

	g0, _ := s.GetGrade(sessID, 0)
	if g0.Score != 95 || g0.Origin != model.OriginManual {
		t.Errorf("manual grade must survive grading run: %+v", g0)
	}
	g1, _ := s.GetGrade(sessID, 1)
	if g1 == nil || g1.Score != 50 || g1.Origin != model.OriginAuto {
		t.Errorf("expected auto grade for question 1, got %+v", g1)
	}
}

func TestRegradeBlockedByManualGrade(t *testing.T) {
	s, g, orch, sessID := newTestSetup(t)

	addChat(t, s, sessID, 0, "chat")
	g.results[prompts.StageChat] = &llm.StageResult{Score: 40, Comment: "ok"}

	if err := s.UpsertGrade(model.Grade{
		SessionID: sessID, QIdx: 0, Score: 88, Comment: "reviewed", Origin: model.OriginManual,
	}); err != nil {
		t.Fatalf("UpsertGrade: %v", err)
	}

	outcome, err := orch.Regrade(context.Background(), sessID)
	if err != nil {
		t.Fatalf("Regrade: %v", err)
	}
	if outcome != RegradeSkipped {
		t.Errorf("expected regrade to be skipped, got %q", outcome)
	}
	if g.callCount(prompts.StageChat) != 0 {
		t.Error("skipped regrade must not call the grader")
	}
	grade, _ := s.GetGrade(sessID, 0)
	if grade.Score != 88 {
		t.Errorf("manual grade changed by skipped regrade: %+v", grade)
	}
}

func TestRegradeRunsWithoutManualGrades(t *testing.T) {
	s, g, orch, sessID := newTestSetup(t)

	addChat(t, s, sessID, 0, "chat")
	g.results[prompts.StageChat] = &llm.StageResult{Score: 65, Comment: "ok"}

	if err := orch.GradeSession(context.Background(), sessID); err != nil {
		t.Fatalf("GradeSession: %v", err)
	}
	g.results[prompts.StageChat] = &llm.StageResult{Score: 72, Comment: "revised"}

	outcome, err := orch.Regrade(context.Background(), sessID)
	if err != nil {
		t.Fatalf("Regrade: %v", err)
	}
	if outcome != RegradeStarted {
		t.Errorf("expected regrade to run, got %q", outcome)
	}
	grade, _ := s.GetGrade(sessID, 0)
	if grade.Score != 72 {
		t.Errorf("expected regraded score 72, got %d", grade.Score)
	}
}

func TestOverride(t *testing.T) {
	s, g, orch, sessID := newTestSetup(t)

	addChat(t, s, sessID, 0, "chat")
	g.results[prompts.StageChat] = &llm.StageResult{Score: 60, Comment: "auto"}
	if err := orch.GradeSession(context.Background(), sessID); err != nil {
		t.Fatalf("GradeSession: %v", err)
	}

	if err := orch.Override(sessID, 0, 90, "strong conceptual grasp"); err != nil {
		t.Fatalf("Override: %v", err)
	}

	grade, _ := s.GetGrade(sessID, 0)
	if grade.Score != 90 || grade.Origin != model.OriginManual {
		t.Errorf("unexpected grade after override: %+v", grade)
	}
	if grade.Comment != "strong conceptual grasp" {
		t.Errorf("unexpected comment: %q", grade.Comment)
	}
	// Stage detail survives for instructor reference.
	if grade.StageGrading == nil || grade.StageGrading.Chat == nil || grade.StageGrading.Chat.Score != 60 {
		t.Errorf("expected stage detail preserved, got %+v", grade.StageGrading)
	}
}

func TestOverrideScoreRange(t *testing.T) {
	_, _, orch, sessID := newTestSetup(t)

	if err := orch.Override(sessID, 0, 101, ""); err == nil {
		t.Error("expected error for score above 100")
	}
	if err := orch.Override(sessID, 0, -1, ""); err == nil {
		t.Error("expected error for negative score")
	}
}

func TestClassifyOrigin(t *testing.T) {
	tests := []struct {
		name  string
		grade model.Grade
		want  model.GradeOrigin
	}{
		{"explicit auto", model.Grade{Origin: model.OriginAuto, Comment: "anything"}, model.OriginAuto},
		{"explicit manual", model.Grade{Origin: model.OriginManual, Comment: "[AI grading] leftover"}, model.OriginManual},
		{"legacy auto by signature", model.Grade{Comment: "[AI grading] chat 80: good"}, model.OriginAuto},
		{"legacy manual", model.Grade{Comment: "reviewed by instructor"}, model.OriginManual},
		{"legacy empty comment", model.Grade{}, model.OriginManual},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyOrigin(tt.grade); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestOverallScore(t *testing.T) {
	score, ok := model.OverallScore(nil)
	if ok {
		t.Error("expected no overall score without grades")
	}
	if score != 0 {
		t.Errorf("expected zero value, got %d", score)
	}

	score, ok = model.OverallScore([]model.Grade{{Score: 80}, {Score: 60}})
	if !ok || score != 70 {
		t.Errorf("expected 70, got %d (ok=%v)", score, ok)
	}

	// Rounded, not truncated.
	score, _ = model.OverallScore([]model.Grade{{Score: 80}, {Score: 61}})
	if score != 71 {
		t.Errorf("expected 71, got %d", score)
	}
}
