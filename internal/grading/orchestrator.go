// Package grading runs the multi-stage automated scoring pipeline over
// submitted exam sessions.
package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/eduforge/examtutor/internal/llm"
	"github.com/eduforge/examtutor/internal/llm/prompts"
	"github.com/eduforge/examtutor/internal/model"
	"github.com/eduforge/examtutor/internal/store"
)

// ErrStageFailure marks one LLM grading call that failed or returned
// unparsable output. The stage is omitted from aggregation; it is not
// retried synchronously and never blocks the other stages or questions.
var ErrStageFailure = errors.New("grading: stage failed")

// autoCommentPrefix is the fixed signature the pipeline writes into grade
// comments. Rows predating the origin column are classified by it.
const autoCommentPrefix = "[AI grading]"

// StageGrader is the slice of the LLM client the orchestrator needs.
type StageGrader interface {
	GradeStage(ctx context.Context, stage prompts.Stage, rubric []model.RubricItem, content string) (*llm.StageResult, error)
}

// RegradeOutcome reports what a regrade request did.
type RegradeOutcome string

const (
	RegradeStarted RegradeOutcome = "started"
	RegradeSkipped RegradeOutcome = "skipped"
)

// Orchestrator grades sessions question by question, stage by stage.
type Orchestrator struct {
	store  *store.Store
	grader StageGrader
}

func NewOrchestrator(s *store.Store, g StageGrader) *Orchestrator {
	return &Orchestrator{store: s, grader: g}
}

// questionInput is everything grading needs for one question index.
type questionInput struct {
	qIdx         int
	chatMsgs     []model.Message
	feedbackMsgs []model.Message
	answer       string
	hasAnswer    bool
}

// GradeSession runs the full pipeline for one session. Per-question work is
// issued as independent concurrent units with their own failure boundary, so
// one question's failure never blocks the rest. Grade writes are upserts
// keyed by (session, question), which makes a duplicate trigger converge on
// one row per question.
func (o *Orchestrator) GradeSession(ctx context.Context, sessionID int64) error {
	sess, err := o.store.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("load session %d: %w", sessionID, err)
	}
	if err := o.store.UpdateSessionStatus(sessionID, model.StatusGrading); err != nil {
		return fmt.Errorf("mark session grading: %w", err)
	}

	rubric, err := o.store.GetRubric(sess.ExamID)
	if err != nil {
		return fmt.Errorf("load rubric: %w", err)
	}
	inputs, err := o.collectInputs(sessionID)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, in := range inputs {
		manual, err := o.hasManualGradeFor(sessionID, in.qIdx)
		if err != nil {
			return err
		}
		if manual {
			// Instructor-authored grades are authoritative; never overwrite.
			continue
		}
		wg.Add(1)
		go func(in questionInput) {
			defer wg.Done()
			o.gradeQuestion(ctx, sessionID, rubric, in)
		}(in)
	}
	wg.Wait()

	if err := o.store.UpdateSessionStatus(sessionID, model.StatusGraded); err != nil {
		return fmt.Errorf("mark session graded: %w", err)
	}
	slog.Info("session graded", "session_id", sessionID, "questions", len(inputs))
	return nil
}

// Regrade re-runs the pipeline unless any question carries an
// instructor-authored grade, in which case the request is a no-op.
func (o *Orchestrator) Regrade(ctx context.Context, sessionID int64) (RegradeOutcome, error) {
	manual, err := o.store.HasManualGrade(sessionID)
	if err != nil {
		return "", err
	}
	if manual {
		slog.Info("regrade skipped, manual grade exists", "session_id", sessionID)
		return RegradeSkipped, nil
	}
	if err := o.GradeSession(ctx, sessionID); err != nil {
		return "", err
	}
	return RegradeStarted, nil
}

// Override records an instructor's grade for one question. The stored stage
// detail is kept for reference; the manual score is authoritative.
func (o *Orchestrator) Override(sessionID int64, qIdx, score int, comment string) error {
	if score < 0 || score > 100 {
		return fmt.Errorf("score %d out of range 0-100", score)
	}
	existing, err := o.store.GetGrade(sessionID, qIdx)
	if err != nil {
		return err
	}
	g := model.Grade{
		SessionID: sessionID,
		QIdx:      qIdx,
		Score:     score,
		Comment:   comment,
		Origin:    model.OriginManual,
	}
	if existing != nil {
		g.StageGrading = existing.StageGrading
	}
	return o.store.UpsertGrade(g)
}

// ClassifyOrigin reports whether a grade was auto-produced. The stored
// origin is authoritative; the comment-signature heuristic only covers rows
// written before the origin column existed, and false negatives are
// tolerated by design of the callers.
func ClassifyOrigin(g model.Grade) model.GradeOrigin {
	if g.Origin == model.OriginAuto || g.Origin == model.OriginManual {
		return g.Origin
	}
	if strings.Contains(g.Comment, autoCommentPrefix) {
		return model.OriginAuto
	}
	return model.OriginManual
}

func (o *Orchestrator) hasManualGradeFor(sessionID int64, qIdx int) (bool, error) {
	g, err := o.store.GetGrade(sessionID, qIdx)
	if err != nil {
		return false, err
	}
	return g != nil && ClassifyOrigin(*g) == model.OriginManual, nil
}

// collectInputs groups a session's messages and submissions by question
// index. A question appears once it has any chat, answer, or feedback data.
func (o *Orchestrator) collectInputs(sessionID int64) ([]questionInput, error) {
	messages, err := o.store.GetMessages(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	subs, err := o.store.GetSubmissions(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}

	byIdx := make(map[int]*questionInput)
	get := func(qIdx int) *questionInput {
		in, ok := byIdx[qIdx]
		if !ok {
			in = &questionInput{qIdx: qIdx}
			byIdx[qIdx] = in
		}
		return in
	}
	for _, m := range messages {
		in := get(m.QIdx)
		if m.Phase == model.PhaseFeedback {
			in.feedbackMsgs = append(in.feedbackMsgs, m)
		} else {
			in.chatMsgs = append(in.chatMsgs, m)
		}
	}
	for _, sub := range subs {
		in := get(sub.QIdx)
		in.answer = sub.Answer
		in.hasAnswer = true
	}

	inputs := make([]questionInput, 0, len(byIdx))
	for _, in := range byIdx {
		inputs = append(inputs, *in)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].qIdx < inputs[j].qIdx })
	return inputs, nil
}

// gradeQuestion runs the available stages for one question concurrently,
// aggregates whatever succeeded, and upserts the grade. Zero usable stages
// means no grade row: absence of data is not a zero score.
func (o *Orchestrator) gradeQuestion(ctx context.Context, sessionID int64, rubric []model.RubricItem, in questionInput) {
	type stageJob struct {
		stage   prompts.Stage
		content string
	}
	var jobs []stageJob
	if len(in.chatMsgs) > 0 {
		jobs = append(jobs, stageJob{prompts.StageChat, prompts.Transcript(in.chatMsgs)})
	}
	if in.hasAnswer && strings.TrimSpace(in.answer) != "" && in.answer != store.ContentUnavailable {
		jobs = append(jobs, stageJob{prompts.StageAnswer, in.answer})
	}
	if len(in.feedbackMsgs) > 0 {
		jobs = append(jobs, stageJob{prompts.StageFeedback, prompts.Transcript(in.feedbackMsgs)})
	}
	if len(jobs) == 0 {
		return
	}

	results := make([]*llm.StageResult, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job stageJob) {
			defer wg.Done()
			res, err := o.grader.GradeStage(ctx, job.stage, rubric, job.content)
			if err != nil {
				slog.Error("stage grading failed",
					"session_id", sessionID, "q_idx", in.qIdx, "stage", job.stage,
					"error", fmt.Errorf("%w: %v", ErrStageFailure, err))
				return
			}
			results[i] = res
		}(i, job)
	}
	wg.Wait()

	var stages model.StageGrading
	sum, count := 0, 0
	var parts []string
	for i, res := range results {
		if res == nil {
			continue
		}
		ss := &model.StageScore{Score: res.Score, Comment: res.Comment}
		switch jobs[i].stage {
		case prompts.StageChat:
			stages.Chat = ss
		case prompts.StageAnswer:
			stages.Answer = ss
		case prompts.StageFeedback:
			stages.Feedback = ss
		}
		sum += res.Score
		count++
		parts = append(parts, fmt.Sprintf("%s %d: %s", jobs[i].stage, res.Score, res.Comment))
	}
	if count == 0 {
		slog.Warn("no stage produced a result, question left ungraded",
			"session_id", sessionID, "q_idx", in.qIdx)
		return
	}

	grade := model.Grade{
		SessionID:    sessionID,
		QIdx:         in.qIdx,
		Score:        int(math.Round(float64(sum) / float64(count))),
		Comment:      autoCommentPrefix + " " + strings.Join(parts, " | "),
		Origin:       model.OriginAuto,
		StageGrading: &stages,
	}
	if err := o.store.UpsertGrade(grade); err != nil {
		slog.Error("grade upsert failed", "session_id", sessionID, "q_idx", in.qIdx, "error", err)
	}
}
