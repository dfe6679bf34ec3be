package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eduforge/examtutor/internal/chunker"
	"github.com/eduforge/examtutor/internal/embedding"
	"github.com/eduforge/examtutor/internal/grading"
	"github.com/eduforge/examtutor/internal/i18n"
	"github.com/eduforge/examtutor/internal/llm"
	"github.com/eduforge/examtutor/internal/model"
	"github.com/eduforge/examtutor/internal/retrieval"
	"github.com/eduforge/examtutor/internal/store"
	"github.com/eduforge/examtutor/internal/vectorstore"
)

// Config holds runtime parameters for the ingest and retrieval paths.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	MatchThreshold float64
	MatchCount     int
	MaxContextLen  int
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store            *store.Store
	vectors          *vectorstore.VectorStore
	embedder         *embedding.Client
	llm              *llm.Client
	orch             *grading.Orchestrator
	queue            *grading.Queue
	vectorRetriever  retrieval.Retriever
	keywordRetriever retrieval.Retriever
	config           Config
}

// New creates a new Handler.
func New(s *store.Store, vs *vectorstore.VectorStore, emb *embedding.Client, l *llm.Client,
	orch *grading.Orchestrator, queue *grading.Queue, cfg Config) *Handler {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.MatchCount <= 0 {
		cfg.MatchCount = 5
	}
	if cfg.MaxContextLen <= 0 {
		cfg.MaxContextLen = 4000
	}
	return &Handler{
		store:            s,
		vectors:          vs,
		embedder:         emb,
		llm:              l,
		orch:             orch,
		queue:            queue,
		vectorRetriever:  retrieval.NewVectorRetriever(emb, vs, cfg.MatchThreshold, true),
		keywordRetriever: retrieval.NewKeywordRetriever(s.MaterialTexts),
		config:           cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/exams", h.handleCreateExam)
	r.Post("/exams/{examID}/materials", h.handleIngestMaterial)
	r.Post("/exams/{examID}/sessions", h.handleStartSession)
	r.Post("/sessions/{sessionID}/ask", h.handleAsk)
	r.Post("/sessions/{sessionID}/submissions", h.handleSubmission)
	r.Post("/sessions/{sessionID}/submit", h.handleSubmit)
	r.Get("/sessions/{sessionID}/grades", h.handleGetGrades)
	r.Put("/sessions/{sessionID}/grades/{qIdx}", h.handleOverrideGrade)
	r.Post("/sessions/{sessionID}/regrade", h.handleRegrade)
	r.Get("/exams/{examID}/storage", h.handleStorageReport)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string             `json:"title"`
		Rubric []model.RubricItem `json:"rubric"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	examID, err := h.store.CreateExam(req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(req.Rubric) > 0 {
		if err := h.store.SetRubric(examID, req.Rubric); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"exam_id": examID})
}

// handleIngestMaterial chunks, embeds and indexes one material's extracted
// text. Empty text means upstream extraction failed: the material is
// recorded as unavailable for retrieval, which is not an error.
func (h *Handler) handleIngestMaterial(w http.ResponseWriter, r *http.Request) {
	examID, ok := urlID(r, "examID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid exam ID")
		return
	}
	var req struct {
		FileURL  string `json:"file_url"`
		FileName string `json:"file_name"`
		Text     string `json:"text"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.FileURL == "" {
		writeError(w, http.StatusBadRequest, "file_url is required")
		return
	}
	if req.FileName == "" {
		req.FileName = req.FileURL
	}

	segments := chunker.Chunk(req.Text, h.config.ChunkSize, h.config.ChunkOverlap)
	if len(segments) == 0 {
		if err := h.store.UpsertMaterial(model.Material{
			ExamID: examID, FileURL: req.FileURL, FileName: req.FileName, Available: false,
		}, ""); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		slog.Warn("material has no extractable text", "exam_id", examID, "file_url", req.FileURL)
		writeJSON(w, http.StatusOK, map[string]any{
			"chunks":  0,
			"warning": "no extractable text, material unavailable for retrieval",
		})
		return
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	vectors, err := h.embedder.EmbedBatch(r.Context(), texts)
	if err != nil {
		writeError(w, http.StatusBadGateway, "embed material: "+err.Error())
		return
	}

	chunks := make([]model.Chunk, len(segments))
	for i, seg := range segments {
		chunks[i] = model.Chunk{
			ID:           uuid.NewString(),
			ExamID:       examID,
			FileURL:      req.FileURL,
			Content:      seg.Text,
			Embedding:    vectors[i],
			ModelVersion: h.embedder.ModelVersion(),
			Metadata: model.ChunkMetadata{
				FileName:   req.FileName,
				ChunkIndex: seg.Index,
				StartChar:  seg.StartChar,
				EndChar:    seg.EndChar,
			},
		}
	}

	if err := h.vectors.UpsertChunks(examID, req.FileURL, chunks); err != nil {
		// The replacement rolled back whole; the caller retries the upload.
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.store.UpsertMaterial(model.Material{
		ExamID: examID, FileURL: req.FileURL, FileName: req.FileName, Available: true,
	}, req.Text); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"chunks": len(chunks)})
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	examID, ok := urlID(r, "examID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid exam ID")
		return
	}
	var req struct {
		StudentID int64 `json:"student_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.StudentID == 0 {
		req.StudentID = 1
	}
	sessionID, err := h.store.CreateSession(examID, req.StudentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session_id": sessionID})
}

// handleAsk answers a student's clarification question, grounded in
// retrieved material context. Vector retrieval is used when the exam has an
// index; otherwise the keyword path scores raw material text.
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlID(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	var req struct {
		QIdx     int    `json:"q_idx"`
		Question string `json:"question"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	sess, err := h.store.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	rubric, err := h.store.GetRubric(sess.ExamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rctx, err := h.retrieveContext(r, sess.ExamID, req.Question)
	if err != nil {
		// Retrieval-path errors degrade to less context, never to a failed answer.
		slog.Warn("retrieval failed, answering without context", "session_id", sessionID, "error", err)
		rctx = retrieval.Context{}
	}

	phase := model.PhaseChat
	if sess.Status != model.StatusInProgress {
		phase = model.PhaseFeedback
	}

	history := h.questionHistory(sessionID, req.QIdx, phase)
	if _, err := h.store.AddMessage(model.Message{
		SessionID: sessionID, QIdx: req.QIdx, Role: model.RoleStudent, Phase: phase, Content: req.Question,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	answer, err := h.llm.TutorAnswer(r.Context(), rubric, rctx.Text,
		i18n.T(r.Context(), "retrieval.no_material"), req.Question, history)
	if err != nil {
		writeError(w, http.StatusBadGateway, "tutor call failed: "+err.Error())
		return
	}
	if _, err := h.store.AddMessage(model.Message{
		SessionID: sessionID, QIdx: req.QIdx, Role: model.RoleTutor, Phase: phase, Content: answer,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":         answer,
		"sources":        rctx.Sources,
		"low_confidence": rctx.LowConfidence,
	})
}

func (h *Handler) retrieveContext(r *http.Request, examID int64, question string) (retrieval.Context, error) {
	q := retrieval.Query{
		ExamID:     examID,
		Question:   question,
		MaxResults: h.config.MatchCount,
		MaxLength:  h.config.MaxContextLen,
	}
	indexed, err := h.vectors.HasIndex(examID)
	if err != nil {
		return retrieval.Context{}, err
	}
	if indexed {
		return h.vectorRetriever.Retrieve(r.Context(), q)
	}
	return h.keywordRetriever.Retrieve(r.Context(), q)
}

// questionHistory returns prior dialogue for one question and phase, so the
// tutor keeps conversational context across turns.
func (h *Handler) questionHistory(sessionID int64, qIdx int, phase model.MessagePhase) []model.Message {
	all, err := h.store.GetMessages(sessionID)
	if err != nil {
		slog.Warn("load history failed", "session_id", sessionID, "error", err)
		return nil
	}
	var history []model.Message
	for _, m := range all {
		if m.QIdx == qIdx && m.Phase == phase {
			history = append(history, m)
		}
	}
	return history
}

func (h *Handler) handleSubmission(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlID(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	var req struct {
		QIdx   int    `json:"q_idx"`
		Answer string `json:"answer"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	sess, err := h.store.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.Status != model.StatusInProgress {
		writeError(w, http.StatusConflict, "session already submitted")
		return
	}
	if err := h.store.UpsertSubmission(model.Submission{
		SessionID: sessionID, QIdx: req.QIdx, Answer: req.Answer,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSubmit finalizes the session and hands it to the grading queue. The
// response does not wait on grading.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlID(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	sess, err := h.store.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.Status != model.StatusInProgress {
		writeError(w, http.StatusConflict, "session already submitted")
		return
	}
	if err := h.store.UpdateSessionStatus(sessionID, model.StatusSubmitted); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.store.SnapshotSession(sessionID); err != nil {
		slog.Warn("session snapshot failed", "session_id", sessionID, "error", err)
	}

	result := h.queue.Enqueue(sessionID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  string(model.StatusSubmitted),
		"grading": string(result),
		"message": i18n.T(r.Context(), "grading.queued"),
	})
}
