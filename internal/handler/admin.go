package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eduforge/examtutor/internal/grading"
	"github.com/eduforge/examtutor/internal/i18n"
	"github.com/eduforge/examtutor/internal/model"
)

// handleGetGrades returns the current per-question grades and the on-demand
// overall score. An ungraded or partially graded session reports a null
// overall score, never zero.
func (h *Handler) handleGetGrades(w http.ResponseWriter, r *http.Request) {
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
	grades, err := h.store.GetGrades(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Normalize origin through the classifier so rows predating the origin
	// column still report correctly.
	for i := range grades {
		grades[i].Origin = grading.ClassifyOrigin(grades[i])
	}

	resp := map[string]any{
		"session_id": sessionID,
		"status":     sess.Status,
		"grades":     grades,
	}
	if overall, graded := model.OverallScore(grades); graded {
		resp["overall_score"] = overall
	} else {
		resp["overall_score"] = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleOverrideGrade records an instructor's grade for one question.
// Manual scores are authoritative and block later regrades.
func (h *Handler) handleOverrideGrade(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlID(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	qIdx, err := strconv.Atoi(chi.URLParam(r, "qIdx"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid question index")
		return
	}
	var req struct {
		Score   int    `json:"score"`
		Comment string `json:"comment"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.orch.Override(sessionID, qIdx, req.Score, req.Comment); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleRegrade re-queues grading unless a manual grade makes the request a
// no-op.
func (h *Handler) handleRegrade(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := urlID(r, "sessionID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid session ID")
		return
	}
	manual, err := h.store.HasManualGrade(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if manual {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  string(grading.RegradeSkipped),
			"message": i18n.T(r.Context(), "grading.skipped"),
		})
		return
	}
	result := h.queue.Enqueue(sessionID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  string(grading.RegradeStarted),
		"grading": string(result),
	})
}

// handleStorageReport exposes aggregate compression metadata for an exam.
func (h *Handler) handleStorageReport(w http.ResponseWriter, r *http.Request) {
	examID, ok := urlID(r, "examID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid exam ID")
		return
	}
	stats, err := h.store.StorageStatsForExam(examID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stale, err := h.store.StaleChunkCount(examID, h.embedder.ModelVersion())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"storage":       stats,
		"stale_chunks":  stale,
		"model_version": h.embedder.ModelVersion(),
	})
}
