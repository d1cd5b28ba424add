package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/wellness/internal/domain"
)

type entryRequest struct {
	Text string `json:"text"`
}

type entryView struct {
	domain.Entry
	Stamp string `json:"stamp"`
}

func entryViews(entries []domain.Entry) []entryView {
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryView{Entry: e, Stamp: e.Stamp()})
	}
	return out
}

// ListJournal returns the session's journal, newest first.
func (h *Handler) ListJournal(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, entryViews(h.session(r).state.Journal()))
}

// AddJournal records a reflection.
func (h *Handler) AddJournal(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := h.session(r).state.AppendJournal(req.Text)
	if err != nil {
		Error(w, statusFor(err), err.Error())
		return
	}
	JSON(w, http.StatusCreated, entryView{Entry: entry, Stamp: entry.Stamp()})
}

// ListFeedback returns the session's feedback in submission order.
func (h *Handler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, entryViews(h.session(r).state.Feedback()))
}

// AddFeedback records feedback in the session and archives a copy for
// operators. A failed archive write does not fail the request.
func (h *Handler) AddFeedback(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ref := h.session(r)
	entry, err := ref.state.AppendFeedback(req.Text)
	if err != nil {
		Error(w, statusFor(err), err.Error())
		return
	}

	rec := &domain.FeedbackRecord{
		ID:        entry.ID,
		UserID:    ref.userID,
		SessionID: ref.sessionID,
		PersonaID: ref.state.PersonaID(),
		Text:      entry.Text,
		CreatedAt: entry.CreatedAt,
	}
	if err := h.repo.SaveFeedback(r.Context(), rec); err != nil {
		slog.Error("Failed to archive feedback", "error", err, "user_id", ref.userID, "feedback_id", entry.ID)
	} else {
		slog.Info("Feedback archived", "user_id", ref.userID, "feedback_id", entry.ID, "persona", rec.PersonaID)
	}

	JSON(w, http.StatusCreated, entryView{Entry: entry, Stamp: entry.Stamp()})
}
