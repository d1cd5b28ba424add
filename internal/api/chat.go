package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/ashureev/wellness/internal/chat"
	"github.com/ashureev/wellness/internal/identity"
	"github.com/ashureev/wellness/internal/model"
	"github.com/ashureev/wellness/internal/persona"
	"github.com/ashureev/wellness/internal/recommend"
	"github.com/ashureev/wellness/internal/safety"
	"github.com/ashureev/wellness/internal/session"
)

var (
	errImageTooLarge = errors.New("image exceeds the upload limit")
	errInvalidBody   = errors.New("invalid request body")
)

type personaView struct {
	persona.Persona
	Active bool `json:"active"`
}

type sessionView struct {
	session.Snapshot
	Persona persona.Persona `json:"persona"`
}

func (h *Handler) view(st *session.State) sessionView {
	return sessionView{Snapshot: st.Snapshot(), Persona: st.Persona()}
}

// ListPersonas returns the catalog in display order with the caller's
// active persona flagged.
func (h *Handler) ListPersonas(w http.ResponseWriter, r *http.Request) {
	active := h.session(r).state.PersonaID()
	list := h.chat.Registry().List()
	out := make([]personaView, 0, len(list))
	for _, p := range list {
		out = append(out, personaView{Persona: p, Active: p.ID == active})
	}
	JSON(w, http.StatusOK, out)
}

// GetSession renders the caller's session. With a valid credential the
// conversation is prepared first, so the greeting is part of the first render.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	ref := h.session(r)
	if ref.state.CredentialValid() {
		if err := h.chat.Prepare(r.Context(), ref.state); err != nil {
			slog.Warn("Failed to prepare conversation", "error", err, "user_id", ref.userID, "session_id", ref.sessionID)
		}
	}
	JSON(w, http.StatusOK, h.view(ref.state))
}

// EndSession discards the caller's tab session: credential, transcript,
// journal and feedback. Archived feedback stays in the store.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	v := identity.FromContext(r.Context())
	h.sessions.Remove(v.UserID, v.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

// SubmitCredential validates an API key for the caller's session.
func (h *Handler) SubmitCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ref := h.session(r)
	if err := h.chat.SubmitCredential(r.Context(), ref.state, req.APIKey); err != nil {
		slog.Warn("Credential rejected", "user_id", ref.userID, "session_id", ref.sessionID)
		Error(w, statusFor(err), "Invalid API key. Please check and try again.")
		return
	}
	JSON(w, http.StatusOK, h.view(ref.state))
}

// ChangeCredential forgets the session's key. Journal and feedback are kept.
func (h *Handler) ChangeCredential(w http.ResponseWriter, r *http.Request) {
	ref := h.session(r)
	h.chat.ChangeCredential(ref.state)
	slog.Info("Credential cleared", "user_id", ref.userID, "session_id", ref.sessionID)
	JSON(w, http.StatusOK, h.view(ref.state))
}

type switchRequest struct {
	PersonaID string `json:"persona_id"`
}

// SwitchPersona activates another persona.
func (h *Handler) SwitchPersona(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := decodeJSON(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ref := h.session(r)
	changed, err := h.chat.SwitchPersona(r.Context(), ref.state, req.PersonaID)
	if err != nil {
		Error(w, statusFor(err), err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"changed": changed,
		"session": h.view(ref.state),
	})
}

// SendChat runs one chat turn. Remote failures come back as 200 with an
// inline error reply; only refused turns get an error status.
func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	ref := h.session(r)
	in, err := h.readChatInput(w, r)
	if err != nil {
		Error(w, statusFor(err), err.Error())
		return
	}
	in.UserID = ref.userID
	in.SessionID = ref.sessionID

	turn, err := h.chat.Send(r.Context(), ref.state, in)
	if err != nil {
		Error(w, statusFor(err), err.Error())
		return
	}
	JSON(w, http.StatusOK, turn)
}

type chatRequest struct {
	Message     string `json:"message"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// readChatInput accepts either a JSON body or a multipart form with a
// "message" field and an optional "image" file.
func (h *Handler) readChatInput(w http.ResponseWriter, r *http.Request) (chat.TurnInput, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return h.readMultipartInput(w, r)
	}

	// base64 inflates by 4/3; leave headroom for the message itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes*4/3+64<<10)
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return chat.TurnInput{}, errImageTooLarge
		}
		return chat.TurnInput{}, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	in := chat.TurnInput{Text: req.Message}
	if req.ImageBase64 != "" {
		data, err := decodeImage(req.ImageBase64)
		if err != nil {
			return chat.TurnInput{}, err
		}
		if int64(len(data)) > h.maxImageBytes {
			return chat.TurnInput{}, errImageTooLarge
		}
		img, err := model.DetectImage(data)
		if err != nil {
			return chat.TurnInput{}, err
		}
		in.Image = img
	}
	return in, nil
}

func (h *Handler) readMultipartInput(w http.ResponseWriter, r *http.Request) (chat.TurnInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageBytes+64<<10)
	if err := r.ParseMultipartForm(h.maxImageBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return chat.TurnInput{}, errImageTooLarge
		}
		return chat.TurnInput{}, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	in := chat.TurnInput{Text: r.FormValue("message")}

	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil
	}
	if err != nil {
		return chat.TurnInput{}, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, h.maxImageBytes+1))
	if err != nil {
		return chat.TurnInput{}, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	if int64(len(data)) > h.maxImageBytes {
		return chat.TurnInput{}, errImageTooLarge
	}
	img, err := model.DetectImage(data)
	if err != nil {
		return chat.TurnInput{}, err
	}
	in.Image = img
	return in, nil
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64", model.ErrUnsupportedImage)
	}
	return data, nil
}

// ClearChat empties the transcript and reseeds the active persona.
func (h *Handler) ClearChat(w http.ResponseWriter, r *http.Request) {
	ref := h.session(r)
	h.chat.ClearChat(r.Context(), ref.state)
	JSON(w, http.StatusOK, h.view(ref.state))
}

// Recommend scores the questionnaire and switches to the suggested persona.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var q recommend.Questionnaire
	if err := decodeJSON(r, &q); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ref := h.session(r)
	p, switched, err := h.chat.Recommend(r.Context(), ref.state, q)
	if err != nil {
		Error(w, statusFor(err), err.Error())
		return
	}
	resp := map[string]any{"persona": p, "switched": switched}
	if switched {
		resp["message"] = "Switched to " + p.Name
	}
	JSON(w, http.StatusOK, resp)
}

// GetQuestionnaire returns the options and defaults of the self-assessment.
func (h *Handler) GetQuestionnaire(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"age_groups": recommend.AgeGroups,
		"concerns":   recommend.Concerns,
		"mood_min":   recommend.MoodMin,
		"mood_max":   recommend.MoodMax,
		"defaults":   recommend.DefaultQuestionnaire(),
	})
}

// CrisisResources lists the helplines shown in crisis responses.
func (h *Handler) CrisisResources(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"resources": safety.Resources,
		"message":   safety.Response(),
	})
}
