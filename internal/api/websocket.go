package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/wellness/internal/chat"
	"github.com/ashureev/wellness/internal/model"
	"github.com/coder/websocket"
)

// wsMessage is a client frame on /ws/chat.
type wsMessage struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	PersonaID   string `json:"persona_id,omitempty"`
}

// wsEvent is a server frame on /ws/chat.
type wsEvent struct {
	Type    string       `json:"type"`
	Turn    *chat.Turn   `json:"turn,omitempty"`
	Session *sessionView `json:"session,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// ServeWebSocket runs chat turns over a WebSocket bound to the caller's
// session. Frames are handled one at a time, in order.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ref := h.session(r)
	slog.Info("WebSocket connection request", "user_id", ref.userID, "session_id", ref.sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", ref.userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", ref.userID)
		}
	}()
	ws.SetReadLimit(h.maxImageBytes*4/3 + 64<<10)

	ctx := r.Context()
	if ref.state.CredentialValid() {
		if err := h.chat.Prepare(ctx, ref.state); err != nil {
			slog.Warn("Failed to prepare conversation", "error", err, "user_id", ref.userID)
		}
	}
	h.sendSession(ctx, ws, ref)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", ref.userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", ref.userID)
			}
			return
		}

		h.sessions.Touch(ref.userID, ref.sessionID, ref.state)
		go h.touch(ref.userID)

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(ctx, ws, "invalid message")
			continue
		}

		switch msg.Type {
		case "ping":
			h.writeEvent(ctx, ws, wsEvent{Type: "pong"})
		case "message":
			h.handleWSMessage(ctx, ws, ref, msg)
		case "switch_persona":
			if !h.limiter.Allow(ref.userID) {
				h.sendError(ctx, ws, "too many requests, please slow down")
				continue
			}
			if _, err := h.chat.SwitchPersona(ctx, ref.state, msg.PersonaID); err != nil {
				h.sendError(ctx, ws, err.Error())
				continue
			}
			h.sendSession(ctx, ws, ref)
		case "clear":
			h.chat.ClearChat(ctx, ref.state)
			h.sendSession(ctx, ws, ref)
		default:
			h.sendError(ctx, ws, "unknown message type: "+msg.Type)
		}
		h.sessions.Touch(ref.userID, ref.sessionID, ref.state)
	}
}

func (h *Handler) handleWSMessage(ctx context.Context, ws *websocket.Conn, ref sessionRef, msg wsMessage) {
	if !h.limiter.Allow(ref.userID) {
		h.sendError(ctx, ws, "too many requests, please slow down")
		return
	}
	in := chat.TurnInput{Text: msg.Content, UserID: ref.userID, SessionID: ref.sessionID}
	if msg.ImageBase64 != "" {
		data, err := decodeImage(msg.ImageBase64)
		if err == nil && int64(len(data)) > h.maxImageBytes {
			err = errImageTooLarge
		}
		var img *model.Image
		if err == nil {
			img, err = model.DetectImage(data)
		}
		if err != nil {
			h.sendError(ctx, ws, err.Error())
			return
		}
		in.Image = img
	}

	turn, err := h.chat.Send(ctx, ref.state, in)
	if err != nil {
		h.sendError(ctx, ws, err.Error())
		return
	}
	h.writeEvent(ctx, ws, wsEvent{Type: "reply", Turn: &turn})
}

func (h *Handler) touch(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.UpdateLastSeen(ctx, userID, time.Now()); err != nil {
		slog.Warn("Failed to update last seen", "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) sendSession(ctx context.Context, ws *websocket.Conn, ref sessionRef) {
	v := h.view(ref.state)
	h.writeEvent(ctx, ws, wsEvent{Type: "session", Session: &v})
}

func (h *Handler) sendError(ctx context.Context, ws *websocket.Conn, msg string) {
	h.writeEvent(ctx, ws, wsEvent{Type: "error", Error: msg})
}

func (h *Handler) writeEvent(ctx context.Context, ws *websocket.Conn, ev wsEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal websocket event", "error", err)
		return
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err, "type", ev.Type)
	}
}
