package api

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers the chat API and the WebSocket endpoint. Routes
// that can reach the remote model share the per-user rate limit.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/personas", h.ListPersonas)
		r.Get("/questionnaire", h.GetQuestionnaire)
		r.Get("/crisis-resources", h.CrisisResources)
		r.Get("/session", h.GetSession)
		r.Delete("/session", h.EndSession)
		r.Delete("/credential", h.ChangeCredential)
		r.Post("/chat/clear", h.ClearChat)
		r.Get("/journal", h.ListJournal)
		r.Post("/journal", h.AddJournal)
		r.Get("/feedback", h.ListFeedback)
		r.Post("/feedback", h.AddFeedback)

		r.Group(func(r chi.Router) {
			r.Use(h.limiter.Middleware)
			r.Post("/credential", h.SubmitCredential)
			r.Post("/persona", h.SwitchPersona)
			r.Post("/chat", h.SendChat)
			r.Post("/recommend", h.Recommend)
		})
	})

	r.Get("/ws/chat", h.ServeWebSocket)
}
