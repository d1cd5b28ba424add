package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name        string
		allowed     []string
		origin      string
		method      string
		wantStatus  int
		wantOrigin  string
		wantCredits string
	}{
		{"explicit origin", []string{"https://app.example"}, "https://app.example", http.MethodGet, http.StatusTeapot, "https://app.example", "true"},
		{"wildcard has no credentials", []string{"*"}, "https://other.example", http.MethodGet, http.StatusTeapot, "https://other.example", ""},
		{"disallowed origin", []string{"https://app.example"}, "https://evil.example", http.MethodGet, http.StatusTeapot, "", ""},
		{"preflight short-circuits", []string{"https://app.example"}, "https://app.example", http.MethodOptions, http.StatusOK, "https://app.example", "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/chat", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCredits, rec.Header().Get("Access-Control-Allow-Credentials"))
			if tt.wantOrigin != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Wellness-Session-ID")
			}
		})
	}
}
