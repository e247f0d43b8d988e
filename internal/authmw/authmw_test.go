package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/email", http.NoBody)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	h := BearerToken("current-token", "previous-token")(okHandler)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"current token", "Bearer current-token", http.StatusOK},
		{"previous token", "Bearer previous-token", http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"lowercase bearer", "bearer current-token", http.StatusUnauthorized},
		{"no prefix", "current-token", http.StatusUnauthorized},
		{"wrong token", "Bearer wrong", http.StatusUnauthorized},
		{"partial match", "Bearer current", http.StatusUnauthorized},
		{"token with suffix", "Bearer current-token-extra", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := serve(h, tt.header)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				if got := rec.Header().Get("WWW-Authenticate"); got == "" {
					t.Error("missing WWW-Authenticate header")
				}
				if got := rec.Header().Get("Content-Type"); got != "application/json" {
					t.Errorf("Content-Type = %q, want application/json", got)
				}
			}
		})
	}
}

func TestBearerToken_NoTokensRejectsAll(t *testing.T) {
	t.Parallel()

	h := BearerToken("", "  ")(okHandler)

	for _, header := range []string{"Bearer ", "Bearer x", ""} {
		if rec := serve(h, header); rec.Code != http.StatusUnauthorized {
			t.Errorf("%q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestBearerToken_PassesRequestThrough(t *testing.T) {
	t.Parallel()

	var called bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	})

	rec := serve(BearerToken("tok")(inner), "Bearer tok")

	if !called {
		t.Error("inner handler was not called")
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}
