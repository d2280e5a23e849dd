package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticateWithToken(t *testing.T) {
	a := NewAuthenticator(Config{Enabled: true, Tokens: map[string]string{"secret-1": "alice"}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", nil)
	req.Header.Set("Authorization", "Bearer secret-1")
	req.Header.Set(HeaderProjectID, " p1 ")
	req.Header.Set(HeaderUserID, "mallory")
	subject, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.UserID != "alice" || subject.ProjectID != "p1" || subject.Method != MethodToken {
		t.Fatalf("unexpected subject: %+v", subject)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	a := NewAuthenticator(Config{Enabled: true, Tokens: map[string]string{"secret-1": "alice"}})
	cases := map[string]error{
		"":                ErrMissingToken,
		"Basic abc":       ErrInvalidToken,
		"Bearer secret-2": ErrInvalidToken,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if _, err := a.Authenticate(req); err != want {
			t.Fatalf("header %q: got %v want %v", header, err, want)
		}
	}
}

func TestHeaderIdentityWhenDisabled(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "bob")
	subject, err := NewAuthenticator(Config{}).Authenticate(req)
	if err != nil || subject.UserID != "bob" || subject.Method != MethodHeader {
		t.Fatalf("unexpected subject %+v err %v", subject, err)
	}
}

func TestMiddlewareStoresSubject(t *testing.T) {
	a := NewAuthenticator(Config{Enabled: true, Tokens: map[string]string{"t": "carol"}})
	var seen *Subject
	h := a.Middleware("test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer t")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted || seen == nil || seen.UserID != "carol" {
		t.Fatalf("unexpected result: code=%d subject=%+v", rec.Code, seen)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
