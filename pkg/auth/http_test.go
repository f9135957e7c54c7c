package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-signing-secret"

func mintToken(t *testing.T, claims TokenClaims) string {
	t.Helper()
	token, err := SignHS256Token(claims, testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerifyRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	token := mintToken(t, TokenClaims{Sub: "agent-7", Role: "agent", Exp: now.Add(time.Hour).Unix()})
	claims, err := VerifyHS256Token(token, testSecret, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Sub != "agent-7" || claims.Role != "agent" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Now().UTC()
	token := mintToken(t, TokenClaims{Sub: "agent-7", Exp: now.Add(-time.Minute).Unix()})
	if _, err := VerifyHS256Token(token, testSecret, now); err == nil {
		t.Fatal("expired token must be rejected")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Now().UTC()
	token := mintToken(t, TokenClaims{Sub: "agent-7", Exp: now.Add(time.Hour).Unix()})
	if _, err := VerifyHS256Token(token, "other-secret", now); err == nil {
		t.Fatal("wrong secret must be rejected")
	}
}

func TestVerifyRejectsMissingExp(t *testing.T) {
	now := time.Now().UTC()
	token := mintToken(t, TokenClaims{Sub: "agent-7"})
	if _, err := VerifyHS256Token(token, testSecret, now); err == nil {
		t.Fatal("token without exp must be rejected")
	}
}

func TestVerifyDefaultsRole(t *testing.T) {
	now := time.Now().UTC()
	token := mintToken(t, TokenClaims{Sub: "agent-7", Exp: now.Add(time.Hour).Unix()})
	claims, err := VerifyHS256Token(token, testSecret, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Role != "agent" {
		t.Fatalf("expected default role agent, got %q", claims.Role)
	}
}

func TestMiddlewareAttachesPrincipal(t *testing.T) {
	now := time.Now().UTC()
	token := mintToken(t, TokenClaims{Sub: "agent-7", Role: "operator", Exp: now.Add(time.Hour).Unix()})
	var got Principal
	handler := Middleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(200)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.Subject != "agent-7" || got.Role != "operator" || got.Dev {
		t.Fatalf("unexpected principal: %+v", got)
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	handler := Middleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("401 body must be JSON: %v", err)
	}
	if body["error"] != "unauthorized" {
		t.Fatalf("unexpected error kind: %v", body["error"])
	}
}

func TestMiddlewareRejectsGarbageToken(t *testing.T) {
	handler := Middleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with a bad token")
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareDevMode(t *testing.T) {
	var got Principal
	handler := Middleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(200)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if rec.Code != 200 {
		t.Fatalf("dev mode must admit unauthenticated requests, got %d", rec.Code)
	}
	if got.Subject != "anonymous" || got.Role != "admin" || !got.Dev {
		t.Fatalf("unexpected dev principal: %+v", got)
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc.def.ghi", "abc.def.ghi", true},
		{"BEARER abc.def.ghi", "abc.def.ghi", true},
		{"  Bearer   abc  ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		token, ok := BearerToken(c.header)
		if ok != c.ok || token != c.token {
			t.Fatalf("BearerToken(%q) = (%q, %v), want (%q, %v)", c.header, token, ok, c.token, c.ok)
		}
	}
}
