package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestLoginAndMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a := NewAuthService("0123456789abcdef", time.Hour)
	login := LoginHandler(a, Credentials{User: "ops", PassHash: string(hash)})

	rr := httptest.NewRecorder()
	login(rr, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"ops","password":"nope"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: got %d", rr.Code)
	}

	tok, err := a.IssueJWT("ops", RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	var gotSub, gotRole string
	h := JWTMiddleware(a)(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub, gotRole = SubjectFromContext(r.Context()), RoleFromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/x?access_token="+tok, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || gotSub != "ops" || gotRole != RoleAdmin {
		t.Fatalf("query token: code=%d sub=%q role=%q", rr.Code, gotSub, gotRole)
	}

	obs, _ := a.IssueJWT("viewer", RoleObserver)
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+obs)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("observer on admin route: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d", rr.Code)
	}
}

func TestParseToken_RejectsForeignSecret(t *testing.T) {
	mine := NewAuthService("0123456789abcdef", time.Hour)
	other := NewAuthService("fedcba9876543210", time.Hour)

	tok, err := other.IssueJWT("ops", RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mine.ParseToken(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	own, _ := mine.IssueJWT("ops", RoleObserver)
	c, err := mine.ParseToken(own)
	if err != nil || c.Subject != "ops" || c.Role != RoleObserver {
		t.Fatalf("own token: %+v, %v", c, err)
	}
}
