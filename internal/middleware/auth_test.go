package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

type mockValidator struct {
	id   uuid.UUID
	role string
	err  error
}

func (m *mockValidator) ValidateToken(context.Context, string) (uuid.UUID, string, error) {
	return m.id, m.role, m.err
}

func TestJWTAuthSetsUser(t *testing.T) {
	userID := uuid.New()
	var seen *AuthedUser
	h := JWTAuth(&mockValidator{id: userID, role: "seller"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromCtx(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.ID != userID || seen.Role != "seller" {
		t.Errorf("context user = %+v", seen)
	}
}

func TestJWTAuthRejects(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
	}{
		{"missing header", "", nil},
		{"not bearer", "Basic dXNlcg==", nil},
		{"invalid token", "Bearer bad", fmt.Errorf("expired")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := JWTAuth(&mockValidator{id: uuid.New(), err: tc.err})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Error("handler reached")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestAdminOnly(t *testing.T) {
	admin := uuid.New()
	user := uuid.New()
	admins := map[uuid.UUID]bool{admin: true}

	run := func(u *AuthedUser) int {
		h := AdminOnly(admins)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if u != nil {
			req = req.WithContext(WithUser(req.Context(), u))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := run(&AuthedUser{ID: admin, Role: "admin"}); got != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", got)
	}
	if got := run(&AuthedUser{ID: user, Role: "user"}); got != http.StatusForbidden {
		t.Errorf("non-admin: status = %d, want 403", got)
	}
	if got := run(nil); got != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want 401", got)
	}
}
