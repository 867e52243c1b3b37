package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/maintenance-service/internal/domain"
	"github.com/spec-kit/maintenance-service/internal/repository"
	apperrors "github.com/spec-kit/maintenance-service/pkg/util/errorutil"
)

type mockUsers struct {
	users map[int64]*domain.User
}

func (m *mockUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, exp, err := tm.GenerateToken(&domain.User{ID: 42, Role: domain.RoleTechnician})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(exp) > 5*time.Minute || time.Until(exp) < 4*time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != 42 || claims.Role != domain.RoleTechnician || claims.Subject != "42" {
		t.Fatalf("claims=%+v", claims)
	}
}

func TestParseTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	other := NewTokenManager("other", 5)
	token, _, _ := other.GenerateToken(&domain.User{ID: 1})
	if _, err := tm.ParseToken(token); err == nil {
		t.Fatal("token signed with another secret accepted")
	}

	token, _, _ = tm.GenerateToken(&domain.User{ID: 1})
	tm.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := tm.ParseToken(token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret!", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := ComparePassword(hash, "s3cret!"); err != nil {
		t.Fatalf("ComparePassword: %v", err)
	}
	if err := ComparePassword(hash, "wrong"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("wrong password: %v", err)
	}
	if err := ComparePassword("not-a-hash", "s3cret!"); err == nil || errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("corrupt hash: %v", err)
	}
	if _, err := HashPassword(strings.Repeat("x", 73), 4); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("long password: %v", err)
	}
}

func newTestApp(tm *TokenManager, users UserLoader, guards ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			de := apperrors.ToDomainError(err)
			return c.Status(de.HTTPStatus).JSON(fiber.Map{"code": de.Code})
		},
	})
	handlers := append([]fiber.Handler{NewAuthMiddleware(tm, users).Handle}, guards...)
	handlers = append(handlers, func(c *fiber.Ctx) error {
		actor, err := ActorFromContext(c)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"id": actor.ID, "role": actor.Role})
	})
	app.Get("/me", handlers...)
	return app
}

func TestAuthMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	users := &mockUsers{users: map[int64]*domain.User{
		1: {ID: 1, Role: domain.RoleCoordinator, Status: domain.UserStatusActive},
		2: {ID: 2, Role: domain.RoleTechnician, Status: domain.UserStatusInactive},
	}}
	active, _, _ := tm.GenerateToken(users.users[1])
	inactive, _, _ := tm.GenerateToken(users.users[2])
	missing, _, _ := tm.GenerateToken(&domain.User{ID: 99})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"unknown user", "Bearer " + missing, http.StatusUnauthorized},
		{"inactive user", "Bearer " + inactive, http.StatusUnauthorized},
		{"active user", "Bearer " + active, http.StatusOK},
	}

	app := newTestApp(tm, users)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Fatalf("status=%d want %d", resp.StatusCode, tc.status)
			}
			if tc.status == http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				var got struct {
					ID   int64  `json:"id"`
					Role string `json:"role"`
				}
				if err := json.Unmarshal(body, &got); err != nil || got.ID != 1 || got.Role != "COORDINATOR" {
					t.Fatalf("body=%s err=%v", body, err)
				}
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	users := &mockUsers{users: map[int64]*domain.User{
		1: {ID: 1, Role: domain.RoleTechnician, Status: domain.UserStatusActive},
		2: {ID: 2, Role: domain.RoleSuperAdmin, Status: domain.UserStatusActive},
	}}
	app := newTestApp(tm, users, RequireRoles(domain.RoleSuperAdmin, domain.RoleDepartmentHead))

	for id, want := range map[int64]int{1: http.StatusForbidden, 2: http.StatusOK} {
		token, _, _ := tm.GenerateToken(users.users[id])
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("user %d status=%d want %d", id, resp.StatusCode, want)
		}
	}
}
