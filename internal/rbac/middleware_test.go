package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"gramflow/internal/auth"

	"github.com/gin-gonic/gin"
)

func doRequest(t *testing.T, mw gin.HandlerFunc, userID, tenantID, role string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != "" {
			ctx := auth.WithIdentity(c.Request.Context(), userID, tenantID, role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	})
	r.GET("/x", mw, func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireTenant(t *testing.T) {
	if got := doRequest(t, RequireTenant(), "u1", "t1", RoleOwner); got != http.StatusOK {
		t.Fatalf("expected 200, got %d", got)
	}
	if got := doRequest(t, RequireTenant(), "", "", ""); got != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", got)
	}
}

func TestRequireAnyRole(t *testing.T) {
	mw := RequireAnyRole(RoleOwner, RoleAnalyst)

	if got := doRequest(t, mw, "u1", "t1", RoleOwner); got != http.StatusOK {
		t.Fatalf("owner: expected 200, got %d", got)
	}
	if got := doRequest(t, mw, "u1", "t1", RoleOperator); got != http.StatusForbidden {
		t.Fatalf("operator: expected 403, got %d", got)
	}
	if got := doRequest(t, mw, "u1", "t1", RoleSuperAdmin); got != http.StatusOK {
		t.Fatalf("super_admin bypass: expected 200, got %d", got)
	}
	if got := doRequest(t, mw, "u1", "t1", RoleSupport); got != http.StatusForbidden {
		t.Fatalf("hidden role: expected 403, got %d", got)
	}
}

func TestRequireAnyRole_HiddenRoleOptIn(t *testing.T) {
	mw := RequireAnyRole(RoleSupport)
	if got := doRequest(t, mw, "u1", "t1", RoleSupport); got != http.StatusOK {
		t.Fatalf("opted-in hidden role: expected 200, got %d", got)
	}
}
