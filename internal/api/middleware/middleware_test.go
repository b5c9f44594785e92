package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yoockh/casescribe/internal/models"
)

const secret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

func sign(t *testing.T, c jwt.MapClaims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(key))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newRouter(cfg JWTConfig, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWTAuth(cfg)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.JSON(http.StatusOK, p)
	})
	r.GET("/x", handlers...)
	return r
}

func do(r *gin.Engine, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuthWithoutSecretIsAnonymous(t *testing.T) {
	w := do(newRouter(JWTConfig{}), "/x", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if want := `{"sub":"anonymous","role":"clinician"}`; w.Body.String() != want {
		t.Errorf("Expected %s, got %s", want, w.Body.String())
	}
}

func TestJWTAuth(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	r := newRouter(JWTConfig{Secret: secret, Audience: "casescribe"})

	tests := []struct {
		name  string
		token string
		query bool
		code  int
	}{
		{"missing", "", false, http.StatusUnauthorized},
		{"valid", sign(t, jwt.MapClaims{"sub": "u1", "aud": "casescribe", "exp": exp}, secret), false, http.StatusOK},
		{"query token", sign(t, jwt.MapClaims{"sub": "u1", "aud": "casescribe", "exp": exp}, secret), true, http.StatusOK},
		{"wrong key", sign(t, jwt.MapClaims{"sub": "u1", "aud": "casescribe", "exp": exp}, "other"), false, http.StatusUnauthorized},
		{"expired", sign(t, jwt.MapClaims{"sub": "u1", "aud": "casescribe", "exp": time.Now().Add(-time.Hour).Unix()}, secret), false, http.StatusUnauthorized},
		{"wrong audience", sign(t, jwt.MapClaims{"sub": "u1", "aud": "other", "exp": exp}, secret), false, http.StatusUnauthorized},
		{"no subject", sign(t, jwt.MapClaims{"aud": "casescribe", "exp": exp}, secret), false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		var w *httptest.ResponseRecorder
		if tt.query {
			w = do(r, "/x?access_token="+tt.token, "")
		} else {
			w = do(r, "/x", tt.token)
		}
		if w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.code, w.Code)
		}
	}
}

func TestRoleOf(t *testing.T) {
	tests := []struct {
		cl   claims
		want models.UserRole
	}{
		{claims{}, models.RoleClinician},
		{claims{Role: "authenticated"}, models.RoleClinician},
		{claims{Role: "Admin"}, models.RoleAdmin},
		{claims{Role: "clinician", AppMetadata: map[string]any{"role": "admin"}}, models.RoleAdmin},
	}
	for _, tt := range tests {
		if got := roleOf(&tt.cl); got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, got)
		}
	}
}

func TestRequireAdmin(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	r := newRouter(JWTConfig{Secret: secret}, RequireAdmin())

	clinician := sign(t, jwt.MapClaims{"sub": "u1", "exp": exp}, secret)
	if w := do(r, "/x", clinician); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for clinician, got %d", w.Code)
	}
	admin := sign(t, jwt.MapClaims{"sub": "u2", "exp": exp, "app_metadata": map[string]any{"role": "admin"}}, secret)
	if w := do(r, "/x", admin); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for admin, got %d", w.Code)
	}
	if w := do(newRouter(JWTConfig{}, RequireAdmin()), "/x", ""); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for anonymous, got %d", w.Code)
	}
}
