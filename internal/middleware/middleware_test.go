package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(v *TokenVerifier, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{RequireAuth(v)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"member_id": MemberID(c), "role": c.GetString(ContextRole)})
	})
	r.GET("/me", handlers...)
	return r
}

func request(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	v := NewTokenVerifier("test-secret")
	r := newRouter(v)

	token, err := v.Sign(42, "", time.Minute)
	require.NoError(t, err)

	w := request(r, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"member_id":42,"role":"member"}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, request(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(r, "not-a-jwt").Code)

	other, err := NewTokenVerifier("other-secret").Sign(42, RoleMember, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, request(r, other).Code)

	expired, err := v.Sign(42, RoleMember, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, request(r, expired).Code)
}

func TestParseRejectsMissingMember(t *testing.T) {
	v := NewTokenVerifier("test-secret")
	token, err := v.Sign(0, RoleOperator, time.Minute)
	require.NoError(t, err)

	_, err = v.Parse(token)
	assert.Error(t, err)
}

func TestRequireOperator(t *testing.T) {
	v := NewTokenVerifier("test-secret")
	r := newRouter(v, RequireOperator())

	member, _ := v.Sign(7, RoleMember, time.Minute)
	operator, _ := v.Sign(8, RoleOperator, time.Minute)

	assert.Equal(t, http.StatusForbidden, request(r, member).Code)

	w := request(r, operator)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"member_id":8,"role":"operator"}`, w.Body.String())
}

func TestRateLimiterPerMember(t *testing.T) {
	v := NewTokenVerifier("test-secret")
	rl := NewRateLimiter(60, 2)
	defer rl.Stop()
	r := newRouter(v, rl.Middleware())

	first, _ := v.Sign(1, RoleMember, time.Minute)
	second, _ := v.Sign(2, RoleMember, time.Minute)

	assert.Equal(t, http.StatusOK, request(r, first).Code)
	assert.Equal(t, http.StatusOK, request(r, first).Code)

	w := request(r, first)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// buckets are per member
	assert.Equal(t, http.StatusOK, request(r, second).Code)
}

func TestHTTPMetricsPassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(HTTPMetrics())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
