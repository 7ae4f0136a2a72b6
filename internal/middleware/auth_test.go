package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"resumecast-search/internal/model"
	"resumecast-search/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(handlers ...gin.HandlerFunc) (*gin.Engine, *model.Caller) {
	gin.SetMode(gin.TestMode)
	seen := &model.Caller{}
	r := gin.New()
	chain := append(handlers, func(c *gin.Context) {
		*seen = CallerFrom(c)
		c.Status(http.StatusNoContent)
	})
	r.POST("/", chain...)
	return r, seen
}

func call(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1)
	tok, err := jwtManager.GenerateToken("u1", "USER")
	require.NoError(t, err)

	r, seen := newEngine(RequireAuth(jwtManager))

	assert.Equal(t, http.StatusUnauthorized, call(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, "Bearer nope").Code)

	w := call(r, "Bearer "+tok)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, model.Caller{UserID: "u1", Role: "USER"}, *seen)
}

func TestOptionalAuth(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1)
	r, seen := newEngine(OptionalAuth(jwtManager))

	w := call(r, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, seen.Authenticated())

	assert.Equal(t, http.StatusUnauthorized, call(r, "Bearer nope").Code)
}

func TestRequireAdmin(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 1)
	user, err := jwtManager.GenerateToken("u1", "USER")
	require.NoError(t, err)
	admin, err := jwtManager.GenerateToken("a1", model.RoleAdmin)
	require.NoError(t, err)

	r, seen := newEngine(RequireAuth(jwtManager), RequireAdmin())

	assert.Equal(t, http.StatusForbidden, call(r, "Bearer "+user).Code)
	assert.Equal(t, http.StatusNoContent, call(r, "Bearer "+admin).Code)
	assert.True(t, seen.IsAdmin())
}

func TestRequestLogger_PreservesBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/echo", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		c.Data(http.StatusOK, "text/plain", b)
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("hello"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip([]byte("abc")))
	long := bytes.Repeat([]byte("x"), maxLoggedBody+10)
	assert.Len(t, clip(long), maxLoggedBody+len("...(truncated)"))
}
