package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TestRequestID はRequestIDミドルウェアを検証する。
func TestRequestID(t *testing.T) {
	t.Parallel()

	t.Run("リクエストIDが無い場合はUUIDを発行すること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RequestID())
		router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if _, err := uuid.Parse(w.Header().Get(headerKeyRequestID)); err != nil {
			t.Errorf("X-Request-IDがUUIDではない: %q", w.Header().Get(headerKeyRequestID))
		}
	})

	t.Run("クライアントのリクエストIDを引き継ぐこと", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RequestID())
		router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(headerKeyRequestID, "trace-123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get(headerKeyRequestID); got != "trace-123" {
			t.Errorf("X-Request-ID = %q, want %q", got, "trace-123")
		}
	})

	t.Run("長すぎるリクエストIDは置き換えること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RequestID())
		router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(headerKeyRequestID, strings.Repeat("x", maxRequestIDLength+1))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get(headerKeyRequestID); len(got) > maxRequestIDLength {
			t.Errorf("X-Request-IDが置き換えられていない: len=%d", len(got))
		}
	})
}
