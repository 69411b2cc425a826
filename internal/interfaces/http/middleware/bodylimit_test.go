package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/xpgateway/backend/internal/interfaces/http/dto"
)

func bodyLimitEngine(limit int64) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), BodyLimit(limit))
	r.POST("/admin", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.String(http.StatusOK, "%d", len(body))
	})
	return r
}

func TestBodyLimit(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		bodyLimitEngine(16).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin", strings.NewReader(`{"a":1}`)))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "7", w.Body.String())
	})

	t.Run("declared length too large", func(t *testing.T) {
		w := httptest.NewRecorder()
		bodyLimitEngine(4).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin", strings.NewReader(`{"a":1}`)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), dto.ErrCodeRequestTooLarge)
	})

	t.Run("streamed body is capped", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin", strings.NewReader(strings.Repeat("x", 32)))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		bodyLimitEngine(8).ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("zero disables the limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		bodyLimitEngine(0).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin", strings.NewReader(strings.Repeat("x", 64))))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
