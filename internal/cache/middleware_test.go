package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_ServesCachedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _, _ := newTestCache(t, Options{})

	calls := 0
	router := gin.New()
	router.GET("/v1/partitions", c.Wrap(time.Minute, func(ctx *gin.Context) {
		calls++
		ctx.JSON(http.StatusOK, gin.H{"partitions": []string{"7.35", "7.34"}})
	}))

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/partitions?b=1&a=2", nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/partitions?a=2&b=1", nil))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
}

func TestWrap_DoesNotCacheErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _, _ := newTestCache(t, Options{})

	calls := 0
	router := gin.New()
	router.GET("/v1/partitions", c.Wrap(time.Minute, func(ctx *gin.Context) {
		calls++
		ctx.JSON(http.StatusInternalServerError, gin.H{"error_type": "internal_error"})
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/partitions", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}
	assert.Equal(t, 2, calls)
}

func TestWrap_StoreDownStillServes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, mr, _ := newTestCache(t, Options{})
	mr.Close()

	calls := 0
	router := gin.New()
	router.GET("/v1/partitions", c.Wrap(time.Minute, func(ctx *gin.Context) {
		calls++
		ctx.JSON(http.StatusOK, gin.H{"ok": true})
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/partitions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, 1, calls)
}
