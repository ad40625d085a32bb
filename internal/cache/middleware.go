package cache

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const headerCache = "X-Cache"

// Wrap decorates a GET handler: a cached body is served directly, otherwise
// the handler runs and a 200 body is stored for ttl.
func (c *RequestCache) Wrap(ttl time.Duration, next gin.HandlerFunc) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.Method != http.MethodGet {
			next(ctx)
			return
		}

		key := Key(ctx.Request.URL.Path, ctx.Request.URL.Query())
		if body, err := c.Get(ctx.Request.Context(), key); err == nil {
			ctx.Header(headerCache, "HIT")
			ctx.Data(http.StatusOK, "application/json; charset=utf-8", body)
			return
		}

		capture := &captureWriter{ResponseWriter: ctx.Writer}
		ctx.Writer = capture
		ctx.Header(headerCache, "MISS")
		next(ctx)
		ctx.Writer = capture.ResponseWriter

		if capture.Status() == http.StatusOK && capture.body.Len() > 0 {
			_ = c.Set(ctx.Request.Context(), key, capture.body.Bytes(), ttl)
		}
	}
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
