package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/balancebook/internal/auth/domain"
	"go.uber.org/zap"
)

const HeaderReplayed = "Idempotent-Replayed"

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

// Middleware replays the stored response for a repeated Idempotency-Key on
// mutating requests. Failed requests release the key so the client may retry.
func Middleware(store *Store, log *zap.Logger, abort func(*gin.Context, error)) gin.HandlerFunc {
	log = log.Named("idempotency")
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(HeaderKey))
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				err = ErrBodyTooLarge
			}
			abort(c, err)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		actor := ""
		if a, ok := authdomain.ActorFromContext(c.Request.Context()); ok {
			actor = a.Email
		}
		path := c.Request.URL.RequestURI()
		hash := requestHash(c.Request.Method, path, body, actor)

		ctx := c.Request.Context()
		stored, err := store.Begin(ctx, key, actor, hash, c.Request.Method, path)
		if err != nil {
			abort(c, err)
			return
		}
		if stored != nil {
			c.Header(HeaderReplayed, "true")
			c.Data(stored.ResponseStatus, "application/json; charset=utf-8", stored.ResponseBody)
			c.Abort()
			return
		}

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		persist := context.WithoutCancel(ctx)
		status := writer.Status()
		// Errors are rendered further up the chain, so an unwritten
		// response has nothing to replay.
		if !writer.Written() || status >= http.StatusInternalServerError {
			if err := store.Release(persist, key); err != nil {
				log.Warn("release failed", zap.String("key", key), zap.Error(err))
			}
			return
		}
		if err := store.Complete(persist, key, status, writer.body.Bytes()); err != nil {
			log.Warn("store response failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func requestHash(method, path string, body []byte, actor string) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(body)
	h.Write([]byte{'\n'})
	h.Write([]byte(actor))
	return hex.EncodeToString(h.Sum(nil))
}
