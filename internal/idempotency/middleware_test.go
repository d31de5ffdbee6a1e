package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/balancebook/internal/clock"
	"github.com/smallbiznis/balancebook/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestRouter(t *testing.T, handler gin.HandlerFunc) (*gin.Engine, *Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := NewStore(StoreParams{
		DB:    dbtest.Open(t, &Record{}),
		Clock: clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
	})
	abort := func(c *gin.Context, err error) {
		status := http.StatusInternalServerError
		switch err {
		case ErrKeyReused, ErrInProgress:
			status = http.StatusConflict
		case ErrKeyTooLong:
			status = http.StatusBadRequest
		case ErrBodyTooLarge:
			status = http.StatusRequestEntityTooLarge
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
	}
	r := gin.New()
	r.Use(Middleware(store, zap.NewNop(), abort))
	r.POST("/orders", handler)
	r.GET("/orders", handler)
	return r, store
}

func send(r http.Handler, method, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/orders", strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReplaysCompletedResponse(t *testing.T) {
	calls := 0
	r, _ := newTestRouter(t, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	})

	first := send(r, http.MethodPost, "k-1", `{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := send(r, http.MethodPost, "k-1", `{"amount":"10"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Equal(t, 1, calls)

	reused := send(r, http.MethodPost, "k-1", `{"amount":"11"}`)
	assert.Equal(t, http.StatusConflict, reused.Code)
	assert.Equal(t, 1, calls)
}

func TestWithoutKeyOrForReads(t *testing.T) {
	calls := 0
	r, _ := newTestRouter(t, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"call": calls})
	})

	send(r, http.MethodPost, "", `{}`)
	send(r, http.MethodPost, "", `{}`)
	send(r, http.MethodGet, "k-2", ``)
	send(r, http.MethodGet, "k-2", ``)
	assert.Equal(t, 4, calls)
}

func TestServerErrorReleasesKey(t *testing.T) {
	calls := 0
	r, _ := newTestRouter(t, func(c *gin.Context) {
		calls++
		if calls == 1 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	})

	assert.Equal(t, http.StatusInternalServerError, send(r, http.MethodPost, "k-3", `{}`).Code)
	assert.Equal(t, http.StatusCreated, send(r, http.MethodPost, "k-3", `{}`).Code)
	assert.Equal(t, http.StatusCreated, send(r, http.MethodPost, "k-3", `{}`).Code)
	assert.Equal(t, 2, calls)
}

func TestClientErrorsAreReplayed(t *testing.T) {
	calls := 0
	r, _ := newTestRouter(t, func(c *gin.Context) {
		calls++
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount"})
	})
	send(r, http.MethodPost, "k-4", `{}`)
	assert.Equal(t, http.StatusBadRequest, send(r, http.MethodPost, "k-4", `{}`).Code)
	assert.Equal(t, 1, calls)
}

func TestUnrenderedErrorReleasesKey(t *testing.T) {
	calls := 0
	r, _ := newTestRouter(t, func(c *gin.Context) {
		calls++
		_ = c.Error(context.DeadlineExceeded)
		c.Abort()
	})
	send(r, http.MethodPost, "k-6", `{}`)
	send(r, http.MethodPost, "k-6", `{}`)
	assert.Equal(t, 2, calls)
}

func TestStoreRejectsPendingAndLongKeys(t *testing.T) {
	_, store := newTestRouter(t, func(*gin.Context) {})
	ctx := context.Background()

	rec, err := store.Begin(ctx, "k-5", "a@example.com", "h", http.MethodPost, "/orders")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = store.Begin(ctx, "k-5", "a@example.com", "h", http.MethodPost, "/orders")
	assert.ErrorIs(t, err, ErrInProgress)

	_, err = store.Begin(ctx, "k-5", "b@example.com", "h", http.MethodPost, "/orders")
	assert.ErrorIs(t, err, ErrKeyReused)

	_, err = store.Begin(ctx, strings.Repeat("x", MaxKeyLength+1), "", "h", http.MethodPost, "/orders")
	assert.ErrorIs(t, err, ErrKeyTooLong)
}

func TestPurge(t *testing.T) {
	_, store := newTestRouter(t, func(*gin.Context) {})
	ctx := context.Background()
	_, err := store.Begin(ctx, "old", "", "h", http.MethodPost, "/orders")
	require.NoError(t, err)

	n, err := store.Purge(ctx, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.Purge(ctx, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOversizedBodyIsRejected(t *testing.T) {
	calls := 0
	r, store := newTestRouter(t, func(c *gin.Context) {
		calls++
		c.Status(http.StatusCreated)
	})

	w := send(r, http.MethodPost, "k-big", strings.Repeat("x", MaxBodyBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, calls)

	var count int64
	require.NoError(t, store.db.Model(&Record{}).Count(&count).Error)
	assert.Zero(t, count)

	ok := send(r, http.MethodPost, "k-big", `{"amount":"1"}`)
	assert.Equal(t, http.StatusCreated, ok.Code)
	assert.Equal(t, 1, calls)
}

func TestKeyColumnIsQuoted(t *testing.T) {
	_, store := newTestRouter(t, func(c *gin.Context) {})
	sql := store.db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rec Record
		return tx.Where(byKey("k-1")).First(&rec)
	})
	assert.Contains(t, sql, "`key` = ")
	assert.NotContains(t, sql, "WHERE key =")
}

func TestStoreLifecycle(t *testing.T) {
	_, store := newTestRouter(t, func(c *gin.Context) {})
	ctx := context.Background()

	rec, err := store.Begin(ctx, "k-life", "a@shop.test", "h1", http.MethodPost, "/orders")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = store.Begin(ctx, "k-life", "a@shop.test", "h1", http.MethodPost, "/orders")
	assert.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, store.Release(ctx, "k-life"))
	rec, err = store.Begin(ctx, "k-life", "a@shop.test", "h1", http.MethodPost, "/orders")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.Complete(ctx, "k-life", http.StatusCreated, []byte(`{"ok":true}`)))
	require.NoError(t, store.Release(ctx, "k-life"), "completed records survive release")
	rec, err = store.Begin(ctx, "k-life", "a@shop.test", "h1", http.MethodPost, "/orders")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, http.StatusCreated, rec.ResponseStatus)
	assert.JSONEq(t, `{"ok":true}`, string(rec.ResponseBody))

	_, err = store.Begin(ctx, "k-life", "a@shop.test", "h2", http.MethodPost, "/orders")
	assert.ErrorIs(t, err, ErrKeyReused)
}
