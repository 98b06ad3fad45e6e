package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"iptvshop/internal/models"
)

// Deduper drops repeated webhook deliveries. Gateways redeliver
// aggressively; the body hash plus a redis SETNX window turns the
// retries into cheap no-ops before any parsing happens. Without redis
// it degrades to a per-process map.
type Deduper struct {
	rdb    *redis.Client
	window time.Duration
	log    *zap.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewDeduper(rdb *redis.Client, window time.Duration, log *zap.Logger) *Deduper {
	d := &Deduper{
		rdb:    rdb,
		window: window,
		log:    log,
		seen:   make(map[string]time.Time),
	}
	go d.janitor()
	return d
}

func (d *Deduper) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		d.mu.Lock()
		for k, exp := range d.seen {
			if now.After(exp) {
				delete(d.seen, k)
			}
		}
		d.mu.Unlock()
	}
}

// firstSeen records the key and reports whether this delivery is the
// first within the window.
func (d *Deduper) firstSeen(ctx context.Context, key string) bool {
	if d.rdb != nil {
		ok, err := d.rdb.SetNX(ctx, key, 1, d.window).Result()
		if err == nil {
			return ok
		}
		d.log.Warn("dedup redis unavailable, using memory", zap.Error(err))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, dup := d.seen[key]; dup && time.Now().Before(exp) {
		return false
	}
	d.seen[key] = time.Now().Add(d.window)
	return true
}

// Webhook is the echo middleware for the webhook routes. Duplicate
// deliveries are acknowledged with 200 so the gateway stops retrying.
func (d *Deduper) Webhook() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "unreadable body"})
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))

			sum := sha256.Sum256(body)
			key := "wh:" + c.Param("gateway") + ":" + hex.EncodeToString(sum[:])
			if !d.firstSeen(c.Request().Context(), key) {
				d.log.Info("duplicate webhook dropped",
					zap.String("gateway", c.Param("gateway")),
					zap.String("hash", key),
				)
				return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "duplicate"})
			}
			return next(c)
		}
	}
}
