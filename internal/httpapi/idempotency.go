package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"adledger/internal/auth"
	"adledger/pkg/logger"
	"adledger/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	headerIdempotencyKey    = "Idempotency-Key"
	headerIdempotentReplay  = "Idempotent-Replay"
	maxIdempotencyKeyLength = 128
	inFlightClaimTTL        = 30 * time.Second
)

// CachedResponse is the first outcome of an idempotent submission.
type CachedResponse struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
}

// ResponseStore keeps submission outcomes and guards in-flight duplicates.
type ResponseStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Save(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error
	Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

type ReplayObserver interface {
	ObserveIdempotentReplay()
}

type bodyRecorder struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response when a client resubmits with the same
// Idempotency-Key. Keys are scoped per caller and route.
//
// Store failures fail open: the ledger's own uniqueness rules (external
// transaction id, one entry per reference) still refuse double postings.
// 5xx outcomes are not stored so the client can retry them.
func Idempotency(store ResponseStore, ttl time.Duration, obs ReplayObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
		if raw == "" || store == nil {
			c.Next()
			return
		}
		if len(raw) > maxIdempotencyKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Idempotency-Key too long"})
			return
		}

		ctx := c.Request.Context()
		log := logger.FromGin(c)
		userID, _ := auth.UserID(ctx)
		key := "adledger:idem:" + userID + ":" + c.Request.Method + ":" + c.FullPath() + ":" + raw

		cached, err := store.Get(ctx, key)
		if err != nil {
			log.Warn("idempotency lookup failed", "err", err)
			c.Next()
			return
		}
		if cached != nil {
			if obs != nil {
				obs.ObserveIdempotentReplay()
			}
			c.Header(headerIdempotentReplay, "true")
			c.Data(cached.StatusCode, "application/json; charset=utf-8", cached.Body)
			c.Abort()
			return
		}

		token := uuid.NewString()
		claimed, err := store.Claim(ctx, key+":lock", token, inFlightClaimTTL)
		if err != nil {
			log.Warn("idempotency claim failed", "err", err)
			c.Next()
			return
		}
		if !claimed {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a request with this Idempotency-Key is in progress"})
			return
		}
		defer func() {
			if err := store.Release(context.WithoutCancel(ctx), key+":lock", token); err != nil {
				log.Warn("idempotency release failed", "err", err)
			}
		}()

		rec := &bodyRecorder{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = rec
		c.Next()

		if status := rec.Status(); status < http.StatusInternalServerError {
			resp := CachedResponse{StatusCode: status, Body: rec.body.Bytes()}
			if err := store.Save(context.WithoutCancel(ctx), key, resp, ttl); err != nil {
				log.Warn("idempotency save failed", "err", err)
			}
		}
	}
}

// RedisResponseStore is the ResponseStore shared by all API replicas.
type RedisResponseStore struct {
	rdb *redis.Client
}

func NewRedisResponseStore(rdb *redis.Client) *RedisResponseStore {
	return &RedisResponseStore{rdb: rdb}
}

func (s *RedisResponseStore) Get(ctx context.Context, key string) (*CachedResponse, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp CachedResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *RedisResponseStore) Save(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, b, ttl).Err()
}

func (s *RedisResponseStore) Claim(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return utils.Claim(ctx, s.rdb, key, token, ttl)
}

func (s *RedisResponseStore) Release(ctx context.Context, key, token string) error {
	return utils.Release(ctx, s.rdb, key, token)
}
