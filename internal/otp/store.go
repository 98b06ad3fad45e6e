package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"iptvshop/internal/pkg/utils"
)

var (
	ErrCodeExpired     = errors.New("otp code expired or was never issued")
	ErrCodeMismatch    = errors.New("otp code does not match")
	ErrTooManyAttempts = errors.New("too many otp attempts")
)

const codeLength = 6

// Store issues and verifies one-time login codes. Codes live in redis
// with a TTL so they survive restarts and are shared across replicas;
// without redis it degrades to a per-process map.
type Store struct {
	rdb         *redis.Client
	ttl         time.Duration
	maxAttempts int

	mu  sync.Mutex
	mem map[string]*memEntry
}

type memEntry struct {
	code      string
	expiresAt time.Time
	attempts  int
}

func NewStore(rdb *redis.Client, ttl time.Duration, maxAttempts int) *Store {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &Store{
		rdb:         rdb,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		mem:         make(map[string]*memEntry),
	}
}

func key(email string) string {
	return "otp:" + strings.ToLower(strings.TrimSpace(email))
}

// Issue generates a fresh code for the email, replacing any earlier
// one and resetting the attempt counter.
func (s *Store) Issue(ctx context.Context, email string) (string, error) {
	code := utils.RandomDigits(codeLength)

	if s.rdb != nil {
		pipe := s.rdb.TxPipeline()
		pipe.Set(ctx, key(email), code, s.ttl)
		pipe.Del(ctx, key(email)+":attempts")
		if _, err := pipe.Exec(ctx); err == nil {
			return code, nil
		}
		// Redis being down must not lock customers out.
	}

	s.mu.Lock()
	s.mem[key(email)] = &memEntry{code: code, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return code, nil
}

// Verify checks a submitted code. The code is consumed on success;
// after maxAttempts failures it is discarded.
func (s *Store) Verify(ctx context.Context, email, code string) error {
	code = strings.TrimSpace(code)
	if len(code) != codeLength {
		return ErrCodeMismatch
	}

	if s.rdb != nil {
		if err := s.verifyRedis(ctx, email, code); !errors.Is(err, errRedisDown) {
			return err
		}
	}
	return s.verifyMem(email, code)
}

var errRedisDown = errors.New("redis unavailable")

func (s *Store) verifyRedis(ctx context.Context, email, code string) error {
	k := key(email)
	stored, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return ErrCodeExpired
	}
	if err != nil {
		return errRedisDown
	}

	attempts, err := s.rdb.Incr(ctx, k+":attempts").Result()
	if err != nil {
		return errRedisDown
	}
	if attempts == 1 {
		s.rdb.Expire(ctx, k+":attempts", s.ttl)
	}
	if attempts > int64(s.maxAttempts) {
		s.rdb.Del(ctx, k, k+":attempts")
		return ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return ErrCodeMismatch
	}
	s.rdb.Del(ctx, k, k+":attempts")
	return nil
}

func (s *Store) verifyMem(email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(email)
	e, ok := s.mem[k]
	if !ok || time.Now().After(e.expiresAt) {
		delete(s.mem, k)
		return ErrCodeExpired
	}

	e.attempts++
	if e.attempts > s.maxAttempts {
		delete(s.mem, k)
		return ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(e.code), []byte(code)) != 1 {
		return ErrCodeMismatch
	}
	delete(s.mem, k)
	return nil
}
