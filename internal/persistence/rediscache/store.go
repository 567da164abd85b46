// Package rediscache keeps reasoning results and budget counters in Redis so several
// advisor processes share them.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"magnus-advisor/pkg/cache"
	"magnus-advisor/pkg/llm"
)

const (
	defaultPrefix    = "advisor:"
	budgetRetention  = 40 * 24 * time.Hour
	budgetDayField   = "day:"
	budgetMonthField = "month:"
)

var _ cache.Store = (*Store)(nil)

// Config is the redis section of the advisor config.
type Config struct {
	Addr      string `yaml:"addr"`
	Pass      string `yaml:"pass"`
	Type      string `yaml:"type"`
	TLS       bool   `yaml:"tls"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Enabled reports whether an address is configured.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

// Store implements cache.Store on Redis hashes, one hash per symbol with a field per
// fingerprint. Hash expiry is refreshed on write; per-entry freshness is checked on read.
type Store struct {
	redis  *redis.Redis
	prefix string
	now    func() time.Time
}

// New connects to the configured server.
func New(cfg Config) (*Store, error) {
	typ := cfg.Type
	if typ == "" {
		typ = redis.NodeType
	}
	r, err := redis.NewRedis(redis.RedisConf{
		Host: cfg.Addr,
		Type: typ,
		Pass: cfg.Pass,
		Tls:  cfg.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("rediscache: connect %s: %w", cfg.Addr, err)
	}
	return NewWithClient(r, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(r *redis.Redis, prefix string) *Store {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultPrefix
	}
	return &Store{redis: r, prefix: prefix, now: time.Now}
}

type cachedRecommendation struct {
	Rec         *llm.Recommendation `msgpack:"rec"`
	ExpiresAtMs int64               `msgpack:"exp"`
}

// Get implements cache.Store.
func (s *Store) Get(ctx context.Context, key string) (*llm.Recommendation, bool, error) {
	if s == nil || s.redis == nil || strings.TrimSpace(key) == "" {
		return nil, false, nil
	}
	val, err := s.redis.HgetCtx(ctx, s.recKey(key), key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if val == "" {
		return nil, false, nil
	}
	var payload cachedRecommendation
	if err := msgpack.Unmarshal([]byte(val), &payload); err != nil {
		return nil, false, fmt.Errorf("rediscache: decode %s: %w", key, err)
	}
	if payload.Rec == nil || s.now().UnixMilli() >= payload.ExpiresAtMs {
		return nil, false, nil
	}
	return payload.Rec, true, nil
}

// Set implements cache.Store.
func (s *Store) Set(ctx context.Context, key string, rec *llm.Recommendation, ttl time.Duration) error {
	if s == nil || s.redis == nil || rec == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	data, err := msgpack.Marshal(cachedRecommendation{
		Rec:         rec,
		ExpiresAtMs: s.now().Add(ttl).UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("rediscache: encode %s: %w", key, err)
	}
	hashKey := s.recKey(key)
	if err := s.redis.HsetCtx(ctx, hashKey, key, string(data)); err != nil {
		return err
	}
	s.expire(ctx, hashKey, ttl)
	return nil
}

// SaveBudget writes today's and this month's spend so a restarted process can resume.
func (s *Store) SaveBudget(ctx context.Context, snap llm.BudgetSnapshot, at time.Time) error {
	if s == nil || s.redis == nil {
		return nil
	}
	at = at.UTC()
	key := s.prefix + "budget"
	fields := map[string]string{
		budgetDayField + at.Format(time.DateOnly): strconv.FormatFloat(snap.SpentTodayUSD, 'f', -1, 64),
		budgetMonthField + at.Format("2006-01"):   strconv.FormatFloat(snap.SpentThisMonthUSD, 'f', -1, 64),
	}
	if err := s.redis.HmsetCtx(ctx, key, fields); err != nil {
		return fmt.Errorf("rediscache: save budget: %w", err)
	}
	s.expire(ctx, key, budgetRetention)
	return nil
}

// LoadBudget returns the spend recorded for at's day and month; missing fields read as zero.
func (s *Store) LoadBudget(ctx context.Context, at time.Time) (today, month float64, err error) {
	if s == nil || s.redis == nil {
		return 0, 0, nil
	}
	at = at.UTC()
	vals, err := s.redis.HmgetCtx(ctx, s.prefix+"budget",
		budgetDayField+at.Format(time.DateOnly),
		budgetMonthField+at.Format("2006-01"))
	if err != nil {
		return 0, 0, fmt.Errorf("rediscache: load budget: %w", err)
	}
	parse := func(i int) float64 {
		if i >= len(vals) || vals[i] == "" {
			return 0
		}
		v, perr := strconv.ParseFloat(vals[i], 64)
		if perr != nil {
			logx.WithContext(ctx).Errorf("rediscache: budget field %d unreadable %q: %v", i, vals[i], perr)
			return 0
		}
		return v
	}
	return parse(0), parse(1), nil
}

func (s *Store) recKey(fingerprint string) string {
	symbol := fingerprint
	if i := strings.IndexByte(fingerprint, '|'); i >= 0 {
		symbol = fingerprint[:i]
	}
	return s.prefix + "llm:" + symbol
}

func (s *Store) expire(ctx context.Context, key string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := s.redis.ExpireCtx(ctx, key, durationToSeconds(ttl)); err != nil {
		logx.WithContext(ctx).Errorf("rediscache: expire key=%s err=%v", key, err)
	}
}

func durationToSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	return int(math.Ceil(ttl.Seconds()))
}
