package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"TalkingAvatar-server/config"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NewRedisClient 未配置地址时返回 nil
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// RateLimiter 按客户端 IP 限流：有 Redis 时用每分钟固定窗口计数（多实例共享），
// 否则或 Redis 出错时退回进程内令牌桶
type RateLimiter struct {
	rpm   int
	redis *redis.Client
	log   *zap.Logger

	mu        sync.Mutex
	buckets   map[string]*clientBucket
	lastSweep time.Time
	now       func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// bucketIdle 超过该时间未访问的本地令牌桶会被清理，此时桶早已回满
const bucketIdle = 10 * time.Minute

func NewRateLimiter(rpm int, redisClient *redis.Client, log *zap.Logger) *RateLimiter {
	return &RateLimiter{
		rpm:     rpm,
		redis:   redisClient,
		log:     log,
		buckets: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

// minuteKey 当前分钟窗口的 key
func minuteKey(ip string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", ip, now.Unix()/60)
}

// Allow 返回是否放行；rpm <= 0 表示不限流
func (r *RateLimiter) Allow(ctx context.Context, ip string) bool {
	if r.rpm <= 0 {
		return true
	}
	if r.redis != nil {
		ctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		key := minuteKey(ip, time.Now())
		n, err := r.redis.Incr(ctx, key).Result()
		if err == nil {
			if n == 1 {
				_ = r.redis.Expire(ctx, key, 65*time.Second).Err()
			}
			return int(n) <= r.rpm
		}
		r.log.Warn("redis 限流失败，退回本地限流", zap.Error(err))
	}
	return r.bucket(ip).Allow()
}

func (r *RateLimiter) bucket(ip string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.lastSweep) >= bucketIdle {
		r.sweep(now)
	}
	b, ok := r.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.rpm)), r.rpm)}
		r.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter
}

// sweep 删除空闲的令牌桶，调用方持有 mu
func (r *RateLimiter) sweep(now time.Time) {
	for ip, b := range r.buckets {
		if now.Sub(b.lastSeen) >= bucketIdle {
			delete(r.buckets, ip)
		}
	}
	r.lastSweep = now
}

// ClientIP 优先取代理头
func ClientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if rip := req.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return req.RemoteAddr
}
