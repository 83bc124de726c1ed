package service

import (
	"context"
	"errors"
	"time"
)

// ErrPollExhausted 轮询次数用尽仍未到达终态
var ErrPollExhausted = errors.New("poll attempts exhausted")

// Clock 抽象等待，测试中用假时钟替代真实 sleep
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// RealClock 使用墙上时钟
var RealClock Clock = realClock{}

// PollPolicy 固定间隔 + 次数上限
type PollPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Budget 最长等待时间
func (p PollPolicy) Budget() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}

// PollObserver 每次非终态检查之后回调（用于进度上报）
type PollObserver func(attempt, maxAttempts int)

// PollUntil 先等待 Interval 再调用 check，直到 check 返回 done、返回错误或次数用尽。
// 总等待时间不超过 MaxAttempts * Interval。
func PollUntil(ctx context.Context, clock Clock, policy PollPolicy, check func(ctx context.Context, attempt int) (bool, error)) error {
	if clock == nil {
		clock = RealClock
	}
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(policy.Interval):
		}

		done, err := check(ctx, attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrPollExhausted
}
