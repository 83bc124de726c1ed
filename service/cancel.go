package service

import (
	"context"
	"sync"
)

// CancelRegistry 正在执行的生成（jobID -> cancelFunc），仅限本进程
type CancelRegistry struct {
	mu sync.Mutex
	m  map[string]context.CancelFunc
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{m: make(map[string]context.CancelFunc)}
}

// Track 为 job 派生可取消的 ctx；返回的 release 在执行结束时调用
func (r *CancelRegistry) Track(ctx context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.m[jobID] = cancel
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		delete(r.m, jobID)
		r.mu.Unlock()
		cancel()
	}
}

// CancelAll 取消所有正在执行的 job（进程退出前调用，让它们落为 failed 而不是停在 processing）
func (r *CancelRegistry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.m)
	for id, cancel := range r.m {
		cancel()
		delete(r.m, id)
	}
	return n
}
