package service

import (
	"context"
	"sync"
	"time"

	"TalkingAvatar-server/models"

	"go.uber.org/zap"
)

const (
	// ProgressJobCreated 新建 job 时的进度
	ProgressJobCreated = 10
	// 完成前进度上限，100 只在 Complete 时写入
	progressCeiling = 99
)

// ProgressTracker 单个 job 的进度写入器，只增不减
type ProgressTracker struct {
	store models.Store
	jobID string
	log   *zap.Logger
	now   func() time.Time

	mu   sync.Mutex
	last int
}

func NewProgressTracker(store models.Store, jobID string, start int, log *zap.Logger) *ProgressTracker {
	return &ProgressTracker{store: store, jobID: jobID, last: start, log: log, now: time.Now}
}

// Advance 写入更高的进度；写库失败只记日志，不影响生成流程
func (t *ProgressTracker) Advance(ctx context.Context, percent int) {
	if percent > progressCeiling {
		percent = progressCeiling
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if percent <= t.last {
		return
	}
	if err := t.store.UpdateJobProgress(ctx, t.jobID, percent); err != nil {
		t.log.Warn("更新 job 进度失败", zap.String("job_id", t.jobID), zap.Int("progress", percent), zap.Error(err))
		return
	}
	t.last = percent
}

// Complete 进度 100 + completed
func (t *ProgressTracker) Complete(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.store.CompleteJob(ctx, t.jobID, t.now()); err != nil {
		return err
	}
	t.last = 100
	return nil
}

func (t *ProgressTracker) Last() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// progressBand 把轮询次数线性映射到 [from, to] 区间
type progressBand struct {
	from, to int
}

func (b progressBand) at(attempt, maxAttempts int) int {
	if maxAttempts <= 0 || attempt <= 0 {
		return b.from
	}
	if attempt >= maxAttempts {
		return b.to
	}
	return b.from + (b.to-b.from)*attempt/maxAttempts
}

func (b progressBand) observer(ctx context.Context, t *ProgressTracker) PollObserver {
	return func(attempt, maxAttempts int) {
		t.Advance(ctx, b.at(attempt, maxAttempts))
	}
}
