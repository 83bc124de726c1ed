package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TalkingAvatar-server/config"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeGeneration = "generation:run"

	GenerationKindAudio = "audio"
	GenerationKindVideo = "video"
)

// GenerationPayload 异步生成任务；job 已在入队前创建
type GenerationPayload struct {
	JobID string        `json:"job_id"`
	Kind  string        `json:"kind"`
	Audio *AudioRequest `json:"audio,omitempty"`
	Video *VideoRequest `json:"video,omitempty"`
}

// Enqueuer 异步任务入队
type Enqueuer interface {
	Enqueue(ctx context.Context, payload GenerationPayload) error
}

// Queue asynq 客户端
type Queue struct {
	client  *asynq.Client
	timeout time.Duration
	log     *zap.Logger
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewQueue timeout 应覆盖整条流水线的最坏耗时，否则任务会在降级前被取消
func NewQueue(cfg config.RedisConfig, timeout time.Duration, log *zap.Logger) *Queue {
	return &Queue{client: asynq.NewClient(redisOpt(cfg)), timeout: timeout, log: log}
}

// taskOptions 生成结果不幂等（会重新计费），业务失败不重试；只有基础设施错误重试一次
func (q *Queue) taskOptions() []asynq.Option {
	timeout := q.timeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	return []asynq.Option{
		asynq.MaxRetry(1),
		asynq.Timeout(timeout),
		asynq.Retention(24 * time.Hour),
	}
}

func (q *Queue) Enqueue(ctx context.Context, payload GenerationPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeGeneration, data, q.taskOptions()...)
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	q.log.Info("[Queue] task enqueued",
		zap.String("job_id", payload.JobID),
		zap.String("kind", payload.Kind),
		zap.String("task_id", info.ID))
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
