package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"TalkingAvatar-server/config"
	"TalkingAvatar-server/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Processor 消费异步生成任务
type Processor struct {
	gen *GenerationService
	log *zap.Logger
}

func NewProcessor(gen *GenerationService, log *zap.Logger) *Processor {
	return &Processor{gen: gen, log: log}
}

// Run 启动任务消费者，阻塞直到收到退出信号
func (p *Processor) Run(cfg config.RedisConfig, concurrency int) error {
	srv := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGeneration, p.HandleGenerationTask)

	p.log.Info("Starting generation processor", zap.Int("concurrency", concurrency))
	return srv.Run(mux)
}

// HandleGenerationTask 核心处理逻辑。生成失败已写入 job，不触发 asynq 重试。
func (p *Processor) HandleGenerationTask(ctx context.Context, t *asynq.Task) error {
	var payload GenerationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	att, err := p.gen.Resume(ctx, payload.JobID)
	switch {
	case errors.Is(err, ErrJobClosed):
		p.log.Warn("job already closed, skipping", zap.String("job_id", payload.JobID))
		return nil
	case errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case err != nil:
		return err
	}

	log := p.log.With(zap.String("job_id", att.JobID), zap.String("project_id", att.ProjectID))
	log.Info("Processing generation task", zap.String("kind", payload.Kind))

	var res *Result
	switch {
	case payload.Kind == GenerationKindAudio && payload.Audio != nil:
		res, err = p.gen.RunAudio(ctx, att, *payload.Audio)
	case payload.Kind == GenerationKindVideo && payload.Video != nil:
		res, err = p.gen.RunVideo(ctx, att, *payload.Video)
	default:
		err = fmt.Errorf("unknown generation kind: %q", payload.Kind)
		p.gen.MarkFailed(ctx, att.ProjectID, att.JobID, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		log.Error("generation task failed", zap.Error(err))
		return nil // 业务失败，不再重试
	}

	log.Info("generation task completed", zap.Bool("degraded", res.Degraded))
	return nil
}
