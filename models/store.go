package models

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Store 编排核心读写的记录存储。所有更新都按 id 行级覆盖（last writer wins）。
type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context, userID string) ([]Project, error)
	// MarkProjectProcessing 进入 processing，同时清空上一次的结果字段
	MarkProjectProcessing(ctx context.Context, id string) error
	CompleteProject(ctx context.Context, id, resultURL string, durationSeconds int) error
	FailProject(ctx context.Context, id string) error

	CreateJob(ctx context.Context, j *ProcessingJob) error
	GetJob(ctx context.Context, id string) (*ProcessingJob, error)
	LatestJob(ctx context.Context, projectID string) (*ProcessingJob, error)
	OpenJobs(ctx context.Context, projectID string) ([]ProcessingJob, error)
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	CompleteJob(ctx context.Context, id string, at time.Time) error
	FailJob(ctx context.Context, id, message string, at time.Time) error

	GetAvatar(ctx context.Context, id string) (*Avatar, error)
	ListAvatars(ctx context.Context) ([]Avatar, error)
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
