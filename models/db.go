package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// InitDB 打开 MySQL 连接池并在其上构建 GORM
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn: db,
	}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("GORM 初始化失败: %w", err)
	}
	return gormDB, nil
}

// Migrate 自动建表（video_projects / processing_jobs / avatars）
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Project{}, &ProcessingJob{}, &Avatar{})
}

// GormStore Store 的 MySQL 实现
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) CreateProject(ctx context.Context, p *Project) error {
	return s.DB.WithContext(ctx).Create(p).Error
}

func (s *GormStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := s.DB.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *GormStore) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	var res []Project
	q := s.DB.WithContext(ctx).Order("created_at DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

func (s *GormStore) updateProject(ctx context.Context, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	res := s.DB.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) MarkProjectProcessing(ctx context.Context, id string) error {
	return s.updateProject(ctx, id, map[string]interface{}{
		"status":           ProjectStatusProcessing,
		"video_url":        "",
		"duration_seconds": 0,
	})
}

func (s *GormStore) CompleteProject(ctx context.Context, id, resultURL string, durationSeconds int) error {
	return s.updateProject(ctx, id, map[string]interface{}{
		"status":           ProjectStatusCompleted,
		"video_url":        resultURL,
		"duration_seconds": durationSeconds,
	})
}

func (s *GormStore) FailProject(ctx context.Context, id string) error {
	return s.updateProject(ctx, id, map[string]interface{}{
		"status": ProjectStatusFailed,
	})
}

func (s *GormStore) CreateJob(ctx context.Context, j *ProcessingJob) error {
	return s.DB.WithContext(ctx).Create(j).Error
}

func (s *GormStore) GetJob(ctx context.Context, id string) (*ProcessingJob, error) {
	var j ProcessingJob
	if err := s.DB.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

func (s *GormStore) LatestJob(ctx context.Context, projectID string) (*ProcessingJob, error) {
	var j ProcessingJob
	err := s.DB.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		First(&j).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

func (s *GormStore) OpenJobs(ctx context.Context, projectID string) ([]ProcessingJob, error) {
	var jobs []ProcessingJob
	err := s.DB.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, JobStatusProcessing).
		Order("created_at DESC").
		Find(&jobs).Error
	return jobs, err
}

// UpdateJobProgress 只前进不后退，数据库侧再保证一次单调性
func (s *GormStore) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	return s.DB.WithContext(ctx).Model(&ProcessingJob{}).
		Where("id = ? AND status = ? AND progress < ?", id, JobStatusProcessing, progress).
		Update("progress", progress).Error
}

func (s *GormStore) CompleteJob(ctx context.Context, id string, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&ProcessingJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       JobStatusCompleted,
		"progress":     100,
		"completed_at": at,
	}).Error
}

func (s *GormStore) FailJob(ctx context.Context, id, message string, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&ProcessingJob{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        JobStatusFailed,
		"error_message": message,
		"completed_at":  at,
	}).Error
}

func (s *GormStore) GetAvatar(ctx context.Context, id string) (*Avatar, error) {
	var a Avatar
	if err := s.DB.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *GormStore) ListAvatars(ctx context.Context) ([]Avatar, error) {
	var res []Avatar
	err := s.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&res).Error
	return res, err
}
