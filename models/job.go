package models

import "time"

// 处理任务状态
const (
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// ProcessingJob 一次生成尝试的细粒度进度记录。
// progress 单调不减，只有 status 变为 completed 时才到 100。
type ProcessingJob struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID    string     `gorm:"type:varchar(64);index" json:"projectId"`
	Status       string     `gorm:"type:varchar(32)" json:"status"`
	Progress     int        `json:"progress"`
	ErrorMessage string     `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

func (ProcessingJob) TableName() string {
	return "processing_jobs"
}

func (j *ProcessingJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
