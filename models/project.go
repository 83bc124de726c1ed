package models

import "time"

// 项目状态：draft -> processing -> completed | failed
const (
	ProjectStatusDraft      = "draft"      // 已创建，尚未开始生成
	ProjectStatusProcessing = "processing" // 生成中（同一时刻最多一个活动任务）
	ProjectStatusCompleted  = "completed"  // 已完成（可能是降级的纯音频结果）
	ProjectStatusFailed     = "failed"
)

type Project struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID          string    `gorm:"type:varchar(64);index" json:"userId"`
	Title           string    `json:"title"`
	Script          string    `gorm:"type:text" json:"script"`
	VoiceType       string    `json:"voiceType"`
	AvatarID        string    `gorm:"type:varchar(64)" json:"avatarId"`
	Status          string    `gorm:"type:varchar(32)" json:"status"`
	VideoURL        string    `gorm:"column:video_url;type:text" json:"videoUrl"` // 音频或视频结果地址
	DurationSeconds int       `json:"durationSeconds"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "video_projects"
}

// IsTerminal 终态之后本次生成不再发生状态迁移
func (p *Project) IsTerminal() bool {
	return p.Status == ProjectStatusCompleted || p.Status == ProjectStatusFailed
}
