package models

import "time"

// Avatar 用户可选的头像图片，仅读取
type Avatar struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string    `json:"name"`
	ImageURL  string    `gorm:"type:text" json:"imageUrl"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Avatar) TableName() string {
	return "avatars"
}
