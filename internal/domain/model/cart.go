package model

import "time"

// 1オーナーにつきカートは1つ（owner_idはユニーク）
type Cart struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID   string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"owner_id"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
