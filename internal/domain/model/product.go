package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 商品（カタログ側の所有）。カートからは読むだけ。
type Product struct {
	ID              string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name            string          `gorm:"type:varchar(255);not null" json:"name"`
	Description     string          `gorm:"type:text" json:"description"`
	UnitPrice       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	DiscountPercent decimal.Decimal `gorm:"type:numeric(5,2);not null;default:0" json:"discount_percent"`
	Stock           int64           `gorm:"not null" json:"stock"`
	ImageRef        string          `gorm:"type:varchar(512)" json:"image_ref"`
	CategoryName    string          `gorm:"type:varchar(255);index" json:"category_name"`
	IsActive        bool            `gorm:"not null;default:false" json:"is_active"`
	CreatedAt       time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"index" json:"-"`
}
