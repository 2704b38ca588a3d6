package model

import "time"

// カートの明細
// (cart_id, product_id)で一意。数量0の行は保存しない。
type CartLine struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID    int64     `gorm:"not null;uniqueIndex:ux_cart_lines_cart_product,priority:1" json:"cart_id"`
	ProductID string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_cart_lines_cart_product,priority:2;index" json:"product_id"`
	Quantity  int64     `gorm:"not null;check:chk_cart_lines_quantity,quantity >= 1" json:"quantity"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
