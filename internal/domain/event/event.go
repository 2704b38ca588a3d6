// Package event はカート関連のメッセージ（Kafka）のペイロード。
package event

import "time"

type CartOp string

const (
	CartOpIncrement CartOp = "increment"
	CartOpSet       CartOp = "set"
	CartOpRemove    CartOp = "remove"
	CartOpClear     CartOp = "clear"
)

// カートが変わったことを知らせる
type CartChanged struct {
	EventID   string    `json:"event_id"`
	OwnerID   string    `json:"owner_id"`
	Op        CartOp    `json:"op"`
	ProductID string    `json:"product_id,omitempty"`
	Quantity  int64     `json:"quantity"`
	ItemCount int64     `json:"item_count"`
	Subtotal  string    `json:"subtotal"`
	At        time.Time `json:"at"`
}

// 注文確定（チェックアウト側から届く）
type OrderConfirmed struct {
	OrderID string `json:"order_id"`
	OwnerID string `json:"owner_id"`
}
