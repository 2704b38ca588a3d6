// Package cartsync はクライアント側のカートキャッシュと、
// サーバー（Cart Store）との同期ルール。
package cartsync

import (
	"context"

	"storefront/internal/domain/cartview"
)

// サーバーのカートAPI。どれも最新のCartView全体を返す。
type CartAPI interface {
	GetCart(ctx context.Context, token string) (cartview.CartView, error)
	IncrementLine(ctx context.Context, token string, productID string, delta int64) (cartview.CartView, error)
	SetLine(ctx context.Context, token string, productID string, quantity int64) (cartview.CartView, error)
	RemoveLine(ctx context.Context, token string, productID string) (cartview.CartView, error)
	Clear(ctx context.Context, token string) (cartview.CartView, error)
}

// ログイン中のユーザー。OwnerIDは中身を解釈しない。
type Identity struct {
	OwnerID string
	Token   string
}

// ログイン時のマージ結果
type MergeReport struct {
	Merged []string
	Failed map[string]error
}
