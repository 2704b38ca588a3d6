package repository

import (
	"context"

	"storefront/internal/domain/model"
)

type CartRepository interface {
	GetOrCreateByOwner(ctx context.Context, ownerID string) (model.Cart, error)
	FindByOwner(ctx context.Context, ownerID string) (model.Cart, error)
	ListLines(ctx context.Context, cartID int64) ([]model.CartLine, error)

	// 加算後の数量がceiling以下のときだけ書く。falseなら行は変わっていない。
	IncrementLine(ctx context.Context, cartID int64, productID string, delta int64, ceiling int64) (bool, error)
	// 数量を上書き（無ければ作成）
	SetLine(ctx context.Context, cartID int64, productID string, qty int64) error
	// 無い行の削除はエラーにしない
	DeleteLine(ctx context.Context, cartID int64, productID string) error
	Clear(ctx context.Context, cartID int64) error
}
