package repository

import (
	"context"
	"errors"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CartGormRepository struct {
	db *gorm.DB
}

// DI
func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

var lineConflict = []clause.Column{{Name: "cart_id"}, {Name: "product_id"}}

// オーナーのカートを取得し、無ければ作成
func (r *CartGormRepository) GetOrCreateByOwner(ctx context.Context, ownerID string) (model.Cart, error) {
	cart, err := r.FindByOwner(ctx, ownerID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.Cart{}, err
	}

	// 同時作成はON CONFLICTで吸収して読み直す
	now := time.Now()
	newCart := model.Cart{OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "owner_id"}}, DoNothing: true}).
		Create(&newCart).Error; err != nil {
		return model.Cart{}, translateErr(err)
	}

	return r.FindByOwner(ctx, ownerID)
}

func (r *CartGormRepository) FindByOwner(ctx context.Context, ownerID string) (model.Cart, error) {
	var cart model.Cart

	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		First(&cart).Error
	if err != nil {
		return model.Cart{}, translateErr(err)
	}
	return cart, nil
}

// 明細一覧（product_id順）
func (r *CartGormRepository) ListLines(ctx context.Context, cartID int64) ([]model.CartLine, error) {
	var lines []model.CartLine

	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("product_id asc").
		Find(&lines).Error; err != nil {
		return []model.CartLine{}, translateErr(err)
	}
	return lines, nil
}

// 同一商品は数量加算。ceilingを超えるなら何もしない。
// 1文のupsertで行ロックを取るので同じ行への同時加算は直列になる。
func (r *CartGormRepository) IncrementLine(ctx context.Context, cartID int64, productID string, delta int64, ceiling int64) (bool, error) {
	if delta <= 0 {
		return false, errors.New("invalid quantity")
	}
	if delta > ceiling {
		return false, nil
	}

	now := time.Now()
	line := model.CartLine{
		CartID:    cartID,
		ProductID: productID,
		Quantity:  delta,
		CreatedAt: now,
		UpdatedAt: now,
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: lineConflict,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("cart_lines.quantity + EXCLUDED.quantity"),
			"updated_at": now,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("cart_lines.quantity + EXCLUDED.quantity <= ?", ceiling),
		}},
	}).Create(&line)

	if res.Error != nil {
		return false, translateErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// 数量を上書き
func (r *CartGormRepository) SetLine(ctx context.Context, cartID int64, productID string, qty int64) error {
	if qty <= 0 {
		return errors.New("invalid quantity")
	}

	now := time.Now()
	line := model.CartLine{
		CartID:    cartID,
		ProductID: productID,
		Quantity:  qty,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: lineConflict,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("EXCLUDED.quantity"),
			"updated_at": now,
		}),
	}).Create(&line).Error

	return translateErr(err)
}

// 明細を削除（無くてもOK）
func (r *CartGormRepository) DeleteLine(ctx context.Context, cartID int64, productID string) error {
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		Delete(&model.CartLine{}).Error
	return translateErr(err)
}

// 指定カートの明細を全削除
func (r *CartGormRepository) Clear(ctx context.Context, cartID int64) error {
	err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&model.CartLine{}).Error
	return translateErr(err)
}
