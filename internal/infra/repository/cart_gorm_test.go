package repository_test

import (
	"context"
	"os"
	"sync/atomic"
	"testing"

	"storefront/internal/domain/model"
	"storefront/internal/infra/db"
	infrarepo "storefront/internal/infra/repository"
	repo "storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TEST_DATABASE_URL が無ければスキップ
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gormDB
}

// テストごとに別IDの商品を作る
func seedProduct(t *testing.T, gormDB *gorm.DB, stock int64) model.Product {
	t.Helper()

	p := model.Product{
		ID:              "it-" + uuid.NewString(),
		Name:            "Integration beans",
		UnitPrice:       decimal.RequireFromString("12.50"),
		DiscountPercent: decimal.Zero,
		Stock:           stock,
		IsActive:        true,
	}
	require.NoError(t, gormDB.Create(&p).Error)
	t.Cleanup(func() {
		gormDB.Unscoped().Where("product_id = ?", p.ID).Delete(&model.CartLine{})
		gormDB.Unscoped().Where("id = ?", p.ID).Delete(&model.Product{})
	})
	return p
}

func TestCartGorm_IncrementRespectsCeiling(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()
	p := seedProduct(t, gormDB, 5)
	carts := infrarepo.NewCartGormRepository(gormDB)

	cart, err := carts.GetOrCreateByOwner(ctx, "owner-"+uuid.NewString())
	require.NoError(t, err)

	ok, err := carts.IncrementLine(ctx, cart.ID, p.ID, 3, p.Stock)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = carts.IncrementLine(ctx, cart.ID, p.ID, 3, p.Stock)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = carts.IncrementLine(ctx, cart.ID, p.ID, 2, p.Stock)
	require.NoError(t, err)
	assert.True(t, ok)

	lines, err := carts.ListLines(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(5), lines[0].Quantity)
}

func TestCartGorm_GetOrCreateIsIdempotent(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()
	carts := infrarepo.NewCartGormRepository(gormDB)
	owner := "owner-" + uuid.NewString()

	ids := make([]int64, 8)
	var g errgroup.Group
	for i := range ids {
		i := i
		g.Go(func() error {
			cart, err := carts.GetOrCreateByOwner(ctx, owner)
			ids[i] = cart.ID
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestCartGorm_ConcurrentIncrementsNeverExceedStock(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()
	p := seedProduct(t, gormDB, 7)
	tx := infrarepo.NewTxManagerGorm(gormDB)
	owner := "owner-" + uuid.NewString()

	var accepted atomic.Int64
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			return tx.WithinTx(ctx, func(r repo.TxRepos) error {
				prod, err := r.Products().LockForShare(ctx, p.ID)
				if err != nil {
					return err
				}
				cart, err := r.Carts().GetOrCreateByOwner(ctx, owner)
				if err != nil {
					return err
				}
				ok, err := r.Carts().IncrementLine(ctx, cart.ID, p.ID, 1, prod.Stock)
				if ok {
					accepted.Add(1)
				}
				return err
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(7), accepted.Load())

	carts := infrarepo.NewCartGormRepository(gormDB)
	cart, err := carts.FindByOwner(ctx, owner)
	require.NoError(t, err)
	lines, err := carts.ListLines(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(7), lines[0].Quantity)
}

func TestCartGorm_SetDeleteClear(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()
	p1 := seedProduct(t, gormDB, 10)
	p2 := seedProduct(t, gormDB, 10)
	carts := infrarepo.NewCartGormRepository(gormDB)

	cart, err := carts.GetOrCreateByOwner(ctx, "owner-"+uuid.NewString())
	require.NoError(t, err)

	require.NoError(t, carts.SetLine(ctx, cart.ID, p1.ID, 4))
	require.NoError(t, carts.SetLine(ctx, cart.ID, p1.ID, 2))
	require.NoError(t, carts.SetLine(ctx, cart.ID, p2.ID, 1))

	lines, err := carts.ListLines(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	require.NoError(t, carts.DeleteLine(ctx, cart.ID, p2.ID))
	require.NoError(t, carts.DeleteLine(ctx, cart.ID, p2.ID))

	lines, err = carts.ListLines(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(2), lines[0].Quantity)

	require.NoError(t, carts.Clear(ctx, cart.ID))
	lines, err = carts.ListLines(ctx, cart.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = carts.FindByOwner(ctx, "owner-missing-"+uuid.NewString())
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
