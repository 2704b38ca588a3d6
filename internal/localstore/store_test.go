package localstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"storefront/internal/cartsync"
	"storefront/internal/domain/cartview"
	"storefront/internal/localstore"
	"storefront/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*localstore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cart.db")
	s, err := localstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestStore_CartRoundTrip(t *testing.T) {
	s, path := openStore(t)
	ctx := context.Background()

	lines := []cartview.Line{
		{ProductID: "sku-1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00"), StockAvailable: 5, Name: "Beans"},
		{ProductID: "sku-2", Quantity: 1, UnitPrice: decimal.RequireFromString("49.99"), DiscountPercent: decimal.RequireFromString("33.3"), StockAvailable: 10, Name: "Grinder"},
	}
	require.NoError(t, s.SaveCart(ctx, cartsync.Snapshot{Lines: lines, Dirty: []string{"sku-2", "sku-9"}}))
	require.NoError(t, s.Close())

	// 開き直しても残る
	reopened, err := localstore.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.LoadCart(ctx)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, cartview.Build(lines).ToJSON(), cartview.Build(got.Lines).ToJSON())
	// 明細の無い削除待ちも残る
	assert.Equal(t, []string{"sku-2", "sku-9"}, got.Dirty)

	require.NoError(t, reopened.SaveCart(ctx, cartsync.Snapshot{}))
	got, err = reopened.LoadCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Lines)
	assert.Empty(t, got.Dirty)
}

// Cacheの保存先として使える
func TestStore_AsCachePersister(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	c := cartsync.NewCache(s, logger.Discard())
	c.Add(cartview.Line{ProductID: "sku-1", UnitPrice: decimal.RequireFromString("10.00"), StockAvailable: 5}, 3)

	c.MarkDirty("sku-1")

	restored := cartsync.NewCache(s, logger.Discard())
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, int64(3), restored.Quantity("sku-1"))
	assert.Equal(t, []string{"sku-1"}, restored.Dirty())
}

func TestStore_Session(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveSession(ctx, cartsync.Identity{OwnerID: "user-1", Token: "t1"}))
	require.NoError(t, s.SaveSession(ctx, cartsync.Identity{OwnerID: "user-2", Token: "t2"}))

	ident, ok, err := s.LoadSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cartsync.Identity{OwnerID: "user-2", Token: "t2"}, ident)

	require.NoError(t, s.ClearSession(ctx))
	_, ok, err = s.LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeviceIDIsStable(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	a, err := s.DeviceID(ctx)
	require.NoError(t, err)
	b, err := s.DeviceID(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.Equal(t, a, b)
}
