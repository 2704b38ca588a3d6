package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"storefront/internal/cartsync"
	"storefront/internal/config"
	"storefront/internal/domain/cartview"
	"storefront/internal/domain/model"
	"storefront/internal/handler"
	"storefront/internal/logger"
	repo "storefront/internal/repository"
	"storefront/internal/server"
	"storefront/internal/testutil"
	"storefront/internal/usecase"

	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "cartctl-test-secret"

type harness struct {
	store   *testutil.MemStore
	uc      *usecase.CartUsecase
	cfgPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := testutil.NewMemStore()
	store.PutProduct(model.Product{ID: "sku-1", Name: "Beans", UnitPrice: decimal.RequireFromString("10.00"), Stock: 5, IsActive: true, CategoryName: "coffee"})
	store.PutProduct(model.Product{ID: "sku-2", Name: "Grinder", UnitPrice: decimal.RequireFromString("1250.00"), DiscountPercent: decimal.NewFromInt(20), Stock: 10, IsActive: true, CategoryName: "tools"})

	cfg := config.Config{JWTSecret: secret}
	uc := usecase.NewCartUsecase(store, store, store, nil, logger.Discard())

	e := server.New(cfg, logger.Discard())
	server.RegisterRoutes(e, cfg, server.Handlers{
		Cart:    handler.NewCartHandler(uc),
		Product: handler.NewProductHandler(usecase.NewProductUsecase(store)),
		Health:  handler.NewHealthHandler(func(ctx context.Context) error { return nil }),
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("CARTCTL_BASE_URL", srv.URL)
	t.Setenv("CARTCTL_STORE", filepath.Join(dir, "cart.db"))

	return &harness{store: store, uc: uc, cfgPath: filepath.Join(dir, "config.yaml")}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := execute(context.Background(), append([]string{"--config", h.cfgPath}, args...), &out, &errOut)
	return out.String(), err
}

func mustToken(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestCartctl_AnonymousCartMergesOnLogin(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "add", "sku-1", "--qty", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Beans")
	assert.Contains(t, out, "items: 2  subtotal: $20.00")
	assert.Equal(t, 0, h.store.CartCount())

	// 次の実行でもローカルのカートが残っている
	out, err = h.run(t, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "items: 2")
	assert.Contains(t, out, "guest cart (device ")

	_, err = h.uc.IncrementLine(context.Background(), "user-1", usecase.IncrementLineInput{ProductID: "sku-1", Delta: 1})
	require.NoError(t, err)

	out, err = h.run(t, "login", "--token", mustToken(t, "user-1"))
	require.NoError(t, err)
	assert.Contains(t, out, "items: 3  subtotal: $30.00")
	assert.Equal(t, int64(3), h.store.LineQuantity("user-1", "sku-1"))

	// セッションが保存されていて、以降はサーバーへ送られる
	_, err = h.run(t, "set", "sku-1", "5")
	require.NoError(t, err)
	assert.Equal(t, int64(5), h.store.LineQuantity("user-1", "sku-1"))

	out, err = h.run(t, "add", "sku-2")
	require.NoError(t, err)
	assert.Contains(t, out, "$1,000.00")
	assert.Contains(t, out, "-20%")

	out, err = h.run(t, "--format", "json", "show")
	require.NoError(t, err)
	var view cartview.JSON
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, int64(6), view.ItemCount)
	assert.Equal(t, "1050.00", view.Subtotal)
}

func TestCartctl_StockExceededKeepsConfirmedQuantity(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "login", "--token", mustToken(t, "user-1"))
	require.NoError(t, err)

	_, err = h.run(t, "add", "sku-1", "--qty", "5")
	require.NoError(t, err)

	out, err := h.run(t, "add", "sku-1")
	var se *cartsync.StockExceededError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(5), se.Available)
	assert.Contains(t, out, "items: 5")
	assert.Equal(t, int64(5), h.store.LineQuantity("user-1", "sku-1"))
}

func TestCartctl_LogoutForgetsCart(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "login", "--token", mustToken(t, "user-1"))
	require.NoError(t, err)
	_, err = h.run(t, "add", "sku-2", "--qty", "2")
	require.NoError(t, err)

	out, err := h.run(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "logged out")

	out, err = h.run(t, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "cart is empty")

	// サーバー側のカートはそのまま
	assert.Equal(t, int64(2), h.store.LineQuantity("user-1", "sku-2"))
}

// 送れなかった変更は次のshowで送り直される
func TestCartctl_FailedSyncIsResentByNextShow(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "login", "--token", mustToken(t, "user-1"))
	require.NoError(t, err)
	_, err = h.run(t, "add", "sku-1", "--qty", "2")
	require.NoError(t, err)

	h.store.Fail = repo.ErrUnavailable
	out, err := h.run(t, "set", "sku-1", "4")
	var re *cartsync.RetryableError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, out, "items: 4")

	h.store.Fail = nil
	assert.Equal(t, int64(2), h.store.LineQuantity("user-1", "sku-1"))

	out, err = h.run(t, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "items: 4")
	assert.NotContains(t, out, "guest cart")
	assert.Equal(t, int64(4), h.store.LineQuantity("user-1", "sku-1"))
}

// ログイン中に別のアカウントでログインしても前のカートは移らない
func TestCartctl_LoginAsAnotherUser(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "login", "--token", mustToken(t, "user-1"))
	require.NoError(t, err)
	_, err = h.run(t, "add", "sku-1", "--qty", "3")
	require.NoError(t, err)

	out, err := h.run(t, "login", "--token", mustToken(t, "user-2"))
	require.NoError(t, err)
	assert.Contains(t, out, "cart is empty")
	assert.Equal(t, int64(0), h.store.LineQuantity("user-2", "sku-1"))
	assert.Equal(t, int64(3), h.store.LineQuantity("user-1", "sku-1"))
}

func TestCartctl_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "set", "sku-1", "two")
	assert.ErrorIs(t, err, cartsync.ErrInvalidArgument)

	_, err = h.run(t, "set", "sku-1", "2")
	assert.ErrorIs(t, err, cartsync.ErrNotInCart)

	_, err = h.run(t, "add", "nope")
	assert.ErrorIs(t, err, cartsync.ErrNotFound)

	_, err = h.run(t, "--format", "xml", "show")
	assert.Error(t, err)

	_, err = h.run(t, "login", "--token", "not-a-jwt")
	assert.Error(t, err)
}

func TestCartctl_Products(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "products", "--category", "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "sku-2")
	assert.NotContains(t, out, "sku-1")
	assert.Contains(t, out, "total: 1")
}

func TestSubjectOf(t *testing.T) {
	sub, err := subjectOf(mustToken(t, "user-9"))
	require.NoError(t, err)
	assert.Equal(t, "user-9", sub)

	_, err = subjectOf("x.y.z")
	assert.Error(t, err)
}
