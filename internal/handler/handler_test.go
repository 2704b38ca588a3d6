package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront/internal/config"
	"storefront/internal/domain/model"
	"storefront/internal/handler"
	"storefront/internal/logger"
	"storefront/internal/testutil"
	"storefront/internal/usecase"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handler-test-secret"

type testServer struct {
	e     *echo.Echo
	store *testutil.MemStore
}

func newTestServer(t *testing.T, ping func(ctx context.Context) error) *testServer {
	t.Helper()

	store := testutil.NewMemStore()
	store.PutProduct(model.Product{ID: "sku-1", Name: "Beans", UnitPrice: decimal.RequireFromString("10.00"), Stock: 5, IsActive: true, CategoryName: "coffee"})
	store.PutProduct(model.Product{ID: "sku-2", Name: "Grinder", UnitPrice: decimal.RequireFromString("50.00"), DiscountPercent: decimal.NewFromInt(20), Stock: 10, IsActive: true, CategoryName: "tools"})
	store.PutProduct(model.Product{ID: "sku-off", Name: "Hidden", UnitPrice: decimal.RequireFromString("1.00"), Stock: 10, IsActive: false})

	cfg := config.Config{JWTSecret: testSecret}
	cartUC := usecase.NewCartUsecase(store, store, store, nil, logger.Discard())
	productUC := usecase.NewProductUsecase(store)

	if ping == nil {
		ping = func(ctx context.Context) error { return nil }
	}

	e := echo.New()
	handler.NewCartHandler(cartUC).RegisterRoutes(e, cfg)
	handler.NewProductHandler(productUC).RegisterRoutes(e)
	handler.NewHealthHandler(ping).RegisterRoutes(e)

	return &testServer{e: e, store: store}
}

func mustToken(t *testing.T, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var v handler.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body=%s", rec.Body.String())
	return v
}

func TestCart_Unauthorized(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/cart", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, usecase.CodeUnauthenticated, decodeError(t, rec).Code)
}

func TestCart_GetEmpty(t *testing.T) {
	s := newTestServer(t, nil)
	tok := mustToken(t, "user-1")

	rec := s.do(t, http.MethodGet, "/cart", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	newGoldie(t).Assert(t, "cart_empty", rec.Body.Bytes())
}

// 加算2回 → 全体のCartViewが返る
func TestCart_IncrementLines(t *testing.T) {
	s := newTestServer(t, nil)
	tok := mustToken(t, "user-1")

	rec := s.do(t, http.MethodPost, "/cart/lines", tok, `{"product_id":"sku-1","delta":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/cart/lines", tok, `{"product_id":"sku-2","delta":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	newGoldie(t).Assert(t, "cart_two_lines", rec.Body.Bytes())
	assert.Equal(t, int64(2), s.store.LineQuantity("user-1", "sku-1"))
}

// deltaを省略したら1
func TestCart_IncrementLine_DefaultDelta(t *testing.T) {
	s := newTestServer(t, nil)
	tok := mustToken(t, "user-1")

	rec := s.do(t, http.MethodPost, "/cart/lines", tok, `{"product_id":"sku-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), s.store.LineQuantity("user-1", "sku-1"))
}

func TestCart_IncrementLine_StockExceeded(t *testing.T) {
	s := newTestServer(t, nil)
	tok := mustToken(t, "user-1")

	rec := s.do(t, http.MethodPost, "/cart/lines", tok, `{"product_id":"sku-1","delta":6}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	newGoldie(t).Assert(t, "stock_exceeded", rec.Body.Bytes())
	assert.Equal(t, int64(0), s.store.LineQuantity("user-1", "sku-1"))
}

func TestCart_IncrementLine_InvalidBody(t *testing.T) {
	s := newTestServer(t, nil)
	tok := mustToken(t, "user-1")

	cases := []string{
		`{"product_id":"sku-1","delta":1.5}`,
		`{"product_id":"sku-1","delta":-1}`,
		`{"product_id":"","delta":1}`,
		`not json`,
	}
	for _, body := range cases {
		rec := s.do(t, http.MethodPost, "/cart/lines", tok, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, usecase.CodeInvalidArgument, decodeError(t, rec).Code, body)
	}
}

func TestCart_IncrementLine_InactiveProduct(t *testing.T) {
	s := newTestServer(t, nil)
	tok := mustToken(t, "user-1")

	rec := s.do(t, http.MethodPost, "/cart/lines", tok, `{"product_id":"sku-off","delta":1}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, usecase.CodeNotFound, body.Code)
	assert.Equal(t, "this item is no longer available", body.Error)
}

func TestCart_SetLine(t *testing.T) {
	s := newTestServer(t, nil)
	tok := mustToken(t, "user-1")

	rec := s.do(t, http.MethodPut, "/cart/lines/sku-2", tok, `{"quantity":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(3), s.store.LineQuantity("user-1", "sku-2"))

	rec = s.do(t, http.MethodPut, "/cart/lines/sku-2", tok, `{"quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/cart/lines/sku-2", tok, `{"quantity":11}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	require.NotNil(t, body.Available)
	assert.Equal(t, int64(10), *body.Available)
	assert.Equal(t, int64(3), s.store.LineQuantity("user-1", "sku-2"))
}

func TestCart_RemoveLineAndClear(t *testing.T) {
	s := newTestServer(t, nil)
	tok := mustToken(t, "user-1")

	s.do(t, http.MethodPost, "/cart/lines", tok, `{"product_id":"sku-1","delta":1}`)
	s.do(t, http.MethodPost, "/cart/lines", tok, `{"product_id":"sku-2","delta":1}`)

	rec := s.do(t, http.MethodDelete, "/cart/lines/sku-1", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), s.store.LineQuantity("user-1", "sku-1"))

	// 無い明細の削除もOK
	rec = s.do(t, http.MethodDelete, "/cart/lines/sku-1", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/cart", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)
	newGoldie(t).Assert(t, "cart_empty", rec.Body.Bytes())
}

// オーナーごとにカートが分かれる
func TestCart_OwnersAreIsolated(t *testing.T) {
	s := newTestServer(t, nil)

	s.do(t, http.MethodPost, "/cart/lines", mustToken(t, "user-1"), `{"product_id":"sku-1","delta":1}`)

	rec := s.do(t, http.MethodGet, "/cart", mustToken(t, "user-2"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	newGoldie(t).Assert(t, "cart_empty", rec.Body.Bytes())
}

func TestProducts_Detail(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/products/sku-2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	newGoldie(t).Assert(t, "product_detail", rec.Body.Bytes())

	rec = s.do(t, http.MethodGet, "/products/sku-off", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProducts_ListByCategory(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/products?category=tools", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out handler.ProductListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "sku-2", out.Items[0].ID)
	assert.Equal(t, "40.00", out.Items[0].EffectiveUnitPrice)

	rec = s.do(t, http.MethodGet, "/products?min_price=abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newTestServer(t, func(ctx context.Context) error { return errors.New("down") })
	rec = down.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
