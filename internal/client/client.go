// Package client はカートAPIのHTTPクライアント（cartsync.CartAPIの実装）。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"storefront/internal/cartsync"
	"storefront/internal/domain/cartview"
	"storefront/internal/domain/pricing"

	"github.com/shopspring/decimal"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

var _ cartsync.CartAPI = (*Client)(nil)

type incrementLineRequest struct {
	ProductID string `json:"product_id"`
	Delta     int64  `json:"delta"`
}

type setLineRequest struct {
	Quantity int64 `json:"quantity"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Available *int64 `json:"available"`
}

// GET /products/:id と /products の要素
type Product struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	UnitPrice       string `json:"unit_price"`
	DiscountPercent string `json:"discount_percent"`
	Stock           int64  `json:"stock"`
	ImageRef        string `json:"image_ref"`
	CategoryName    string `json:"category_name"`
}

type productList struct {
	Items []Product `json:"items"`
	Total int64     `json:"total"`
}

// カートに入れるときのスナップショット（数量は0）
func (p Product) Line() (cartview.Line, error) {
	price, err := decimal.NewFromString(p.UnitPrice)
	if err != nil {
		return cartview.Line{}, fmt.Errorf("unit_price: %w", err)
	}
	discount := decimal.Zero
	if p.DiscountPercent != "" {
		if discount, err = decimal.NewFromString(p.DiscountPercent); err != nil {
			return cartview.Line{}, fmt.Errorf("discount_percent: %w", err)
		}
	}
	if !pricing.ValidDiscount(discount) {
		return cartview.Line{}, fmt.Errorf("%w: discount_percent %s out of range", cartsync.ErrInvalidArgument, discount)
	}
	return cartview.Line{
		ProductID:       p.ID,
		UnitPrice:       price,
		DiscountPercent: discount,
		StockAvailable:  p.Stock,
		Name:            p.Name,
		ImageRef:        p.ImageRef,
		CategoryName:    p.CategoryName,
	}, nil
}

func (c *Client) GetCart(ctx context.Context, token string) (cartview.CartView, error) {
	return c.cart(ctx, http.MethodGet, "/cart", token, nil)
}

func (c *Client) IncrementLine(ctx context.Context, token string, productID string, delta int64) (cartview.CartView, error) {
	return c.cart(ctx, http.MethodPost, "/cart/lines", token, incrementLineRequest{ProductID: productID, Delta: delta})
}

func (c *Client) SetLine(ctx context.Context, token string, productID string, quantity int64) (cartview.CartView, error) {
	return c.cart(ctx, http.MethodPut, "/cart/lines/"+url.PathEscape(productID), token, setLineRequest{Quantity: quantity})
}

func (c *Client) RemoveLine(ctx context.Context, token string, productID string) (cartview.CartView, error) {
	return c.cart(ctx, http.MethodDelete, "/cart/lines/"+url.PathEscape(productID), token, nil)
}

func (c *Client) Clear(ctx context.Context, token string) (cartview.CartView, error) {
	return c.cart(ctx, http.MethodDelete, "/cart", token, nil)
}

func (c *Client) GetProduct(ctx context.Context, productID string) (Product, error) {
	var p Product
	err := c.doJSON(ctx, http.MethodGet, "/products/"+url.PathEscape(productID), "", nil, &p)
	return p, err
}

func (c *Client) ListProducts(ctx context.Context, q string, category string, page int, limit int) ([]Product, int64, error) {
	v := url.Values{}
	if q != "" {
		v.Set("q", q)
	}
	if category != "" {
		v.Set("category", category)
	}
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}

	path := "/products"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var out productList
	if err := c.doJSON(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Items, out.Total, nil
}

// 丸めた金額は使わずにCartViewを組み立て直す
func (c *Client) cart(ctx context.Context, method string, path string, token string, body any) (cartview.CartView, error) {
	var out cartview.JSON
	if err := c.doJSON(ctx, method, path, token, body, &out); err != nil {
		return cartview.CartView{}, err
	}
	v, err := cartview.FromJSON(out)
	if err != nil {
		return cartview.CartView{}, fmt.Errorf("decode cart: %w", err)
	}
	return v, nil
}

func (c *Client) doJSON(ctx context.Context, method string, path string, bearer string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// タイムアウト・接続失敗は一時的な失敗
		return fmt.Errorf("%w: %w", cartsync.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", cartsync.ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// {"error","code","available"} をcartsyncのエラーにする
func decodeError(status int, data []byte) error {
	var er errorResponse
	_ = json.Unmarshal(data, &er)

	switch er.Code {
	case "NOT_FOUND":
		return cartsync.ErrNotFound
	case "INVALID_ARGUMENT":
		return fmt.Errorf("%w: %s", cartsync.ErrInvalidArgument, er.Error)
	case "STOCK_EXCEEDED":
		se := &cartsync.StockExceededError{}
		if er.Available != nil {
			se.Available = *er.Available
		}
		return se
	case "UNAUTHENTICATED":
		return cartsync.ErrUnauthenticated
	}

	switch {
	case status == http.StatusUnauthorized:
		return cartsync.ErrUnauthenticated
	case status == http.StatusNotFound:
		return cartsync.ErrNotFound
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", cartsync.ErrInvalidArgument, er.Error)
	default:
		return fmt.Errorf("%w: status %d %s", cartsync.ErrUnavailable, status, er.Error)
	}
}
