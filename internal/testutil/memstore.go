// Package testutil はテスト用のインメモリ実装。
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

// MemStore はCartRepository / ProductRepository / TransactionManagerを
// まとめて満たすインメモリ実装。WithinTxは直列で、エラー時は明細を巻き戻す。
type MemStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products map[string]model.Product
	carts    map[string]model.Cart
	lines    map[int64]map[string]model.CartLine
	nextID   int64

	// nil以外なら全操作がこのエラーを返す
	Fail error
}

func NewMemStore() *MemStore {
	return &MemStore{
		products: map[string]model.Product{},
		carts:    map[string]model.Cart{},
		lines:    map[int64]map[string]model.CartLine{},
	}
}

func (s *MemStore) PutProduct(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *MemStore) SetStock(productID string, stock int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[productID]
	p.Stock = stock
	s.products[productID] = p
}

// 保存されている数量（無ければ0）
func (s *MemStore) LineQuantity(ownerID string, productID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[ownerID]
	if !ok {
		return 0
	}
	return s.lines[c.ID][productID].Quantity
}

func (s *MemStore) CartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carts)
}

// TxRepos
func (s *MemStore) Carts() repo.CartRepository       { return s }
func (s *MemStore) Products() repo.ProductRepository { return s }

func (s *MemStore) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.copyLines()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.lines = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemStore) copyLines() map[int64]map[string]model.CartLine {
	out := make(map[int64]map[string]model.CartLine, len(s.lines))
	for cartID, m := range s.lines {
		cp := make(map[string]model.CartLine, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out[cartID] = cp
	}
	return out
}

// ---- CartRepository ----

func (s *MemStore) GetOrCreateByOwner(ctx context.Context, ownerID string) (model.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return model.Cart{}, s.Fail
	}

	if c, ok := s.carts[ownerID]; ok {
		return c, nil
	}
	s.nextID++
	now := time.Now()
	c := model.Cart{ID: s.nextID, OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	s.carts[ownerID] = c
	s.lines[c.ID] = map[string]model.CartLine{}
	return c, nil
}

func (s *MemStore) FindByOwner(ctx context.Context, ownerID string) (model.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return model.Cart{}, s.Fail
	}

	c, ok := s.carts[ownerID]
	if !ok {
		return model.Cart{}, repo.ErrNotFound
	}
	return c, nil
}

func (s *MemStore) ListLines(ctx context.Context, cartID int64) ([]model.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return []model.CartLine{}, s.Fail
	}

	out := make([]model.CartLine, 0, len(s.lines[cartID]))
	for _, l := range s.lines[cartID] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *MemStore) IncrementLine(ctx context.Context, cartID int64, productID string, delta int64, ceiling int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}

	m := s.lineMap(cartID)
	l, ok := m[productID]
	if !ok {
		s.nextID++
		l = model.CartLine{ID: s.nextID, CartID: cartID, ProductID: productID, CreatedAt: time.Now()}
	}
	if l.Quantity+delta > ceiling {
		return false, nil
	}
	l.Quantity += delta
	l.UpdatedAt = time.Now()
	m[productID] = l
	return true, nil
}

func (s *MemStore) SetLine(ctx context.Context, cartID int64, productID string, qty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}

	m := s.lineMap(cartID)
	l, ok := m[productID]
	if !ok {
		s.nextID++
		l = model.CartLine{ID: s.nextID, CartID: cartID, ProductID: productID, CreatedAt: time.Now()}
	}
	l.Quantity = qty
	l.UpdatedAt = time.Now()
	m[productID] = l
	return nil
}

func (s *MemStore) DeleteLine(ctx context.Context, cartID int64, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	delete(s.lineMap(cartID), productID)
	return nil
}

func (s *MemStore) Clear(ctx context.Context, cartID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.lines[cartID] = map[string]model.CartLine{}
	return nil
}

func (s *MemStore) lineMap(cartID int64) map[string]model.CartLine {
	m, ok := s.lines[cartID]
	if !ok {
		m = map[string]model.CartLine{}
		s.lines[cartID] = m
	}
	return m
}

// ---- ProductRepository ----

func (s *MemStore) ListPublic(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return []model.Product{}, 0, s.Fail
	}

	var hits []model.Product
	for _, p := range s.products {
		if !p.IsActive {
			continue
		}
		if q.Q != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(q.Q)) {
			continue
		}
		if q.Category != "" && p.CategoryName != q.Category {
			continue
		}
		hits = append(hits, p)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })

	total := int64(len(hits))
	start := (q.Page - 1) * q.Limit
	if start > len(hits) {
		start = len(hits)
	}
	end := start + q.Limit
	if end > len(hits) {
		end = len(hits)
	}
	return hits[start:end], total, nil
}

func (s *MemStore) FindByID(ctx context.Context, id string) (model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return model.Product{}, s.Fail
	}

	p, ok := s.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (s *MemStore) FindByIDs(ctx context.Context, ids []string) ([]model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return []model.Product{}, s.Fail
	}

	out := make([]model.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemStore) LockForShare(ctx context.Context, id string) (model.Product, error) {
	return s.FindByID(ctx, id)
}
