package cartsync

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"storefront/internal/domain/cartview"
)

// 保存する中身。Dirtyはまだサーバーに確認されていない商品ID。
type Snapshot struct {
	Lines []cartview.Line
	Dirty []string
}

// キャッシュの保存先（プロセスをまたいでカートを残す）
type Persister interface {
	LoadCart(ctx context.Context) (Snapshot, error)
	SaveCart(ctx context.Context, snap Snapshot) error
}

// Cache はカートのローカルコピー。変更はサーバーの確認前に反映する。
// confirmedはサーバーが最後に返した値で、巻き戻しに使う。
// dirtyはまだサーバーに確認されていない商品。
type Cache struct {
	mu        sync.Mutex
	lines     map[string]cartview.Line
	confirmed map[string]cartview.Line
	dirty     map[string]bool

	store Persister
	log   *slog.Logger
}

func NewCache(store Persister, log *slog.Logger) *Cache {
	return &Cache{
		lines:     map[string]cartview.Line{},
		confirmed: map[string]cartview.Line{},
		dirty:     map[string]bool{},
		store:     store,
		log:       log,
	}
}

// 保存済みのカートを読み込む。dirtyでない行は確認済みとして扱う。
func (c *Cache) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.LoadCart(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = map[string]cartview.Line{}
	c.confirmed = map[string]cartview.Line{}
	c.dirty = map[string]bool{}
	for _, id := range snap.Dirty {
		c.dirty[id] = true
	}
	for _, l := range snap.Lines {
		if l.Quantity <= 0 {
			continue
		}
		c.lines[l.ProductID] = l
		if !c.dirty[l.ProductID] {
			c.confirmed[l.ProductID] = l
		}
	}
	return nil
}

// absent→present(delta) / present(q)→present(q+delta)。新しい数量を返す。
func (c *Cache) Add(line cartview.Line, delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.lines[line.ProductID]; ok {
		line.Quantity = cur.Quantity + delta
	} else {
		line.Quantity = delta
	}
	c.lines[line.ProductID] = line
	c.saveLocked()
	return line.Quantity
}

// present→present。0以下ならabsent。無い商品ならfalse。
func (c *Cache) Update(productID string, quantity int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.lines[productID]
	if !ok {
		return false
	}
	if quantity <= 0 {
		delete(c.lines, productID)
	} else {
		cur.Quantity = quantity
		c.lines[productID] = cur
	}
	c.saveLocked()
	return true
}

func (c *Cache) Remove(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lines[productID]; !ok {
		return false
	}
	delete(c.lines, productID)
	c.saveLocked()
	return true
}

// 全部absentにして、消した商品IDを返す
func (c *Cache) Clear() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := sortedKeys(c.lines)
	c.lines = map[string]cartview.Line{}
	c.saveLocked()
	return ids
}

// サーバーの値で丸ごと置き換える
func (c *Cache) Replace(v cartview.CartView) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dirty = map[string]bool{}
	c.applyLocked(v)
}

// サーバーの値で置き換えるが、未確認（dirty）の行は楽観値のまま残す
func (c *Cache) Refresh(v cartview.CartView) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.applyLocked(v)
}

func (c *Cache) applyLocked(v cartview.CartView) {
	prev := c.lines

	c.confirmed = map[string]cartview.Line{}
	c.lines = map[string]cartview.Line{}
	for _, l := range v.Inputs() {
		c.confirmed[l.ProductID] = l
		c.lines[l.ProductID] = l
	}

	for id := range c.dirty {
		opt, ok := prev[id]
		if !ok {
			delete(c.lines, id)
			continue
		}
		// 価格・在庫はサーバーの新しい値を使う
		if fresh, ok := c.confirmed[id]; ok {
			fresh.Quantity = opt.Quantity
			opt = fresh
		}
		c.lines[id] = opt
	}
	c.saveLocked()
}

// サーバーが最後に確認した数量へ戻す
func (c *Cache) Rollback(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.confirmed[productID]; ok {
		c.lines[productID] = l
	} else {
		delete(c.lines, productID)
	}
	delete(c.dirty, productID)
	c.saveLocked()
}

// ログアウト用。確認済みの値も含めて全部捨てる。
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = map[string]cartview.Line{}
	c.confirmed = map[string]cartview.Line{}
	c.dirty = map[string]bool{}
	c.saveLocked()
}

func (c *Cache) MarkDirty(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty[productID] {
		return
	}
	c.dirty[productID] = true
	c.saveLocked()
}

func (c *Cache) ClearDirty(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty[productID] {
		return
	}
	delete(c.dirty, productID)
	c.saveLocked()
}

func (c *Cache) Dirty() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.dirty)
}

func (c *Cache) View() cartview.CartView {
	return cartview.Build(c.Lines())
}

// product_id順
func (c *Cache) Lines() []cartview.Line {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]cartview.Line, 0, len(c.lines))
	for _, id := range sortedKeys(c.lines) {
		out = append(out, c.lines[id])
	}
	return out
}

func (c *Cache) Line(productID string) (cartview.Line, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[productID]
	return l, ok
}

func (c *Cache) Quantity(productID string) int64 {
	l, _ := c.Line(productID)
	return l.Quantity
}

func (c *Cache) saveLocked() {
	if c.store == nil {
		return
	}
	snap := Snapshot{
		Lines: make([]cartview.Line, 0, len(c.lines)),
		Dirty: sortedKeys(c.dirty),
	}
	for _, id := range sortedKeys(c.lines) {
		snap.Lines = append(snap.Lines, c.lines[id])
	}
	if err := c.store.SaveCart(context.Background(), snap); err != nil {
		c.log.Warn("save cart cache failed", "err", err)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
