package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"storefront/internal/domain/cartview"
	"storefront/internal/domain/event"
	"storefront/internal/domain/model"
	"storefront/internal/domain/pricing"
	repo "storefront/internal/repository"

	"github.com/google/uuid"
)

// カート変更イベントの送信先
type CartEventPublisher interface {
	PublishCartChanged(ctx context.Context, ev event.CartChanged) error
}

// CartUsecase は /cart の業務ロジック（サーバー側の正）。
// 明細の変更は1Txの中で在庫を読み直してから1行だけ書く。
type CartUsecase struct {
	tx          repo.TransactionManager
	cartRepo    repo.CartRepository
	productRepo repo.ProductRepository
	events      CartEventPublisher
	log         *slog.Logger
	now         func() time.Time
}

func NewCartUsecase(
	tx repo.TransactionManager,
	cartRepo repo.CartRepository,
	productRepo repo.ProductRepository,
	events CartEventPublisher,
	log *slog.Logger,
) *CartUsecase {
	return &CartUsecase{
		tx:          tx,
		cartRepo:    cartRepo,
		productRepo: productRepo,
		events:      events,
		log:         log,
		now:         time.Now,
	}
}

// POST /cart/lines
type IncrementLineInput struct {
	ProductID string
	Delta     int64 // 0なら1
}

// PUT /cart/lines/:productID
type SetLineInput struct {
	Quantity int64
}

// カート取得（無ければ作って空を返す）
func (u *CartUsecase) GetCart(ctx context.Context, ownerID string) (cartview.CartView, error) {
	if ownerID == "" {
		return cartview.CartView{}, errUnauthenticated()
	}

	cart, err := u.cartRepo.GetOrCreateByOwner(ctx, ownerID)
	if err != nil {
		return cartview.CartView{}, errStorage(err)
	}
	return u.buildCartView(ctx, cart.ID)
}

// 数量を加算。在庫を超えるなら何も変えずにSTOCK_EXCEEDED。
func (u *CartUsecase) IncrementLine(ctx context.Context, ownerID string, in IncrementLineInput) (cartview.CartView, error) {
	if ownerID == "" {
		return cartview.CartView{}, errUnauthenticated()
	}
	productID := strings.TrimSpace(in.ProductID)
	if productID == "" {
		return cartview.CartView{}, errInvalid("invalid product_id")
	}
	delta := in.Delta
	if delta == 0 {
		delta = 1
	}
	if delta < 1 {
		return cartview.CartView{}, errInvalid("invalid delta")
	}

	var cartID int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := lockActiveProduct(ctx, r, productID)
		if err != nil {
			return err
		}

		cart, err := r.Carts().GetOrCreateByOwner(ctx, ownerID)
		if err != nil {
			return errStorage(err)
		}

		ok, err := r.Carts().IncrementLine(ctx, cart.ID, productID, delta, p.Stock)
		if err != nil {
			return errStorage(err)
		}
		if !ok {
			return errStockExceeded(p.Stock)
		}

		cartID = cart.ID
		return nil
	})
	if err != nil {
		return cartview.CartView{}, errStorage(err)
	}

	return u.afterMutation(ctx, ownerID, cartID, event.CartOpIncrement, productID)
}

// 数量を上書き
func (u *CartUsecase) SetLine(ctx context.Context, ownerID string, productID string, in SetLineInput) (cartview.CartView, error) {
	if ownerID == "" {
		return cartview.CartView{}, errUnauthenticated()
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return cartview.CartView{}, errInvalid("invalid product_id")
	}
	if in.Quantity < 1 {
		return cartview.CartView{}, errInvalid("invalid quantity")
	}

	var cartID int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := lockActiveProduct(ctx, r, productID)
		if err != nil {
			return err
		}
		if in.Quantity > p.Stock {
			return errStockExceeded(p.Stock)
		}

		cart, err := r.Carts().GetOrCreateByOwner(ctx, ownerID)
		if err != nil {
			return errStorage(err)
		}

		if err := r.Carts().SetLine(ctx, cart.ID, productID, in.Quantity); err != nil {
			return errStorage(err)
		}

		cartID = cart.ID
		return nil
	})
	if err != nil {
		return cartview.CartView{}, errStorage(err)
	}

	return u.afterMutation(ctx, ownerID, cartID, event.CartOpSet, productID)
}

// 明細削除。無い商品でもエラーにしない。
func (u *CartUsecase) RemoveLine(ctx context.Context, ownerID string, productID string) (cartview.CartView, error) {
	if ownerID == "" {
		return cartview.CartView{}, errUnauthenticated()
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return cartview.CartView{}, errInvalid("invalid product_id")
	}

	cart, err := u.cartRepo.GetOrCreateByOwner(ctx, ownerID)
	if err != nil {
		return cartview.CartView{}, errStorage(err)
	}
	if err := u.cartRepo.DeleteLine(ctx, cart.ID, productID); err != nil {
		return cartview.CartView{}, errStorage(err)
	}

	return u.afterMutation(ctx, ownerID, cart.ID, event.CartOpRemove, productID)
}

// 全明細削除（注文確定後にも呼ばれる）
func (u *CartUsecase) Clear(ctx context.Context, ownerID string) (cartview.CartView, error) {
	if ownerID == "" {
		return cartview.CartView{}, errUnauthenticated()
	}

	cart, err := u.cartRepo.GetOrCreateByOwner(ctx, ownerID)
	if err != nil {
		return cartview.CartView{}, errStorage(err)
	}
	if err := u.cartRepo.Clear(ctx, cart.ID); err != nil {
		return cartview.CartView{}, errStorage(err)
	}

	return u.afterMutation(ctx, ownerID, cart.ID, event.CartOpClear, "")
}

func lockActiveProduct(ctx context.Context, r repo.TxRepos, productID string) (model.Product, error) {
	p, err := r.Products().LockForShare(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, errProductGone()
	}
	if err != nil {
		return model.Product{}, errStorage(err)
	}
	if !p.IsActive {
		return model.Product{}, errProductGone()
	}
	return p, nil
}

// 最新のCartViewを作ってイベントを送る
func (u *CartUsecase) afterMutation(ctx context.Context, ownerID string, cartID int64, op event.CartOp, productID string) (cartview.CartView, error) {
	view, err := u.buildCartView(ctx, cartID)
	if err != nil {
		return cartview.CartView{}, err
	}

	if u.events != nil {
		ev := event.CartChanged{
			EventID:   uuid.NewString(),
			OwnerID:   ownerID,
			Op:        op,
			ProductID: productID,
			ItemCount: view.ItemCount,
			Subtotal:  pricing.Format(view.Subtotal),
			At:        u.now().UTC(),
		}
		if productID != "" {
			ev.Quantity = view.Quantity(productID)
		}
		// 送信失敗でリクエストは失敗させない
		if err := u.events.PublishCartChanged(ctx, ev); err != nil {
			u.log.WarnContext(ctx, "publish cart event failed", "owner_id", ownerID, "op", op, "err", err)
		}
	}

	return view, nil
}

// cartIDの明細と商品をまとめてCartViewを作る。
// 非公開・削除済みの商品の行は返さない。
func (u *CartUsecase) buildCartView(ctx context.Context, cartID int64) (cartview.CartView, error) {
	lines, err := u.cartRepo.ListLines(ctx, cartID)
	if err != nil {
		return cartview.CartView{}, errStorage(err)
	}
	if len(lines) == 0 {
		return cartview.Empty(), nil
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}

	products, err := u.productRepo.FindByIDs(ctx, ids)
	if err != nil {
		return cartview.CartView{}, errStorage(err)
	}
	byID := make(map[string]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	in := make([]cartview.Line, 0, len(lines))
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok || !p.IsActive {
			continue
		}
		in = append(in, cartview.Line{
			ProductID:       l.ProductID,
			Quantity:        l.Quantity,
			UnitPrice:       p.UnitPrice,
			DiscountPercent: p.DiscountPercent,
			StockAvailable:  p.Stock,
			Name:            p.Name,
			ImageRef:        p.ImageRef,
			CategoryName:    p.CategoryName,
		})
	}

	return cartview.Build(in), nil
}
