package cartsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/domain/cartview"
)

type Options struct {
	// 同じ商品の連続操作をまとめる時間（0なら400ms、負ならまとめない）
	Debounce time.Duration
	// サーバー呼び出し1回のタイムアウト
	CallTimeout time.Duration
	// 一時的な失敗のリトライ回数（初回を除く。0なら3、負ならしない）
	Retries   int
	RetryBase time.Duration

	// 同期の失敗を受け取る（任意）
	OnError func(error)
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Debounce == 0 {
		o.Debounce = 400 * time.Millisecond
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 5 * time.Second
	}
	switch {
	case o.Retries == 0:
		o.Retries = 3
	case o.Retries < 0:
		o.Retries = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 200 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func DefaultOptions() Options {
	return Options{}.withDefaults()
}

type pending struct {
	op    op
	timer *time.Timer
}

// Syncer はCacheへの変更をサーバーへ届ける。
// 呼び出しは1つのworkerが順番に1本ずつ実行する。
type Syncer struct {
	api   CartAPI
	cache *Cache
	opts  Options
	log   *slog.Logger

	// サーバー呼び出しを直列にする（worker / Login）
	callMu sync.Mutex

	mu       sync.Mutex
	ident    *Identity
	gen      uint64 // ログイン・ログアウトで進む
	seq      uint64
	latest   map[string]uint64 // 商品ごとの最新の操作
	pending  map[string]*pending
	queue    []op
	inflight int
	waiters  []chan struct{}
	errs     []error
	closed   bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSyncer(api CartAPI, cache *Cache, opts Options) *Syncer {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Syncer{
		api:     api,
		cache:   cache,
		opts:    opts,
		log:     opts.Logger,
		latest:  map[string]uint64{},
		pending: map[string]*pending{},
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Syncer) Cache() *Cache { return s.cache }

func (s *Syncer) View() cartview.CartView { return s.cache.View() }

func (s *Syncer) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ident == nil {
		return Identity{}, false
	}
	return *s.ident, true
}

// 商品をdelta個追加（0なら1）。lineには商品のスナップショットを入れる。
func (s *Syncer) Add(line cartview.Line, delta int64) error {
	if delta == 0 {
		delta = 1
	}
	if delta < 0 || strings.TrimSpace(line.ProductID) == "" {
		return ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(line, delta)
	s.scheduleLocked(opIncrement, line.ProductID, delta)
	return nil
}

// 数量を上書き。0以下なら削除。
func (s *Syncer) Update(productID string, quantity int64) error {
	if quantity <= 0 {
		return s.Remove(productID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cache.Update(productID, quantity) {
		return ErrNotInCart
	}
	s.scheduleLocked(opSet, productID, quantity)
	return nil
}

// 削除。カートに無くてもサーバーには送る（冪等）。
func (s *Syncer) Remove(productID string) error {
	if strings.TrimSpace(productID) == "" {
		return ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(productID)
	s.scheduleLocked(opRemove, productID, 0)
	return nil
}

// 全削除。待っている操作は捨ててすぐ送る。
func (s *Syncer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.cache.Clear()
	if s.ident == nil || s.closed {
		return
	}

	s.inflight++
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
		s.finishLocked()
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	s.seq++
	o := op{kind: opClear, seq: s.seq, gen: s.gen, token: s.ident.Token, cleared: ids}
	for _, id := range ids {
		s.latest[id] = o.seq
		s.cache.MarkDirty(id)
	}
	s.enqueueLocked(o)
}

// ログイン。未ログイン時のカートを1行ずつサーバーへ加算し、
// 最後にサーバーのカートで置き換える。在庫超過などの行は報告して続ける。
// 一時的な失敗で送れなかった行は手元に残してdirtyにする。
// 別のオーナーでログイン中なら先にログアウトする。同じオーナーならトークンの差し替えだけ。
func (s *Syncer) Login(ctx context.Context, ident Identity) (MergeReport, error) {
	report := MergeReport{Failed: map[string]error{}}
	if ident.Token == "" {
		return report, ErrUnauthenticated
	}

	s.mu.Lock()
	if s.ident != nil && s.ident.OwnerID == ident.OwnerID {
		s.retokenLocked(ident)
		gen := s.gen
		s.mu.Unlock()
		return report, s.relogin(ctx, ident, gen)
	}
	if s.ident != nil {
		s.resetLocked()
	}
	lines := s.cache.Lines()
	s.ident = &ident
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.callMu.Lock()
	defer s.callMu.Unlock()

	var unmerged []cartview.Line
	var errs []error
	for _, l := range lines {
		_, err := s.callWithRetry(ctx, op{kind: opIncrement, productID: l.ProductID, qty: l.Quantity, gen: gen, token: ident.Token})
		if err == nil {
			report.Merged = append(report.Merged, l.ProductID)
			continue
		}

		report.Failed[l.ProductID] = err
		s.log.Warn("merge cart line failed", "owner_id", ident.OwnerID, "product_id", l.ProductID, "err", err)
		if errors.Is(err, ErrUnauthenticated) {
			s.abandonLogin(gen)
			return report, err
		}
		if !isPermanent(err) {
			unmerged = append(unmerged, l)
			errs = append(errs, &RetryableError{ProductID: l.ProductID, Err: err})
		}
	}

	v, err := s.callWithRetry(ctx, op{kind: opRefresh, gen: gen, token: ident.Token})
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			s.abandonLogin(gen)
			return report, err
		}
		// 手元のカートはそのまま。送れなかった行は再同期で送る。
		s.mu.Lock()
		if s.gen == gen {
			for _, l := range unmerged {
				s.cache.MarkDirty(l.ProductID)
			}
		}
		s.mu.Unlock()
		if !isPermanent(err) {
			err = &RetryableError{Err: err}
		}
		return report, errors.Join(append(errs, err)...)
	}

	s.mu.Lock()
	if s.gen == gen && !s.closed {
		s.cache.Replace(v)
		// 送れなかった分はサーバーの数量に足した値で残す
		for _, l := range unmerged {
			base := l
			if fresh, ok := s.cache.Line(l.ProductID); ok {
				base = fresh
			}
			s.cache.Add(base, l.Quantity)
			s.cache.MarkDirty(l.ProductID)
		}
	}
	s.mu.Unlock()
	return report, errors.Join(errs...)
}

// 同じオーナーの再ログイン。dirtyな行を残したままサーバーの値を取り直す。
func (s *Syncer) relogin(ctx context.Context, ident Identity, gen uint64) error {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	v, err := s.callWithRetry(ctx, op{kind: opRefresh, gen: gen, token: ident.Token})
	if err != nil {
		if isPermanent(err) {
			return err
		}
		return &RetryableError{Err: err}
	}
	if s.current(gen) {
		s.cache.Refresh(v)
	}
	return nil
}

// 待っている操作も新しいトークンで送る
func (s *Syncer) retokenLocked(ident Identity) {
	s.ident = &ident
	for _, p := range s.pending {
		p.op.token = ident.Token
	}
	for i := range s.queue {
		s.queue[i].token = ident.Token
	}
}

// 認証に失敗したログインを取り消す（キャッシュは残す）
func (s *Syncer) abandonLogin(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.ident = nil
		s.gen++
	}
}

// 保存済みのセッションで再開する（マージしない）
func (s *Syncer) Resume(ident Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ident = &ident
	s.gen++
}

// ログアウト。待っている操作を捨ててキャッシュを空にする。
func (s *Syncer) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Syncer) resetLocked() {
	s.ident = nil
	s.gen++
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
		s.finishLocked()
	}
	for range s.queue {
		s.finishLocked()
	}
	s.queue = nil
	s.latest = map[string]uint64{}
	s.cache.Reset()
}

// 待っている操作をすぐ送り、終わるまで待つ。その間の失敗をまとめて返す。
func (s *Syncer) Flush(ctx context.Context) error {
	s.mu.Lock()
	ids := sortedKeys(s.pending)
	for _, id := range ids {
		p := s.pending[id]
		p.timer.Stop()
		delete(s.pending, id)
		s.enqueueLocked(p.op)
	}
	if s.inflight == 0 {
		errs := s.takeErrsLocked()
		s.mu.Unlock()
		return errors.Join(errs...)
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	errs := s.takeErrsLocked()
	s.mu.Unlock()
	return errors.Join(errs...)
}

// 未確認の行を送り直す。無ければサーバーのカートを取り直す。
func (s *Syncer) Resync(ctx context.Context) error {
	s.mu.Lock()
	if s.ident == nil {
		s.mu.Unlock()
		return ErrUnauthenticated
	}

	queued := 0
	for _, id := range s.cache.Dirty() {
		if _, ok := s.pending[id]; ok {
			continue
		}
		s.seq++
		o := op{kind: opRemove, productID: id, seq: s.seq, gen: s.gen, token: s.ident.Token}
		if l, ok := s.cache.Line(id); ok {
			o.kind = opSet
			o.qty = l.Quantity
		}
		s.latest[id] = o.seq
		s.inflight++
		s.enqueueLocked(o)
		queued++
	}
	if queued == 0 {
		s.inflight++
		s.enqueueLocked(op{kind: opRefresh, gen: s.gen, token: s.ident.Token})
	}
	s.mu.Unlock()

	return s.Flush(ctx)
}

// workerを止める
func (s *Syncer) Close() {
	s.mu.Lock()
	s.closed = true
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	<-s.done

	s.mu.Lock()
	s.inflight = 0
	s.releaseWaitersLocked()
	s.mu.Unlock()
}

func (s *Syncer) scheduleLocked(kind opKind, productID string, qty int64) {
	if s.ident == nil || s.closed {
		return
	}

	s.seq++
	o := op{kind: kind, productID: productID, qty: qty, seq: s.seq, gen: s.gen, token: s.ident.Token}
	s.latest[productID] = o.seq
	s.cache.MarkDirty(productID)

	if p, ok := s.pending[productID]; ok {
		p.op = coalesce(p.op, o)
		p.timer.Reset(s.opts.Debounce)
		return
	}

	s.inflight++
	if s.opts.Debounce < 0 {
		s.enqueueLocked(o)
		return
	}
	p := &pending{op: o}
	p.timer = time.AfterFunc(s.opts.Debounce, func() { s.fire(productID, p) })
	s.pending[productID] = p
}

func (s *Syncer) fire(productID string, p *pending) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Flush・Clear・Logoutで先に取り出されている
	if cur, ok := s.pending[productID]; !ok || cur != p {
		return
	}
	delete(s.pending, productID)
	s.enqueueLocked(p.op)
}

func (s *Syncer) enqueueLocked(o op) {
	s.queue = append(s.queue, o)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Syncer) finishLocked() {
	if s.inflight > 0 {
		s.inflight--
	}
	if s.inflight == 0 {
		s.releaseWaitersLocked()
	}
}

func (s *Syncer) releaseWaitersLocked() {
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = nil
}

func (s *Syncer) takeErrsLocked() []error {
	errs := s.errs
	s.errs = nil
	return errs
}

func (s *Syncer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && !s.closed
}

func (s *Syncer) run() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 || s.closed {
				s.mu.Unlock()
				break
			}
			o := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.execute(o)

			s.mu.Lock()
			s.finishLocked()
			s.mu.Unlock()
		}
	}
}

func (s *Syncer) execute(o op) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	if !s.current(o.gen) {
		return
	}

	v, err := s.callWithRetry(s.ctx, o)
	// ログアウトなどで持ち主が変わっていたら結果は捨てる
	if !s.current(o.gen) {
		return
	}
	if err == nil {
		s.settle(o)
		s.cache.Refresh(v)
		return
	}
	s.handleFailure(o, err)
}

// 最新の操作が確認されたらdirtyを外す
func (s *Syncer) settle(o op) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range o.productIDs() {
		if s.latest[id] == o.seq {
			s.cache.ClearDirty(id)
		}
	}
}

func (s *Syncer) handleFailure(o op, err error) {
	var se *StockExceededError
	switch {
	case errors.As(err, &se):
		if se.ProductID == "" {
			se.ProductID = o.productID
		}
		s.rollback(o)
		s.surface(err)

	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidArgument):
		s.rollback(o)
		s.surface(fmt.Errorf("%s: %w", o.productID, err))

	case errors.Is(err, ErrUnauthenticated):
		// キャッシュは残す（再ログインで送り直す）
		s.surface(err)

	default:
		// 取り直す。失敗した行はdirtyなので楽観値のまま残る。
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.CallTimeout)
		v, gerr := s.api.GetCart(ctx, o.token)
		cancel()
		if gerr == nil && s.current(o.gen) {
			s.cache.Refresh(v)
		}
		s.surface(&RetryableError{ProductID: o.productID, Err: err})
	}
}

// 新しい操作が来ていない商品だけ確認済みの値へ戻す
func (s *Syncer) rollback(o op) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range o.productIDs() {
		if s.latest[id] == o.seq {
			s.cache.Rollback(id)
		}
	}
}

func (s *Syncer) surface(err error) {
	s.log.Warn("cart sync failed", "err", err)

	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()

	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

func (s *Syncer) callWithRetry(ctx context.Context, o op) (cartview.CartView, error) {
	var err error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			if !s.sleep(ctx, s.opts.RetryBase<<(attempt-1)) {
				return cartview.CartView{}, err
			}
		}

		var v cartview.CartView
		v, err = s.call(ctx, o)
		if err == nil || isPermanent(err) {
			return v, err
		}
		s.log.Debug("cart sync call failed", "op", o.kind.String(), "product_id", o.productID, "attempt", attempt+1, "err", err)
	}
	return cartview.CartView{}, err
}

func (s *Syncer) call(ctx context.Context, o op) (cartview.CartView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	switch o.kind {
	case opIncrement:
		return s.api.IncrementLine(ctx, o.token, o.productID, o.qty)
	case opSet:
		return s.api.SetLine(ctx, o.token, o.productID, o.qty)
	case opRemove:
		return s.api.RemoveLine(ctx, o.token, o.productID)
	case opClear:
		return s.api.Clear(ctx, o.token)
	default:
		return s.api.GetCart(ctx, o.token)
	}
}

func (s *Syncer) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.ctx.Done():
		return false
	}
}
