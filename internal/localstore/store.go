// Package localstore はcartctlのローカル保存（SQLite）。
// 未ログイン時のカートとログインセッションを持つ。
package localstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"storefront/internal/cartsync"
	"storefront/internal/domain/cartview"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ cartsync.Persister = (*Store)(nil)

// pathのDBを開く（無ければ作る）
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect local store: %w", err)
	}

	// SQLiteは書き込み1本
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) LoadCart(ctx context.Context) (cartsync.Snapshot, error) {
	lines, err := s.loadLines(ctx)
	if err != nil {
		return cartsync.Snapshot{}, err
	}
	dirty, err := s.loadDirty(ctx)
	if err != nil {
		return cartsync.Snapshot{}, err
	}
	return cartsync.Snapshot{Lines: lines, Dirty: dirty}, nil
}

func (s *Store) loadLines(ctx context.Context) ([]cartview.Line, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price, discount_percent, stock_available, name, image_ref, category_name
		FROM cart_lines ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	defer rows.Close()

	var out []cartview.Line
	for rows.Next() {
		var (
			l               cartview.Line
			price, discount string
		)
		if err := rows.Scan(&l.ProductID, &l.Quantity, &price, &discount, &l.StockAvailable, &l.Name, &l.ImageRef, &l.CategoryName); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("cart line %s unit_price: %w", l.ProductID, err)
		}
		if l.DiscountPercent, err = decimal.NewFromString(discount); err != nil {
			return nil, fmt.Errorf("cart line %s discount_percent: %w", l.ProductID, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) loadDirty(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT product_id FROM dirty_lines ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("load dirty lines: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dirty line: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// 明細と未確認の商品を丸ごと書き換える
func (s *Store) SaveCart(ctx context.Context, snap cartsync.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines`); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dirty_lines`); err != nil {
		return fmt.Errorf("clear dirty lines: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cart_lines (product_id, quantity, unit_price, discount_percent, stock_available, name, image_ref, category_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, l := range snap.Lines {
		if l.Quantity < 1 {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			l.ProductID, l.Quantity, l.UnitPrice.String(), l.DiscountPercent.String(),
			l.StockAvailable, l.Name, l.ImageRef, l.CategoryName,
		); err != nil {
			return fmt.Errorf("insert %s: %w", l.ProductID, err)
		}
	}

	for _, id := range snap.Dirty {
		if _, err := tx.ExecContext(ctx, `INSERT INTO dirty_lines (product_id) VALUES (?)`, id); err != nil {
			return fmt.Errorf("insert dirty %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// 保存済みのログイン。無ければok=false。
func (s *Store) LoadSession(ctx context.Context) (cartsync.Identity, bool, error) {
	var ident cartsync.Identity
	err := s.db.QueryRowContext(ctx, `SELECT owner_id, token FROM session WHERE id = 1`).Scan(&ident.OwnerID, &ident.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return cartsync.Identity{}, false, nil
	}
	if err != nil {
		return cartsync.Identity{}, false, fmt.Errorf("load session: %w", err)
	}
	return ident, true, nil
}

func (s *Store) SaveSession(ctx context.Context, ident cartsync.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, owner_id, token, saved_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET owner_id = excluded.owner_id, token = excluded.token, saved_at = excluded.saved_at`,
		ident.OwnerID, ident.Token, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// 未ログイン時のオーナーID（端末ごと、初回に発行）
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT device_id FROM device WHERE id = 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("load device id: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO device (id, device_id) VALUES (1, ?)`, id); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return id, nil
}
