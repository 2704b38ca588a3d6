package cartsync

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("this item is no longer available")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnavailable     = errors.New("cart service unavailable")
	ErrNotInCart       = errors.New("product is not in cart")
)

// 在庫超過。Availableはいま入れられる最大数。
type StockExceededError struct {
	ProductID string
	Available int64
}

func (e *StockExceededError) Error() string {
	return fmt.Sprintf("only %d left", e.Available)
}

// リトライしても届かなかった。Resyncで再送できる。
type RetryableError struct {
	ProductID string
	Err       error
}

func (e *RetryableError) Error() string {
	if e.ProductID == "" {
		return fmt.Sprintf("cart not synced, retry later: %v", e.Err)
	}
	return fmt.Sprintf("cart line %s not synced, retry later: %v", e.ProductID, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// リトライしても結果が変わらないエラー
func isPermanent(err error) bool {
	var se *StockExceededError
	return errors.As(err, &se) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrUnauthenticated)
}
