package usecase

import (
	"errors"
	"fmt"
	"net/http"

	repo "storefront/internal/repository"
)

// エラーコード（レスポンスのcode）
const (
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeStockExceeded   = "STOCK_EXCEEDED"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

type HTTPError struct {
	Status  int
	Code    string
	Message string

	// STOCK_EXCEEDEDのときだけ。いま入れられる最大数。
	Available *int64
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func NewHTTPError(status int, code string, message string) error {
	return &HTTPError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

func errUnauthenticated() error {
	return NewHTTPError(http.StatusUnauthorized, CodeUnauthenticated, "unauthorized")
}

func errInvalid(msg string) error {
	return NewHTTPError(http.StatusBadRequest, CodeInvalidArgument, msg)
}

func errProductGone() error {
	return NewHTTPError(http.StatusNotFound, CodeNotFound, "this item is no longer available")
}

func errStockExceeded(available int64) error {
	return &HTTPError{
		Status:    http.StatusConflict,
		Code:      CodeStockExceeded,
		Message:   fmt.Sprintf("only %d left", available),
		Available: &available,
	}
}

// repositoryのエラーを503/500に振り分ける
func errStorage(err error) error {
	if he, ok := AsHTTPError(err); ok {
		return he
	}
	if errors.Is(err, repo.ErrUnavailable) {
		return NewHTTPError(http.StatusServiceUnavailable, CodeUnavailable, "storage unavailable")
	}
	return NewHTTPError(http.StatusInternalServerError, CodeInternal, "db error")
}
