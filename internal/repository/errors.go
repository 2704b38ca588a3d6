package repository

import "errors"

var ErrNotFound = errors.New("not found")

// DBに繋がらない・タイムアウトなど。リトライしてよい。
var ErrUnavailable = errors.New("storage unavailable")
