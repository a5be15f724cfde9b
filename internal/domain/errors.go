package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrNoAddress    = errors.New("no wallet address")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("upstream unavailable")
	ErrSuperseded   = errors.New("request superseded")
	ErrFeedClosed   = errors.New("market feed closed")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrBadPayload   = errors.New("malformed upstream payload")
)
