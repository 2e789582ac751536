package protocol

import "errors"

var (
	ErrInvalidRequest = errors.New("protocol: invalid request")
	ErrInvalidEvent   = errors.New("protocol: invalid event message")
)
