package pool

import "errors"

var (
	ErrUnknownConnection = errors.New("pool: unknown connection id")
	ErrPeerNotTracked    = errors.New("pool: peer not tracked")
)
