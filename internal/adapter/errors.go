package adapter

import "errors"

// ErrBlockNotFound indicates the requested height is beyond the node's
// current tip. Callers should treat this as a signal to stop advancing,
// not as a failure.
var ErrBlockNotFound = errors.New("adapter: block not found")

// ErrSubscribeUnsupported is returned by pull-mode adapters, whose Chain
// Monitor instead drives FetchBlock on a ticker.
var ErrSubscribeUnsupported = errors.New("adapter: subscribe not supported in pull mode")
