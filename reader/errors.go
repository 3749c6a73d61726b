package reader

import "errors"

var (
	// ErrFeedUnavailable is the terminal condition surfaced when the
	// reconnect loop exhausts its attempt budget. The transport stops
	// retrying once this is raised.
	ErrFeedUnavailable = errors.New("market feed unavailable: reconnect attempts exhausted")

	// ErrNotConnected is returned by operations that require an
	// established stream.
	ErrNotConnected = errors.New("feed not connected")
)
