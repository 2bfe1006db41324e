package shared

import "errors"

var (
	// ErrPoolAlreadySet indicates a second attempt to install the
	// process-wide pool.
	ErrPoolAlreadySet = errors.New("shared: pool already initialized")

	// ErrSharerAlreadySet indicates a second attempt to install the
	// process-wide sharer.
	ErrSharerAlreadySet = errors.New("shared: sharer already initialized")

	// ErrBadGranule indicates a sharer granule that is not a power of two.
	ErrBadGranule = errors.New("shared: granule must be a power of two")
)
