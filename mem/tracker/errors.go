package tracker

import "errors"

var (
	// ErrOutOfRange indicates a candidate range not contained in its
	// governing range (total for regions, the MMIO window for devices),
	// or an empty range.
	ErrOutOfRange = errors.New("tracker: range outside tracked region")

	// ErrOverlaps indicates a candidate range intersecting an already
	// tracked region.
	ErrOverlaps = errors.New("tracker: range overlaps existing region")

	// ErrFull indicates a catalog at its fixed capacity.
	ErrFull = errors.New("tracker: region catalog full")

	// ErrDifferentBaseAddress indicates a shrink target whose base does
	// not match the current total range.
	ErrDifferentBaseAddress = errors.New("tracker: shrink must keep the base address")

	// ErrSizeTooLarge indicates a shrink target extending past the
	// current total range.
	ErrSizeTooLarge = errors.New("tracker: shrink target larger than tracked range")

	// ErrSizeTooSmall indicates a shrink target that would exclude an
	// already tracked region.
	ErrSizeTooSmall = errors.New("tracker: shrink target excludes tracked regions")

	// ErrFailedToMap indicates the underlying page-table map operation
	// failed.
	ErrFailedToMap = errors.New("tracker: page-table mapping failed")

	// ErrFailedToUnmap indicates the underlying guard-unmap walk failed.
	ErrFailedToUnmap = errors.New("tracker: MMIO guard unmapping failed")

	// ErrInvalidPte indicates a fault handler found an entry not in the
	// expected state. This is a logic error upstream; callers should
	// treat it as near-fatal.
	ErrInvalidPte = errors.New("tracker: page-table entry in unexpected state")

	// ErrSetPteDirtyFailed indicates the software dirty-marking walk failed.
	ErrSetPteDirtyFailed = errors.New("tracker: failed to mark entry dirty")

	// ErrFlushRegionFailed indicates the teardown flush walk failed.
	ErrFlushRegionFailed = errors.New("tracker: failed to flush dirty region")

	// ErrSharedPoolSetFailure indicates the shared pool was already
	// initialized.
	ErrSharedPoolSetFailure = errors.New("tracker: shared pool already set")

	// ErrSharedMemorySetFailure indicates the memory sharer was already
	// initialized.
	ErrSharedMemorySetFailure = errors.New("tracker: memory sharer already set")
)
