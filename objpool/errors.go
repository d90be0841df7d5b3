package objpool

import "errors"

// Sentinel errors returned by Pool operations. Unlike the other failure
// modes described by the pool's contract (an exhausted pool, a timed-out
// checkout) these represent misuse or an unrecoverable create failure
// rather than ordinary backpressure, so they are returned as errors
// instead of a bare nil item.
var (
	// ErrReleased is returned by CheckOut and CheckOutTimeout on a pool
	// that has already had Release or ReleaseAsync called on it.
	ErrReleased = errors.New("objpool: pool has been released")

	// ErrForeignItem is returned by CheckIn when the item did not
	// originate from this pool's checkout.
	ErrForeignItem = errors.New("objpool: item does not belong to this pool")

	// ErrCreateInvalid is returned when a newly created item fails
	// validation immediately after creation.
	ErrCreateInvalid = errors.New("objpool: newly created item failed validation")
)
