package fingerprint

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is returned when listing or downloading source images fails.
	ErrSourceUnavailable = errors.New("fingerprint: source unavailable")
	// ErrExtraction marks a per-image extraction failure.
	ErrExtraction = errors.New("fingerprint: extraction failed")
	// ErrDimensionMismatch is returned when vector lengths differ.
	ErrDimensionMismatch = errors.New("fingerprint: dimension mismatch")
	// ErrCacheIncompatible is returned when cached vectors come from another extractor version.
	ErrCacheIncompatible = errors.New("fingerprint: cache incompatible")
	// ErrStoreWrite is reported when persisting a snapshot fails.
	ErrStoreWrite = errors.New("fingerprint: store write failed")
	// ErrStoreEmpty is returned by stores that hold no snapshot.
	ErrStoreEmpty = errors.New("fingerprint: store empty")
	// ErrInvalidTolerance is returned for tolerances outside the allowed range.
	ErrInvalidTolerance = errors.New("fingerprint: invalid tolerance")
	// ErrNoFace is returned when a query image has no detectable face.
	ErrNoFace = errors.New("fingerprint: no face detected")
	// ErrUnknownImage is returned for identities the committed snapshot does not hold.
	ErrUnknownImage = errors.New("fingerprint: unknown image")
	// ErrIndexDisabled is returned by approximate queries when no index is built.
	ErrIndexDisabled = errors.New("fingerprint: index disabled")
)

// DimensionMismatchError reports the expected and actual vector length.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("fingerprint: dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// Is makes errors.Is(err, ErrDimensionMismatch) hold.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}
