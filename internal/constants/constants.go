// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Source listing constants
const (
	// DefaultPageSize is the default number of items to fetch per API page
	DefaultPageSize = 100

	// MaxSourceImageSize is the largest photo a source downloads (64MB)
	MaxSourceImageSize = 64 << 20
)

// Matching constants
const (
	// DefaultMatchLimit is the default number of results returned by approximate search
	DefaultMatchLimit = 50
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) for image processing
	MaxImageSize = 1600
)
