package constants

import "time"

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// File upload constants
const (
	// MaxUploadSize is the maximum selfie upload size in bytes (32MB)
	MaxUploadSize = 32 << 20
)

// Job constants
const (
	// JobRetention is how long finished cache jobs stay queryable
	JobRetention = time.Hour
)

// Photo preview constants
const (
	// MinThumbnailSize and MaxThumbnailSize bound the longer side of a preview in pixels
	MinThumbnailSize = 16
	MaxThumbnailSize = 2048
)
