package models

import "errors"

// Application-wide standard errors
var (
	// Request validation
	ErrEmptyUserID    = errors.New("user id must not be empty")
	ErrEmptyMessage   = errors.New("message must not be empty")
	ErrMessageTooLong = errors.New("message exceeds maximum length")

	// Session & Affinity
	ErrSessionNotFound  = errors.New("session context not found")
	ErrAffinityNotFound = errors.New("affinity record not found")

	// External calls
	ErrModelUnavailable      = errors.New("model service unavailable")
	ErrMalformedModelOutput  = errors.New("malformed model output")
	ErrImageGenerationFailed = errors.New("image generation failed")
	ErrMemoryWriteFailed     = errors.New("memory write failed")
)
