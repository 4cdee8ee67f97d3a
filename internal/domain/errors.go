package domain

import "errors"

// Sentinel errors shared across the service.
var (
	ErrQidNotFound   = errors.New("query context not found")
	ErrQidTooLarge   = errors.New("query context too large to cache")
	ErrJobNotFound   = errors.New("export job not found")
	ErrInvalidQuery  = errors.New("invalid query")
	ErrExportTooBig  = errors.New("export exceeds the row limit")
	ErrQuotaExceeded = errors.New("download quota exceeded for source")
)
