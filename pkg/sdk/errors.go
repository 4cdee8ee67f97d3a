package occsearch

import "fmt"

// Sentinel errors the server's error codes map onto.
// Use errors.Is() to check.
var (
	ErrNotFound      = fmt.Errorf("occsearch: not found")
	ErrTooLarge      = fmt.Errorf("occsearch: query context too large")
	ErrInvalidQuery  = fmt.Errorf("occsearch: invalid query")
	ErrExportTooBig  = fmt.Errorf("occsearch: export exceeds the row limit")
	ErrQuotaExceeded = fmt.Errorf("occsearch: quota exceeded")
)

// APIError carries the HTTP status and the error body returned by
// the server. It unwraps to one of the package sentinels when the
// server's error code has a known mapping.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("occsearch: %s (%d %s)", e.Message, e.Status, e.Code)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "qid_not_found", "job_not_found":
		return ErrNotFound
	case "qid_too_large":
		return ErrTooLarge
	case "invalid_query", "bad_request":
		return ErrInvalidQuery
	case "export_too_big":
		return ErrExportTooBig
	case "quota_exceeded":
		return ErrQuotaExceeded
	default:
		return nil
	}
}
