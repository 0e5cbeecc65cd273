package domain

import "strings"

// MaxQueryLen bounds inbound query size.
const MaxQueryLen = 8192

// ValidateRequest checks an inbound request before planning. It returns a
// *ValidationError describing the first problem found.
func ValidateRequest(req Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return NewValidationError("query", req.Query, ErrQueryEmpty)
	}
	if len(req.Query) > MaxQueryLen {
		return NewValidationError("query", req.Query[:32]+"...", ErrQueryTooLong)
	}
	if strings.TrimSpace(req.CallerID) == "" {
		return NewValidationError("caller_id", req.CallerID, ErrCallerMissing)
	}
	return nil
}
