package content

import "errors"

var (
	ErrMissingFields  = errors.New("userId, content and contentType are required")
	ErrBadContentType = errors.New("contentType must be either 'Summary' or 'Exam'")
)
