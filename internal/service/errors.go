package service

import (
	"errors"

	"gorm.io/gorm"
)

// Error taxonomy surfaced to the transport layer. Handlers translate these
// into stable error payloads; anything else is logged and returned as a
// generic internal failure.
var (
	ErrNotAuthorized   = errors.New("not authorized")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
