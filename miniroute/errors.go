package miniroute

import (
	"errors"
)

var (
	// ErrInvalidParameter indicates an invalid destination, or an empty
	// header.
	ErrInvalidParameter = errors.New("miniroute: invalid parameter")

	// ErrNoRoute indicates route discovery exhausted its retries.
	ErrNoRoute = errors.New("miniroute: no route to destination")
)
