package transport

import "errors"

var (
	// ErrNoEndpoints indicates the provider returned no endpoints for a service.
	ErrNoEndpoints = errors.New("transport: no endpoints available")

	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("transport: closed")
)
