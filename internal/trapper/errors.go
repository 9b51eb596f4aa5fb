package trapper

import "errors"

// Error categories returned by Trapper. Returned errors wrap both the
// category and the underlying cause, so errors.Is works for either.
var (
	// ErrConnection: the TCP connection could not be established.
	ErrConnection = errors.New("trapper connection failed")
	// ErrSend: a write failed on an established connection. The trapper is
	// closed afterwards.
	ErrSend = errors.New("trapper send failed")
	// ErrClosed: the trapper was stopped or closed by a failed send.
	ErrClosed = errors.New("trapper is closed")
)

// Result classifies err as ok, closed, connection_error, send_error or error.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrConnection):
		return "connection_error"
	case errors.Is(err, ErrSend):
		return "send_error"
	default:
		return "error"
	}
}
