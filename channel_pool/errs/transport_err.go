package errs

import "errors"

/*
	A error type for a broken connection

	A query that fails with a TransportErr destroys the connection
	it ran on instead of returning it to the pool
*/
type TransportErr struct {
	cause error
}

func (e TransportErr) Error() string {
	return "transport err: " + e.cause.Error()
}

func (e TransportErr) Unwrap() error {
	return e.cause
}

func NewTransportErr(cause error) TransportErr {
	return TransportErr{
		cause: cause,
	}
}

func IsTransportErr(e error) bool {
	var target TransportErr
	return errors.As(e, &target)
}
