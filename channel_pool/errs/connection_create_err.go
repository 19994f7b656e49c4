package errs

import "errors"

/*
	A error type for a failed connection factory call

	Only the acquirer that triggered the creation receives it,
	the pool accounting is left as it was before the attempt
*/
type ConnectionCreateErr struct {
	cause error
}

func (e ConnectionCreateErr) Error() string {
	return "create connection err: " + e.cause.Error()
}

func (e ConnectionCreateErr) Unwrap() error {
	return e.cause
}

func NewConnectionCreateErr(cause error) ConnectionCreateErr {
	return ConnectionCreateErr{
		cause: cause,
	}
}

func IsConnectionCreateErr(e error) bool {
	var target ConnectionCreateErr
	return errors.As(e, &target)
}
