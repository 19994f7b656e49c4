package errs

import "errors"

/*
	A error type for a query that ran and failed

	The connection is still healthy and goes back to the pool
*/
type QueryErr struct {
	cause error
}

func (e QueryErr) Error() string {
	return "query err: " + e.cause.Error()
}

func (e QueryErr) Unwrap() error {
	return e.cause
}

func NewQueryErr(cause error) QueryErr {
	return QueryErr{
		cause: cause,
	}
}

func IsQueryErr(e error) bool {
	var target QueryErr
	return errors.As(e, &target)
}
