package errs

import "errors"

/*
	A error type for waiting too long on a full pool

	The acquirer was queued and the configured wait timeout elapsed
	before a connection was released to it
*/
type PoolExhaustedErr struct {
	msg string
}

func (e PoolExhaustedErr) Error() string {
	return e.msg
}

func NewPoolExhaustedErr(cause string) PoolExhaustedErr {
	return PoolExhaustedErr{
		msg: cause,
	}
}

func IsPoolExhaustedErr(e error) bool {
	var target PoolExhaustedErr
	return errors.As(e, &target)
}
