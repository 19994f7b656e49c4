package pool

import "context"

// Query runs against the raw connection built by Options.Factory.
// The connection must not be used after the Query returns.
type Query func(ctx context.Context, conn interface{}) (interface{}, error)

// The pool interface
type Pool interface {
	// Acquire returns an idle connection, opens a new one while the pool is
	// below its cap, or waits in line for a connection to be released.
	Acquire(ctx context.Context) (*PoolConn, error)

	// TryAcquire is Acquire without waiting.
	TryAcquire() (*PoolConn, error)

	// Release puts the connection back into the pool instead of closing it.
	// Each acquire returns its own *PoolConn; releasing one twice or after
	// Destroy is logged and ignored.
	Release(*PoolConn) error

	// Destroy directly closes a lent connection.
	Destroy(*PoolConn) error

	// Run acquires a connection, runs the query on it and always gives the
	// connection back, to the idle set or, after a fatal error, to Destroy.
	Run(ctx context.Context, query Query) (interface{}, error)

	// Drain stops new acquires and waits for every lent connection and
	// every queued acquirer to be done.
	Drain(ctx context.Context) error

	// DestroyAllNow closes every connection, lent ones included, without
	// waiting. After DestroyAllNow() the pool is no longer usable.
	DestroyAllNow() error

	// ShutDown drains the pool and then destroys all its connections.
	ShutDown(ctx context.Context) error

	// Len returns the current number of idle connections of the pool.
	Len() int

	Stats() Stats
}
