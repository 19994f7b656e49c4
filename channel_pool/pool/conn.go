package pool

import (
	"time"

	"github.com/google/uuid"
)

type connState int

const (
	stateIdle connState = iota
	stateLent
	stateDestroyed
)

func (s connState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateLent:
		return "lent"
	default:
		return "destroyed"
	}
}

// idleConn is a connection owned by the pool, idle or lent.
// Its fields are only touched under the owning pool's lock.
type idleConn struct {
	id      uuid.UUID
	conn    interface{}
	created time.Time
	t       time.Time
	state   connState
}

func newIdleConn(conn interface{}) *idleConn {
	now := time.Now()
	return &idleConn{
		id:      uuid.New(),
		conn:    conn,
		created: now,
		t:       now,
		state:   stateLent,
	}
}

// PoolConn is one lease of a pooled connection. Every acquire hands out
// a new PoolConn; once it was released or destroyed further calls with it
// are ignored, even when the connection itself was lent again.
type PoolConn struct {
	*idleConn
	pool     *channelPool
	fromIdle bool
	done     bool
}

// ID identifies the connection in logs, it is the same for every lease.
func (pc *PoolConn) ID() uuid.UUID {
	return pc.id
}

// Raw returns the driver connection built by Options.Factory.
func (pc *PoolConn) Raw() interface{} {
	return pc.conn
}

func (pc *PoolConn) CreatedAt() time.Time {
	return pc.created
}

// LastUsedAt is the time the connection was last returned to the pool.
func (pc *PoolConn) LastUsedAt() time.Time {
	pc.pool.mu.Lock()
	defer pc.pool.mu.Unlock()
	return pc.t
}
