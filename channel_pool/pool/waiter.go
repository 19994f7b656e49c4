package pool

import (
	"context"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/jasonkayzk/waterline-rethinkdb/channel_pool/errs"
)

type acquireResult struct {
	conn *PoolConn
	err  error
}

// waiter is a queued acquire. served and cancelled are guarded by the
// pool lock; once served is set exactly one result is sent on ch.
type waiter struct {
	ctx       context.Context
	ch        chan acquireResult
	served    bool
	cancelled bool
}

func newWaiter(ctx context.Context) *waiter {
	return &waiter{
		ctx: ctx,
		ch:  make(chan acquireResult, 1),
	}
}

func (w *waiter) deliver(conn *PoolConn, err error) {
	w.served = true
	w.ch <- acquireResult{conn: conn, err: err}
}

// nextWaiterLocked pops the oldest waiter that has not given up.
func (c *channelPool) nextWaiterLocked() *waiter {
	for !c.connReqs.Empty() {
		items, err := c.connReqs.Get(1)
		if err != nil {
			return nil
		}
		w := items[0].(*waiter)
		if w.cancelled {
			continue
		}
		c.waiting--
		return w
	}
	return nil
}

func (c *channelPool) enqueueLocked(w *waiter) error {
	if err := c.connReqs.Put(w); err != nil {
		return err
	}
	c.waiting++
	c.waited++
	return nil
}

// abandon is called by a waiter whose deadline passed. If a connection
// was handed over in the meantime the waiter keeps it.
func (c *channelPool) abandon(w *waiter, cause error) (*PoolConn, error) {
	c.mu.Lock()
	if w.served {
		c.mu.Unlock()
		res := <-w.ch
		return res.conn, res.err
	}
	w.cancelled = true
	c.waiting--
	if errs.IsPoolExhaustedErr(cause) {
		c.timeouts++
	}
	c.checkDrainedLocked()
	c.mu.Unlock()
	return nil, cause
}

func newWaitQueue(hint int) *queue.Queue {
	return queue.New(int64(hint))
}
