package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/jasonkayzk/waterline-rethinkdb/channel_pool/errs"
	log "github.com/sirupsen/logrus"
)

const defaultReapInterval = time.Second

// Configs for pool
type Options struct {
	// The number of the connections when initiate the pool
	// Also, the least connection number of the pool
	InitialCap int

	// Max connection number in the pool
	MaxCap int

	// Max idle number in the pool, MaxCap if zero
	MaxIdle int

	// The method the build the connection
	Factory func(ctx context.Context) (interface{}, error)

	// The method to close the connection
	Close func(interface{}) error

	// Check connection health
	Ping func(interface{}) error

	// Reports whether a query error left the connection unusable.
	// DefaultIsFatal if nil.
	IsFatal func(error) bool

	// Max life time for idle connection
	IdleTimeout time.Duration

	// How often idle connections are reaped
	ReapInterval time.Duration

	// Max time to wait for a connection from a full pool,
	// else this will return a errs.PoolExhaustedErr.
	// Zero waits as long as the context allows.
	WaitTimeout time.Duration

	Logger log.FieldLogger
}

// the pool
type channelPool struct {
	mu           sync.Mutex
	idle         []*idleConn // oldest first
	lent         map[*idleConn]struct{}
	opening      int
	connReqs     *queue.Queue
	waiting      int
	factory      func(ctx context.Context) (interface{}, error)
	close        func(interface{}) error
	ping         func(interface{}) error
	isFatal      func(error) bool
	log          log.FieldLogger
	minCap       int
	maxCap       int
	maxIdle      int
	idleTimeout  time.Duration
	reapInterval time.Duration
	waitTimeOut  time.Duration

	draining      bool
	closed        bool
	drained       chan struct{}
	drainedClosed bool
	stopCtx       context.Context
	stop          context.CancelFunc
	wg            sync.WaitGroup

	created        int64
	destroyed      int64
	acquired       int64
	waited         int64
	timeouts       int64
	createFailures int64
}

// Build pool
func NewChannelPool(options *Options) (Pool, error) {
	if options == nil {
		return nil, errors.New("nil options")
	}
	maxIdle := options.MaxIdle
	if maxIdle == 0 {
		maxIdle = options.MaxCap
	}
	if !(options.MaxCap > 0 && options.InitialCap <= maxIdle && options.MaxCap >= maxIdle && options.InitialCap >= 0) {
		return nil, errors.New("invalid capacity settings")
	}
	if options.Factory == nil {
		return nil, errors.New("invalid factory func settings")
	}
	if options.Close == nil {
		return nil, errors.New("invalid close func settings")
	}

	cp := &channelPool{
		lent:         make(map[*idleConn]struct{}, options.MaxCap),
		connReqs:     newWaitQueue(options.MaxCap),
		factory:      options.Factory,
		close:        options.Close,
		ping:         options.Ping,
		isFatal:      options.IsFatal,
		log:          options.Logger,
		minCap:       options.InitialCap,
		maxCap:       options.MaxCap,
		maxIdle:      maxIdle,
		idleTimeout:  options.IdleTimeout,
		reapInterval: options.ReapInterval,
		waitTimeOut:  options.WaitTimeout,
		drained:      make(chan struct{}),
	}
	cp.stopCtx, cp.stop = context.WithCancel(context.Background())
	if cp.isFatal == nil {
		cp.isFatal = DefaultIsFatal
	}
	if cp.log == nil {
		cp.log = log.StandardLogger()
	}
	if cp.reapInterval <= 0 {
		cp.reapInterval = defaultReapInterval
	}

	for i := 0; i < options.InitialCap; i++ {
		conn, err := cp.factory(cp.stopCtx)
		if err != nil {
			if err := cp.DestroyAllNow(); err != nil {
				cp.log.WithError(err).Error("close connections after failed fill")
			}
			return nil, errs.NewConnectionCreateErr(fmt.Errorf("fill pool err: %w", err))
		}
		ic := newIdleConn(conn)
		ic.state = stateIdle
		cp.idle = append(cp.idle, ic)
		cp.created++
	}

	if cp.idleTimeout > 0 || cp.minCap > 0 {
		cp.wg.Add(1)
		go cp.reap()
	}

	return cp, nil
}

func (c *channelPool) Acquire(ctx context.Context) (*PoolConn, error) {
	return c.get(ctx, true)
}

func (c *channelPool) TryAcquire() (*PoolConn, error) {
	return c.get(context.Background(), false)
}

func (c *channelPool) get(ctx context.Context, wait bool) (*PoolConn, error) {
	for {
		pc, err := c.acquire(ctx, wait)
		if err != nil {
			return nil, err
		}
		// check health, if not health remove
		// if no ping method, pass
		if pc.fromIdle && c.ping != nil {
			if err := c.ping(pc.conn); err != nil {
				c.log.WithError(err).WithField("conn", pc.id).Debug("ping failed, dropping connection")
				_ = c.Destroy(pc)
				continue
			}
		}
		return pc, nil
	}
}

func (c *channelPool) acquire(ctx context.Context, wait bool) (*PoolConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return nil, errs.NewDefaultClosedErr()
	}

	var expired []*idleConn
	for len(c.idle) > 0 {
		n := len(c.idle) - 1
		ic := c.idle[n]
		c.idle[n] = nil
		c.idle = c.idle[:n]

		// ic is already out of the idle set, so totalLocked()+1 is the
		// count it has to be above the floor with
		if c.expired(ic, now) && c.totalLocked()+1 > c.minCap {
			c.retireLocked(ic)
			expired = append(expired, ic)
			continue
		}
		pc := c.lendLocked(ic, true)
		c.acquired++
		c.mu.Unlock()
		c.closeAll(expired)
		return pc, nil
	}

	if c.totalLocked() < c.maxCap {
		c.opening++
		c.mu.Unlock()
		c.closeAll(expired)
		return c.open(ctx, true)
	}

	if !wait {
		c.mu.Unlock()
		c.closeAll(expired)
		return nil, errs.NewMaxActiveConnectionErr("max active connection limit")
	}

	w := newWaiter(ctx)
	if err := c.enqueueLocked(w); err != nil {
		c.mu.Unlock()
		c.closeAll(expired)
		return nil, errs.NewDefaultClosedErr()
	}
	c.log.Debugf("wait for connection, active %v max %v waiting %v", len(c.lent), c.maxCap, c.waiting)
	c.mu.Unlock()
	c.closeAll(expired)

	var timeout <-chan time.Time
	if c.waitTimeOut > 0 {
		timer := time.NewTimer(c.waitTimeOut)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-w.ch:
		return res.conn, res.err
	case <-timeout:
		return c.abandon(w, errs.NewPoolExhaustedErr("get active connection timeout"))
	case <-ctx.Done():
		return c.abandon(w, ctx.Err())
	}
}

// open creates a connection for a slot already counted in c.opening.
func (c *channelPool) open(ctx context.Context, count bool) (*PoolConn, error) {
	conn, err := c.factory(ctx)

	c.mu.Lock()
	c.opening--
	if err != nil {
		c.createFailures++
		c.replenishLocked()
		c.checkDrainedLocked()
		c.mu.Unlock()
		c.log.WithError(err).Warn("create connection failed")
		return nil, errs.NewConnectionCreateErr(err)
	}
	if c.closed {
		// DestroyAllNow may have run while this connection was opening
		c.checkDrainedLocked()
		c.mu.Unlock()
		_ = c.closeRaw(conn)
		return nil, errs.NewDefaultClosedErr()
	}
	c.created++
	pc := c.lendLocked(newIdleConn(conn), false)
	if count {
		c.acquired++
	}
	c.mu.Unlock()

	c.log.WithField("conn", pc.id).Debug("opened connection")
	return pc, nil
}

func (c *channelPool) openFor(w *waiter) {
	pc, err := c.open(w.ctx, true)
	w.ch <- acquireResult{conn: pc, err: err}
}

// replenishLocked opens connections for queued acquirers while there is
// room under the cap, e.g. after a connection was destroyed.
func (c *channelPool) replenishLocked() {
	for c.waiting > 0 && !c.closed && c.totalLocked() < c.maxCap {
		w := c.nextWaiterLocked()
		if w == nil {
			return
		}
		w.served = true
		c.opening++
		go c.openFor(w)
	}
}

func (c *channelPool) Release(pc *PoolConn) error {
	if pc == nil {
		return errors.New("nil connection err")
	}
	if pc.pool != c {
		return errors.New("connection does not belong to this pool")
	}

	c.mu.Lock()
	if pc.done || pc.state != stateLent {
		done, state := pc.done, pc.state
		c.mu.Unlock()
		c.log.WithFields(log.Fields{"conn": pc.id, "returned": done, "state": state}).Warn("release of a connection that is not lent to the caller, ignored")
		return nil
	}
	pc.done = true
	ic := pc.idleConn
	ic.t = time.Now()

	if w := c.nextWaiterLocked(); w != nil {
		c.acquired++
		w.deliver(c.lendLocked(ic, false), nil)
		c.mu.Unlock()
		return nil
	}

	delete(c.lent, ic)
	if len(c.idle) >= c.maxIdle {
		// idle set is full, close directly
		c.retireLocked(ic)
		c.checkDrainedLocked()
		c.mu.Unlock()
		return c.closeRaw(ic.conn)
	}
	ic.state = stateIdle
	c.idle = append(c.idle, ic)
	c.checkDrainedLocked()
	c.mu.Unlock()
	return nil
}

func (c *channelPool) Destroy(pc *PoolConn) error {
	if pc == nil {
		return errors.New("nil connection err")
	}
	if pc.pool != c {
		return errors.New("connection does not belong to this pool")
	}

	c.mu.Lock()
	if pc.done || pc.state != stateLent {
		c.mu.Unlock()
		c.log.WithField("conn", pc.id).Warn("destroy of a connection that is not lent to the caller, ignored")
		return nil
	}
	pc.done = true
	c.retireLocked(pc.idleConn)
	c.replenishLocked()
	c.checkDrainedLocked()
	c.mu.Unlock()

	c.log.WithField("conn", pc.id).Debug("destroyed connection")
	return c.closeRaw(pc.conn)
}

func (c *channelPool) Run(ctx context.Context, query Query) (result interface{}, err error) {
	if query == nil {
		return nil, errors.New("nil query")
	}

	pc, err := c.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = errs.NewTransportErr(fmt.Errorf("query panic: %v", p))
		}

		switch {
		case err == nil:
			_ = c.Release(pc)
		case errs.IsTransportErr(err) || c.isFatal(err):
			c.log.WithError(err).WithField("conn", pc.id).Warn("fatal query error, destroying connection")
			_ = c.Destroy(pc)
			if !errs.IsTransportErr(err) {
				err = errs.NewTransportErr(err)
			}
		default:
			_ = c.Release(pc)
			if !errs.IsQueryErr(err) {
				err = errs.NewQueryErr(err)
			}
		}
	}()

	return query(ctx, pc.conn)
}

func (c *channelPool) Drain(ctx context.Context) error {
	c.mu.Lock()
	if !c.draining {
		c.draining = true
		c.log.WithFields(log.Fields{"active": len(c.lent), "waiting": c.waiting}).Debug("draining pool")
	}
	c.checkDrainedLocked()
	drained := c.drained
	c.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *channelPool) DestroyAllNow() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.draining = true

	victims := make([]*idleConn, 0, len(c.idle)+len(c.lent))
	victims = append(victims, c.idle...)
	c.idle = nil
	for ic := range c.lent {
		victims = append(victims, ic)
	}
	for _, ic := range victims {
		c.retireLocked(ic)
	}

	for _, item := range c.connReqs.Dispose() {
		if w := item.(*waiter); !w.cancelled {
			w.deliver(nil, errs.NewDefaultClosedErr())
		}
	}
	c.waiting = 0
	c.checkDrainedLocked()
	c.stop()
	c.mu.Unlock()

	c.wg.Wait()

	var firstErr error
	for _, ic := range victims {
		if err := c.closeRaw(ic.conn); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.log.WithField("closed", len(victims)).Debug("pool destroyed")
	return firstErr
}

func (c *channelPool) ShutDown(ctx context.Context) error {
	drainErr := c.Drain(ctx)
	if err := c.DestroyAllNow(); err != nil && drainErr == nil {
		return err
	}
	return drainErr
}

func (c *channelPool) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.idle)
}

func (c *channelPool) totalLocked() int {
	return len(c.idle) + len(c.lent) + c.opening
}

func (c *channelPool) expired(ic *idleConn, now time.Time) bool {
	return c.idleTimeout > 0 && now.Sub(ic.t) > c.idleTimeout
}

// lendLocked marks ic lent and returns a new lease for it.
func (c *channelPool) lendLocked(ic *idleConn, fromIdle bool) *PoolConn {
	ic.state = stateLent
	c.lent[ic] = struct{}{}
	return &PoolConn{idleConn: ic, pool: c, fromIdle: fromIdle}
}

func (c *channelPool) retireLocked(ic *idleConn) {
	ic.state = stateDestroyed
	delete(c.lent, ic)
	c.destroyed++
}

func (c *channelPool) checkDrainedLocked() {
	if c.draining && !c.drainedClosed && len(c.lent) == 0 && c.waiting == 0 && c.opening == 0 {
		c.drainedClosed = true
		close(c.drained)
	}
}

func (c *channelPool) closeRaw(conn interface{}) error {
	if err := c.close(conn); err != nil {
		c.log.WithError(err).Error("close connection failed")
		return err
	}
	return nil
}

func (c *channelPool) closeAll(conns []*idleConn) {
	for _, ic := range conns {
		_ = c.closeRaw(ic.conn)
	}
}
