package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/jasonkayzk/waterline-rethinkdb/channel_pool/errs"
)

// Holder keeps the pool new queries go to. Reconfigure swaps it for a
// freshly built one before the old pool is retired.
type Holder struct {
	mu   sync.RWMutex
	pool Pool
}

func NewHolder(options *Options) (*Holder, error) {
	p, err := NewChannelPool(options)
	if err != nil {
		return nil, err
	}
	return &Holder{pool: p}, nil
}

func (h *Holder) Pool() Pool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pool
}

// Run runs the query on the current pool. When that pool was retired by a
// concurrent Reconfigure before the query got a connection, the query goes
// to the new pool instead.
func (h *Holder) Run(ctx context.Context, query Query) (interface{}, error) {
	p := h.Pool()
	if p == nil {
		return nil, errs.NewDefaultClosedErr()
	}
	res, err := p.Run(ctx, query)
	if err != nil && acquireClosed(err) {
		if cur := h.Pool(); cur != nil && cur != p {
			return cur.Run(ctx, query)
		}
	}
	return res, err
}

// Reconfigure builds a pool from options, makes it the current one and
// then drains and destroys the previous pool. The new pool is returned
// even when retiring the old one failed.
func (h *Holder) Reconfigure(ctx context.Context, options *Options) (Pool, error) {
	np, err := NewChannelPool(options)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	old := h.pool
	h.pool = np
	h.mu.Unlock()

	if old != nil {
		if err := old.ShutDown(ctx); err != nil {
			return np, err
		}
	}
	return np, nil
}

func (h *Holder) ShutDown(ctx context.Context) error {
	p := h.Pool()
	if p == nil {
		return errors.New("no pool")
	}
	return p.ShutDown(ctx)
}

// acquireClosed reports a ClosedErr raised before the query ran.
func acquireClosed(err error) bool {
	return errs.IsClosedErr(err) && !errs.IsQueryErr(err) && !errs.IsTransportErr(err)
}
