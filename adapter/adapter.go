// Package adapter stores Waterline style collections in RethinkDB.
//
// Every query borrows a connection from a bounded pool for the duration of
// one ReQL term, results are read completely before the connection goes
// back. Collections are kept in a registry keyed by their identity; the
// primary key and the secondary indices derived from a definition decide
// how lookups are translated.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jasonkayzk/waterline-rethinkdb/channel_pool/pool"
	"github.com/jasonkayzk/waterline-rethinkdb/config"
	cmap "github.com/orcaman/concurrent-map"
	log "github.com/sirupsen/logrus"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

type Adapter struct {
	mu  sync.RWMutex
	cfg *config.Config

	// serializes Configure, the pool swap can take as long as a drain
	reconfigure sync.Mutex

	factory     Factory
	holder      *pool.Holder
	collections cmap.ConcurrentMap
	log         log.FieldLogger
}

// New connects to the database described by cfg, the defaults if nil.
func New(cfg *config.Config) (*Adapter, error) {
	return NewWithFactory(cfg, Dial)
}

func NewWithFactory(cfg *config.Config, factory Factory) (*Adapter, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, errors.New("nil connection factory")
	}

	a := &Adapter{
		cfg:         cfg,
		factory:     factory,
		collections: cmap.New(),
		log:         log.WithField("adapter", "rethinkdb"),
	}
	holder, err := pool.NewHolder(a.poolOptions(cfg))
	if err != nil {
		return nil, err
	}
	a.holder = holder
	a.log.WithFields(log.Fields{"address": cfg.Address(), "db": cfg.DB}).Info("adapter ready")
	return a, nil
}

// Config returns a copy of the settings in use.
func (a *Adapter) Config() config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return *a.cfg
}

// Configure applies options on top of the current settings, or on top of
// the defaults when strict is set, and swaps the connection pool. Queries
// already running finish on the old pool.
func (a *Adapter) Configure(ctx context.Context, options map[string]interface{}, strict bool) error {
	current := a.Config()
	cfg, err := config.Configure(&current, options, strict)
	if err != nil {
		return err
	}
	return a.Apply(ctx, cfg)
}

// Apply swaps the connection pool for one built from cfg.
func (a *Adapter) Apply(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.reconfigure.Lock()
	defer a.reconfigure.Unlock()

	np, err := a.holder.Reconfigure(ctx, a.poolOptions(cfg))
	if np != nil {
		a.mu.Lock()
		a.cfg = cfg
		a.mu.Unlock()
		a.log.WithFields(np.Stats().Fields()).Info("pool reconfigured")
	}
	return err
}

// Teardown drains the pool and closes every connection.
func (a *Adapter) Teardown(ctx context.Context) error {
	a.reconfigure.Lock()
	defer a.reconfigure.Unlock()
	return a.holder.ShutDown(ctx)
}

// Stats of the current pool.
func (a *Adapter) Stats() pool.Stats {
	return a.holder.Pool().Stats()
}

// ConnectionRun runs an arbitrary term on a pooled connection and returns
// every row of the result.
func (a *Adapter) ConnectionRun(ctx context.Context, term r.Term) ([]interface{}, error) {
	var rows []interface{}
	if err := a.readAll(ctx, term, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (a *Adapter) run(ctx context.Context, fn func(exec r.QueryExecutor) error) error {
	_, err := a.holder.Run(ctx, func(ctx context.Context, conn interface{}) (interface{}, error) {
		exec, ok := conn.(r.QueryExecutor)
		if !ok {
			return nil, fmt.Errorf("unexpected connection type %T", conn)
		}
		return nil, fn(exec)
	})
	return err
}

// readAll decodes every row into dest, a pointer to a slice.
func (a *Adapter) readAll(ctx context.Context, term r.Term, dest interface{}) error {
	return a.run(ctx, func(exec r.QueryExecutor) error {
		cursor, err := term.Run(exec, r.RunOpts{Context: ctx})
		if err != nil {
			return err
		}
		return cursor.All(dest)
	})
}

// readOne decodes the single result of term. It reports false for an
// empty or null result.
func (a *Adapter) readOne(ctx context.Context, term r.Term, dest interface{}) (bool, error) {
	found := false
	err := a.run(ctx, func(exec r.QueryExecutor) error {
		cursor, err := term.Run(exec, r.RunOpts{Context: ctx})
		if err != nil {
			return err
		}
		defer cursor.Close()

		if cursor.IsNil() {
			return nil
		}
		if err := cursor.One(dest); err != nil {
			if errors.Is(err, r.ErrEmptyResult) {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (a *Adapter) write(ctx context.Context, term r.Term) (r.WriteResponse, error) {
	var resp r.WriteResponse
	err := a.run(ctx, func(exec r.QueryExecutor) error {
		var err error
		resp, err = term.RunWrite(exec, r.RunOpts{Context: ctx})
		return err
	})
	if err == nil && resp.Errors > 0 {
		err = fmt.Errorf("%w: %s", ErrWrite, resp.FirstError)
	}
	return resp, err
}

// exec runs term for its side effect.
func (a *Adapter) exec(ctx context.Context, term r.Term) error {
	return a.run(ctx, func(exec r.QueryExecutor) error {
		cursor, err := term.Run(exec, r.RunOpts{Context: ctx})
		if err != nil {
			return err
		}
		return cursor.Close()
	})
}
