package adapter

import (
	"context"
	"errors"

	"github.com/jasonkayzk/waterline-rethinkdb/channel_pool/pool"
	"github.com/jasonkayzk/waterline-rethinkdb/config"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

// Factory opens one connection to the database.
type Factory func(ctx context.Context, cfg *config.Config) (r.QueryExecutor, error)

// Dial opens a driver session limited to a single connection, pooling is
// left to the adapter.
func Dial(ctx context.Context, cfg *config.Config) (r.QueryExecutor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := r.Connect(r.ConnectOpts{
		Address:    cfg.Address(),
		Database:   cfg.DB,
		AuthKey:    cfg.AuthKey,
		Username:   cfg.Username,
		Password:   cfg.Password,
		Timeout:    cfg.Timeout,
		InitialCap: 1,
		MaxOpen:    1,
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func closeConn(conn interface{}) error {
	if session, ok := conn.(*r.Session); ok {
		return session.Close()
	}
	return nil
}

func pingConn(conn interface{}) error {
	exec, ok := conn.(r.QueryExecutor)
	if !ok || !exec.IsConnected() {
		return r.ErrConnectionClosed
	}
	return nil
}

// IsTransportError reports errors after which a connection must not be
// reused.
func IsTransportError(err error) bool {
	if pool.DefaultIsFatal(err) {
		return true
	}
	if errors.Is(err, r.ErrConnectionClosed) {
		return true
	}
	var connErr r.RQLConnectionError
	return errors.As(err, &connErr)
}

func (a *Adapter) poolOptions(cfg *config.Config) *pool.Options {
	factory := a.factory
	return &pool.Options{
		InitialCap: cfg.Min,
		MaxCap:     cfg.Max,
		MaxIdle:    cfg.MaxIdle,
		Factory: func(ctx context.Context) (interface{}, error) {
			return factory(ctx, cfg)
		},
		Close:        closeConn,
		Ping:         pingConn,
		IsFatal:      IsTransportError,
		IdleTimeout:  cfg.IdleTimeout,
		ReapInterval: cfg.ReapInterval,
		WaitTimeout:  cfg.WaitTimeout,
		Logger:       a.log.WithField("db", cfg.DB),
	}
}
