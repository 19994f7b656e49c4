package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/jasonkayzk/waterline-rethinkdb/config"
	log "github.com/sirupsen/logrus"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

// RegisterCollection makes a collection known to the adapter and brings
// its table in line according to the migrate setting. A collection that
// is already registered keeps its stored definition.
func (a *Adapter) RegisterCollection(ctx context.Context, c *Collection) (*Collection, error) {
	if c == nil || c.Identity == "" {
		return nil, errors.New("collection needs an identity")
	}

	coll := c.clone()
	coll.prepare()
	if !a.collections.SetIfAbsent(coll.Identity, coll) {
		coll, _ = a.lookup(c.Identity)
	}

	logger := a.log.WithFields(log.Fields{"collection": coll.Identity, "migrate": a.Config().Migrate})
	switch a.Config().Migrate {
	case config.MigrateSafe:
		logger.Debug("collection registered")
		return coll, nil
	case config.MigrateDrop:
		if err := a.Drop(ctx, coll.Identity); err != nil {
			return nil, err
		}
	}

	if err := a.Define(ctx, coll.Identity, coll.Definition); err != nil {
		return nil, err
	}
	logger.Debug("collection registered")
	return a.lookup(coll.Identity)
}

// Define stores the definition for name, creates the table when missing
// and builds one secondary index per unique attribute.
func (a *Adapter) Define(ctx context.Context, name string, definition map[string]*Attribute) error {
	coll := NewCollection(name, definition)
	a.collections.Set(name, coll)

	tables, err := a.tableList(ctx)
	if err != nil {
		return err
	}
	if !contains(tables, name) {
		resp, err := a.write(ctx, r.TableCreate(name, r.TableCreateOpts{PrimaryKey: coll.PrimaryKey}))
		if err != nil {
			return err
		}
		if resp.TablesCreated != 1 {
			return fmt.Errorf("%w: %s", ErrTableCreate, name)
		}
		a.log.WithFields(log.Fields{"table": name, "primaryKey": coll.PrimaryKey}).Info("table created")
	}

	if len(coll.SecondaryIndices) == 0 {
		return nil
	}

	var existing []string
	if err := a.readAll(ctx, r.Table(name).IndexList(), &existing); err != nil {
		return err
	}
	var created []interface{}
	for _, idx := range coll.SecondaryIndices {
		if contains(existing, idx) {
			continue
		}
		if err := a.exec(ctx, r.Table(name).IndexCreate(idx)); err != nil {
			return fmt.Errorf("index %s: %w", idx, err)
		}
		created = append(created, idx)
	}
	if len(created) == 0 {
		return nil
	}
	return a.exec(ctx, r.Table(name).IndexWait(created...))
}

// Describe returns the definition of name, nil when it has no attributes.
func (a *Adapter) Describe(name string) (map[string]*Attribute, error) {
	coll, err := a.lookup(name)
	if err != nil {
		return nil, err
	}
	if len(coll.Definition) == 0 {
		return nil, nil
	}
	return coll.clone().Definition, nil
}

// Drop removes the table of name if there is one.
func (a *Adapter) Drop(ctx context.Context, name string) error {
	tables, err := a.tableList(ctx)
	if err != nil {
		return err
	}
	if !contains(tables, name) {
		return nil
	}

	resp, err := a.write(ctx, r.TableDrop(name))
	if err != nil {
		return err
	}
	if resp.TablesDropped != 1 {
		return fmt.Errorf("%w: %s", ErrTableDrop, name)
	}
	a.log.WithField("table", name).Info("table dropped")
	return nil
}

func (a *Adapter) lookup(name string) (*Collection, error) {
	v, ok := a.collections.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return v.(*Collection), nil
}

func (a *Adapter) tableList(ctx context.Context) ([]string, error) {
	var tables []string
	if err := a.readAll(ctx, r.TableList(), &tables); err != nil {
		return nil, err
	}
	return tables, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
