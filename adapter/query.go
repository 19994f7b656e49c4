package adapter

import (
	"context"
	"fmt"

	"github.com/spf13/cast"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

// Criteria selects documents. Where holds attribute equality matches.
type Criteria struct {
	Where map[string]interface{} `json:"where,omitempty"`
	Skip  int                    `json:"skip,omitempty"`
	Limit int                    `json:"limit,omitempty"`
}

// Create inserts values after checking the unique attributes and returns
// the stored document.
func (a *Adapter) Create(ctx context.Context, name string, values map[string]interface{}) (map[string]interface{}, error) {
	coll, err := a.lookup(name)
	if err != nil {
		return nil, err
	}
	if err := a.checkUnique(ctx, coll, values); err != nil {
		return nil, err
	}

	resp, err := a.write(ctx, r.Table(name).Insert(values, r.InsertOpts{ReturnChanges: true}))
	if err != nil {
		return nil, err
	}
	docs := changedValues(resp.Changes, false)
	if len(docs) == 0 {
		return nil, fmt.Errorf("insert into %s returned no document", name)
	}
	return docs[0], nil
}

// CreateEach inserts every document in one write. Unique attributes are
// checked against the table and within the batch.
func (a *Adapter) CreateEach(ctx context.Context, name string, values []map[string]interface{}) ([]map[string]interface{}, error) {
	coll, err := a.lookup(name)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return []map[string]interface{}{}, nil
	}

	seen := make(map[string]map[string]struct{}, len(coll.SecondaryIndices))
	for _, doc := range values {
		for _, idx := range coll.SecondaryIndices {
			v, ok := doc[idx]
			if !ok || v == nil {
				continue
			}
			if seen[idx] == nil {
				seen[idx] = map[string]struct{}{}
			}
			key := cast.ToString(v)
			if _, dup := seen[idx][key]; dup {
				return nil, fmt.Errorf("%w: %s", ErrUniqueConstraint, idx)
			}
			seen[idx][key] = struct{}{}
		}
		if err := a.checkUnique(ctx, coll, doc); err != nil {
			return nil, err
		}
	}

	resp, err := a.write(ctx, r.Table(name).Insert(values, r.InsertOpts{ReturnChanges: true}))
	if err != nil {
		return nil, err
	}
	return changedValues(resp.Changes, false), nil
}

// Find returns the documents matching criteria, never nil.
func (a *Adapter) Find(ctx context.Context, name string, criteria Criteria) ([]map[string]interface{}, error) {
	coll, err := a.lookup(name)
	if err != nil {
		return nil, err
	}

	term, single := selection(coll, criteria.Where)
	if single {
		var doc map[string]interface{}
		found, err := a.readOne(ctx, term, &doc)
		if err != nil {
			return nil, err
		}
		if !found {
			return []map[string]interface{}{}, nil
		}
		return []map[string]interface{}{doc}, nil
	}

	var docs []map[string]interface{}
	if err := a.readAll(ctx, paginate(term, criteria), &docs); err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []map[string]interface{}{}
	}
	return docs, nil
}

func (a *Adapter) Count(ctx context.Context, name string, criteria Criteria) (int, error) {
	coll, err := a.lookup(name)
	if err != nil {
		return 0, err
	}

	term, single := selection(coll, criteria.Where)
	if single {
		var doc map[string]interface{}
		found, err := a.readOne(ctx, term, &doc)
		if err != nil || !found {
			return 0, err
		}
		return 1, nil
	}

	var n interface{}
	if _, err := a.readOne(ctx, paginate(term, criteria).Count(), &n); err != nil {
		return 0, err
	}
	return cast.ToIntE(n)
}

// Update applies values to the matching documents and returns them as
// stored afterwards, unchanged matches included.
func (a *Adapter) Update(ctx context.Context, name string, criteria Criteria, values map[string]interface{}) ([]map[string]interface{}, error) {
	coll, err := a.lookup(name)
	if err != nil {
		return nil, err
	}

	term, _ := selection(coll, criteria.Where)
	resp, err := a.write(ctx, term.Update(values, r.UpdateOpts{ReturnChanges: "always"}))
	if err != nil {
		return nil, err
	}
	return changedValues(resp.Changes, false), nil
}

// Destroy deletes the matching documents and returns them.
func (a *Adapter) Destroy(ctx context.Context, name string, criteria Criteria) ([]map[string]interface{}, error) {
	coll, err := a.lookup(name)
	if err != nil {
		return nil, err
	}

	term, _ := selection(coll, criteria.Where)
	resp, err := a.write(ctx, term.Delete(r.DeleteOpts{ReturnChanges: true}))
	if err != nil {
		return nil, err
	}
	return changedValues(resp.Changes, true), nil
}

func (a *Adapter) checkUnique(ctx context.Context, coll *Collection, values map[string]interface{}) error {
	for _, idx := range coll.SecondaryIndices {
		v, ok := values[idx]
		if !ok || v == nil {
			continue
		}

		var n interface{}
		term := r.Table(coll.Identity).GetAll(v).OptArgs(r.GetAllOpts{Index: idx}).Count()
		if _, err := a.readOne(ctx, term, &n); err != nil {
			return err
		}
		if cast.ToInt(n) > 0 {
			return fmt.Errorf("%w: %s", ErrUniqueConstraint, idx)
		}
	}
	return nil
}

// selection translates where into a term. A lone primary key is a direct
// get, single is true then. A primary key or secondary index among other
// attributes narrows by getAll before the rest is filtered. Anything else
// scans the table.
func selection(coll *Collection, where map[string]interface{}) (term r.Term, single bool) {
	table := r.Table(coll.Identity)
	if len(where) == 0 {
		return table, false
	}
	if v, ok := where[coll.PrimaryKey]; ok && len(where) == 1 {
		return table.Get(v), true
	}

	rest := make(map[string]interface{}, len(where))
	for k, v := range where {
		rest[k] = v
	}

	term = table
	if v, ok := where[coll.PrimaryKey]; ok {
		term = table.GetAll(v)
		delete(rest, coll.PrimaryKey)
	} else {
		for _, idx := range coll.SecondaryIndices {
			if v, ok := where[idx]; ok {
				term = table.GetAll(v).OptArgs(r.GetAllOpts{Index: idx})
				delete(rest, idx)
				break
			}
		}
	}
	if len(rest) > 0 {
		term = term.Filter(rest)
	}
	return term, false
}

func paginate(term r.Term, criteria Criteria) r.Term {
	if criteria.Skip > 0 {
		term = term.Skip(criteria.Skip)
	}
	if criteria.Limit > 0 {
		term = term.Limit(criteria.Limit)
	}
	return term
}

func changedValues(changes []r.ChangeResponse, old bool) []map[string]interface{} {
	docs := make([]map[string]interface{}, 0, len(changes))
	for _, ch := range changes {
		v := ch.NewValue
		if old {
			v = ch.OldValue
		}
		if v == nil {
			continue
		}
		doc, err := cast.ToStringMapE(v)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}
