package adapter

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jasonkayzk/waterline-rethinkdb/channel_pool/errs"
	"github.com/jasonkayzk/waterline-rethinkdb/config"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"
)

func init() {
	log.SetOutput(io.Discard)
}

func newMockAdapter(t *testing.T, mutate func(*config.Config)) (*Adapter, *r.Mock) {
	t.Helper()
	mock := r.NewMock()

	cfg := config.Default()
	cfg.Min = 0
	cfg.Max = 2
	cfg.IdleTimeout = 0
	cfg.Migrate = config.MigrateSafe
	if mutate != nil {
		mutate(cfg)
	}

	a, err := NewWithFactory(cfg, func(ctx context.Context, cfg *config.Config) (r.QueryExecutor, error) {
		return mock, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Teardown(context.Background()) })
	return a, mock
}

func registerUsers(t *testing.T, a *Adapter) {
	t.Helper()
	_, err := a.RegisterCollection(context.Background(), &Collection{Identity: "users", Definition: userDefinition()})
	require.NoError(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Max = 0
	_, err := New(cfg)
	assert.Error(t, err)

	_, err = NewWithFactory(config.Default(), nil)
	assert.Error(t, err)
}

func TestDefine_CreatesTableAndIndexes(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	ctx := context.Background()

	mock.On(r.TableList()).Return([]interface{}{}, nil)
	mock.On(r.TableCreate("users", r.TableCreateOpts{PrimaryKey: "id"})).
		Return(map[string]interface{}{"tables_created": 1}, nil)
	mock.On(r.Table("users").IndexList()).Return([]interface{}{}, nil)
	mock.On(r.Table("users").IndexCreate("email")).Return(map[string]interface{}{"created": 1}, nil)
	mock.On(r.Table("users").IndexWait("email")).
		Return([]interface{}{map[string]interface{}{"index": "email", "ready": true}}, nil)

	require.NoError(t, a.Define(ctx, "users", userDefinition()))
	mock.AssertExpectations(t)

	def, err := a.Describe("users")
	require.NoError(t, err)
	assert.Equal(t, "string", def["email"].Type)
	assert.False(t, def["id"].AutoIncrement)
}

func TestDefine_ExistingTableAndIndex(t *testing.T) {
	a, mock := newMockAdapter(t, nil)

	mock.On(r.TableList()).Return([]interface{}{"users"}, nil)
	mock.On(r.Table("users").IndexList()).Return([]interface{}{"email"}, nil)

	require.NoError(t, a.Define(context.Background(), "users", userDefinition()))
	mock.AssertExpectations(t)
}

func TestDefine_TableNotCreated(t *testing.T) {
	a, mock := newMockAdapter(t, nil)

	mock.On(r.TableList()).Return([]interface{}{}, nil)
	mock.On(r.TableCreate("logs", r.TableCreateOpts{PrimaryKey: "id"})).
		Return(map[string]interface{}{"tables_created": 0}, nil)

	err := a.Define(context.Background(), "logs", map[string]*Attribute{"msg": {Type: "string"}})
	assert.True(t, errors.Is(err, ErrTableCreate))
}

func TestRegisterCollection_AlterDefines(t *testing.T) {
	a, mock := newMockAdapter(t, func(c *config.Config) { c.Migrate = config.MigrateAlter })

	mock.On(r.TableList()).Return([]interface{}{"users"}, nil)
	mock.On(r.Table("users").IndexList()).Return([]interface{}{"email"}, nil)

	coll, err := a.RegisterCollection(context.Background(), &Collection{Identity: "users", Definition: userDefinition()})
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, coll.SecondaryIndices)
	mock.AssertExpectations(t)
}

func TestRegisterCollection_DropRecreates(t *testing.T) {
	a, mock := newMockAdapter(t, func(c *config.Config) { c.Migrate = config.MigrateDrop })

	mock.On(r.TableList()).Return([]interface{}{"notes"}, nil).Once()
	mock.On(r.TableDrop("notes")).Return(map[string]interface{}{"tables_dropped": 1}, nil)
	mock.On(r.TableList()).Return([]interface{}{}, nil).Once()
	mock.On(r.TableCreate("notes", r.TableCreateOpts{PrimaryKey: "id"})).
		Return(map[string]interface{}{"tables_created": 1}, nil)

	_, err := a.RegisterCollection(context.Background(), &Collection{
		Identity:   "notes",
		Definition: map[string]*Attribute{"body": {Type: "string"}},
	})
	require.NoError(t, err)
	mock.AssertExpectations(t)
}

func TestDescribe(t *testing.T) {
	a, _ := newMockAdapter(t, nil)

	_, err := a.Describe("users")
	assert.True(t, errors.Is(err, ErrUnknownCollection))

	registerUsers(t, a)
	def, err := a.Describe("users")
	require.NoError(t, err)
	assert.Len(t, def, 4)

	_, err = a.RegisterCollection(context.Background(), &Collection{Identity: "empty"})
	require.NoError(t, err)
	def, err = a.Describe("empty")
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestDrop_MissingTable(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	mock.On(r.TableList()).Return([]interface{}{"other"}, nil)

	require.NoError(t, a.Drop(context.Background(), "users"))
	mock.AssertExpectations(t)
}

func TestCreate(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	registerUsers(t, a)

	values := map[string]interface{}{"email": "ada@example.com", "first_name": "Ada"}
	mock.On(r.Table("users").GetAll("ada@example.com").OptArgs(r.GetAllOpts{Index: "email"}).Count()).
		Return(0, nil)
	mock.On(r.Table("users").Insert(values, r.InsertOpts{ReturnChanges: true})).
		Return(map[string]interface{}{
			"inserted": 1,
			"changes": []interface{}{
				map[string]interface{}{
					"new_val": map[string]interface{}{"id": "u1", "email": "ada@example.com", "first_name": "Ada"},
				},
			},
		}, nil)

	doc, err := a.Create(context.Background(), "users", values)
	require.NoError(t, err)
	assert.Equal(t, "u1", doc["id"])
	assert.Equal(t, "Ada", doc["first_name"])
	mock.AssertExpectations(t)
}

func TestCreate_UniqueConstraint(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	registerUsers(t, a)

	mock.On(r.Table("users").GetAll("ada@example.com").OptArgs(r.GetAllOpts{Index: "email"}).Count()).
		Return(1, nil)

	_, err := a.Create(context.Background(), "users", map[string]interface{}{"email": "ada@example.com"})
	assert.True(t, errors.Is(err, ErrUniqueConstraint))
}

func TestCreate_UnknownCollection(t *testing.T) {
	a, _ := newMockAdapter(t, nil)
	_, err := a.Create(context.Background(), "ghosts", map[string]interface{}{})
	assert.True(t, errors.Is(err, ErrUnknownCollection))
}

func TestCreate_WriteErrorKeepsConnection(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	registerUsers(t, a)

	values := map[string]interface{}{"id": "u1"}
	mock.On(r.Table("users").Insert(values, r.InsertOpts{ReturnChanges: true})).
		Return(map[string]interface{}{"errors": 1, "first_error": "Duplicate primary key `id`"}, nil)

	_, err := a.Create(context.Background(), "users", values)
	require.Error(t, err)
	assert.False(t, errs.IsTransportErr(err))
	assert.Zero(t, a.Stats().Destroyed)
}

func TestCreateEach_DuplicateInBatch(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	registerUsers(t, a)

	mock.On(r.Table("users").GetAll("ada@example.com").OptArgs(r.GetAllOpts{Index: "email"}).Count()).
		Return(0, nil)

	_, err := a.CreateEach(context.Background(), "users", []map[string]interface{}{
		{"email": "ada@example.com"},
		{"email": "ada@example.com"},
	})
	assert.True(t, errors.Is(err, ErrUniqueConstraint))
}

func TestCreateEach_Empty(t *testing.T) {
	a, _ := newMockAdapter(t, nil)
	registerUsers(t, a)

	docs, err := a.CreateEach(context.Background(), "users", nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFind(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	registerUsers(t, a)
	ctx := context.Background()

	mock.On(r.Table("users").Get("u1")).Return(map[string]interface{}{"id": "u1"}, nil)
	mock.On(r.Table("users").GetAll("ada@example.com").OptArgs(r.GetAllOpts{Index: "email"})).
		Return([]interface{}{map[string]interface{}{"id": "u1", "email": "ada@example.com"}}, nil)
	mock.On(r.Table("users").Filter(map[string]interface{}{"last_name": "Lovelace"}).Skip(1).Limit(2)).
		Return([]interface{}{map[string]interface{}{"id": "u2"}, map[string]interface{}{"id": "u3"}}, nil)
	mock.On(r.Table("users").Filter(map[string]interface{}{"last_name": "Nobody"})).
		Return([]interface{}{}, nil)

	docs, err := a.Find(ctx, "users", Criteria{Where: map[string]interface{}{"id": "u1"}})
	require.NoError(t, err)
	assert.Equal(t, []map[string]interface{}{{"id": "u1"}}, docs)

	docs, err = a.Find(ctx, "users", Criteria{Where: map[string]interface{}{"email": "ada@example.com"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ada@example.com", docs[0]["email"])

	docs, err = a.Find(ctx, "users", Criteria{Where: map[string]interface{}{"last_name": "Lovelace"}, Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = a.Find(ctx, "users", Criteria{Where: map[string]interface{}{"last_name": "Nobody"}})
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	mock.AssertExpectations(t)
}

func TestCount(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	registerUsers(t, a)
	ctx := context.Background()

	mock.On(r.Table("users").Get("u1")).Return(map[string]interface{}{"id": "u1"}, nil)
	mock.On(r.Table("users").Filter(map[string]interface{}{"last_name": "Lovelace"}).Count()).Return(3, nil)
	mock.On(r.Table("users").Count()).Return(10, nil)

	n, err := a.Count(ctx, "users", Criteria{Where: map[string]interface{}{"id": "u1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = a.Count(ctx, "users", Criteria{Where: map[string]interface{}{"last_name": "Lovelace"}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = a.Count(ctx, "users", Criteria{})
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestUpdate(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	registerUsers(t, a)

	values := map[string]interface{}{"first_name": "Grace"}
	mock.On(r.Table("users").Get("u1").Update(values, r.UpdateOpts{ReturnChanges: "always"})).
		Return(map[string]interface{}{
			"replaced": 1,
			"changes": []interface{}{
				map[string]interface{}{
					"old_val": map[string]interface{}{"id": "u1", "first_name": "Ada"},
					"new_val": map[string]interface{}{"id": "u1", "first_name": "Grace"},
				},
			},
		}, nil)

	docs, err := a.Update(context.Background(), "users", Criteria{Where: map[string]interface{}{"id": "u1"}}, values)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Grace", docs[0]["first_name"])
}

func TestUpdate_ReturnsUnchangedMatches(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	registerUsers(t, a)

	values := map[string]interface{}{"first_name": "Ada"}
	mock.On(r.Table("users").Filter(map[string]interface{}{"last_name": "Lovelace"}).Update(values, r.UpdateOpts{ReturnChanges: "always"})).
		Return(map[string]interface{}{
			"replaced":  1,
			"unchanged": 1,
			"changes": []interface{}{
				map[string]interface{}{
					"old_val": map[string]interface{}{"id": "u1", "first_name": "Ada"},
					"new_val": map[string]interface{}{"id": "u1", "first_name": "Ada"},
				},
				map[string]interface{}{
					"old_val": map[string]interface{}{"id": "u2", "first_name": "Augusta"},
					"new_val": map[string]interface{}{"id": "u2", "first_name": "Ada"},
				},
			},
		}, nil)

	docs, err := a.Update(context.Background(), "users", Criteria{Where: map[string]interface{}{"last_name": "Lovelace"}}, values)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "u1", docs[0]["id"])
	assert.Equal(t, "u2", docs[1]["id"])
	mock.AssertExpectations(t)
}

func TestDestroy(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	registerUsers(t, a)

	mock.On(r.Table("users").Filter(map[string]interface{}{"last_name": "Lovelace"}).Delete(r.DeleteOpts{ReturnChanges: true})).
		Return(map[string]interface{}{
			"deleted": 1,
			"changes": []interface{}{
				map[string]interface{}{"old_val": map[string]interface{}{"id": "u2", "last_name": "Lovelace"}},
			},
		}, nil)

	docs, err := a.Destroy(context.Background(), "users", Criteria{Where: map[string]interface{}{"last_name": "Lovelace"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "u2", docs[0]["id"])
}

func TestConnectionRun(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	mock.On(r.TableList()).Return([]interface{}{"users", "notes"}, nil)

	rows, err := a.ConnectionRun(context.Background(), r.TableList())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"users", "notes"}, rows)

	stats := a.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Idle)
}

func TestConnectionRun_TransportErrorDestroysConnection(t *testing.T) {
	a, mock := newMockAdapter(t, nil)
	mock.On(r.TableList()).Return(nil, r.ErrConnectionClosed)

	_, err := a.ConnectionRun(context.Background(), r.TableList())
	require.Error(t, err)
	assert.True(t, errs.IsTransportErr(err))
	assert.True(t, errors.Is(err, r.ErrConnectionClosed))

	stats := a.Stats()
	assert.Equal(t, int64(1), stats.Destroyed)
	assert.Zero(t, stats.Open())
}

func TestConfigure(t *testing.T) {
	a, _ := newMockAdapter(t, nil)
	ctx := context.Background()

	require.NoError(t, a.Configure(ctx, map[string]interface{}{"max": 4, "host": "db.local"}, false))
	assert.Equal(t, 4, a.Stats().Max)
	assert.Equal(t, "db.local", a.Config().Host)

	require.NoError(t, a.Configure(ctx, map[string]interface{}{"min": 0, "max": 3}, true))
	assert.Equal(t, 3, a.Stats().Max)
	assert.Equal(t, "127.0.0.1", a.Config().Host)

	assert.Error(t, a.Configure(ctx, map[string]interface{}{"migrate": 1}, false))
	assert.Error(t, a.Configure(ctx, map[string]interface{}{"min": 9, "max": 2}, false))
	assert.Equal(t, 3, a.Stats().Max)
}

func TestTeardown(t *testing.T) {
	a, _ := newMockAdapter(t, nil)
	require.NoError(t, a.Teardown(context.Background()))

	_, err := a.ConnectionRun(context.Background(), r.TableList())
	assert.True(t, errs.IsClosedErr(err))
}
