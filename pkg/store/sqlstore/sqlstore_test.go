package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/flow"
	"github.com/devicelab-dev/apiflow/pkg/store"
	"github.com/devicelab-dev/apiflow/pkg/vars"
)

type SQLiteStoreTestSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, new(SQLiteStoreTestSuite))
}

func (suite *SQLiteStoreTestSuite) SetupTest() {
	suite.ctx = context.Background()
	s, err := Open(suite.ctx, DBTypeSQLite, "file::memory:")
	suite.Require().NoError(err)
	suite.store = s
}

func (suite *SQLiteStoreTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *SQLiteStoreTestSuite) TestMigrateIsIdempotent() {
	suite.NoError(suite.store.Migrate(suite.ctx))
}

func (suite *SQLiteStoreTestSuite) TestFlows() {
	f := &flow.Flow{
		Name: "login",
		Env:  map[string]string{"base": "https://api.test"},
		Steps: []flow.Step{
			{Name: "token", Method: "POST", URL: "{{base}}/token", Body: `{"a":1}`, PostScript: `{"flow":{"action":"stop"}}`},
		},
	}
	suite.Require().NoError(suite.store.SaveFlow(suite.ctx, f))
	suite.NotZero(f.ID)
	suite.Equal(f.ID, f.Steps[0].FlowID)

	got, err := suite.store.GetFlow(suite.ctx, f.ID)
	suite.Require().NoError(err)
	suite.Equal("login", got.Name)
	suite.Equal("https://api.test", got.Env["base"])
	suite.Equal(`{"a":1}`, got.Steps[0].Body)
	suite.Equal(`{"flow":{"action":"stop"}}`, got.Steps[0].PostScript)

	got.Name = "renamed"
	suite.Require().NoError(suite.store.SaveFlow(suite.ctx, got))
	second := &flow.Flow{Name: "second"}
	suite.Require().NoError(suite.store.SaveFlow(suite.ctx, second))
	suite.NotEqual(f.ID, second.ID)

	all, err := suite.store.ListFlows(suite.ctx)
	suite.Require().NoError(err)
	suite.Require().Len(all, 2)
	suite.Equal("renamed", all[0].Name)
	suite.Equal("second", all[1].Name)

	_, err = suite.store.GetFlow(suite.ctx, 999)
	suite.ErrorIs(err, store.ErrNotFound)
}

func (suite *SQLiteStoreTestSuite) TestProxies() {
	suite.Error(suite.store.SaveProxy(suite.ctx, &core.Proxy{URL: "http://p"}))

	suite.Require().NoError(suite.store.SaveProxy(suite.ctx, &core.Proxy{ID: 3, Name: "corp", URL: "http://corp:3128"}))
	suite.Require().NoError(suite.store.SaveProxy(suite.ctx, &core.Proxy{ID: 3, Name: "corp", URL: "http://corp:8080"}))

	p, err := suite.store.GetProxy(suite.ctx, 3)
	suite.Require().NoError(err)
	suite.Equal(&core.Proxy{ID: 3, Name: "corp", URL: "http://corp:8080"}, p)

	_, err = suite.store.GetProxy(suite.ctx, 4)
	suite.ErrorIs(err, store.ErrNotFound)
}

func (suite *SQLiteStoreTestSuite) TestHistory() {
	for i, status := range []int{200, 500, 201} {
		e := &store.HistoryEntry{
			RunID:      "run",
			Method:     "GET",
			URL:        "https://x/" + string(rune('a'+i)),
			StatusCode: status,
			Success:    status < 300,
			Request:    &core.Request{Method: "GET", URL: "https://x"},
		}
		if status == 500 {
			e.Response = &core.ExecuteResult{StatusCode: 500, Body: "oops"}
		}
		suite.Require().NoError(suite.store.AppendHistory(suite.ctx, e))
		suite.NotZero(e.ID)
	}

	all, err := suite.store.ListHistory(suite.ctx, 0)
	suite.Require().NoError(err)
	suite.Require().Len(all, 3)
	suite.Equal(201, all[0].StatusCode)
	suite.True(all[0].Success)
	suite.Nil(all[0].Response)
	suite.False(all[1].Success)
	suite.Equal("oops", all[1].Response.Body)
	suite.Equal("https://x", all[2].Request.URL)
	suite.False(all[2].CreatedAt.IsZero())

	limited, err := suite.store.ListHistory(suite.ctx, 2)
	suite.Require().NoError(err)
	suite.Len(limited, 2)
}

func (suite *SQLiteStoreTestSuite) TestVariablesBackend() {
	ref := vars.ScopeRef{Scope: core.ScopeEnvironment, ID: "dev"}
	other := vars.ScopeRef{Scope: core.ScopeCollection, ID: "dev"}

	suite.Require().NoError(suite.store.Apply(suite.ctx, ref, []vars.Change{
		{Name: "token", Value: "abc"},
		{Name: "count", Value: 2.0},
		{Name: "user", Value: map[string]interface{}{"id": 7.0}},
	}))
	suite.Require().NoError(suite.store.Apply(suite.ctx, other, []vars.Change{{Name: "token", Value: "other"}}))
	suite.Require().NoError(suite.store.Apply(suite.ctx, ref, []vars.Change{
		{Name: "count", Value: 3.0},
		{Name: "token", Deleted: true},
	}))
	suite.NoError(suite.store.Apply(suite.ctx, ref, nil))

	got, err := suite.store.Load(suite.ctx, ref)
	suite.Require().NoError(err)
	suite.Equal(map[string]interface{}{
		"count": 3.0,
		"user":  map[string]interface{}{"id": 7.0},
	}, got)

	got, err = suite.store.Load(suite.ctx, other)
	suite.Require().NoError(err)
	suite.Equal("other", got["token"])
}

func (suite *SQLiteStoreTestSuite) TestVariablesThroughStore() {
	refs := vars.Refs{EnvironmentID: "staging"}
	st := vars.NewStore(suite.store, refs)
	suite.Require().NoError(st.Load(suite.ctx))
	suite.Require().NoError(st.Set(core.ScopeEnvironment, "session", "s-1"))
	suite.Require().NoError(st.Flush(suite.ctx))

	next := vars.NewStore(suite.store, refs)
	suite.Require().NoError(next.Load(suite.ctx))
	v, ok := next.Get("session")
	suite.True(ok)
	suite.Equal("s-1", v)
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	assert.Error(t, err)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db, DBTypePostgres), mock
}

func TestApply_RollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)
	ref := vars.ScopeRef{Scope: core.ScopeGlobal, ID: "default"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertVariable.Query)).
		WithArgs("global", "default", "a", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryDeleteVariable.Query)).
		WithArgs("global", "default", "b").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Apply(context.Background(), ref, []vars.Change{
		{Name: "a", Value: 1},
		{Name: "b", Deleted: true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestApply_CommitFailure(t *testing.T) {
	s, mock := newMockStore(t)
	ref := vars.ScopeRef{Scope: core.ScopeEnvironment, ID: "dev"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertVariable.Query)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := s.Apply(context.Background(), ref, []vars.Change{{Name: "a", Value: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit variables")
}

func TestApply_BeginFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	err := s.Apply(context.Background(), vars.ScopeRef{Scope: core.ScopeGlobal, ID: "g"}, []vars.Change{{Name: "a", Value: 1}})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestGetFlow_QueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryGetFlow.Query)).
		WithArgs(int64(5)).
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetFlow(context.Background(), 5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestLoad_CorruptValue(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(queryLoadVariables.Query)).
		WithArgs("environment", "dev").
		WillReturnRows(sqlmock.NewRows([]string{"name", "value"}).AddRow("token", []byte("{not json")))

	_, err := s.Load(context.Background(), vars.ScopeRef{Scope: core.ScopeEnvironment, ID: "dev"})
	assert.ErrorContains(t, err, "decode variable token")
}

func TestSaveFlow_PostgresResyncsSequence(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertFlow.Query)).
		WithArgs(int64(42), "pinned", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(queryResyncFlowSequence.Query)).
		WillReturnRows(sqlmock.NewRows([]string{"setval"}).AddRow(int64(42)))

	require.NoError(t, s.SaveFlow(context.Background(), &flow.Flow{ID: 42, Name: "pinned"}))
}

func TestDBQuery_GetQuery(t *testing.T) {
	q := DBQuery{ID: "X", Query: "SELECT $1", SQLiteQuery: "SELECT ?"}
	assert.Equal(t, "SELECT $1", q.GetQuery(DBTypePostgres))
	assert.Equal(t, "SELECT ?", q.GetQuery(DBTypeSQLite))
	assert.Equal(t, "SELECT 1", DBQuery{Query: "SELECT 1"}.GetQuery(DBTypeSQLite))
}
