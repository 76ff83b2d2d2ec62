// Package sqlstore persists flows, proxies, request history and durable
// variables in SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/flow"
	"github.com/devicelab-dev/apiflow/pkg/store"
	"github.com/devicelab-dev/apiflow/pkg/vars"
)

// Store implements the store interfaces and vars.Backend over SQL.
type Store struct {
	client *DBClient
	dbType string
}

// Open connects to the database, verifies the connection and applies the
// schema.
func Open(ctx context.Context, dbType, dsn string) (*Store, error) {
	if dbType != DBTypeSQLite && dbType != DBTypePostgres {
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}
	db, err := sql.Open(dbType, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dbType, err)
	}
	if dbType == DBTypeSQLite {
		// One connection keeps in-memory databases alive and serializes writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping %s database: %w (close error: %w)", dbType, err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping %s database: %w", dbType, err)
	}

	s := New(db, dbType)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open handle without touching the schema.
func New(db *sql.DB, dbType string) *Store {
	return &Store{client: NewDBClient(db, dbType), dbType: dbType}
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.dbType == DBTypePostgres {
		schema = schemaPostgres
	}
	for i, stmt := range schema {
		q := DBQuery{ID: "SCH-" + strconv.Itoa(i+1), Query: stmt}
		if _, err := s.client.Execute(ctx, q); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.client.Close()
}

// GetFlow returns the flow with id.
func (s *Store) GetFlow(ctx context.Context, id int64) (*flow.Flow, error) {
	rows, err := s.client.Query(ctx, queryGetFlow, id)
	if err != nil {
		return nil, fmt.Errorf("get flow %d: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("flow %d: %w", id, store.ErrNotFound)
	}
	return decodeFlow(rows[0])
}

// ListFlows returns all flows ordered by ID.
func (s *Store) ListFlows(ctx context.Context) ([]*flow.Flow, error) {
	rows, err := s.client.Query(ctx, queryListFlows)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	out := make([]*flow.Flow, 0, len(rows))
	for _, row := range rows {
		f, err := decodeFlow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// SaveFlow inserts or replaces f. A zero ID is assigned by the database.
func (s *Store) SaveFlow(ctx context.Context, f *flow.Flow) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if f.ID == 0 {
		def, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode flow: %w", err)
		}
		rows, err := s.client.Query(ctx, queryInsertFlow, f.Name, string(def), now)
		if err != nil {
			return fmt.Errorf("insert flow: %w", err)
		}
		if len(rows) == 0 {
			return fmt.Errorf("insert flow: no id returned")
		}
		id, err := asInt64(rows[0]["id"])
		if err != nil {
			return fmt.Errorf("insert flow: %w", err)
		}
		f.ID = id
	}

	// The definition carries the ID, so it is always rewritten once known
	for i := range f.Steps {
		f.Steps[i].FlowID = f.ID
	}
	def, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode flow: %w", err)
	}
	if _, err := s.client.Execute(ctx, queryUpsertFlow, f.ID, f.Name, string(def), now); err != nil {
		return fmt.Errorf("save flow %d: %w", f.ID, err)
	}
	if s.dbType == DBTypePostgres {
		if _, err := s.client.Query(ctx, queryResyncFlowSequence); err != nil {
			return fmt.Errorf("save flow %d: %w", f.ID, err)
		}
	}
	return nil
}

// GetProxy returns the proxy with id.
func (s *Store) GetProxy(ctx context.Context, id int64) (*core.Proxy, error) {
	rows, err := s.client.Query(ctx, queryGetProxy, id)
	if err != nil {
		return nil, fmt.Errorf("get proxy %d: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("proxy %d: %w", id, store.ErrNotFound)
	}
	pid, err := asInt64(rows[0]["id"])
	if err != nil {
		return nil, err
	}
	return &core.Proxy{
		ID:   pid,
		Name: asString(rows[0]["name"]),
		URL:  asString(rows[0]["url"]),
	}, nil
}

// SaveProxy inserts or replaces p.
func (s *Store) SaveProxy(ctx context.Context, p *core.Proxy) error {
	if p.ID <= 0 {
		return fmt.Errorf("proxy id must be positive")
	}
	if _, err := s.client.Execute(ctx, queryUpsertProxy, p.ID, p.Name, p.URL); err != nil {
		return fmt.Errorf("save proxy %d: %w", p.ID, err)
	}
	return nil
}

// AppendHistory records e and assigns its ID.
func (s *Store) AppendHistory(ctx context.Context, e *store.HistoryEntry) error {
	req, err := encodeOptional(e.Request)
	if err != nil {
		return fmt.Errorf("encode history request: %w", err)
	}
	resp, err := encodeOptional(e.Response)
	if err != nil {
		return fmt.Errorf("encode history response: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	var success interface{} = e.Success
	if s.dbType == DBTypeSQLite {
		success = boolToInt(e.Success)
	}
	rows, err := s.client.Query(ctx, queryInsertHistory,
		e.RunID, e.Method, e.URL, e.StatusCode, e.DurationMs, success, e.Error,
		req, resp, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if len(rows) > 0 {
		if id, err := asInt64(rows[0]["id"]); err == nil {
			e.ID = id
		}
	}
	return nil
}

// ListHistory returns up to limit entries, newest first. A limit of zero
// or less returns everything.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]store.HistoryEntry, error) {
	var rows []map[string]interface{}
	var err error
	if limit > 0 {
		rows, err = s.client.Query(ctx, queryListHistoryLimit, limit)
	} else {
		rows, err = s.client.Query(ctx, queryListHistory)
	}
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	out := make([]store.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		e, err := decodeHistory(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Load implements vars.Backend.
func (s *Store) Load(ctx context.Context, ref vars.ScopeRef) (map[string]interface{}, error) {
	rows, err := s.client.Query(ctx, queryLoadVariables, string(ref.Scope), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("load variables %s: %w", ref, err)
	}
	out := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		var v interface{}
		if err := json.Unmarshal([]byte(asString(row["value"])), &v); err != nil {
			return nil, fmt.Errorf("decode variable %s in %s: %w", asString(row["name"]), ref, err)
		}
		out[asString(row["name"])] = v
	}
	return out, nil
}

// Apply implements vars.Backend. All changes commit in one transaction.
func (s *Store) Apply(ctx context.Context, ref vars.ScopeRef, changes []vars.Change) (err error) {
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback error: %w)", err, rbErr)
			}
		}
	}()

	for _, c := range changes {
		if c.Deleted {
			if err = tx.Execute(ctx, queryDeleteVariable, string(ref.Scope), ref.ID, c.Name); err != nil {
				return fmt.Errorf("delete variable %s in %s: %w", c.Name, ref, err)
			}
			continue
		}
		data, encErr := json.Marshal(c.Value)
		if encErr != nil {
			err = fmt.Errorf("encode variable %s: %w", c.Name, encErr)
			return err
		}
		if err = tx.Execute(ctx, queryUpsertVariable, string(ref.Scope), ref.ID, c.Name, string(data)); err != nil {
			return fmt.Errorf("save variable %s in %s: %w", c.Name, ref, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit variables %s: %w", ref, err)
	}
	return nil
}

func decodeFlow(row map[string]interface{}) (*flow.Flow, error) {
	var f flow.Flow
	if err := json.Unmarshal([]byte(asString(row["definition"])), &f); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	id, err := asInt64(row["id"])
	if err != nil {
		return nil, err
	}
	f.ID = id
	return &f, nil
}

func decodeHistory(row map[string]interface{}) (store.HistoryEntry, error) {
	var e store.HistoryEntry
	var err error
	if e.ID, err = asInt64(row["id"]); err != nil {
		return e, err
	}
	status, err := asInt64(row["status_code"])
	if err != nil {
		return e, err
	}
	if e.DurationMs, err = asInt64(row["duration_ms"]); err != nil {
		return e, err
	}
	e.StatusCode = int(status)
	e.RunID = asString(row["run_id"])
	e.Method = asString(row["method"])
	e.URL = asString(row["url"])
	e.Error = asString(row["error"])
	e.Success = asBool(row["success"])
	if t, err := time.Parse(time.RFC3339Nano, asString(row["created_at"])); err == nil {
		e.CreatedAt = t
	}
	if raw := asString(row["request"]); raw != "" {
		e.Request = &core.Request{}
		if err := json.Unmarshal([]byte(raw), e.Request); err != nil {
			return e, fmt.Errorf("decode history request: %w", err)
		}
	}
	if raw := asString(row["response"]); raw != "" {
		e.Response = &core.ExecuteResult{}
		if err := json.Unmarshal([]byte(raw), e.Response); err != nil {
			return e, fmt.Errorf("decode history response: %w", err)
		}
	}
	return e, nil
}

// encodeOptional returns nil for a nil pointer so the column stays NULL.
func encodeOptional(v interface{}) (interface{}, error) {
	switch p := v.(type) {
	case *core.Request:
		if p == nil {
			return nil, nil
		}
	case *core.ExecuteResult:
		if p == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unexpected integer column type %T", v)
}

func asBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case []byte:
		return string(b) == "1" || string(b) == "true" || string(b) == "t"
	case string:
		return b == "1" || b == "true" || b == "t"
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ store.FlowStore    = (*Store)(nil)
	_ store.ProxyStore   = (*Store)(nil)
	_ store.HistoryStore = (*Store)(nil)
	_ vars.Backend       = (*Store)(nil)
)
