package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/devicelab-dev/apiflow/pkg/logger"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database types.
const (
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
)

// DBQuery is a named SQL statement. SQLite falls back to Query when it has
// no variant of its own.
type DBQuery struct {
	ID          string
	Query       string // PostgreSQL placeholders ($1, $2, ...)
	SQLiteQuery string
}

// GetQuery returns the statement for dbType.
func (q DBQuery) GetQuery(dbType string) string {
	if dbType == DBTypeSQLite && q.SQLiteQuery != "" {
		return q.SQLiteQuery
	}
	return q.Query
}

// DBClient runs named queries against one database.
type DBClient struct {
	db     *sql.DB
	dbType string
}

// NewDBClient wraps an open database handle.
func NewDBClient(db *sql.DB, dbType string) *DBClient {
	return &DBClient{db: db, dbType: dbType}
}

// Query runs a statement that returns rows and returns them as maps keyed
// by lower-cased column name.
func (c *DBClient) Query(ctx context.Context, query DBQuery, args ...interface{}) ([]map[string]interface{}, error) {
	log := logger.L().With(zap.String("component", "DBClient"))
	log.Debug("executing query", zap.String("queryID", query.ID))

	rows, err := c.db.QueryContext(ctx, query.GetQuery(c.dbType), args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Error("error closing rows", zap.Error(closeErr))
		}
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() {
		row := make([]interface{}, len(columns))
		rowPointers := make([]interface{}, len(columns))
		for i := range row {
			rowPointers[i] = &row[i]
		}
		if err := rows.Scan(rowPointers...); err != nil {
			return nil, err
		}

		result := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			result[strings.ToLower(col)] = row[i]
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Execute runs a statement without result rows and returns the number of
// affected rows.
func (c *DBClient) Execute(ctx context.Context, query DBQuery, args ...interface{}) (int64, error) {
	logger.L().Debug("executing query", zap.String("component", "DBClient"), zap.String("queryID", query.ID))

	res, err := c.db.ExecContext(ctx, query.GetQuery(c.dbType), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BeginTx starts a transaction.
func (c *DBClient) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, dbType: c.dbType}, nil
}

// Close closes the database handle.
func (c *DBClient) Close() error {
	return c.db.Close()
}

// Tx runs named queries inside a transaction.
type Tx struct {
	tx     *sql.Tx
	dbType string
}

// Execute runs a statement inside the transaction.
func (t *Tx) Execute(ctx context.Context, query DBQuery, args ...interface{}) error {
	_, err := t.tx.ExecContext(ctx, query.GetQuery(t.dbType), args...)
	return err
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
