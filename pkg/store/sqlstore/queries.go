package sqlstore

// Schema statements, applied in order by Migrate.
var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS flows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		definition TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS proxies (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS request_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		request TEXT,
		response TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS variables (
		scope TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (scope, scope_id, name)
	)`,
}

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS flows (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		definition TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS proxies (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS request_history (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		duration_ms BIGINT NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		request TEXT,
		response TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS variables (
		scope TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (scope, scope_id, name)
	)`,
}

var (
	queryGetFlow = DBQuery{
		ID:          "FLQ-00001",
		Query:       "SELECT id, definition FROM flows WHERE id = $1",
		SQLiteQuery: "SELECT id, definition FROM flows WHERE id = ?",
	}
	queryListFlows = DBQuery{
		ID:    "FLQ-00002",
		Query: "SELECT id, definition FROM flows ORDER BY id",
	}
	queryInsertFlow = DBQuery{
		ID:          "FLQ-00003",
		Query:       "INSERT INTO flows (name, definition, updated_at) VALUES ($1, $2, $3) RETURNING id",
		SQLiteQuery: "INSERT INTO flows (name, definition, updated_at) VALUES (?, ?, ?) RETURNING id",
	}
	queryUpsertFlow = DBQuery{
		ID: "FLQ-00004",
		Query: "INSERT INTO flows (id, name, definition, updated_at) VALUES ($1, $2, $3, $4) " +
			"ON CONFLICT (id) DO UPDATE SET name = excluded.name, definition = excluded.definition, " +
			"updated_at = excluded.updated_at",
		SQLiteQuery: "INSERT INTO flows (id, name, definition, updated_at) VALUES (?, ?, ?, ?) " +
			"ON CONFLICT (id) DO UPDATE SET name = excluded.name, definition = excluded.definition, " +
			"updated_at = excluded.updated_at",
	}

	queryGetProxy = DBQuery{
		ID:          "PXQ-00001",
		Query:       "SELECT id, name, url FROM proxies WHERE id = $1",
		SQLiteQuery: "SELECT id, name, url FROM proxies WHERE id = ?",
	}
	queryUpsertProxy = DBQuery{
		ID: "PXQ-00002",
		Query: "INSERT INTO proxies (id, name, url) VALUES ($1, $2, $3) " +
			"ON CONFLICT (id) DO UPDATE SET name = excluded.name, url = excluded.url",
		SQLiteQuery: "INSERT INTO proxies (id, name, url) VALUES (?, ?, ?) " +
			"ON CONFLICT (id) DO UPDATE SET name = excluded.name, url = excluded.url",
	}

	queryInsertHistory = DBQuery{
		ID: "HSQ-00001",
		Query: "INSERT INTO request_history (run_id, method, url, status_code, duration_ms, success, error, " +
			"request, response, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id",
		SQLiteQuery: "INSERT INTO request_history (run_id, method, url, status_code, duration_ms, success, error, " +
			"request, response, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id",
	}
	queryListHistory = DBQuery{
		ID: "HSQ-00002",
		Query: "SELECT id, run_id, method, url, status_code, duration_ms, success, error, request, response, " +
			"created_at FROM request_history ORDER BY id DESC",
	}
	queryListHistoryLimit = DBQuery{
		ID: "HSQ-00003",
		Query: "SELECT id, run_id, method, url, status_code, duration_ms, success, error, request, response, " +
			"created_at FROM request_history ORDER BY id DESC LIMIT $1",
		SQLiteQuery: "SELECT id, run_id, method, url, status_code, duration_ms, success, error, request, response, " +
			"created_at FROM request_history ORDER BY id DESC LIMIT ?",
	}

	queryLoadVariables = DBQuery{
		ID:          "VRQ-00001",
		Query:       "SELECT name, value FROM variables WHERE scope = $1 AND scope_id = $2",
		SQLiteQuery: "SELECT name, value FROM variables WHERE scope = ? AND scope_id = ?",
	}
	queryUpsertVariable = DBQuery{
		ID: "VRQ-00002",
		Query: "INSERT INTO variables (scope, scope_id, name, value) VALUES ($1, $2, $3, $4) " +
			"ON CONFLICT (scope, scope_id, name) DO UPDATE SET value = excluded.value",
		SQLiteQuery: "INSERT INTO variables (scope, scope_id, name, value) VALUES (?, ?, ?, ?) " +
			"ON CONFLICT (scope, scope_id, name) DO UPDATE SET value = excluded.value",
	}
	queryDeleteVariable = DBQuery{
		ID:          "VRQ-00003",
		Query:       "DELETE FROM variables WHERE scope = $1 AND scope_id = $2 AND name = $3",
		SQLiteQuery: "DELETE FROM variables WHERE scope = ? AND scope_id = ? AND name = ?",
	}
)

// queryResyncFlowSequence keeps the PostgreSQL sequence ahead of flows
// saved with explicit IDs.
var queryResyncFlowSequence = DBQuery{
	ID:    "FLQ-00005",
	Query: "SELECT setval(pg_get_serial_sequence('flows', 'id'), GREATEST(MAX(id), 1)) FROM flows",
}
