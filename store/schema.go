package store

// Fixed DDL for the three bookkeeping tables the local store owns outright.
// Following the teacher's CREATE TABLE IF NOT EXISTS / idx_* naming
// convention from internal/db's schema bootstrap.
const (
	schemaMetadata = `
CREATE TABLE IF NOT EXISTS sync_metadata (
	table_name TEXT PRIMARY KEY,
	last_sync_at INTEGER,
	pending_count INTEGER NOT NULL DEFAULT 0,
	failed_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

	schemaConflicts = `
CREATE TABLE IF NOT EXISTS sync_conflicts (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	local_data TEXT,
	remote_data TEXT,
	conflict_type TEXT NOT NULL,
	detected_at INTEGER NOT NULL,
	is_resolved INTEGER NOT NULL DEFAULT 0,
	resolved_at INTEGER,
	resolution_strategy TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

	idxConflictsEntity = `CREATE INDEX IF NOT EXISTS idx_sync_conflicts_entity_id ON sync_conflicts(entity_id)`
	idxConflictsOpen   = `CREATE INDEX IF NOT EXISTS idx_sync_conflicts_is_resolved ON sync_conflicts(is_resolved)`

	schemaQueue = `
CREATE TABLE IF NOT EXISTS sync_queue (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL,
	table_name TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	operation TEXT NOT NULL DEFAULT 'push',
	payload TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	next_retry_at INTEGER,
	last_error TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

	idxQueueEntity   = `CREATE INDEX IF NOT EXISTS idx_sync_queue_entity_id ON sync_queue(entity_id)`
	idxQueueNextRetry = `CREATE INDEX IF NOT EXISTS idx_sync_queue_next_retry_at ON sync_queue(next_retry_at)`

	// schemaHistory is an append-only audit trail of push/pull outcomes,
	// grounded on the teacher's sync_history table (internal/db/sync_history.go),
	// adapted to millisecond epoch timestamps instead of SQLite DATETIME.
	schemaHistory = `
CREATE TABLE IF NOT EXISTS sync_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	direction TEXT NOT NULL,
	action_type TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	device_id TEXT,
	timestamp INTEGER NOT NULL
)`

	idxHistoryTimestamp = `CREATE INDEX IF NOT EXISTS idx_sync_history_timestamp ON sync_history(timestamp)`
)

// entityTableDDL builds the CREATE TABLE + index statements for a registered
// entity table (spec §3/§4.3): id primary key, payload blob, the indexed
// control columns, version defaulting to 1, is_deleted defaulting to 0.
func entityTableDDL(table string) []string {
	create := `
CREATE TABLE IF NOT EXISTS ` + table + ` (
	id TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	version INTEGER NOT NULL DEFAULT 1,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	synced_at INTEGER,
	deleted_at INTEGER,
	metadata TEXT,
	last_error TEXT
)`

	return []string{
		create,
		`CREATE INDEX IF NOT EXISTS idx_` + table + `_created_at ON ` + table + `(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_` + table + `_updated_at ON ` + table + `(updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_` + table + `_synced_at ON ` + table + `(synced_at)`,
		`CREATE INDEX IF NOT EXISTS idx_` + table + `_sync_status ON ` + table + `(sync_status)`,
	}
}

func bootstrapDDL() []string {
	return []string{
		schemaMetadata,
		schemaConflicts,
		idxConflictsEntity,
		idxConflictsOpen,
		schemaQueue,
		idxQueueEntity,
		idxQueueNextRetry,
		schemaHistory,
		idxHistoryTimestamp,
	}
}
