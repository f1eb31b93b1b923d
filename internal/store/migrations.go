package store

import "database/sql"

// migrate runs all database migrations. Statements are idempotent so the
// whole list runs on every open.
func migrate(db *sql.DB) error {
	migrations := []string{
		// Every origin of statistics is a source row. Deleting a source
		// cascades to its statistics and to its kind-specific row.
		`CREATE TABLE IF NOT EXISTS source (
			id INTEGER PRIMARY KEY,
			kind INTEGER NOT NULL,
			time INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_source_kind ON source(kind)`,

		`CREATE TABLE IF NOT EXISTS activity_group (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS activity_journal (
			source_id INTEGER PRIMARY KEY REFERENCES source(id) ON DELETE CASCADE,
			group_id INTEGER NOT NULL REFERENCES activity_group(id),
			file_hash_id INTEGER REFERENCES file_hash(id),
			start INTEGER NOT NULL,
			finish INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_journal_start ON activity_journal(start)`,

		// Contiguous recording windows between timer start and stop events.
		`CREATE TABLE IF NOT EXISTS activity_timespan (
			id INTEGER PRIMARY KEY,
			activity_id INTEGER NOT NULL REFERENCES activity_journal(source_id) ON DELETE CASCADE,
			start INTEGER NOT NULL,
			finish INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_timespan_activity ON activity_timespan(activity_id)`,

		`CREATE TABLE IF NOT EXISTS monitor_journal (
			source_id INTEGER PRIMARY KEY REFERENCES source(id) ON DELETE CASCADE,
			file_hash_id INTEGER REFERENCES file_hash(id),
			start INTEGER NOT NULL,
			finish INTEGER NOT NULL
		)`,

		// Summary windows. Dirty intervals are recomputed by the summary
		// calculators on the next run.
		`CREATE TABLE IF NOT EXISTS interval (
			source_id INTEGER PRIMARY KEY REFERENCES source(id) ON DELETE CASCADE,
			schedule TEXT NOT NULL,
			owner TEXT NOT NULL,
			start INTEGER NOT NULL,
			finish INTEGER NOT NULL,
			dirty INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interval_range ON interval(start, finish)`,

		`CREATE TABLE IF NOT EXISTS composite_source (
			source_id INTEGER PRIMARY KEY REFERENCES source(id) ON DELETE CASCADE,
			n_components INTEGER NOT NULL
		)`,

		// Many-to-many edges from input sources to composite outputs. The
		// input edge is not cascaded so a deleted input leaves the composite
		// visibly short of components (dirty).
		`CREATE TABLE IF NOT EXISTS composite_component (
			id INTEGER PRIMARY KEY,
			input_source_id INTEGER NOT NULL,
			output_source_id INTEGER NOT NULL REFERENCES composite_source(source_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_composite_component_output ON composite_component(output_source_id)`,

		`CREATE TABLE IF NOT EXISTS statistic_name (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			owner TEXT NOT NULL,
			constraint_ TEXT NOT NULL DEFAULT '',
			kind INTEGER NOT NULL,
			units TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			UNIQUE (name, owner, constraint_)
		)`,

		// The journal header row; the value lives in one of the four typed
		// tables below keyed by the same id. IDs are assigned by the loader.
		`CREATE TABLE IF NOT EXISTS statistic_journal (
			id INTEGER PRIMARY KEY,
			name_id INTEGER NOT NULL REFERENCES statistic_name(id),
			source_id INTEGER REFERENCES source(id) ON DELETE CASCADE,
			time INTEGER NOT NULL,
			serial INTEGER,
			kind INTEGER NOT NULL,
			UNIQUE (name_id, source_id, time, serial)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_statistic_journal_source ON statistic_journal(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_statistic_journal_name_time ON statistic_journal(name_id, time)`,

		// The loader's dummy row has a NULL source. At most one may exist,
		// which is what serialises concurrent loaders.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_statistic_journal_dummy
			ON statistic_journal(name_id) WHERE source_id IS NULL`,

		`CREATE TABLE IF NOT EXISTS statistic_journal_int (
			id INTEGER PRIMARY KEY REFERENCES statistic_journal(id) ON DELETE CASCADE,
			value INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS statistic_journal_float (
			id INTEGER PRIMARY KEY REFERENCES statistic_journal(id) ON DELETE CASCADE,
			value REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS statistic_journal_text (
			id INTEGER PRIMARY KEY REFERENCES statistic_journal(id) ON DELETE CASCADE,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS statistic_journal_timestamp (
			id INTEGER PRIMARY KEY REFERENCES statistic_journal(id) ON DELETE CASCADE,
			value INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS file_hash (
			id INTEGER PRIMARY KEY,
			hash TEXT NOT NULL UNIQUE
		)`,

		`CREATE TABLE IF NOT EXISTS file_scan (
			path TEXT PRIMARY KEY,
			file_hash_id INTEGER NOT NULL REFERENCES file_hash(id),
			last_scan INTEGER NOT NULL
		)`,

		// Topics hang off the file hash rather than the activity so that
		// user-facing annotations survive a re-import.
		`CREATE TABLE IF NOT EXISTS topic_journal (
			id INTEGER PRIMARY KEY REFERENCES source(id) ON DELETE CASCADE,
			file_hash_id INTEGER NOT NULL UNIQUE REFERENCES file_hash(id)
		)`,

		// Dependency markers: owner has produced output for key. Missing row
		// means not yet produced.
		`CREATE TABLE IF NOT EXISTS pipeline_timestamp (
			id INTEGER PRIMARY KEY,
			owner TEXT NOT NULL,
			constraint_ TEXT NOT NULL DEFAULT '',
			key INTEGER NOT NULL,
			time INTEGER NOT NULL,
			UNIQUE (owner, constraint_, key)
		)`,

		// Worker subprocesses record themselves here so the parent can kill
		// survivors after a sibling failure.
		`CREATE TABLE IF NOT EXISTS process (
			id INTEGER PRIMARY KEY,
			owner TEXT NOT NULL,
			pid INTEGER NOT NULL,
			command TEXT NOT NULL,
			start INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS activity_similarity (
			id INTEGER PRIMARY KEY,
			constraint_ TEXT NOT NULL,
			lo INTEGER NOT NULL REFERENCES activity_journal(source_id) ON DELETE CASCADE,
			hi INTEGER NOT NULL REFERENCES activity_journal(source_id) ON DELETE CASCADE,
			similarity REAL NOT NULL,
			UNIQUE (constraint_, lo, hi)
		)`,

		`CREATE TABLE IF NOT EXISTS activity_nearby (
			id INTEGER PRIMARY KEY,
			constraint_ TEXT NOT NULL,
			grp INTEGER NOT NULL,
			activity_journal_id INTEGER NOT NULL REFERENCES activity_journal(source_id) ON DELETE CASCADE
		)`,

		// Ordered pipeline registry; class names resolve through the factory
		// registry populated at startup.
		`CREATE TABLE IF NOT EXISTS pipeline (
			id INTEGER PRIMARY KEY,
			type INTEGER NOT NULL,
			cls TEXT NOT NULL,
			args TEXT NOT NULL DEFAULT '',
			sort INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
