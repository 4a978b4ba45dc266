package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/normadata/boerag/internal/errors"
)

// Store owns the SQLite database and exposes the entity repositories.
type Store struct {
	db   *sql.DB
	path string

	// DryRun disables every write; reads behave normally. Repositories
	// still report what they would have done via their return values.
	DryRun bool
}

// Open opens (creating if needed) the document store at path and
// ensures the schema and index set.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreOpen, err)
	}

	// WAL mode for concurrent access across worker processes;
	// busy_timeout handles lock contention.
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreOpen, err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite; set pragmas
	// explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(errors.ErrCodeStoreOpen, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.ensureIndexes(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for diagnostics commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS normas (
		id_norma             TEXT PRIMARY KEY,
		titulo               TEXT NOT NULL DEFAULT '',
		rango_codigo         TEXT NOT NULL DEFAULT '',
		rango_texto          TEXT NOT NULL DEFAULT '',
		ambito_codigo        TEXT NOT NULL DEFAULT '',
		ambito_texto         TEXT NOT NULL DEFAULT '',
		departamento_codigo  TEXT NOT NULL DEFAULT '',
		departamento_texto   TEXT NOT NULL DEFAULT '',
		territorio_tipo      TEXT NOT NULL DEFAULT '',
		territorio_codigo    TEXT NOT NULL DEFAULT '',
		territorio_nombre    TEXT NOT NULL DEFAULT '',
		fecha_actualizacion  TEXT,
		fecha_publicacion    TEXT,
		fecha_disposicion    TEXT,
		url_html_consolidada TEXT NOT NULL DEFAULT '',
		raw_json             TEXT NOT NULL DEFAULT '',
		first_seen_at        TEXT NOT NULL,
		last_seen_at         TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS indices (
		id_indice               TEXT PRIMARY KEY,
		id_norma                TEXT NOT NULL,
		fecha_actualizacion_raw TEXT NOT NULL DEFAULT '',
		fecha_actualizacion     TEXT,
		hash_xml                TEXT NOT NULL,
		hash_pretty             TEXT NOT NULL,
		file_path               TEXT NOT NULL,
		is_latest               INTEGER NOT NULL DEFAULT 0,
		created_at              TEXT NOT NULL,
		last_seen_at            TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bloques (
		id                      TEXT PRIMARY KEY,
		id_norma                TEXT NOT NULL,
		id_bloque               TEXT NOT NULL,
		tipo                    TEXT NOT NULL DEFAULT '',
		titulo                  TEXT NOT NULL DEFAULT '',
		fecha_actualizacion_raw TEXT NOT NULL DEFAULT '',
		url                     TEXT NOT NULL DEFAULT '',
		latest_version_id       TEXT NOT NULL DEFAULT '',
		created_at              TEXT NOT NULL,
		last_seen_at            TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS versions (
		id_version            TEXT PRIMARY KEY,
		id_norma              TEXT NOT NULL,
		id_bloque             TEXT NOT NULL,
		fecha_vigencia_raw    TEXT NOT NULL DEFAULT '',
		fecha_vigencia        TEXT,
		fecha_publicacion_raw TEXT NOT NULL DEFAULT '',
		fecha_publicacion     TEXT,
		id_norma_modificadora TEXT NOT NULL DEFAULT '',
		hash_xml              TEXT NOT NULL,
		file_path             TEXT NOT NULL DEFAULT '',
		texto_plano           TEXT NOT NULL DEFAULT '',
		texto_hash            TEXT NOT NULL DEFAULT '',
		chunk_method          TEXT NOT NULL DEFAULT '',
		chunk_size            INTEGER NOT NULL DEFAULT 0,
		chunk_overlap         INTEGER NOT NULL DEFAULT 0,
		is_latest             INTEGER NOT NULL DEFAULT 0,
		created_at            TEXT NOT NULL,
		last_seen_at          TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS unidades (
		id_unidad             TEXT PRIMARY KEY,
		id_norma              TEXT NOT NULL,
		unidad_tipo           TEXT NOT NULL,
		unidad_ref            TEXT NOT NULL,
		titulo                TEXT NOT NULL DEFAULT '',
		orden                 INTEGER NOT NULL DEFAULT 0,
		fecha_vigencia_desde  TEXT,
		fecha_vigencia_hasta  TEXT,
		fecha_publicacion_mod TEXT,
		id_norma_modificadora TEXT NOT NULL DEFAULT '',
		texto_plano           TEXT NOT NULL DEFAULT '',
		texto_hash            TEXT NOT NULL DEFAULT '',
		n_chars               INTEGER NOT NULL DEFAULT 0,
		source_method         TEXT NOT NULL DEFAULT '',
		bloques_origen        TEXT NOT NULL DEFAULT '[]',
		indice_hash           TEXT NOT NULL DEFAULT '',
		version_hashes        TEXT NOT NULL DEFAULT '[]',
		territorio_tipo       TEXT NOT NULL DEFAULT '',
		territorio_codigo     TEXT NOT NULL DEFAULT '',
		territorio_nombre     TEXT NOT NULL DEFAULT '',
		rango                 TEXT NOT NULL DEFAULT '',
		ambito                TEXT NOT NULL DEFAULT '',
		departamento          TEXT NOT NULL DEFAULT '',
		url_html_consolidada  TEXT NOT NULL DEFAULT '',
		url_eli               TEXT NOT NULL DEFAULT '',
		tags                  TEXT NOT NULL DEFAULT '[]',
		is_heading_only       INTEGER NOT NULL DEFAULT 0,
		skip_retrieval        INTEGER NOT NULL DEFAULT 0,
		quality_reason        TEXT NOT NULL DEFAULT '',
		lineage_key           TEXT NOT NULL,
		is_latest             INTEGER NOT NULL DEFAULT 0,
		created_at            TEXT NOT NULL,
		last_seen_at          TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks_semanticos (
		id_chunk             TEXT PRIMARY KEY,
		id_unidad            TEXT NOT NULL,
		id_norma             TEXT NOT NULL,
		chunk_index          INTEGER NOT NULL,
		texto                TEXT NOT NULL,
		texto_hash           TEXT NOT NULL,
		chunking_hash        TEXT NOT NULL,
		chunk_method         TEXT NOT NULL DEFAULT '',
		chunk_size           INTEGER NOT NULL DEFAULT 0,
		chunk_overlap        INTEGER NOT NULL DEFAULT 0,
		unidad_tipo          TEXT NOT NULL DEFAULT '',
		unidad_ref           TEXT NOT NULL DEFAULT '',
		titulo               TEXT NOT NULL DEFAULT '',
		territorio_tipo      TEXT NOT NULL DEFAULT '',
		territorio_codigo    TEXT NOT NULL DEFAULT '',
		territorio_nombre    TEXT NOT NULL DEFAULT '',
		fecha_vigencia_desde TEXT,
		fecha_vigencia_hasta TEXT,
		url_html_consolidada TEXT NOT NULL DEFAULT '',
		url_eli              TEXT NOT NULL DEFAULT '',
		tags                 TEXT NOT NULL DEFAULT '[]',
		created_at           TEXT NOT NULL,
		last_seen_at         TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id_chunk      TEXT PRIMARY KEY,
		id_version    TEXT NOT NULL,
		id_norma      TEXT NOT NULL,
		id_bloque     TEXT NOT NULL,
		chunk_index   INTEGER NOT NULL,
		texto         TEXT NOT NULL,
		texto_hash    TEXT NOT NULL,
		chunking_hash TEXT NOT NULL,
		created_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS territorios (
		codigo              TEXT PRIMARY KEY,
		nombre              TEXT NOT NULL,
		tipo                TEXT NOT NULL,
		departamento_codigo TEXT NOT NULL DEFAULT '',
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		id_norma                      TEXT PRIMARY KEY,
		status                        TEXT NOT NULL DEFAULT 'pending',
		sync_status                   TEXT NOT NULL DEFAULT 'pending',
		sync_last_started_at          TEXT,
		sync_last_finished_at         TEXT,
		sync_last_error               TEXT NOT NULL DEFAULT '',
		sync_attempts                 INTEGER NOT NULL DEFAULT 0,
		build_units_status            TEXT NOT NULL DEFAULT 'pending',
		build_units_last_started_at   TEXT,
		build_units_last_finished_at  TEXT,
		build_units_last_error        TEXT NOT NULL DEFAULT '',
		build_units_attempts          INTEGER NOT NULL DEFAULT 0,
		build_chunks_status           TEXT NOT NULL DEFAULT 'pending',
		build_chunks_last_started_at  TEXT,
		build_chunks_last_finished_at TEXT,
		build_chunks_last_error       TEXT NOT NULL DEFAULT '',
		build_chunks_attempts         INTEGER NOT NULL DEFAULT 0,
		index_status                  TEXT NOT NULL DEFAULT 'pending',
		index_last_started_at         TEXT,
		index_last_finished_at        TEXT,
		index_last_error              TEXT NOT NULL DEFAULT '',
		index_attempts                INTEGER NOT NULL DEFAULT 0,
		last_seen_at                  TEXT NOT NULL,
		last_started_at               TEXT,
		last_finished_at              TEXT,
		last_error_message            TEXT NOT NULL DEFAULT '',
		created_at                    TEXT NOT NULL,
		updated_at                    TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(errors.ErrCodeStoreOpen, err)
	}
	return nil
}

// syncStateIndexes is the authoritative definition of the sync_state
// index set. Existing indices with a different definition are dropped
// and recreated at open.
var syncStateIndexes = map[string]string{
	"idx_sync_state_sync":         "CREATE INDEX idx_sync_state_sync ON sync_state (sync_status, sync_last_started_at)",
	"idx_sync_state_build_units":  "CREATE INDEX idx_sync_state_build_units ON sync_state (build_units_status, build_units_last_started_at)",
	"idx_sync_state_build_chunks": "CREATE INDEX idx_sync_state_build_chunks ON sync_state (build_chunks_status, build_chunks_last_started_at)",
	"idx_sync_state_index":        "CREATE INDEX idx_sync_state_index ON sync_state (index_status, index_last_started_at)",
	"idx_sync_state_status":       "CREATE INDEX idx_sync_state_status ON sync_state (status, last_seen_at)",
}

func (s *Store) ensureIndexes() error {
	static := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_bloques_norma_bloque ON bloques (id_norma, id_bloque)",
		"CREATE INDEX IF NOT EXISTS idx_indices_norma ON indices (id_norma, is_latest)",
		"CREATE INDEX IF NOT EXISTS idx_versions_norma_bloque ON versions (id_norma, id_bloque)",
		"CREATE INDEX IF NOT EXISTS idx_unidades_norma ON unidades (id_norma)",
		"CREATE INDEX IF NOT EXISTS idx_unidades_lineage ON unidades (lineage_key, fecha_vigencia_desde)",
		"CREATE INDEX IF NOT EXISTS idx_unidades_territorio ON unidades (territorio_codigo)",
		"CREATE INDEX IF NOT EXISTS idx_chunks_sem_unidad ON chunks_semanticos (id_unidad, chunking_hash)",
		"CREATE INDEX IF NOT EXISTS idx_chunks_sem_norma ON chunks_semanticos (id_norma)",
		"CREATE INDEX IF NOT EXISTS idx_chunks_legacy_version ON chunks (id_version, chunking_hash)",
	}
	for _, stmt := range static {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(errors.ErrCodeStoreOpen, err)
		}
	}

	for name, want := range syncStateIndexes {
		var existing sql.NullString
		err := s.db.QueryRow(
			"SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?", name,
		).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			if _, err := s.db.Exec(want); err != nil {
				return errors.Wrap(errors.ErrCodeStoreOpen, err)
			}
		case err != nil:
			return errors.Wrap(errors.ErrCodeStoreOpen, err)
		case !sameIndexSQL(existing.String, want):
			if _, err := s.db.Exec("DROP INDEX " + name); err != nil {
				return errors.Wrap(errors.ErrCodeStoreOpen, err)
			}
			if _, err := s.db.Exec(want); err != nil {
				return errors.Wrap(errors.ErrCodeStoreOpen, err)
			}
		}
	}
	return nil
}

func sameIndexSQL(a, b string) bool {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(a) == norm(b)
}

// exec runs a write statement unless DryRun is set, in which case it
// reports zero rows affected.
func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	if s.DryRun {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeStoreWrite, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- time and json helpers ---

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
