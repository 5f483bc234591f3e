package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/state"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS checkpoint_versions (
	version_id    TEXT PRIMARY KEY,
	handle        TEXT NOT NULL,
	parent_id     TEXT,
	payload       BLOB NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES checkpoint_versions(version_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoint_versions_handle
	ON checkpoint_versions(handle, created_at);

CREATE TABLE IF NOT EXISTS active_checkpoint (
	handle        TEXT PRIMARY KEY,
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES checkpoint_versions(version_id)
);
`

// #endregion schema

// #region store-struct
// SQLiteStore keeps every written checkpoint as a version and tracks the
// active version per handle, so a bad checkpoint can be rolled back.
type SQLiteStore struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreWithDB wraps an existing *sql.DB whose schema is already applied.
func NewSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// SQLiteOpener returns an Opener that opens dbPath for each operation.
func SQLiteOpener(dbPath string) Opener {
	return func(context.Context) (Store, error) {
		return NewSQLiteStore(dbPath)
	}
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. telemetry).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region write
// Write inserts a new version for handle, parented on the current active
// version, and moves the active pointer atomically.
func (s *SQLiteStore) Write(ctx context.Context, handle string, data []byte) error {
	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parent sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT version_id FROM active_checkpoint WHERE handle = ?`, handle,
	).Scan(&parent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get active: %w", err)
	}

	var parentPtr interface{}
	if parent.Valid {
		parentPtr = parent.String
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoint_versions (version_id, handle, parent_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, handle, parentPtr, data, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO active_checkpoint (handle, version_id) VALUES (?, ?)
		 ON CONFLICT(handle) DO UPDATE SET version_id = excluded.version_id`,
		handle, id,
	)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion write

// #region read
// Read returns the payload of the active version for handle.
func (s *SQLiteStore) Read(ctx context.Context, handle string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT v.payload FROM active_checkpoint a
		 JOIN checkpoint_versions v ON v.version_id = a.version_id
		 WHERE a.handle = ?`, handle,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read %s: %w", handle, state.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", handle, err)
	}
	return payload, nil
}

// #endregion read

// #region get-version
// GetVersion retrieves a specific version by ID.
func (s *SQLiteStore) GetVersion(ctx context.Context, id string) (Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT v.version_id, v.handle, v.parent_id, v.payload, v.created_at,
		        a.version_id IS NOT NULL
		 FROM checkpoint_versions v
		 LEFT JOIN active_checkpoint a ON a.version_id = v.version_id
		 WHERE v.version_id = ?`, id,
	)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, fmt.Errorf("get version %s: %w", id, state.ErrNotFound)
	}
	if err != nil {
		return Version{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return v, nil
}

// #endregion get-version

// #region rollback
// Rollback points handle's active version at a previous version of the same handle.
func (s *SQLiteStore) Rollback(ctx context.Context, handle, targetVersionID string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkpoint_versions WHERE version_id = ? AND handle = ?`,
		targetVersionID, handle,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s of %s: %w", targetVersionID, handle, state.ErrNotFound)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE active_checkpoint SET version_id = ? WHERE handle = ?`, targetVersionID, handle,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// #endregion rollback

// #region list-versions
// ListVersions returns the most recent versions of handle, newest first.
// An empty handle lists across all handles.
func (s *SQLiteStore) ListVersions(ctx context.Context, handle string, limit int) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.version_id, v.handle, v.parent_id, v.payload, v.created_at,
		        a.version_id IS NOT NULL
		 FROM checkpoint_versions v
		 LEFT JOIN active_checkpoint a ON a.version_id = v.version_id
		 WHERE ? = '' OR v.handle = ?
		 ORDER BY v.created_at DESC LIMIT ?`, handle, handle, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// #endregion list-versions

// #region scan
type scanner interface {
	Scan(dest ...any) error
}

func scanVersion(r scanner) (Version, error) {
	var v Version
	var parentID sql.NullString
	var createdStr string
	if err := r.Scan(&v.VersionID, &v.Handle, &parentID, &v.Payload, &createdStr, &v.Active); err != nil {
		return Version{}, err
	}
	if parentID.Valid {
		v.ParentID = parentID.String
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return v, nil
}

// #endregion scan
