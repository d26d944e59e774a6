// Package classpathcache persists resolved classpaths in SQLite so a restart
// does not have to invoke the build tools again.
package classpathcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"groovyls/internal/classpath"
)

const currentSchemaVersion = 1

// Store is a classpath.Cache backed by one SQLite file.
type Store struct {
	conn   *sql.DB
	logger *slog.Logger
	path   string
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

var _ classpath.Cache = (*Store)(nil)

// Open opens or creates the cache database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open classpath cache: %w", err)
	}
	// pragmas are per connection
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		conn.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		conn.Close()
		return nil, err
	}

	s := &Store{conn: conn, logger: logger, path: path, enc: enc, dec: dec}
	if err := s.initializeSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the connection and codecs.
func (s *Store) Close() error {
	s.dec.Close()
	_ = s.enc.Close()
	return s.conn.Close()
}

func (s *Store) initializeSchema() error {
	return s.withTx(context.Background(), func(tx *sql.Tx) error {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
			`CREATE TABLE IF NOT EXISTS workspaces (
				workspace_root TEXT PRIMARY KEY,
				topology_hash  TEXT NOT NULL,
				project_count  INTEGER NOT NULL,
				updated_at     INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS classpaths (
				workspace_root   TEXT NOT NULL,
				project_root     TEXT NOT NULL,
				entries          BLOB NOT NULL,
				entry_count      INTEGER NOT NULL,
				language_version TEXT NOT NULL DEFAULT '',
				build_file_hash  TEXT NOT NULL DEFAULT '',
				updated_at       INTEGER NOT NULL,
				PRIMARY KEY (workspace_root, project_root)
			)`,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return err
			}
		}

		var version int
		err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion)
			return err
		case err != nil:
			return err
		case version > currentSchemaVersion:
			return fmt.Errorf("classpath cache schema %d not supported (max: %d)", version, currentSchemaVersion)
		}
		return nil
	})
}

// withTx runs fn in a transaction, rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to rollback transaction", "error", err.Error(), "rollbackError", rbErr.Error())
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) encode(entries []string) ([]byte, error) {
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return s.enc.EncodeAll(raw, nil), nil
}

func (s *Store) decode(blob []byte) ([]string, error) {
	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, err
	}
	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Get returns the cached classpath of projectRoot.
func (s *Store) Get(ctx context.Context, workspaceRoot, projectRoot string) (classpath.CachedProject, bool, error) {
	var blob []byte
	var p classpath.CachedProject
	err := s.conn.QueryRowContext(ctx,
		`SELECT entries, language_version, build_file_hash FROM classpaths
		 WHERE workspace_root = ? AND project_root = ?`,
		workspaceRoot, projectRoot,
	).Scan(&blob, &p.LanguageVersion, &p.BuildFileHash)
	if errors.Is(err, sql.ErrNoRows) {
		return classpath.CachedProject{}, false, nil
	}
	if err != nil {
		return classpath.CachedProject{}, false, err
	}
	p.Entries, err = s.decode(blob)
	if err != nil {
		s.logger.Warn("Dropping unreadable cache entry", "project", projectRoot, "error", err.Error())
		_ = s.InvalidateProject(ctx, workspaceRoot, projectRoot)
		return classpath.CachedProject{}, false, nil
	}
	return p, true, nil
}

// Put stores the classpath of projectRoot, replacing any previous entry.
func (s *Store) Put(ctx context.Context, workspaceRoot, projectRoot string, p classpath.CachedProject) error {
	blob, err := s.encode(p.Entries)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO classpaths (workspace_root, project_root, entries, entry_count, language_version, build_file_hash, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (workspace_root, project_root) DO UPDATE SET
		   entries = excluded.entries,
		   entry_count = excluded.entry_count,
		   language_version = excluded.language_version,
		   build_file_hash = excluded.build_file_hash,
		   updated_at = excluded.updated_at`,
		workspaceRoot, projectRoot, blob, len(p.Entries), p.LanguageVersion, p.BuildFileHash, time.Now().Unix(),
	)
	return err
}

// TopologyHash identifies a set of project roots independent of order.
func TopologyHash(roots []string) string {
	sorted := append([]string(nil), roots...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// SyncTopology records roots for workspaceRoot. When they differ from the
// stored topology every cached classpath of the workspace is dropped.
func (s *Store) SyncTopology(ctx context.Context, workspaceRoot string, roots []string) (bool, error) {
	hash := TopologyHash(roots)
	invalidated := false

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var stored string
		err := tx.QueryRowContext(ctx,
			`SELECT topology_hash FROM workspaces WHERE workspace_root = ?`, workspaceRoot,
		).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case stored != hash:
			if _, err := tx.ExecContext(ctx, `DELETE FROM classpaths WHERE workspace_root = ?`, workspaceRoot); err != nil {
				return err
			}
			invalidated = true
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO workspaces (workspace_root, topology_hash, project_count, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (workspace_root) DO UPDATE SET
			   topology_hash = excluded.topology_hash,
			   project_count = excluded.project_count,
			   updated_at = excluded.updated_at`,
			workspaceRoot, hash, len(roots), time.Now().Unix(),
		)
		return err
	})
	if err != nil {
		return false, err
	}
	if invalidated {
		s.logger.Info("Classpath cache invalidated by topology change", "workspace", workspaceRoot)
	}
	return invalidated, nil
}

// InvalidateProject drops the entry of projectRoot.
func (s *Store) InvalidateProject(ctx context.Context, workspaceRoot, projectRoot string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM classpaths WHERE workspace_root = ? AND project_root = ?`, workspaceRoot, projectRoot)
	return err
}

// Clear drops everything stored for workspaceRoot.
func (s *Store) Clear(ctx context.Context, workspaceRoot string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM classpaths WHERE workspace_root = ?`, workspaceRoot); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM workspaces WHERE workspace_root = ?`, workspaceRoot)
		return err
	})
}

// Stats summarizes what is cached for a workspace.
type Stats struct {
	Projects   int   `json:"projects" yaml:"projects"`
	Entries    int   `json:"entries" yaml:"entries"`
	BlobBytes  int64 `json:"blobBytes" yaml:"blobBytes"`
	LastUpdate int64 `json:"lastUpdate,omitempty" yaml:"lastUpdate,omitempty"`
}

// Stats returns cache statistics for workspaceRoot.
func (s *Store) Stats(ctx context.Context, workspaceRoot string) (Stats, error) {
	var st Stats
	var last sql.NullInt64
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(entry_count), 0), COALESCE(SUM(LENGTH(entries)), 0), MAX(updated_at)
		 FROM classpaths WHERE workspace_root = ?`, workspaceRoot,
	).Scan(&st.Projects, &st.Entries, &st.BlobBytes, &last)
	if err != nil {
		return Stats{}, err
	}
	st.LastUpdate = last.Int64
	return st, nil
}
