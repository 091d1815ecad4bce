// Package backupstore is the persisted-state layer backing vm_management's
// export/import actions: a Backup record for every export is written
// atomically as a per-backup backup_info.json sidecar (the authoritative
// on-disk record, stable enough for external tools to read directly) and
// mirrored into a local sqlite index for fast listing and lookup.
package backupstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
)

// Format enumerates the on-disk shape of a backup.
type Format string

const (
	FormatOVA      Format = "ova"
	FormatOVF      Format = "ovf"
	FormatDiskOnly Format = "disk_only"
)

// Backup is the immutable record of one export, per spec.md §3.
type Backup struct {
	ID        string         `json:"id"`
	VMName    string         `json:"vm_name"`
	CreatedAt time.Time      `json:"created_at"`
	Format    Format         `json:"format"`
	Path      string         `json:"path"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Store indexes Backup records in sqlite; backup_info.json alongside Path
// remains the authoritative record per spec.md §6 — the index exists purely
// to make backup_list fast without a directory walk.
type Store struct {
	db  *sql.DB
	dir string
}

// Open creates (if needed) the sqlite index at <dir>/backups.sqlite. dir
// also holds every backup's directory (<dir>/<id>/...).
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "backups.sqlite"))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS backups (
		id TEXT PRIMARY KEY,
		vm_name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		format TEXT NOT NULL,
		path TEXT NOT NULL,
		metadata TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, dir: dir}, nil
}

// BackupDir returns the directory a backup with the given id should live
// under: <store dir>/<id>/.
func (s *Store) BackupDir(id string) string {
	return filepath.Join(s.dir, id)
}

// Put writes backup_info.json atomically (temp file + rename, per spec.md
// §6) alongside the export artifact, then indexes the record.
func (s *Store) Put(ctx context.Context, b Backup) error {
	dir := s.BackupDir(b.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "backup_info-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, "backup_info.json")); err != nil {
		os.Remove(tmpPath)
		return err
	}

	meta, err := json.Marshal(b.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO backups (id, vm_name, created_at, format, path, metadata) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET vm_name=excluded.vm_name, created_at=excluded.created_at,
		   format=excluded.format, path=excluded.path, metadata=excluded.metadata`,
		b.ID, b.VMName, b.CreatedAt.Unix(), string(b.Format), b.Path, string(meta))
	return err
}

// Get looks up a backup by id. Returns a not_found HandlerError if absent —
// backupstore is called directly from handlers, so it speaks their error
// vocabulary rather than a bespoke sentinel.
func (s *Store) Get(ctx context.Context, id string) (*Backup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, vm_name, created_at, format, path, metadata FROM backups WHERE id = ?`, id)
	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, toolregistry.NewErrorf(toolregistry.KindNotFound, nil, "backup %s not found", id)
	}
	return b, err
}

// List returns backups, optionally filtered by vm_name (empty = all),
// newest first.
func (s *Store) List(ctx context.Context, vmName string) ([]Backup, error) {
	var rows *sql.Rows
	var err error
	if vmName == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT id, vm_name, created_at, format, path, metadata FROM backups ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, vm_name, created_at, format, path, metadata FROM backups WHERE vm_name = ? ORDER BY created_at DESC`, vmName)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBackup(row scanner) (*Backup, error) {
	var b Backup
	var createdAt int64
	var format, metadata string
	if err := row.Scan(&b.ID, &b.VMName, &createdAt, &format, &b.Path, &metadata); err != nil {
		return nil, err
	}
	b.CreatedAt = time.Unix(createdAt, 0).UTC()
	b.Format = Format(format)
	if metadata != "" && metadata != "null" {
		_ = json.Unmarshal([]byte(metadata), &b.Metadata)
	}
	return &b, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
