package jobengine

import (
	"context"
	"database/sql"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"
)

// jobRecord is the CBOR-serializable projection of a terminal Job persisted
// to disk. The Engine writes these records but does not read them back, so
// job_get does not see jobs from an earlier process.
type jobRecord struct {
	ID         string
	Kind       string
	VMID       string
	State      State
	Progress   *int
	StartedAt  time.Time
	FinishedAt time.Time
	Result     any
	ErrMsg     string
	Committed  string
}

func toRecord(j *Job) jobRecord {
	rec := jobRecord{
		ID: j.ID, Kind: j.Kind, VMID: j.VMID, State: j.State,
		Progress: j.Progress, StartedAt: j.StartedAt, FinishedAt: j.FinishedAt,
		Result: j.Result, Committed: j.Committed,
	}
	if j.Err != nil {
		rec.ErrMsg = j.Err.Error()
	}
	return rec
}

// store persists terminal job records and evicts them after result_ttl. It
// is an internal durability layer, not the system of record — the in-memory
// table is the only source Get and List read.
type store struct {
	db *sql.DB
}

func openStore(path string) (*store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		finished_at INTEGER NOT NULL,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &store{db: db}, nil
}

func (s *store) put(ctx context.Context, j *Job) error {
	data, err := cbor.Marshal(toRecord(j))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, finished_at, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET finished_at = excluded.finished_at, data = excluded.data`,
		j.ID, j.FinishedAt.Unix(), data)
	return err
}

func (s *store) loadAll(ctx context.Context) ([]jobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec jobRecord
		if err := cbor.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *store) evictOlderThan(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE finished_at < ?`, cutoff.Unix())
	return err
}

func (s *store) close() error { return s.db.Close() }
