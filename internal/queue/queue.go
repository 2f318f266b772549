// Package queue implements the Local Durable Queue (LDQ), AMOSKYS's
// per-agent at-least-once durable FIFO, and doubles as the
// bus's write-ahead log, structurally identical to the agent-side queue.
//
// It is backed by a single SQLite file via mattn/go-sqlite3, matching the
// embedded-relational-store pattern this system calls for and the sqlite
// usage in the reference pack.
package queue

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/amoskys/amoskys/internal/ack"
	"github.com/amoskys/amoskys/internal/envelope"
)

// Result is the outcome of Enqueue.
type Result int

const (
	Queued Result = iota
	Duplicate
	DroppedOversize
)

// Config controls LDQ limits. MaxEnvBytes matches the configuration surface's
// max_env_bytes default of 131072.
type Config struct {
	MaxEnvBytes int64
	MaxBytes    int64
	MaxRetries  int
}

// DefaultConfig returns sane per-agent defaults.
func DefaultConfig() Config {
	return Config{
		MaxEnvBytes: 131072,
		MaxBytes:    64 * 1024 * 1024,
		MaxRetries:  8,
	}
}

// Queue is a single-writer, single-reader durable FIFO over one SQLite
// file. The file is locked at Open time to enforce the "queue
// ownership" invariant: multiple writers to the same LDQ file would
// corrupt the journal (SPEC_FULL.md §9 design notes).
type Queue struct {
	cfg      Config
	db       *sql.DB
	path     string
	lockPath string

	mu sync.Mutex
}

// Open opens (creating if needed) the LDQ file at path, claims its
// writer lock, and migrates the schema.
func Open(path string, cfg Config) (*Queue, error) {
	lockPath := path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("queue: %s is locked by another writer: %w", path, err)
	}
	fmt.Fprintf(lockFile, "%d", os.Getpid())
	lockFile.Close()

	dsn := path + "?_journal_mode=WAL&_synchronous=FULL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer invariant, enforced in-process too

	q := &Queue{cfg: cfg, db: db, path: path, lockPath: lockPath}
	if err := q.migrate(); err != nil {
		db.Close()
		os.Remove(lockPath)
		return nil, err
	}
	return q, nil
}

func (q *Queue) migrate() error {
	_, err := q.db.Exec(`
CREATE TABLE IF NOT EXISTS queue (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	idem     TEXT UNIQUE NOT NULL,
	ts_ns    INTEGER NOT NULL,
	bytes    BLOB NOT NULL,
	checksum BLOB NOT NULL,
	retries  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_queue_ts_ns ON queue(ts_ns);
`)
	if err != nil {
		return fmt.Errorf("queue: migrate: %w", err)
	}
	return nil
}

// Close releases the SQLite handle and the writer lock.
func (q *Queue) Close() error {
	err := q.db.Close()
	os.Remove(q.lockPath)
	return err
}

func checksum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// Enqueue inserts env under idempotency key idem, applying dedup,
// oversize rejection, and tail-drop backpressure.
func (q *Queue) Enqueue(env *envelope.Envelope, idem string) (Result, error) {
	b, err := env.Marshal()
	if err != nil {
		return 0, fmt.Errorf("queue: marshal: %w", err)
	}
	if int64(len(b)) > q.cfg.MaxEnvBytes {
		return DroppedOversize, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var exists int
	if err := q.db.QueryRow(`SELECT COUNT(1) FROM queue WHERE idem = ?`, idem).Scan(&exists); err != nil {
		return 0, fmt.Errorf("queue: dedup check: %w", err)
	}
	if exists > 0 {
		return Duplicate, nil
	}

	sum := checksum(b)
	if _, err := q.db.Exec(
		`INSERT INTO queue (idem, ts_ns, bytes, checksum, retries) VALUES (?, ?, ?, ?, 0)`,
		idem, env.TsNs, b, sum,
	); err != nil {
		return 0, fmt.Errorf("queue: insert: %w", err)
	}

	if err := q.enforceBackpressure(); err != nil {
		return 0, err
	}
	return Queued, nil
}

// enforceBackpressure tail-drops the lowest-id rows until total_bytes <=
// max_bytes. Dropped rows are not reported as errors.
func (q *Queue) enforceBackpressure() error {
	for {
		var total sql.NullInt64
		if err := q.db.QueryRow(`SELECT SUM(LENGTH(bytes)) FROM queue`).Scan(&total); err != nil {
			return fmt.Errorf("queue: size_bytes: %w", err)
		}
		if !total.Valid || total.Int64 <= q.cfg.MaxBytes {
			return nil
		}
		if _, err := q.db.Exec(`DELETE FROM queue WHERE id = (SELECT MIN(id) FROM queue)`); err != nil {
			return fmt.Errorf("queue: tail-drop: %w", err)
		}
	}
}

// Size returns the number of rows currently queued.
func (q *Queue) Size() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(1) FROM queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: size: %w", err)
	}
	return n, nil
}

// SizeBytes returns the total serialized size of all queued rows.
func (q *Queue) SizeBytes() (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var total sql.NullInt64
	if err := q.db.QueryRow(`SELECT SUM(LENGTH(bytes)) FROM queue`).Scan(&total); err != nil {
		return 0, fmt.Errorf("queue: size_bytes: %w", err)
	}
	return total.Int64, nil
}

// Clear deletes every row and returns the number removed.
func (q *Queue) Clear() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(1) FROM queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: clear: %w", err)
	}
	if _, err := q.db.Exec(`DELETE FROM queue`); err != nil {
		return 0, fmt.Errorf("queue: clear: %w", err)
	}
	return n, nil
}

// PublishFunc is the contract drain invokes per row. Returning an error
// is treated the same as "raised": draining stops and
// the row's retry counter is incremented.
type PublishFunc func(env *envelope.Envelope) (ack.Ack, error)

type queuedRow struct {
	id      int64
	idem    string
	bytes   []byte
	retries int
}

// Drain selects up to limit rows in ascending id order and hands each to
// publishFn, per the exact drain contract:
//   - a row whose retries already reached MaxRetries is dropped without
//     being published;
//   - OK, INVALID, or ERROR acks (and no-ack/non-error returns folded into
//     OK) delete the row;
//   - RETRY, or publishFn returning an error, stops draining immediately,
//     leaving this row and all subsequent rows intact, with this row's
//     retry counter incremented.
//
// Returns the number of rows removed, regardless of cause.
func (q *Queue) Drain(publishFn PublishFunc, limit int) (int, error) {
	q.mu.Lock()
	rows, err := q.db.Query(`SELECT id, idem, bytes, retries FROM queue ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		q.mu.Unlock()
		return 0, fmt.Errorf("queue: drain select: %w", err)
	}
	var batch []queuedRow
	for rows.Next() {
		var r queuedRow
		if err := rows.Scan(&r.id, &r.idem, &r.bytes, &r.retries); err != nil {
			rows.Close()
			q.mu.Unlock()
			return 0, fmt.Errorf("queue: drain scan: %w", err)
		}
		batch = append(batch, r)
	}
	rows.Close()
	q.mu.Unlock()

	removed := 0
	for _, row := range batch {
		if row.retries >= q.cfg.MaxRetries {
			if err := q.deleteRow(row.id); err != nil {
				return removed, err
			}
			removed++
			continue
		}

		var env envelope.Envelope
		if err := env.Unmarshal(row.bytes); err != nil {
			// Unparseable row: drop it, it will never publish successfully.
			if derr := q.deleteRow(row.id); derr != nil {
				return removed, derr
			}
			removed++
			continue
		}

		result, perr := publishFn(&env)
		if perr != nil {
			if err := q.incrementRetries(row.id); err != nil {
				return removed, err
			}
			break
		}

		switch result.Status {
		case ack.Retry:
			if err := q.incrementRetries(row.id); err != nil {
				return removed, err
			}
			return removed, nil
		default: // OK, Invalid, Error
			if err := q.deleteRow(row.id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (q *Queue) deleteRow(id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.db.Exec(`DELETE FROM queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("queue: delete row %d: %w", id, err)
	}
	return nil
}

func (q *Queue) incrementRetries(id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.db.Exec(`UPDATE queue SET retries = retries + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("queue: increment retries for row %d: %w", id, err)
	}
	return nil
}

// Retries returns the current retry count for idem, used by tests.
func (q *Queue) Retries(idem string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	if err := q.db.QueryRow(`SELECT retries FROM queue WHERE idem = ?`, idem).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue: retries for %s: %w", idem, err)
	}
	return n, nil
}

// Path reports the backing file's path.
func (q *Queue) Path() string { return q.path }
