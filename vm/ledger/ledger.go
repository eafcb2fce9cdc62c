// Package ledger persists verification outcomes in SQLite.
//
// Every conversion attempt appends one row: the method name, whether it
// verified, the error text on failure, the number of coder restarts and
// the jump-target stack shapes the verifier computed. Shapes are stored as
// a canonical CBOR blob so two runs can be compared byte for byte.
package ledger

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	_ "modernc.org/sqlite"
)

// ErrClosed is returned by operations on a closed ledger.
var ErrClosed = errors.New("ledger: closed")

// Target is the recorded shape of one jump target.
type Target struct {
	Offset int      `cbor:"1,keyasint"`
	Stack  []string `cbor:"2,keyasint"`
}

// Entry is one verification outcome.
type Entry struct {
	Method   string
	OK       bool
	Error    string
	Restarts int
	Targets  []Target

	// Set by the ledger.
	Run      uuid.UUID
	Recorded time.Time
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ledger: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

const schema = `CREATE TABLE IF NOT EXISTS verifications (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	run      TEXT NOT NULL,
	method   TEXT NOT NULL,
	ok       INTEGER NOT NULL,
	error    TEXT NOT NULL,
	restarts INTEGER NOT NULL,
	targets  BLOB NOT NULL,
	recorded INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS verifications_method ON verifications (method, id)`

// Ledger is a verification log backed by a SQLite database.
type Ledger struct {
	mu  sync.Mutex
	db  *sql.DB
	run uuid.UUID
	log commonlog.Logger
}

// Open opens (creating if needed) the ledger at path. ":memory:" gives a
// private in-memory ledger.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: creating schema: %w", err)
	}

	l := &Ledger{db: db, run: uuid.New(), log: commonlog.GetLogger("ilvm.ledger")}
	l.log.Debugf("opened %s, run %s", path, l.run)
	return l, nil
}

// Run returns the identifier stamped on entries recorded through l.
func (l *Ledger) Run() uuid.UUID {
	return l.run
}

// Close closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// Record appends e. changed reports whether e verified to different
// jump-target shapes than the most recent successful entry for the
// same method.
func (l *Ledger) Record(e Entry) (changed bool, err error) {
	blob, err := encMode.Marshal(e.Targets)
	if err != nil {
		return false, fmt.Errorf("ledger: encoding targets: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return false, ErrClosed
	}

	tx, err := l.db.Begin()
	if err != nil {
		return false, fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback()

	if e.OK {
		var prev []byte
		err := tx.QueryRow(
			"SELECT targets FROM verifications WHERE method = ? AND ok = 1 ORDER BY id DESC LIMIT 1",
			e.Method,
		).Scan(&prev)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return false, fmt.Errorf("ledger: querying %s: %w", e.Method, err)
		default:
			changed = !bytes.Equal(prev, blob)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO verifications (run, method, ok, error, restarts, targets, recorded)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.run.String(), e.Method, e.OK, e.Error, e.Restarts, blob, time.Now().UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("ledger: recording %s: %w", e.Method, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("ledger: commit: %w", err)
	}
	if changed {
		l.log.Warningf("%s: jump target shapes differ from the previous run", e.Method)
	}
	return changed, nil
}

// List returns the entries for method, oldest first. An empty method
// lists every entry.
func (l *Ledger) List(method string) ([]Entry, error) {
	q := "SELECT run, method, ok, error, restarts, targets, recorded FROM verifications"
	var args []any
	if method != "" {
		q += " WHERE method = ?"
		args = append(args, method)
	}
	q += " ORDER BY id"
	return l.query(q, args...)
}

// Latest returns the most recent entry for every method, sorted by name.
func (l *Ledger) Latest() ([]Entry, error) {
	return l.query(`SELECT run, method, ok, error, restarts, targets, recorded
		FROM verifications WHERE id IN (SELECT MAX(id) FROM verifications GROUP BY method)
		ORDER BY method`)
}

func (l *Ledger) query(q string, args ...any) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil, ErrClosed
	}

	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			run      string
			blob     []byte
			recorded int64
		)
		if err := rows.Scan(&run, &e.Method, &e.OK, &e.Error, &e.Restarts, &blob, &recorded); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		if e.Run, err = uuid.Parse(run); err != nil {
			return nil, fmt.Errorf("ledger: bad run id %q: %w", run, err)
		}
		if err := cbor.Unmarshal(blob, &e.Targets); err != nil {
			return nil, fmt.Errorf("ledger: decoding targets of %s: %w", e.Method, err)
		}
		e.Recorded = time.Unix(0, recorded)
		out = append(out, e)
	}
	return out, rows.Err()
}
