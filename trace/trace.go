// Package trace records management transactions to a sqlite database so
// a session's traffic with the co-processor can be inspected afterwards.
package trace

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"mrf24w/core"
)

// Record is one stored transaction.
type Record struct {
	ID       string
	Session  string
	Subtype  core.MgmtSubtype
	Request  []byte
	Result   core.ResultCode
	MACState uint8
	Start    time.Time
	Duration time.Duration
	Err      string
}

// Recorder implements core.TransactionTracer. Records are buffered and
// written in batches; Flush, Recent and Close write what is buffered.
type Recorder struct {
	db      *sql.DB
	insert  *sql.Stmt
	session string
	log     *slog.Logger

	mu      sync.Mutex
	pending []Record
	closed  bool

	// BatchSize is how many records are buffered before a write.
	BatchSize int
}

// DefaultPath names a fresh database file for a session.
func DefaultPath() string {
	return "mrf24w_trace_" + xid.New().String() + ".sqlite3"
}

// Open creates or appends to the database at path. The buffer is
// flushed when the program exits through atexit.
func Open(path string, log *slog.Logger) (*Recorder, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	// One connection keeps ":memory:" databases whole.
	db.SetMaxOpenConns(1)
	r := &Recorder{
		db:        db,
		session:   xid.New().String(),
		log:       log,
		BatchSize: 64,
	}
	if err := r.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	r.insert, err = db.Prepare(`insert into mgmt_trace
		(id, session, subtype, name, request, result, mac_state, start_ns, duration_ns, err)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("trace: %w", err)
	}
	atexit.Register(func() {
		if err := r.Flush(); err != nil {
			r.log.Error("trace: flush at exit", slog.Any("err", err))
		}
	})
	log.Info("trace: recording", slog.String("path", path), slog.String("session", r.session))
	return r, nil
}

func (r *Recorder) createTable() error {
	_, err := r.db.Exec(`
		create table if not exists mgmt_trace
		(
			id          varchar(20) primary key,
			session     varchar(20) not null,
			subtype     integer     not null,
			name        varchar(40) not null,
			request     blob,
			result      integer     not null,
			mac_state   integer     not null,
			start_ns    integer     not null,
			duration_ns integer     not null,
			err         text        not null default ''
		);
		create index if not exists mgmt_trace_session_index on mgmt_trace (session);
		create index if not exists mgmt_trace_start_index on mgmt_trace (start_ns);
	`)
	if err != nil {
		return fmt.Errorf("trace: create table: %w", err)
	}
	return nil
}

// Session identifies this recorder's rows.
func (r *Recorder) Session() string { return r.session }

// RecordTransaction buffers tx. It runs under the driver lock, so the
// database write happens here only once a batch is full.
func (r *Recorder) RecordTransaction(tx core.Transaction) {
	rec := Record{
		ID:       xid.New().String(),
		Session:  r.session,
		Subtype:  tx.Subtype,
		Request:  append([]byte(nil), tx.Request...),
		Result:   tx.Result,
		MACState: tx.MACState,
		Start:    tx.Start,
		Duration: tx.Duration,
	}
	if tx.Err != nil {
		rec.Err = tx.Err.Error()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.pending = append(r.pending, rec)
	if len(r.pending) >= r.BatchSize {
		if err := r.flushLocked(); err != nil {
			r.log.Warn("trace: write failed", slog.Any("err", err))
		}
	}
}

// Flush writes buffered records.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}
	txn, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	stmt := txn.Stmt(r.insert)
	for _, rec := range r.pending {
		_, err := stmt.Exec(rec.ID, rec.Session, int(rec.Subtype), rec.Subtype.String(),
			rec.Request, int(rec.Result), int(rec.MACState),
			rec.Start.UnixNano(), int64(rec.Duration), rec.Err)
		if err != nil {
			return errors.Join(fmt.Errorf("trace: insert %s: %w", rec.ID, err), txn.Rollback())
		}
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	r.pending = r.pending[:0]
	return nil
}

// Recent returns up to n records of this session, newest first.
func (r *Recorder) Recent(n int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, sql.ErrConnDone
	}
	if err := r.flushLocked(); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(`select id, session, subtype, request, result, mac_state, start_ns, duration_ns, err
		from mgmt_trace where session = ? order by start_ns desc, rowid desc limit ?`, r.session, n)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			rec                  Record
			subtype, result, mac int
			startNS, durNS       int64
		)
		if err := rows.Scan(&rec.ID, &rec.Session, &subtype, &rec.Request, &result, &mac, &startNS, &durNS, &rec.Err); err != nil {
			return nil, fmt.Errorf("trace: %w", err)
		}
		rec.Subtype = core.MgmtSubtype(subtype)
		rec.Result = core.ResultCode(result)
		rec.MACState = uint8(mac)
		rec.Start = time.Unix(0, startNS)
		rec.Duration = time.Duration(durNS)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close flushes and closes the database.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	err := r.flushLocked()
	r.closed = true
	return errors.Join(err, r.insert.Close(), r.db.Close())
}
