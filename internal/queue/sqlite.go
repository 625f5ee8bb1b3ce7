package queue

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by a single-file SQLite database.
type SQLiteStore struct {
	mu     sync.Mutex
	dsn    string
	schema fs.FS
	db     *sql.DB
	closed bool
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the queue database at path and
// applies the embedded schema found in schema.
func OpenSQLite(ctx context.Context, path string, schema fs.FS, logger *slog.Logger) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("queue database path is empty")
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL", dsn, sep)

	s := &SQLiteStore{
		dsn:    dsn,
		schema: schema,
		logger: logger.With("component", "queue_sqlite"),
		now:    time.Now,
	}
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.db = db
	return s, nil
}

func (s *SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer per device; also keeps every caller on the same connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applySchema(ctx, db, s.schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// reopen replaces the current connection. Caller holds s.mu.
func (s *SQLiteStore) reopen(ctx context.Context) error {
	if s.db != nil {
		s.db.Close()
	}
	db, err := s.open(ctx)
	if err != nil {
		s.db = nil
		return err
	}
	s.db = db
	return nil
}

// write runs fn and, when it fails, reopens the database and tries once more.
func (s *SQLiteStore) write(ctx context.Context, op string, fn func(db *sql.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	var err error
	if s.db != nil {
		if err = fn(s.db); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.logger.Warn("queue write failed, reopening database", "op", op, "error", err)
	}

	if rerr := s.reopen(ctx); rerr != nil {
		return fmt.Errorf("%s: reopen: %w", op, rerr)
	}
	if err = fn(s.db); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// read runs fn against the current connection; ok is false on any error.
func (s *SQLiteStore) read(ctx context.Context, op string, fn func(db *sql.DB) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.db == nil {
		return false
	}
	if err := fn(s.db); err != nil {
		s.logger.Error("queue read failed", "op", op, "error", err)
		return false
	}
	return true
}

// Enqueue appends m with the current time and a zero retry count.
func (s *SQLiteStore) Enqueue(ctx context.Context, m Mutation) (Item, error) {
	const q = `
INSERT INTO sync_queue (action, entity_type, entity_id, data, timestamp, retry_count)
VALUES (?, ?, ?, ?, ?, 0);
`
	item := Item{
		Action:     m.Action,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Data:       m.Data,
		Timestamp:  s.now().UTC().Truncate(time.Millisecond),
	}
	data := string(m.Data)
	if data == "" {
		data = "null"
	}

	err := s.write(ctx, "enqueue", func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, q, item.Action, item.EntityType, item.EntityID, data, item.Timestamp.UnixMilli())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		item.ID = id
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

const selectItems = `
SELECT id, action, entity_type, entity_id, data, timestamp, retry_count, last_error
FROM sync_queue
ORDER BY timestamp ASC, id ASC
`

// DequeueOldest returns the oldest item without removing it.
func (s *SQLiteStore) DequeueOldest(ctx context.Context) (Item, bool) {
	var (
		item  Item
		found bool
	)
	ok := s.read(ctx, "dequeue_oldest", func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, selectItems+"LIMIT 1;")
		it, err := scanItem(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		item, found = it, true
		return nil
	})
	if !ok {
		return Item{}, false
	}
	return item, found
}

// GetAll returns every pending item in FIFO order.
func (s *SQLiteStore) GetAll(ctx context.Context) []Item {
	var items []Item
	ok := s.read(ctx, "get_all", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, selectItems+";")
		if err != nil {
			return err
		}
		defer rows.Close()

		var out []Item
		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				return fmt.Errorf("scan queue item: %w", err)
			}
			out = append(out, it)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate queue items: %w", err)
		}
		items = out
		return nil
	})
	if !ok {
		return nil
	}
	return items
}

// Remove deletes one item. Unknown ids are ignored.
func (s *SQLiteStore) Remove(ctx context.Context, id int64) error {
	return s.write(ctx, "remove", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?;`, id)
		return err
	})
}

// UpdateRetry bumps the retry count and records errMsg.
func (s *SQLiteStore) UpdateRetry(ctx context.Context, id int64, errMsg string) error {
	const q = `
UPDATE sync_queue
SET retry_count = retry_count + 1,
    last_error = ?
WHERE id = ?;
`
	return s.write(ctx, "update_retry", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, q, errMsg, id)
		return err
	})
}

// Clear drops every pending item.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.write(ctx, "clear", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `DELETE FROM sync_queue;`)
		return err
	})
}

// Count returns the queue length, or 0 when storage is unavailable.
func (s *SQLiteStore) Count(ctx context.Context) int {
	var n int
	ok := s.read(ctx, "count", func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue;`).Scan(&n)
	})
	if !ok {
		return 0
	}
	return n
}

// Close releases the database connection.
func (s *SQLiteStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.db != nil {
		s.db.Close()
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		it        Item
		data      string
		ts        int64
		lastError sql.NullString
	)
	if err := row.Scan(&it.ID, &it.Action, &it.EntityType, &it.EntityID, &data, &ts, &it.RetryCount, &lastError); err != nil {
		return Item{}, err
	}
	if data != "" && data != "null" {
		it.Data = []byte(data)
	}
	it.Timestamp = time.UnixMilli(ts).UTC()
	it.LastError = lastError.String
	return it, nil
}

// applySchema executes every .sql file in schema in lexicographical order.
func applySchema(ctx context.Context, db *sql.DB, schema fs.FS) error {
	if schema == nil {
		return fmt.Errorf("queue schema is nil")
	}
	entries, err := fs.ReadDir(schema, ".")
	if err != nil {
		return fmt.Errorf("read queue schema: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		sqlBytes, err := fs.ReadFile(schema, entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}
