package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/vidqa/internal/checkpoint/migrations"
	"github.com/fyrsmithlabs/vidqa/internal/conversation"
)

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the database file. Its directory is created when missing.
	Path string

	// TTL forgets a thread this long after its last message. Zero keeps
	// threads forever.
	TTL time.Duration
}

// SQLiteStore keeps histories in a single SQLite file so they survive
// restarts.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the store at cfg.Path and applies
// pending migrations.
func NewSQLiteStore(ctx context.Context, cfg SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating session directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Load may upgrade to a write when expiring a thread; one connection
	// keeps SQLite from failing that upgrade under contention.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		path:   cfg.Path,
		ttl:    cfg.TTL,
		now:    time.Now,
		logger: logger,
	}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("session memory ready",
		zap.String("backend", "sqlite"),
		zap.String("path", cfg.Path),
		zap.Duration("ttl", cfg.TTL),
	)
	return s, nil
}

// migrate applies every NNN_name.up.sql newer than the recorded version.
func (s *SQLiteStore) migrate(ctx context.Context, fsys fs.FS) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		s.logger.Debug("applied migration", zap.String("name", name), zap.Int("version", version))
	}
	return nil
}

// Load returns the thread's messages in commit order.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (msgs []conversation.Message, err error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "checkpoint.sqlite.load")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := validateThreadID(threadID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.expire(ctx, tx, threadID); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT role, content FROM messages WHERE thread_id = ? ORDER BY seq", threadID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs = []conversation.Message{}
	for rows.Next() {
		var m conversation.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing load: %w", err)
	}
	span.SetAttributes(attribute.Int("messages", len(msgs)))
	return msgs, nil
}

// Commit appends msgs in a single transaction.
func (s *SQLiteStore) Commit(ctx context.Context, threadID string, msgs []conversation.Message) (err error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "checkpoint.sqlite.commit")
	defer span.End()
	span.SetAttributes(attribute.String("thread_id", threadID), attribute.Int("appended", len(msgs)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := validateThreadID(threadID); err != nil {
		return err
	}
	if err := validateMessages(msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.expire(ctx, tx, threadID); err != nil {
		return err
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq) + 1, 0) FROM messages WHERE thread_id = ?", threadID).Scan(&next); err != nil {
		return fmt.Errorf("reading sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (thread_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UnixNano()
	for i, m := range msgs {
		if _, err := stmt.ExecContext(ctx, threadID, next+int64(i), string(m.Role), m.Content, now); err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}
	return nil
}

// expire deletes threadID's history when its newest message is older than
// the TTL.
func (s *SQLiteStore) expire(ctx context.Context, tx *sql.Tx, threadID string) error {
	if s.ttl <= 0 {
		return nil
	}
	cutoff := s.now().Add(-s.ttl).UnixNano()
	res, err := tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE thread_id = ?
		  AND (SELECT MAX(created_at) FROM messages WHERE thread_id = ?) < ?`,
		threadID, threadID, cutoff)
	if err != nil {
		return fmt.Errorf("expiring thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug("thread expired", zap.String("thread_id", threadID), zap.Int64("messages", n))
	}
	return nil
}

// Prune removes every thread idle for longer than the TTL and reports how
// many messages were deleted. It is a no-op without a TTL.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	cutoff := s.now().Add(-s.ttl).UnixNano()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE thread_id IN (
			SELECT thread_id FROM messages GROUP BY thread_id HAVING MAX(created_at) < ?
		)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning threads: %w", err)
	}
	return res.RowsAffected()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
