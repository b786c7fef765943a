package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS partitions (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	partition  TEXT NOT NULL,
	key        TEXT NOT NULL,
	meta       BLOB NOT NULL,
	body       BLOB NOT NULL,
	stored_at  INTEGER NOT NULL,
	PRIMARY KEY (partition, key)
);
`

// SQLiteStorage 把分区与条目保存在单个 SQLite 文件中。
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

type sqlitePartition struct {
	storage *SQLiteStorage
	name    string
}

// NewSQLiteStorage 打开（必要时创建）dbPath 并初始化表结构。
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("storage path required")
	}
	cleanPath := filepath.Clean(dbPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStorage{db: db, now: time.Now}, nil
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Partition, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO partitions (name, created_at) VALUES (?, ?)",
		name, s.now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("sqlite open partition: %w", err)
	}
	return &sqlitePartition{storage: s, name: name}, nil
}

func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM partitions ORDER BY created_at, name")
	if err != nil {
		return nil, fmt.Errorf("sqlite list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM partitions WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("sqlite delete partition: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE partition = ?", name); err != nil {
		return false, fmt.Errorf("sqlite delete entries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (p *sqlitePartition) Name() string {
	return p.name
}

func (p *sqlitePartition) Match(ctx context.Context, key Key) (*Response, error) {
	var meta, body []byte
	err := p.storage.db.QueryRowContext(ctx,
		"SELECT meta, body FROM entries WHERE partition = ? AND key = ?",
		p.name, string(key)).Scan(&meta, &body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlite match: %w", err)
	}
	return decodeMeta(meta, body)
}

// Put 只写入仍然存在的分区，分区被删除后迟到的写入直接丢弃。
func (p *sqlitePartition) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	now := p.storage.now().UTC()
	meta, err := encodeMeta(resp, now)
	if err != nil {
		return err
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	res, err := p.storage.db.ExecContext(ctx, `
INSERT OR REPLACE INTO entries (partition, key, meta, body, stored_at)
SELECT ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM partitions WHERE name = ?)`,
		p.name, string(key), meta, body, now.UnixNano(), p.name)
	if err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", errPartitionGone, p.name)
	}
	return nil
}
