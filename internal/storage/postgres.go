package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	logx "friendwatch/pkg/logx"
)

const (
	defaultPostgresTable     = "friendwatch_kv"
	postgresOperationTimeout = 5 * time.Second
)

var rePostgresIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// postgresStore connects lazily so a database that is down at startup
// degrades to read misses instead of failing the whole process.
type postgresStore struct {
	dsn   string
	table string
	log   logx.Logger

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	table := strings.TrimSpace(cfg.Prefix)
	if table == "" {
		table = defaultPostgresTable
	}
	if !rePostgresIdent.MatchString(table) {
		return nil, fmt.Errorf("storage.prefix %q is not a valid postgres table name", table)
	}
	return &postgresStore{dsn: dsn, table: table, log: log}, nil
}

func (s *postgresStore) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := sql.Open("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ictx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table)
		if _, err := db.ExecContext(ictx, ddl); err != nil {
			_ = db.Close()
			s.initErr = fmt.Errorf("postgres migrate: %w", err)
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *postgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	key, err := validKey(key)
	if err != nil {
		return nil, false, err
	}
	if err := s.ensureReady(ctx); err != nil {
		return nil, false, err
	}
	qctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	var v []byte
	err = s.db.QueryRowContext(qctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *postgresStore) Set(ctx context.Context, key string, value []byte) error {
	key, err := validKey(key)
	if err != nil {
		return err
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	qctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, s.table)
	_, err = s.db.ExecContext(qctx, query, key, value)
	return err
}

func (s *postgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
