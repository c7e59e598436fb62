package hooks

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/kgforge/kgforge/internal/config"
)

func init() {
	Register("postgres", NewPostgres)
}

const (
	hookQueryTimeout = 60 * time.Second
	defaultTableName = "kg_documents"
)

// Postgres reads the text corpus from a documents table with content,
// created_at, and is_delete columns. "Since" a version means rows created
// after the version's millisecond timestamp.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
	log   *logrus.Logger
}

// NewPostgres connects the pool, applies pending migrations, and returns the
// hook.
func NewPostgres(ctx context.Context, cfg config.HooksConfig, log *logrus.Logger) (Hooks, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parsing hooks connection string: %w", err)
	}

	poolCfg.MaxConns = 4
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating hooks connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("pinging hooks database: %w", err)
	}

	// The embedded migrations own only the default table; an externally
	// managed table is used as-is.
	if cfg.TableName == defaultTableName {
		if err := runMigrations(ctx, cfg.ConnectionString, log); err != nil {
			pool.Close()

			return nil, err
		}
	}

	return &Postgres{pool: pool, table: cfg.TableName, log: log}, nil
}

// FullData returns the content of every live row, oldest first.
func (p *Postgres) FullData(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, hookQueryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT content FROM %s WHERE is_delete = false ORDER BY created_at`, quoteIdent(p.table))

	return p.collect(ctx, query)
}

// IncrementalData returns the content of live rows created after the
// version's timestamp, oldest first.
func (p *Postgres) IncrementalData(ctx context.Context, sinceVersion string) ([]string, error) {
	since, err := versionTime(sinceVersion)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, hookQueryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT content FROM %s WHERE is_delete = false AND created_at > $1 ORDER BY created_at`, quoteIdent(p.table))

	return p.collect(ctx, query, since)
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) collect(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying hook data: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scanning hook row: %w", err)
		}

		if content != "" {
			out = append(out, content)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hook rows: %w", err)
	}

	return out, nil
}

// versionTime converts a millisecond-timestamp version string to a time.
func versionTime(version string) (time.Time, error) {
	ms, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid version timestamp %q: %w", version, err)
	}

	return time.UnixMilli(ms).UTC(), nil
}

// quoteIdent double-quotes a table identifier, escaping embedded quotes.
func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')

	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}

		out = append(out, name[i])
	}

	return string(append(out, '"'))
}
