package cachemanager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/goforj/cachemanager/cachecore"
)

// SQLOptions configure the Sql backend.
type SQLOptions struct {
	// Driver is a database/sql driver name: mysql, pgx or sqlite.
	Driver string `option:"driver"`
	DSN    string `option:"dsn"`
	Table  string `option:"table"`
	Prefix string `option:"prefix"`
}

func (o SQLOptions) withDefaults() SQLOptions {
	if o.Table == "" {
		o.Table = "cache_entries"
	}
	return o
}

// SqliteOptions configure the Sqlite backend.
type SqliteOptions struct {
	CacheDBCompletePath string `option:"cache_db_complete_path"`
	Table               string `option:"table"`
	Prefix              string `option:"prefix"`
}

// sqlBackend stores entries in one table: k (key), v (value), ea (expiry in
// unix milliseconds, 0 for never) and tg (comma separated tags).
type sqlBackend struct {
	cachecore.Base
	db         *sql.DB
	table      string
	driverName string
	prefix     string
	getStmt    *sql.Stmt
	upsertStmt *sql.Stmt
	deleteStmt *sql.Stmt
	flushStmt  *sql.Stmt
	scanStmt   *sql.Stmt
}

var sqlIdentPartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewSQLBackend opens the database and prepares the cache table.
func NewSQLBackend(ctx context.Context, opts SQLOptions) (Backend, error) {
	return openSQLBackend(ctx, "Sql", opts.withDefaults())
}

// NewSqliteBackend opens a SQLite cache database at
// opts.CacheDBCompletePath.
func NewSqliteBackend(ctx context.Context, opts SqliteOptions) (Backend, error) {
	if opts.CacheDBCompletePath == "" {
		return nil, cachecore.NewConfigError(`backend "Sqlite"`, "cache_db_complete_path is required")
	}
	return openSQLBackend(ctx, "Sqlite", SQLOptions{
		Driver: "sqlite",
		DSN:    opts.CacheDBCompletePath,
		Table:  opts.Table,
		Prefix: opts.Prefix,
	}.withDefaults())
}

func newSQLBackend(ctx context.Context, opts Options) (Backend, error) {
	var cfg SQLOptions
	if err := cachecore.DecodeOptions(`backend "Sql"`, opts, &cfg); err != nil {
		return nil, err
	}
	return NewSQLBackend(ctx, cfg)
}

func newSqliteBackend(ctx context.Context, opts Options) (Backend, error) {
	var cfg SqliteOptions
	if err := cachecore.DecodeOptions(`backend "Sqlite"`, opts, &cfg); err != nil {
		return nil, err
	}
	return NewSqliteBackend(ctx, cfg)
}

func openSQLBackend(ctx context.Context, name string, cfg SQLOptions) (Backend, error) {
	component := fmt.Sprintf("backend %q", name)
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, cachecore.NewConfigError(component, "driver and dsn are required")
	}
	if err := validateSQLTableName(cfg.Table); err != nil {
		return nil, &ConfigError{Component: component, Err: err}
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, &ConfigError{Component: component, Err: err}
	}
	if cfg.Driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &BackendUnavailableError{Backend: name, Err: err}
	}
	b := &sqlBackend{
		Base:       cachecore.NewBase(name),
		db:         db,
		table:      cfg.Table,
		driverName: cfg.Driver,
		prefix:     cfg.Prefix,
	}
	if err := b.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, &BackendUnavailableError{Backend: name, Err: err}
	}
	if err := b.prepareStatements(ctx); err != nil {
		_ = db.Close()
		return nil, &BackendUnavailableError{Backend: name, Err: err}
	}
	return b, nil
}

func (b *sqlBackend) Capabilities() cachecore.Capabilities {
	return cachecore.Capabilities{Tags: true, AutomaticCleaning: true, Persistent: true}
}

// Close closes the database handle.
func (b *sqlBackend) Close() error {
	return b.db.Close()
}

func (b *sqlBackend) ensureSchema(ctx context.Context) error {
	var stmt string
	switch b.driverName {
	case "postgres", "pgx":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BYTEA NOT NULL,
			ea BIGINT NOT NULL,
			tg TEXT NOT NULL
		);`, b.table)
	case "mysql":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k VARBINARY(255) PRIMARY KEY,
			v LONGBLOB NOT NULL,
			ea BIGINT NOT NULL,
			tg TEXT NOT NULL
		) ENGINE=InnoDB;`, b.table)
	default: // sqlite
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			k TEXT PRIMARY KEY,
			v BLOB NOT NULL,
			ea INTEGER NOT NULL,
			tg TEXT NOT NULL
		);`, b.table)
	}
	_, err := b.db.ExecContext(ctx, stmt)
	return err
}

func (b *sqlBackend) Load(ctx context.Context, id string) ([]byte, bool, error) {
	var v []byte
	var exp int64
	err := b.getStmt.QueryRowContext(ctx, b.cacheKey(id)).Scan(&v, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if exp > 0 && time.Now().UnixMilli() > exp {
		_ = b.Remove(ctx, id)
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

func (b *sqlBackend) Save(ctx context.Context, id string, data []byte, tags []string, lifetime time.Duration) error {
	var exp int64
	if lifetime > 0 {
		exp = time.Now().Add(lifetime).UnixMilli()
	}
	tg := strings.Join(tags, ",")
	_, err := b.upsertStmt.ExecContext(ctx, b.cacheKey(id), data, exp, tg, data, exp, tg)
	return err
}

func (b *sqlBackend) Remove(ctx context.Context, id string) error {
	_, err := b.deleteStmt.ExecContext(ctx, b.cacheKey(id))
	return err
}

func (b *sqlBackend) Clean(ctx context.Context, mode CleaningMode, tags ...string) error {
	if err := b.CheckMode(mode); err != nil {
		return err
	}
	if mode == CleanAll && b.prefix == "" {
		_, err := b.flushStmt.ExecContext(ctx)
		return err
	}

	rows, err := b.scanStmt.QueryContext(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	var doomed []string
	for rows.Next() {
		var (
			k  string
			ea int64
			tg string
		)
		if err := rows.Scan(&k, &ea, &tg); err != nil {
			rows.Close()
			return err
		}
		if b.prefix != "" && !strings.HasPrefix(k, b.prefix+":") {
			continue
		}
		remove := mode == CleanAll || (ea > 0 && now > ea)
		if !remove && mode != CleanOld {
			remove = cachecore.MatchTags(mode, splitTags(tg), tags)
		}
		if remove {
			doomed = append(doomed, k)
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, k := range doomed {
		if _, err := b.deleteStmt.ExecContext(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func splitTags(tg string) []string {
	if tg == "" {
		return nil
	}
	return strings.Split(tg, ",")
}

func (b *sqlBackend) cacheKey(id string) string {
	if b.prefix == "" {
		return id
	}
	return b.prefix + ":" + id
}

func (b *sqlBackend) upsertSQL() string {
	// Placeholders must be positional for postgres/pgx.
	p := make([]any, 7)
	for i := range p {
		p[i] = b.ph(i + 1)
	}
	switch b.driverName {
	case "postgres", "pgx":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea, tg) VALUES (%s, %s, %s, %s) ON CONFLICT (k) DO UPDATE SET v = %s, ea = %s, tg = %s", append([]any{b.table}, p...)...)
	case "mysql":
		return fmt.Sprintf("INSERT INTO %s (k, v, ea, tg) VALUES (%s, %s, %s, %s) ON DUPLICATE KEY UPDATE v = %s, ea = %s, tg = %s", append([]any{b.table}, p...)...)
	default: // sqlite
		return fmt.Sprintf("INSERT INTO %s (k, v, ea, tg) VALUES (%s, %s, %s, %s) ON CONFLICT(k) DO UPDATE SET v = %s, ea = %s, tg = %s", append([]any{b.table}, p...)...)
	}
}

func (b *sqlBackend) prepareStatements(ctx context.Context) error {
	var err error
	if b.getStmt, err = b.db.PrepareContext(ctx, fmt.Sprintf("SELECT v, ea FROM %s WHERE k = %s", b.table, b.ph(1))); err != nil {
		return err
	}
	if b.upsertStmt, err = b.db.PrepareContext(ctx, b.upsertSQL()); err != nil {
		return err
	}
	if b.deleteStmt, err = b.db.PrepareContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE k = %s", b.table, b.ph(1))); err != nil {
		return err
	}
	if b.flushStmt, err = b.db.PrepareContext(ctx, fmt.Sprintf("DELETE FROM %s", b.table)); err != nil {
		return err
	}
	if b.scanStmt, err = b.db.PrepareContext(ctx, fmt.Sprintf("SELECT k, ea, tg FROM %s", b.table)); err != nil {
		return err
	}
	return nil
}

func (b *sqlBackend) ph(i int) string {
	if b.driverName == "postgres" || b.driverName == "pgx" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func validateSQLTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("sql table name is required")
	}
	for _, part := range strings.Split(name, ".") {
		if !sqlIdentPartRE.MatchString(part) {
			return fmt.Errorf("invalid sql table name %q", name)
		}
	}
	return nil
}
