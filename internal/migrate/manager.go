// Package migrate applies the schema migrations and seed files of the service.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"switchboard.dev/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	// lockKey serialises concurrent migrate runs against one database.
	lockKey = 0x5357_4254
)

// Files holds the migrations under sql/ and the seeds under seeds/.
//
//go:embed sql/*.sql seeds/*.sql
var Files embed.FS

// ErrNothingApplied is returned by Down when no migration has been applied.
var ErrNothingApplied = errors.New("no migrations applied")

// Migration is one migration file and whether it has been applied.
type Migration struct {
	Name      string
	AppliedAt *time.Time
}

// Manager executes SQL migrations and seed files read from a file system.
type Manager struct {
	db              *sql.DB
	fsys            fs.FS
	migrationsDir   string
	seedsDir        string
	migrationsTable string
	seedsTable      string
	log             zerolog.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithSource reads migrations from dir and seeds from seeds inside fsys
// instead of the embedded files.
func WithSource(fsys fs.FS, dir, seeds string) Option {
	return func(m *Manager) {
		m.fsys, m.migrationsDir, m.seedsDir = fsys, dir, seeds
	}
}

// WithLogger sets the logger applied files are reported to.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager constructs a Manager over the embedded files.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		fsys:            Files,
		migrationsDir:   "sql",
		seedsDir:        "seeds",
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		log:             *obs.Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations in name order and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	var applied []string
	err := m.locked(ctx, func(ctx context.Context) error {
		files, err := m.collect(m.migrationsDir, ".up.sql")
		if err != nil {
			return err
		}
		applied, err = m.applyPending(ctx, m.migrationsTable, files)
		return err
	})
	return applied, err
}

// Down rolls back the most recent applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	var last string
	err := m.locked(ctx, func(ctx context.Context) error {
		history, err := m.history(ctx, m.migrationsTable)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return ErrNothingApplied
		}
		last = history[len(history)-1].Name
		downPath := path.Join(m.migrationsDir, strings.TrimSuffix(last, ".up.sql")+".down.sql")
		script, err := fs.ReadFile(m.fsys, downPath)
		if err != nil {
			return fmt.Errorf("missing down migration for %s: %w", last, err)
		}
		if err := m.exec(ctx, script, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
			return fmt.Errorf("rollback migration %s: %w", last, err)
		}
		m.log.Info().Str("migration", last).Msg("migration rolled back")
		return nil
	})
	return last, err
}

// Status lists every known migration with the time it was applied.
func (m *Manager) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	history, err := m.history(ctx, m.migrationsTable)
	if err != nil {
		return nil, err
	}
	files, err := m.collect(m.migrationsDir, ".up.sql")
	if err != nil {
		return nil, err
	}
	applied := make(map[string]*time.Time, len(history))
	for _, h := range history {
		applied[h.Name] = h.AppliedAt
	}
	out := make([]Migration, 0, len(files))
	for _, f := range files {
		out = append(out, Migration{Name: path.Base(f), AppliedAt: applied[path.Base(f)]})
		delete(applied, path.Base(f))
	}
	// Applied migrations whose file is gone are still reported.
	for name, at := range applied {
		out = append(out, Migration{Name: name, AppliedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Seed applies seed files once each and returns the names applied.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	var applied []string
	err := m.locked(ctx, func(ctx context.Context) error {
		files, err := m.collect(m.seedsDir, ".sql")
		if err != nil {
			return err
		}
		applied, err = m.applyPending(ctx, m.seedsTable, files)
		return err
	})
	return applied, err
}

func (m *Manager) applyPending(ctx context.Context, table string, files []string) ([]string, error) {
	done, err := m.history(ctx, table)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(done))
	for _, d := range done {
		seen[d.Name] = true
	}
	var applied []string
	for _, file := range files {
		name := path.Base(file)
		if seen[name] {
			continue
		}
		script, err := fs.ReadFile(m.fsys, file)
		if err != nil {
			return applied, err
		}
		record := fmt.Sprintf(`insert into %s (name, applied_at) values ($1, now())`, table)
		if err := m.exec(ctx, script, record, name); err != nil {
			return applied, fmt.Errorf("apply %s: %w", name, err)
		}
		m.log.Info().Str("file", name).Str("table", table).Msg("sql file applied")
		applied = append(applied, name)
	}
	return applied, nil
}

// locked runs fn while holding a session advisory lock on one connection.
func (m *Manager) locked(ctx context.Context, fn func(context.Context) error) (err error) {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, uerr := conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, lockKey); uerr != nil && err == nil {
			err = fmt.Errorf("release migration lock: %w", uerr)
		}
	}()
	return fn(ctx)
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// exec runs script and the bookkeeping statement in one transaction.
func (m *Manager) exec(ctx context.Context, script []byte, bookkeeping string, name string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(script)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) history(ctx context.Context, table string) ([]Migration, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Migration
	for rows.Next() {
		var (
			name string
			at   time.Time
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		res = append(res, Migration{Name: name, AppliedAt: &at})
	}
	return res, rows.Err()
}

// collect returns the paths below dir ending in suffix, sorted by file name.
func (m *Manager) collect(dir, suffix string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	var files []string
	err := fs.WalkDir(m.fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return path.Base(files[i]) < path.Base(files[j])
	})
	return files, nil
}

// splitStatements splits SQL on semicolons outside of quoted strings and
// line comments. Empty statements are dropped.
func splitStatements(script string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
		comment  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case comment:
			if r == '\n' {
				comment = false
				current.WriteRune(r)
			}
		case r == '\'':
			inString = !inString
			current.WriteRune(r)
		case !inString && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			comment = true
		case !inString && r == ';':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return stmts
}
