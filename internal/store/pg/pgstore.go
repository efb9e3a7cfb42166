package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/paging"
	"switchboard.dev/internal/patch"
	"switchboard.dev/internal/permission"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InTx runs fn inside one transaction that every store call made with the
// context it receives joins. A nested call reuses the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// lockSuffix locks the rows read when they feed a write of the same transaction.
func lockSuffix(ctx context.Context, tables ...string) string {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); !ok {
		return ""
	}
	if len(tables) == 0 {
		return " for update"
	}
	return " for update of " + strings.Join(tables, ", ")
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapError translates driver errors into the service error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(apperr.CodeEntryNotFound)
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return apperr.Wrap(err, apperr.ErrConflict, apperr.CodeDuplicateEntry)
		case pgErrForeignKeyViolation:
			return apperr.Wrap(err, apperr.ErrUnprocessable, apperr.CodeReferenceInvalid)
		}
	}
	return err
}

// where accumulates predicates with positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) next() string { return fmt.Sprintf("$%d", len(w.args)+1) }

func (w *where) add(format string, arg any) {
	w.clauses = append(w.clauses, fmt.Sprintf(format, w.next()))
	w.args = append(w.args, arg)
}

func (w *where) in(column string, ids []int64) {
	if len(ids) == 0 {
		w.clauses = append(w.clauses, "false")
		return
	}
	marks := make([]string, len(ids))
	for i, id := range ids {
		marks[i] = w.next()
		w.args = append(w.args, id)
	}
	w.clauses = append(w.clauses, fmt.Sprintf("%s in (%s)", column, strings.Join(marks, ", ")))
}

// tenant restricts rows to the filter's reseller.
func (w *where) tenant(column string, f permission.Filter) {
	if f.ResellerID != nil {
		w.add(column+" = %s", *f.ResellerID)
	}
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " where " + strings.Join(w.clauses, " and ")
}

func (w *where) page(p paging.Page) string {
	p = p.Normalize()
	limit, offset := w.next(), fmt.Sprintf("$%d", len(w.args)+2)
	w.args = append(w.args, p.Rows, p.Offset())
	return fmt.Sprintf(" limit %s offset %s", limit, offset)
}

// column binds a json member of E to a table column.
type column[E any] struct {
	member string
	name   string
	value  func(E) any
}

// updateRow writes the columns whose members appear in changes. Members
// without a column are derived and skipped.
func updateRow[E any](ctx context.Context, q querier, table string, cols []column[E], e E, id int64, changes patch.Changes, scope func(*where)) error {
	byMember := make(map[string]column[E], len(cols))
	for _, c := range cols {
		byMember[c.member] = c
	}
	var (
		setClauses []string
		args       []any
	)
	for _, member := range changes.Fields() {
		c, ok := byMember[member]
		if !ok {
			continue
		}
		args = append(args, c.value(e))
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", c.name, len(args)))
	}
	if len(setClauses) == 0 {
		return nil
	}
	w := &where{args: args}
	w.add("id = %s", id)
	if scope != nil {
		scope(w)
	}
	query := fmt.Sprintf(`update %s set %s%s`, table, strings.Join(setClauses, ", "), w)
	res, err := q.ExecContext(ctx, query, w.args...)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return apperr.NotFound(apperr.CodeEntryNotFound, fmt.Sprintf("%d", id))
	}
	return nil
}

// insertRow inserts e with every column and returns the new id.
func insertRow[E any](ctx context.Context, q querier, table string, cols []column[E], e E) (int64, error) {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = c.name
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = c.value(e)
	}
	query := fmt.Sprintf(`insert into %s (%s) values (%s) returning id`, table, strings.Join(names, ", "), strings.Join(marks, ", "))
	var id int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

func deleteRows(ctx context.Context, q querier, table string, ids []int64, scope func(*where)) error {
	w := &where{}
	w.in("id", ids)
	if scope != nil {
		scope(w)
	}
	if _, err := q.ExecContext(ctx, `delete from `+table+w.String(), w.args...); err != nil {
		return mapError(err)
	}
	return nil
}

func count(ctx context.Context, q querier, from string, w *where) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `select count(*) from `+from+w.String(), w.args...).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// scanAll collects rows with scan and closes them.
func scanAll[E any](rows *sql.Rows, scan func(*sql.Rows) (E, error)) ([]E, error) {
	defer rows.Close()
	var out []E
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
