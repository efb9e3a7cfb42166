package pg

import (
	"context"
	"database/sql"

	"switchboard.dev/internal/journal"
	"switchboard.dev/internal/permission"
)

var _ journal.Store = (*Store)(nil)

// AppendJournal inserts one journal row. Rows are never updated.
func (s *Store) AppendJournal(ctx context.Context, e journal.Entry) (int64, error) {
	var id int64
	err := s.conn(ctx).QueryRowContext(ctx, `
		insert into journals (reseller_id, role_id, user_id, tx_id, content, content_format,
			operation, resource_id, resource_name, timestamp, username)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning id
	`, e.ResellerID, e.RoleID, e.UserID, e.TxID, e.Content, e.ContentFormat,
		string(e.Operation), e.ResourceID, e.ResourceName, e.Timestamp, e.Username).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

// ListJournal returns the journal rows matching q inside the reader's reseller scope, newest first.
func (s *Store) ListJournal(ctx context.Context, q journal.Query, f permission.Filter) ([]journal.Entry, int, error) {
	conn := s.conn(ctx)
	w := &where{}
	if q.ResourceName != "" {
		w.add("j.resource_name = %s", q.ResourceName)
	}
	if q.ResourceID != nil {
		w.add("j.resource_id = %s", *q.ResourceID)
	}
	w.tenant("j.reseller_id", f)

	total, err := count(ctx, conn, "journals j", w)
	if err != nil {
		return nil, 0, err
	}
	query := `
		select j.id, j.reseller_id, j.role_id, coalesce(r.role, ''), j.user_id, j.tx_id, j.content,
			j.content_format, j.operation, j.resource_id, j.resource_name, j.timestamp, j.username
		from journals j
		left join acl_roles r on r.id = j.role_id` + w.String() + " order by j.id desc" + w.page(q.Page)
	rows, err := conn.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	out, err := scanAll(rows, func(r *sql.Rows) (journal.Entry, error) {
		var (
			e  journal.Entry
			op string
		)
		err := r.Scan(&e.ID, &e.ResellerID, &e.RoleID, &e.Role, &e.UserID, &e.TxID, &e.Content,
			&e.ContentFormat, &op, &e.ResourceID, &e.ResourceName, &e.Timestamp, &e.Username)
		e.Operation = journal.Operation(op)
		return e, err
	})
	return out, total, err
}
