package pg

import (
	"context"
	"database/sql"
	"errors"

	"switchboard.dev/internal/admins"
	"switchboard.dev/internal/auth"
	"switchboard.dev/internal/paging"
	"switchboard.dev/internal/patch"
	"switchboard.dev/internal/permission"
)

// AdminStore persists administrators and their password history.
type AdminStore struct {
	s *Store
}

var (
	_ admins.Store         = (*AdminStore)(nil)
	_ auth.CredentialStore = (*Store)(nil)
)

// Admins returns the admin repository.
func (s *Store) Admins() *AdminStore { return &AdminStore{s: s} }

var adminColumns = []column[admins.Admin]{
	{"reseller_id", "reseller_id", func(a admins.Admin) any { return a.ResellerID }},
	{"login", "login", func(a admins.Admin) any { return a.Login }},
	{"saltedpass", "saltedpass", func(a admins.Admin) any { return a.SaltedPass }},
	{"role_id", "role_id", func(a admins.Admin) any { return a.RoleID }},
	{"email", "email", func(a admins.Admin) any { return a.Email }},
	{"is_master", "is_master", func(a admins.Admin) any { return a.IsMaster }},
	{"is_active", "is_active", func(a admins.Admin) any { return a.IsActive }},
	{"is_system", "is_system", func(a admins.Admin) any { return a.IsSystem }},
	{"is_superuser", "is_superuser", func(a admins.Admin) any { return a.IsSuperuser }},
	{"is_ccare", "is_ccare", func(a admins.Admin) any { return a.IsCcare }},
	{"lawful_intercept", "lawful_intercept", func(a admins.Admin) any { return a.LawfulIntercept }},
	{"read_only", "read_only", func(a admins.Admin) any { return a.ReadOnly }},
	{"show_passwords", "show_passwords", func(a admins.Admin) any { return a.ShowPasswords }},
	{"call_data", "call_data", func(a admins.Admin) any { return a.CallData }},
	{"billing_data", "billing_data", func(a admins.Admin) any { return a.BillingData }},
	{"can_reset_password", "can_reset_password", func(a admins.Admin) any { return a.CanResetPassword }},
}

const selectAdmins = `
	select a.id, a.reseller_id, a.login, a.saltedpass, r.role, a.role_id, a.email,
		a.is_master, a.is_active, a.is_system, a.is_superuser, a.is_ccare, a.lawful_intercept,
		a.read_only, a.show_passwords, a.call_data, a.billing_data, a.can_reset_password
	from admins a
	join acl_roles r on r.id = a.role_id`

func scanAdmin(row interface{ Scan(...any) error }) (admins.Admin, error) {
	var a admins.Admin
	err := row.Scan(&a.ID, &a.ResellerID, &a.Login, &a.SaltedPass, &a.Role, &a.RoleID, &a.Email,
		&a.IsMaster, &a.IsActive, &a.IsSystem, &a.IsSuperuser, &a.IsCcare, &a.LawfulIntercept,
		&a.ReadOnly, &a.ShowPasswords, &a.CallData, &a.BillingData, &a.CanResetPassword)
	return a, err
}

// adminScope applies the admin visibility rule. A master sees the roles it
// administers within its reseller scope, anyone else only its own record.
func adminScope(alias string, f permission.Filter) func(*where) {
	return func(w *where) {
		if !f.IsMaster {
			w.add(alias+"id = %s", f.UserID)
			return
		}
		w.in(alias+"role_id", f.HasAccessTo)
		w.tenant(alias+"reseller_id", f)
	}
}

func (st *AdminStore) Create(ctx context.Context, as []admins.Admin, _ permission.Filter) ([]int64, error) {
	q := st.s.conn(ctx)
	ids := make([]int64, len(as))
	for i, a := range as {
		id, err := insertRow(ctx, q, "admins", adminColumns, a)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (st *AdminStore) Read(ctx context.Context, id int64, f permission.Filter) (admins.Admin, error) {
	w := &where{}
	w.add("a.id = %s", id)
	adminScope("a.", f)(w)
	a, err := scanAdmin(st.s.conn(ctx).QueryRowContext(ctx, selectAdmins+w.String(), w.args...))
	if err != nil {
		return admins.Admin{}, mapError(err)
	}
	return a, nil
}

func (st *AdminStore) ReadAll(ctx context.Context, p paging.Page, f permission.Filter) ([]admins.Admin, int, error) {
	q := st.s.conn(ctx)
	w := &where{}
	adminScope("a.", f)(w)
	total, err := count(ctx, q, "admins a", w)
	if err != nil {
		return nil, 0, err
	}
	query := selectAdmins + w.String() + " order by a.id" + w.page(p)
	rows, err := q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	out, err := scanAll(rows, func(r *sql.Rows) (admins.Admin, error) { return scanAdmin(r) })
	return out, total, err
}

func (st *AdminStore) ReadWhereInIDs(ctx context.Context, ids []int64, f permission.Filter) ([]admins.Admin, error) {
	w := &where{}
	w.in("a.id", ids)
	adminScope("a.", f)(w)
	rows, err := st.s.conn(ctx).QueryContext(ctx, selectAdmins+w.String()+" order by a.id"+lockSuffix(ctx, "a"), w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return scanAll(rows, func(r *sql.Rows) (admins.Admin, error) { return scanAdmin(r) })
}

func (st *AdminStore) ReadCountOfIDs(ctx context.Context, ids []int64, f permission.Filter) (int, error) {
	w := &where{}
	w.in("a.id", ids)
	adminScope("a.", f)(w)
	return count(ctx, st.s.conn(ctx), "admins a", w)
}

func (st *AdminStore) Update(ctx context.Context, a admins.Admin, changes patch.Changes, f permission.Filter) error {
	return updateRow(ctx, st.s.conn(ctx), "admins", adminColumns, a, a.ID, changes, adminScope("", f))
}

func (st *AdminStore) Delete(ctx context.Context, ids []int64, f permission.Filter) error {
	return deleteRows(ctx, st.s.conn(ctx), "admins", ids, adminScope("", f))
}

// PasswordHistory returns the n most recent password hashes of an admin.
func (st *AdminStore) PasswordHistory(ctx context.Context, adminID int64, n int) ([]string, error) {
	rows, err := st.s.conn(ctx).QueryContext(ctx, `
		select saltedpass from admin_password_journal
		where admin_id = $1
		order by id desc
		limit $2
	`, adminID, n)
	if err != nil {
		return nil, mapError(err)
	}
	return scanAll(rows, func(r *sql.Rows) (string, error) {
		var hash string
		err := r.Scan(&hash)
		return hash, err
	})
}

// RecordPassword appends hash and prunes the history to keep entries.
func (st *AdminStore) RecordPassword(ctx context.Context, adminID int64, hash string, keep int) error {
	q := st.s.conn(ctx)
	if _, err := q.ExecContext(ctx, `
		insert into admin_password_journal (admin_id, saltedpass) values ($1, $2)
	`, adminID, hash); err != nil {
		return mapError(err)
	}
	if _, err := q.ExecContext(ctx, `
		delete from admin_password_journal
		where admin_id = $1 and id not in (
			select id from admin_password_journal where admin_id = $1 order by id desc limit $2
		)
	`, adminID, keep); err != nil {
		return mapError(err)
	}
	return nil
}

const selectCredentials = `
	select a.id, a.login, a.saltedpass, r.role, coalesce(a.reseller_id, 0),
		a.is_master, a.is_active, a.read_only, a.show_passwords
	from admins a
	join acl_roles r on r.id = a.role_id`

func (s *Store) credentials(ctx context.Context, predicate string, arg any) (auth.Credentials, error) {
	var c auth.Credentials
	err := s.conn(ctx).QueryRowContext(ctx, selectCredentials+" where "+predicate, arg).Scan(
		&c.ID, &c.Login, &c.PasswordHash, &c.Role, &c.ResellerID,
		&c.IsMaster, &c.IsActive, &c.ReadOnly, &c.ShowPasswords)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Credentials{}, auth.ErrNotFound
	}
	return c, err
}

// CredentialsByLogin implements auth.CredentialStore.
func (s *Store) CredentialsByLogin(ctx context.Context, login string) (auth.Credentials, error) {
	return s.credentials(ctx, "a.login = $1", login)
}

// CredentialsByID implements auth.CredentialStore.
func (s *Store) CredentialsByID(ctx context.Context, id int64) (auth.Credentials, error) {
	return s.credentials(ctx, "a.id = $1", id)
}
