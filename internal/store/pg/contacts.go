package pg

import (
	"context"
	"database/sql"
	"fmt"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/bulk"
	"switchboard.dev/internal/contacts"
	"switchboard.dev/internal/paging"
	"switchboard.dev/internal/patch"
	"switchboard.dev/internal/permission"
)

// ContactStore persists contacts.
type ContactStore struct {
	s *Store
}

var _ contacts.Store = (*ContactStore)(nil)

// Contacts returns the contact repository.
func (s *Store) Contacts() *ContactStore { return &ContactStore{s: s} }

var contactColumns = []column[contacts.Contact]{
	{"reseller_id", "reseller_id", func(c contacts.Contact) any { return c.ResellerID }},
	{"firstname", "firstname", func(c contacts.Contact) any { return c.Firstname }},
	{"lastname", "lastname", func(c contacts.Contact) any { return c.Lastname }},
	{"company", "company", func(c contacts.Contact) any { return c.Company }},
	{"email", "email", func(c contacts.Contact) any { return c.Email }},
	{"phonenumber", "phonenumber", func(c contacts.Contact) any { return c.Phonenumber }},
	{"mobilenumber", "mobilenumber", func(c contacts.Contact) any { return c.Mobilenumber }},
	{"street", "street", func(c contacts.Contact) any { return c.Street }},
	{"postcode", "postcode", func(c contacts.Contact) any { return c.Postcode }},
	{"city", "city", func(c contacts.Contact) any { return c.City }},
	{"country", "country", func(c contacts.Contact) any { return c.Country }},
	{"timezone", "timezone", func(c contacts.Contact) any { return c.Timezone }},
	{"gender", "gender", func(c contacts.Contact) any { return c.Gender }},
	{"newsletter", "newsletter", func(c contacts.Contact) any { return c.Newsletter }},
	{"status", "status", func(c contacts.Contact) any { return c.Status }},
	{"terminate_timestamp", "terminate_timestamp", func(c contacts.Contact) any { return c.TerminateTimestamp }},
}

const selectContacts = `
	select id, reseller_id, firstname, lastname, company, email, phonenumber, mobilenumber,
		street, postcode, city, country, timezone, gender, newsletter, status, terminate_timestamp
	from contacts`

func scanContact(row interface{ Scan(...any) error }) (contacts.Contact, error) {
	var c contacts.Contact
	err := row.Scan(&c.ID, &c.ResellerID, &c.Firstname, &c.Lastname, &c.Company, &c.Email,
		&c.Phonenumber, &c.Mobilenumber, &c.Street, &c.Postcode, &c.City, &c.Country,
		&c.Timezone, &c.Gender, &c.Newsletter, &c.Status, &c.TerminateTimestamp)
	return c, err
}

func contactScope(f permission.Filter) func(*where) {
	return func(w *where) { w.tenant("reseller_id", f) }
}

func (st *ContactStore) Create(ctx context.Context, cs []contacts.Contact, _ permission.Filter) ([]int64, error) {
	q := st.s.conn(ctx)
	ids := make([]int64, len(cs))
	for i, c := range cs {
		id, err := insertRow(ctx, q, "contacts", contactColumns, c)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (st *ContactStore) Read(ctx context.Context, id int64, f permission.Filter) (contacts.Contact, error) {
	w := &where{}
	w.add("id = %s", id)
	contactScope(f)(w)
	c, err := scanContact(st.s.conn(ctx).QueryRowContext(ctx, selectContacts+w.String(), w.args...))
	if err != nil {
		return contacts.Contact{}, mapError(err)
	}
	return c, nil
}

func (st *ContactStore) ReadAll(ctx context.Context, p paging.Page, f permission.Filter) ([]contacts.Contact, int, error) {
	q := st.s.conn(ctx)
	w := &where{}
	contactScope(f)(w)
	total, err := count(ctx, q, "contacts", w)
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.QueryContext(ctx, selectContacts+w.String()+" order by id"+w.page(p), w.args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	out, err := scanAll(rows, func(r *sql.Rows) (contacts.Contact, error) { return scanContact(r) })
	return out, total, err
}

func (st *ContactStore) ReadWhereInIDs(ctx context.Context, ids []int64, f permission.Filter) ([]contacts.Contact, error) {
	w := &where{}
	w.in("id", ids)
	contactScope(f)(w)
	rows, err := st.s.conn(ctx).QueryContext(ctx, selectContacts+w.String()+" order by id"+lockSuffix(ctx), w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return scanAll(rows, func(r *sql.Rows) (contacts.Contact, error) { return scanContact(r) })
}

func (st *ContactStore) ReadCountOfIDs(ctx context.Context, ids []int64, f permission.Filter) (int, error) {
	w := &where{}
	w.in("id", ids)
	contactScope(f)(w)
	return count(ctx, st.s.conn(ctx), "contacts", w)
}

func (st *ContactStore) Update(ctx context.Context, c contacts.Contact, changes patch.Changes, f permission.Filter) error {
	return updateRow(ctx, st.s.conn(ctx), "contacts", contactColumns, c, c.ID, changes, contactScope(f))
}

func (st *ContactStore) Delete(ctx context.Context, ids []int64, f permission.Filter) error {
	return deleteRows(ctx, st.s.conn(ctx), "contacts", ids, contactScope(f))
}

// Terminate marks a contact terminated instead of removing it.
func (st *ContactStore) Terminate(ctx context.Context, id int64, f permission.Filter) error {
	w := &where{args: []any{contacts.StatusTerminated}}
	w.add("id = %s", id)
	contactScope(f)(w)
	res, err := st.s.conn(ctx).ExecContext(ctx,
		`update contacts set status = $1, terminate_timestamp = now()`+w.String(), w.args...)
	if err != nil {
		return mapError(err)
	}
	if aff, err := res.RowsAffected(); err != nil {
		return err
	} else if aff == 0 {
		return apperr.NotFound(apperr.CodeEntryNotFound, fmt.Sprintf("%d", id))
	}
	return nil
}

// ResellerExists reports whether a live reseller with id exists.
func (st *ContactStore) ResellerExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := st.s.conn(ctx).QueryRowContext(ctx, `
		select exists(select 1 from resellers where id = $1 and status <> 'terminated')
	`, id).Scan(&ok)
	return ok, mapError(err)
}

// ContractStates reports whether the contact still has active or terminated contracts.
func (st *ContactStore) ContractStates(ctx context.Context, contactID int64) (bulk.Dependents, error) {
	var active, terminated int
	err := st.s.conn(ctx).QueryRowContext(ctx, `
		select
			count(*) filter (where status <> 'terminated'),
			count(*) filter (where status = 'terminated')
		from contracts
		where contact_id = $1
	`, contactID).Scan(&active, &terminated)
	if err != nil {
		return bulk.Dependents{}, mapError(err)
	}
	return bulk.Dependents{Active: active > 0, Terminated: terminated > 0}, nil
}
