package pg

import (
	"context"
	"database/sql"

	"switchboard.dev/internal/paging"
	"switchboard.dev/internal/patch"
	"switchboard.dev/internal/permission"
	"switchboard.dev/internal/rulesets"
)

// RuleSetStore persists header rule sets.
type RuleSetStore struct {
	s *Store
}

var _ rulesets.Store = (*RuleSetStore)(nil)

// RuleSets returns the header rule-set repository.
func (s *Store) RuleSets() *RuleSetStore { return &RuleSetStore{s: s} }

var ruleSetColumns = []column[rulesets.RuleSet]{
	{"reseller_id", "reseller_id", func(r rulesets.RuleSet) any { return r.ResellerID }},
	{"subscriber_id", "subscriber_id", func(r rulesets.RuleSet) any { return r.SubscriberID }},
	{"name", "name", func(r rulesets.RuleSet) any { return r.Name }},
	{"description", "description", func(r rulesets.RuleSet) any { return r.Description }},
}

const selectRuleSets = `select id, reseller_id, subscriber_id, name, description from header_rule_sets`

func scanRuleSet(row interface{ Scan(...any) error }) (rulesets.RuleSet, error) {
	var r rulesets.RuleSet
	err := row.Scan(&r.ID, &r.ResellerID, &r.SubscriberID, &r.Name, &r.Description)
	return r, err
}

func scanRuleSetRows(r *sql.Rows) (rulesets.RuleSet, error) { return scanRuleSet(r) }

func ruleSetScope(f permission.Filter) func(*where) {
	return func(w *where) { w.tenant("reseller_id", f) }
}

func (st *RuleSetStore) Create(ctx context.Context, rs []rulesets.RuleSet, _ permission.Filter) ([]int64, error) {
	q := st.s.conn(ctx)
	ids := make([]int64, len(rs))
	for i, r := range rs {
		id, err := insertRow(ctx, q, "header_rule_sets", ruleSetColumns, r)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (st *RuleSetStore) Read(ctx context.Context, id int64, f permission.Filter) (rulesets.RuleSet, error) {
	w := &where{}
	w.add("id = %s", id)
	ruleSetScope(f)(w)
	r, err := scanRuleSet(st.s.conn(ctx).QueryRowContext(ctx, selectRuleSets+w.String(), w.args...))
	if err != nil {
		return rulesets.RuleSet{}, mapError(err)
	}
	return r, nil
}

func (st *RuleSetStore) ReadAll(ctx context.Context, p paging.Page, f permission.Filter) ([]rulesets.RuleSet, int, error) {
	q := st.s.conn(ctx)
	w := &where{}
	ruleSetScope(f)(w)
	total, err := count(ctx, q, "header_rule_sets", w)
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.QueryContext(ctx, selectRuleSets+w.String()+" order by id"+w.page(p), w.args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	out, err := scanAll(rows, scanRuleSetRows)
	return out, total, err
}

func (st *RuleSetStore) ReadWhereInIDs(ctx context.Context, ids []int64, f permission.Filter) ([]rulesets.RuleSet, error) {
	w := &where{}
	w.in("id", ids)
	ruleSetScope(f)(w)
	rows, err := st.s.conn(ctx).QueryContext(ctx, selectRuleSets+w.String()+" order by id"+lockSuffix(ctx), w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return scanAll(rows, scanRuleSetRows)
}

func (st *RuleSetStore) ReadCountOfIDs(ctx context.Context, ids []int64, f permission.Filter) (int, error) {
	w := &where{}
	w.in("id", ids)
	ruleSetScope(f)(w)
	return count(ctx, st.s.conn(ctx), "header_rule_sets", w)
}

func (st *RuleSetStore) Update(ctx context.Context, r rulesets.RuleSet, changes patch.Changes, f permission.Filter) error {
	return updateRow(ctx, st.s.conn(ctx), "header_rule_sets", ruleSetColumns, r, r.ID, changes, ruleSetScope(f))
}

func (st *RuleSetStore) Delete(ctx context.Context, ids []int64, f permission.Filter) error {
	return deleteRows(ctx, st.s.conn(ctx), "header_rule_sets", ids, ruleSetScope(f))
}

// ListByReseller returns the reseller-wide rule sets of a reseller.
func (st *RuleSetStore) ListByReseller(ctx context.Context, resellerID int64) ([]rulesets.RuleSet, error) {
	rows, err := st.s.conn(ctx).QueryContext(ctx,
		selectRuleSets+` where reseller_id = $1 and subscriber_id is null order by id`, resellerID)
	if err != nil {
		return nil, mapError(err)
	}
	return scanAll(rows, scanRuleSetRows)
}
