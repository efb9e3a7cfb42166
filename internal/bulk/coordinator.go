// Package bulk executes keyed update, patch and delete batches against a
// store. A batch is gated as a whole: every id must exist and be visible,
// and every per-id check must pass, before the first write is issued.
package bulk

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/obs"
	"switchboard.dev/internal/patch"
	"switchboard.dev/internal/permission"
)

// Store is the persistence contract the coordinator drives.
type Store[E any] interface {
	ReadWhereInIDs(ctx context.Context, ids []int64, f permission.Filter) ([]E, error)
	ReadCountOfIDs(ctx context.Context, ids []int64, f permission.Filter) (int, error)
	Update(ctx context.Context, e E, changes patch.Changes, f permission.Filter) error
	Delete(ctx context.Context, ids []int64, f permission.Filter) error
}

// Terminator is implemented by stores that support soft termination.
type Terminator interface {
	Terminate(ctx context.Context, id int64, f permission.Filter) error
}

// Identity reads and writes the id of an entity.
type Identity[E any] interface {
	ID(E) int64
	SetID(*E, int64)
}

// Dependents describes the domain objects referencing an entity.
type Dependents struct {
	Active     bool
	Terminated bool
}

// Outcome is what happened to one id.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
	Deleted
	Terminated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	case Terminated:
		return "terminated"
	default:
		return "unchanged"
	}
}

// Mutation is the result for one id of a batch.
type Mutation[E any] struct {
	ID      int64
	Old     E
	New     E
	Changes patch.Changes
	Outcome Outcome
}

// IDs returns the ids of ms in order.
func IDs[E any](ms []Mutation[E]) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

type (
	// PrepareFunc may rewrite the proposed entity before it is diffed.
	PrepareFunc[E any] func(ctx context.Context, old E, updated *E, f permission.Filter) error
	// UpdateCheck validates one proposed change.
	UpdateCheck[E any] func(ctx context.Context, old, updated E, changes patch.Changes, f permission.Filter) error
	// Precheck runs on the submitted ids before anything is read.
	Precheck func(ctx context.Context, ids []int64, f permission.Filter) error
	// DeleteCheck validates the deletion of one entity.
	DeleteCheck[E any] func(ctx context.Context, old E, f permission.Filter) error
	// DependentsFunc reports the dependents of one entity.
	DependentsFunc[E any] func(ctx context.Context, old E) (Dependents, error)
)

// Coordinator runs batches for one resource.
type Coordinator[E any] struct {
	name        string
	store       Store[E]
	identity    Identity[E]
	prepare     []PrepareFunc[E]
	checks      []UpdateCheck[E]
	prechecks   []Precheck
	deletes     []DeleteCheck[E]
	dependents  DependentsFunc[E]
	lockedCode  string
	concurrency int
}

// Option configures a Coordinator.
type Option[E any] func(*Coordinator[E])

// WithPrepare registers a rewrite applied to each proposed entity.
func WithPrepare[E any](fn PrepareFunc[E]) Option[E] {
	return func(c *Coordinator[E]) { c.prepare = append(c.prepare, fn) }
}

// WithUpdateCheck registers a per-id update validation.
func WithUpdateCheck[E any](fn UpdateCheck[E]) Option[E] {
	return func(c *Coordinator[E]) { c.checks = append(c.checks, fn) }
}

// WithPrecheck registers a check on the raw id list of a delete.
func WithPrecheck[E any](fn Precheck) Option[E] {
	return func(c *Coordinator[E]) { c.prechecks = append(c.prechecks, fn) }
}

// WithDeleteCheck registers a per-id delete validation.
func WithDeleteCheck[E any](fn DeleteCheck[E]) Option[E] {
	return func(c *Coordinator[E]) { c.deletes = append(c.deletes, fn) }
}

// WithDependents enables the lock/terminate/delete policy. code is raised
// when an entity still has active dependents.
func WithDependents[E any](fn DependentsFunc[E], code string) Option[E] {
	return func(c *Coordinator[E]) {
		c.dependents = fn
		c.lockedCode = code
	}
}

// WithConcurrency bounds how many per-id checks run at once. Checks that
// share one database transaction must run with 1.
func WithConcurrency[E any](n int) Option[E] {
	return func(c *Coordinator[E]) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// New constructs a Coordinator for the resource name.
func New[E any](name string, store Store[E], identity Identity[E], opts ...Option[E]) *Coordinator[E] {
	c := &Coordinator[E]{
		name:        name,
		store:       store,
		identity:    identity,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update replaces every entity of k. Ids are returned in submitted order.
func (c *Coordinator[E]) Update(ctx context.Context, k Keyed[E], f permission.Filter) ([]Mutation[E], error) {
	olds, err := c.gate(ctx, k.IDs, f)
	if err != nil {
		return nil, err
	}
	news := make(map[int64]E, len(k.IDs))
	for _, id := range k.IDs {
		news[id] = k.Values[id]
	}
	return c.mutate(ctx, k.IDs, olds, news, f)
}

// Adjust patches every entity of k. apply reconciles one patch sequence
// against the stored entity.
func (c *Coordinator[E]) Adjust(ctx context.Context, k Keyed[patch.Ops], f permission.Filter, apply func(old E, ops []patch.Op) (E, error)) ([]Mutation[E], error) {
	olds, err := c.gate(ctx, k.IDs, f)
	if err != nil {
		return nil, err
	}
	news := make(map[int64]E, len(k.IDs))
	for _, id := range k.IDs {
		updated, err := apply(olds[id], k.Values[id])
		if err != nil {
			return nil, err
		}
		news[id] = updated
	}
	return c.mutate(ctx, k.IDs, olds, news, f)
}

// Delete removes ids. Entities with active dependents lock the whole batch,
// entities with only terminated dependents are terminated instead.
func (c *Coordinator[E]) Delete(ctx context.Context, ids []int64, f permission.Filter) ([]Mutation[E], error) {
	ids = dedupe(ids)
	for _, pre := range c.prechecks {
		if err := pre(ctx, ids, f); err != nil {
			return nil, err
		}
	}
	olds, err := c.gate(ctx, ids, f)
	if err != nil {
		return nil, err
	}

	out := make([]Mutation[E], len(ids))
	err = c.each(ctx, ids, func(ctx context.Context, i int, id int64) error {
		old := olds[id]
		for _, check := range c.deletes {
			if err := check(ctx, old, f); err != nil {
				return err
			}
		}
		outcome := Deleted
		if c.dependents != nil {
			deps, err := c.dependents(ctx, old)
			if err != nil {
				return err
			}
			switch {
			case deps.Active:
				return apperr.Locked(c.lockedCode, fmt.Sprintf("%d", id))
			case deps.Terminated:
				outcome = Terminated
			}
		}
		out[i] = Mutation[E]{ID: id, Old: old, New: old, Outcome: outcome}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var hard []int64
	for _, m := range out {
		if m.Outcome == Deleted {
			hard = append(hard, m.ID)
			continue
		}
		term, ok := c.store.(Terminator)
		if !ok {
			return nil, apperr.Internal(apperr.CodeInternal, fmt.Errorf("%s: store cannot terminate", c.name))
		}
		if err := term.Terminate(ctx, m.ID, f); err != nil {
			return nil, err
		}
	}
	if len(hard) > 0 {
		if err := c.store.Delete(ctx, hard, f); err != nil {
			return nil, err
		}
	}
	obs.ObserveBatch(c.name, "delete", len(out))
	return out, nil
}

// gate loads ids under f and fails the batch when any is missing or hidden.
func (c *Coordinator[E]) gate(ctx context.Context, ids []int64, f permission.Filter) (map[int64]E, error) {
	if len(ids) == 0 {
		return nil, apperr.BadRequest(apperr.CodeInvalidID, "no ids")
	}
	rows, err := c.store.ReadWhereInIDs(ctx, ids, f)
	if err != nil {
		return nil, err
	}
	found := make(map[int64]E, len(rows))
	for _, e := range rows {
		found[c.identity.ID(e)] = e
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return found, nil
	}
	if len(ids) == 1 {
		return nil, apperr.NotFound(apperr.CodeEntryNotFound, apperr.EntryNotFound(missing)...)
	}
	return nil, apperr.Unprocessable(apperr.CodeEntryNotFound, apperr.EntryNotFound(missing)...)
}

func (c *Coordinator[E]) mutate(ctx context.Context, ids []int64, olds, news map[int64]E, f permission.Filter) ([]Mutation[E], error) {
	out := make([]Mutation[E], len(ids))
	for i, id := range ids {
		old, updated := olds[id], news[id]
		c.identity.SetID(&updated, id)
		for _, prep := range c.prepare {
			if err := prep(ctx, old, &updated, f); err != nil {
				return nil, err
			}
		}
		c.identity.SetID(&updated, id)
		changes, err := patch.Diff(old, updated)
		if err != nil {
			return nil, apperr.Internal(apperr.CodeInternal, err)
		}
		outcome := Updated
		if len(changes) == 0 {
			outcome = Unchanged
		}
		out[i] = Mutation[E]{ID: id, Old: old, New: updated, Changes: changes, Outcome: outcome}
	}

	err := c.each(ctx, ids, func(ctx context.Context, i int, _ int64) error {
		m := out[i]
		for _, check := range c.checks {
			if err := check(ctx, m.Old, m.New, m.Changes, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, m := range out {
		if m.Outcome == Unchanged {
			continue
		}
		if err := c.store.Update(ctx, m.New, m.Changes, f); err != nil {
			return nil, err
		}
	}
	obs.ObserveBatch(c.name, "update", len(out))
	return out, nil
}

// each runs fn for every id with bounded concurrency and returns the first error.
func (c *Coordinator[E]) each(ctx context.Context, ids []int64, fn func(ctx context.Context, i int, id int64) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i, id)
		})
	}
	return g.Wait()
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
