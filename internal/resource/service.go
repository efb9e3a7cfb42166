// Package resource is the per-resource facade every REST resource is built
// from. A resource supplies a Kind and a Store; the facade computes the
// caller's filter, runs the keyed batch and writes one journal entry per id,
// all inside one transaction.
package resource

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/auth"
	"switchboard.dev/internal/bulk"
	"switchboard.dev/internal/journal"
	"switchboard.dev/internal/paging"
	"switchboard.dev/internal/patch"
	"switchboard.dev/internal/permission"
)

// Kind describes one resource type: its request shape D, internal entity E
// and where E keeps its tenancy tag.
type Kind[E, D any] interface {
	patch.Mapper[D, E]
	Name() string
	Tenant(E) *int64
	SetTenant(*E, *int64)
}

// Store is the persistence contract of one resource.
type Store[E any] interface {
	bulk.Store[E]
	Create(ctx context.Context, entities []E, f permission.Filter) ([]int64, error)
	Read(ctx context.Context, id int64, f permission.Filter) (E, error)
	ReadAll(ctx context.Context, page paging.Page, f permission.Filter) ([]E, int, error)
}

// Journal writes and lists audit entries.
type Journal interface {
	Write(ctx context.Context, resourceID int64, payload any) (bool, error)
	List(ctx context.Context, q journal.Query, f permission.Filter) ([]journal.Entry, int, error)
}

// TxRunner runs fn inside one storage transaction carried by ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type (
	// CreateHook prepares and validates one entity before it is inserted.
	CreateHook[E any] func(ctx context.Context, e *E, f permission.Filter) error
	// AfterCommit runs once the transaction of a mutation has committed.
	AfterCommit[E any] func(ctx context.Context, op journal.Operation, ms []bulk.Mutation[E])
)

// Service is the facade of one resource.
type Service[E, D any] struct {
	kind     Kind[E, D]
	store    Store[E]
	journal  Journal
	tx       TxRunner
	validate *validator.Validate
	creates  []CreateHook[E]
	after    []AfterCommit[E]
	bulkOpts []bulk.Option[E]
	coord    *bulk.Coordinator[E]
}

// Option configures a Service.
type Option[E, D any] func(*Service[E, D])

// WithTx runs every mutation through runner.
func WithTx[E, D any](runner TxRunner) Option[E, D] {
	return func(s *Service[E, D]) {
		if runner != nil {
			s.tx = runner
		}
	}
}

// WithValidator replaces the request validator.
func WithValidator[E, D any](v *validator.Validate) Option[E, D] {
	return func(s *Service[E, D]) {
		if v != nil {
			s.validate = v
		}
	}
}

// WithCreateHook registers a hook run on every entity before insert.
func WithCreateHook[E, D any](fn CreateHook[E]) Option[E, D] {
	return func(s *Service[E, D]) { s.creates = append(s.creates, fn) }
}

// WithAfterCommit registers a callback run after a mutation committed.
func WithAfterCommit[E, D any](fn AfterCommit[E]) Option[E, D] {
	return func(s *Service[E, D]) { s.after = append(s.after, fn) }
}

// WithBulk passes options to the batch coordinator.
func WithBulk[E, D any](opts ...bulk.Option[E]) Option[E, D] {
	return func(s *Service[E, D]) { s.bulkOpts = append(s.bulkOpts, opts...) }
}

// New constructs the facade of kind.
func New[E, D any](kind Kind[E, D], store Store[E], j Journal, opts ...Option[E, D]) *Service[E, D] {
	s := &Service[E, D]{
		kind:     kind,
		store:    store,
		journal:  j,
		tx:       direct{},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(s)
	}
	bopts := append([]bulk.Option[E]{bulk.WithPrepare[E](s.keepTenant)}, s.bulkOpts...)
	s.coord = bulk.New[E](kind.Name(), store, kind, bopts...)
	return s
}

// Name returns the resource name.
func (s *Service[E, D]) Name() string { return s.kind.Name() }

// Kind returns the resource kind.
func (s *Service[E, D]) Kind() Kind[E, D] { return s.kind }

// Create inserts one entity per request value.
func (s *Service[E, D]) Create(ctx context.Context, dtos []D) ([]E, error) {
	f, err := filterFor(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(dtos) == 0 {
		return nil, apperr.BadRequest(apperr.CodeInvalidJSON, "empty request")
	}
	entities := make([]E, len(dtos))
	for i, dto := range dtos {
		if err := patch.ValidateRequest(s.validate, dto); err != nil {
			return nil, err
		}
		e, err := s.kind.ToInternal(dto)
		if err != nil {
			return nil, unprocessable(err)
		}
		s.kind.SetID(&e, 0)
		if err := s.assignTenant(&e, f); err != nil {
			return nil, err
		}
		entities[i] = e
	}

	var ids []int64
	err = s.inTx(ctx, func(ctx context.Context) error {
		for i := range entities {
			for _, hook := range s.creates {
				if err := hook(ctx, &entities[i], f); err != nil {
					return err
				}
			}
		}
		var err error
		ids, err = s.store.Create(ctx, entities, f)
		if err != nil {
			return err
		}
		for i, id := range ids {
			s.kind.SetID(&entities[i], id)
			if _, err := s.journal.Write(ctx, id, dtos[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ms := make([]bulk.Mutation[E], len(entities))
	for i, e := range entities {
		ms[i] = bulk.Mutation[E]{ID: ids[i], New: e, Outcome: bulk.Created}
	}
	s.committed(ctx, journal.OpCreate, ms)
	return entities, nil
}

// Read returns one visible entity.
func (s *Service[E, D]) Read(ctx context.Context, id int64) (E, error) {
	var zero E
	f, err := filterFor(ctx, false)
	if err != nil {
		return zero, err
	}
	return s.store.Read(ctx, id, f)
}

// ReadAll returns one page of visible entities and the total count.
func (s *Service[E, D]) ReadAll(ctx context.Context, page paging.Page) ([]E, int, error) {
	f, err := filterFor(ctx, false)
	if err != nil {
		return nil, 0, err
	}
	return s.store.ReadAll(ctx, page.Normalize(), f)
}

// Update replaces the entities of k. Members absent from a request value
// are reset.
func (s *Service[E, D]) Update(ctx context.Context, k bulk.Keyed[D]) ([]bulk.Mutation[E], error) {
	f, err := filterFor(ctx, true)
	if err != nil {
		return nil, err
	}
	entities := bulk.Keyed[E]{Values: make(map[int64]E, k.Len())}
	for _, id := range k.IDs {
		dto := k.Values[id]
		if err := patch.ValidateRequest(s.validate, dto); err != nil {
			return nil, err
		}
		e, err := s.kind.ToInternal(dto)
		if err != nil {
			return nil, unprocessable(err)
		}
		entities.Set(id, e)
	}
	return s.run(ctx, journal.OpUpdate, func(ctx context.Context) ([]bulk.Mutation[E], error) {
		return s.coord.Update(ctx, entities, f)
	}, func(id int64) any { return k.Values[id] })
}

// Adjust patches the entities of k.
func (s *Service[E, D]) Adjust(ctx context.Context, k bulk.Keyed[patch.Ops]) ([]bulk.Mutation[E], error) {
	f, err := filterFor(ctx, true)
	if err != nil {
		return nil, err
	}
	apply := func(old E, ops []patch.Op) (E, error) {
		return patch.ToEntity[D, E](old, ops, s.kind, s.validate)
	}
	return s.run(ctx, journal.OpUpdate, func(ctx context.Context) ([]bulk.Mutation[E], error) {
		return s.coord.Adjust(ctx, k, f, apply)
	}, func(id int64) any { return k.Values[id] })
}

// Delete removes or terminates ids.
func (s *Service[E, D]) Delete(ctx context.Context, ids []int64) ([]bulk.Mutation[E], error) {
	f, err := filterFor(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, journal.OpDelete, func(ctx context.Context) ([]bulk.Mutation[E], error) {
		return s.coord.Delete(ctx, ids, f)
	}, func(int64) any { return map[string]any{} })
}

// Journal lists the journal entries of one visible entity.
func (s *Service[E, D]) Journal(ctx context.Context, id int64, page paging.Page) ([]journal.Entry, int, error) {
	f, err := filterFor(ctx, false)
	if err != nil {
		return nil, 0, err
	}
	n, err := s.store.ReadCountOfIDs(ctx, []int64{id}, f)
	if err != nil {
		return nil, 0, err
	}
	if n == 0 {
		return nil, 0, apperr.NotFound(apperr.CodeEntryNotFound, apperr.EntryNotFound([]int64{id})...)
	}
	return s.journal.List(ctx, journal.Query{ResourceName: s.kind.Name(), ResourceID: &id, Page: page}, f)
}

func (s *Service[E, D]) run(ctx context.Context, op journal.Operation, batch func(context.Context) ([]bulk.Mutation[E], error), payload func(id int64) any) ([]bulk.Mutation[E], error) {
	var out []bulk.Mutation[E]
	err := s.inTx(ctx, func(ctx context.Context) error {
		ms, err := batch(ctx)
		if err != nil {
			return err
		}
		for _, m := range ms {
			if _, err := s.journal.Write(ctx, m.ID, payload(m.ID)); err != nil {
				return err
			}
		}
		out = ms
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, op, out)
	return out, nil
}

// inTx runs fn in one transaction. Journal entries written by fn are
// published once it has committed.
func (s *Service[E, D]) inTx(ctx context.Context, fn func(context.Context) error) error {
	ctx, ob := journal.WithOutbox(ctx)
	if err := s.tx.InTx(ctx, fn); err != nil {
		ob.Discard()
		return err
	}
	ob.Flush(context.WithoutCancel(ctx))
	return nil
}

func (s *Service[E, D]) committed(ctx context.Context, op journal.Operation, ms []bulk.Mutation[E]) {
	for _, fn := range s.after {
		fn(context.WithoutCancel(ctx), op, ms)
	}
}

// assignTenant tags a new entity with the caller's reseller, or checks the
// one it carries.
func (s *Service[E, D]) assignTenant(e *E, f permission.Filter) error {
	if f.ResellerID == nil {
		return nil
	}
	tenant := s.kind.Tenant(*e)
	if tenant == nil {
		rid := *f.ResellerID
		s.kind.SetTenant(e, &rid)
		return nil
	}
	return f.CheckTenant(tenant)
}

// keepTenant stops reseller-scoped callers from moving rows to another
// reseller. A replacement without a tenancy tag keeps the stored one.
func (s *Service[E, D]) keepTenant(_ context.Context, old E, updated *E, f permission.Filter) error {
	if f.ResellerID == nil {
		return nil
	}
	prev, next := s.kind.Tenant(old), s.kind.Tenant(*updated)
	if next == nil {
		s.kind.SetTenant(updated, prev)
		return nil
	}
	if prev == nil || *prev != *next {
		return apperr.Forbidden(apperr.CodeChangeResellerDenied, "reseller_id")
	}
	return nil
}

func filterFor(ctx context.Context, write bool) (permission.Filter, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return permission.Filter{}, apperr.Unauthorized(apperr.CodeUnauthorized)
	}
	if write && p.ReadOnly {
		return permission.Filter{}, apperr.Forbidden(apperr.CodeReadOnly)
	}
	return permission.Compute(p)
}

func unprocessable(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Unprocessable(apperr.CodeInvalidField, err.Error())
}

type direct struct{}

func (direct) InTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
