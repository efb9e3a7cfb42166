package admins

import (
	"context"
	"fmt"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/auth"
	"switchboard.dev/internal/bulk"
	"switchboard.dev/internal/patch"
	"switchboard.dev/internal/permission"
	"switchboard.dev/internal/resource"
)

// Store persists admins and their password history.
type Store interface {
	resource.Store[Admin]
	PasswordHistory(ctx context.Context, adminID int64, n int) ([]string, error)
	RecordPassword(ctx context.Context, adminID int64, hash string, keep int) error
}

// Options tunes admin handling.
type Options struct {
	// BuiltinLogin names the admin that can never be deleted.
	BuiltinLogin string
	// History is how many past passwords are retained and refused.
	History    int
	BcryptCost int
}

func (o Options) withDefaults() Options {
	if o.BuiltinLogin == "" {
		o.BuiltinLogin = "administrator"
	}
	if o.History <= 0 {
		o.History = 12
	}
	return o
}

type hooks struct {
	store Store
	opts  Options
}

// New returns the admin resource service.
func New(store Store, j resource.Journal, tx resource.TxRunner, opts Options) *resource.Service[Admin, Request] {
	h := &hooks{store: store, opts: opts.withDefaults()}
	return resource.New[Admin, Request](Kind{}, &historyStore{Store: store, keep: h.opts.History}, j,
		resource.WithTx[Admin, Request](tx),
		resource.WithCreateHook[Admin, Request](h.prepareCreate),
		resource.WithBulk[Admin, Request](
			bulk.WithPrepare[Admin](h.prepareUpdate),
			bulk.WithUpdateCheck[Admin](h.checkUpdate),
			bulk.WithPrecheck[Admin](notSelf),
			bulk.WithDeleteCheck[Admin](h.checkDelete),
		),
	)
}

func (h *hooks) prepareCreate(ctx context.Context, a *Admin, f permission.Filter) error {
	role, ok := permission.RoleByName(a.Role)
	if !ok {
		return apperr.Unprocessable(apperr.CodeInvalidUserRole, a.Role)
	}
	if err := f.CheckRole(role.ID); err != nil {
		return err
	}
	applyRole(a, role)
	if a.Password == "" {
		return apperr.Unprocessable(apperr.CodeInvalidField, "password: failed required")
	}
	if err := h.hash(a); err != nil {
		return err
	}
	if a.ResellerID == nil {
		if p, ok := auth.PrincipalFromContext(ctx); ok {
			a.ResellerID = p.Reseller()
		}
	}
	return nil
}

func (h *hooks) prepareUpdate(_ context.Context, old Admin, updated *Admin, _ permission.Filter) error {
	if updated.Role == "" {
		updated.Role = old.Role
	}
	role, ok := permission.RoleByName(updated.Role)
	if !ok {
		return apperr.Unprocessable(apperr.CodeInvalidUserRole, updated.Role)
	}
	applyRole(updated, role)
	if updated.ResellerID == nil {
		updated.ResellerID = old.ResellerID
	}
	if updated.Password == "" {
		updated.SaltedPass = old.SaltedPass
		return nil
	}
	return h.hash(updated)
}

func (h *hooks) checkUpdate(ctx context.Context, old, updated Admin, changes patch.Changes, f permission.Filter) error {
	if changes.Has("role") {
		if err := f.CheckRole(updated.RoleID); err != nil {
			return err
		}
	}
	if err := f.CheckSelfProtected(old.ID, changes, permission.AdminSelfProtected); err != nil {
		return err
	}
	if updated.Password == "" {
		return nil
	}
	used, err := h.store.PasswordHistory(ctx, old.ID, h.opts.History)
	if err != nil {
		return err
	}
	used = append(used, old.SaltedPass)
	for _, hash := range used {
		if hash != "" && auth.VerifyPassword(hash, updated.Password) == nil {
			return apperr.Unprocessable(apperr.CodePasswordAlreadyUsed)
		}
	}
	return nil
}

func (h *hooks) checkDelete(_ context.Context, old Admin, _ permission.Filter) error {
	if old.Login == h.opts.BuiltinLogin {
		return apperr.Forbidden(apperr.CodeDeleteSpecialUser, old.Login)
	}
	return nil
}

func (h *hooks) hash(a *Admin) error {
	hash, err := auth.HashPassword(a.Password, h.opts.BcryptCost)
	if err != nil {
		return apperr.Internal(apperr.CodeInternal, fmt.Errorf("hash password: %w", err))
	}
	a.SaltedPass = hash
	return nil
}

func notSelf(_ context.Context, ids []int64, f permission.Filter) error {
	return f.CheckNotSelf(ids)
}

// historyStore records every newly set password hash.
type historyStore struct {
	Store
	keep int
}

func (s *historyStore) Create(ctx context.Context, admins []Admin, f permission.Filter) ([]int64, error) {
	ids, err := s.Store.Create(ctx, admins, f)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if err := s.RecordPassword(ctx, id, admins[i].SaltedPass, s.keep); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *historyStore) Update(ctx context.Context, a Admin, changes patch.Changes, f permission.Filter) error {
	if err := s.Store.Update(ctx, a, changes, f); err != nil {
		return err
	}
	if !changes.Has("saltedpass") {
		return nil
	}
	return s.RecordPassword(ctx, a.ID, a.SaltedPass, s.keep)
}
