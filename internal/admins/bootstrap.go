package admins

import (
	"context"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/permission"
	"switchboard.dev/internal/resource"
)

// Bootstrap creates the first system admin outside of any request scope.
// It is meant for an empty installation and runs inside one transaction.
func Bootstrap(ctx context.Context, store Store, tx resource.TxRunner, login, password string, opts Options) (Admin, error) {
	opts = opts.withDefaults()
	role, _ := permission.RoleByName(permission.RoleSystem)
	a := Admin{
		Login:            login,
		Password:         password,
		IsMaster:         true,
		IsActive:         true,
		ShowPasswords:    true,
		CallData:         true,
		BillingData:      true,
		CanResetPassword: true,
	}
	if a.Login == "" {
		return Admin{}, apperr.Unprocessable(apperr.CodeInvalidField, "login")
	}
	applyRole(&a, role)
	h := &hooks{opts: opts}
	if err := h.hash(&a); err != nil {
		return Admin{}, err
	}
	a.Password = ""

	hs := &historyStore{Store: store, keep: opts.History}
	err := tx.InTx(ctx, func(ctx context.Context) error {
		ids, err := hs.Create(ctx, []Admin{a}, permission.Filter{})
		if err != nil {
			return err
		}
		a.ID = ids[0]
		return nil
	})
	if err != nil {
		return Admin{}, err
	}
	return a, nil
}
