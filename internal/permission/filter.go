// Package permission derives per-request visibility filters from the authenticated principal.
package permission

import (
	"context"
	"fmt"
	"slices"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/auth"
	"switchboard.dev/internal/patch"
)

// AdminSelfProtected lists the admin members a principal cannot change on its own record.
var AdminSelfProtected = []string{
	"login",
	"role",
	"is_master",
	"is_active",
	"is_system",
	"is_superuser",
	"lawful_intercept",
	"read_only",
	"show_passwords",
	"call_data",
	"billing_data",
}

// Filter restricts which rows a request may see or mutate. It lives for one request.
type Filter struct {
	// ResellerID is set for reseller-scoped principals; repositories AND it into every predicate.
	ResellerID  *int64
	UserID      int64
	RoleID      int64
	HasAccessTo []int64
	IsMaster    bool
}

// Compute derives the filter of principal p.
func Compute(p auth.Principal) (Filter, error) {
	role, ok := RoleByName(p.Role)
	if !ok {
		return Filter{}, apperr.Forbidden(apperr.CodeInvalidUserRole, p.Role)
	}
	f := Filter{
		UserID:      p.ID,
		RoleID:      role.ID,
		HasAccessTo: slices.Clone(role.HasAccessTo),
		IsMaster:    p.IsMaster,
	}
	if role.ResellerScoped {
		rid := p.ResellerID
		f.ResellerID = &rid
	}
	return f, nil
}

// FromContext computes the filter of the principal attached to ctx.
func FromContext(ctx context.Context) (Filter, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return Filter{}, apperr.Unauthorized(apperr.CodeUnauthorized)
	}
	return Compute(p)
}

// CanAccessRole reports whether roleID is in the administrable set.
func (f Filter) CanAccessRole(roleID int64) bool {
	return slices.Contains(f.HasAccessTo, roleID)
}

// Visible reports whether a row tagged with tenant is inside the reseller scope.
func (f Filter) Visible(tenant *int64) bool {
	if f.ResellerID == nil {
		return true
	}
	return tenant != nil && *tenant == *f.ResellerID
}

// CheckTenant fails when a scoped principal addresses another reseller's row.
func (f Filter) CheckTenant(tenant *int64) error {
	if f.Visible(tenant) {
		return nil
	}
	return apperr.Forbidden(apperr.CodePermissionDenied, "reseller_id")
}

// CheckRole fails when roleID is outside the administrable set.
func (f Filter) CheckRole(roleID int64) error {
	if f.CanAccessRole(roleID) {
		return nil
	}
	return apperr.Forbidden(apperr.CodeInvalidUserRole, fmt.Sprintf("role %d", roleID))
}

// CheckSelfProtected fails when the principal acts on its own record and
// changes holds one of the protected members. changes must come from a diff
// against the stored record so members sent with their current value pass.
func (f Filter) CheckSelfProtected(id int64, changes patch.Changes, protected []string) error {
	if id != f.UserID {
		return nil
	}
	var hit []string
	for _, field := range protected {
		if changes.Has(field) {
			hit = append(hit, field)
		}
	}
	if len(hit) == 0 {
		return nil
	}
	return apperr.Forbidden(apperr.CodeChangeOwnProperty, hit...)
}

// CheckNotSelf fails when ids contains the principal's own id.
func (f Filter) CheckNotSelf(ids []int64) error {
	if slices.Contains(ids, f.UserID) {
		return apperr.Forbidden(apperr.CodeDeleteOwnUser, fmt.Sprintf("%d", f.UserID))
	}
	return nil
}
