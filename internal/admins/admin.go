// Package admins implements the administrator resource.
package admins

import (
	"switchboard.dev/internal/permission"
)

// Admin is a stored administrator.
type Admin struct {
	ID               int64  `json:"id"`
	ResellerID       *int64 `json:"reseller_id"`
	Login            string `json:"login"`
	SaltedPass       string `json:"saltedpass"`
	Role             string `json:"role"`
	RoleID           int64  `json:"role_id"`
	Email            string `json:"email"`
	IsMaster         bool   `json:"is_master"`
	IsActive         bool   `json:"is_active"`
	IsSystem         bool   `json:"is_system"`
	IsSuperuser      bool   `json:"is_superuser"`
	IsCcare          bool   `json:"is_ccare"`
	LawfulIntercept  bool   `json:"lawful_intercept"`
	ReadOnly         bool   `json:"read_only"`
	ShowPasswords    bool   `json:"show_passwords"`
	CallData         bool   `json:"call_data"`
	BillingData      bool   `json:"billing_data"`
	CanResetPassword bool   `json:"can_reset_password"`

	// Password is the cleartext of a pending password change; it is never stored.
	Password string `json:"-"`
}

// Request is the create, replace and patch shape of an admin. The
// permission flags are derived from the role and cannot be written.
type Request struct {
	ID               int64  `json:"id" patch:"readonly"`
	ResellerID       *int64 `json:"reseller_id" validate:"omitempty,gt=0"`
	Login            string `json:"login" validate:"required,max=127"`
	Password         string `json:"password" validate:"omitempty,min=6,max=72"`
	Role             string `json:"role" validate:"required,oneof=system admin reseller ccareadmin ccare lintercept"`
	Email            string `json:"email" validate:"omitempty,email,max=255"`
	IsMaster         bool   `json:"is_master"`
	IsActive         bool   `json:"is_active"`
	IsSystem         bool   `json:"is_system" patch:"readonly"`
	IsSuperuser      bool   `json:"is_superuser" patch:"readonly"`
	IsCcare          bool   `json:"is_ccare" patch:"readonly"`
	LawfulIntercept  bool   `json:"lawful_intercept" patch:"readonly"`
	ReadOnly         bool   `json:"read_only"`
	ShowPasswords    bool   `json:"show_passwords"`
	CallData         bool   `json:"call_data"`
	BillingData      bool   `json:"billing_data"`
	CanResetPassword bool   `json:"can_reset_password"`
}

// Response is what clients read back.
type Response struct {
	ID               int64  `json:"id"`
	ResellerID       *int64 `json:"reseller_id"`
	Login            string `json:"login"`
	Role             string `json:"role"`
	Email            string `json:"email,omitempty"`
	IsMaster         bool   `json:"is_master"`
	IsActive         bool   `json:"is_active"`
	IsSystem         bool   `json:"is_system"`
	IsSuperuser      bool   `json:"is_superuser"`
	IsCcare          bool   `json:"is_ccare"`
	LawfulIntercept  bool   `json:"lawful_intercept"`
	ReadOnly         bool   `json:"read_only"`
	ShowPasswords    bool   `json:"show_passwords"`
	CallData         bool   `json:"call_data"`
	BillingData      bool   `json:"billing_data"`
	CanResetPassword bool   `json:"can_reset_password"`
}

// Kind maps admins between their representations.
type Kind struct{}

func (Kind) Name() string { return "admins" }

func (Kind) FromInternal(a Admin) Request {
	return Request{
		ID:               a.ID,
		ResellerID:       a.ResellerID,
		Login:            a.Login,
		Role:             a.Role,
		Email:            a.Email,
		IsMaster:         a.IsMaster,
		IsActive:         a.IsActive,
		IsSystem:         a.IsSystem,
		IsSuperuser:      a.IsSuperuser,
		IsCcare:          a.IsCcare,
		LawfulIntercept:  a.LawfulIntercept,
		ReadOnly:         a.ReadOnly,
		ShowPasswords:    a.ShowPasswords,
		CallData:         a.CallData,
		BillingData:      a.BillingData,
		CanResetPassword: a.CanResetPassword,
	}
}

func (Kind) ToInternal(r Request) (Admin, error) {
	return Admin{
		ID:               r.ID,
		ResellerID:       r.ResellerID,
		Login:            r.Login,
		Password:         r.Password,
		Role:             r.Role,
		Email:            r.Email,
		IsMaster:         r.IsMaster,
		IsActive:         r.IsActive,
		ReadOnly:         r.ReadOnly,
		ShowPasswords:    r.ShowPasswords,
		CallData:         r.CallData,
		BillingData:      r.BillingData,
		CanResetPassword: r.CanResetPassword,
	}, nil
}

func (Kind) ID(a Admin) int64                    { return a.ID }
func (Kind) SetID(a *Admin, id int64)            { a.ID = id }
func (Kind) Tenant(a Admin) *int64               { return a.ResellerID }
func (Kind) SetTenant(a *Admin, reseller *int64) { a.ResellerID = reseller }

// Present renders a for clients.
func (Kind) Present(a Admin) any {
	return Response{
		ID:               a.ID,
		ResellerID:       a.ResellerID,
		Login:            a.Login,
		Role:             a.Role,
		Email:            a.Email,
		IsMaster:         a.IsMaster,
		IsActive:         a.IsActive,
		IsSystem:         a.IsSystem,
		IsSuperuser:      a.IsSuperuser,
		IsCcare:          a.IsCcare,
		LawfulIntercept:  a.LawfulIntercept,
		ReadOnly:         a.ReadOnly,
		ShowPasswords:    a.ShowPasswords,
		CallData:         a.CallData,
		BillingData:      a.BillingData,
		CanResetPassword: a.CanResetPassword,
	}
}

// applyRole sets the role id and the permission flags implied by role.
func applyRole(a *Admin, role permission.Role) {
	a.Role = role.Name
	a.RoleID = role.ID
	a.IsSystem = role.IsSystem
	a.IsSuperuser = role.IsSuperuser
	a.IsCcare = role.IsCcare
	a.LawfulIntercept = role.LawfulIntercept
}
