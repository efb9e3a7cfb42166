package permission

import "strings"

// Role is an administrative role and the roles it may administer.
type Role struct {
	ID          int64
	Name        string
	HasAccessTo []int64
	// ResellerScoped roles only see rows of their own reseller.
	ResellerScoped  bool
	IsSystem        bool
	IsSuperuser     bool
	IsCcare         bool
	LawfulIntercept bool
}

const (
	RoleSystem     = "system"
	RoleAdmin      = "admin"
	RoleReseller   = "reseller"
	RoleCcareAdmin = "ccareadmin"
	RoleCcare      = "ccare"
	RoleLintercept = "lintercept"
)

var roles = []Role{
	{ID: 1, Name: RoleSystem, HasAccessTo: []int64{1, 3, 5, 7, 9, 11}, IsSystem: true},
	{ID: 3, Name: RoleAdmin, HasAccessTo: []int64{3, 5, 7, 9}, IsSuperuser: true},
	{ID: 5, Name: RoleReseller, HasAccessTo: []int64{5, 7, 9}, ResellerScoped: true},
	{ID: 7, Name: RoleCcareAdmin, HasAccessTo: []int64{7, 9}, ResellerScoped: true, IsSuperuser: true, IsCcare: true},
	{ID: 9, Name: RoleCcare, HasAccessTo: []int64{9}, ResellerScoped: true, IsCcare: true},
	{ID: 11, Name: RoleLintercept, LawfulIntercept: true},
}

// Roles returns the role table.
func Roles() []Role {
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

func RoleByName(name string) (Role, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range roles {
		if r.Name == name {
			return r, true
		}
	}
	return Role{}, false
}

func RoleByID(id int64) (Role, bool) {
	for _, r := range roles {
		if r.ID == id {
			return r, true
		}
	}
	return Role{}, false
}

// RoleForFlags picks the role matching a set of admin permission flags.
func RoleForFlags(lawfulIntercept, system, superuser, ccare bool) Role {
	var name string
	switch {
	case lawfulIntercept:
		name = RoleLintercept
	case system:
		name = RoleSystem
	case superuser && ccare:
		name = RoleCcareAdmin
	case superuser:
		name = RoleAdmin
	case ccare:
		name = RoleCcare
	default:
		name = RoleReseller
	}
	r, _ := RoleByName(name)
	return r
}
