package auth

// Principal is the authenticated admin a request runs on behalf of.
type Principal struct {
	ID            int64
	Login         string
	Role          string
	ResellerID    int64 // 0 when the admin has no reseller
	IsMaster      bool
	ReadOnly      bool
	ShowPasswords bool
}

// Reseller returns the reseller the principal belongs to, or nil when the
// admin row carries none.
func (p Principal) Reseller() *int64 {
	if p.ResellerID == 0 {
		return nil
	}
	rid := p.ResellerID
	return &rid
}

// Credentials is the stored login record of an admin.
type Credentials struct {
	ID            int64
	Login         string
	PasswordHash  string
	Role          string
	ResellerID    int64 // 0 when the admin has no reseller
	IsMaster      bool
	IsActive      bool
	ReadOnly      bool
	ShowPasswords bool
}

// Principal converts the stored record into a request principal.
func (c Credentials) Principal() Principal {
	return Principal{
		ID:            c.ID,
		Login:         c.Login,
		Role:          c.Role,
		ResellerID:    c.ResellerID,
		IsMaster:      c.IsMaster,
		ReadOnly:      c.ReadOnly,
		ShowPasswords: c.ShowPasswords,
	}
}
