package domain

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

func (r Role) IsValid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// Actor is the resolved identity behind a request.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanAccess reports whether the actor may read or act on the order.
func (a Actor) CanAccess(o *Order) bool {
	return a.IsAdmin() || o.IsOwnedBy(a.UserID)
}

func (a Actor) CancelledBy() CancelledBy {
	if a.IsAdmin() {
		return CancelledByAdmin
	}
	return CancelledByCustomer
}
