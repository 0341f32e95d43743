package domain

// Role enumerates marketplace caller roles.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
	RoleAdmin  Role = "ADMIN"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the caller is back-office staff.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// AuthorType maps the caller role onto message authorship.
func (p Principal) AuthorType() MessageAuthorType {
	switch p.Role {
	case RoleAdmin:
		return AuthorTypeAdmin
	case RoleSeller:
		return AuthorTypeSeller
	default:
		return AuthorTypeBuyer
	}
}

// Author returns the message author for the caller.
func (p Principal) Author() Author {
	return Author{ID: p.UserID, Type: p.AuthorType()}
}
