package auth

// Role represents a caller role.
type Role string

const (
	RoleContact   Role = "contact"
	RoleCaretaker Role = "caretaker"
	RoleAdmin     Role = "admin"
)

// NormalizeRole validates and normalizes a role string.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleContact, RoleCaretaker, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleContact:
		return 1
	case RoleCaretaker:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}
