package enums

import "fmt"

// Role is the actor class carried in access tokens.
type Role string

const (
	RoleUser     Role = "user"
	RoleDispatch Role = "dispatch"
)

var validRoles = []Role{RoleUser, RoleDispatch}

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts raw input into a Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
