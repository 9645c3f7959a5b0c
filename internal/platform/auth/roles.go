package auth

const (
	RoleAdmin         = "admin"
	RoleDoctor        = "doctor"
	RoleLabTechnician = "lab_technician"
	RoleReceptionist  = "receptionist"
	RoleAccountant    = "accountant"
)

var validRoles = map[string]bool{
	RoleAdmin:         true,
	RoleDoctor:        true,
	RoleLabTechnician: true,
	RoleReceptionist:  true,
	RoleAccountant:    true,
}

// IsValidRole reports whether role is one of the known staff roles.
func IsValidRole(role string) bool {
	return validRoles[role]
}
