package models

import "fmt"

// Role is the closed set of principal types known to the establishment.
// Every caller is resolved to exactly one (id, role) pair; there is no
// free-form user type anywhere below the transport layer.
type Role string

const (
	RoleEleve          Role = "eleve"
	RoleParent         Role = "parent"
	RoleProfesseur     Role = "professeur"
	RoleVieScolaire    Role = "vie_scolaire"
	RoleAdministration Role = "administration"
)

var allRoles = []Role{
	RoleEleve,
	RoleParent,
	RoleProfesseur,
	RoleVieScolaire,
	RoleAdministration,
}

func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

// AllRoles returns the closed role set, used by "everyone" broadcasts.
func AllRoles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

var roleLabels = map[Role]string{
	RoleEleve:          "Élève",
	RoleParent:         "Parent",
	RoleProfesseur:     "Professeur",
	RoleVieScolaire:    "Vie scolaire",
	RoleAdministration: "Administration",
}

// Label returns the display label for the role.
func (r Role) Label() string {
	if label, ok := roleLabels[r]; ok {
		return label
	}
	return string(r)
}

// Principal identifies a caller. Identity resolution itself is external;
// this core only ever sees the resolved pair.
type Principal struct {
	ID   uint `json:"id"`
	Role Role `json:"role"`
}

func (p Principal) Is(other Principal) bool {
	return p.ID == other.ID && p.Role == other.Role
}

func (p Principal) String() string {
	return fmt.Sprintf("%s:%d", p.Role, p.ID)
}

// DisplayName renders a principal's name with its role label, e.g.
// "M. Martin (Professeur)". Used when a sender name must be resolved for
// message payloads.
func DisplayName(name string, role Role) string {
	if name == "" {
		return role.Label()
	}
	return name + " (" + role.Label() + ")"
}
