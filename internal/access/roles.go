// Package access resolves identities into capability sets and applies the
// visibility rules that follow from them.
package access

import (
	"fmt"
	"strings"
)

// Role is the closed set of roles known to the system. The zero value is
// RoleUnknown, which grants nothing.
type Role uint8

// Known roles. RoleClient is never stored; it is granted by a share link.
const (
	RoleUnknown Role = iota
	RoleSuperAdmin
	RoleKontraktor
	RolePengawas
	RoleKeuangan
	RoleClient
)

// Roles lists every known role except RoleUnknown.
var Roles = []Role{RoleSuperAdmin, RoleKontraktor, RolePengawas, RoleKeuangan, RoleClient}

var roleNames = map[Role]string{
	RoleUnknown:    "",
	RoleSuperAdmin: "super_admin",
	RoleKontraktor: "kontraktor",
	RolePengawas:   "pengawas",
	RoleKeuangan:   "keuangan",
	RoleClient:     "client",
}

// String returns the stored role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Assignable reports whether the role can be stored on an AppUser.
func (r Role) Assignable() bool {
	switch r {
	case RoleSuperAdmin, RoleKontraktor, RolePengawas, RoleKeuangan:
		return true
	default:
		return false
	}
}

// ParseRole maps a stored role name to a Role. Unknown names yield
// RoleUnknown and false.
func ParseRole(name string) (Role, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for role, n := range roleNames {
		if role != RoleUnknown && n == name {
			return role, true
		}
	}
	return RoleUnknown, false
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode
// to RoleUnknown rather than failing so that a bad stored role fails closed.
func (r *Role) UnmarshalText(text []byte) error {
	role, _ := ParseRole(string(text))
	*r = role
	return nil
}
