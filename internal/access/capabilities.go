package access

// Capabilities is the set of boolean predicates derived from a role.
type Capabilities struct {
	CanAccessManagement bool `json:"canAccessManagement"`
	CanEditProject      bool `json:"canEditProject"`
	CanSeeMoney         bool `json:"canSeeMoney"`
	CanAccessFinance    bool `json:"canAccessFinance"`
	CanAccessWorkers    bool `json:"canAccessWorkers"`
	CanViewKurvaS       bool `json:"canViewKurvaS"`
	CanViewInternalRAB  bool `json:"canViewInternalRAB"`
	CanAddWorkers       bool `json:"canAddWorkers"`
}

// Resolve maps a real role and an optional impersonated role to the
// effective capability set. Only a real super_admin may impersonate; for any
// other real role the impersonated role is ignored.
func Resolve(real, impersonated Role) Capabilities {
	return forRole(effectiveRole(real, impersonated))
}

func effectiveRole(real, impersonated Role) Role {
	if real == RoleSuperAdmin && impersonated != RoleUnknown {
		return impersonated
	}
	return real
}

// ClientCapabilities is the set granted by a share link. Money visibility is
// the only switch and is controlled per project.
func ClientCapabilities(showMoney bool) Capabilities {
	return Capabilities{CanSeeMoney: showMoney, CanAccessFinance: showMoney}
}

func forRole(role Role) Capabilities {
	switch role {
	case RoleSuperAdmin:
		return Capabilities{
			CanAccessManagement: true,
			CanEditProject:      true,
			CanSeeMoney:         true,
			CanAccessFinance:    true,
			CanAccessWorkers:    true,
			CanViewKurvaS:       true,
			CanViewInternalRAB:  true,
			CanAddWorkers:       true,
		}
	case RoleKontraktor:
		return Capabilities{
			CanEditProject:     true,
			CanSeeMoney:        true,
			CanAccessFinance:   true,
			CanAccessWorkers:   true,
			CanViewKurvaS:      true,
			CanViewInternalRAB: true,
			CanAddWorkers:      true,
		}
	case RoleKeuangan:
		return Capabilities{
			CanSeeMoney:        true,
			CanAccessFinance:   true,
			CanViewKurvaS:      true,
			CanViewInternalRAB: true,
		}
	case RolePengawas:
		// Supervisors report progress, so they never see the costed RAB or the S-curve.
		return Capabilities{CanAccessWorkers: true}
	case RoleClient:
		return ClientCapabilities(false)
	case RoleUnknown:
		return Capabilities{}
	default:
		return Capabilities{}
	}
}
