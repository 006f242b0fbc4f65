package access

import (
	"net/url"
	"strings"

	"rabtrack/pkg/domain"
)

// Share link query parameters.
const (
	ClientLinkProjectParam = "projectId"
	ClientLinkModeParam    = "mode"
	ClientLinkModeValue    = "client"
)

// Identity is who the session acts as. A client identity is anonymous and
// pinned to a single project.
type Identity struct {
	Email           string
	Name            string
	Role            Role
	Impersonating   Role
	ClientProjectID string
	ClientShowMoney bool
}

// Anonymous returns the empty identity.
func Anonymous() Identity { return Identity{} }

// ForUser builds the identity of a registered account.
func ForUser(u domain.AppUser) Identity {
	role, _ := ParseRole(u.Role)
	return Identity{Email: domain.NormalizeEmail(u.Email), Name: u.Name, Role: role}
}

// ForClientLink builds the anonymous identity granted by a share link.
func ForClientLink(projectID string, showMoney bool) Identity {
	return Identity{Role: RoleClient, ClientProjectID: projectID, ClientShowMoney: showMoney}
}

// IsClient reports whether the identity came from a share link.
func (i Identity) IsClient() bool {
	return i.Role == RoleClient && i.ClientProjectID != ""
}

// Authenticated reports whether the identity may issue mutations.
func (i Identity) Authenticated() bool {
	return i.Email != "" && i.Role.Assignable()
}

// EffectiveRole applies impersonation.
func (i Identity) EffectiveRole() Role {
	return effectiveRole(i.Role, i.Impersonating)
}

// Capabilities resolves the identity's capability set.
func (i Identity) Capabilities() Capabilities {
	if i.IsClient() {
		return ClientCapabilities(i.ClientShowMoney)
	}
	if i.Role == RoleClient {
		return Capabilities{}
	}
	return Resolve(i.Role, i.Impersonating)
}

// ParseClientLink extracts the pinned project id from share link query
// parameters. Both the project id and the literal client mode are required.
func ParseClientLink(q url.Values) (string, bool) {
	id := strings.TrimSpace(q.Get(ClientLinkProjectParam))
	if id == "" || q.Get(ClientLinkModeParam) != ClientLinkModeValue {
		return "", false
	}
	return id, true
}

// ClientLink renders the share link query for a project.
func ClientLink(base, projectID string) string {
	q := url.Values{}
	q.Set(ClientLinkProjectParam, projectID)
	q.Set(ClientLinkModeParam, ClientLinkModeValue)
	return base + "?" + q.Encode()
}
