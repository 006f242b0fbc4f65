package access

import (
	"net/url"
	"testing"

	"rabtrack/pkg/domain"
)

func TestResolveMatrix(t *testing.T) {
	cases := []struct {
		role Role
		want Capabilities
	}{
		{RoleSuperAdmin, Capabilities{true, true, true, true, true, true, true, true}},
		{RoleKontraktor, Capabilities{false, true, true, true, true, true, true, true}},
		{RoleKeuangan, Capabilities{false, false, true, true, false, true, true, false}},
		{RolePengawas, Capabilities{false, false, false, false, true, false, false, false}},
		{RoleClient, Capabilities{}},
		{RoleUnknown, Capabilities{}},
	}
	for _, tc := range cases {
		t.Run(tc.role.String(), func(t *testing.T) {
			if got := Resolve(tc.role, RoleUnknown); got != tc.want {
				t.Fatalf("Resolve(%s) = %+v, want %+v", tc.role, got, tc.want)
			}
		})
	}
}

func TestResolveCoversEveryRole(t *testing.T) {
	for _, role := range Roles {
		if role.String() == "" {
			t.Fatalf("role %d has no name", role)
		}
		parsed, ok := ParseRole(role.String())
		if !ok || parsed != role {
			t.Fatalf("ParseRole(%q) = %v,%v", role.String(), parsed, ok)
		}
	}
}

func TestResolveFailsClosed(t *testing.T) {
	if got := Resolve(RoleUnknown, RoleUnknown); got != (Capabilities{}) {
		t.Fatalf("expected every predicate false, got %+v", got)
	}
	if got := Resolve(Role(200), RoleUnknown); got != (Capabilities{}) {
		t.Fatalf("expected out-of-range role to fail closed, got %+v", got)
	}
	var r Role
	if err := r.UnmarshalText([]byte("mandor")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r != RoleUnknown {
		t.Fatalf("expected unknown role, got %v", r)
	}
}

func TestImpersonation(t *testing.T) {
	caps := Resolve(RoleSuperAdmin, RolePengawas)
	if caps.CanSeeMoney {
		t.Fatalf("super_admin impersonating pengawas must not see money")
	}
	if !caps.CanAccessWorkers {
		t.Fatalf("impersonated pengawas should access workers")
	}
	caps = Resolve(RoleKontraktor, RoleSuperAdmin)
	if caps.CanAccessManagement {
		t.Fatalf("only super_admin may impersonate")
	}
}

func TestIdentityCapabilities(t *testing.T) {
	admin := Identity{Email: "a@x.id", Role: RoleSuperAdmin, Impersonating: RoleKeuangan}
	if admin.EffectiveRole() != RoleKeuangan {
		t.Fatalf("expected keuangan effective role")
	}
	if !admin.Authenticated() {
		t.Fatalf("admin should be authenticated")
	}
	client := ForClientLink("p1", true)
	if client.Authenticated() {
		t.Fatalf("client link must not authenticate")
	}
	caps := client.Capabilities()
	if !caps.CanSeeMoney || caps.CanEditProject || caps.CanAccessWorkers {
		t.Fatalf("unexpected client capabilities %+v", caps)
	}
	if ForClientLink("p1", false).Capabilities().CanSeeMoney {
		t.Fatalf("client money must be opt-in")
	}
	user := ForUser(domain.AppUser{Email: " Budi@Example.COM ", Role: "pengawas"})
	if user.Email != "budi@example.com" || user.Role != RolePengawas {
		t.Fatalf("unexpected identity %+v", user)
	}
}

func TestParseClientLink(t *testing.T) {
	cases := []struct {
		query string
		id    string
		ok    bool
	}{
		{"projectId=p1&mode=client", "p1", true},
		{"projectId=p1", "", false},
		{"mode=client", "", false},
		{"projectId=p1&mode=edit", "", false},
	}
	for _, tc := range cases {
		q, err := url.ParseQuery(tc.query)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.query, err)
		}
		id, ok := ParseClientLink(q)
		if id != tc.id || ok != tc.ok {
			t.Fatalf("ParseClientLink(%q) = %q,%v want %q,%v", tc.query, id, ok, tc.id, tc.ok)
		}
	}
	link := ClientLink("https://rab.example/view", "abc")
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if id, ok := ParseClientLink(u.Query()); !ok || id != "abc" {
		t.Fatalf("round trip failed for %s", link)
	}
}

func TestRedactHidesSpreadFromSupervisor(t *testing.T) {
	p := domain.Project{
		Budget:       1000,
		RABItems:     []domain.RABItem{{ID: 1, Name: "Galian", Volume: 2, UnitPrice: 50}},
		Workers:      []domain.Worker{{ID: 1, Name: "Udin", RealRate: 120, MandorRate: 150}},
		Transactions: []domain.Transaction{{Amount: 10, Type: domain.TransactionIncome}},
	}
	got := Redact(p, Identity{Email: "s@x.id", Role: RolePengawas})
	if got.Budget != 0 || got.RABItems[0].UnitPrice != 0 || len(got.Transactions) != 0 {
		t.Fatalf("money leaked to supervisor: %+v", got)
	}
	if len(got.Workers) != 1 || got.Workers[0].RealRate != 0 || got.Workers[0].MandorRate != 0 {
		t.Fatalf("rates leaked to supervisor: %+v", got.Workers)
	}
	if p.Workers[0].RealRate != 120 {
		t.Fatalf("redaction mutated the source project")
	}

	owner := Redact(p, Identity{Email: "k@x.id", Role: RoleKontraktor})
	if owner.Workers[0].RealRate != 120 || owner.Budget != 1000 {
		t.Fatalf("contractor view should be complete: %+v", owner)
	}

	client := Redact(p, ForClientLink("p", true))
	if len(client.Workers) != 0 {
		t.Fatalf("client must not see workers")
	}
	if client.Budget != 1000 {
		t.Fatalf("client with money enabled should see budget")
	}
}
