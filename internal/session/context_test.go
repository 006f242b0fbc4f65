package session

import (
	"errors"
	"testing"

	"rabtrack/internal/access"
	"rabtrack/pkg/domain"
)

func TestImpersonationRequiresRealSuperAdmin(t *testing.T) {
	admin := New(access.Identity{Email: "root@x.id", Role: access.RoleSuperAdmin}, nil)
	if err := admin.Impersonate(access.RolePengawas); err != nil {
		t.Fatalf("impersonate: %v", err)
	}
	if admin.Capabilities().CanSeeMoney {
		t.Fatalf("impersonated pengawas must not see money")
	}
	if err := admin.Impersonate(access.RoleUnknown); err != nil {
		t.Fatalf("clear impersonation: %v", err)
	}
	if !admin.Capabilities().CanAccessManagement {
		t.Fatalf("expected real capabilities after clearing")
	}

	contractor := New(access.Identity{Email: "k@x.id", Role: access.RoleKontraktor}, nil)
	if err := contractor.Impersonate(access.RoleSuperAdmin); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestClientSessionIsPinned(t *testing.T) {
	s := New(access.ForClientLink("p1", false), nil)
	if s.Selected() != "p1" {
		t.Fatalf("client session should start on its project, got %q", s.Selected())
	}
	if err := s.Select("p2"); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected pinned selection, got %v", err)
	}
}

func TestCloseRunsClosersInReverseAndClearsState(t *testing.T) {
	s := New(access.Identity{Email: "k@x.id", Role: access.RoleKontraktor}, nil)
	if err := s.Select("p1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	var order []int
	s.OnClose(func() { order = append(order, 1) })
	s.OnClose(func() { order = append(order, 2) })
	s.Close()
	s.Close()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected closer order %v", order)
	}
	if s.Selected() != "" || s.Identity().Authenticated() {
		t.Fatalf("expected cleared session")
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("done channel should be closed")
	}
	ran := false
	s.OnClose(func() { ran = true })
	if !ran {
		t.Fatalf("closer registered after close should run immediately")
	}
	if s.Catalog() == nil {
		t.Fatalf("default catalog expected")
	}
}
