package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"rabtrack/internal/blob/core"
)

func TestStoreCopiesMetadataAndData(t *testing.T) {
	ctx := context.Background()
	s := New()
	md := map[string]string{"a": "1"}
	if _, err := s.Put(ctx, "k", strings.NewReader("hello"), core.PutOptions{Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["a"] = "changed"
	info, rc, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "hello" || info.Metadata["a"] != "1" {
		t.Fatalf("get = %q %+v", b, info)
	}
	info.Metadata["a"] = "mutated"
	again, _ := s.Head(ctx, "k")
	if again.Metadata["a"] != "1" {
		t.Fatalf("head leaked caller mutation")
	}
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Put(ctx, "k", strings.NewReader(""), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "k", strings.NewReader(""), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.PresignURL(ctx, "k", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
