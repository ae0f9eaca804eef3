package storage

import (
	"context"
	"strings"
	"testing"
)

func TestNew_UnknownKind(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Kind: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "unsupported storage.kind") {
		t.Fatalf("err = %v, want unsupported kind error", err)
	}
}

func TestNew_MissingKind(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("want error for empty kind")
	}
}

func TestRegister_Panics(t *testing.T) {
	t.Parallel()

	mustPanic := func(name string, fn func()) {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatal("want panic")
				}
			}()
			fn()
		})
	}

	fake := func(context.Context, Config) (Repository, error) { return nil, nil }

	mustPanic("empty kind", func() { Register("", fake) })
	mustPanic("nil factory", func() { Register("x-nil", nil) })
	mustPanic("duplicate kind", func() {
		Register("x-dup", fake)
		Register("x-dup", fake)
	})
}
