package cluster

import (
	"context"
	"testing"
)

func TestJoinIsIdempotentAndMembersSorted(t *testing.T) {
	ctx := context.Background()
	r := NewLocal()

	for _, n := range []Node{"c", "a", "b", "a", "c"} {
		if err := r.Join(ctx, "users", n); err != nil {
			t.Fatalf("Join(%s): %v", n, err)
		}
	}

	got, err := r.Members(ctx, "users")
	if err != nil {
		t.Fatal(err)
	}
	want := []Node{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("members=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("members=%v want=%v", got, want)
		}
	}
}

func TestGroupsAreIsolated(t *testing.T) {
	ctx := context.Background()
	r := NewLocal()

	if err := r.Join(ctx, "users", "n1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Join(ctx, "orders", "n2"); err != nil {
		t.Fatal(err)
	}

	users, _ := r.Members(ctx, "users")
	if len(users) != 1 || users[0] != "n1" {
		t.Fatalf("users=%v", users)
	}
	if empty, _ := r.Members(ctx, "nope"); len(empty) != 0 {
		t.Fatalf("unknown group should be empty, got %v", empty)
	}
}

func TestWithoutAndNormalize(t *testing.T) {
	ns := []Node{"b", "a", "b"}
	norm := Normalize(ns)
	if len(norm) != 2 || norm[0] != "a" || norm[1] != "b" {
		t.Fatalf("normalize=%v", norm)
	}
	rest := Without(norm, "a")
	if len(rest) != 1 || rest[0] != "b" {
		t.Fatalf("without=%v", rest)
	}
	// inputs untouched
	if len(ns) != 3 || len(norm) != 2 {
		t.Fatalf("inputs mutated: ns=%v norm=%v", ns, norm)
	}
}
