package fingerprint

import "testing"

func TestListOrderIndependent(t *testing.T) {
	a := List([]string{"foo", "bar", "baz"})
	b := List([]string{"baz", "foo", "bar"})
	if a != b {
		t.Fatalf("List not order-independent: %q != %q", a, b)
	}
}

func TestListDedups(t *testing.T) {
	a := List([]string{"foo", "bar"})
	b := List([]string{"foo", "bar", "foo"})
	if a != b {
		t.Fatalf("List not duplicate-stable: %q != %q", a, b)
	}
}

func TestDictOrderIndependent(t *testing.T) {
	a := Dict(map[string]string{"a": "1", "b": "2", "c": "3"})
	b := Dict(map[string]string{"c": "3", "a": "1", "b": "2"})
	if a != b {
		t.Fatalf("Dict not order-independent: %q != %q", a, b)
	}
}

func TestValueDeterministic(t *testing.T) {
	if Value("hello") != Value("hello") {
		t.Fatal("Value not deterministic")
	}
	if Value("hello") == Value("world") {
		t.Fatal("Value collided unexpectedly")
	}
}

func TestListSensitiveToMembership(t *testing.T) {
	a := List([]string{"foo", "bar"})
	b := List([]string{"foo", "bar", "qux"})
	if a == b {
		t.Fatal("List did not change when membership changed")
	}
}
