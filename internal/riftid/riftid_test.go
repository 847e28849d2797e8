package riftid_test

import (
	"testing"

	"github.com/rift-sim/riftsim/internal/riftid"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    riftid.Level
		wantErr bool
	}{
		{name: "empty is undefined", in: "", want: riftid.Undefined},
		{name: "explicit undefined", in: "undefined", want: riftid.Undefined},
		{name: "leaf alias", in: "leaf", want: riftid.Leaf},
		{name: "top-of-fabric alias", in: "top-of-fabric", want: riftid.TopOfFabric},
		{name: "numeric", in: "12", want: mustLevel(t, 12)},
		{name: "numeric zero equals leaf", in: "0", want: riftid.Leaf},
		{name: "out of range", in: "25", wantErr: true},
		{name: "garbage", in: "bogus", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := riftid.ParseLevel(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseLevel(%q): want error, got none", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q): unexpected error: %v", tc.in, err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestLevelLess(t *testing.T) {
	t.Parallel()

	l5 := mustLevel(t, 5)
	l10 := mustLevel(t, 10)

	tests := []struct {
		name string
		a, b riftid.Level
		want bool
	}{
		{name: "undefined below numeric", a: riftid.Undefined, b: l5, want: true},
		{name: "numeric not below undefined", a: l5, b: riftid.Undefined, want: false},
		{name: "undefined not below undefined", a: riftid.Undefined, b: riftid.Undefined, want: false},
		{name: "5 below 10", a: l5, b: l10, want: true},
		{name: "10 not below 5", a: l10, b: l5, want: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.a.Less(tc.b); got != tc.want {
				t.Fatalf("%v.Less(%v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestNewLevelOutOfRange(t *testing.T) {
	t.Parallel()
	if _, err := riftid.NewLevel(-1); err == nil {
		t.Fatal("NewLevel(-1): want error")
	}
	if _, err := riftid.NewLevel(25); err == nil {
		t.Fatal("NewLevel(25): want error")
	}
}

func TestLevelString(t *testing.T) {
	t.Parallel()
	if got := riftid.Undefined.String(); got != "undefined" {
		t.Fatalf("Undefined.String() = %q", got)
	}
	if got := riftid.Leaf.String(); got != "leaf" {
		t.Fatalf("Leaf.String() = %q", got)
	}
	if got := riftid.TopOfFabric.String(); got != "top-of-fabric" {
		t.Fatalf("TopOfFabric.String() = %q", got)
	}
	if got := mustLevel(t, 7).String(); got != "7" {
		t.Fatalf("Level(7).String() = %q", got)
	}
}

func mustLevel(t *testing.T, v int) riftid.Level {
	t.Helper()
	l, err := riftid.NewLevel(v)
	if err != nil {
		t.Fatalf("NewLevel(%d): %v", v, err)
	}
	return l
}
