package utils

import "testing"

func TestNormalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+55 48 99999-8888", "(48) 99999-8888"},
		{"48999998888", "(48) 99999-8888"},
		{"", ""},
		{"  ", ""},
		// Free-text garbage passes through trimmed.
		{" recado com vizinho ", "recado com vizinho"},
	}
	for _, tc := range cases {
		if got := NormalizePhoneNumber(tc.in); got != tc.want {
			t.Errorf("NormalizePhoneNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestJoinDistinct(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{[]string{"a", "b", "a", "", " b "}, "a, b"},
		{nil, ""},
		{[]string{" ", ""}, ""},
		{[]string{"Piso 60x60", "Kit A"}, "Piso 60x60, Kit A"},
	}
	for _, tc := range cases {
		if got := JoinDistinct(tc.in); got != tc.want {
			t.Errorf("JoinDistinct(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
