package blob

import "testing"

func TestObjectNameSharding(t *testing.T) {
	cases := []struct {
		hash string
		want string
	}{
		{"ab12cd", "content/ab/ab12cd"},
		{"a", "content/a"},
		{"", "content/"},
	}
	for _, tc := range cases {
		if got := objectName(tc.hash); got != tc.want {
			t.Errorf("objectName(%q) = %q, want %q", tc.hash, got, tc.want)
		}
	}
}
