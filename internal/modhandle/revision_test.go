package modhandle

import "testing"

func TestCheckRevision(t *testing.T) {
	cases := []struct {
		module, host string
		want         RevisionCheckResult
	}{
		{"", "abcdef1234", RevisionEmpty},
		{"abcdef12", "abcdef1299", RevisionOK},
		{"abcdef12", "000000000", RevisionMismatch},
		{"ab", "abcdef1234", RevisionTooShort},
		{"abcdef1234567", "abcdef1299999", RevisionMismatch},
	}
	for _, c := range cases {
		if got := CheckRevision(c.module, c.host); got != c.want {
			t.Errorf("CheckRevision(%q, %q) = %v, want %v", c.module, c.host, got, c.want)
		}
	}
}
