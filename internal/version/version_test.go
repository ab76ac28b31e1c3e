package version

import "testing"

func TestShortCommit(t *testing.T) {
	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("shortCommit = %q", got)
	}
	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("shortCommit = %q", got)
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	if Resolve().Version == "" {
		t.Fatal("resolved version is empty")
	}
}
