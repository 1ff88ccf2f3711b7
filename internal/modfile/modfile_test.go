package modfile

import (
	"runtime"
	"testing"
)

func TestIsArtifact(t *testing.T) {
	want := Prefix() + "scripts_demo." + Suffix()
	cases := []struct {
		name string
		ok   bool
	}{
		{want, true},
		{Prefix() + "Scripts_demo." + Suffix(), true}, // capital S allowed
		{Prefix() + "scripts_demo_two." + Suffix(), true},
		{"notscripts." + Suffix(), false},
		{Prefix() + "scripts_bad.txt", false},
		{Prefix() + "scripts_.", false},
	}
	for _, c := range cases {
		if got := IsArtifact(c.name); got != c.ok {
			t.Errorf("IsArtifact(%q) = %v, want %v", c.name, got, c.ok)
		}
	}
}

func TestIsArtifactPlatformPrefix(t *testing.T) {
	if runtime.GOOS == "windows" {
		if Prefix() != "" {
			t.Fatalf("Prefix() = %q, want empty on windows", Prefix())
		}
	} else {
		if Prefix() != "lib" {
			t.Fatalf("Prefix() = %q, want \"lib\" on POSIX", Prefix())
		}
	}
}

func TestIsSourceFile(t *testing.T) {
	for name, want := range map[string]bool{
		"foo.cpp": true,
		"foo.cc":  true,
		"foo.c":   true,
		"foo.h":   true,
		"foo.hpp": true,
		"foo.txt": false,
		"foo":     false,
		"foo.o":   false,
	} {
		if got := IsSourceFile(name); got != want {
			t.Errorf("IsSourceFile(%q) = %v, want %v", name, got, want)
		}
	}
}
