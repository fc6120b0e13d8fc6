package main

import (
	"path/filepath"
	"testing"
)

func TestWriteThenValidate(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{"server", "client"} {
		path := filepath.Join(dir, kind+".toml")
		if err := run([]string{"--kind", kind, "--output", path}); err != nil {
			t.Fatalf("write %s: %v", kind, err)
		}
		if err := run([]string{"--kind", kind, "--validate", "--input", path}); err != nil {
			t.Fatalf("validate %s: %v", kind, err)
		}
		if err := run([]string{"--kind", kind, "--output", path}); err == nil {
			t.Fatalf("expected %s overwrite refusal", kind)
		}
	}
	if err := run([]string{"--kind", "agent"}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
