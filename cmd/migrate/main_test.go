package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunRejectsBadInvocations(t *testing.T) {
	cases := []options{
		{cmd: "sideways"},
		{cmd: "create", dir: t.TempDir()},
		{cmd: "version", dir: "migrations"},
	}
	for _, opts := range cases {
		if err := run(context.Background(), opts); err == nil {
			t.Fatalf("expected error for %+v", opts)
		}
	}
}

func TestRunCreateThenValidate(t *testing.T) {
	dir := t.TempDir()
	if err := run(context.Background(), options{cmd: "create", dir: dir, name: "add visitor badge"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), "_add_visitor_badge.sql") {
		t.Fatalf("unexpected migration files %v (%v)", entries, err)
	}
	if err := run(context.Background(), options{cmd: "validate", dir: dir}); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "oops.sql"), []byte("-- +goose Up\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(context.Background(), options{cmd: "validate", dir: dir}); err == nil {
		t.Fatalf("expected validation failure for a badly named file")
	}
}
