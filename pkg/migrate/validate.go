package migrate

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

var migrationNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	annotationUp   = "-- +goose Up"
	annotationDown = "-- +goose Down"
)

// ValidateDir checks the migrations under dir (or the embedded set for
// EmbeddedDir) before they reach a database.
func ValidateDir(dir string) error {
	fsys, err := Source(dir)
	if err != nil {
		return err
	}
	return Validate(fsys)
}

// Validate requires every .sql file to be named <14-digit version>_<name>.sql
// with a unique version, and to declare an Up section followed by a Down
// section.
func Validate(fsys fs.FS) error {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	versions := make(map[string]string, len(names))
	for _, name := range names {
		m := migrationNameRe.FindStringSubmatch(path.Base(name))
		if m == nil {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		if prev, dup := versions[m[1]]; dup {
			return fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name)
		}
		versions[m[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %q: %w", name, err)
		}
		if err := checkAnnotations(body); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

func checkAnnotations(body []byte) error {
	up, down := -1, -1
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for line := 0; scanner.Scan(); line++ {
		switch strings.TrimSpace(scanner.Text()) {
		case annotationUp:
			up = line
		case annotationDown:
			down = line
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	switch {
	case up < 0:
		return fmt.Errorf("missing %q", annotationUp)
	case down < 0:
		return fmt.Errorf("missing %q", annotationDown)
	case down < up:
		return fmt.Errorf("%q must come after %q", annotationDown, annotationUp)
	}
	return nil
}
