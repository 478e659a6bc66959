package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/pressly/goose/v3"
)

var unsafeNameRe = regexp.MustCompile(`[^a-z0-9]+`)

// sqlTemplate wraps both sections in statement blocks so plpgsql bodies
// survive goose's statement splitter.
var sqlTemplate = template.Must(template.New("visitorpass.sql").Parse(`-- +goose Up
-- +goose StatementBegin
SELECT 'up SQL query';
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
SELECT 'down SQL query';
-- +goose StatementEnd
`))

// CreateSQLMigration writes <dir>/<YYYYMMDDHHMMSS>_<name>.sql and returns its
// path. name is lower-cased and reduced to [a-z0-9_].
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	safe := strings.Trim(unsafeNameRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if safe == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}
	if err := goose.CreateWithTemplate(nil, dir, sqlTemplate, safe, "sql"); err != nil {
		return "", fmt.Errorf("create migration %q: %w", safe, err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*_"+safe+".sql"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("created migration %q not found in %q", safe, dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
