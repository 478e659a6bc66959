package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

// DefaultDir is the on-disk location used by create and validate.
const DefaultDir = "pkg/migrate/migrations"

// EmbeddedDir selects the migrations compiled into the binary.
const EmbeddedDir = "migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source resolves dir to the filesystem goose reads. EmbeddedDir is served
// from the binary so deployed workers need no migration files on disk.
func Source(dir string) (fs.FS, error) {
	switch dir {
	case "":
		return nil, fmt.Errorf("migrations dir is required")
	case EmbeddedDir:
		return fs.Sub(embedded, EmbeddedDir)
	default:
		return os.DirFS(dir), nil
	}
}

// Migrator applies the visitor schema to Postgres. It wraps a goose
// provider, so nothing here touches goose's package-level state.
type Migrator struct {
	provider *goose.Provider
	logg     *logger.Logger
}

func New(db *sql.DB, dir string, logg *logger.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	fsys, err := Source(dir)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider for %q: %w", dir, err)
	}
	return &Migrator{provider: provider, logg: logg}, nil
}

func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	m.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration only.
func (m *Migrator) Down(ctx context.Context) error {
	result, err := m.provider.Down(ctx)
	if result != nil {
		m.report(ctx, result)
	}
	if err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// To migrates up or down until version is the latest applied migration.
func (m *Migrator) To(ctx context.Context, version string) error {
	target, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", version, err)
	}
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil
	case current < target:
		results, err = m.provider.UpTo(ctx, target)
	default:
		results, err = m.provider.DownTo(ctx, target)
	}
	m.report(ctx, results...)
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return nil
}

// Status writes one line per migration to w.
func (m *Migrator) Status(ctx context.Context, w io.Writer) error {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("goose status: %w", err)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Source.Version, st.State, applied, st.Source.Path)
	}
	return tw.Flush()
}

func (m *Migrator) report(ctx context.Context, results ...*goose.MigrationResult) {
	if m.logg == nil {
		return
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		logCtx := m.logg.WithFields(ctx, map[string]any{
			"version":   r.Source.Version,
			"file":      r.Source.Path,
			"direction": r.Direction,
			"duration":  r.Duration,
		})
		if r.Error != nil {
			m.logg.Error(logCtx, "migration failed", r.Error)
			continue
		}
		m.logg.Info(logCtx, "migration applied")
	}
}
