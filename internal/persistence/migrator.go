package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"StableLedger/internal/observability"

	"github.com/rs/zerolog"
)

// migration is one versioned schema step of the ledger database.
type migration struct {
	Version string // numeric filename prefix, "000001"
	Name    string // up filename, recorded once applied
	Up      string
	Down    string
}

// checksum fingerprints the up body so edits to an applied step are caught.
func (m migration) checksum() string {
	sum := sha256.Sum256([]byte(m.Up))
	return hex.EncodeToString(sum[:])
}

// MigrationStatus reports whether one schema step has been applied.
type MigrationStatus struct {
	Version string
	Name    string
	Applied bool
}

// Migrator applies the event log and projection schema. Files are named
// {version}_{name}.up.sql with a matching .down.sql.
type Migrator struct {
	db     *sql.DB
	files  fs.FS
	logger zerolog.Logger
}

// NewMigrator reads steps from files, migrations.FS unless an override
// directory is configured.
func NewMigrator(db *sql.DB, files fs.FS) *Migrator {
	return &Migrator{db: db, files: files, logger: observability.NewLogger("migrate")}
}

// loadMigrations pairs every up file with its down file, in version order.
func loadMigrations(files fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]*migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		isUp := strings.HasSuffix(name, ".up.sql")
		if !isUp && !strings.HasSuffix(name, ".down.sql") {
			return nil, fmt.Errorf("%s is neither an up nor a down step", name)
		}
		body, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		version := extractVersion(name)
		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version}
			byVersion[version] = m
		}
		if isUp {
			if m.Name != "" {
				return nil, fmt.Errorf("version %s has two up steps: %s and %s", version, m.Name, name)
			}
			m.Name, m.Up = name, string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for v, m := range byVersion {
		if m.Name == "" {
			return nil, fmt.Errorf("version %s has a down step but no up step", v)
		}
		if m.Down == "" {
			return nil, fmt.Errorf("%s has no down step", m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Up applies every pending step and returns how many ran. A step whose
// body changed since it was applied stops the run.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	steps, err := loadMigrations(m.files)
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, s := range steps {
		if sum, ok := applied[s.Version]; ok {
			if sum != s.checksum() {
				return ran, fmt.Errorf("%s changed after it was applied", s.Name)
			}
			continue
		}
		m.logger.Info().Str("version", s.Version).Str("file", s.Name).Msg("applying migration")
		if err := m.exec(ctx, s.Up,
			`INSERT INTO public.ledger_schema_versions (version, filename, checksum) VALUES ($1, $2, $3)`,
			s.Version, s.Name, s.checksum(),
		); err != nil {
			return ran, fmt.Errorf("apply %s: %w", s.Name, err)
		}
		ran++
	}
	return ran, nil
}

// Down reverts the newest applied step.
func (m *Migrator) Down(ctx context.Context) error {
	steps, err := loadMigrations(m.files)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if _, ok := applied[s.Version]; !ok {
			continue
		}
		if err := m.exec(ctx, s.Down,
			`DELETE FROM public.ledger_schema_versions WHERE version = $1`, s.Version,
		); err != nil {
			return fmt.Errorf("revert %s: %w", s.Name, err)
		}
		m.logger.Info().Str("version", s.Version).Msg("reverted migration")
		return nil
	}
	m.logger.Info().Msg("nothing to revert")
	return nil
}

// Status lists every known step and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	steps, err := loadMigrations(m.files)
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(steps))
	for _, s := range steps {
		_, ok := applied[s.Version]
		out = append(out, MigrationStatus{Version: s.Version, Name: s.Name, Applied: ok})
	}
	return out, nil
}

// exec runs a step body and its version bookkeeping in one transaction.
func (m *Migrator) exec(ctx context.Context, body, record string, args ...interface{}) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// applied returns version -> checksum for every recorded step.
func (m *Migrator) applied(ctx context.Context) (map[string]string, error) {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.ledger_schema_versions (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("create version table: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version, checksum FROM public.ledger_schema_versions`)
	if err != nil {
		return nil, fmt.Errorf("read applied versions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var v, sum string
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, err
		}
		out[v] = sum
	}
	return out, rows.Err()
}

// extractVersion returns the numeric prefix of a step filename,
// "000001_event_log.up.sql" -> "000001".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
