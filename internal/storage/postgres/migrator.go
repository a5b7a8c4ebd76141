package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	migrationsDir    = "sql/migrations"
	migrationLockKey = int64(20240517)
	migrationTimeout = 5 * time.Second

	migrationTableDDL = `
CREATE TABLE IF NOT EXISTS cart_schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    checksum TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// ErrMigrationDrift — SQL применённой миграции изменился после применения.
var ErrMigrationDrift = errors.New("applied migration differs from embedded sql")

// migration — пара up/down файлов одной версии.
type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// Checksum — sha256 от up SQL.
func (m migration) Checksum() string {
	sum := sha256.Sum256([]byte(m.UpSQL))
	return hex.EncodeToString(sum[:])
}

// MigrationInfo описывает встроенную миграцию и её состояние в базе.
type MigrationInfo struct {
	Version int64
	Name    string
	Applied bool
	Drifted bool
}

// appliedMigration — строка cart_schema_migrations.
type appliedMigration struct {
	Version  int64
	Checksum string
}

// migrationStep — одно действие плана: применить или откатить миграцию.
type migrationStep struct {
	migration migration
	down      bool
}

// MigrateUp применяет up-миграции, steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, available []migration, applied []appliedMigration) error {
		plan, err := planUp(available, applied, steps)
		if err != nil {
			return err
		}
		return runSteps(ctx, conn, plan)
	})
}

// MigrateDown откатывает steps последних миграций, steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, available []migration, applied []appliedMigration) error {
		plan, err := planDown(available, applied, steps)
		if err != nil {
			return err
		}
		return runSteps(ctx, conn, plan)
	})
}

// MigrationStatus возвращает максимальную применённую версию и число применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreNotInitialized
	}

	queryCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, migrationTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}

	var (
		version int64
		count   int
	)
	err := s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM cart_schema_migrations`,
	).Scan(&version, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}
	return version, count, nil
}

// ListMigrations возвращает встроенные миграции по возрастанию версии.
func (s *Store) ListMigrations(ctx context.Context) ([]MigrationInfo, error) {
	var infos []MigrationInfo
	err := s.withMigrationConn(ctx, func(conn *sql.Conn, available []migration, applied []appliedMigration) error {
		infos = describeMigrations(available, applied)
		return nil
	})
	return infos, err
}

type migrationFunc func(conn *sql.Conn, available []migration, applied []appliedMigration) error

func (s *Store) withMigrationLock(ctx context.Context, fn migrationFunc) error {
	return s.withMigrationConn(ctx, func(conn *sql.Conn, available []migration, _ []appliedMigration) error {
		lockCtx, cancel := context.WithTimeout(ctx, migrationTimeout)
		defer cancel()
		if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
		}()

		// список перечитывается под блокировкой: другой процесс мог успеть применить миграции
		applied, err := loadApplied(ctx, conn)
		if err != nil {
			return err
		}
		return fn(conn, available, applied)
	})
}

func (s *Store) withMigrationConn(ctx context.Context, fn migrationFunc) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	available, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, migrationTableDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := loadApplied(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, available, applied)
}

// planUp возвращает неприменённые миграции по возрастанию версии.
// Изменённый SQL уже применённой миграции останавливает план.
func planUp(available []migration, applied []appliedMigration, steps int) ([]migrationStep, error) {
	state := make(map[int64]appliedMigration, len(applied))
	for _, a := range applied {
		state[a.Version] = a
	}

	var plan []migrationStep
	for _, m := range available {
		a, ok := state[m.Version]
		if ok {
			if a.Checksum != "" && a.Checksum != m.Checksum() {
				return nil, fmt.Errorf("%w: %d_%s", ErrMigrationDrift, m.Version, m.Name)
			}
			continue
		}
		if steps > 0 && len(plan) == steps {
			break
		}
		plan = append(plan, migrationStep{migration: m})
	}
	return plan, nil
}

// planDown возвращает steps последних применённых миграций по убыванию версии.
func planDown(available []migration, applied []appliedMigration, steps int) ([]migrationStep, error) {
	byVersion := make(map[int64]migration, len(available))
	for _, m := range available {
		byVersion[m.Version] = m
	}

	versions := make([]int64, 0, len(applied))
	for _, a := range applied {
		versions = append(versions, a.Version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	if len(versions) > steps {
		versions = versions[:steps]
	}

	plan := make([]migrationStep, 0, len(versions))
	for _, version := range versions {
		m, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf("cannot rollback unknown migration version %d", version)
		}
		plan = append(plan, migrationStep{migration: m, down: true})
	}
	return plan, nil
}

func describeMigrations(available []migration, applied []appliedMigration) []MigrationInfo {
	checksums := make(map[int64]string, len(applied))
	for _, a := range applied {
		checksums[a.Version] = a.Checksum
	}

	infos := make([]MigrationInfo, 0, len(available))
	for _, m := range available {
		checksum, ok := checksums[m.Version]
		infos = append(infos, MigrationInfo{
			Version: m.Version,
			Name:    m.Name,
			Applied: ok,
			Drifted: ok && checksum != "" && checksum != m.Checksum(),
		})
	}
	return infos
}

func runSteps(ctx context.Context, conn *sql.Conn, plan []migrationStep) error {
	for _, step := range plan {
		if err := runStep(ctx, conn, step); err != nil {
			return err
		}
	}
	return nil
}

// runStep выполняет SQL миграции и запись в cart_schema_migrations одной транзакцией.
func runStep(ctx context.Context, conn *sql.Conn, step migrationStep) error {
	m := step.migration
	label := fmt.Sprintf("up %d_%s", m.Version, m.Name)
	body := m.UpSQL
	record := func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cart_schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
			m.Version, m.Name, m.Checksum(),
		)
		return err
	}
	if step.down {
		label = fmt.Sprintf("down %d_%s", m.Version, m.Name)
		body = m.DownSQL
		record = func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM cart_schema_migrations WHERE version = $1`, m.Version)
			return err
		}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx (%s): %w", label, err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", label, err)
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", label, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", label, err)
	}
	return nil
}

func loadApplied(ctx context.Context, conn *sql.Conn) ([]appliedMigration, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM cart_schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []appliedMigration
	for rows.Next() {
		var a appliedMigration
		if err := rows.Scan(&a.Version, &a.Checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// parseMigrationName разбирает имя вида 0001_cart_kv.up.sql.
func parseMigrationName(file string) (version int64, name string, down bool, err error) {
	stem, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return 0, "", false, fmt.Errorf("invalid migration file name: %s", file)
	}
	switch {
	case strings.HasSuffix(stem, ".up"):
		stem = strings.TrimSuffix(stem, ".up")
	case strings.HasSuffix(stem, ".down"):
		stem, down = strings.TrimSuffix(stem, ".down"), true
	default:
		return 0, "", false, fmt.Errorf("invalid migration file name: %s", file)
	}

	rawVersion, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" || strings.ContainsAny(name, ". ") {
		return 0, "", false, fmt.Errorf("invalid migration file name: %s", file)
	}
	version, err = strconv.ParseInt(rawVersion, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", false, fmt.Errorf("invalid migration version in %s", file)
	}
	return version, name, down, nil
}

func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, down, err := parseMigrationName(entry.Name())
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}
		target := &m.UpSQL
		if down {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate migration file for version %d: %s", version, entry.Name())
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}
