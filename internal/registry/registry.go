// Package registry persists installed-server records in a local SQLite
// database.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcpilot/mcpilot/internal/models"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record matches the given id or name.
var ErrNotFound = errors.New("server not found")

// ErrNameTaken is returned when a create or rename collides with an
// existing server name.
var ErrNameTaken = errors.New("server name already registered")

// Store is the SQLite-backed server registry.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (creating if needed) the registry database under the given
// directory.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	dbPath := filepath.Join(dir, "servers.db")

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}

	store := &Store{
		db:     db,
		logger: logger.With().Str("component", "registry").Logger(),
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate registry database: %w", err)
	}
	store.logger.Info().Str("path", dbPath).Msg("registry database initialized")
	return store, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			install_path TEXT NOT NULL,
			command TEXT,
			env TEXT,
			ports TEXT,
			volumes TEXT,
			template_id TEXT,
			version TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			repo_url TEXT,
			image TEXT,
			digest TEXT,
			revision TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_servers_name ON servers(name);
	`
	_, err := s.db.Exec(schema)
	return err
}

const serverColumns = `id, name, kind, install_path, command, env, ports, volumes,
	template_id, version, enabled, repo_url, image, digest, revision, created_at, updated_at`

// Create inserts a new record. The record's CreatedAt/UpdatedAt are set here.
func (s *Store) Create(ctx context.Context, rec *models.ServerRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	command, env, ports, volumes, err := encodeFields(rec)
	if err != nil {
		return err
	}

	query := `INSERT INTO servers (` + serverColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Name, string(rec.Kind), rec.InstallPath,
		command, env, ports, volumes,
		rec.TemplateID, rec.Version, boolToInt(rec.Enabled),
		rec.RepoURL, rec.Image, rec.Digest, rec.Revision,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrNameTaken, rec.Name)
		}
		return fmt.Errorf("insert server: %w", err)
	}
	s.logger.Info().Str("server_id", rec.ID).Str("name", rec.Name).Msg("server registered")
	return nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*models.ServerRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = ?`, id)
	return scanServer(row)
}

// GetByName returns the record with the given name.
func (s *Store) GetByName(ctx context.Context, name string) (*models.ServerRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE name = ?`, name)
	return scanServer(row)
}

// List returns all records ordered by name.
func (s *Store) List(ctx context.Context) ([]*models.ServerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var records []*models.ServerRecord
	for rows.Next() {
		rec, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Update rewrites the record with the given id. UpdatedAt is set here.
func (s *Store) Update(ctx context.Context, rec *models.ServerRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()

	command, env, ports, volumes, err := encodeFields(rec)
	if err != nil {
		return err
	}

	query := `UPDATE servers SET
		name = ?, kind = ?, install_path = ?, command = ?, env = ?, ports = ?, volumes = ?,
		template_id = ?, version = ?, enabled = ?, repo_url = ?, image = ?, digest = ?, revision = ?,
		updated_at = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		rec.Name, string(rec.Kind), rec.InstallPath,
		command, env, ports, volumes,
		rec.TemplateID, rec.Version, boolToInt(rec.Enabled),
		rec.RepoURL, rec.Image, rec.Digest, rec.Revision,
		rec.UpdatedAt.Format(time.RFC3339),
		rec.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrNameTaken, rec.Name)
		}
		return fmt.Errorf("update server: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	return nil
}

// Delete removes the record with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.logger.Info().Str("server_id", id).Msg("server deregistered")
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanServer(row scanner) (*models.ServerRecord, error) {
	var (
		rec                    models.ServerRecord
		kind                   string
		command, env           sql.NullString
		ports, volumes         sql.NullString
		enabled                int
		createdRaw, updatedRaw string
		templateID, version    sql.NullString
		repoURL, image         sql.NullString
		digest, revision       sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.Name, &kind, &rec.InstallPath,
		&command, &env, &ports, &volumes,
		&templateID, &version, &enabled,
		&repoURL, &image, &digest, &revision,
		&createdRaw, &updatedRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan server: %w", err)
	}

	rec.Kind = models.ServerKind(kind)
	rec.Enabled = enabled != 0
	rec.TemplateID = templateID.String
	rec.Version = version.String
	rec.RepoURL = repoURL.String
	rec.Image = image.String
	rec.Digest = digest.String
	rec.Revision = revision.String

	if command.Valid && command.String != "" {
		if err := json.Unmarshal([]byte(command.String), &rec.Command); err != nil {
			return nil, fmt.Errorf("decode command: %w", err)
		}
	}
	if env.Valid && env.String != "" {
		if err := json.Unmarshal([]byte(env.String), &rec.Env); err != nil {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}
	if ports.Valid && ports.String != "" {
		if err := json.Unmarshal([]byte(ports.String), &rec.Ports); err != nil {
			return nil, fmt.Errorf("decode ports: %w", err)
		}
	}
	if volumes.Valid && volumes.String != "" {
		if err := json.Unmarshal([]byte(volumes.String), &rec.Volumes); err != nil {
			return nil, fmt.Errorf("decode volumes: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339, createdRaw); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedRaw); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func encodeFields(rec *models.ServerRecord) (command, env, ports, volumes string, err error) {
	marshal := func(v any) (string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if len(rec.Command) > 0 {
		if command, err = marshal(rec.Command); err != nil {
			return "", "", "", "", fmt.Errorf("encode command: %w", err)
		}
	}
	if len(rec.Env) > 0 {
		if env, err = marshal(rec.Env); err != nil {
			return "", "", "", "", fmt.Errorf("encode env: %w", err)
		}
	}
	if len(rec.Ports) > 0 {
		if ports, err = marshal(rec.Ports); err != nil {
			return "", "", "", "", fmt.Errorf("encode ports: %w", err)
		}
	}
	if len(rec.Volumes) > 0 {
		if volumes, err = marshal(rec.Volumes); err != nil {
			return "", "", "", "", fmt.Errorf("encode volumes: %w", err)
		}
	}
	return command, env, ports, volumes, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
