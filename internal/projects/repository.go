package projects

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/genqueue/internal/domain"
)

//go:embed schema.sql
var schema string

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Repository persists project records in PostgreSQL.
type Repository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewRepository wraps an open database handle.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// EnsureSchema creates the projects table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure projects schema: %w", err)
	}
	return nil
}

// Create saves a generated result for userID.
func (r *Repository) Create(ctx context.Context, userID, appKey, mediaURL string) (Record, error) {
	if strings.TrimSpace(userID) == "" {
		return Record{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(mediaURL) == "" {
		return Record{}, errors.New("media url is required")
	}

	rec := Record{
		ID:        uuid.NewString(),
		UserID:    userID,
		AppKey:    appKey,
		MediaURL:  mediaURL,
		CreatedAt: r.now().UTC(),
	}

	query := `
		INSERT INTO projects (project_id, user_id, app_key, media_url, created_at)
		VALUES (:project_id, :user_id, :app_key, :media_url, :created_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return Record{}, fmt.Errorf("failed to create project: %w", err)
	}
	return rec, nil
}

// ListByUser returns one page of records plus one extra row when more exist.
func (r *Repository) ListByUser(ctx context.Context, filter Filter) ([]Record, error) {
	if strings.TrimSpace(filter.UserID) == "" {
		return nil, domain.ErrUnauthorized
	}
	query, args := buildListQuery(filter)

	var records []Record
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return records, nil
}

// Delete removes a record owned by userID.
func (r *Repository) Delete(ctx context.Context, id, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrUnauthorized
	}

	var owner string
	err := r.db.GetContext(ctx, &owner, `SELECT user_id FROM projects WHERE project_id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to load project: %w", err)
	}
	if owner != userID {
		return domain.ErrForbidden
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE project_id = $1 AND user_id = $2`, id, userID); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

// NormalizePageSize clamps a requested page size.
func NormalizePageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}

func buildListQuery(filter Filter) (string, []any) {
	query := `
		SELECT project_id, user_id, app_key, media_url, created_at
		FROM projects
		WHERE user_id = $1`
	args := []any{filter.UserID}
	argIdx := 2

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, project_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	// created_at then id keeps pages stable
	query += " ORDER BY created_at DESC, project_id DESC"

	// one extra row tells the caller whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, NormalizePageSize(filter.PageSize)+1)

	return query, args
}
