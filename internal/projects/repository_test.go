package projects

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/genqueue/internal/domain"
)

func TestCreateRequiresUser(t *testing.T) {
	repo := NewRepository(nil)

	_, err := repo.Create(context.Background(), "", "anime-portrait", "https://cdn.example.com/a.png")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	err = repo.Delete(context.Background(), "id", " ")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = repo.ListByUser(context.Background(), Filter{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestRepositoryCreate(t *testing.T) {
	repo, mock := newMockRepository(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	insert := regexp.QuoteMeta("INSERT INTO projects (project_id, user_id, app_key, media_url, created_at)") +
		`\s+` + regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5)")
	mock.ExpectExec(insert).
		WithArgs(sqlmock.AnyArg(), "u1", "anime-portrait", "https://cdn.example.com/a.png", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := repo.Create(context.Background(), "u1", "anime-portrait", "https://cdn.example.com/a.png")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, now, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateWrapsDriverError(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectExec("INSERT INTO projects").WillReturnError(errors.New("connection reset"))

	_, err := repo.Create(context.Background(), "u1", "anime-portrait", "https://cdn.example.com/a.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create project")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryListByUser(t *testing.T) {
	repo, mock := newMockRepository(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM projects")).
		WithArgs("u1", DefaultPageSize+1).
		WillReturnRows(sqlmock.NewRows([]string{"project_id", "user_id", "app_key", "media_url", "created_at"}).
			AddRow("p2", "u1", "anime-portrait", "https://cdn.example.com/b.png", created).
			AddRow("p1", "u1", "anime-portrait", "https://cdn.example.com/a.png", created.Add(-time.Minute)))

	records, err := repo.ListByUser(context.Background(), Filter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "p2", records[0].ID)
	assert.Equal(t, "https://cdn.example.com/a.png", records[1].MediaURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryDelete(t *testing.T) {
	selectOwner := regexp.QuoteMeta(`SELECT user_id FROM projects WHERE project_id = $1`)
	deleteOwned := regexp.QuoteMeta(`DELETE FROM projects WHERE project_id = $1 AND user_id = $2`)

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "owner deletes",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(selectOwner).WithArgs("p1").
					WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
				mock.ExpectExec(deleteOwned).WithArgs("p1", "u1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "missing project",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(selectOwner).WithArgs("p1").
					WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "another user's project",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(selectOwner).WithArgs("p1").
					WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u2"))
			},
			wantErr: domain.ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			tt.setup(mock)

			err := repo.Delete(context.Background(), "p1", "u1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		wantArgs int
		wantSQL  []string
		limit    int
	}{
		{
			name:     "first page",
			filter:   Filter{UserID: "u1"},
			wantArgs: 2,
			wantSQL:  []string{"WHERE user_id = $1", "LIMIT $2"},
			limit:    DefaultPageSize + 1,
		},
		{
			name: "with cursor",
			filter: Filter{UserID: "u1", PageSize: 5, Cursor: &Cursor{
				CreatedAt: time.Unix(100, 0),
				ID:        "p1",
			}},
			wantArgs: 4,
			wantSQL:  []string{"(created_at, project_id) < ($2, $3)", "LIMIT $4"},
			limit:    6,
		},
		{
			name:     "page size clamped",
			filter:   Filter{UserID: "u1", PageSize: 1000},
			wantArgs: 2,
			wantSQL:  []string{"ORDER BY created_at DESC, project_id DESC"},
			limit:    MaxPageSize + 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.filter)
			require.Len(t, args, tt.wantArgs)
			for _, fragment := range tt.wantSQL {
				assert.True(t, strings.Contains(query, fragment), "missing %q in %s", fragment, query)
			}
			assert.Equal(t, tt.limit, args[len(args)-1])
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	rec := Record{ID: "9b2f3c1e-0000-4000-8000-000000000001", CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)}

	cursor, err := DecodeCursor(EncodeCursor(rec))
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, rec.ID, cursor.ID)
	assert.True(t, rec.CreatedAt.Equal(cursor.CreatedAt))

	empty, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestDecodeCursorErrors(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{"not base64", "%%%"},
		{"no separator", "MTIz"},
		{"bad timestamp", "YWJjfHAx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCursor(tt.cursor)
			assert.Error(t, err)
		})
	}
}
