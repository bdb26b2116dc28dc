package repository

import (
	"context"
	"errors"
	"testing"

	"quill/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_GetByID(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	tests := []struct {
		name         string
		uid          string
		mockBehavior func()
		wantUsername string
		wantCode     string
	}{
		{
			name: "Success",
			uid:  "u1",
			mockBehavior: func() {
				rows := sqlmock.NewRows([]string{"id", "username", "email"}).
					AddRow("u1", "alice", "alice@example.com")
				mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
					WithArgs("u1", 1).
					WillReturnRows(rows)
			},
			wantUsername: "alice",
		},
		{
			name: "Not Found",
			uid:  "missing",
			mockBehavior: func() {
				mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
					WithArgs("missing", 1).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			wantCode: models.CodeNotFound,
		},
		{
			name: "Driver Error",
			uid:  "u2",
			mockBehavior: func() {
				mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
					WithArgs("u2", 1).
					WillReturnError(errors.New("connection reset"))
			},
			wantCode: models.CodePersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.mockBehavior()
			user, err := repo.GetByID(ctx, tt.uid)

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, models.ErrorCode(err))
			} else if assert.NoError(t, err) {
				assert.Equal(t, tt.wantUsername, user.Username)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_RegisterReservesUsername(t *testing.T) {
	db := setupSQLite(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	alice := seedUser(t, db, "Alice")

	got, err := repo.GetByUsername(ctx, "aLiCe")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	free, err := repo.UsernameAvailable(ctx, "ALICE")
	require.NoError(t, err)
	assert.False(t, free)

	dupName := &models.User{ID: uuid.NewString(), Username: "alice", Email: "other@example.com"}
	err = repo.Register(ctx, dupName)
	assert.Equal(t, models.CodeConflict, models.ErrorCode(err))

	dupEmail := &models.User{ID: uuid.NewString(), Username: "alice2", Email: alice.Email}
	err = repo.Register(ctx, dupEmail)
	assert.Equal(t, models.CodeConflict, models.ErrorCode(err))

	// The failed registration must not leave its reservation behind.
	free, err = repo.UsernameAvailable(ctx, "alice2")
	require.NoError(t, err)
	assert.True(t, free)
}

func TestUserRepository_UpdateFields(t *testing.T) {
	db := setupSQLite(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	u := seedUser(t, db, "carol")

	require.NoError(t, repo.UpdateFields(ctx, u.ID, map[string]interface{}{"bio": "hello", "social_github": "https://github.com/carol"}))
	got := reloadUser(t, db, u.ID)
	assert.Equal(t, "hello", got.Bio)
	assert.Equal(t, "https://github.com/carol", got.SocialLinks.GitHub)

	err := repo.UpdateFields(ctx, "nope", map[string]interface{}{"bio": "x"})
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
}

func TestUserRepository_SearchAndSuggested(t *testing.T) {
	db := setupSQLite(t)
	repo := NewUserRepository(db)
	follows := NewFollowRepository(db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	carol := seedUser(t, db, "carol")
	dave := seedUser(t, db, "dave")
	require.NoError(t, repo.UpdateFields(ctx, dave.ID, map[string]interface{}{"bio": "Writes about 100%_coverage"}))

	found, err := repo.Search(ctx, "BOB", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, bob.ID, found[0].ID)

	found, err = repo.Search(ctx, "100%_", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, dave.ID, found[0].ID)

	require.NoError(t, follows.Follow(ctx, alice.ID, bob.ID))
	require.NoError(t, follows.Follow(ctx, dave.ID, carol.ID))
	require.NoError(t, follows.Follow(ctx, bob.ID, carol.ID))

	suggested, err := repo.Suggested(ctx, alice.ID, 5)
	require.NoError(t, err)
	ids := make([]string, 0, len(suggested))
	for _, u := range suggested {
		ids = append(ids, u.ID)
	}
	assert.NotContains(t, ids, alice.ID)
	assert.NotContains(t, ids, bob.ID)
	require.NotEmpty(t, ids)
	assert.Equal(t, carol.ID, ids[0])
}

func TestUserRepository_AuthorProfile(t *testing.T) {
	db := setupSQLite(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	u := seedUser(t, db, "erin")
	require.NoError(t, repo.UpdateFields(ctx, u.ID, map[string]interface{}{"bio": "poet"}))
	seedPost(t, db, u, "first")

	prof, err := repo.AuthorProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "poet", prof.Bio)
	assert.Equal(t, int64(1), prof.Stats.PostsCount)
}
