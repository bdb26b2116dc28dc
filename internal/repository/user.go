// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"strings"

	"quill/internal/models"
	"quill/internal/observability"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users and username reservations.
type UserRepository interface {
	Register(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, uid string) (*models.User, error)
	GetByIDs(ctx context.Context, uids []string) ([]models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByProviderSubject(ctx context.Context, subject string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	UsernameAvailable(ctx context.Context, username string) (bool, error)
	UpdateFields(ctx context.Context, uid string, fields map[string]interface{}) error
	AuthorProfile(ctx context.Context, uid string) (*models.AuthorProfile, error)
	Search(ctx context.Context, term string, limit int) ([]models.User, error)
	Suggested(ctx context.Context, uid string, limit int) ([]models.User, error)
}

type userRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db, log: observability.NewRepoLogger("users")}
}

// Register writes the username reservation and the user row in one transaction.
func (r *userRepository) Register(ctx context.Context, user *models.User) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation := models.UsernameReservation{
			Username: strings.ToLower(user.Username),
			UID:      user.ID,
		}
		if err := tx.Create(&reservation).Error; err != nil {
			if isUniqueConstraintError(err) {
				return models.NewConflictError("Username is already taken")
			}
			return err
		}
		if err := tx.Create(user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return models.NewConflictError("Email is already registered")
			}
			return err
		}
		return nil
	})
	if err != nil {
		r.log.LogError(ctx, err, "register")
		return translate(err, "register user", "User", user.ID)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"uid": user.ID, "username": user.Username})
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, uid string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", uid).Error; err != nil {
		return nil, translate(err, "load user", "User", uid)
	}
	return &user, nil
}

// GetByIDs loads a batch of users in one query. Missing ids are skipped.
func (r *userRepository) GetByIDs(ctx context.Context, uids []string) ([]models.User, error) {
	if len(uids) == 0 {
		return []models.User{}, nil
	}
	var users []models.User
	if err := readDB(r.db).WithContext(ctx).Where("id IN ?", uids).Find(&users).Error; err != nil {
		return nil, models.NewPersistenceError("load users", err)
	}
	return users, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err, "load user", "User", email)
	}
	return &user, nil
}

func (r *userRepository) GetByProviderSubject(ctx context.Context, subject string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("provider_subject = ?", subject).First(&user).Error; err != nil {
		return nil, translate(err, "load user", "User", subject)
	}
	return &user, nil
}

// GetByUsername resolves the case-insensitive reservation, then the user.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Joins("JOIN usernames ON usernames.uid = users.id").
		Where("usernames.username = ?", strings.ToLower(username)).
		First(&user).Error
	if err != nil {
		return nil, translate(err, "load user", "User", username)
	}
	return &user, nil
}

func (r *userRepository) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.UsernameReservation{}).
		Where("username = ?", strings.ToLower(username)).
		Count(&n).Error; err != nil {
		return false, models.NewPersistenceError("check username", err)
	}
	return n == 0, nil
}

// UpdateFields applies a column map to one user.
func (r *userRepository) UpdateFields(ctx context.Context, uid string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", uid).Updates(fields)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update")
		return models.NewPersistenceError("update user", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("User", uid)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"uid": uid, "fields": len(fields)})
	return nil
}

// AuthorProfile loads the live fields shown next to a post.
func (r *userRepository) AuthorProfile(ctx context.Context, uid string) (*models.AuthorProfile, error) {
	var user models.User
	err := readDB(r.db).WithContext(ctx).
		Select("id", "bio", "stats_posts_count", "stats_followers_count", "stats_following_count", "stats_likes_received").
		First(&user, "id = ?", uid).Error
	if err != nil {
		return nil, translate(err, "load author profile", "User", uid)
	}
	return &models.AuthorProfile{Bio: user.Bio, Stats: user.Stats}, nil
}

// Search matches term against full name, username, and bio.
func (r *userRepository) Search(ctx context.Context, term string, limit int) ([]models.User, error) {
	pattern := likePattern(term)
	var users []models.User
	err := readDB(r.db).WithContext(ctx).
		Where("LOWER(full_name) LIKE ? ESCAPE ? OR LOWER(username) LIKE ? ESCAPE ? OR LOWER(bio) LIKE ? ESCAPE ?",
			pattern, likeEscape, pattern, likeEscape, pattern, likeEscape).
		Order("stats_followers_count DESC").Order("id ASC").
		Limit(clampLimit(limit, 20, 50)).
		Find(&users).Error
	if err != nil {
		return nil, models.NewPersistenceError("search users", err)
	}
	return users, nil
}

// Suggested returns the most followed accounts uid does not follow yet.
func (r *userRepository) Suggested(ctx context.Context, uid string, limit int) ([]models.User, error) {
	db := readDB(r.db).WithContext(ctx)
	q := db.Order("stats_followers_count DESC").Order("id ASC").Limit(clampLimit(limit, 5, 50))
	if uid != "" {
		following := db.Model(&models.Follow{}).Select("following_id").Where("follower_id = ?", uid)
		q = q.Where("id <> ?", uid).Where("id NOT IN (?)", following)
	}
	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		return nil, models.NewPersistenceError("suggest users", err)
	}
	return users, nil
}
