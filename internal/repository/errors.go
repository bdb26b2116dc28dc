package repository

import (
	"errors"
	"strings"

	"quill/internal/models"

	"gorm.io/gorm"
)

// isUniqueConstraintError checks if a DB error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	// PostgreSQL unique violation SQLSTATE 23505
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "23505")
}

// translate maps a driver error to the AppError taxonomy. Errors that already
// carry a code pass through unchanged.
func translate(err error, op, resource string, id interface{}) error {
	if err == nil {
		return nil
	}
	if models.ErrorCode(err) != "" {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return models.NewPersistenceError(op, err)
}
