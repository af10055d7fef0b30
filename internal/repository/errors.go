package repository

import (
	"errors"
	"strings"

	"postscript/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgForeignKeyViolation = "23503"

// isForeignKeyViolation recognizes both gorm's translated error and a raw PostgreSQL error.
func isForeignKeyViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return pgErr.ConstraintName, true
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return "", true
	}
	return "", false
}

func notFoundOr(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return err
}

// createError maps a failed comment insert onto the reference that is missing.
func createError(err error, comment *models.Comment) error {
	constraint, ok := isForeignKeyViolation(err)
	if !ok {
		return err
	}
	if strings.Contains(strings.ToLower(constraint), "user") {
		return models.NewNotFoundError("User", comment.UserID)
	}
	return models.NewNotFoundError("Post", comment.PostID)
}
