// Package users declares and implements the user record store.
package users

import (
	"context"

	"github.com/dmitrijs2005/agriflow/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// UpdatePassword replaces the stored hash and returns the bumped
	// credential version.
	UpdatePassword(ctx context.Context, id string, passwordHash string) (int64, error)
	DeleteByEmail(ctx context.Context, email string) error
}
