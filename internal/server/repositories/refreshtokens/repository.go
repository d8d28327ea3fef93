// Package refreshtokens stores the opaque refresh tokens handed out at login.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/agriflow/internal/server/models"
)

type Repository interface {
	// Create stores token for userID, expiring at now+validity.
	Create(ctx context.Context, userID string, token string, validity time.Duration) error

	// Consume deletes token and returns the removed row, so a token can be
	// redeemed at most once. It returns common.ErrorNotFound when the token
	// is absent or already consumed.
	Consume(ctx context.Context, token string) (*models.RefreshToken, error)

	// Delete removes a single token; deleting an absent token is not an error.
	Delete(ctx context.Context, token string) error

	// DeleteByUser revokes every token of userID.
	DeleteByUser(ctx context.Context, userID string) error
}
