// Package seed loads the demo accounts into an empty or existing database.
package seed

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/agriflow/internal/common"
	"github.com/dmitrijs2005/agriflow/internal/dbx"
	"github.com/dmitrijs2005/agriflow/internal/logging"
	"github.com/dmitrijs2005/agriflow/internal/server/models"
	"github.com/dmitrijs2005/agriflow/internal/server/repositories/repomanager"
)

type Hasher interface {
	Derive(plaintext string) (string, error)
}

// DemoUsers returns fresh copies of the demo accounts, without password hashes.
func DemoUsers() []*models.User {
	return []*models.User{
		{
			ID:        "user-001",
			Email:     "manager@agriflow.rw",
			FirstName: "Jean Claude",
			LastName:  "Uwimana",
			Role:      models.RoleFarmManager,
		},
		{
			ID:        "user-002",
			Email:     "supervisor@agriflow.rw",
			FirstName: "Marie",
			LastName:  "Mukamana",
			Role:      models.RoleSupervisor,
		},
	}
}

// Run replaces the demo accounts with fresh ones whose password is
// common.DemoPassword. Hashes are derived before the transaction starts;
// if any derivation fails nothing is written.
func Run(ctx context.Context, db *sql.DB, rm repomanager.RepositoryManager, hasher Hasher, logger logging.Logger) error {
	users := DemoUsers()
	for _, u := range users {
		hash, err := hasher.Derive(common.DemoPassword)
		if err != nil {
			return fmt.Errorf("error hashing password for %s: %w", u.Email, err)
		}
		u.PasswordHash = hash
	}

	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := rm.Users(tx)
		for _, u := range users {
			if err := repo.DeleteByEmail(ctx, u.Email); err != nil {
				return fmt.Errorf("error removing %s: %w", u.Email, err)
			}
			if _, err := repo.Create(ctx, u); err != nil {
				return fmt.Errorf("error creating %s: %w", u.Email, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, u := range users {
		logger.Info(ctx, "demo user created", "email", u.Email, "role", u.Role)
	}
	return nil
}
