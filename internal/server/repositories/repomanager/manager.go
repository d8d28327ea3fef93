package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/agriflow/internal/dbx"
	"github.com/dmitrijs2005/agriflow/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/agriflow/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// path runs against *sql.DB or inside dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
