package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/chatrelay/internal/dbx"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/devices"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/messages"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Devices(db dbx.DBTX) devices.Repository
	Messages(db dbx.DBTX) messages.Repository
}
