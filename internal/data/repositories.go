package data

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Repositories bundles the models over one shared handle. Background fan-out
// tasks run their own short-lived transactions off Repositories.DB; no
// transaction crosses a goroutine boundary.
type Repositories struct {
	DB          *sql.DB
	Cameras     CameraModel
	Events      EventModel
	Entities    EntityModel
	Adjustments EntityAdjustmentModel
	AIUsage     AIUsageModel
	Settings    SettingModel
}

func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		DB:          db,
		Cameras:     CameraModel{DB: db},
		Events:      EventModel{DB: db},
		Entities:    EntityModel{DB: db},
		Adjustments: EntityAdjustmentModel{DB: db},
		AIUsage:     AIUsageModel{DB: db},
		Settings:    SettingModel{DB: db},
	}
}
