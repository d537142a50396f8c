package cli

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Spok95/school-roster/internal/app"
	"github.com/Spok95/school-roster/internal/config"
	"github.com/Spok95/school-roster/internal/db"
	"github.com/Spok95/school-roster/internal/jobs"
	"github.com/Spok95/school-roster/internal/lifecycle"
	"github.com/Spok95/school-roster/internal/memstore"
	"github.com/Spok95/school-roster/internal/policy"
	"github.com/Spok95/school-roster/internal/roster"
)

var errNeedPostgres = errors.New("command requires STORE=postgres")

type classStore interface {
	roster.Classes
	app.Classes
}

// backend — реализации портов для выбранного хранилища.
type backend struct {
	classes classStore
	members roster.Membership
	states  lifecycle.Store
	counter policy.Counter
	drift   jobs.DriftSource
	ping    app.Pinger
	sqlDB   *sql.DB
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if cfg.Store == config.StoreMemory {
		st := memstore.New()
		return &backend{classes: st, members: st, states: st, counter: st, drift: st}, nil
	}
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &backend{
		classes: db.NewClassRepo(database),
		members: db.NewStudentRepo(database),
		states:  db.NewLifecycleRepo(database),
		counter: db.NewPolicyCounter(database),
		drift:   db.NewAuditor(database),
		ping:    database,
		sqlDB:   database,
	}, nil
}

func (b *backend) requireSQL() (*sql.DB, error) {
	if b.sqlDB == nil {
		return nil, errNeedPostgres
	}
	return b.sqlDB, nil
}

func (b *backend) Close() error {
	if b.sqlDB != nil {
		return b.sqlDB.Close()
	}
	return nil
}
