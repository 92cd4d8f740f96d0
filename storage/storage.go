// Package storage opens the user and poll repositories of the configured database engine.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/poll"
	"github.com/trezcool/bosvoting/core/user"
	"github.com/trezcool/bosvoting/storage/database"
	"github.com/trezcool/bosvoting/storage/database/inmem"
	"github.com/trezcool/bosvoting/storage/database/sqlx"
	"github.com/trezcool/bosvoting/storage/mongodb"
)

// Engines
const (
	EnginePostgres = "postgres"
	EngineMongo    = "mongo"
	EngineMemory   = "memory"
)

type Stores struct {
	Users user.Repository
	Polls poll.Repository
	// SQL is the postgres connection, nil for the other engines.
	SQL *sql.DB

	close func() error
}

func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open connects to the configured engine. Postgres databases are created and migrated on the way
// unless skipMigrations is set.
func Open(ctx context.Context, conf *core.Config, skipMigrations bool) (*Stores, error) {
	switch conf.Database.Engine {
	case EnginePostgres:
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, errors.Wrap(err, "creating database")
		}
		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, errors.Wrap(err, "opening database")
		}
		if !skipMigrations {
			if err = database.Migrate(db.DB); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &Stores{
			Users: sqlxrepos.NewUserRepository(db),
			Polls: sqlxrepos.NewPollRepository(db),
			SQL:   db.DB,
			close: db.Close,
		}, nil

	case EngineMongo:
		db, err := mongorepos.Open(ctx, conf)
		if err != nil {
			return nil, err
		}
		if err = mongorepos.EnsureIndexes(ctx, db); err != nil {
			_ = db.Client().Disconnect(context.Background())
			return nil, err
		}
		return &Stores{
			Users: mongorepos.NewUserRepository(db),
			Polls: mongorepos.NewPollRepository(db),
			close: func() error { return db.Client().Disconnect(context.Background()) },
		}, nil

	case EngineMemory:
		db := inmemdb.Open()
		return &Stores{
			Users: inmemdb.NewUserRepository(db),
			Polls: inmemdb.NewPollRepository(db),
		}, nil
	}
	return nil, fmt.Errorf("unknown database engine %q", conf.Database.Engine)
}
