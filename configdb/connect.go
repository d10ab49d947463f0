// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package configdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	configdbmigrations "github.com/cardinalhq/confighub/configdb/migrations"
	"github.com/cardinalhq/confighub/internal/dbopen"
)

// ConnectToConfigDB opens a pool against the CONFIGDB_* environment target
// and verifies the schema is at the expected migration version.
func ConnectToConfigDB(ctx context.Context, opts ...configdbmigrations.CheckOption) (*pgxpool.Pool, error) {
	connectionString, err := dbopen.GetDatabaseURLFromEnv("CONFIGDB")
	if err != nil {
		return nil, errors.Join(dbopen.ErrDatabaseNotConfigured, fmt.Errorf("failed to get CONFIGDB connection string: %w", err))
	}

	pool, err := dbopen.NewConnectionPool(ctx, connectionString)
	if err != nil {
		return nil, err
	}

	if err := configdbmigrations.CheckVersion(ctx, pool, opts...); err != nil {
		pool.Close()
		return nil, fmt.Errorf("CONFIGDB migration version check failed: %w", err)
	}

	return pool, nil
}

// ConfigDBStore connects and wraps the pool in a Store.
func ConfigDBStore(ctx context.Context) (*Store, error) {
	pool, err := ConnectToConfigDB(ctx)
	if err != nil {
		return nil, err
	}
	return NewStore(pool), nil
}
