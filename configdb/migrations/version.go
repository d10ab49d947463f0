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

package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

// expectedVersion returns the highest migration number in the embedded set.
func expectedVersion() (uint, error) {
	entries, err := fs.ReadDir(migrationFiles, ".")
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, e := range entries {
		m := migrationFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return 0, fmt.Errorf("no embedded migrations found")
	}
	return uint(max), nil
}

// CheckVersion verifies the database is at the expected migration version,
// retrying until the timeout so a deployment can wait out a concurrent
// migration job. Behavior is tunable via CheckOptions.
func CheckVersion(ctx context.Context, pool *pgxpool.Pool, opts ...CheckOption) error {
	options := DefaultCheckOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Mode == CheckModeSkip {
		slog.Debug("Migration version checking disabled for configdb")
		return nil
	}

	expected, err := expectedVersion()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(options.Timeout)
	for {
		current, dirty, err := currentVersion(ctx, pool)
		switch {
		case err != nil:
			// Table missing means migrations never ran.
		case dirty && !options.AllowDirty:
			err = fmt.Errorf("configdb migrations are dirty at version %d", current)
		case current == expected:
			return nil
		case current > expected:
			// Newer schema than this binary knows. Warn-and-continue keeps
			// rolling deployments alive; wait mode treats it as fatal.
			err = fmt.Errorf("configdb is at migration %d, binary expects %d", current, expected)
		default:
			err = fmt.Errorf("configdb is at migration %d, waiting for %d", current, expected)
		}

		if err == nil {
			return nil
		}
		if options.Mode == CheckModeWarn {
			slog.Warn("Migration version mismatch, continuing", slog.Any("error", err))
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		slog.Info("Waiting for configdb migrations", slog.Any("status", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(options.RetryInterval):
		}
	}
}

func currentVersion(ctx context.Context, pool *pgxpool.Pool) (uint, bool, error) {
	var version int64
	var dirty bool
	err := pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT version, dirty FROM %s ORDER BY version DESC LIMIT 1`, migrationsTable)).
		Scan(&version, &dirty)
	if err != nil {
		return 0, false, err
	}
	return uint(version), dirty, nil
}
