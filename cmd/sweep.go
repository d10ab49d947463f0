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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cardinalhq/confighub/config"
	"github.com/cardinalhq/confighub/configdb"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "delete old unreferenced config blobs",
		Long:  "Delete stored config versions that are older than the retention window and referenced by no active pointer, usage record, or snapshot.",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "confighub-sweep"
			addlAttrs := attribute.NewSet()
			doneCtx, doneFx, err := setupTelemetry(servicename, &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}

			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			store, err := configdb.ConfigDBStore(context.Background())
			if err != nil {
				return fmt.Errorf("failed to connect to config database: %w", err)
			}
			defer store.Close()

			return sweep(doneCtx, store, cfg.Sweep)
		},
	}

	rootCmd.AddCommand(cmd)
}

// sweep deletes unreferenced blobs in batches. Each candidate is re-checked
// inside the delete transaction, so a reference created after listing keeps
// the blob alive.
func sweep(ctx context.Context, store *configdb.Store, cfg config.SweepConfig) error {
	cutoff := time.Now().Add(-cfg.MinAge)
	slog.Info("Sweeping unreferenced config blobs",
		slog.Time("cutoff", cutoff),
		slog.Int("batchSize", cfg.BatchSize))

	var errs *multierror.Error
	deleted, skipped := 0, 0

	for {
		candidates, err := store.ListUnreferencedBlobs(ctx, cutoff, int32(cfg.BatchSize))
		if err != nil {
			return fmt.Errorf("failed to list unreferenced blobs: %w", err)
		}
		if len(candidates) == 0 {
			break
		}

		progressed := false
		for _, key := range candidates {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ok, err := store.DeleteBlobIfUnreferenced(ctx, key)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("delete %s/%s@%s: %w",
					key.ConfigType, key.ProfileKey, key.ContentHash, err))
				continue
			}
			if ok {
				deleted++
				progressed = true
			} else {
				skipped++
			}
		}

		if len(candidates) < cfg.BatchSize || !progressed {
			break
		}
	}

	slog.Info("Sweep complete",
		slog.Int("deleted", deleted),
		slog.Int("skipped", skipped))
	return errs.ErrorOrNil()
}
