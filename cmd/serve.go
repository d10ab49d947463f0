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

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cardinalhq/confighub/config"
	"github.com/cardinalhq/confighub/configapi"
	"github.com/cardinalhq/confighub/configdb"
	"github.com/cardinalhq/confighub/internal/activation"
	"github.com/cardinalhq/confighub/internal/blobstore"
	"github.com/cardinalhq/confighub/internal/configcache"
	"github.com/cardinalhq/confighub/internal/configservice"
	"github.com/cardinalhq/confighub/internal/healthcheck"
	"github.com/cardinalhq/confighub/internal/overrides"
	"github.com/cardinalhq/confighub/internal/schema"
	"github.com/cardinalhq/confighub/internal/snapshotsvc"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the config API server",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "confighub-api"
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

			// Start health check server
			healthConfig := healthcheck.GetConfigFromEnv()
			healthServer := healthcheck.NewServer(healthConfig)

			go func() {
				if err := healthServer.Start(doneCtx); err != nil {
					slog.Error("Health check server stopped", slog.Any("error", err))
				}
			}()

			store, err := configdb.ConfigDBStore(context.Background())
			if err != nil {
				slog.Error("Failed to connect to config database", slog.Any("error", err))
				return fmt.Errorf("failed to connect to config database: %w", err)
			}
			defer store.Close()
			healthServer.SetReadyCondition("database_connected", true)
			healthServer.SetReadyCondition("migrations_current", true)

			reg := schema.NewRegistry()
			cache := configcache.New(store, reg, cfg.Cache)
			defer cache.Close()

			if cfg.PushInvalidation {
				go cache.Listen(doneCtx, store.Pool())
			}

			blobs := blobstore.NewService(store, reg)
			acts := activation.NewService(store, cache)
			resolver := overrides.NewResolver(reg, cfg.Overrides)
			snaps := snapshotsvc.NewService(store, cfg.Snapshot)
			cfgsvc := configservice.NewService(cache, resolver, reg, store, snaps)

			api := configapi.NewService(cfg.API, blobs, acts, cfgsvc, snaps, cache, store)

			// Mark as healthy once all services are ready
			healthServer.SetStatus(healthcheck.StatusHealthy)
			healthServer.SetReady(true)

			return api.Run(doneCtx)
		},
	}

	rootCmd.AddCommand(cmd)
}
