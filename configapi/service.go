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

// Package configapi serves the admin and consumer HTTP surface over the
// config store.
package configapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cardinalhq/confighub/configdb"
	"github.com/cardinalhq/confighub/internal/activation"
	"github.com/cardinalhq/confighub/internal/blobstore"
	"github.com/cardinalhq/confighub/internal/configcache"
	"github.com/cardinalhq/confighub/internal/configservice"
	"github.com/cardinalhq/confighub/internal/snapshotsvc"
)

// Config holds the API server settings.
type Config struct {
	Addr string

	// APIKeys are the accepted keys. Empty disables authentication, which
	// is only sane for local development.
	APIKeys []string
}

// UsageLister reads the consumption ledger, normally configdb.
type UsageLister interface {
	ListUsageByConsumer(ctx context.Context, consumerID string) ([]configdb.UsageRecord, error)
}

type Service struct {
	addr      string
	keyHashes map[string]struct{}

	blobs  *blobstore.Service
	acts   *activation.Service
	cfgsvc *configservice.Service
	snaps  *snapshotsvc.Service
	cache  *configcache.Cache
	usage  UsageLister
}

func NewService(cfg Config, blobs *blobstore.Service, acts *activation.Service, cfgsvc *configservice.Service, snaps *snapshotsvc.Service, cache *configcache.Cache, usage UsageLister) *Service {
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	hashes := make(map[string]struct{}, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		sum := sha256.Sum256([]byte(key))
		hashes[hex.EncodeToString(sum[:])] = struct{}{}
	}

	return &Service{
		addr:      addr,
		keyHashes: hashes,
		blobs:     blobs,
		acts:      acts,
		cfgsvc:    cfgsvc,
		snaps:     snaps,
		cache:     cache,
		usage:     usage,
	}
}

func (s *Service) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/config/{type}/{profile}", s.apiKeyMiddleware(s.handleGetActive))
	mux.HandleFunc("PUT /api/v1/config/{type}/{profile}", s.apiKeyMiddleware(s.handlePutConfig))
	mux.HandleFunc("POST /api/v1/config/{type}/{profile}/validate", s.apiKeyMiddleware(s.handleValidate))
	mux.HandleFunc("POST /api/v1/config/{type}/{profile}/activate", s.apiKeyMiddleware(s.handleActivate))
	mux.HandleFunc("POST /api/v1/config/{type}/{profile}/rollback", s.apiKeyMiddleware(s.handleRollback))
	mux.HandleFunc("GET /api/v1/config/{type}/{profile}/history", s.apiKeyMiddleware(s.handleHistory))
	mux.HandleFunc("GET /api/v1/config/{type}/{profile}/effective", s.apiKeyMiddleware(s.handleEffective))

	mux.HandleFunc("GET /api/v1/usage/{consumerId}", s.apiKeyMiddleware(s.handleListUsage))

	mux.HandleFunc("POST /api/v1/snapshot/{consumerId}", s.apiKeyMiddleware(s.handleCaptureSnapshot))
	mux.HandleFunc("GET /api/v1/snapshot/{consumerId}", s.apiKeyMiddleware(s.handleGetSnapshot))
	mux.HandleFunc("GET /api/v1/snapshot/{consumerId}/compare", s.apiKeyMiddleware(s.handleCompareSnapshot))

	mux.HandleFunc("POST /api/v1/cache/invalidate", s.apiKeyMiddleware(s.handleInvalidateCache))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

// Run serves until the context is cancelled.
func (s *Service) Run(doneCtx context.Context) error {
	slog.Info("Starting config API", slog.String("addr", s.addr))
	if len(s.keyHashes) == 0 {
		slog.Warn("No API keys configured, authentication is disabled")
	}

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start HTTP server", slog.Any("error", err))
		}
	}()

	<-doneCtx.Done()

	slog.Info("Shutting down config API")
	if err := srv.Shutdown(context.Background()); err != nil {
		slog.Error("Failed to shutdown HTTP server", slog.Any("error", err))
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
