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

package configapi

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"

	"github.com/cardinalhq/confighub/internal/logctx"
)

const (
	apiKeyHeader = "x-confighub-api-key"
	actorHeader  = "x-confighub-actor"
)

// apiKeyMiddleware validates the x-confighub-api-key header against the
// configured key hashes. Keys are compared by SHA-256 digest so raw keys
// never sit in memory longer than the hash call, and the map lookup is on
// fixed-length digests.
func (s *Service) apiKeyMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.keyHashes) > 0 {
			apiKey := r.Header.Get(apiKeyHeader)
			if apiKey == "" {
				http.Error(w, "missing "+apiKeyHeader+" header", http.StatusUnauthorized)
				return
			}
			sum := sha256.Sum256([]byte(apiKey))
			if _, ok := s.keyHashes[hex.EncodeToString(sum[:])]; !ok {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}
		}

		ctx := logctx.WithAttrs(r.Context(),
			"requestId", uuid.NewString(),
			"method", r.Method,
			"path", r.URL.Path)
		next(w, r.WithContext(ctx))
	}
}

// actor returns the acting identity for audit columns, defaulting to "api".
func actor(r *http.Request) string {
	if a := r.Header.Get(actorHeader); a != "" {
		return a
	}
	return "api"
}
