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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cardinalhq/confighub/configdb"
	"github.com/cardinalhq/confighub/internal/activation"
	"github.com/cardinalhq/confighub/internal/blobstore"
	"github.com/cardinalhq/confighub/internal/configcache"
	"github.com/cardinalhq/confighub/internal/schema"
	"github.com/cardinalhq/confighub/internal/snapshotsvc"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", slog.Any("error", err))
	}
}

// writeError maps service errors onto the API's status codes: 400 with a
// field list for validation failures, 404 for unknown rows, 409 with the
// authoritative pointer state for activation conflicts, 500 otherwise.
func writeError(w http.ResponseWriter, err error) {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation_failed",
			"fields": verr.Fields,
		})
		return
	}
	if errors.Is(err, schema.ErrUnknownConfigType) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	var conflict *configdb.PointerConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":       "conflict",
			"detail":      conflict.Detail,
			"currentHash": conflict.CurrentHash,
			"activatedBy": conflict.ActivatedBy,
			"activatedAt": conflict.ActivatedAt,
		})
		return
	}
	if errors.Is(err, configdb.ErrNotFound) || errors.Is(err, configcache.ErrNotSet) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	slog.Error("Request failed", slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
}

func (s *Service) handleGetActive(w http.ResponseWriter, r *http.Request) {
	configType := r.PathValue("type")
	profileKey := r.PathValue("profile")

	ptr, err := s.acts.GetActive(r.Context(), configType, profileKey)
	if err != nil {
		writeError(w, err)
		return
	}
	blob, err := s.blobs.Get(r.Context(), configType, profileKey, ptr.ActiveHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pointer": ptr,
		"blob":    blob,
	})
}

type putConfigRequest struct {
	Content      string  `json:"content"`
	VersionLabel string  `json:"versionLabel"`
	Activate     bool    `json:"activate"`
	ExpectedHash *string `json:"expectedHash"`
}

// handlePutConfig stores content. With activate=true (or an expectedHash
// acting as an optimistic lock) the new hash is activated in the same
// request.
func (s *Service) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	configType := r.PathValue("type")
	profileKey := r.PathValue("profile")

	var req putConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "content is required"})
		return
	}

	result, err := s.blobs.Put(r.Context(), blobstore.PutParams{
		ConfigType:   configType,
		ProfileKey:   profileKey,
		Content:      []byte(req.Content),
		VersionLabel: req.VersionLabel,
		Actor:        actor(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]any{
		"contentHash":   result.ContentHash,
		"schemaVersion": result.SchemaVersion,
		"created":       result.Created,
	}

	if req.Activate || req.ExpectedHash != nil {
		ptr, err := s.acts.Activate(r.Context(), activation.ActivateParams{
			ConfigType:   configType,
			ProfileKey:   profileKey,
			ContentHash:  result.ContentHash,
			Actor:        actor(r),
			Reason:       "put",
			ExpectedHash: req.ExpectedHash,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		body["pointer"] = ptr
	}

	writeJSON(w, http.StatusOK, body)
}

type validateRequest struct {
	Content string `json:"content"`
}

func (s *Service) handleValidate(w http.ResponseWriter, r *http.Request) {
	configType := r.PathValue("type")
	profileKey := r.PathValue("profile")

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body: " + err.Error()})
		return
	}

	hash, err := s.blobs.Validate(r.Context(), configType, profileKey, []byte(req.Content))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":       true,
		"contentHash": hash,
	})
}

type activateRequest struct {
	Hash         string  `json:"hash"`
	Reason       string  `json:"reason"`
	ExpectedHash *string `json:"expectedHash"`
}

func (s *Service) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, false)
}

func (s *Service) handleRollback(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, true)
}

func (s *Service) handleTransition(w http.ResponseWriter, r *http.Request, rollback bool) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Hash == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "hash is required"})
		return
	}

	params := activation.ActivateParams{
		ConfigType:   r.PathValue("type"),
		ProfileKey:   r.PathValue("profile"),
		ContentHash:  req.Hash,
		Actor:        actor(r),
		Reason:       req.Reason,
		ExpectedHash: req.ExpectedHash,
	}

	var ptr configdb.ActivePointer
	var err error
	if rollback {
		ptr, err = s.acts.Rollback(r.Context(), params)
	} else {
		ptr, err = s.acts.Activate(r.Context(), params)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ptr)
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	configType := r.PathValue("type")
	profileKey := r.PathValue("profile")

	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	blobs, err := s.blobs.History(r.Context(), configType, profileKey, int32(limit), int32(offset))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history": blobs,
		"limit":   limit,
		"offset":  offset,
	})
}

func (s *Service) handleEffective(w http.ResponseWriter, r *http.Request) {
	configType := r.PathValue("type")
	profileKey := r.PathValue("profile")
	consumerID := r.URL.Query().Get("consumer")

	eff, err := s.cfgsvc.GetEffectiveConfig(r.Context(), consumerID, configType, profileKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eff)
}

func (s *Service) handleListUsage(w http.ResponseWriter, r *http.Request) {
	consumerID := r.PathValue("consumerId")
	records, err := s.usage.ListUsageByConsumer(r.Context(), consumerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"consumerId": consumerID,
		"records":    records,
	})
}

type captureSnapshotRequest struct {
	ProfileKey   string            `json:"profileKey"`
	ExternalRefs map[string]string `json:"externalRefs"`
	Wait         bool              `json:"wait"`
}

func (s *Service) handleCaptureSnapshot(w http.ResponseWriter, r *http.Request) {
	consumerID := r.PathValue("consumerId")

	var req captureSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.ProfileKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "profileKey is required"})
		return
	}

	snap, err := s.cfgsvc.CaptureJobSnapshot(r.Context(), consumerID, req.ProfileKey, req.ExternalRefs)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Wait {
		if err := s.cfgsvc.WaitSnapshot(r.Context(), consumerID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Service) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snaps.Get(r.Context(), r.PathValue("consumerId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleCompareSnapshot diffs a stored snapshot against another stored
// snapshot, or against "current" resolved live for the same profiles.
func (s *Service) handleCompareSnapshot(w http.ResponseWriter, r *http.Request) {
	left, err := s.snaps.Get(r.Context(), r.PathValue("consumerId"))
	if err != nil {
		writeError(w, err)
		return
	}

	other := r.URL.Query().Get("other")
	if other == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "other query parameter is required"})
		return
	}

	var right snapshotsvc.Snapshot
	if other == "current" {
		profileKey := r.URL.Query().Get("profile")
		if profileKey == "" {
			// Default to the profile the stored snapshot was captured for.
			for _, rc := range left.Configs {
				profileKey = rc.ProfileKey
				break
			}
		}
		resolved, err := s.cfgsvc.ResolveAll(r.Context(), "", profileKey)
		if err != nil {
			writeError(w, err)
			return
		}
		right = snapshotsvc.Snapshot{
			ConsumerID:        "current",
			ConfigVersionHash: snapshotsvc.VersionHash(resolved),
			Configs:           map[string]snapshotsvc.ResolvedConfig{},
		}
		for _, rc := range resolved {
			right.Configs[rc.ConfigType] = rc
		}
	} else {
		if right, err = s.snaps.Get(r.Context(), other); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, snapshotsvc.Compare(left, right))
}

type invalidateRequest struct {
	Type    string `json:"type"`
	Profile string `json:"profile"`
}

func (s *Service) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body: " + err.Error()})
		return
	}
	s.cache.Invalidate(req.Type, req.Profile)
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": true})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
