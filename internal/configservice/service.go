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

// Package configservice is the consumer-side surface: resolve the effective
// config for a key (active content, environment overrides, or built-in
// defaults when nothing was ever activated), append the usage ledger, and
// capture job snapshots.
package configservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cardinalhq/confighub/configdb"
	"github.com/cardinalhq/confighub/internal/canonical"
	"github.com/cardinalhq/confighub/internal/configcache"
	"github.com/cardinalhq/confighub/internal/idgen"
	"github.com/cardinalhq/confighub/internal/logctx"
	"github.com/cardinalhq/confighub/internal/overrides"
	"github.com/cardinalhq/confighub/internal/schema"
	"github.com/cardinalhq/confighub/internal/snapshotsvc"
)

// ActiveSource reads the currently active blob for a key, normally the
// two-tier cache.
type ActiveSource interface {
	GetActive(ctx context.Context, configType, profileKey string) (configdb.ConfigBlob, error)
	GetActiveHash(ctx context.Context, configType, profileKey string) (string, error)
}

// UsageAppender appends consumption records, normally configdb.
type UsageAppender interface {
	InsertUsageRecord(ctx context.Context, arg configdb.InsertUsageRecordParams) error
}

// Effective is a fully resolved configuration for one key.
type Effective struct {
	ConfigType       string              `json:"configType"`
	ProfileKey       string              `json:"profileKey"`
	ContentHash      string              `json:"contentHash,omitempty"`
	SchemaVersion    int32               `json:"schemaVersion"`
	Source           string              `json:"source"`
	Content          string              `json:"content"`
	AppliedOverrides []overrides.Applied `json:"appliedOverrides,omitempty"`

	// Typed is the decoded per-type struct; not serialized.
	Typed any `json:"-"`
}

type Service struct {
	source   ActiveSource
	resolver *overrides.Resolver
	reg      *schema.Registry
	usage    UsageAppender
	snaps    *snapshotsvc.Service
	ids      idgen.IDGenerator
}

func NewService(source ActiveSource, resolver *overrides.Resolver, reg *schema.Registry, usage UsageAppender, snaps *snapshotsvc.Service) *Service {
	return &Service{
		source:   source,
		resolver: resolver,
		reg:      reg,
		usage:    usage,
		snaps:    snaps,
		ids:      idgen.NewULIDGenerator(),
	}
}

// GetEffectiveConfig resolves the effective config for a key and appends a
// usage record attributing it to the consumer. A key with no activation
// serves the type's built-in defaults rather than failing.
func (s *Service) GetEffectiveConfig(ctx context.Context, consumerID, configType, profileKey string) (Effective, error) {
	eff, err := s.resolve(ctx, configType, profileKey)
	if err != nil {
		return Effective{}, err
	}

	if consumerID != "" {
		s.appendUsage(ctx, consumerID, eff)
	}
	return eff, nil
}

// GetConfigHash returns the active content hash for a key without touching
// the content tier or the ledger. Empty when the key serves defaults.
func (s *Service) GetConfigHash(ctx context.Context, configType, profileKey string) (string, error) {
	hash, err := s.source.GetActiveHash(ctx, configType, profileKey)
	if errors.Is(err, configcache.ErrNotSet) {
		return "", nil
	}
	return hash, err
}

func (s *Service) resolve(ctx context.Context, configType, profileKey string) (Effective, error) {
	sch, err := s.reg.Get(configType)
	if err != nil {
		return Effective{}, err
	}

	eff := Effective{
		ConfigType:    configType,
		ProfileKey:    profileKey,
		SchemaVersion: sch.SchemaVersion,
	}

	blob, err := s.source.GetActive(ctx, configType, profileKey)
	switch {
	case errors.Is(err, configcache.ErrNotSet):
		content, derr := s.reg.DefaultContent(configType)
		if derr != nil {
			return Effective{}, derr
		}
		eff.Source = snapshotsvc.SourceDefault
		eff.Content = string(content)
	case err != nil:
		return Effective{}, err
	default:
		eff.Source = snapshotsvc.SourceActive
		eff.ContentHash = blob.ContentHash
		eff.SchemaVersion = blob.SchemaVersion
		eff.Content = blob.Content
	}

	resolved, applied, err := s.resolver.Apply(ctx, configType, []byte(eff.Content))
	if err != nil {
		return Effective{}, fmt.Errorf("resolve overrides for %s/%s: %w", configType, profileKey, err)
	}
	eff.Content = string(resolved)
	eff.AppliedOverrides = applied

	typed, err := sch.Decode(resolved)
	if err != nil {
		return Effective{}, fmt.Errorf("decode %s/%s: %w", configType, profileKey, err)
	}
	eff.Typed = typed
	return eff, nil
}

// appendUsage records the consumption. The ledger is an audit surface; a
// failed append is logged but never blocks the read path. Active blobs stay
// retention-protected through the pointer regardless.
func (s *Service) appendUsage(ctx context.Context, consumerID string, eff Effective) {
	var overridesJSON []byte
	if len(eff.AppliedOverrides) > 0 {
		var err error
		if overridesJSON, err = json.Marshal(eff.AppliedOverrides); err != nil {
			logctx.FromContext(ctx).Warn("Failed to marshal applied overrides for ledger", "error", err)
		}
	}

	contentHash := eff.ContentHash
	if contentHash == "" {
		// Defaults have no stored blob; ledger the content identity anyway.
		contentHash = canonical.Hash([]byte(eff.Content))
	}

	err := s.usage.InsertUsageRecord(ctx, configdb.InsertUsageRecordParams{
		ID:                 s.ids.Make(time.Now()),
		ConsumerID:         consumerID,
		ConfigType:         eff.ConfigType,
		ProfileKey:         eff.ProfileKey,
		ContentHash:        contentHash,
		EffectiveOverrides: overridesJSON,
	})
	if err != nil {
		logctx.FromContext(ctx).Warn("Failed to append usage record",
			"consumerId", consumerID,
			"configType", eff.ConfigType,
			"profileKey", eff.ProfileKey,
			"error", err)
	}
}

// CaptureJobSnapshot resolves every registered config type for a profile and
// captures the job's audit snapshot. Persistence runs in the background;
// call WaitSnapshot before reporting the job complete.
func (s *Service) CaptureJobSnapshot(ctx context.Context, consumerID, profileKey string, externalRefs map[string]string) (snapshotsvc.Snapshot, error) {
	resolved, err := s.ResolveAll(ctx, consumerID, profileKey)
	if err != nil {
		return snapshotsvc.Snapshot{}, err
	}
	return s.snaps.CaptureAsync(ctx, consumerID, resolved, externalRefs)
}

// WaitSnapshot blocks until a pending snapshot capture is durable.
func (s *Service) WaitSnapshot(ctx context.Context, consumerID string) error {
	return s.snaps.Wait(ctx, consumerID)
}

// ResolveAll resolves every registered config type for one profile. With a
// non-empty consumerID each resolution is also ledgered.
func (s *Service) ResolveAll(ctx context.Context, consumerID, profileKey string) ([]snapshotsvc.ResolvedConfig, error) {
	types := s.reg.Types()
	out := make([]snapshotsvc.ResolvedConfig, 0, len(types))
	for _, configType := range types {
		eff, err := s.GetEffectiveConfig(ctx, consumerID, configType, profileKey)
		if err != nil {
			return nil, err
		}
		out = append(out, snapshotsvc.ResolvedConfig{
			ConfigType:       eff.ConfigType,
			ProfileKey:       eff.ProfileKey,
			ContentHash:      eff.ContentHash,
			SchemaVersion:    eff.SchemaVersion,
			Source:           eff.Source,
			Content:          eff.Content,
			AppliedOverrides: eff.AppliedOverrides,
		})
	}
	return out, nil
}
