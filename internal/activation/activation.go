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

// Package activation moves the active pointer for a (type, profile) key.
// Activation is the only operation that changes what consumers see; the
// database transaction in configdb provides the per-key linearizability and
// this layer adds cache invalidation fan-out on top.
package activation

import (
	"context"

	"github.com/cardinalhq/confighub/configdb"
	"github.com/cardinalhq/confighub/internal/logctx"
	"github.com/cardinalhq/confighub/internal/schema"
)

// Store is the slice of configdb the activation service needs.
type Store interface {
	ActivatePointer(ctx context.Context, arg configdb.ActivatePointerParams) (configdb.ActivePointer, error)
	GetActivePointer(ctx context.Context, configType, profileKey string) (configdb.ActivePointer, error)
	NotifyInvalidate(ctx context.Context, configType, profileKey string) error
}

// Invalidator drops cached entries for a key after a pointer transition.
type Invalidator interface {
	Invalidate(configType, profileKey string)
}

type Service struct {
	store Store
	cache Invalidator
}

// NewService builds the activation service. cache may be nil when no local
// cache is attached (the sweep command runs without one).
func NewService(store Store, cache Invalidator) *Service {
	return &Service{store: store, cache: cache}
}

type ActivateParams struct {
	ConfigType  string
	ProfileKey  string
	ContentHash string
	Actor       string
	Reason      string

	// ExpectedHash is the optional optimistic lock; see
	// configdb.ActivatePointerParams.
	ExpectedHash *string
}

// Activate atomically repoints a key at a stored hash. On success the local
// cache is dropped immediately and other replicas are nudged over the
// invalidation channel; their TTLs bound staleness even if the nudge is lost.
func (s *Service) Activate(ctx context.Context, p ActivateParams) (configdb.ActivePointer, error) {
	if err := checkKeyNames(p.ConfigType, p.ProfileKey); err != nil {
		return configdb.ActivePointer{}, err
	}

	ptr, err := s.store.ActivatePointer(ctx, configdb.ActivatePointerParams{
		ConfigType:   p.ConfigType,
		ProfileKey:   p.ProfileKey,
		ContentHash:  p.ContentHash,
		Actor:        p.Actor,
		Reason:       p.Reason,
		ExpectedHash: p.ExpectedHash,
	})
	if err != nil {
		return configdb.ActivePointer{}, err
	}

	ll := logctx.FromContext(ctx)
	ll.Info("Activated config pointer",
		"configType", ptr.ConfigType,
		"profileKey", ptr.ProfileKey,
		"activeHash", ptr.ActiveHash,
		"activatedBy", ptr.ActivatedBy,
		"reason", ptr.Reason)

	if s.cache != nil {
		s.cache.Invalidate(p.ConfigType, p.ProfileKey)
	}
	if err := s.store.NotifyInvalidate(ctx, p.ConfigType, p.ProfileKey); err != nil {
		// Best effort: remote caches converge via TTL regardless.
		ll.Warn("Failed to publish pointer invalidation",
			"configType", p.ConfigType,
			"profileKey", p.ProfileKey,
			"error", err)
	}

	return ptr, nil
}

// Rollback re-activates a prior hash from the key's history. It is the same
// transition as Activate; only the recorded reason differs.
func (s *Service) Rollback(ctx context.Context, p ActivateParams) (configdb.ActivePointer, error) {
	if p.Reason == "" {
		p.Reason = "rollback"
	} else {
		p.Reason = "rollback: " + p.Reason
	}
	return s.Activate(ctx, p)
}

// GetActive returns the current pointer for a key, configdb.ErrNotFound when
// no activation has ever happened.
func (s *Service) GetActive(ctx context.Context, configType, profileKey string) (configdb.ActivePointer, error) {
	if err := checkKeyNames(configType, profileKey); err != nil {
		return configdb.ActivePointer{}, err
	}
	return s.store.GetActivePointer(ctx, configType, profileKey)
}

func checkKeyNames(configType, profileKey string) error {
	var fields []schema.FieldError
	if !schema.ValidKeyName(configType) {
		fields = append(fields, schema.FieldError{Field: "configType", Message: "must match [a-z0-9][a-z0-9._-]{0,63}"})
	}
	if !schema.ValidKeyName(profileKey) {
		fields = append(fields, schema.FieldError{Field: "profileKey", Message: "must match [a-z0-9][a-z0-9._-]{0,63}"})
	}
	if len(fields) > 0 {
		return &schema.ValidationError{Fields: fields}
	}
	return nil
}
