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

package activation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/confighub/configdb"
	"github.com/cardinalhq/confighub/internal/schema"
)

type fakeStore struct {
	pointers map[string]configdb.ActivePointer
	blobs    map[string]bool
	notified []string
	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pointers: map[string]configdb.ActivePointer{},
		blobs:    map[string]bool{},
	}
}

func key(configType, profileKey string) string { return configType + "/" + profileKey }

func (f *fakeStore) ActivatePointer(_ context.Context, arg configdb.ActivatePointerParams) (configdb.ActivePointer, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return configdb.ActivePointer{}, err
	}
	if !f.blobs[key(arg.ConfigType, arg.ProfileKey)+"/"+arg.ContentHash] {
		return configdb.ActivePointer{}, configdb.ErrNotFound
	}
	current, exists := f.pointers[key(arg.ConfigType, arg.ProfileKey)]
	if arg.ExpectedHash != nil {
		want := *arg.ExpectedHash
		if !exists && want != "" {
			return configdb.ActivePointer{}, &configdb.PointerConflictError{
				ConfigType: arg.ConfigType, ProfileKey: arg.ProfileKey,
				Detail: "expected hash supplied but no pointer is set",
			}
		}
		if exists && want != current.ActiveHash {
			return configdb.ActivePointer{}, &configdb.PointerConflictError{
				ConfigType: arg.ConfigType, ProfileKey: arg.ProfileKey,
				CurrentHash: current.ActiveHash, ActivatedBy: current.ActivatedBy,
				ActivatedAt: current.ActivatedAt, Detail: "expected hash is stale",
			}
		}
	}
	if exists && current.ActiveHash == arg.ContentHash {
		return configdb.ActivePointer{}, &configdb.PointerConflictError{
			ConfigType: arg.ConfigType, ProfileKey: arg.ProfileKey,
			CurrentHash: current.ActiveHash, Detail: "hash is already active",
		}
	}
	ptr := configdb.ActivePointer{
		ConfigType:  arg.ConfigType,
		ProfileKey:  arg.ProfileKey,
		ActiveHash:  arg.ContentHash,
		ActivatedAt: time.Now(),
		ActivatedBy: arg.Actor,
		Reason:      arg.Reason,
	}
	f.pointers[key(arg.ConfigType, arg.ProfileKey)] = ptr
	return ptr, nil
}

func (f *fakeStore) GetActivePointer(_ context.Context, configType, profileKey string) (configdb.ActivePointer, error) {
	ptr, ok := f.pointers[key(configType, profileKey)]
	if !ok {
		return configdb.ActivePointer{}, configdb.ErrNotFound
	}
	return ptr, nil
}

func (f *fakeStore) NotifyInvalidate(_ context.Context, configType, profileKey string) error {
	f.notified = append(f.notified, configType+"|"+profileKey)
	return nil
}

type fakeInvalidator struct {
	dropped []string
}

func (f *fakeInvalidator) Invalidate(configType, profileKey string) {
	f.dropped = append(f.dropped, configType+"|"+profileKey)
}

func TestActivate_Success(t *testing.T) {
	store := newFakeStore()
	store.blobs["search/prod/h1"] = true
	cache := &fakeInvalidator{}
	svc := NewService(store, cache)

	ptr, err := svc.Activate(context.Background(), ActivateParams{
		ConfigType:  "search",
		ProfileKey:  "prod",
		ContentHash: "h1",
		Actor:       "alice",
		Reason:      "initial rollout",
	})
	require.NoError(t, err)
	assert.Equal(t, "h1", ptr.ActiveHash)
	assert.Equal(t, []string{"search|prod"}, cache.dropped)
	assert.Equal(t, []string{"search|prod"}, store.notified)
}

func TestActivate_UnknownHash(t *testing.T) {
	svc := NewService(newFakeStore(), nil)

	_, err := svc.Activate(context.Background(), ActivateParams{
		ConfigType:  "search",
		ProfileKey:  "prod",
		ContentHash: "missing",
	})
	assert.ErrorIs(t, err, configdb.ErrNotFound)
}

func TestActivate_StaleExpectedHash(t *testing.T) {
	store := newFakeStore()
	store.blobs["search/prod/h1"] = true
	store.blobs["search/prod/h2"] = true
	store.blobs["search/prod/h3"] = true
	cache := &fakeInvalidator{}
	svc := NewService(store, cache)
	ctx := context.Background()

	_, err := svc.Activate(ctx, ActivateParams{ConfigType: "search", ProfileKey: "prod", ContentHash: "h1"})
	require.NoError(t, err)

	expected := "h1"
	_, err = svc.Activate(ctx, ActivateParams{
		ConfigType: "search", ProfileKey: "prod", ContentHash: "h2", ExpectedHash: &expected,
	})
	require.NoError(t, err)

	// Second writer still expects h1; must lose with the authoritative state.
	_, err = svc.Activate(ctx, ActivateParams{
		ConfigType: "search", ProfileKey: "prod", ContentHash: "h3", ExpectedHash: &expected,
	})
	var conflict *configdb.PointerConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "h2", conflict.CurrentHash)

	// The failed transition must not have invalidated anything.
	assert.Len(t, cache.dropped, 2)
}

func TestActivate_SameHashConflicts(t *testing.T) {
	store := newFakeStore()
	store.blobs["search/prod/h1"] = true
	svc := NewService(store, nil)
	ctx := context.Background()

	_, err := svc.Activate(ctx, ActivateParams{ConfigType: "search", ProfileKey: "prod", ContentHash: "h1"})
	require.NoError(t, err)

	_, err = svc.Activate(ctx, ActivateParams{ConfigType: "search", ProfileKey: "prod", ContentHash: "h1"})
	var conflict *configdb.PointerConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Detail, "already active")
}

func TestActivate_BadKeyName(t *testing.T) {
	svc := NewService(newFakeStore(), nil)

	_, err := svc.Activate(context.Background(), ActivateParams{
		ConfigType: "Search!", ProfileKey: "prod", ContentHash: "h1",
	})
	var verr *schema.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestRollback_TagsReason(t *testing.T) {
	store := newFakeStore()
	store.blobs["search/prod/h1"] = true
	store.blobs["search/prod/h2"] = true
	svc := NewService(store, nil)
	ctx := context.Background()

	_, err := svc.Activate(ctx, ActivateParams{ConfigType: "search", ProfileKey: "prod", ContentHash: "h1"})
	require.NoError(t, err)
	_, err = svc.Activate(ctx, ActivateParams{ConfigType: "search", ProfileKey: "prod", ContentHash: "h2"})
	require.NoError(t, err)

	ptr, err := svc.Rollback(ctx, ActivateParams{
		ConfigType: "search", ProfileKey: "prod", ContentHash: "h1", Reason: "bad rollout",
	})
	require.NoError(t, err)
	assert.Equal(t, "h1", ptr.ActiveHash)
	assert.Equal(t, "rollback: bad rollout", ptr.Reason)
}

func TestGetActive_NotSet(t *testing.T) {
	svc := NewService(newFakeStore(), nil)

	_, err := svc.GetActive(context.Background(), "search", "prod")
	assert.True(t, errors.Is(err, configdb.ErrNotFound))
}
