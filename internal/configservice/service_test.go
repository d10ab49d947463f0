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

package configservice

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/confighub/configdb"
	"github.com/cardinalhq/confighub/internal/canonical"
	"github.com/cardinalhq/confighub/internal/configcache"
	"github.com/cardinalhq/confighub/internal/overrides"
	"github.com/cardinalhq/confighub/internal/schema"
	"github.com/cardinalhq/confighub/internal/snapshotsvc"
)

type fakeSource struct {
	blobs map[string]configdb.ConfigBlob
}

func newFakeSource() *fakeSource {
	return &fakeSource{blobs: map[string]configdb.ConfigBlob{}}
}

func (f *fakeSource) setActive(configType, profileKey, content string) string {
	hash := canonical.Hash([]byte(content))
	f.blobs[configType+"|"+profileKey] = configdb.ConfigBlob{
		ConfigType: configType, ProfileKey: profileKey, ContentHash: hash,
		SchemaVersion: 1, Content: content, CreatedAt: time.Now(),
	}
	return hash
}

func (f *fakeSource) GetActive(_ context.Context, configType, profileKey string) (configdb.ConfigBlob, error) {
	blob, ok := f.blobs[configType+"|"+profileKey]
	if !ok {
		return configdb.ConfigBlob{}, configcache.ErrNotSet
	}
	return blob, nil
}

func (f *fakeSource) GetActiveHash(_ context.Context, configType, profileKey string) (string, error) {
	blob, ok := f.blobs[configType+"|"+profileKey]
	if !ok {
		return "", configcache.ErrNotSet
	}
	return blob.ContentHash, nil
}

type fakeUsage struct {
	records []configdb.InsertUsageRecordParams
}

func (f *fakeUsage) InsertUsageRecord(_ context.Context, arg configdb.InsertUsageRecordParams) error {
	f.records = append(f.records, arg)
	return nil
}

type fakeSnapQuerier struct {
	rows map[string]configdb.ConfigSnapshot
}

func (f *fakeSnapQuerier) InsertSnapshot(_ context.Context, arg configdb.InsertSnapshotParams) (bool, error) {
	if _, ok := f.rows[arg.ConsumerID]; ok {
		return false, nil
	}
	f.rows[arg.ConsumerID] = configdb.ConfigSnapshot{
		ConsumerID: arg.ConsumerID, SchemaVersion: arg.SchemaVersion,
		ConfigVersionHash: arg.ConfigVersionHash, Resolved: arg.Resolved,
		ExternalRefs: arg.ExternalRefs, ReferencedHashes: arg.ReferencedHashes,
		CapturedAt: time.Now(),
	}
	return true, nil
}

func (f *fakeSnapQuerier) GetSnapshot(_ context.Context, consumerID string) (configdb.ConfigSnapshot, error) {
	row, ok := f.rows[consumerID]
	if !ok {
		return configdb.ConfigSnapshot{}, configdb.ErrNotFound
	}
	return row, nil
}

func newTestService() (*Service, *fakeSource, *fakeUsage) {
	reg := schema.NewRegistry()
	resolver := overrides.NewResolver(reg, overrides.Config{Policy: overrides.PolicyOn})
	source := newFakeSource()
	usage := &fakeUsage{}
	snaps := snapshotsvc.NewService(&fakeSnapQuerier{rows: map[string]configdb.ConfigSnapshot{}}, snapshotsvc.Config{})
	return NewService(source, resolver, reg, usage, snaps), source, usage
}

func TestGetEffectiveConfig_ActiveContent(t *testing.T) {
	svc, source, usage := newTestService()
	hash := source.setActive(schema.TypeSearch, "prod", `{"maxResults":6,"provider":"brave","timeoutMillis":8000}`)

	eff, err := svc.GetEffectiveConfig(context.Background(), "job-1", schema.TypeSearch, "prod")
	require.NoError(t, err)
	assert.Equal(t, hash, eff.ContentHash)
	assert.Equal(t, snapshotsvc.SourceActive, eff.Source)

	cfg, ok := eff.Typed.(*schema.SearchConfig)
	require.True(t, ok)
	assert.Equal(t, 6, cfg.MaxResults)

	require.Len(t, usage.records, 1)
	assert.Equal(t, "job-1", usage.records[0].ConsumerID)
	assert.Equal(t, hash, usage.records[0].ContentHash)
	assert.NotEmpty(t, usage.records[0].ID)
}

func TestGetEffectiveConfig_DefaultsWhenUnset(t *testing.T) {
	svc, _, usage := newTestService()

	eff, err := svc.GetEffectiveConfig(context.Background(), "job-1", schema.TypeSearch, "prod")
	require.NoError(t, err)
	assert.Equal(t, snapshotsvc.SourceDefault, eff.Source)
	assert.Empty(t, eff.ContentHash)

	cfg := eff.Typed.(*schema.SearchConfig)
	assert.Equal(t, "brave", cfg.Provider)
	assert.Equal(t, 6, cfg.MaxResults)
	assert.Equal(t, 8000, cfg.TimeoutMillis)

	require.Len(t, usage.records, 1, "defaults consumption is ledgered too")
	assert.NotEmpty(t, usage.records[0].ContentHash)
}

func TestGetEffectiveConfig_OverrideWins(t *testing.T) {
	t.Setenv("SEARCH_MAX_RESULTS", "10")
	svc, source, usage := newTestService()
	source.setActive(schema.TypeSearch, "prod", `{"maxResults":6,"provider":"brave","timeoutMillis":8000}`)

	eff, err := svc.GetEffectiveConfig(context.Background(), "job-1", schema.TypeSearch, "prod")
	require.NoError(t, err)

	cfg := eff.Typed.(*schema.SearchConfig)
	assert.Equal(t, 10, cfg.MaxResults)
	require.Len(t, eff.AppliedOverrides, 1)
	assert.Equal(t, "maxResults", eff.AppliedOverrides[0].Field)
	assert.True(t, eff.AppliedOverrides[0].Applied)
	assert.Equal(t, json.Number("10"), eff.AppliedOverrides[0].Value)

	require.Len(t, usage.records, 1)
	assert.Contains(t, string(usage.records[0].EffectiveOverrides), `"maxResults"`)
}

func TestGetEffectiveConfig_UnknownType(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.GetEffectiveConfig(context.Background(), "job-1", "nonesuch", "prod")
	assert.ErrorIs(t, err, schema.ErrUnknownConfigType)
}

func TestGetConfigHash(t *testing.T) {
	svc, source, _ := newTestService()
	ctx := context.Background()

	hash, err := svc.GetConfigHash(ctx, schema.TypeSearch, "prod")
	require.NoError(t, err)
	assert.Empty(t, hash, "unset key resolves to defaults, no hash")

	want := source.setActive(schema.TypeSearch, "prod", `{"maxResults":6,"provider":"brave","timeoutMillis":8000}`)
	hash, err = svc.GetConfigHash(ctx, schema.TypeSearch, "prod")
	require.NoError(t, err)
	assert.Equal(t, want, hash)
}

func TestCaptureJobSnapshot_AllTypes(t *testing.T) {
	svc, source, usage := newTestService()
	ctx := context.Background()
	source.setActive(schema.TypeSearch, "prod", `{"maxResults":6,"provider":"brave","timeoutMillis":8000}`)

	snap, err := svc.CaptureJobSnapshot(ctx, "job-1", "prod", map[string]string{"upstream": "cafe01"})
	require.NoError(t, err)
	require.NoError(t, svc.WaitSnapshot(ctx, "job-1"))

	reg := schema.NewRegistry()
	assert.Len(t, snap.Configs, len(reg.Types()), "snapshot covers every registered type")
	assert.Equal(t, snapshotsvc.SourceActive, snap.Configs[schema.TypeSearch].Source)
	assert.Equal(t, snapshotsvc.SourceDefault, snap.Configs[schema.TypeRanking].Source)
	assert.NotEmpty(t, snap.ConfigVersionHash)

	assert.Len(t, usage.records, len(reg.Types()), "each resolution is ledgered")
}
