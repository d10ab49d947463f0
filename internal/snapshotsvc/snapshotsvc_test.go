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

package snapshotsvc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/confighub/configdb"
)

type fakeQuerier struct {
	mu       sync.Mutex
	rows     map[string]configdb.ConfigSnapshot
	failures int
	inserts  int
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{rows: map[string]configdb.ConfigSnapshot{}}
}

func (f *fakeQuerier) InsertSnapshot(_ context.Context, arg configdb.InsertSnapshotParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.failures > 0 {
		f.failures--
		return false, errors.New("transient database error")
	}
	if _, ok := f.rows[arg.ConsumerID]; ok {
		return false, nil
	}
	f.rows[arg.ConsumerID] = configdb.ConfigSnapshot{
		ConsumerID:        arg.ConsumerID,
		SchemaVersion:     arg.SchemaVersion,
		CapturedAt:        time.Now(),
		ConfigVersionHash: arg.ConfigVersionHash,
		Resolved:          arg.Resolved,
		ExternalRefs:      arg.ExternalRefs,
		ReferencedHashes:  arg.ReferencedHashes,
	}
	return true, nil
}

func (f *fakeQuerier) GetSnapshot(_ context.Context, consumerID string) (configdb.ConfigSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[consumerID]
	if !ok {
		return configdb.ConfigSnapshot{}, configdb.ErrNotFound
	}
	return row, nil
}

func searchResolved(hash, content string) ResolvedConfig {
	return ResolvedConfig{
		ConfigType:    "search",
		ProfileKey:    "prod",
		ContentHash:   hash,
		SchemaVersion: 1,
		Source:        SourceActive,
		Content:       content,
	}
}

func TestCaptureAsync_PersistsInBackground(t *testing.T) {
	db := newFakeQuerier()
	svc := NewService(db, Config{})
	ctx := context.Background()

	snap, err := svc.CaptureAsync(ctx, "job-1", []ResolvedConfig{
		searchResolved("h1", `{"maxResults":6}`),
	}, map[string]string{"downstream": "abc123"})
	require.NoError(t, err)
	assert.Equal(t, SnapshotFormatVersion, snap.SchemaVersion)
	assert.NotEmpty(t, snap.ConfigVersionHash)

	require.NoError(t, svc.Wait(ctx, "job-1"))

	got, err := svc.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, snap.ConfigVersionHash, got.ConfigVersionHash)
	assert.Equal(t, "h1", got.Configs["search"].ContentHash)
	assert.Equal(t, map[string]string{"downstream": "abc123"}, got.ExternalRefs)
}

func TestCaptureAsync_RetriesTransientFailures(t *testing.T) {
	db := newFakeQuerier()
	db.failures = 2
	svc := NewService(db, Config{RetryLimit: 3, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	_, err := svc.CaptureAsync(ctx, "job-1", []ResolvedConfig{searchResolved("h1", `{}`)}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Wait(ctx, "job-1"))
	assert.Equal(t, 3, db.inserts)
}

func TestCaptureAsync_ExhaustedRetriesSurfaceInWait(t *testing.T) {
	db := newFakeQuerier()
	db.failures = 100
	svc := NewService(db, Config{RetryLimit: 1, RetryBackoff: time.Millisecond})
	ctx := context.Background()

	_, err := svc.CaptureAsync(ctx, "job-1", []ResolvedConfig{searchResolved("h1", `{}`)}, nil)
	require.NoError(t, err, "capture itself never blocks on the database")

	err = svc.Wait(ctx, "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transient database error")
}

func TestSnapshot_ImmutableAcrossLaterActivations(t *testing.T) {
	db := newFakeQuerier()
	svc := NewService(db, Config{})
	ctx := context.Background()

	// t0: job captures with h1.
	first, err := svc.CaptureAsync(ctx, "job-1", []ResolvedConfig{
		searchResolved("h1", `{"maxResults":6}`),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Wait(ctx, "job-1"))

	// t0+1s: a different capture path tries to write job-1 again after the
	// pointer moved to h2. Insert-once keeps the original.
	_, err = svc.CaptureAsync(ctx, "job-1", []ResolvedConfig{
		searchResolved("h2", `{"maxResults":10}`),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Wait(ctx, "job-1"))

	got, err := svc.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.Configs["search"].ContentHash)
	assert.Equal(t, first.ConfigVersionHash, got.ConfigVersionHash)
	assert.Contains(t, got.Configs["search"].Content, `"maxResults":6`)
}

func TestCaptureAsync_RejectsEmptyInput(t *testing.T) {
	svc := NewService(newFakeQuerier(), Config{})

	_, err := svc.CaptureAsync(context.Background(), "", []ResolvedConfig{searchResolved("h1", `{}`)}, nil)
	assert.Error(t, err)

	_, err = svc.CaptureAsync(context.Background(), "job-1", nil, nil)
	assert.Error(t, err)
}

func TestWait_NoCaptureInFlight(t *testing.T) {
	svc := NewService(newFakeQuerier(), Config{})
	assert.NoError(t, svc.Wait(context.Background(), "never-captured"))
}

func TestVersionHash_OrderInsensitive(t *testing.T) {
	a := []ResolvedConfig{
		{ConfigType: "search", ProfileKey: "prod", ContentHash: "h1"},
		{ConfigType: "ranking", ProfileKey: "prod", ContentHash: "h2"},
	}
	b := []ResolvedConfig{
		{ConfigType: "ranking", ProfileKey: "prod", ContentHash: "h2"},
		{ConfigType: "search", ProfileKey: "prod", ContentHash: "h1"},
	}
	assert.Equal(t, VersionHash(a), VersionHash(b))

	c := []ResolvedConfig{
		{ConfigType: "search", ProfileKey: "prod", ContentHash: "h3"},
		{ConfigType: "ranking", ProfileKey: "prod", ContentHash: "h2"},
	}
	assert.NotEqual(t, VersionHash(a), VersionHash(c))
}

func TestVersionHash_DefaultsDistinctFromActive(t *testing.T) {
	active := []ResolvedConfig{{ConfigType: "search", ProfileKey: "prod", ContentHash: "h1"}}
	defaulted := []ResolvedConfig{{ConfigType: "search", ProfileKey: "prod"}}
	assert.NotEqual(t, VersionHash(active), VersionHash(defaulted))
}

func TestCompare_FieldLevelDiff(t *testing.T) {
	left := Snapshot{
		ConsumerID:        "job-1",
		ConfigVersionHash: "vh1",
		Configs: map[string]ResolvedConfig{
			"search": searchResolved("h1", `{"maxResults":6,"provider":"brave"}`),
		},
	}
	right := Snapshot{
		ConsumerID:        "job-2",
		ConfigVersionHash: "vh2",
		Configs: map[string]ResolvedConfig{
			"search": searchResolved("h2", `{"maxResults":10,"provider":"brave"}`),
			"ranking": {
				ConfigType: "ranking", ProfileKey: "prod", ContentHash: "h3",
				Content: `{"minEvidence":3}`,
			},
		},
	}

	d := Compare(left, right)
	assert.False(t, d.Identical)
	require.Len(t, d.Entries, 2)

	assert.Equal(t, "ranking", d.Entries[0].ConfigType)
	assert.Nil(t, d.Entries[0].Left)
	assert.Equal(t, "present", d.Entries[0].Right)

	assert.Equal(t, "search", d.Entries[1].ConfigType)
	assert.Equal(t, "maxResults", d.Entries[1].Field)
	assert.Equal(t, json.Number("6"), d.Entries[1].Left)
	assert.Equal(t, json.Number("10"), d.Entries[1].Right)
}

func TestCompare_IdenticalShortCircuit(t *testing.T) {
	snap := Snapshot{ConsumerID: "job-1", ConfigVersionHash: "vh1"}
	d := Compare(snap, Snapshot{ConsumerID: "job-2", ConfigVersionHash: "vh1"})
	assert.True(t, d.Identical)
	assert.Empty(t, d.Entries)
}

func TestCompare_MarkdownContent(t *testing.T) {
	left := Snapshot{ConfigVersionHash: "a", Configs: map[string]ResolvedConfig{
		"prompt": {ConfigType: "prompt", ProfileKey: "prod", Content: "Be careful.\n"},
	}}
	right := Snapshot{ConfigVersionHash: "b", Configs: map[string]ResolvedConfig{
		"prompt": {ConfigType: "prompt", ProfileKey: "prod", Content: "Be bold.\n"},
	}}

	d := Compare(left, right)
	require.Len(t, d.Entries, 1)
	assert.Equal(t, "content", d.Entries[0].Field)
	assert.Equal(t, "Be careful.\n", d.Entries[0].Left)
}
