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

package blobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/confighub/configdb"
	"github.com/cardinalhq/confighub/internal/schema"
)

type fakeQuerier struct {
	blobs map[string]configdb.ConfigBlob // keyed by type/profile/hash
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{blobs: map[string]configdb.ConfigBlob{}}
}

func blobKey(configType, profileKey, contentHash string) string {
	return configType + "/" + profileKey + "/" + contentHash
}

func (f *fakeQuerier) InsertBlob(_ context.Context, arg configdb.InsertBlobParams) (bool, error) {
	key := blobKey(arg.ConfigType, arg.ProfileKey, arg.ContentHash)
	if _, ok := f.blobs[key]; ok {
		return false, nil
	}
	f.blobs[key] = configdb.ConfigBlob{
		ConfigType:    arg.ConfigType,
		ProfileKey:    arg.ProfileKey,
		ContentHash:   arg.ContentHash,
		SchemaVersion: arg.SchemaVersion,
		VersionLabel:  arg.VersionLabel,
		Content:       arg.Content,
		CreatedAt:     time.Now(),
		CreatedBy:     arg.CreatedBy,
	}
	return true, nil
}

func (f *fakeQuerier) GetBlob(_ context.Context, configType, profileKey, contentHash string) (configdb.ConfigBlob, error) {
	b, ok := f.blobs[blobKey(configType, profileKey, contentHash)]
	if !ok {
		return configdb.ConfigBlob{}, configdb.ErrNotFound
	}
	return b, nil
}

func (f *fakeQuerier) ListBlobHistory(_ context.Context, arg configdb.ListBlobHistoryParams) ([]configdb.ConfigBlob, error) {
	var out []configdb.ConfigBlob
	for _, b := range f.blobs {
		if b.ConfigType == arg.ConfigType && b.ProfileKey == arg.ProfileKey {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeQuerier) BlobExists(_ context.Context, configType, profileKey, contentHash string) (bool, error) {
	_, ok := f.blobs[blobKey(configType, profileKey, contentHash)]
	return ok, nil
}

func newTestService() (*Service, *fakeQuerier) {
	db := newFakeQuerier()
	return NewService(db, schema.NewRegistry()), db
}

func TestPut_DeduplicatesEquivalentContent(t *testing.T) {
	svc, db := newTestService()
	ctx := context.Background()

	r1, err := svc.Put(ctx, PutParams{
		ConfigType: schema.TypeSearch,
		ProfileKey: "prod",
		Content:    []byte(`{"provider":"brave","maxResults":6,"timeoutMillis":8000}`),
		Actor:      "alice",
	})
	require.NoError(t, err)
	assert.True(t, r1.Created)

	// Same document, different key order and whitespace.
	r2, err := svc.Put(ctx, PutParams{
		ConfigType: schema.TypeSearch,
		ProfileKey: "prod",
		Content:    []byte(`{ "timeoutMillis": 8000, "maxResults": 6, "provider": "brave" }`),
		Actor:      "bob",
	})
	require.NoError(t, err)
	assert.False(t, r2.Created)
	assert.Equal(t, r1.ContentHash, r2.ContentHash)
	assert.Len(t, db.blobs, 1)
}

func TestPut_RejectsInvalidContent(t *testing.T) {
	svc, db := newTestService()

	_, err := svc.Put(context.Background(), PutParams{
		ConfigType: schema.TypeSearch,
		ProfileKey: "prod",
		Content:    []byte(`{"provider":"unknown-engine","maxResults":6,"timeoutMillis":8000}`),
		Actor:      "alice",
	})
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, db.blobs, "invalid content must not be stored")
}

func TestPut_RejectsSecretFieldNames(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Put(context.Background(), PutParams{
		ConfigType: schema.TypeSearch,
		ProfileKey: "prod",
		Content:    []byte(`{"provider":"brave","maxResults":6,"timeoutMillis":8000,"apiKey":"sk-123"}`),
		Actor:      "alice",
	})
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "apiKey", verr.Fields[0].Field)
}

func TestPut_RejectsBadKeyNames(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Put(context.Background(), PutParams{
		ConfigType: "search",
		ProfileKey: "Prod/Main",
		Content:    []byte(`{"provider":"brave","maxResults":6,"timeoutMillis":8000}`),
	})
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "profileKey", verr.Fields[0].Field)
}

func TestPut_UnknownType(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Put(context.Background(), PutParams{
		ConfigType: "nonesuch",
		ProfileKey: "prod",
		Content:    []byte(`{}`),
	})
	assert.ErrorIs(t, err, schema.ErrUnknownConfigType)
}

func TestValidate_ReturnsHashWithoutWriting(t *testing.T) {
	svc, db := newTestService()
	ctx := context.Background()

	content := []byte(`{"provider":"brave","maxResults":6,"timeoutMillis":8000}`)
	hash, err := svc.Validate(ctx, schema.TypeSearch, "prod", content)
	require.NoError(t, err)
	assert.Len(t, hash, 64)
	assert.Empty(t, db.blobs)

	r, err := svc.Put(ctx, PutParams{ConfigType: schema.TypeSearch, ProfileKey: "prod", Content: content})
	require.NoError(t, err)
	assert.Equal(t, hash, r.ContentHash, "validate hash must match store hash")
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Get(context.Background(), schema.TypeSearch, "prod", "deadbeef")
	assert.ErrorIs(t, err, configdb.ErrNotFound)
}
