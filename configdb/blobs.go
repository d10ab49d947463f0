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

package configdb

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

type InsertBlobParams struct {
	ConfigType    string
	ProfileKey    string
	ContentHash   string
	SchemaVersion int32
	VersionLabel  string
	Content       string
	CreatedBy     string
}

// InsertBlob inserts an immutable blob row. A concurrent or prior write of
// identical canonical content hits the primary key and is a no-op; the
// returned bool reports whether a new row was created.
func (q *Queries) InsertBlob(ctx context.Context, arg InsertBlobParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO config_blobs (config_type, profile_key, content_hash, schema_version, version_label, content, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (config_type, profile_key, content_hash) DO NOTHING`,
		arg.ConfigType, arg.ProfileKey, arg.ContentHash, arg.SchemaVersion, arg.VersionLabel, arg.Content, arg.CreatedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const blobColumns = `config_type, profile_key, content_hash, schema_version, version_label, content, created_at, created_by`

func scanBlob(row pgx.Row) (ConfigBlob, error) {
	var b ConfigBlob
	err := row.Scan(&b.ConfigType, &b.ProfileKey, &b.ContentHash, &b.SchemaVersion,
		&b.VersionLabel, &b.Content, &b.CreatedAt, &b.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConfigBlob{}, ErrNotFound
	}
	return b, err
}

// GetBlob fetches one blob by its key-scoped content hash.
func (q *Queries) GetBlob(ctx context.Context, configType, profileKey, contentHash string) (ConfigBlob, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+blobColumns+`
		FROM config_blobs
		WHERE config_type = $1 AND profile_key = $2 AND content_hash = $3`,
		configType, profileKey, contentHash)
	return scanBlob(row)
}

type ListBlobHistoryParams struct {
	ConfigType string
	ProfileKey string
	Limit      int32
	Offset     int32
}

// ListBlobHistory returns blobs for a key, newest first.
func (q *Queries) ListBlobHistory(ctx context.Context, arg ListBlobHistoryParams) ([]ConfigBlob, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+blobColumns+`
		FROM config_blobs
		WHERE config_type = $1 AND profile_key = $2
		ORDER BY created_at DESC, content_hash
		LIMIT $3 OFFSET $4`,
		arg.ConfigType, arg.ProfileKey, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConfigBlob
	for rows.Next() {
		var b ConfigBlob
		if err := rows.Scan(&b.ConfigType, &b.ProfileKey, &b.ContentHash, &b.SchemaVersion,
			&b.VersionLabel, &b.Content, &b.CreatedAt, &b.CreatedBy); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BlobExists reports whether a hash exists in the blob history for a key.
func (q *Queries) BlobExists(ctx context.Context, configType, profileKey, contentHash string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM config_blobs
			WHERE config_type = $1 AND profile_key = $2 AND content_hash = $3
		)`, configType, profileKey, contentHash).Scan(&exists)
	return exists, err
}

type UnreferencedBlobKey struct {
	ConfigType  string
	ProfileKey  string
	ContentHash string
}

// ListUnreferencedBlobs finds blobs older than cutoff with no reference from
// any active pointer, usage record, or snapshot. Only these are GC eligible.
func (q *Queries) ListUnreferencedBlobs(ctx context.Context, cutoff time.Time, limit int32) ([]UnreferencedBlobKey, error) {
	rows, err := q.db.Query(ctx, `
		SELECT b.config_type, b.profile_key, b.content_hash
		FROM config_blobs b
		WHERE b.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM active_pointers p
			WHERE p.config_type = b.config_type AND p.profile_key = b.profile_key AND p.active_hash = b.content_hash)
		  AND NOT EXISTS (
			SELECT 1 FROM usage_records u
			WHERE u.config_type = b.config_type AND u.profile_key = b.profile_key AND u.content_hash = b.content_hash)
		  AND NOT EXISTS (
			SELECT 1 FROM config_snapshots s
			WHERE b.content_hash = ANY(s.referenced_hashes))
		ORDER BY b.created_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnreferencedBlobKey
	for rows.Next() {
		var k UnreferencedBlobKey
		if err := rows.Scan(&k.ConfigType, &k.ProfileKey, &k.ContentHash); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// deleteBlob removes one blob row. Callers must hold the reference checks in
// the same transaction; use Store.DeleteBlobIfUnreferenced.
func (q *Queries) deleteBlob(ctx context.Context, key UnreferencedBlobKey) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM config_blobs
		WHERE config_type = $1 AND profile_key = $2 AND content_hash = $3`,
		key.ConfigType, key.ProfileKey, key.ContentHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
