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

	"github.com/jackc/pgx/v5"
)

type InsertSnapshotParams struct {
	ConsumerID        string
	SchemaVersion     int32
	ConfigVersionHash string
	Resolved          []byte
	ExternalRefs      []byte
	ReferencedHashes  []string
}

// InsertSnapshot persists a snapshot once. A second capture for the same
// consumer is a no-op so the first record stays immutable; the returned bool
// reports whether this call created the row.
func (q *Queries) InsertSnapshot(ctx context.Context, arg InsertSnapshotParams) (bool, error) {
	externalRefs := arg.ExternalRefs
	if len(externalRefs) == 0 {
		externalRefs = []byte(`{}`)
	}
	tag, err := q.db.Exec(ctx, `
		INSERT INTO config_snapshots (consumer_id, schema_version, config_version_hash, resolved, external_refs, referenced_hashes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (consumer_id) DO NOTHING`,
		arg.ConsumerID, arg.SchemaVersion, arg.ConfigVersionHash, arg.Resolved, externalRefs, arg.ReferencedHashes)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetSnapshot fetches the snapshot for a consumer.
func (q *Queries) GetSnapshot(ctx context.Context, consumerID string) (ConfigSnapshot, error) {
	var s ConfigSnapshot
	err := q.db.QueryRow(ctx, `
		SELECT consumer_id, schema_version, captured_at, config_version_hash, resolved, external_refs, referenced_hashes
		FROM config_snapshots
		WHERE consumer_id = $1`, consumerID).
		Scan(&s.ConsumerID, &s.SchemaVersion, &s.CapturedAt, &s.ConfigVersionHash,
			&s.Resolved, &s.ExternalRefs, &s.ReferencedHashes)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConfigSnapshot{}, ErrNotFound
	}
	return s, err
}
