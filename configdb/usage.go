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
)

type InsertUsageRecordParams struct {
	ID                 string
	ConsumerID         string
	ConfigType         string
	ProfileKey         string
	ContentHash        string
	EffectiveOverrides []byte
}

// InsertUsageRecord appends one consumption record. Records are immutable.
func (q *Queries) InsertUsageRecord(ctx context.Context, arg InsertUsageRecordParams) error {
	overrides := arg.EffectiveOverrides
	if len(overrides) == 0 {
		overrides = []byte(`[]`)
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO usage_records (id, consumer_id, config_type, profile_key, content_hash, effective_overrides)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		arg.ID, arg.ConsumerID, arg.ConfigType, arg.ProfileKey, arg.ContentHash, overrides)
	return err
}

// ListUsageByConsumer returns a consumer's usage records, oldest first.
func (q *Queries) ListUsageByConsumer(ctx context.Context, consumerID string) ([]UsageRecord, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, consumer_id, config_type, profile_key, content_hash, effective_overrides, loaded_at
		FROM usage_records
		WHERE consumer_id = $1
		ORDER BY loaded_at, id`, consumerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var u UsageRecord
		if err := rows.Scan(&u.ID, &u.ConsumerID, &u.ConfigType, &u.ProfileKey,
			&u.ContentHash, &u.EffectiveOverrides, &u.LoadedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
