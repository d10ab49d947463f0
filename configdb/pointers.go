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

const pointerColumns = `config_type, profile_key, active_hash, activated_at, activated_by, reason`

func scanPointer(row pgx.Row) (ActivePointer, error) {
	var p ActivePointer
	err := row.Scan(&p.ConfigType, &p.ProfileKey, &p.ActiveHash, &p.ActivatedAt, &p.ActivatedBy, &p.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return ActivePointer{}, ErrNotFound
	}
	return p, err
}

// GetActivePointer fetches the pointer for a key, ErrNotFound when unset.
func (q *Queries) GetActivePointer(ctx context.Context, configType, profileKey string) (ActivePointer, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+pointerColumns+`
		FROM active_pointers
		WHERE config_type = $1 AND profile_key = $2`,
		configType, profileKey)
	return scanPointer(row)
}

// getActivePointerForUpdate row-locks the pointer so activations on the same
// key serialize. Activations on different keys proceed in parallel.
func (q *Queries) getActivePointerForUpdate(ctx context.Context, configType, profileKey string) (ActivePointer, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+pointerColumns+`
		FROM active_pointers
		WHERE config_type = $1 AND profile_key = $2
		FOR UPDATE`,
		configType, profileKey)
	return scanPointer(row)
}

type upsertActivePointerParams struct {
	ConfigType  string
	ProfileKey  string
	ActiveHash  string
	ActivatedBy string
	Reason      string
}

func (q *Queries) upsertActivePointer(ctx context.Context, arg upsertActivePointerParams) (ActivePointer, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO active_pointers (config_type, profile_key, active_hash, activated_at, activated_by, reason)
		VALUES ($1, $2, $3, now(), $4, $5)
		ON CONFLICT (config_type, profile_key) DO UPDATE
		SET active_hash = EXCLUDED.active_hash,
		    activated_at = EXCLUDED.activated_at,
		    activated_by = EXCLUDED.activated_by,
		    reason = EXCLUDED.reason
		RETURNING `+pointerColumns,
		arg.ConfigType, arg.ProfileKey, arg.ActiveHash, arg.ActivatedBy, arg.Reason)
	return scanPointer(row)
}

// InvalidationChannel is the NOTIFY channel carrying "type|profile" payloads
// after every successful activation.
const InvalidationChannel = "confighub_invalidate"

// NotifyInvalidate publishes a pointer-change event for other processes
// listening on the invalidation channel. TTL expiry remains the correctness
// baseline; this only tightens propagation latency.
func (q *Queries) NotifyInvalidate(ctx context.Context, configType, profileKey string) error {
	_, err := q.db.Exec(ctx, `SELECT pg_notify($1, $2)`,
		InvalidationChannel, configType+"|"+profileKey)
	return err
}
