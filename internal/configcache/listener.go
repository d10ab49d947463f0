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

package configcache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/confighub/configdb"
)

const listenRetryInterval = 5 * time.Second

// Listen subscribes to the pointer invalidation channel and drops local
// entries as activations happen elsewhere. This only tightens propagation
// latency; pointer TTL expiry remains the correctness baseline, so the loop
// reconnects forever and losing notifications is tolerable.
func (c *Cache) Listen(ctx context.Context, pool *pgxpool.Pool) {
	for {
		if err := c.listenOnce(ctx, pool); err != nil && ctx.Err() == nil {
			slog.Warn("Invalidation listener disconnected, will retry",
				"channel", configdb.InvalidationChannel,
				"retryIn", listenRetryInterval.String(),
				"error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryInterval):
		}
	}
}

func (c *Cache) listenOnce(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+configdb.InvalidationChannel); err != nil {
		return err
	}
	slog.Info("Listening for pointer invalidations", "channel", configdb.InvalidationChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		configType, profileKey, ok := strings.Cut(n.Payload, "|")
		if !ok {
			slog.Warn("Ignoring malformed invalidation payload", "payload", n.Payload)
			continue
		}
		c.Invalidate(configType, profileKey)
		slog.Debug("Invalidated cached pointer from notification",
			"configType", configType, "profileKey", profileKey)
	}
}
