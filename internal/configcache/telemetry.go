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
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	staleServes metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/confighub/internal/configcache")

	var err error

	cacheHits, err = meter.Int64Counter(
		"confighub.cache.hits",
		metric.WithDescription("Number of cache lookups served without a database fetch"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.hits counter: %v", err)
	}

	cacheMisses, err = meter.Int64Counter(
		"confighub.cache.misses",
		metric.WithDescription("Number of cache lookups that required a database fetch"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.misses counter: %v", err)
	}

	staleServes, err = meter.Int64Counter(
		"confighub.cache.stale_serves",
		metric.WithDescription("Number of reads served from the stale grace window after a fetch failure"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.stale_serves counter: %v", err)
	}
}

func recordHit(ctx context.Context, tier string) {
	cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

func recordMiss(ctx context.Context, tier string) {
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

func recordStaleServe(ctx context.Context) {
	staleServes.Add(ctx, 1)
}
